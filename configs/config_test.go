package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	// テスト用の環境変数を設定
	testCases := map[string]string{
		"PORT":                   "9090",
		"ENVIRONMENT":            "test",
		"OPENAI_ENDPOINT":        "https://test.openai.azure.com/",
		"OPENAI_API_KEY":         "test-key",
		"OPENAI_CHAT_DEPLOYMENT": "test-deployment",
		"QDRANT_URL":             "qdrant.test:6334",
	}

	// 環境変数を設定
	for key, value := range testCases {
		os.Setenv(key, value)
	}

	// テスト後にクリーンアップ
	defer func() {
		for key := range testCases {
			os.Unsetenv(key)
		}
	}()

	// 設定を読み込み
	cfg := LoadConfig()

	// 検証
	if cfg.Port != "9090" {
		t.Errorf("Expected Port to be '9090', got '%s'", cfg.Port)
	}

	if cfg.Environment != "test" {
		t.Errorf("Expected Environment to be 'test', got '%s'", cfg.Environment)
	}

	if cfg.OpenAIEndpoint != "https://test.openai.azure.com/" {
		t.Errorf("Expected OpenAIEndpoint to be 'https://test.openai.azure.com/', got '%s'", cfg.OpenAIEndpoint)
	}

	if cfg.OpenAIAPIKey != "test-key" {
		t.Errorf("Expected OpenAIAPIKey to be 'test-key', got '%s'", cfg.OpenAIAPIKey)
	}

	if cfg.OpenAIChatDeployment != "test-deployment" {
		t.Errorf("Expected OpenAIChatDeployment to be 'test-deployment', got '%s'", cfg.OpenAIChatDeployment)
	}

	if cfg.QdrantURL != "qdrant.test:6334" {
		t.Errorf("Expected QdrantURL to be 'qdrant.test:6334', got '%s'", cfg.QdrantURL)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	// 環境変数をクリア
	vars := []string{
		"PORT", "ENVIRONMENT", "API_KEY", "OPENAI_ENDPOINT",
		"OPENAI_API_KEY", "OPENAI_API_VERSION", "OPENAI_CHAT_DEPLOYMENT",
		"OPENAI_EMBEDDING_DEPLOYMENT", "QDRANT_URL", "QDRANT_API_KEY",
	}

	for _, v := range vars {
		os.Unsetenv(v)
	}

	// 設定を読み込み
	cfg := LoadConfig()

	// デフォルト値の検証
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port to be '8080', got '%s'", cfg.Port)
	}

	if cfg.Environment != "development" {
		t.Errorf("Expected default Environment to be 'development', got '%s'", cfg.Environment)
	}

	if cfg.OpenAIChatDeployment != "gpt-4o-mini" {
		t.Errorf("Expected default OpenAIChatDeployment to be 'gpt-4o-mini', got '%s'", cfg.OpenAIChatDeployment)
	}

	if cfg.QdrantURL != "localhost:6334" {
		t.Errorf("Expected default QdrantURL to be 'localhost:6334', got '%s'", cfg.QdrantURL)
	}
}
