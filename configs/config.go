package config

import (
	"os"
)

// Config holds the application configuration
type Config struct {
	Port                      string
	Environment               string
	APIKey                    string
	OpenAIEndpoint            string
	OpenAIAPIKey              string
	OpenAIAPIVersion          string
	OpenAIChatDeployment      string
	OpenAIEmbeddingDeployment string
	QdrantURL                 string
	QdrantAPIKey              string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Port:                      getEnv("PORT", "8080"),
		Environment:               getEnv("ENVIRONMENT", "development"),
		APIKey:                    getEnv("API_KEY", ""),
		OpenAIEndpoint:            getEnv("OPENAI_ENDPOINT", ""),
		OpenAIAPIKey:              getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIVersion:          getEnv("OPENAI_API_VERSION", "2023-12-01-preview"),
		OpenAIChatDeployment:      getEnv("OPENAI_CHAT_DEPLOYMENT", "gpt-4o-mini"),
		OpenAIEmbeddingDeployment: getEnv("OPENAI_EMBEDDING_DEPLOYMENT", "text-embedding-3-small"),
		QdrantURL:                 getEnv("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:              getEnv("QDRANT_API_KEY", ""),
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
