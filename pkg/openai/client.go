package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client はホスト型推論エンドポイント（OpenAI互換REST API）へのリクエストを管理します。
// エンドポイントには実サービスのURL、またはリクエストを転送するプロキシのURLを設定できます。
type Client struct {
	endpoint            string
	apiKey              string
	apiVersion          string
	chatDeployment      string
	embeddingDeployment string
	httpClient          *http.Client
}

// NewClient は新しい推論エンドポイントクライアントを作成します。
func NewClient(endpoint, apiKey, apiVersion, chatDeployment, embeddingDeployment string) *Client {
	return &Client{
		endpoint:            endpoint,
		apiKey:              apiKey,
		apiVersion:          apiVersion,
		chatDeployment:      chatDeployment,
		embeddingDeployment: embeddingDeployment,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// --- データ構造定義 ---

// ChatMessage チャットメッセージ
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest チャット補完リクエスト
type ChatCompletionRequest struct {
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// ChatCompletionResponse チャット補完レスポンス
type ChatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		FinishReason string `json:"finish_reason"`
	}
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}
}

// EmbeddingRequest Embedding APIリクエスト
type EmbeddingRequest struct {
	Input string `json:"input"`
}

// EmbeddingResponse Embedding APIレスポンス
type EmbeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}
}

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Type    string `json:"type"`
	}
}

// --- メソッド定義 ---

// ChatCompletion チャット補完を実行
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage, maxTokens int, temperature float32, topP float32) (*ChatCompletionResponse, error) {
	// リクエストURLをエンドポイントとデプロイ名から組み立てます。
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(c.endpoint, "/"), c.chatDeployment, c.apiVersion)

	request := ChatCompletionRequest{
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	var response ChatCompletionResponse
	if err := c.doRequest(ctx, url, request, &response); err != nil {
		return nil, fmt.Errorf("推論エンドポイント呼び出しに失敗: %w", err)
	}
	return &response, nil
}

// CreateEmbedding テキストのベクトル表現を生成
func (c *Client) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if c.embeddingDeployment == "" {
		return nil, fmt.Errorf("embedding deployment name が設定されていません")
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
		strings.TrimSuffix(c.endpoint, "/"), c.embeddingDeployment, c.apiVersion)

	request := EmbeddingRequest{
		Input: text,
	}

	var embeddingResp EmbeddingResponse
	if err := c.doRequest(ctx, url, request, &embeddingResp); err != nil {
		return nil, err
	}

	if len(embeddingResp.Data) == 0 || len(embeddingResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("APIから有効なEmbeddingが返されませんでした")
	}

	return embeddingResp.Data[0].Embedding, nil
}

// doRequest はHTTPリクエストの実行と基本的なレスポンス処理を行う共通メソッドです。
func (c *Client) doRequest(ctx context.Context, url string, requestData interface{}, responseData interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("API key が設定されていません")
	}

	requestBody, err := json.Marshal(requestData)
	if err != nil {
		return fmt.Errorf("リクエストのJSON化に失敗: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの実行に失敗: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
			return fmt.Errorf("推論エンドポイントエラー (status: %d): %s", resp.StatusCode, errorResp.Error.Message)
		}
		return fmt.Errorf("推論エンドポイントエラー (status: %d): %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, responseData); err != nil {
		return fmt.Errorf("レスポンスのJSON解析に失敗: %w", err)
	}

	return nil
}

// ExplainForecast 予測結果の説明
func (c *Client) ExplainForecast(ctx context.Context, forecastSummary, factors string) (string, error) {
	messages := []ChatMessage{
		{
			Role:    "system",
			Content: "あなたは時系列需要予測の結果を説明する専門家です。予測結果とその影響要因を分析し、分かりやすく説明してください。",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("以下の予測結果について、なぜこのような予測になったのか詳しく説明してください：\n\n予測結果：\n%s\n\n影響要因：\n%s", forecastSummary, factors),
		},
	}

	response, err := c.ChatCompletion(ctx, messages, 1200, 0.7, 0.95)
	if err != nil {
		return "", err
	}

	if len(response.Choices) > 0 {
		return response.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("推論エンドポイントからの応答が空です")
}

// GenerateInsights 予測レポートからの洞察生成
func (c *Client) GenerateInsights(ctx context.Context, reportSummary string) (string, error) {
	messages := []ChatMessage{
		{
			Role:    "system",
			Content: "あなたは時系列予測と市場分析の専門家です。予測レポートを読み解き、実用的な洞察を提供してください。",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("以下の予測レポートを基に、需要計画に役立つ洞察を生成してください：\n\n%s", reportSummary),
		},
	}

	response, err := c.ChatCompletion(ctx, messages, 1500, 0.7, 0.95)
	if err != nil {
		return "", err
	}

	if len(response.Choices) > 0 {
		return response.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("推論エンドポイントからの応答が空です")
}
