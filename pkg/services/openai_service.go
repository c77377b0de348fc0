package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mirai-forecast-api/pkg/openai"
)

// OpenAIService ホスト型LLM APIのサービス層。
// 予測レポートの解説生成とRAGチャットのためのラッパーを提供する。
type OpenAIService struct {
	client *openai.Client
}

// NewOpenAIService 新しいOpenAIServiceを作成
func NewOpenAIService(endpoint, apiKey, apiVersion, chatDeployment, embeddingDeployment string) *OpenAIService {
	return &OpenAIService{
		client: openai.NewClient(endpoint, apiKey, apiVersion, chatDeployment, embeddingDeployment),
	}
}

// ChatMessage チャットメッセージ構造体（ハンドラー向けの互換型）
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateChatCompletion チャット補完を作成し、先頭の回答テキストを返す
func (oas *OpenAIService) CreateChatCompletion(messages []ChatMessage, maxTokens int, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	apiMessages := make([]openai.ChatMessage, len(messages))
	for i, msg := range messages {
		apiMessages[i] = openai.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	resp, err := oas.client.ChatCompletion(ctx, apiMessages, maxTokens, temperature, 0.95)
	if err != nil {
		return "", fmt.Errorf("LLM API 呼び出しに失敗: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("AIから有効な回答が得られませんでした")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateForecastInsights 予測実行レポートのサマリーからAI分析コメントを生成
func (oas *OpenAIService) GenerateForecastInsights(reportSummary string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return oas.client.GenerateInsights(ctx, reportSummary)
}

// ExplainForecast 予測結果と検出された要因の説明を生成
func (oas *OpenAIService) ExplainForecast(forecastSummary, factors string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return oas.client.ExplainForecast(ctx, forecastSummary, factors)
}

// ProcessChatWithContext チャットメッセージと分析コンテキストをAIで処理する
func (oas *OpenAIService) ProcessChatWithContext(chatMessage string, context string) (string, error) {
	systemPrompt := "あなたは、時系列予測の専門家アシスタントです。ユーザーから提供された予測レポートのコンテキスト（予測値、精度指標、異常検出結果）を統合的に分析し、予測に関する質問に答えてください。"

	userPrompt := fmt.Sprintf("以下の情報を考慮して、回答してください。\n\n## ユーザーからのメッセージ\n%s\n", chatMessage)
	if context != "" {
		userPrompt += fmt.Sprintf("\n## 事前分析コンテキスト\n%s\n", context)
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	answer, err := oas.CreateChatCompletion(messages, 2000, 0.7)
	if err != nil {
		return "", fmt.Errorf("AI処理中にエラーが発生しました: %w", err)
	}
	return answer, nil
}

// ProcessChatWithHistory 過去の会話履歴を活用してより良い回答を生成する
func (oas *OpenAIService) ProcessChatWithHistory(chatMessage string, context string, relevantHistory []string) (string, error) {
	systemPrompt := "あなたは、時系列予測の専門家アシスタントです。過去の会話履歴から学習し、ユーザーの質問により的確に答えることができます。提供された予測レポートのコンテキストと過去の会話履歴を統合的に分析して回答してください。"

	userPrompt := fmt.Sprintf("以下の情報を考慮して、回答してください。\n\n## ユーザーからのメッセージ\n%s\n", chatMessage)

	if len(relevantHistory) > 0 {
		userPrompt += "\n## 関連する過去の会話\n"
		for i, history := range relevantHistory {
			userPrompt += fmt.Sprintf("%d. %s\n", i+1, history)
		}
	}

	if context != "" {
		userPrompt += fmt.Sprintf("\n## 現在の分析コンテキスト\n%s\n", context)
	}

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	answer, err := oas.CreateChatCompletion(messages, 2000, 0.7)
	if err != nil {
		return "", fmt.Errorf("AI処理中にエラーが発生しました: %w", err)
	}
	return answer, nil
}

// CreateEmbedding テキストのベクトル表現を生成する
func (oas *OpenAIService) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return oas.client.CreateEmbedding(ctx, text)
}

// extractedMetadata メタデータ抽出レスポンスのJSON形式
type extractedMetadata struct {
	Intent   string   `json:"intent"`
	Keywords []string `json:"keywords"`
}

// ExtractMetadataFromMessage メッセージから意図とキーワードを抽出する
func (oas *OpenAIService) ExtractMetadataFromMessage(message string) (intent string, keywords []string, err error) {
	systemPrompt := `あなたはメッセージ分析の専門家です。与えられたメッセージから以下の情報を抽出してください：
1. 意図（intent）: "予測実行", "精度分析", "異常分析", "質問", "その他" のいずれか
2. キーワード: メッセージから重要なキーワードを3-5個抽出

レスポンスは以下のJSON形式のみで返してください：
{"intent": "意図", "keywords": ["キーワード1", "キーワード2", ...]}`

	userPrompt := fmt.Sprintf("以下のメッセージを分析してください：\n\n%s", message)

	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	answer, err := oas.CreateChatCompletion(messages, 200, 0.3)
	if err != nil {
		return "", nil, fmt.Errorf("メタデータ抽出中にエラーが発生しました: %w", err)
	}

	// コードブロック等で囲まれていてもJSON部分だけ取り出す
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return "その他", nil, nil
	}

	var meta extractedMetadata
	if err := json.Unmarshal([]byte(answer[start:end+1]), &meta); err != nil {
		return "その他", nil, nil
	}
	return meta.Intent, meta.Keywords, nil
}
