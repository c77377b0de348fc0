package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"mirai-forecast-api/pkg/models"
	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ChatHandler 予測レポートを文脈として使うAIチャットのハンドラー
type ChatHandler struct {
	openAIService *services.OpenAIService
	vectorStore   *services.VectorStoreService
	pipeline      *services.ForecastPipeline
}

// NewChatHandler 新しいChatHandlerを作成
func NewChatHandler(openAIService *services.OpenAIService, vectorStore *services.VectorStoreService, pipeline *services.ForecastPipeline) *ChatHandler {
	return &ChatHandler{
		openAIService: openAIService,
		vectorStore:   vectorStore,
		pipeline:      pipeline,
	}
}

// ChatInput RAGを使用したAIチャット。過去の予測レポートと会話履歴を
// ベクトル検索で集めてコンテキストに含める。
func (ch *ChatHandler) ChatInput(c *gin.Context) {
	if ch.openAIService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "AIサービスが利用できません。設定を確認してください。",
		})
		return
	}

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}

	// セッションIDが指定されていない場合は新規生成
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	ctx := c.Request.Context()

	// メタデータを抽出（意図やキーワード）
	intent, keywords, _ := ch.openAIService.ExtractMetadataFromMessage(req.Message)

	// ユーザーメッセージを履歴として非同期保存
	userEntry := models.ChatHistoryEntry{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      "user",
		Message:   req.Message,
		Context:   req.Context,
		Timestamp: time.Now().Format(time.RFC3339),
		Tags:      keywords,
		Metadata: models.Metadata{
			Intent:        intent,
			TopicKeywords: keywords,
		},
		CreatedAt: time.Now(),
	}
	ch.saveHistoryAsync(userEntry)

	var ragContext strings.Builder
	var relevantHistoryTexts []string
	var contextSources []models.ContextSource

	if req.Context != "" {
		// 明示的に提供されたコンテキストは最高スコアで維持する
		ragContext.WriteString(req.Context)
		contextSources = append(contextSources, models.ContextSource{
			Type:  "user_context",
			Name:  "リクエストコンテキスト",
			Score: 1.0,
		})
	}

	if ch.vectorStore == nil && ch.pipeline != nil {
		// ベクトルストアが無い場合はメモリ上の最新レポートで代替する
		if reports := ch.pipeline.ListReports(); len(reports) > 0 {
			latest := reports[0]
			ragContext.WriteString("\n\n## 直近の予測レポート:\n")
			ragContext.WriteString(latest.Summary)
			contextSources = append(contextSources, models.ContextSource{
				Type:  "forecast_report",
				Name:  latest.SourceName,
				Score: 0,
				Date:  latest.RunDate.Format(time.RFC3339),
			})
		}
	}

	if ch.vectorStore != nil {
		// 過去のチャット履歴から関連する会話を検索
		chatHistory, err := ch.vectorStore.SearchChatHistory(ctx, req.Message, "", req.UserID, 3)
		if err != nil {
			log.Printf("チャット履歴検索に失敗: %v", err)
		} else if len(chatHistory) > 0 {
			ragContext.WriteString("\n\n## 過去の関連する会話履歴:\n")
			for i, entry := range chatHistory {
				historyText := fmt.Sprintf("[%s] %s: %s", entry.Timestamp, entry.Role, entry.Message)
				relevantHistoryTexts = append(relevantHistoryTexts, historyText)
				ragContext.WriteString(fmt.Sprintf("%d. %s (関連度: %.2f)\n", i+1, historyText, entry.Metadata.RelevanceScore))
				contextSources = append(contextSources, models.ContextSource{
					Type:  "chat_history",
					Name:  fmt.Sprintf("会話 %s", entry.Timestamp),
					Score: float32(entry.Metadata.RelevanceScore),
					Date:  entry.Timestamp,
				})
			}
			log.Printf("📚 %d件の関連する過去の会話を取得しました", len(chatHistory))
		}

		// 過去の予測レポートを検索
		reportResults, err := ch.vectorStore.SearchForecastReports(ctx, req.Message, 2)
		if err != nil {
			log.Printf("予測レポート検索に失敗: %v", err)
		} else if len(reportResults) > 0 {
			ragContext.WriteString("\n\n## 関連する過去の予測レポート:\n")
			for _, point := range reportResults {
				payload := point.GetPayload()
				text := payloadString(payload, "text")
				if text == "" {
					continue
				}
				sourceName := payloadString(payload, "source_name")
				if sourceName == "" {
					sourceName = "予測レポート"
				}
				ragContext.WriteString(fmt.Sprintf("\n### %s (類似度: %.2f)\n%s\n", sourceName, point.GetScore(), text))
				contextSources = append(contextSources, models.ContextSource{
					Type:  "forecast_report",
					Name:  sourceName,
					Score: point.GetScore(),
					Date:  payloadString(payload, "run_date"),
				})
			}
		}
	}

	// AIに応答を生成させる（過去の履歴を活用）
	aiResponse, err := ch.openAIService.ProcessChatWithHistory(
		req.Message,
		ragContext.String(),
		relevantHistoryTexts,
	)
	if err != nil {
		log.Printf("AI処理エラー詳細: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "AI処理中にエラーが発生しました: " + err.Error()})
		return
	}

	// AIの応答も履歴として非同期保存
	assistantEntry := models.ChatHistoryEntry{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      "assistant",
		Message:   aiResponse,
		Context:   req.Context,
		Timestamp: time.Now().Format(time.RFC3339),
		Tags:      keywords,
		Metadata: models.Metadata{
			Intent:        intent,
			TopicKeywords: keywords,
		},
		CreatedAt: time.Now(),
	}
	ch.saveHistoryAsync(assistantEntry)

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"response":        aiResponse,
		"session_id":      req.SessionID,
		"intent":          intent,
		"keywords":        keywords,
		"context_sources": contextSources,
	})
}

// GetChatHistory セッションの会話履歴を取得する
func (ch *ChatHandler) GetChatHistory(c *gin.Context) {
	if ch.vectorStore == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   "ベクトルストアが利用できません。設定を確認してください。",
		})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "session_idが必要です"})
		return
	}

	entries, err := ch.vectorStore.GetRecentChatHistory(c.Request.Context(), sessionID, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "会話履歴の取得に失敗しました: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(entries),
		"history": entries,
	})
}

// saveHistoryAsync チャット履歴の保存を応答をブロックせずに行う
func (ch *ChatHandler) saveHistoryAsync(entry models.ChatHistoryEntry) {
	if ch.vectorStore == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ch.vectorStore.SaveChatHistory(ctx, entry); err != nil {
			log.Printf("チャット履歴の保存に失敗: %v", err)
		} else {
			log.Printf("✅ チャット履歴を保存: SessionID=%s Role=%s", entry.SessionID, entry.Role)
		}
	}()
}
