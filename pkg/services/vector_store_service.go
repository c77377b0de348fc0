package services

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Qdrantのコレクション名
const (
	collectionForecastReports = "forecast_reports"
	collectionChatHistory     = "chat_history"

	// text-embedding-3-smallの次元数
	embeddingVectorSize = uint64(1536)
)

// VectorStoreService Qdrantとのやり取りを管理するサービス。
// 予測レポートとチャット履歴をベクトル化して保存し、RAG検索に使う。
type VectorStoreService struct {
	pointsClient      qdrant.PointsClient
	collectionsClient qdrant.CollectionsClient
	openAIService     *OpenAIService
}

// NewVectorStoreService Qdrantに接続してVectorStoreServiceを初期化する。
// APIキーの有無でCloud接続(TLS+APIキー)とローカル接続(非セキュア)を切り替える。
// 接続確認に失敗した場合はエラーを返す（呼び出し側でベクトル検索なしの縮退運転が可能）。
func NewVectorStoreService(openAIService *OpenAIService, qdrantURL string, qdrantAPIKey string) (*VectorStoreService, error) {
	var dialOpts []grpc.DialOption

	if qdrantAPIKey != "" {
		log.Println("Qdrant Cloud (TLS) への接続を準備します...")
		creds := credentials.NewTLS(&tls.Config{})
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))

		// APIキー認証インターセプタ
		authInterceptor := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			ctx = metadata.AppendToOutgoingContext(ctx, "api-key", qdrantAPIKey)
			return invoker(ctx, method, req, reply, cc, opts...)
		}
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(authInterceptor))
	} else {
		log.Println("ローカルのQdrant (非TLS) への接続を準備します...")
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(qdrantURL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("QdrantへのgRPCクライアント作成に失敗しました: %w", err)
	}

	svc := &VectorStoreService{
		pointsClient:      qdrant.NewPointsClient(conn),
		collectionsClient: qdrant.NewCollectionsClient(conn),
		openAIService:     openAIService,
	}

	// サーバー起動待ちでリトライしながら疎通確認
	maxRetries := 5
	retryInterval := 2 * time.Second
	var listErr error
	for i := 0; i < maxRetries; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, listErr = svc.collectionsClient.List(ctx, &qdrant.ListCollectionsRequest{})
		cancel()
		if listErr == nil {
			log.Println("Qdrantサーバーの準備ができました。")
			break
		}
		log.Printf("Qdrantサーバーの準備確認に失敗しました (試行 %d/%d)。%v後に再試行します...", i+1, maxRetries, retryInterval)
		time.Sleep(retryInterval)
	}
	if listErr != nil {
		return nil, fmt.Errorf("Qdrantへの疎通確認に失敗しました（リトライ上限到達）: %w", listErr)
	}

	return svc, nil
}

// ensureCollection コレクションが存在することを確認し、なければ作成する
func (s *VectorStoreService) ensureCollection(ctx context.Context, collectionName string) error {
	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.collectionsClient.List(listCtx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		log.Printf("警告: コレクションリストの取得に失敗（続行します）: %v", err)
		return nil // 既存であればUpsert時に成功する
	}

	for _, collection := range res.GetCollections() {
		if collection.GetName() == collectionName {
			return nil
		}
	}

	log.Printf("コレクション '%s' を作成します...", collectionName)
	createCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = s.collectionsClient.Create(createCtx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     embeddingVectorSize,
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		log.Printf("警告: コレクション作成に失敗（続行します）: %v", err)
		return nil
	}
	log.Printf("コレクション '%s' を作成しました", collectionName)
	return nil
}

// buildPayload メタデータマップをqdrantのペイロードに変換する
func buildPayload(text string, metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for key, value := range metadata {
		switch v := value.(type) {
		case string:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		case int:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
		case int64:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: v}}
		case float64:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: v}}
		case bool:
			payload[key] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: v}}
		}
	}
	// 元のテキストもペイロードに含める
	payload["text"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: text}}
	return payload
}

// StoreDocument テキストをベクトル化して指定コレクションに保存する
func (s *VectorStoreService) StoreDocument(ctx context.Context, collectionName string, documentID string, text string, metadata map[string]interface{}) error {
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		return fmt.Errorf("コレクションの準備に失敗: %w", err)
	}

	vector, err := s.openAIService.CreateEmbedding(ctx, text)
	if err != nil {
		return fmt.Errorf("テキストのベクトル化に失敗: %w", err)
	}

	if documentID == "" {
		documentID = uuid.New().String()
	}

	points := []*qdrant.PointStruct{
		{
			Id: &qdrant.PointId{
				PointIdOptions: &qdrant.PointId_Uuid{Uuid: documentID},
			},
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{
						Data: vector,
					},
				},
			},
			Payload: buildPayload(text, metadata),
		},
	}

	waitUpsert := true
	_, err = s.pointsClient.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collectionName,
		Points:         points,
		Wait:           &waitUpsert,
	})
	if err != nil {
		return fmt.Errorf("Qdrantへのドキュメント保存に失敗: %w", err)
	}

	log.Printf("ドキュメント '%s' をコレクション '%s' に保存しました。", documentID, collectionName)
	return nil
}

// SearchWithFilter フィルタ条件付きで類似ベクトルを検索する
func (s *VectorStoreService) SearchWithFilter(ctx context.Context, collectionName string, queryText string, topK uint64, filter *qdrant.Filter) ([]*qdrant.ScoredPoint, error) {
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		return nil, fmt.Errorf("コレクションの確認に失敗: %w", err)
	}

	queryVector, err := s.openAIService.CreateEmbedding(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("クエリテキストのベクトル化に失敗: %w", err)
	}

	withPayload := true
	searchResult, err := s.pointsClient.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collectionName,
		Vector:         queryVector,
		Limit:          topK,
		Filter:         filter,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: withPayload}},
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrantでのフィルタ付き検索に失敗: %w", err)
	}

	log.Printf("コレクション '%s' でフィルタ付き検索: %d 件取得", collectionName, len(searchResult.GetResult()))
	return searchResult.GetResult(), nil
}

// ScrollAllPoints 指定したコレクションの全ポイントを取得する
func (s *VectorStoreService) ScrollAllPoints(ctx context.Context, collectionName string, limit uint32) ([]*qdrant.RetrievedPoint, error) {
	if err := s.ensureCollection(ctx, collectionName); err != nil {
		return nil, fmt.Errorf("コレクションの確認に失敗: %w", err)
	}

	withPayload := true
	scrollResult, err := s.pointsClient.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collectionName,
		Limit:          &limit,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: withPayload}},
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrantでの全件取得に失敗: %w", err)
	}

	return scrollResult.GetResult(), nil
}

// keywordCondition typeフィールド等の完全一致フィルタ条件を作る
func keywordCondition(key, keyword string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{
						Keyword: keyword,
					},
				},
			},
		},
	}
}

// StoreForecastReport 予測実行レポートのサマリーをベクトル化して保存する
func (s *VectorStoreService) StoreForecastReport(ctx context.Context, report *models.ForecastRunReport, summaryText string) error {
	metadata := map[string]interface{}{
		"type":        "forecast_report",
		"report_id":   report.ReportID,
		"source_name": report.SourceName,
		"run_date":    report.RunDate.Format(time.RFC3339),
		"date_range":  report.DateRange,
		"data_points": report.DataPoints,
		"horizon":     report.Options.Horizon,
	}
	return s.StoreDocument(ctx, collectionForecastReports, report.ReportID, summaryText, metadata)
}

// SearchForecastReports 過去の予測レポートを意味検索する
func (s *VectorStoreService) SearchForecastReports(ctx context.Context, query string, topK uint64) ([]*qdrant.ScoredPoint, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			keywordCondition("type", "forecast_report"),
		},
	}
	return s.SearchWithFilter(ctx, collectionForecastReports, query, topK, filter)
}

// DeleteForecastReport レポートIDに紐づくベクトルを削除する
func (s *VectorStoreService) DeleteForecastReport(ctx context.Context, reportID string) error {
	waitDelete := true
	_, err := s.pointsClient.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionForecastReports,
		Wait:           &waitDelete,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{
						keywordCondition("report_id", reportID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("Qdrantからのレポート削除に失敗: %w", err)
	}
	log.Printf("レポート '%s' のベクトルを削除しました。", reportID)
	return nil
}

// SaveChatHistory チャット履歴をQdrantに保存する
func (s *VectorStoreService) SaveChatHistory(ctx context.Context, entry models.ChatHistoryEntry) error {
	entryText := fmt.Sprintf(
		"Role: %s\nMessage: %s\nContext: %s\nTags: %v\nIntent: %s\nReportID: %s",
		entry.Role,
		entry.Message,
		entry.Context,
		entry.Tags,
		entry.Metadata.Intent,
		entry.Metadata.ReportID,
	)

	metadata := map[string]interface{}{
		"type":       "chat_history",
		"session_id": entry.SessionID,
		"user_id":    entry.UserID,
		"role":       entry.Role,
		"timestamp":  entry.Timestamp,
		"intent":     entry.Metadata.Intent,
		"report_id":  entry.Metadata.ReportID,
		"date_range": entry.Metadata.DateRange,
	}

	if len(entry.Tags) > 0 {
		tagsJSON, _ := json.Marshal(entry.Tags)
		metadata["tags"] = string(tagsJSON)
	}
	if len(entry.Metadata.TopicKeywords) > 0 {
		keywordsJSON, _ := json.Marshal(entry.Metadata.TopicKeywords)
		metadata["keywords"] = string(keywordsJSON)
	}

	return s.StoreDocument(ctx, collectionChatHistory, entry.ID, entryText, metadata)
}

// SearchChatHistory 過去の会話をベクトル検索で取得する（RAG機能）
func (s *VectorStoreService) SearchChatHistory(ctx context.Context, query string, sessionID string, userID string, topK uint64) ([]models.ChatHistoryEntry, error) {
	filterConditions := []*qdrant.Condition{
		keywordCondition("type", "chat_history"),
	}
	if sessionID != "" {
		filterConditions = append(filterConditions, keywordCondition("session_id", sessionID))
	}
	if userID != "" {
		filterConditions = append(filterConditions, keywordCondition("user_id", userID))
	}

	results, err := s.SearchWithFilter(ctx, collectionChatHistory, query, topK, &qdrant.Filter{Must: filterConditions})
	if err != nil {
		return nil, fmt.Errorf("チャット履歴の検索に失敗: %w", err)
	}

	var entries []models.ChatHistoryEntry
	for _, result := range results {
		payload := result.GetPayload()

		entry := models.ChatHistoryEntry{
			ID:        result.Id.GetUuid(),
			SessionID: getStringFromPayload(payload, "session_id"),
			UserID:    getStringFromPayload(payload, "user_id"),
			Role:      getStringFromPayload(payload, "role"),
			Message:   getStringFromPayload(payload, "text"),
			Timestamp: getStringFromPayload(payload, "timestamp"),
			Metadata: models.Metadata{
				Intent:         getStringFromPayload(payload, "intent"),
				ReportID:       getStringFromPayload(payload, "report_id"),
				DateRange:      getStringFromPayload(payload, "date_range"),
				RelevanceScore: float64(result.GetScore()),
			},
		}

		if tagsJSON := getStringFromPayload(payload, "tags"); tagsJSON != "" {
			var tags []string
			if err := json.Unmarshal([]byte(tagsJSON), &tags); err == nil {
				entry.Tags = tags
			}
		}
		if keywordsJSON := getStringFromPayload(payload, "keywords"); keywordsJSON != "" {
			var keywords []string
			if err := json.Unmarshal([]byte(keywordsJSON), &keywords); err == nil {
				entry.Metadata.TopicKeywords = keywords
			}
		}

		entries = append(entries, entry)
	}

	log.Printf("チャット履歴検索: %d 件の関連する会話を取得しました", len(entries))
	return entries, nil
}

// GetRecentChatHistory セッションの会話を時系列順に取得する。
// スコア検索ではなくセッションIDでフィルタしたスクロールで集め、
// timestamp昇順に並べた上で末尾limit件を返す。
func (s *VectorStoreService) GetRecentChatHistory(ctx context.Context, sessionID string, limit int) ([]models.ChatHistoryEntry, error) {
	if err := s.ensureCollection(ctx, collectionChatHistory); err != nil {
		return nil, fmt.Errorf("コレクションの確認に失敗: %w", err)
	}

	scrollLimit := uint32(1000)
	withPayload := true
	scrollResult, err := s.pointsClient.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: collectionChatHistory,
		Limit:          &scrollLimit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				keywordCondition("type", "chat_history"),
				keywordCondition("session_id", sessionID),
			},
		},
		WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: withPayload}},
	})
	if err != nil {
		return nil, fmt.Errorf("チャット履歴の取得に失敗: %w", err)
	}

	var entries []models.ChatHistoryEntry
	for _, point := range scrollResult.GetResult() {
		payload := point.GetPayload()
		entries = append(entries, models.ChatHistoryEntry{
			ID:        point.Id.GetUuid(),
			SessionID: getStringFromPayload(payload, "session_id"),
			UserID:    getStringFromPayload(payload, "user_id"),
			Role:      getStringFromPayload(payload, "role"),
			Message:   getStringFromPayload(payload, "text"),
			Timestamp: getStringFromPayload(payload, "timestamp"),
			Metadata: models.Metadata{
				Intent:   getStringFromPayload(payload, "intent"),
				ReportID: getStringFromPayload(payload, "report_id"),
			},
		})
	}

	return lastEntriesChronological(entries, limit), nil
}

// lastEntriesChronological timestamp昇順に整列し、末尾limit件を返す。
// RFC3339として解釈できないtimestampは文字列比較にフォールバックする。
func lastEntriesChronological(entries []models.ChatHistoryEntry, limit int) []models.ChatHistoryEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		ti, errI := time.Parse(time.RFC3339, entries[i].Timestamp)
		tj, errJ := time.Parse(time.RFC3339, entries[j].Timestamp)
		if errI != nil || errJ != nil {
			return entries[i].Timestamp < entries[j].Timestamp
		}
		return ti.Before(tj)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// getStringFromPayload ペイロードから文字列値を取得するヘルパー関数
func getStringFromPayload(payload map[string]*qdrant.Value, key string) string {
	if val, ok := payload[key]; ok {
		if strVal := val.GetStringValue(); strVal != "" {
			return strVal
		}
	}
	return ""
}
