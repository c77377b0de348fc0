package models

import "time"

// TimeSeriesPoint 正規化済みの時系列1点。"ds" がタイムスタンプ、"y" が観測値。
type TimeSeriesPoint struct {
	DS time.Time `json:"ds"`
	Y  float64   `json:"y"`
}

// CanonicalSeries 正規化済みの時系列。ds昇順・重複なしを不変条件とする。
// DataNormalizerが一度だけ生成し、以降は変更しない。
type CanonicalSeries struct {
	Points []TimeSeriesPoint `json:"points"`
}

// Len データ点数を返す
func (s CanonicalSeries) Len() int {
	return len(s.Points)
}

// Values 観測値のみをスライスで返す
func (s CanonicalSeries) Values() []float64 {
	vals := make([]float64, len(s.Points))
	for i, p := range s.Points {
		vals[i] = p.Y
	}
	return vals
}

// ForecastRow 予測1行。lower ≤ yhat ≤ upper を保証する。
type ForecastRow struct {
	DS    time.Time `json:"ds"`
	Yhat  float64   `json:"yhat"`
	Lower float64   `json:"yhat_lower"`
	Upper float64   `json:"yhat_upper"`

	// 分解成分（レポート表示用）
	Trend    float64 `json:"trend"`
	Weekly   float64 `json:"weekly,omitempty"`
	Yearly   float64 `json:"yearly,omitempty"`
	Daily    float64 `json:"daily,omitempty"`
	InSample bool    `json:"in_sample"`
}

// Forecast 履歴区間＋将来ホライズンをカバーする予測行の列（ds昇順）
type Forecast struct {
	Rows []ForecastRow `json:"rows"`

	// 入力系列から推定した周期（将来行の刻み幅）
	Frequency time.Duration `json:"frequency_ns"`

	// 予測区間の信頼水準（例: 0.95）
	IntervalWidth float64 `json:"interval_width"`
}

// Len 予測行数を返す
func (f Forecast) Len() int {
	return len(f.Rows)
}

// MetricsReport 評価指標のレポート。
// MetricsはMSE/RMSE/MAE/MAPEをキーとするマップ。
type MetricsReport struct {
	Metrics map[string]float64 `json:"metrics"`

	// 結合できた行数（内部結合の結果）
	MatchedRows int `json:"matched_rows"`

	// MAPE計算から除外した実績ゼロ行数
	MAPEExcluded int `json:"mape_excluded"`

	// 実績が予測区間に収まった割合（0〜1）
	Coverage float64 `json:"coverage"`
}

// ResidualAnomaly 予測残差から検出した外れ値
type ResidualAnomaly struct {
	Date          string  `json:"date"`
	ActualValue   float64 `json:"actual_value"`
	ExpectedValue float64 `json:"expected_value"`
	Deviation     float64 `json:"deviation"`
	ZScore        float64 `json:"z_score"`
	AnomalyType   string  `json:"anomaly_type"` // "急増" or "急減"
	Severity      string  `json:"severity"`     // "高", "中", "低"
}

// EngineOptions ForecastEngineの設定項目
type EngineOptions struct {
	Horizon               int     `json:"horizon"`
	YearlySeasonality     bool    `json:"yearly_seasonality"`
	WeeklySeasonality     bool    `json:"weekly_seasonality"`
	DailySeasonality      bool    `json:"daily_seasonality"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale"`
	IntervalWidth         float64 `json:"interval_width"`
}

// ForecastRunReport パイプライン1実行分の結果レポート
type ForecastRunReport struct {
	ReportID   string            `json:"report_id"`
	SourceName string            `json:"source_name"` // 入力ファイル名など
	RunDate    time.Time         `json:"run_date"`
	DataPoints int               `json:"data_points"`
	DateRange  string            `json:"date_range"`
	Options    EngineOptions     `json:"options"`
	Forecast   Forecast          `json:"forecast"`
	Metrics    *MetricsReport    `json:"metrics,omitempty"`
	Anomalies  []ResidualAnomaly `json:"anomalies,omitempty"`
	AIInsights string            `json:"ai_insights,omitempty"`
	Summary    string            `json:"summary"`
}

// ChatRequest represents an incoming chat request
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	Context   string `json:"context,omitempty"`
	SessionID string `json:"session_id,omitempty"` // セッションIDで会話を紐付け
	UserID    string `json:"user_id,omitempty"`    // ユーザーIDで履歴を管理
}

// ChatHistoryEntry チャット履歴の1エントリー
type ChatHistoryEntry struct {
	ID        string    `json:"id"`         // 一意のID
	SessionID string    `json:"session_id"` // セッションID（会話のグルーピング）
	UserID    string    `json:"user_id"`    // ユーザーID
	Role      string    `json:"role"`       // "user" or "assistant"
	Message   string    `json:"message"`    // メッセージ内容
	Context   string    `json:"context"`    // 付随するコンテキスト
	Timestamp string    `json:"timestamp"`  // タイムスタンプ
	Tags      []string  `json:"tags"`       // タグ（検索用）
	Metadata  Metadata  `json:"metadata"`   // メタデータ
	CreatedAt time.Time `json:"created_at"`
}

// Metadata チャット履歴のメタデータ
type Metadata struct {
	Intent         string   `json:"intent,omitempty"`          // 意図（例: "予測実行", "レポート照会"）
	ReportID       string   `json:"report_id,omitempty"`       // 関連レポート
	DateRange      string   `json:"date_range,omitempty"`      // 関連期間
	TopicKeywords  []string `json:"topic_keywords,omitempty"`  // トピックキーワード
	RelevanceScore float64  `json:"relevance_score,omitempty"` // 関連性スコア（RAG検索時に設定）
}

// ContextSource チャット応答に使用したコンテキストのソース情報
type ContextSource struct {
	Type  string  `json:"type"` // "forecast_report", "chat_history", "user_context"
	Name  string  `json:"name"`
	Score float32 `json:"score"`
	Date  string  `json:"date,omitempty"`
}
