package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/google/uuid"
)

// ForecastPipeline 正規化→学習→評価→異常検出→レポート化を
// 一連で実行するオーケストレーター。実行結果はメモリ上に保持し、
// AI分析とベクトル保存は応答をブロックしないよう非同期で行う。
type ForecastPipeline struct {
	normalizer      *NormalizerService
	engine          *ForecastEngine
	evaluator       *EvaluatorService
	anomalyDetector *AnomalyDetectorService
	renderer        *ReportRendererService
	openAIService   *OpenAIService      // nil の場合はAI分析をスキップ
	vectorStore     *VectorStoreService // nil の場合はベクトル保存をスキップ
	monitoring      *MonitoringService

	reports map[string]*models.ForecastRunReport
	mu      sync.RWMutex
}

// NewForecastPipeline 新しいForecastPipelineを作成
func NewForecastPipeline(
	normalizer *NormalizerService,
	engine *ForecastEngine,
	evaluator *EvaluatorService,
	anomalyDetector *AnomalyDetectorService,
	renderer *ReportRendererService,
	openAIService *OpenAIService,
	vectorStore *VectorStoreService,
	monitoring *MonitoringService,
) *ForecastPipeline {
	return &ForecastPipeline{
		normalizer:      normalizer,
		engine:          engine,
		evaluator:       evaluator,
		anomalyDetector: anomalyDetector,
		renderer:        renderer,
		openAIService:   openAIService,
		vectorStore:     vectorStore,
		monitoring:      monitoring,
		reports:         make(map[string]*models.ForecastRunReport),
	}
}

// Normalizer 入力の正規化サービスを返す（ハンドラーのファイル読み込み用）
func (p *ForecastPipeline) Normalizer() *NormalizerService {
	return p.normalizer
}

// Engine 予測エンジンを返す（オプション解決用）
func (p *ForecastPipeline) Engine() *ForecastEngine {
	return p.engine
}

// Run 正規形の時系列に対してパイプライン全体を実行し、レポートを返す。
// 学習・評価・異常検出は同期で行い、AI分析コメントの生成と
// Qdrantへの保存はバックグラウンドで行う。
func (p *ForecastPipeline) Run(ctx context.Context, sourceName string, series models.CanonicalSeries, opts models.EngineOptions) (*models.ForecastRunReport, error) {
	opts = p.engine.ApplyDefaults(opts)

	forecast, err := p.engine.Forecast(series, opts)
	if err != nil {
		if p.monitoring != nil {
			p.monitoring.RecordForecastRun(false)
		}
		return nil, err
	}

	// 学習範囲の予測行に対する当てはまり精度
	metrics, err := p.evaluator.Evaluate(series, forecast)
	if err != nil {
		// タイムスタンプが一致しないことは正規化済み入力では起きないはずだが、
		// 指標なしでレポートは成立するため実行は継続する
		log.Printf("⚠️ 精度指標の計算をスキップしました: %v", err)
		metrics = nil
	}

	anomalies := p.anomalyDetector.DetectAnomalies(series, forecast)

	report := &models.ForecastRunReport{
		ReportID:   uuid.New().String(),
		SourceName: sourceName,
		RunDate:    time.Now(),
		DataPoints: series.Len(),
		DateRange: fmt.Sprintf("%s 〜 %s",
			series.Points[0].DS.Format("2006-01-02"),
			series.Points[series.Len()-1].DS.Format("2006-01-02")),
		Options:   opts,
		Forecast:  forecast,
		Metrics:   metrics,
		Anomalies: anomalies,
	}
	report.Summary = p.buildSummary(report)

	p.mu.Lock()
	p.reports[report.ReportID] = report
	p.mu.Unlock()

	if p.monitoring != nil {
		p.monitoring.RecordForecastRun(true)
	}

	// 非同期のAI分析が書き込むのは保存されている実体の方。
	// goroutineを起動する前にコピーを取り、競合を避ける。
	result := *report

	// AI分析とベクトル保存は応答をブロックしない
	go p.enrichReportAsync(report.ReportID, report.Summary)

	log.Printf("✅ 予測パイプライン完了: レポート %s（データ%d点、予測%d期間）",
		result.ReportID, result.DataPoints, opts.Horizon)

	return &result, nil
}

// enrichReportAsync AI分析コメントの生成とQdrantへの保存を非同期で行う
func (p *ForecastPipeline) enrichReportAsync(reportID string, summary string) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if p.openAIService != nil {
		insights, err := p.openAIService.GenerateForecastInsights(summary)
		if err != nil {
			log.Printf("⚠️ AI分析コメントの生成に失敗しました（レポート %s）: %v", reportID, err)
		} else {
			p.mu.Lock()
			if report, ok := p.reports[reportID]; ok {
				report.AIInsights = insights
			}
			p.mu.Unlock()
			log.Printf("💡 AI分析コメントを生成しました（レポート %s）", reportID)
		}
	}

	if p.vectorStore != nil {
		p.mu.RLock()
		report, ok := p.reports[reportID]
		p.mu.RUnlock()
		if ok {
			if err := p.vectorStore.StoreForecastReport(ctx, report, summary); err != nil {
				log.Printf("⚠️ レポートのベクトル保存に失敗しました（レポート %s）: %v", reportID, err)
			}
		}
	}
}

// buildSummary レポートの要約テキストを組み立てる（AIプロンプトと検索文書を兼ねる）
func (p *ForecastPipeline) buildSummary(report *models.ForecastRunReport) string {
	summary := fmt.Sprintf(
		"データソース: %s\n対象期間: %s（%d点）\n予測期間: %d\n予測区間: %.0f%%\n",
		report.SourceName,
		report.DateRange,
		report.DataPoints,
		report.Options.Horizon,
		report.Options.IntervalWidth*100,
	)

	if report.Metrics != nil {
		summary += "\n## 精度指標\n" + p.evaluator.FormatMetricsReport(report.Metrics)
	}

	if len(report.Anomalies) > 0 {
		summary += fmt.Sprintf("\n## 異常検出: %d件\n", len(report.Anomalies))
		for _, a := range report.Anomalies {
			summary += fmt.Sprintf("- %s: %s（深刻度%s、実績%.2f、期待%.2f）\n",
				a.Date, a.AnomalyType, a.Severity, a.ActualValue, a.ExpectedValue)
		}
	}

	// 予測期間の先頭数行を例示として付ける
	count := 0
	summary += "\n## 予測値（先頭5件）\n"
	for _, row := range report.Forecast.Rows {
		if row.InSample {
			continue
		}
		summary += fmt.Sprintf("- %s: %.2f（%.2f 〜 %.2f）\n",
			row.DS.Format("2006-01-02"), row.Yhat, row.Lower, row.Upper)
		count++
		if count >= 5 {
			break
		}
	}

	return summary
}

// ListReports 保存されているレポートを実行日時の降順で返す。
// 非同期のAI分析が書き込み中でも安全に参照できるようコピーを返す。
func (p *ForecastPipeline) ListReports() []*models.ForecastRunReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	reports := make([]*models.ForecastRunReport, 0, len(p.reports))
	for _, report := range p.reports {
		copied := *report
		reports = append(reports, &copied)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].RunDate.After(reports[j].RunDate)
	})
	return reports
}

// GetReport レポートIDで取得する（存在しない場合はnil）
func (p *ForecastPipeline) GetReport(reportID string) *models.ForecastRunReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	report, ok := p.reports[reportID]
	if !ok {
		return nil
	}
	copied := *report
	return &copied
}

// DeleteReport レポートを削除する。Qdrant側のベクトルも合わせて消す。
func (p *ForecastPipeline) DeleteReport(ctx context.Context, reportID string) bool {
	p.mu.Lock()
	_, ok := p.reports[reportID]
	if ok {
		delete(p.reports, reportID)
	}
	p.mu.Unlock()

	if ok && p.vectorStore != nil {
		if err := p.vectorStore.DeleteForecastReport(ctx, reportID); err != nil {
			log.Printf("⚠️ ベクトルストアからのレポート削除に失敗しました: %v", err)
		}
	}
	return ok
}

// RenderReportArtifact レポートをxlsxのバイト列に変換する
func (p *ForecastPipeline) RenderReportArtifact(reportID string) ([]byte, error) {
	report := p.GetReport(reportID)
	if report == nil {
		return nil, fmt.Errorf("レポート '%s' が見つかりません", reportID)
	}
	return p.renderer.RenderXLSX(report)
}
