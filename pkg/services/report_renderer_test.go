package services

import (
	"bytes"
	"testing"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"
)

// buildTestReport エンジンを実際に回してレポートを作るテストヘルパー
func buildTestReport(t *testing.T) *models.ForecastRunReport {
	t.Helper()

	engine := NewForecastEngine()
	series := buildDailySeries(linearValues(20))
	forecast, err := engine.Forecast(series, models.EngineOptions{Horizon: 5})
	assert.NoError(t, err)

	evaluator := NewEvaluatorService()
	metrics, err := evaluator.Evaluate(series, forecast)
	assert.NoError(t, err)

	return &models.ForecastRunReport{
		ReportID:   "test-report-001",
		SourceName: "sales.csv",
		RunDate:    time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		DataPoints: series.Len(),
		DateRange:  "2024-01-01 〜 2024-01-20",
		Options:    engine.ApplyDefaults(models.EngineOptions{Horizon: 5}),
		Forecast:   forecast,
		Metrics:    metrics,
		Anomalies: []models.ResidualAnomaly{
			{
				Date:          "2024-01-10",
				ActualValue:   150,
				ExpectedValue: 109,
				Deviation:     41,
				ZScore:        3.2,
				AnomalyType:   "急増",
				Severity:      "高",
			},
		},
	}
}

func TestRenderXLSX(t *testing.T) {
	renderer := NewReportRendererService()
	report := buildTestReport(t)

	data, err := renderer.RenderXLSX(report)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)

	// 生成されたワークブックを開き直してシート構成を確認
	f, err := excelize.OpenReader(bytes.NewReader(data))
	assert.NoError(t, err)
	defer f.Close()

	sheets := f.GetSheetList()
	assert.Contains(t, sheets, "予測")
	assert.Contains(t, sheets, "成分分解")
	assert.Contains(t, sheets, "サマリー")

	// 予測シートのヘッダーと行数
	rows, err := f.GetRows("予測")
	assert.NoError(t, err)
	assert.Equal(t, []string{"日付", "予測値", "下限", "上限", "区分"}, rows[0])
	assert.Len(t, rows, report.Forecast.Len()+1)
}

func TestRenderXLSXWithoutMetrics(t *testing.T) {
	renderer := NewReportRendererService()
	report := buildTestReport(t)
	report.Metrics = nil
	report.Anomalies = nil

	// 指標や異常がなくてもエラーにならない
	data, err := renderer.RenderXLSX(report)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)
}
