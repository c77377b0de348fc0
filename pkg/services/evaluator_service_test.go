package services

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/stretchr/testify/assert"
)

// buildForecastRows 日次のタイムスタンプで予測行を組み立てるテストヘルパー
func buildForecastRows(yhats []float64, width float64) models.Forecast {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]models.ForecastRow, len(yhats))
	for i, yhat := range yhats {
		rows[i] = models.ForecastRow{
			DS:       base.AddDate(0, 0, i),
			Yhat:     yhat,
			Lower:    yhat - width,
			Upper:    yhat + width,
			InSample: true,
		}
	}
	return models.Forecast{Rows: rows, Frequency: 24 * time.Hour, IntervalWidth: 0.95}
}

func TestEvaluateBasicMetrics(t *testing.T) {
	evaluator := NewEvaluatorService()

	actual := buildDailySeries([]float64{10, 20, 30, 40})
	forecast := buildForecastRows([]float64{12, 18, 33, 40}, 5)

	report, err := evaluator.Evaluate(actual, forecast)
	assert.NoError(t, err)
	assert.Equal(t, 4, report.MatchedRows)

	// 誤差: -2, 2, -3, 0
	assert.InDelta(t, (4.0+4.0+9.0+0.0)/4.0, report.Metrics["MSE"], 1e-9)
	assert.InDelta(t, math.Sqrt((4.0+4.0+9.0+0.0)/4.0), report.Metrics["RMSE"], 1e-9)
	assert.InDelta(t, (2.0+2.0+3.0+0.0)/4.0, report.Metrics["MAE"], 1e-9)
	// MAPE: (2/10 + 2/20 + 3/30 + 0/40) / 4 * 100 = 10%
	assert.InDelta(t, 10.0, report.Metrics["MAPE"], 1e-9)
	assert.Equal(t, 0, report.MAPEExcluded)

	// 全点が区間幅5に収まっている
	assert.InDelta(t, 1.0, report.Coverage, 1e-9)
}

func TestEvaluateMAPEExcludesZeroActuals(t *testing.T) {
	evaluator := NewEvaluatorService()

	actual := buildDailySeries([]float64{0, 20, 0, 40})
	forecast := buildForecastRows([]float64{5, 22, 3, 44}, 100)

	report, err := evaluator.Evaluate(actual, forecast)
	assert.NoError(t, err)

	// 実績値0の2行はMAPEから除外して件数を報告する
	assert.Equal(t, 2, report.MAPEExcluded)
	// MAPE: (2/20 + 4/40) / 2 * 100 = 10%
	assert.InDelta(t, 10.0, report.Metrics["MAPE"], 1e-9)
	// MSE/MAEは全行で計算する
	assert.Equal(t, 4, report.MatchedRows)
}

func TestEvaluateMAPEAllZeroActuals(t *testing.T) {
	evaluator := NewEvaluatorService()

	actual := buildDailySeries([]float64{0, 0, 0})
	forecast := buildForecastRows([]float64{1, 2, 3}, 10)

	report, err := evaluator.Evaluate(actual, forecast)
	assert.NoError(t, err)

	// 全行が実績値0の場合MAPEは定義されない
	assert.True(t, math.IsNaN(report.Metrics["MAPE"]))
	assert.Equal(t, 3, report.MAPEExcluded)
}

func TestEvaluateNoOverlap(t *testing.T) {
	evaluator := NewEvaluatorService()

	// 予測と全く重ならない期間の実績
	base := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	actual := models.CanonicalSeries{Points: []models.TimeSeriesPoint{
		{DS: base, Y: 1},
		{DS: base.AddDate(0, 0, 1), Y: 2},
	}}
	forecast := buildForecastRows([]float64{10, 20}, 5)

	_, err := evaluator.Evaluate(actual, forecast)
	assert.True(t, errors.Is(err, ErrNoOverlap))
}

func TestEvaluateCoverage(t *testing.T) {
	evaluator := NewEvaluatorService()

	actual := buildDailySeries([]float64{10, 20, 30, 40})
	// 区間幅1: 誤差-2と2の行は区間外、-0.5と0の行は区間内
	forecast := buildForecastRows([]float64{12, 20.5, 32, 40}, 1)

	report, err := evaluator.Evaluate(actual, forecast)
	assert.NoError(t, err)
	assert.InDelta(t, 0.5, report.Coverage, 1e-9)
}

func TestFormatMetricsReport(t *testing.T) {
	evaluator := NewEvaluatorService()

	actual := buildDailySeries([]float64{10, 20})
	forecast := buildForecastRows([]float64{11, 19}, 5)
	report, err := evaluator.Evaluate(actual, forecast)
	assert.NoError(t, err)

	text := evaluator.FormatMetricsReport(report)
	assert.Contains(t, text, "MAE: 1.00")
	assert.Contains(t, text, "RMSE: 1.00")
	assert.Contains(t, text, "カバレッジ")

	// NaNのMAPEはN/A表記になる
	zeroReport, err := evaluator.Evaluate(buildDailySeries([]float64{0, 0}), buildForecastRows([]float64{1, 1}, 5))
	assert.NoError(t, err)
	zeroText := evaluator.FormatMetricsReport(zeroReport)
	assert.True(t, strings.Contains(zeroText, "MAPE: N/A"))
}
