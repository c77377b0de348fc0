package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"mirai-forecast-api/pkg/models"
)

// EvaluatorService 実績値と予測値を突き合わせて精度指標を計算するサービス
type EvaluatorService struct{}

// NewEvaluatorService 新しいEvaluatorServiceを作成
func NewEvaluatorService() *EvaluatorService {
	return &EvaluatorService{}
}

// Evaluate 実績系列と予測をタイムスタンプで結合し、MSE/RMSE/MAE/MAPEと
// 区間カバレッジを計算する。共通するタイムスタンプが1つもない場合は
// ErrNoOverlapを返す。MAPEは実績値が0の行を除外して計算し、除外件数を
// MAPEExcludedとして報告する（全行が0ならMAPEはNaN）。
func (es *EvaluatorService) Evaluate(actual models.CanonicalSeries, forecast models.Forecast) (*models.MetricsReport, error) {
	// 予測行をタイムスタンプで引けるようにマップ化
	forecastMap := make(map[time.Time]models.ForecastRow, forecast.Len())
	for _, row := range forecast.Rows {
		forecastMap[row.DS] = row
	}

	var (
		sumSq, sumAbs, sumPct float64
		mapeCount, excluded   int
		covered, matched      int
	)
	for _, p := range actual.Points {
		row, ok := forecastMap[p.DS]
		if !ok {
			continue
		}
		matched++

		diff := p.Y - row.Yhat
		sumSq += diff * diff
		sumAbs += math.Abs(diff)

		if p.Y == 0 {
			excluded++
		} else {
			sumPct += math.Abs(diff / p.Y)
			mapeCount++
		}

		if p.Y >= row.Lower && p.Y <= row.Upper {
			covered++
		}
	}

	if matched == 0 {
		return nil, ErrNoOverlap
	}

	mse := sumSq / float64(matched)
	mape := math.NaN()
	if mapeCount > 0 {
		mape = sumPct / float64(mapeCount) * 100.0
	}

	return &models.MetricsReport{
		Metrics: map[string]float64{
			"MSE":  mse,
			"RMSE": math.Sqrt(mse),
			"MAE":  sumAbs / float64(matched),
			"MAPE": mape,
		},
		MatchedRows:  matched,
		MAPEExcluded: excluded,
		Coverage:     float64(covered) / float64(matched),
	}, nil
}

// FormatMetricsReport 指標を「名前: 値」形式の読みやすいテキストに整形する
func (es *EvaluatorService) FormatMetricsReport(report *models.MetricsReport) string {
	names := make([]string, 0, len(report.Metrics))
	for name := range report.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		value := report.Metrics[name]
		if math.IsNaN(value) {
			sb.WriteString(fmt.Sprintf("%s: N/A（実績値が全て0のため計算不可）\n", name))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %.2f\n", name, value))
		}
	}
	sb.WriteString(fmt.Sprintf("カバレッジ: %.1f%%（対象%d行）\n", report.Coverage*100, report.MatchedRows))
	if report.MAPEExcluded > 0 {
		sb.WriteString(fmt.Sprintf("※ MAPE計算から実績値0の%d行を除外\n", report.MAPEExcluded))
	}
	return sb.String()
}
