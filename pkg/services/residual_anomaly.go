package services

import (
	"math"

	"mirai-forecast-api/pkg/models"
)

// AnomalyDetectorService 学習範囲の残差から異常点を検出するサービス。
// モデルの期待値から大きく外れた実績値をZスコアで判定する。
type AnomalyDetectorService struct{}

// NewAnomalyDetectorService 新しいAnomalyDetectorServiceを作成
func NewAnomalyDetectorService() *AnomalyDetectorService {
	return &AnomalyDetectorService{}
}

// Zスコアの判定しきい値
const (
	anomalyThreshold      = 2.0
	severityHighThreshold = 3.0
	severityMidThreshold  = 2.5
)

// DetectAnomalies 実績系列と予測の学習範囲を突き合わせ、残差のZスコアが
// しきい値を超えた点を異常として返す。残差の分散がない場合は空を返す。
func (ads *AnomalyDetectorService) DetectAnomalies(actual models.CanonicalSeries, forecast models.Forecast) []models.ResidualAnomaly {
	// 学習範囲の予測値をタイムスタンプで引けるようにする
	inSample := make(map[int64]models.ForecastRow)
	for _, row := range forecast.Rows {
		if row.InSample {
			inSample[row.DS.Unix()] = row
		}
	}

	type residualPoint struct {
		point    models.TimeSeriesPoint
		expected float64
		residual float64
	}
	residualPoints := make([]residualPoint, 0, len(inSample))
	residuals := make([]float64, 0, len(inSample))
	for _, p := range actual.Points {
		row, ok := inSample[p.DS.Unix()]
		if !ok {
			continue
		}
		r := p.Y - row.Yhat
		residualPoints = append(residualPoints, residualPoint{point: p, expected: row.Yhat, residual: r})
		residuals = append(residuals, r)
	}

	if len(residuals) < 3 {
		return nil
	}

	mean := calculateMean(residuals)
	stdDev := calculateStandardDeviation(residuals)
	if stdDev == 0 {
		return nil
	}

	var anomalies []models.ResidualAnomaly
	for _, rp := range residualPoints {
		zScore := (rp.residual - mean) / stdDev
		if math.Abs(zScore) < anomalyThreshold {
			continue
		}

		anomalyType := "急増"
		if rp.residual < 0 {
			anomalyType = "急減"
		}

		anomalies = append(anomalies, models.ResidualAnomaly{
			Date:          rp.point.DS.Format("2006-01-02"),
			ActualValue:   rp.point.Y,
			ExpectedValue: rp.expected,
			Deviation:     rp.residual,
			ZScore:        zScore,
			AnomalyType:   anomalyType,
			Severity:      classifySeverity(math.Abs(zScore)),
		})
	}
	return anomalies
}

// classifySeverity Zスコアの絶対値から深刻度を判定する
func classifySeverity(absZ float64) string {
	switch {
	case absZ >= severityHighThreshold:
		return "高"
	case absZ >= severityMidThreshold:
		return "中"
	default:
		return "低"
	}
}
