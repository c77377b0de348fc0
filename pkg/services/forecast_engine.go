package services

import (
	"math"
	"sort"
	"time"

	"mirai-forecast-api/pkg/models"
)

// ForecastEngine 加法モデル（トレンド＋季節性）による時系列予測エンジン。
// 変化点付き区分線形トレンドとフーリエ級数の季節性をリッジ回帰で同時推定する。
// 乱数を使わない閉形式の解なので、同じ入力に対して常に同じ出力を返す。
type ForecastEngine struct{}

// NewForecastEngine 新しいForecastEngineを作成
func NewForecastEngine() *ForecastEngine {
	return &ForecastEngine{}
}

// 季節性のフーリエ次数と周期（日単位）
const (
	yearlyPeriodDays = 365.25
	weeklyPeriodDays = 7.0
	dailyPeriodDays  = 1.0

	yearlyFourierOrder = 3
	weeklyFourierOrder = 3
	dailyFourierOrder  = 2

	// 変化点は履歴の先頭80%に均等配置する
	maxChangepoints      = 25
	changepointRangeFrac = 0.8

	// トレンド項（切片・傾き）にかけるごく弱い正則化
	trendPenalty = 1e-8
)

// ApplyDefaults 未設定（ゼロ値）の数値オプションを既定値で埋める
func (fe *ForecastEngine) ApplyDefaults(opts models.EngineOptions) models.EngineOptions {
	if opts.Horizon <= 0 {
		opts.Horizon = 30
	}
	if opts.ChangepointPriorScale <= 0 {
		opts.ChangepointPriorScale = 0.05
	}
	if opts.SeasonalityPriorScale <= 0 {
		opts.SeasonalityPriorScale = 10.0
	}
	if opts.IntervalWidth <= 0 {
		opts.IntervalWidth = 0.95
	}
	return opts
}

// AutoSeasonality データの期間と粒度から季節性の有効/無効を決める
func (fe *ForecastEngine) AutoSeasonality(series models.CanonicalSeries, freq time.Duration) (yearly, weekly, daily bool) {
	if series.Len() < 2 {
		return false, false, false
	}
	span := series.Points[series.Len()-1].DS.Sub(series.Points[0].DS)
	yearly = span >= 730*24*time.Hour
	weekly = span >= 14*24*time.Hour && freq < 7*24*time.Hour
	daily = span >= 48*time.Hour && freq < 24*time.Hour
	return yearly, weekly, daily
}

// InferFrequency 隣接タイムスタンプの間隔の中央値を観測周期として返す
func (fe *ForecastEngine) InferFrequency(series models.CanonicalSeries) time.Duration {
	if series.Len() < 2 {
		return 24 * time.Hour
	}
	gaps := make([]time.Duration, 0, series.Len()-1)
	for i := 1; i < series.Len(); i++ {
		gaps = append(gaps, series.Points[i].DS.Sub(series.Points[i-1].DS))
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// seasonalBlock 設計行列に組み込む季節性ブロック
type seasonalBlock struct {
	name   string
	period float64
	order  int
}

// Forecast 正規形の時系列を学習し、全履歴＋horizon分の予測行を返す。
// データ点が2点未満の場合はErrInsufficientData、
// 正規方程式が解けない場合はFitErrorを返す。
func (fe *ForecastEngine) Forecast(series models.CanonicalSeries, opts models.EngineOptions) (models.Forecast, error) {
	if series.Len() < 2 {
		return models.Forecast{}, ErrInsufficientData
	}
	opts = fe.ApplyDefaults(opts)

	n := series.Len()
	t0 := series.Points[0].DS
	tEnd := series.Points[n-1].DS
	totalSec := tEnd.Sub(t0).Seconds()
	if totalSec <= 0 {
		return models.Forecast{}, &FitError{Reason: "タイムスタンプの範囲が不正です（昇順・重複なしが前提）"}
	}

	// スケール済み時刻 t∈[0,1]（履歴範囲基準）
	scaledT := func(ts time.Time) float64 {
		return ts.Sub(t0).Seconds() / totalSec
	}
	// フーリエ項用の経過日数
	daysSince := func(ts time.Time) float64 {
		return ts.Sub(t0).Hours() / 24.0
	}

	// 変化点位置（スケール済み時刻）
	nCp := maxChangepoints
	if n-2 < nCp {
		nCp = n - 2
	}
	if nCp < 0 {
		nCp = 0
	}
	changepoints := make([]float64, nCp)
	for j := 0; j < nCp; j++ {
		changepoints[j] = changepointRangeFrac * float64(j+1) / float64(nCp+1)
	}

	// 有効な季節性ブロック
	var blocks []seasonalBlock
	if opts.YearlySeasonality {
		blocks = append(blocks, seasonalBlock{"yearly", yearlyPeriodDays, yearlyFourierOrder})
	}
	if opts.WeeklySeasonality {
		blocks = append(blocks, seasonalBlock{"weekly", weeklyPeriodDays, weeklyFourierOrder})
	}
	if opts.DailySeasonality {
		blocks = append(blocks, seasonalBlock{"daily", dailyPeriodDays, dailyFourierOrder})
	}

	// 1時点分の特徴量（列順: 切片, 傾き, 変化点…, 季節性ブロック…）
	buildFeatures := func(ts time.Time) []float64 {
		t := scaledT(ts)
		d := daysSince(ts)
		feats := []float64{1.0, t}
		for _, cp := range changepoints {
			feats = append(feats, math.Max(0, t-cp))
		}
		for _, b := range blocks {
			for k := 1; k <= b.order; k++ {
				arg := 2.0 * math.Pi * float64(k) * d / b.period
				feats = append(feats, math.Sin(arg), math.Cos(arg))
			}
		}
		return feats
	}

	nFeatures := 2 + nCp
	for _, b := range blocks {
		nFeatures += 2 * b.order
	}

	// 設計行列（列指向）とリッジ正則化係数を構築
	X := make([][]float64, nFeatures)
	for c := range X {
		X[c] = make([]float64, n)
	}
	y := make([]float64, n)
	for i, p := range series.Points {
		y[i] = p.Y
		for c, v := range buildFeatures(p.DS) {
			X[c][i] = v
		}
	}

	penalties := make([]float64, nFeatures)
	penalties[0] = trendPenalty
	penalties[1] = trendPenalty
	for j := 0; j < nCp; j++ {
		penalties[2+j] = 1.0 / opts.ChangepointPriorScale
	}
	col := 2 + nCp
	for _, b := range blocks {
		for k := 0; k < 2*b.order; k++ {
			penalties[col] = 1.0 / opts.SeasonalityPriorScale
			col++
		}
	}

	beta, err := solveRidge(y, X, penalties)
	if err != nil {
		return models.Forecast{}, &FitError{Reason: "正規方程式の求解に失敗しました", Err: err}
	}

	// 成分分解: トレンド＝切片＋傾き＋変化点、季節性はブロック毎に合算
	decompose := func(feats []float64) (trend float64, seasonal map[string]float64) {
		trend = 0
		for c := 0; c < 2+nCp; c++ {
			trend += beta[c] * feats[c]
		}
		seasonal = make(map[string]float64, len(blocks))
		c := 2 + nCp
		for _, b := range blocks {
			sum := 0.0
			for k := 0; k < 2*b.order; k++ {
				sum += beta[c] * feats[c]
				c++
			}
			seasonal[b.name] = sum
		}
		return trend, seasonal
	}

	// 学習範囲の残差標準偏差から予測区間を作る
	residuals := make([]float64, n)
	for i, p := range series.Points {
		feats := buildFeatures(p.DS)
		fitted := 0.0
		for c := range feats {
			fitted += beta[c] * feats[c]
		}
		residuals[i] = p.Y - fitted
	}
	sd := calculateStandardDeviation(residuals)
	z := zScoreForInterval(opts.IntervalWidth)

	freq := fe.InferFrequency(series)

	// 履歴＋将来のタイムスタンプを組み立てる
	timestamps := make([]time.Time, 0, n+opts.Horizon)
	for _, p := range series.Points {
		timestamps = append(timestamps, p.DS)
	}
	for i := 1; i <= opts.Horizon; i++ {
		timestamps = append(timestamps, tEnd.Add(time.Duration(i)*freq))
	}

	rows := make([]models.ForecastRow, 0, len(timestamps))
	for i, ts := range timestamps {
		feats := buildFeatures(ts)
		trend, seasonal := decompose(feats)
		// 成分の加算順を固定して出力の再現性を保つ
		yhat := trend + seasonal["yearly"] + seasonal["weekly"] + seasonal["daily"]
		rows = append(rows, models.ForecastRow{
			DS:       ts,
			Yhat:     yhat,
			Lower:    yhat - z*sd,
			Upper:    yhat + z*sd,
			Trend:    trend,
			Yearly:   seasonal["yearly"],
			Weekly:   seasonal["weekly"],
			Daily:    seasonal["daily"],
			InSample: i < n,
		})
	}

	return models.Forecast{
		Rows:          rows,
		Frequency:     freq,
		IntervalWidth: opts.IntervalWidth,
	}, nil
}
