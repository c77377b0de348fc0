package handlers

import (
	"errors"
	"log"
	"net/http"

	"mirai-forecast-api/pkg/models"
	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ForecastHandler 予測パイプラインのハンドラー
type ForecastHandler struct {
	pipeline *services.ForecastPipeline
}

// NewForecastHandler 新しいForecastHandlerを作成
func NewForecastHandler(pipeline *services.ForecastPipeline) *ForecastHandler {
	return &ForecastHandler{
		pipeline: pipeline,
	}
}

// ForecastOptionsRequest APIリクエストで受ける予測オプション。
// 季節性フラグはポインタにして「未指定」と「明示的にオフ」を区別する。
type ForecastOptionsRequest struct {
	Horizon               int     `json:"horizon"`
	YearlySeasonality     *bool   `json:"yearly_seasonality"`
	WeeklySeasonality     *bool   `json:"weekly_seasonality"`
	DailySeasonality      *bool   `json:"daily_seasonality"`
	ChangepointPriorScale float64 `json:"changepoint_prior_scale"`
	SeasonalityPriorScale float64 `json:"seasonality_prior_scale"`
	IntervalWidth         float64 `json:"interval_width"`
}

// RunForecastRequest JSONでの予測実行リクエスト
type RunForecastRequest struct {
	SourceName string                  `json:"source_name"`
	Data       []services.SeriesRecord `json:"data" binding:"required"`
	Options    ForecastOptionsRequest  `json:"options"`
}

// resolveOptions リクエストのオプションをエンジンの設定に解決する。
// 未指定の季節性はデータの期間と粒度から自動判定する。
func (fh *ForecastHandler) resolveOptions(series models.CanonicalSeries, req ForecastOptionsRequest) models.EngineOptions {
	engine := fh.pipeline.Engine()
	freq := engine.InferFrequency(series)
	autoYearly, autoWeekly, autoDaily := engine.AutoSeasonality(series, freq)

	opts := models.EngineOptions{
		Horizon:               req.Horizon,
		YearlySeasonality:     autoYearly,
		WeeklySeasonality:     autoWeekly,
		DailySeasonality:      autoDaily,
		ChangepointPriorScale: req.ChangepointPriorScale,
		SeasonalityPriorScale: req.SeasonalityPriorScale,
		IntervalWidth:         req.IntervalWidth,
	}
	if req.YearlySeasonality != nil {
		opts.YearlySeasonality = *req.YearlySeasonality
	}
	if req.WeeklySeasonality != nil {
		opts.WeeklySeasonality = *req.WeeklySeasonality
	}
	if req.DailySeasonality != nil {
		opts.DailySeasonality = *req.DailySeasonality
	}
	return engine.ApplyDefaults(opts)
}

// respondPipelineError パイプラインのエラーをHTTPステータスに変換して返す
func respondPipelineError(c *gin.Context, err error) {
	var schemaErr *services.SchemaError
	var fitErr *services.FitError

	switch {
	case errors.As(err, &schemaErr):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": schemaErr.Error()})
	case errors.Is(err, services.ErrInsufficientData):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
	case errors.As(err, &fitErr):
		log.Printf("❌ モデル学習エラー: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": fitErr.Error()})
	default:
		log.Printf("❌ 予測パイプラインエラー: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "予測の実行中にエラーが発生しました"})
	}
}

// RunForecast JSONの時系列データに対して予測パイプラインを実行する
func (fh *ForecastHandler) RunForecast(c *gin.Context) {
	var req RunForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "リクエストの形式が正しくありません: " + err.Error()})
		return
	}

	series, err := fh.pipeline.Normalizer().NormalizeRecords(req.Data)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	sourceName := req.SourceName
	if sourceName == "" {
		sourceName = "APIリクエスト"
	}

	report, err := fh.pipeline.Run(c.Request.Context(), sourceName, series, fh.resolveOptions(series, req.Options))
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}

// UploadAndForecast アップロードされたCSV/Excelファイルに対して予測を実行する
func (fh *ForecastHandler) UploadAndForecast(c *gin.Context) {
	c.Request.ParseMultipartForm(10 << 20) // 10MB limit

	file, fileHeader, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ファイルの取得に失敗しました。"})
		return
	}
	defer file.Close()

	rows, err := fh.pipeline.Normalizer().ReadTabular(file, fileHeader.Filename)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	series, err := fh.pipeline.Normalizer().Normalize(rows)
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	// オプションはmultipartのoptionsフィールド（JSON文字列）で受ける
	var optsReq ForecastOptionsRequest
	if optsJSON := c.Request.FormValue("options"); optsJSON != "" {
		if err := bindOptionsJSON(optsJSON, &optsReq); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "オプションの形式が正しくありません: " + err.Error()})
			return
		}
	}

	report, err := fh.pipeline.Run(c.Request.Context(), fileHeader.Filename, series, fh.resolveOptions(series, optsReq))
	if err != nil {
		respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}

// GetSettings 予測エンジンの既定オプションを返す
func (fh *ForecastHandler) GetSettings(c *gin.Context) {
	defaults := fh.pipeline.Engine().ApplyDefaults(models.EngineOptions{})
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"defaults": defaults,
		"intervals_supported": []float64{0.90, 0.95, 0.99},
	})
}
