package handlers

import (
	"fmt"
	"net/http"

	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// ReportHandler 予測レポートの照会・削除・出力のハンドラー
type ReportHandler struct {
	pipeline *services.ForecastPipeline
}

// NewReportHandler 新しいReportHandlerを作成
func NewReportHandler(pipeline *services.ForecastPipeline) *ReportHandler {
	return &ReportHandler{
		pipeline: pipeline,
	}
}

// reportSummaryView 一覧表示用の軽量ビュー（予測行全体は含めない）
type reportSummaryView struct {
	ReportID   string `json:"report_id"`
	SourceName string `json:"source_name"`
	RunDate    string `json:"run_date"`
	DataPoints int    `json:"data_points"`
	DateRange  string `json:"date_range"`
	Horizon    int    `json:"horizon"`
	Anomalies  int    `json:"anomalies"`
	HasAI      bool   `json:"has_ai_insights"`
}

// ListReports 保存されているレポートの一覧を返す
func (rh *ReportHandler) ListReports(c *gin.Context) {
	reports := rh.pipeline.ListReports()

	views := make([]reportSummaryView, 0, len(reports))
	for _, report := range reports {
		views = append(views, reportSummaryView{
			ReportID:   report.ReportID,
			SourceName: report.SourceName,
			RunDate:    report.RunDate.Format("2006-01-02 15:04:05"),
			DataPoints: report.DataPoints,
			DateRange:  report.DateRange,
			Horizon:    report.Options.Horizon,
			Anomalies:  len(report.Anomalies),
			HasAI:      report.AIInsights != "",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   len(views),
		"reports": views,
	})
}

// GetReport レポートIDで1件取得する
func (rh *ReportHandler) GetReport(c *gin.Context) {
	reportID := c.Param("id")
	report := rh.pipeline.GetReport(reportID)
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "指定されたレポートが見つかりません"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"report":  report,
	})
}

// DeleteReport レポートを削除する
func (rh *ReportHandler) DeleteReport(c *gin.Context) {
	reportID := c.Param("id")
	if !rh.pipeline.DeleteReport(c.Request.Context(), reportID) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "指定されたレポートが見つかりません"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "レポートを削除しました",
	})
}

// DownloadArtifact レポートをExcelワークブックとしてダウンロードする
func (rh *ReportHandler) DownloadArtifact(c *gin.Context) {
	reportID := c.Param("id")
	if rh.pipeline.GetReport(reportID) == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "指定されたレポートが見つかりません"})
		return
	}

	data, err := rh.pipeline.RenderReportArtifact(reportID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "レポートの出力に失敗しました: " + err.Error()})
		return
	}

	fileName := fmt.Sprintf("forecast_report_%s.xlsx", reportID)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}
