package handlers

import (
	"net/http"

	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
)

// MonitoringHandler モニタリング関連の操作のハンドラー
type MonitoringHandler struct {
	Service *services.MonitoringService
}

// NewMonitoringHandler 新しいMonitoringHandlerを生成
func NewMonitoringHandler(service *services.MonitoringService) *MonitoringHandler {
	return &MonitoringHandler{
		Service: service,
	}
}

// GetLogs 集計されたログデータを返す
func (h *MonitoringHandler) GetLogs(c *gin.Context) {
	periodStr := c.DefaultQuery("period", "24h")
	var hours int

	switch periodStr {
	case "1h":
		hours = 1
	case "24h":
		hours = 24
	case "7d":
		hours = 24 * 7
	default:
		hours = 24
	}

	data := h.Service.GetDashboardData(hours)
	c.JSON(http.StatusOK, data)
}
