package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 稼働確認エンドポイント
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "mirai-forecast-api",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
