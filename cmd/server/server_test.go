package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	config "mirai-forecast-api/configs"
	"mirai-forecast-api/pkg/handlers"
	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestApplicationSetup(t *testing.T) {
	cfg := config.LoadConfig()
	assert.NotNil(t, cfg, "Config should not be nil")

	// サービスの初期化テスト（外部接続なしで構築できるもの）
	openAIService := services.NewOpenAIService(
		cfg.OpenAIEndpoint,
		cfg.OpenAIAPIKey,
		cfg.OpenAIAPIVersion,
		cfg.OpenAIChatDeployment,
		cfg.OpenAIEmbeddingDeployment,
	)
	assert.NotNil(t, openAIService, "OpenAIService should not be nil")

	pipeline := services.NewForecastPipeline(
		services.NewNormalizerService(),
		services.NewForecastEngine(),
		services.NewEvaluatorService(),
		services.NewAnomalyDetectorService(),
		services.NewReportRendererService(),
		openAIService,
		nil,
		services.NewMonitoringService(),
	)
	assert.NotNil(t, pipeline, "ForecastPipeline should not be nil")

	// ハンドラーの初期化テスト
	assert.NotNil(t, handlers.NewForecastHandler(pipeline))
	assert.NotNil(t, handlers.NewReportHandler(pipeline))
	assert.NotNil(t, handlers.NewChatHandler(openAIService, nil, pipeline))
}

func TestRouterSetup(t *testing.T) {
	r := gin.New()
	r.GET("/health", handlers.HealthCheck)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mirai-forecast-api")
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()

	apiKey := "secret-key"
	auth := func(c *gin.Context) {
		if c.GetHeader("X-API-KEY") != apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
	r.GET("/api/v1/protected", auth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// キーなしは401
	req, _ := http.NewRequest("GET", "/api/v1/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正しいキーは200
	req, _ = http.NewRequest("GET", "/api/v1/protected", nil)
	req.Header.Set("X-API-KEY", apiKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
