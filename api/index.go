package handler

import (
	"log"
	"net/http"
	"sync"

	config "mirai-forecast-api/configs"
	"mirai-forecast-api/pkg/handlers"
	"mirai-forecast-api/pkg/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var (
	app  *gin.Engine
	once sync.Once
)

// setupApp Ginアプリケーションを初期化する。
// サーバーレス環境では、リクエストごとに初期化が走らないようsync.Onceで一度だけ実行する。
func setupApp() *gin.Engine {
	once.Do(func() {
		log.Printf("🟢 [setupApp] Initializing Gin application")

		// 環境変数はホスティング側の設定から読み込まれるため、godotenvは呼ばない
		cfg := config.LoadConfig()

		r := gin.Default()

		monitoringService := services.NewMonitoringService()
		openAIService := services.NewOpenAIService(
			cfg.OpenAIEndpoint,
			cfg.OpenAIAPIKey,
			cfg.OpenAIAPIVersion,
			cfg.OpenAIChatDeployment,
			cfg.OpenAIEmbeddingDeployment,
		)
		vectorStoreService, err := services.NewVectorStoreService(openAIService, cfg.QdrantURL, cfg.QdrantAPIKey)
		if err != nil {
			log.Printf("⚠️ VectorStoreServiceの初期化に失敗しました（RAG機能は無効になります）: %v", err)
			vectorStoreService = nil
		}

		pipeline := services.NewForecastPipeline(
			services.NewNormalizerService(),
			services.NewForecastEngine(),
			services.NewEvaluatorService(),
			services.NewAnomalyDetectorService(),
			services.NewReportRendererService(),
			openAIService,
			vectorStoreService,
			monitoringService,
		)

		forecastHandler := handlers.NewForecastHandler(pipeline)
		reportHandler := handlers.NewReportHandler(pipeline)
		chatHandler := handlers.NewChatHandler(openAIService, vectorStoreService, pipeline)
		monitoringHandler := handlers.NewMonitoringHandler(monitoringService)

		r.Use(monitoringService.LoggingMiddleware())
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		r.Use(cors.New(corsConfig))

		authMiddleware := func(apiKey string) gin.HandlerFunc {
			return func(c *gin.Context) {
				if apiKey == "" || apiKey == "default_secret_key" {
					c.Next()
					return
				}
				providedKey := c.GetHeader("X-API-KEY")
				if providedKey != apiKey {
					c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
					return
				}
				c.Next()
			}
		}

		r.GET("/health", handlers.HealthCheck)

		v1 := r.Group("/api/v1")
		v1.Use(authMiddleware(cfg.APIKey))
		{
			forecast := v1.Group("/forecast")
			{
				forecast.POST("/run", forecastHandler.RunForecast)
				forecast.POST("/upload", forecastHandler.UploadAndForecast)
				forecast.GET("/settings", forecastHandler.GetSettings)
			}

			reports := v1.Group("/reports")
			{
				reports.GET("", reportHandler.ListReports)
				reports.GET("/:id", reportHandler.GetReport)
				reports.DELETE("/:id", reportHandler.DeleteReport)
				reports.GET("/:id/artifact", reportHandler.DownloadArtifact)
			}

			ai := v1.Group("/ai")
			{
				ai.POST("/chat", chatHandler.ChatInput)
				ai.GET("/chat-history", chatHandler.GetChatHistory)
			}

			monitoring := v1.Group("/monitoring")
			{
				monitoring.GET("/logs", monitoringHandler.GetLogs)
			}
		}

		app = r
	})
	return app
}

// Handler サーバーレスのエントリーポイント
func Handler(w http.ResponseWriter, r *http.Request) {
	setupApp().ServeHTTP(w, r)
}
