package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"mirai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// setupTestRouter 外部サービスなしでルーターを組み立てるテストヘルパー
func setupTestRouter() (*gin.Engine, *services.ForecastPipeline) {
	pipeline := services.NewForecastPipeline(
		services.NewNormalizerService(),
		services.NewForecastEngine(),
		services.NewEvaluatorService(),
		services.NewAnomalyDetectorService(),
		services.NewReportRendererService(),
		nil,
		nil,
		services.NewMonitoringService(),
	)

	forecastHandler := NewForecastHandler(pipeline)
	reportHandler := NewReportHandler(pipeline)
	chatHandler := NewChatHandler(nil, nil, pipeline)
	monitoringHandler := NewMonitoringHandler(services.NewMonitoringService())

	r := gin.New()
	r.GET("/health", HealthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/forecast/run", forecastHandler.RunForecast)
		v1.POST("/forecast/upload", forecastHandler.UploadAndForecast)
		v1.GET("/forecast/settings", forecastHandler.GetSettings)
		v1.GET("/reports", reportHandler.ListReports)
		v1.GET("/reports/:id", reportHandler.GetReport)
		v1.DELETE("/reports/:id", reportHandler.DeleteReport)
		v1.GET("/reports/:id/artifact", reportHandler.DownloadArtifact)
		v1.POST("/ai/chat", chatHandler.ChatInput)
		v1.GET("/monitoring/logs", monitoringHandler.GetLogs)
	}
	return r, pipeline
}

// runForecastBody 30点の日次線形データで予測実行リクエストを作る
func runForecastBody(t *testing.T) []byte {
	t.Helper()

	data := make([]map[string]interface{}, 30)
	for i := range data {
		data[i] = map[string]interface{}{
			"timestamp": fmt.Sprintf("2024-01-%02d", i+1),
			"value":     100.0 + float64(i),
		}
	}
	body, err := json.Marshal(map[string]interface{}{
		"source_name": "テストデータ",
		"data":        data,
		"options":     map[string]interface{}{"horizon": 5},
	})
	assert.NoError(t, err)
	return body
}

func TestHealthCheck(t *testing.T) {
	r, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestRunForecast(t *testing.T) {
	r, _ := setupTestRouter()

	req, _ := http.NewRequest("POST", "/api/v1/forecast/run", bytes.NewReader(runForecastBody(t)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Report  struct {
			ReportID   string `json:"report_id"`
			DataPoints int    `json:"data_points"`
			Forecast   struct {
				Rows []json.RawMessage `json:"rows"`
			} `json:"forecast"`
		} `json:"report"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.Report.ReportID)
	assert.Equal(t, 30, resp.Report.DataPoints)
	assert.Len(t, resp.Report.Forecast.Rows, 35)
}

func TestRunForecastBadRequest(t *testing.T) {
	r, _ := setupTestRouter()

	// dataフィールドなし
	req, _ := http.NewRequest("POST", "/api/v1/forecast/run", bytes.NewReader([]byte(`{"source_name":"x"}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunForecastSchemaError(t *testing.T) {
	r, _ := setupTestRouter()

	body := []byte(`{"data":[{"timestamp":"not-a-date","value":1},{"timestamp":"2024-01-02","value":2}]}`)
	req, _ := http.NewRequest("POST", "/api/v1/forecast/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "解釈できません")
}

func TestRunForecastInsufficientData(t *testing.T) {
	r, _ := setupTestRouter()

	body := []byte(`{"data":[{"timestamp":"2024-01-01","value":42}]}`)
	req, _ := http.NewRequest("POST", "/api/v1/forecast/run", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetSettings(t *testing.T) {
	r, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/forecast/settings", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success  bool `json:"success"`
		Defaults struct {
			Horizon       int     `json:"horizon"`
			IntervalWidth float64 `json:"interval_width"`
		} `json:"defaults"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 30, resp.Defaults.Horizon)
	assert.Equal(t, 0.95, resp.Defaults.IntervalWidth)
}

func TestReportLifecycle(t *testing.T) {
	r, _ := setupTestRouter()

	// 予測を実行してレポートを作る
	req, _ := http.NewRequest("POST", "/api/v1/forecast/run", bytes.NewReader(runForecastBody(t)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var runResp struct {
		Report struct {
			ReportID string `json:"report_id"`
		} `json:"report"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &runResp))
	reportID := runResp.Report.ReportID

	// 一覧に含まれる
	req, _ = http.NewRequest("GET", "/api/v1/reports", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), reportID)

	// 1件取得
	req, _ = http.NewRequest("GET", "/api/v1/reports/"+reportID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Excel出力
	req, _ = http.NewRequest("GET", "/api/v1/reports/"+reportID+"/artifact", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotEmpty(t, w.Body.Bytes())

	// 削除
	req, _ = http.NewRequest("DELETE", "/api/v1/reports/"+reportID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// 削除後は404
	req, _ = http.NewRequest("GET", "/api/v1/reports/"+reportID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReportNotFound(t *testing.T) {
	r, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/reports/no-such-id", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatUnavailableWithoutAIService(t *testing.T) {
	r, _ := setupTestRouter()

	body := []byte(`{"message":"先月の予測はどうでしたか？"}`)
	req, _ := http.NewRequest("POST", "/api/v1/ai/chat", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// AIサービスが未設定の場合は503を返す
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMonitoringLogs(t *testing.T) {
	r, _ := setupTestRouter()

	req, _ := http.NewRequest("GET", "/api/v1/monitoring/logs?period=1h", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_requests")
}
