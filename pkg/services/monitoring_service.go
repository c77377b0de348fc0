package services

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// LogEntry 単一のリクエストログ
type LogEntry struct {
	Timestamp    time.Time     `json:"timestamp"`
	Path         string        `json:"path"`
	Method       string        `json:"method"`
	StatusCode   int           `json:"status_code"`
	ResponseTime time.Duration `json:"response_time"`
}

// 保持するログの上限（超えた分は古い順に捨てる）
const maxLogEntries = 10000

// MonitoringService APIのモニタリング機能を提供するサービス。
// リクエストログに加えて予測パイプラインの実行回数も集計する。
type MonitoringService struct {
	logs         []LogEntry
	forecastRuns int
	forecastErrs int
	mu           sync.RWMutex
}

// NewMonitoringService 新しいMonitoringServiceを生成
func NewMonitoringService() *MonitoringService {
	return &MonitoringService{
		logs: make([]LogEntry, 0),
	}
}

// LogRequest リクエストを記録する
func (s *MonitoringService) LogRequest(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	if len(s.logs) > maxLogEntries {
		s.logs = s.logs[len(s.logs)-maxLogEntries:]
	}
}

// RecordForecastRun 予測パイプラインの実行結果を記録する
func (s *MonitoringService) RecordForecastRun(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecastRuns++
	if !success {
		s.forecastErrs++
	}
}

// LoggingMiddleware リクエスト情報を記録するGinミドルウェア
func (s *MonitoringService) LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// モニタリング自身へのアクセスは記録しない
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/v1/monitoring") {
			return
		}

		s.LogRequest(LogEntry{
			Timestamp:    start,
			Path:         path,
			Method:       c.Request.Method,
			StatusCode:   c.Writer.Status(),
			ResponseTime: time.Since(start),
		})
	}
}

// DashboardData ダッシュボード表示用の集計済みデータ
type DashboardData struct {
	TotalRequests    int                      `json:"total_requests"`
	ForecastRuns     int                      `json:"forecast_runs"`
	ForecastFailures int                      `json:"forecast_failures"`
	Endpoints        map[string]int           `json:"endpoints"`
	StatusCodes      map[string]int           `json:"status_codes"`
	AvgResponseTimes []map[string]interface{} `json:"avg_response_times"`
	RecentErrors     []LogEntry               `json:"recent_errors"`
}

// GetDashboardData 指定された期間のログを集計してダッシュボード用データを返す
func (s *MonitoringService) GetDashboardData(periodHours int) DashboardData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	since := time.Now().Add(-time.Duration(periodHours) * time.Hour)

	filteredLogs := make([]LogEntry, 0)
	for _, entry := range s.logs {
		if entry.Timestamp.After(since) {
			filteredLogs = append(filteredLogs, entry)
		}
	}

	endpoints := make(map[string]int)
	for _, entry := range filteredLogs {
		endpoints[entry.Path]++
	}

	statusCodes := map[string]int{
		"2xx Success":      0,
		"4xx Client Error": 0,
		"5xx Server Error": 0,
	}
	for _, entry := range filteredLogs {
		switch {
		case entry.StatusCode >= 200 && entry.StatusCode < 300:
			statusCodes["2xx Success"]++
		case entry.StatusCode >= 400 && entry.StatusCode < 500:
			statusCodes["4xx Client Error"]++
		case entry.StatusCode >= 500:
			statusCodes["5xx Server Error"]++
		}
	}

	responseTimeSum := make(map[string]time.Duration)
	responseCount := make(map[string]int)
	for _, entry := range filteredLogs {
		responseTimeSum[entry.Path] += entry.ResponseTime
		responseCount[entry.Path]++
	}
	avgResponseTimes := make([]map[string]interface{}, 0)
	for path, totalTime := range responseTimeSum {
		avg := totalTime.Milliseconds() / int64(responseCount[path])
		avgResponseTimes = append(avgResponseTimes, map[string]interface{}{"endpoint": path, "response_time_ms": avg})
	}

	recentErrors := make([]LogEntry, 0)
	for i := len(filteredLogs) - 1; i >= 0; i-- {
		if filteredLogs[i].StatusCode >= 500 {
			recentErrors = append(recentErrors, filteredLogs[i])
			if len(recentErrors) >= 10 {
				break
			}
		}
	}

	return DashboardData{
		TotalRequests:    len(filteredLogs),
		ForecastRuns:     s.forecastRuns,
		ForecastFailures: s.forecastErrs,
		Endpoints:        endpoints,
		StatusCodes:      statusCodes,
		AvgResponseTimes: avgResponseTimes,
		RecentErrors:     recentErrors,
	}
}
