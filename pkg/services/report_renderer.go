package services

import (
	"fmt"
	"math"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// ReportRendererService 予測実行レポートをExcelワークブックに書き出すサービス。
// 予測テーブル・成分分解・サマリーの3シートと折れ線グラフを生成する。
type ReportRendererService struct{}

// NewReportRendererService 新しいReportRendererServiceを作成
func NewReportRendererService() *ReportRendererService {
	return &ReportRendererService{}
}

const (
	sheetForecast   = "予測"
	sheetComponents = "成分分解"
	sheetSummary    = "サマリー"
)

// RenderXLSX レポートをxlsxのバイト列に変換する
func (rrs *ReportRendererService) RenderXLSX(report *models.ForecastRunReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	dateFormat := "2006-01-02"
	if report.Forecast.Frequency < 24*time.Hour {
		dateFormat = "2006-01-02 15:04"
	}

	if err := rrs.writeForecastSheet(f, report, dateFormat); err != nil {
		return nil, fmt.Errorf("予測シートの作成に失敗しました: %w", err)
	}
	if err := rrs.writeComponentsSheet(f, report, dateFormat); err != nil {
		return nil, fmt.Errorf("成分分解シートの作成に失敗しました: %w", err)
	}
	if err := rrs.writeSummarySheet(f, report, dateFormat); err != nil {
		return nil, fmt.Errorf("サマリーシートの作成に失敗しました: %w", err)
	}

	// 既定の Sheet1 を予測シートに置き換える
	idx, err := f.GetSheetIndex(sheetForecast)
	if err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("ワークブックの書き出しに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// writeForecastSheet 予測テーブルと実績vs予測の折れ線グラフを書き込む
func (rrs *ReportRendererService) writeForecastSheet(f *excelize.File, report *models.ForecastRunReport, dateFormat string) error {
	if _, err := f.NewSheet(sheetForecast); err != nil {
		return err
	}

	headers := []string{"日付", "予測値", "下限", "上限", "区分"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetForecast, cell, h); err != nil {
			return err
		}
	}

	for i, row := range report.Forecast.Rows {
		r := i + 2
		kind := "予測"
		if row.InSample {
			kind = "学習"
		}
		values := []interface{}{
			row.DS.Format(dateFormat),
			round2(row.Yhat),
			round2(row.Lower),
			round2(row.Upper),
			kind,
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			if err := f.SetCellValue(sheetForecast, cell, v); err != nil {
				return err
			}
		}
	}

	nRows := len(report.Forecast.Rows)
	if nRows == 0 {
		return nil
	}

	// 予測値と区間の折れ線グラフ
	chart := &excelize.Chart{
		Type: excelize.Line,
		Series: []excelize.ChartSeries{
			{
				Name:       fmt.Sprintf("%s!$B$1", sheetForecast),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetForecast, nRows+1),
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetForecast, nRows+1),
			},
			{
				Name:       fmt.Sprintf("%s!$C$1", sheetForecast),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetForecast, nRows+1),
				Values:     fmt.Sprintf("%s!$C$2:$C$%d", sheetForecast, nRows+1),
			},
			{
				Name:       fmt.Sprintf("%s!$D$1", sheetForecast),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetForecast, nRows+1),
				Values:     fmt.Sprintf("%s!$D$2:$D$%d", sheetForecast, nRows+1),
			},
		},
	}
	return f.AddChart(sheetForecast, "G2", chart)
}

// writeComponentsSheet トレンドと季節性の成分値を書き込む
func (rrs *ReportRendererService) writeComponentsSheet(f *excelize.File, report *models.ForecastRunReport, dateFormat string) error {
	if _, err := f.NewSheet(sheetComponents); err != nil {
		return err
	}

	headers := []string{"日付", "トレンド", "年周期", "週周期", "日周期"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetComponents, cell, h); err != nil {
			return err
		}
	}

	for i, row := range report.Forecast.Rows {
		r := i + 2
		values := []interface{}{
			row.DS.Format(dateFormat),
			round2(row.Trend),
			round2(row.Yearly),
			round2(row.Weekly),
			round2(row.Daily),
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r)
			if err := f.SetCellValue(sheetComponents, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeSummarySheet 実行条件・精度指標・異常検出結果を書き込む
func (rrs *ReportRendererService) writeSummarySheet(f *excelize.File, report *models.ForecastRunReport, dateFormat string) error {
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return err
	}

	lines := [][]interface{}{
		{"レポートID", report.ReportID},
		{"データソース", report.SourceName},
		{"実行日時", report.RunDate.Format("2006-01-02 15:04:05")},
		{"データ点数", report.DataPoints},
		{"対象期間", report.DateRange},
		{"予測期間", report.Options.Horizon},
		{"予測区間", fmt.Sprintf("%.0f%%", report.Options.IntervalWidth*100)},
	}

	if report.Metrics != nil {
		lines = append(lines, []interface{}{"", ""})
		for _, name := range []string{"MSE", "RMSE", "MAE", "MAPE"} {
			value, ok := report.Metrics.Metrics[name]
			if !ok {
				continue
			}
			if math.IsNaN(value) {
				lines = append(lines, []interface{}{name, "N/A"})
			} else {
				lines = append(lines, []interface{}{name, round2(value)})
			}
		}
		lines = append(lines, []interface{}{"カバレッジ", fmt.Sprintf("%.1f%%", report.Metrics.Coverage*100)})
	}

	if len(report.Anomalies) > 0 {
		lines = append(lines, []interface{}{"", ""}, []interface{}{"異常検出", fmt.Sprintf("%d件", len(report.Anomalies))})
		for _, a := range report.Anomalies {
			lines = append(lines, []interface{}{
				a.Date,
				fmt.Sprintf("%s（%s）実績%.2f 期待%.2f", a.AnomalyType, a.Severity, a.ActualValue, a.ExpectedValue),
			})
		}
	}

	if report.AIInsights != "" {
		lines = append(lines, []interface{}{"", ""}, []interface{}{"AI分析", report.AIInsights})
	}

	for i, line := range lines {
		for c, v := range line {
			cell, _ := excelize.CoordinatesToCellName(c+1, i+1)
			if err := f.SetCellValue(sheetSummary, cell, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// round2 小数第2位に丸める（セル表示用）
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
