package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"mirai-forecast-api/pkg/models"

	"github.com/xuri/excelize/v2"
)

// NormalizerService 2列のタブラー入力を正規形（ds/y）に変換するサービス。
// 副作用なしの純粋な変換で、失敗は全てSchemaErrorとして返す。
type NormalizerService struct{}

// NewNormalizerService 新しいNormalizerServiceを作成
func NewNormalizerService() *NormalizerService {
	return &NormalizerService{}
}

// 日付として受け付けるフォーマット（ファイル分析と同じ系列）
var dateLayouts = []string{
	"2006-01-02",
	"2006/1/2",
	"2006/01/02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// parseTimestamp 先頭列の文字列を日時として解釈する
func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ReadTabular ファイル名の拡張子に応じて .xlsx / .csv を行列に読み込む
func (ns *NormalizerService) ReadTabular(r io.Reader, fileName string) ([][]string, error) {
	lower := strings.ToLower(fileName)
	switch {
	case strings.HasSuffix(lower, ".xlsx"):
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, &SchemaError{Reason: fmt.Sprintf("Excelファイルの読み込みに失敗しました: %v", err)}
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, &SchemaError{Reason: fmt.Sprintf("Excelシートの行取得に失敗しました: %v", err)}
		}
		return rows, nil
	case strings.HasSuffix(lower, ".csv"):
		rows, err := csv.NewReader(r).ReadAll()
		if err != nil {
			return nil, &SchemaError{Reason: fmt.Sprintf("CSVファイルの解析に失敗しました: %v", err)}
		}
		return rows, nil
	default:
		return nil, &SchemaError{Reason: "サポートされていないファイル形式です（.xlsx または .csv）"}
	}
}

// Normalize 2列の行列をCanonicalSeriesに変換する。
// 先頭行が日付として解釈できない場合はヘッダーとして読み飛ばす。
// ds昇順にソートし、同一タイムスタンプは平均で1点に潰す。
func (ns *NormalizerService) Normalize(rows [][]string) (models.CanonicalSeries, error) {
	if len(rows) == 0 {
		return models.CanonicalSeries{}, &SchemaError{Reason: "入力が空です"}
	}

	// ヘッダー判定: 先頭行の1列目が日時として解釈できなければヘッダー行とみなす。
	// excelizeのGetRowsは空行を長さ0のスライスで返すため、列数の確認が先。
	dataRows := rows
	if len(rows[0]) > 0 {
		if _, ok := parseTimestamp(rows[0][0]); !ok && len(rows) > 1 {
			dataRows = rows[1:]
		}
	}

	if len(dataRows) == 0 {
		return models.CanonicalSeries{}, &SchemaError{Reason: "データ行がありません"}
	}

	points := make([]models.TimeSeriesPoint, 0, len(dataRows))
	for i, row := range dataRows {
		if len(row) != 2 {
			return models.CanonicalSeries{}, &SchemaError{
				Reason: fmt.Sprintf("行%d: 列数が2ではありません（%d列）", i+1, len(row)),
			}
		}

		ts, ok := parseTimestamp(row[0])
		if !ok {
			return models.CanonicalSeries{}, &SchemaError{
				Reason: fmt.Sprintf("行%d: 1列目 '%s' を日時として解釈できません", i+1, row[0]),
			}
		}

		val, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
		if err != nil {
			return models.CanonicalSeries{}, &SchemaError{
				Reason: fmt.Sprintf("行%d: 2列目 '%s' を数値として解釈できません", i+1, row[1]),
			}
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return models.CanonicalSeries{}, &SchemaError{
				Reason: fmt.Sprintf("行%d: 値が有限数ではありません", i+1),
			}
		}

		points = append(points, models.TimeSeriesPoint{DS: ts, Y: val})
	}

	// ds昇順にソート
	sort.Slice(points, func(i, j int) bool { return points[i].DS.Before(points[j].DS) })

	// 同一タイムスタンプは平均で1点に潰す（重複なし不変条件の維持）
	deduped := make([]models.TimeSeriesPoint, 0, len(points))
	i := 0
	for i < len(points) {
		sum := points[i].Y
		count := 1
		j := i + 1
		for j < len(points) && points[j].DS.Equal(points[i].DS) {
			sum += points[j].Y
			count++
			j++
		}
		deduped = append(deduped, models.TimeSeriesPoint{DS: points[i].DS, Y: sum / float64(count)})
		i = j
	}

	return models.CanonicalSeries{Points: deduped}, nil
}

// NormalizeRecords JSONで受けた（timestamp, value）ペアをCanonicalSeriesに変換する
func (ns *NormalizerService) NormalizeRecords(records []SeriesRecord) (models.CanonicalSeries, error) {
	rows := make([][]string, len(records))
	for i, rec := range records {
		rows[i] = []string{rec.Timestamp, strconv.FormatFloat(rec.Value, 'f', -1, 64)}
	}
	return ns.Normalize(rows)
}

// SeriesRecord APIリクエストで受ける時系列1点
type SeriesRecord struct {
	Timestamp string  `json:"timestamp" binding:"required"`
	Value     float64 `json:"value"`
}
