package services

import (
	"errors"
	"fmt"
)

// パイプライン各段の失敗種別。呼び出し側は errors.Is / errors.As で
// 入力起因の恒久エラーかどうかを判別できる（リトライはしない方針）。

// ErrInsufficientData 学習に必要なデータ点数が不足している
var ErrInsufficientData = errors.New("学習に必要なデータ点数が不足しています（最低2点）")

// ErrNoOverlap 実績と予測でタイムスタンプが1件も一致しなかった
var ErrNoOverlap = errors.New("実績と予測に共通するタイムスタンプがありません")

// SchemaError 入力の形が契約（2列のタブラー形式、先頭列が日時）を満たさない
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("入力スキーマが不正です: %s", e.Reason)
}

// FitError モデル当てはめ（正規方程式の求解）の失敗
type FitError struct {
	Reason string
	Err    error
}

func (e *FitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("モデルの当てはめに失敗しました: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("モデルの当てはめに失敗しました: %s", e.Reason)
}

func (e *FitError) Unwrap() error {
	return e.Err
}
