package services

import (
	"fmt"
	"math"
)

// calculateMean パッケージ内部用のヘルパー関数：平均値を計算
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation パッケージ内部用のヘルパー関数：標準偏差を計算
func calculateStandardDeviation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := calculateMean(values)
	sumSquaredDiff := 0.0
	for _, v := range values {
		diff := v - mean
		sumSquaredDiff += diff * diff
	}
	return math.Sqrt(sumSquaredDiff / float64(len(values)))
}

// zScoreForInterval 信頼水準に対応する正規分布のz値を返す
// 90%=1.645, 95%=1.96, 99%=2.576（それ以外はデフォルト95%）
func zScoreForInterval(intervalWidth float64) float64 {
	switch intervalWidth {
	case 0.90:
		return 1.645
	case 0.95:
		return 1.96
	case 0.99:
		return 2.576
	default:
		return 1.96
	}
}

// solveRidge はリッジ正則化付き正規方程式 (X'X + Λ)β = X'y を解く。
// X は列ベクトルのスライス（X[j][t] = 列jの時点tの値）、penalties[j] は列jの対角ペナルティ。
func solveRidge(y []float64, X [][]float64, penalties []float64) ([]float64, error) {
	n := len(y)
	k := len(X)
	if k == 0 || n == 0 {
		return nil, fmt.Errorf("空の計画行列です")
	}
	for j := 0; j < k; j++ {
		if len(X[j]) != n {
			return nil, fmt.Errorf("計画行列の次元が一致しません（列%d: %d != %d）", j, len(X[j]), n)
		}
	}
	if len(penalties) != k {
		return nil, fmt.Errorf("ペナルティの次元が一致しません（%d != %d）", len(penalties), k)
	}

	// X'X + Λ と X'y を構築
	XtX := make([][]float64, k)
	for i := 0; i < k; i++ {
		XtX[i] = make([]float64, k)
		for j := 0; j <= i; j++ {
			var sum float64
			for t := 0; t < n; t++ {
				sum += X[i][t] * X[j][t]
			}
			XtX[i][j] = sum
			XtX[j][i] = sum
		}
		XtX[i][i] += penalties[i]
	}
	Xty := make([]float64, k)
	for i := 0; i < k; i++ {
		var sum float64
		for t := 0; t < n; t++ {
			sum += X[i][t] * y[t]
		}
		Xty[i] = sum
	}

	return solveSymmetric(XtX, Xty)
}

// solveSymmetric は対称正定値行列 A に対して A*x=b をコレスキー分解で解く
func solveSymmetric(A [][]float64, b []float64) ([]float64, error) {
	n := len(A)
	if n == 0 || len(b) != n {
		return nil, fmt.Errorf("連立方程式の次元が不正です")
	}
	// AをLにコピー
	L := make([][]float64, n)
	for i := 0; i < n; i++ {
		if len(A[i]) != n {
			return nil, fmt.Errorf("正方行列ではありません")
		}
		L[i] = make([]float64, n)
		copy(L[i], A[i])
	}
	// コレスキー分解
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var sum float64
			for k := 0; k < j; k++ {
				sum += L[i][k] * L[j][k]
			}
			if i == j {
				val := L[i][i] - sum
				if val <= 0 {
					return nil, fmt.Errorf("行列が正定値ではありません（対角成分 %d）", i)
				}
				L[i][j] = math.Sqrt(val)
			} else {
				if L[j][j] == 0 {
					return nil, fmt.Errorf("ゼロピボットが発生しました（%d）", j)
				}
				L[i][j] = (L[i][j] - sum) / L[j][j]
			}
		}
		for j := i + 1; j < n; j++ {
			L[i][j] = 0
		}
	}
	// 前進代入
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < i; j++ {
			sum += L[i][j] * y[j]
		}
		y[i] = (b[i] - sum) / L[i][i]
	}
	// 後退代入
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		var sum float64
		for j := i + 1; j < n; j++ {
			sum += L[j][i] * x[j]
		}
		x[i] = (y[i] - sum) / L[i][i]
	}
	return x, nil
}
