package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateMean(t *testing.T) {
	assert.Equal(t, 0.0, calculateMean(nil))
	assert.InDelta(t, 2.5, calculateMean([]float64{1, 2, 3, 4}), 1e-9)
}

func TestCalculateStandardDeviation(t *testing.T) {
	assert.Equal(t, 0.0, calculateStandardDeviation(nil))
	assert.Equal(t, 0.0, calculateStandardDeviation([]float64{5, 5, 5}))
	// 母標準偏差: {2,4,4,4,5,5,7,9} → 2.0
	assert.InDelta(t, 2.0, calculateStandardDeviation([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)
}

func TestZScoreForInterval(t *testing.T) {
	assert.Equal(t, 1.645, zScoreForInterval(0.90))
	assert.Equal(t, 1.96, zScoreForInterval(0.95))
	assert.Equal(t, 2.576, zScoreForInterval(0.99))
	// 未対応の水準は95%にフォールバック
	assert.Equal(t, 1.96, zScoreForInterval(0.5))
}

func TestSolveRidgeExactFit(t *testing.T) {
	// y = 2 + 3x を切片と傾きの2列で復元する
	x := []float64{0, 1, 2, 3, 4}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 2 + 3*v
	}
	X := [][]float64{
		{1, 1, 1, 1, 1},
		x,
	}
	beta, err := solveRidge(y, X, []float64{1e-8, 1e-8})
	assert.NoError(t, err)
	assert.InDelta(t, 2.0, beta[0], 1e-4)
	assert.InDelta(t, 3.0, beta[1], 1e-4)
}

func TestSolveRidgeDimensionMismatch(t *testing.T) {
	_, err := solveRidge([]float64{1, 2}, [][]float64{{1, 2, 3}}, []float64{0.1})
	assert.Error(t, err)

	_, err = solveRidge([]float64{1, 2}, [][]float64{{1, 2}}, []float64{0.1, 0.2})
	assert.Error(t, err)

	_, err = solveRidge(nil, nil, nil)
	assert.Error(t, err)
}

func TestSolveSymmetricNotPositiveDefinite(t *testing.T) {
	// 負の対角成分を持つ行列はコレスキー分解できない
	A := [][]float64{
		{-1, 0},
		{0, 1},
	}
	_, err := solveSymmetric(A, []float64{1, 1})
	assert.Error(t, err)
}
