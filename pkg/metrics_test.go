package pkg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAUROC(t *testing.T) {
	labels := []float64{1, 1, 0, 0}
	require.Equal(t, 1.0, auroc([]float64{0.9, 0.8, 0.2, 0.1}, labels))
	require.Equal(t, 0.0, auroc([]float64{0.1, 0.2, 0.8, 0.9}, labels))

	// One positive ranks above both negatives, the other below.
	require.InDelta(t, 0.5, auroc([]float64{0.9, 0.1, 0.8, 0.4}, labels), 1e-12)

	// Tied scores share their average rank.
	require.InDelta(t, 0.5, auroc([]float64{0.7, 0.7}, []float64{1, 0}), 1e-12)

	// A single class has no ranking to score.
	require.Equal(t, 0.0, auroc([]float64{0.3, 0.4}, []float64{1, 1}))
}

func TestAveragePrecision(t *testing.T) {
	require.Equal(t, 1.0, averagePrecision([]float64{0.9, 0.8, 0.1}, []float64{1, 1, 0}))
	require.InDelta(t, 5.0/6.0, averagePrecision([]float64{0.9, 0.8, 0.7, 0.6}, []float64{1, 0, 1, 0}), 1e-12)

	// A tie group is evaluated as one threshold.
	require.InDelta(t, 0.5, averagePrecision([]float64{0.5, 0.5}, []float64{1, 0}), 1e-12)

	require.Equal(t, 0.0, averagePrecision([]float64{0.9}, []float64{0}))
}
