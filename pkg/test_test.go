package pkg

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/stretchr/testify/require"
)

func TestBinaryEvaluatorCountsAndWritesPredictions(t *testing.T) {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(1)))
	defer g.Clear()

	var buf bytes.Buffer
	e := &binaryEvaluator{metrics: map[string]*stats.ClassMetrics{}, outputWriter: &buf}

	e.EvaluatePrediction(g, g.NewScalar(2.0), 1)
	e.EvaluatePrediction(g, g.NewScalar(-1.0), 0)
	e.EvaluatePrediction(g, g.NewScalar(1.5), 0)

	require.Equal(t, 3, e.predictionCount)
	require.Equal(t, 1, e.metrics[positiveClass].TruePos)
	require.Equal(t, 1, e.metrics[positiveClass].FalsePos)
	require.Equal(t, 1, e.metrics[negativeClass].TruePos)
	require.Equal(t, 1, e.metrics[negativeClass].FalseNeg)
	require.Greater(t, e.Loss(), 0.0)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Equal(t, []string{
		"positive,positive,0.88080",
		"negative,negative,0.26894",
		"negative,positive,0.81757",
	}, lines)
}

func TestBinaryEvaluatorLossIsWeighted(t *testing.T) {
	g := ag.NewGraph(ag.Rand(rand.NewLockedRand(1)))
	defer g.Clear()

	unweighted := &binaryEvaluator{metrics: map[string]*stats.ClassMetrics{}, outputWriter: NoopWriter{}}
	unweighted.EvaluatePrediction(g, g.NewScalar(0.5), 1)

	weighted := &binaryEvaluator{
		metrics:          map[string]*stats.ClassMetrics{},
		positiveFraction: 0.25,
		outputWriter:     NoopWriter{},
	}
	weighted.EvaluatePrediction(g, g.NewScalar(0.5), 1)

	require.InDelta(t, 2*unweighted.Loss(), weighted.Loss(), 1e-6)
}
