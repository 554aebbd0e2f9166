package encoder

import (
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/stretchr/testify/require"
)

func tokens(g *ag.Graph, rows [][]float64) []ag.Node {
	xs := make([]ag.Node, len(rows))
	for i, row := range rows {
		xs[i] = g.NewVariable(mat.NewVecDense(row), false)
	}
	return xs
}

func TestAttentionPreservesShape(t *testing.T) {
	m := NewAttention(8, 4, 2)
	m.Init(rand.NewLockedRand(3))
	require.Equal(t, 2, m.HeadDim)

	g := ag.NewGraph()
	xs := tokens(g, [][]float64{
		{1, 0, 0, 0, 1, 0, 0, 0},
		{0, 1, 0, 0, 0, 1, 0, 0},
		{0, 0, 1, 0, 0, 0, 1, 0},
	})
	proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference})
	ys := proc.Forward(xs...)
	require.Len(t, ys, 3)
	for _, y := range ys {
		require.Equal(t, 8, y.Value().Size())
	}
}

func TestAttentionIdenticalTokensGiveIdenticalOutputs(t *testing.T) {
	m := NewAttention(6, 6, 3)
	m.Init(rand.NewLockedRand(9))

	g := ag.NewGraph()
	row := []float64{0.5, -1.0, 0.25, 2.0, 0.0, -0.5}
	xs := tokens(g, [][]float64{row, row, row, row})
	proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference})
	ys := proc.Forward(xs...)

	first := ys[0].Value().Data()
	for _, y := range ys[1:] {
		require.InDeltaSlice(t, first, y.Value().Data(), 1e-12)
	}
}

func TestLayerPreservesShape(t *testing.T) {
	m := NewLayer(Config{Dim: 8, InnerDim: 4, NumHeads: 2, FFDim: 16, Dropout: 0.5})
	m.Init(rand.NewLockedRand(5))

	g := ag.NewGraph()
	xs := tokens(g, [][]float64{
		{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
		{-0.1, -0.2, -0.3, -0.4, -0.5, -0.6, -0.7, -0.8},
	})
	proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference})
	ys := proc.Forward(xs...)
	require.Len(t, ys, 2)
	for _, y := range ys {
		require.Equal(t, 8, y.Value().Size())
	}
}

func TestLayerInferenceIsDeterministic(t *testing.T) {
	m := NewLayer(Config{Dim: 4, InnerDim: 4, NumHeads: 2, FFDim: 8, Dropout: 0.5})
	m.Init(rand.NewLockedRand(21))

	run := func() []float64 {
		g := ag.NewGraph()
		xs := tokens(g, [][]float64{{1, 2, 3, 4}, {4, 3, 2, 1}})
		proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference})
		return proc.Forward(xs...)[0].Value().Data()
	}
	require.Equal(t, run(), run())
}
