package model

import (
	"strings"
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/stretchr/testify/require"
)

func TestStateDictRoundTrip(t *testing.T) {
	source := newTestModel(t, testConfig())
	target, err := New(testConfig())
	require.NoError(t, err)
	target.Init(rand.NewLockedRand(7))

	state := source.StateDict()
	adjustments, err := target.LoadStateDict(state)

	require.NoError(t, err)
	require.Empty(t, adjustments)
	require.Equal(t, state, target.StateDict())
}

func TestLoadStateDictReportsUnknownAndMissingEntries(t *testing.T) {
	m := newTestModel(t, testConfig())
	state := m.StateDict()
	dropped := state[len(state)-1].Name
	state = state[:len(state)-1]
	state = append(state, ParamEntry{Name: "no_such_parameter", Rows: 1, Cols: 1, Data: []float64{0}})

	adjustments, err := m.LoadStateDict(state)

	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	keys := []string{adjustments[0].Key, adjustments[1].Key}
	require.Contains(t, keys, "no_such_parameter")
	require.Contains(t, keys, dropped)
}

func TestLoadStateDictKeepsFreshHeadOnShapeMismatch(t *testing.T) {
	pretrained := newTestModel(t, testConfig())

	config := testConfig()
	config.TargetDimension = 3
	finetune, err := New(config)
	require.NoError(t, err)
	finetune.Init(rand.NewLockedRand(7))
	freshHead := append([]float64(nil), finetune.Head.Linears[1].W.Value().Data()...)

	adjustments, err := finetune.LoadStateDict(pretrained.StateDict())

	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	for _, a := range adjustments {
		require.True(t, strings.HasPrefix(a.Key, "head.linears.1"))
	}
	// The mismatched head layer keeps its fresh values, everything else is
	// restored bit for bit.
	require.Equal(t, freshHead, finetune.Head.Linears[1].W.Value().Data())
	require.Equal(t,
		pretrained.EventLayers[0].Attention.Query.W.Value().Data(),
		finetune.EventLayers[0].Attention.Query.W.Value().Data())
	require.Equal(t,
		pretrained.Head.Linears[0].W.Value().Data(),
		finetune.Head.Linears[0].W.Value().Data())
}

func TestLoadStateDictFailsOnNonHeadShapeMismatch(t *testing.T) {
	pretrained := newTestModel(t, testConfig())

	config := testConfig()
	config.EmbeddingDim = 8
	config.FFDim = 16
	other, err := New(config)
	require.NoError(t, err)
	other.Init(rand.NewLockedRand(7))

	_, err = other.LoadStateDict(pretrained.StateDict())
	require.Error(t, err)
}

func TestAverageStates(t *testing.T) {
	a := []ParamEntry{{Name: "w", Rows: 2, Cols: 1, Data: []float64{1, 3}}}
	b := []ParamEntry{{Name: "w", Rows: 2, Cols: 1, Data: []float64{3, 5}}}

	mean, err := AverageStates([][]ParamEntry{a, b})

	require.NoError(t, err)
	require.Equal(t, []float64{2, 4}, mean[0].Data)
	// The inputs stay untouched.
	require.Equal(t, []float64{1, 3}, a[0].Data)

	_, err = AverageStates([][]ParamEntry{a, {{Name: "v", Rows: 2, Cols: 1, Data: []float64{0, 0}}}})
	require.Error(t, err)

	_, err = AverageStates(nil)
	require.Error(t, err)
}

func TestHeadParamsIteratorYieldsOnlyHeadParams(t *testing.T) {
	m := newTestModel(t, testConfig())
	params := NewHeadParamsIterator(m).Params()

	// Two linear layers and one batch norm.
	require.Len(t, params, 8)
	require.Same(t, m.Head.Linears[0].W, params[0])
	for _, p := range params {
		require.NotSame(t, m.ValueHead.Linears[0].W, p)
	}
}
