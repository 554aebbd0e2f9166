package io

import (
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/stretchr/testify/require"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

func checkpointTestModel(t *testing.T) *model.DuETT {
	t.Helper()
	m, err := model.New(model.Config{
		NumBins:              2,
		NumVariables:         2,
		NumStatic:            1,
		TargetDimension:      1,
		EmbeddingDim:         2,
		NumHeads:             1,
		NumLayers:            1,
		FFDim:                4,
		EmbedHiddenLayers:    1,
		EmbedHiddenDim:       4,
		TabHiddenLayers:      1,
		TabHiddenDim:         4,
		HeadHiddenLayers:     1,
		HeadHiddenDim:        4,
		PretrainHiddenLayers: 1,
		PretrainHiddenDim:    4,
		PretrainMaskedSteps:  1,
		BatchMomentum:        0.01,
		Fusion:               model.FusionRepToken,
	})
	require.NoError(t, err)
	m.Init(rand.NewLockedRand(42))
	return m
}

func TestCheckpointRoundTrip(t *testing.T) {
	m := checkpointTestModel(t)
	metaData := model.NewMetadata()
	metaData.GroupColumn = "stay"
	metaData.TimeColumn = "hours"
	metaData.TargetColumn = "outcome"
	metaData.Variables.Set("hr", 0)
	metaData.Variables.Set("sbp", 1)
	metaData.Statics.Set("age", 0)
	metaData.VariableStats = []model.ColumnStats{{Mean: 85, Std: 11, Min: 70, Max: 102, Count: 7}, {Mean: 120, Std: 9, Min: 110, Max: 150, Count: 5}}
	metaData.StaticStats = []model.ColumnStats{{Mean: 60, Std: 10, Min: 45, Max: 71, Count: 3}}
	metaData.PositiveFraction = 0.25

	runID := NewRunID()
	require.NotEmpty(t, runID)
	require.NotEqual(t, runID, NewRunID())

	path := filepath.Join(t.TempDir(), "model.ckpt")
	require.NoError(t, WriteCheckpointFile(NewCheckpoint(runID, m, metaData), path))

	loaded, err := ReadCheckpointFile(path)
	require.NoError(t, err)
	require.Equal(t, runID, loaded.RunID)
	require.Equal(t, m.Config, loaded.Config)
	require.Equal(t, metaData, loaded.Metadata)

	restored, err := NewModelFromCheckpoint(loaded)
	require.NoError(t, err)
	require.Equal(t, m.StateDict(), restored.StateDict())
}

func TestReadCheckpointFileErrors(t *testing.T) {
	_, err := ReadCheckpointFile(filepath.Join(t.TempDir(), "missing.ckpt"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "garbage.ckpt")
	require.NoError(t, ioutil.WriteFile(path, []byte("not a checkpoint"), 0644))
	_, err = ReadCheckpointFile(path)
	require.Error(t, err)
}

func TestRepresentationWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "representations.txt")

	w, err := NewRepresentationWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]float64{0.5, -1.25}, 1))
	require.NoError(t, w.Write([]float64{2, 3}, 0))
	require.NoError(t, w.Close())

	// A second writer keeps appending to the same file.
	w, err = NewRepresentationWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write([]float64{1, 1}, 1))
	require.NoError(t, w.Close())

	content, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 3)

	fields := strings.Fields(lines[0])
	require.Len(t, fields, 3)
	first, err := strconv.ParseFloat(fields[0], 64)
	require.NoError(t, err)
	require.Equal(t, 0.5, first)
	target, err := strconv.ParseFloat(fields[2], 64)
	require.NoError(t, err)
	require.Equal(t, 1.0, target)
}
