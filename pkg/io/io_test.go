package io

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

func vitalsParams() DataParameters {
	return DataParameters{
		DataFile:      "testdata/vitals.train.csv",
		GroupColumn:   "stay",
		TimeColumn:    "hours",
		TargetColumn:  "outcome",
		StaticColumns: []string{"age", "sex"},
		NumBins:       4,
	}
}

func TestLoadData(t *testing.T) {
	params := vitalsParams()

	metaData, data, dataErrors, err := LoadData(params, nil)
	require.NoError(t, err)
	require.NotNil(t, metaData)
	require.Empty(t, dataErrors)
	require.Len(t, data, 3)

	// Variables index in header order, statics in parameter order.
	require.Equal(t, 3, metaData.NumVariables())
	require.Equal(t, map[string]int{"hr": 0, "sbp": 1, "temp": 2}, metaData.Variables.NameToIndex)
	require.Equal(t, map[string]int{"age": 0, "sex": 1}, metaData.Statics.NameToIndex)
	require.InDelta(t, 1.0/3.0, metaData.PositiveFraction, 1e-12)

	// First record: observations at hours 0, 6 and 12 fall into bins 0, 2
	// and the final bin.
	x := data[0]
	require.Equal(t, []float64{3, 6, 9, 12}, x.BinTimes)
	require.Equal(t, []float64{1, 0, 1}, x.Counts[0])
	require.Equal(t, []float64{0, 0, 0}, x.Counts[1])
	require.Equal(t, []float64{1, 1, 0}, x.Counts[2])
	require.Equal(t, []float64{0, 1, 1}, x.Counts[3])
	require.Equal(t, metaData.VariableStats[0].Standardize(80), x.Values[0][0])
	require.Equal(t, metaData.VariableStats[1].Standardize(121), x.Values[3][1])
	require.Equal(t, metaData.StaticStats[0].Standardize(63), x.Static[0])
	require.Zero(t, x.Target)
	require.Equal(t, 1.0, data[1].Target)

	// The hr statistics cover every raw observation, not the binned grid.
	require.Equal(t, 7, metaData.VariableStats[0].Count)
	require.Equal(t, 70.0, metaData.VariableStats[0].Min)
	require.Equal(t, 102.0, metaData.VariableStats[0].Max)
}

func TestLoadDataFreezesStatistics(t *testing.T) {
	params := vitalsParams()
	metaData, _, _, err := LoadData(params, nil)
	require.NoError(t, err)
	trainStats := append([]model.ColumnStats(nil), metaData.VariableStats...)
	trainPositiveFraction := metaData.PositiveFraction

	params.DataFile = "testdata/vitals.test.csv"
	testMetaData, data, dataErrors, err := LoadData(params, metaData)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	require.Len(t, data, 1)

	// The metadata comes back untouched: test data is standardized with the
	// training statistics.
	require.Equal(t, metaData, testMetaData)
	require.Equal(t, trainStats, testMetaData.VariableStats)
	require.Equal(t, trainPositiveFraction, testMetaData.PositiveFraction)
	require.Equal(t, metaData.VariableStats[0].Standardize(88), data[0].Values[0][0])
	require.Equal(t, metaData.VariableStats[0].Standardize(91), data[0].Values[3][0])

	// A shifted training mean carries through unchanged, nothing is refit
	// on the test data.
	metaData.VariableStats[0].Mean += 5
	testMetaData, data, dataErrors, err = LoadData(params, metaData)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	require.Equal(t, metaData, testMetaData)
	require.Equal(t, metaData.VariableStats[0].Standardize(88), data[0].Values[0][0])
}

func TestLoadDataRejectsUnknownColumn(t *testing.T) {
	params := vitalsParams()
	metaData, _, _, err := LoadData(params, nil)
	require.NoError(t, err)

	data := "stay,hours,hr,sbp,temp,spo2,age,sex,outcome\ns1,0,80,120,36.6,99,63,1,0\n"
	_, _, _, err = loadData(strings.NewReader(data), params, metaData)
	require.Error(t, err)
	require.Contains(t, err.Error(), "spo2")
}

func TestLoadDataRejectsMissingColumns(t *testing.T) {
	params := vitalsParams()

	_, _, _, err := loadData(strings.NewReader("stay,hours,hr,age,sex,outcome\n"), params, nil)
	require.NoError(t, err)

	_, _, _, err = loadData(strings.NewReader("stay,hours,hr,age,outcome\n"), params, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "sex")

	_, _, _, err = loadData(strings.NewReader("stay,hr,age,sex,outcome\n"), params, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "hours")
}

func TestLoadDataReportsMalformedLines(t *testing.T) {
	data := strings.Join([]string{
		"stay,hours,hr,age,outcome",
		"s1,0,80,63,0",
		"s1,abc,82,63,0",
		"s1,6,oops,63,0",
		"s2,0,90,70,2",
		"s2,1,91,70,2",
		"s3,5,75,50,1",
		"s3,2,76,50,1",
		"s4,-1,70,40,0",
		"s5,0,,55,0",
		"s5,3,,55,0",
	}, "\n") + "\n"
	params := DataParameters{
		GroupColumn:   "stay",
		TimeColumn:    "hours",
		TargetColumn:  "outcome",
		StaticColumns: []string{"age"},
		NumBins:       2,
	}

	_, instances, dataErrors, err := loadData(strings.NewReader(data), params, nil)
	require.NoError(t, err)

	// s1 survives its two bad lines, s2 has an invalid target, s3 goes back
	// in time, s4 has a negative time and s5 never observes a value.
	require.Len(t, instances, 1)
	require.Equal(t, 1.0, instances[0].Counts[0][0])
	require.Equal(t, 0.0, instances[0].Counts[1][0])
	require.Len(t, dataErrors, 6)
	lines := make([]int, len(dataErrors))
	for i, e := range dataErrors {
		lines[i] = e.Line
	}
	require.Equal(t, []int{3, 4, 5, 8, 9, 10}, lines)
}

func TestBinIndex(t *testing.T) {
	tests := []struct {
		time     float64
		lastTime float64
		numBins  int
		bin      int
	}{
		{0, 59.999, 4, 0},
		{10, 59.999, 4, 0},
		{59.999, 59.999, 4, 3},
		{15, 60, 4, 1},
		{30, 60, 4, 2},
		{59.9, 60, 4, 3},
		{0, 0, 4, 3},
	}
	for _, tt := range tests {
		require.Equal(t, tt.bin, binIndex(tt.time, tt.lastTime, tt.numBins))
	}
}

func TestLastObservationInBinWins(t *testing.T) {
	data := strings.Join([]string{
		"stay,hours,hr,age,outcome",
		"s1,0,80,63,0",
		"s1,1,81,63,0",
		"s1,2,82,63,0",
		"s1,10,90,63,0",
	}, "\n") + "\n"
	params := DataParameters{
		GroupColumn:   "stay",
		TimeColumn:    "hours",
		TargetColumn:  "outcome",
		StaticColumns: []string{"age"},
		NumBins:       2,
	}

	metaData, instances, dataErrors, err := loadData(strings.NewReader(data), params, nil)
	require.NoError(t, err)
	require.Empty(t, dataErrors)
	require.Len(t, instances, 1)

	// The most recent observation wins while the count keeps the full tally.
	x := instances[0]
	require.Equal(t, 3.0, x.Counts[0][0])
	require.Equal(t, metaData.VariableStats[0].Standardize(82), x.Values[0][0])
	require.Equal(t, 1.0, x.Counts[1][0])
	require.Equal(t, metaData.VariableStats[0].Standardize(90), x.Values[1][0])
}

func TestDataSetBatchesAndSplits(t *testing.T) {
	instances := make([]*model.Instance, 5)
	for i := range instances {
		instances[i] = model.NewInstance(2, 1, 1)
		instances[i].Target = float64(i % 2)
	}
	ds := NewDataSet(instances, 2)
	ds.Rand = rand.New(rand.NewSource(42))

	require.Equal(t, 5, ds.Size())
	require.InDelta(t, 2.0/5.0, ds.PositiveFraction(), 1e-12)

	sizes := []int{}
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		sizes = append(sizes, batch.Size())
	}
	require.Equal(t, []int{2, 2, 1}, sizes)

	ds.ResetOrder(RandomOrder)
	seen := map[*model.Instance]bool{}
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		for _, x := range batch {
			seen[x] = true
		}
	}
	require.Len(t, seen, 5)

	splits := ds.RandomSplit(3, 2)
	require.Len(t, splits, 2)
	require.Equal(t, 3, splits[0].Size())
	require.Equal(t, 2, splits[1].Size())
	seen = map[*model.Instance]bool{}
	for _, split := range splits {
		for batch := split.Next(); len(batch) > 0; batch = split.Next() {
			for _, x := range batch {
				require.False(t, seen[x])
				seen[x] = true
			}
		}
	}
	require.Len(t, seen, 5)
}
