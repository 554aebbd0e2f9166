package io

import (
	"math"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

// An observation is one raw (time, variable, value) event of a record.
type observation struct {
	time     float64
	variable int
	value    float64
}

// binIndex maps an observation time onto one of numBins bins spanning
// [0, lastTime]. The final observation always lands in the last bin.
func binIndex(time, lastTime float64, numBins int) int {
	if time == lastTime {
		return numBins - 1
	}
	return int(time / lastTime * float64(numBins))
}

// buildInstance aggregates the raw observations of one record into the fixed
// grid. Within a bin the last observation wins; the count still registers
// every observation so the model can tell dense bins from sparse ones.
// Values and statics are standardized with the frozen training statistics,
// missing statics become zero.
func buildInstance(rec *rawRecord, numBins int, metaData *model.Metadata) *model.Instance {
	x := model.NewInstance(numBins, metaData.NumVariables(), metaData.NumStatic())
	for _, obs := range rec.observations {
		t := binIndex(obs.time, rec.lastTime, numBins)
		x.Values[t][obs.variable] = metaData.VariableStats[obs.variable].Standardize(obs.value)
		x.Counts[t][obs.variable]++
	}
	for i := range x.BinTimes {
		x.BinTimes[i] = float64(i+1) / float64(numBins) * rec.lastTime
	}
	for i, v := range rec.static {
		s := metaData.StaticStats[i].Standardize(v)
		if math.IsNaN(s) {
			s = 0
		}
		x.Static[i] = s
	}
	x.Target = rec.target
	return x
}

type statsAccumulator struct {
	n          int
	sum, sumSq float64
	min, max   float64
}

func (a *statsAccumulator) add(v float64) {
	if a.n == 0 {
		a.min, a.max = v, v
	}
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	a.n++
	a.sum += v
	a.sumSq += v * v
}

func (a *statsAccumulator) stats() model.ColumnStats {
	if a.n == 0 {
		return model.ColumnStats{}
	}
	mean := a.sum / float64(a.n)
	variance := a.sumSq/float64(a.n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return model.ColumnStats{
		Mean:  mean,
		Std:   math.Sqrt(variance),
		Min:   a.min,
		Max:   a.max,
		Count: a.n,
	}
}
