package model

// Instance is one fully binned record: a fixed grid of standardized values
// and observation counts with one row per time bin and one column per
// time-series variable, plus the static features and the binary target.
//
// MaskedBins and MaskedVariables describe corruption applied by the masking
// policy or by training-time augmentation. The network renders the mask
// embedding for every cell they cover, regardless of the stored numbers.
type Instance struct {
	// Values[t][v] holds the standardized value of variable v in bin t;
	// within a bin the latest observation wins.
	Values [][]float64
	// Counts[t][v] holds the number of raw observations aggregated into the
	// cell.
	Counts [][]float64
	// BinTimes[t] is the end time of bin t in the record's time unit.
	BinTimes []float64
	Static   []float64
	Target   float64

	// MaskedBins lists bin indices whose whole row is replaced by the mask
	// embedding, in ascending order.
	MaskedBins []int
	// MaskedVariables lists variable indices whose whole column, including
	// the representation row, is replaced by the mask embedding.
	MaskedVariables []int
}

func NewInstance(numBins, numVariables, numStatic int) *Instance {
	values := make([][]float64, numBins)
	counts := make([][]float64, numBins)
	for t := range values {
		values[t] = make([]float64, numVariables)
		counts[t] = make([]float64, numVariables)
	}
	return &Instance{
		Values:   values,
		Counts:   counts,
		BinTimes: make([]float64, numBins),
		Static:   make([]float64, numStatic),
	}
}

// Clone returns a deep copy. The masking policy corrupts the copy and leaves
// the original untouched.
func (x *Instance) Clone() *Instance {
	c := &Instance{
		Values:   make([][]float64, len(x.Values)),
		Counts:   make([][]float64, len(x.Counts)),
		BinTimes: append([]float64(nil), x.BinTimes...),
		Static:   append([]float64(nil), x.Static...),
		Target:   x.Target,
	}
	for t := range x.Values {
		c.Values[t] = append([]float64(nil), x.Values[t]...)
		c.Counts[t] = append([]float64(nil), x.Counts[t]...)
	}
	if x.MaskedBins != nil {
		c.MaskedBins = append([]int(nil), x.MaskedBins...)
	}
	if x.MaskedVariables != nil {
		c.MaskedVariables = append([]int(nil), x.MaskedVariables...)
	}
	return c
}

func (x *Instance) NumBins() int {
	return len(x.Values)
}

func (x *Instance) NumVariables() int {
	if len(x.Values) == 0 {
		return 0
	}
	return len(x.Values[0])
}

// PretrainTarget carries the reconstruction targets captured from an instance
// before it was corrupted. Rows of Values and Presence align with the
// corrupted instance's MaskedBins.
type PretrainTarget struct {
	// Values[i][v] is the uncorrupted standardized value at masked bin i.
	Values [][]float64
	// Presence[i][v] is 1 when variable v was observed in masked bin i.
	Presence [][]float64

	// EventVariable is the index of the fully masked variable, or -1 when
	// event masking is disabled.
	EventVariable int
	// EventValues[t] is the uncorrupted value time-course of the masked
	// variable.
	EventValues []float64
	// EventPresence[t] is 1 when the masked variable was observed in bin t.
	EventPresence []float64
}
