package model

// NameMap implements a bidirectional mapping between a column name and an index
type NameMap struct {
	NameToIndex map[string]int
	IndexToName map[int]string
}

func (f NameMap) Set(name string, index int) {
	f.NameToIndex[name] = index
	f.IndexToName[index] = name
}

func (f NameMap) Size() int {
	return len(f.IndexToName)
}

func (f NameMap) ContainsName(name string) (int, bool) {
	index, ok := f.NameToIndex[name]
	return index, ok
}

func NewNameMap() NameMap {
	return NameMap{
		NameToIndex: map[string]int{},
		IndexToName: map[int]string{},
	}
}

// ColumnStats holds per-column statistics computed over every observed value
// of the training split. They are frozen into the checkpoint so that
// validation and test data are standardized with the training statistics.
type ColumnStats struct {
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
	Count int
}

const statsEpsilon = 1e-7

// Standardize shifts and scales a raw value by the frozen statistics.
func (s ColumnStats) Standardize(value float64) float64 {
	return (value - s.Mean) / (s.Std + statsEpsilon)
}

type Metadata struct {
	GroupColumn  string
	TimeColumn   string
	TargetColumn string

	// Variables maps a time-series column name to its variable index.
	Variables NameMap
	// Statics maps a static column name to its feature index.
	Statics NameMap

	VariableStats []ColumnStats
	StaticStats   []ColumnStats

	// PositiveFraction is the share of positive targets in the training data.
	PositiveFraction float64
}

func NewMetadata() *Metadata {
	return &Metadata{
		Variables: NewNameMap(),
		Statics:   NewNameMap(),
	}
}

func (d *Metadata) NumVariables() int {
	return d.Variables.Size()
}

func (d *Metadata) NumStatic() int {
	return d.Statics.Size()
}
