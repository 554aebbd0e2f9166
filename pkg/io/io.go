package io

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

// DataBatch is one batch of binned records.
type DataBatch []*model.Instance

func (d DataBatch) Size() int {
	return len(d)
}

type DataParameters struct {
	DataFile      string
	GroupColumn   string
	TimeColumn    string
	TargetColumn  string
	StaticColumns []string
	NumBins       int
}

type DataError struct {
	Line  int
	Error string
}

type rawRecord struct {
	line         int
	target       float64
	static       []float64
	observations []observation
	lastTime     float64
	hasRows      bool
	invalid      bool
}

// columnLayout resolves the header positions of one file against the model
// metadata.
type columnLayout struct {
	group     int
	time      int
	target    int
	statics   []int
	variables []int
}

// LoadData reads a long-format CSV where every line is one raw timestep of a
// record: a group column identifies the record, a time column carries the
// offset since the record start, the target and the static columns are taken
// from the record's first line and every remaining column is a time-series
// variable (empty cell means not observed). The rows of each record are
// binned into NumBins fixed bins.
//
// With a nil metaData the file defines a new model: variable and static
// columns are indexed from the header and the standardization statistics and
// the target positive fraction are computed from this data. Passing the
// metadata of a trained model freezes all of that, so validation and test
// data are standardized exactly like the training split was.
func LoadData(p DataParameters, metaData *model.Metadata) (*model.Metadata, []*model.Instance, []DataError, error) {
	inputFile, err := os.Open(p.DataFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error opening file: %w", err)
	}
	defer inputFile.Close()
	return loadData(inputFile, p, metaData)
}

func loadData(input io.Reader, p DataParameters, metaData *model.Metadata) (*model.Metadata, []*model.Instance, []DataError, error) {
	if p.NumBins < 1 {
		return nil, nil, nil, fmt.Errorf("number of bins must be positive, got %d", p.NumBins)
	}
	reader := csv.NewReader(input)
	reader.Comma = ','

	// First line is expected to be a header.
	header, err := reader.Read()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error reading data header: %w", err)
	}

	newMetadata := false
	if metaData == nil {
		metaData = model.NewMetadata()
		newMetadata = true
		metaData.GroupColumn = p.GroupColumn
		metaData.TimeColumn = p.TimeColumn
		metaData.TargetColumn = p.TargetColumn
		for i, name := range p.StaticColumns {
			metaData.Statics.Set(name, i)
		}
	}
	layout, err := resolveColumns(header, metaData, newMetadata)
	if err != nil {
		return nil, nil, nil, err
	}

	var errors []DataError
	groups := map[string]*rawRecord{}
	var order []string
	line := 1

	for record, err := reader.Read(); err != io.EOF; record, err = reader.Read() {
		line++
		if err != nil {
			errors = append(errors, DataError{Line: line, Error: err.Error()})
			continue
		}
		groupID := record[layout.group]
		rec, ok := groups[groupID]
		if !ok {
			rec = newRawRecord(line, record, layout, metaData, &errors)
			groups[groupID] = rec
			order = append(order, groupID)
		}
		if rec.invalid {
			continue
		}

		t, err := strconv.ParseFloat(record[layout.time], 64)
		if err != nil {
			errors = append(errors, DataError{Line: line, Error: fmt.Sprintf("error parsing time: %v", err)})
			continue
		}
		if t < 0 {
			rec.invalid = true
			errors = append(errors, DataError{Line: line, Error: fmt.Sprintf("negative time %v", t)})
			continue
		}
		if rec.hasRows && t < rec.lastTime {
			rec.invalid = true
			errors = append(errors, DataError{Line: line, Error: fmt.Sprintf("time %v goes back before %v", t, rec.lastTime)})
			continue
		}
		rec.lastTime = t
		rec.hasRows = true

		for v, col := range layout.variables {
			cell := record[col]
			if cell == "" {
				continue
			}
			value, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				errors = append(errors, DataError{
					Line:  line,
					Error: fmt.Sprintf("error parsing %s: %v", metaData.Variables.IndexToName[v], err),
				})
				continue
			}
			if math.IsNaN(value) {
				continue
			}
			rec.observations = append(rec.observations, observation{time: t, variable: v, value: value})
		}
	}

	records := make([]*rawRecord, 0, len(order))
	for _, groupID := range order {
		rec := groups[groupID]
		if rec.invalid || !rec.hasRows {
			continue
		}
		if len(rec.observations) == 0 {
			errors = append(errors, DataError{Line: rec.line, Error: "record has no observed values"})
			continue
		}
		records = append(records, rec)
	}
	if newMetadata {
		computeStatistics(records, metaData)
	}

	instances := make([]*model.Instance, len(records))
	for i, rec := range records {
		instances[i] = buildInstance(rec, p.NumBins, metaData)
	}
	return metaData, instances, errors, nil
}

// newRawRecord starts a record from its first line: the target and the
// static features are read here and only here.
func newRawRecord(line int, record []string, layout *columnLayout, metaData *model.Metadata, errors *[]DataError) *rawRecord {
	rec := &rawRecord{line: line, static: make([]float64, len(layout.statics))}
	target, err := strconv.ParseFloat(record[layout.target], 64)
	if err != nil {
		rec.invalid = true
		*errors = append(*errors, DataError{Line: line, Error: fmt.Sprintf("error parsing target: %v", err)})
		return rec
	}
	if target != 0 && target != 1 {
		rec.invalid = true
		*errors = append(*errors, DataError{Line: line, Error: fmt.Sprintf("target must be 0 or 1, got %v", target)})
		return rec
	}
	rec.target = target
	for i, col := range layout.statics {
		cell := record[col]
		if cell == "" {
			rec.static[i] = math.NaN()
			continue
		}
		value, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			*errors = append(*errors, DataError{
				Line:  line,
				Error: fmt.Sprintf("error parsing %s: %v", metaData.Statics.IndexToName[i], err),
			})
			value = math.NaN()
		}
		rec.static[i] = value
	}
	return rec
}

func resolveColumns(header []string, metaData *model.Metadata, newMetadata bool) (*columnLayout, error) {
	layout := &columnLayout{group: -1, time: -1, target: -1}
	layout.statics = make([]int, metaData.NumStatic())
	for i := range layout.statics {
		layout.statics[i] = -1
	}
	if !newMetadata {
		layout.variables = make([]int, metaData.NumVariables())
		for i := range layout.variables {
			layout.variables[i] = -1
		}
	}

	for col, name := range header {
		switch name {
		case metaData.GroupColumn:
			layout.group = col
		case metaData.TimeColumn:
			layout.time = col
		case metaData.TargetColumn:
			layout.target = col
		default:
			if i, ok := metaData.Statics.ContainsName(name); ok {
				layout.statics[i] = col
				continue
			}
			if newMetadata {
				metaData.Variables.Set(name, metaData.Variables.Size())
				layout.variables = append(layout.variables, col)
				continue
			}
			if i, ok := metaData.Variables.ContainsName(name); ok {
				layout.variables[i] = col
				continue
			}
			return nil, fmt.Errorf("column %s is not part of the model metadata", name)
		}
	}

	if layout.group < 0 {
		return nil, fmt.Errorf("group column %s not found in data header", metaData.GroupColumn)
	}
	if layout.time < 0 {
		return nil, fmt.Errorf("time column %s not found in data header", metaData.TimeColumn)
	}
	if layout.target < 0 {
		return nil, fmt.Errorf("target column %s not found in data header", metaData.TargetColumn)
	}
	for i, col := range layout.statics {
		if col < 0 {
			return nil, fmt.Errorf("static column %s not found in data header", metaData.Statics.IndexToName[i])
		}
	}
	for i, col := range layout.variables {
		if col < 0 {
			return nil, fmt.Errorf("variable column %s not found in data header", metaData.Variables.IndexToName[i])
		}
	}
	return layout, nil
}

// computeStatistics fills the standardization statistics and the positive
// fraction from the raw training observations, before any binning.
func computeStatistics(records []*rawRecord, metaData *model.Metadata) {
	variables := make([]statsAccumulator, metaData.NumVariables())
	statics := make([]statsAccumulator, metaData.NumStatic())
	positives := 0
	for _, rec := range records {
		for _, obs := range rec.observations {
			variables[obs.variable].add(obs.value)
		}
		for i, v := range rec.static {
			if !math.IsNaN(v) {
				statics[i].add(v)
			}
		}
		if rec.target == 1 {
			positives++
		}
	}
	metaData.VariableStats = make([]model.ColumnStats, len(variables))
	for i := range variables {
		metaData.VariableStats[i] = variables[i].stats()
	}
	metaData.StaticStats = make([]model.ColumnStats, len(statics))
	for i := range statics {
		metaData.StaticStats[i] = statics[i].stats()
	}
	if len(records) > 0 {
		metaData.PositiveFraction = float64(positives) / float64(len(records))
	}
}
