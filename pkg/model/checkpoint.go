package model

import (
	"fmt"
	"strings"

	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model/encoder"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/model/mlp"
)

// ParamEntry is one named tensor of a serialized model state.
type ParamEntry struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

// Adjustment describes one state entry that could not be restored verbatim.
type Adjustment struct {
	Key    string
	Reason string
}

type paramRef struct {
	name  string
	param *nn.Param
}

func (m *DuETT) namedParams() []paramRef {
	var refs []paramRef
	for i, p := range m.SpecialEmbeddings {
		refs = append(refs, paramRef{fmt.Sprintf("special_embeddings.%d", i), p})
	}
	for i, p := range m.CountEmbeddings {
		refs = append(refs, paramRef{fmt.Sprintf("count_embeddings.%d", i), p})
	}
	for v, e := range m.VariableEmbedders {
		refs = appendMLPParams(refs, fmt.Sprintf("variable_embedders.%d", v), e)
	}
	refs = appendMLPParams(refs, "tab_encoder", m.TabEncoder)
	refs = appendLinearParams(refs, "time_embedder.in", m.TimeEmbedder.In)
	refs = appendBatchNormParams(refs, "time_embedder.norm", m.TimeEmbedder.Norm)
	refs = appendLinearParams(refs, "time_embedder.out", m.TimeEmbedder.Out)
	for i, p := range m.EventPositions {
		refs = append(refs, paramRef{fmt.Sprintf("event_positions.%d", i), p})
	}
	refs = append(refs, paramRef{"rep_time_position", m.RepTimePosition})
	for l := range m.EventLayers {
		refs = appendLayerParams(refs, fmt.Sprintf("event_layers.%d", l), m.EventLayers[l])
		refs = appendLayerParams(refs, fmt.Sprintf("time_layers.%d", l), m.TimeLayers[l])
	}
	refs = appendMLPParams(refs, "head", m.Head)
	refs = appendMLPParams(refs, "value_head", m.ValueHead)
	refs = appendMLPParams(refs, "presence_head", m.PresenceHead)
	refs = appendMLPParams(refs, "event_value_head", m.EventValueHead)
	refs = appendMLPParams(refs, "event_presence_head", m.EventPresenceHead)
	return refs
}

func appendLinearParams(refs []paramRef, prefix string, l *linear.Model) []paramRef {
	return append(refs,
		paramRef{prefix + ".w", l.W},
		paramRef{prefix + ".b", l.B})
}

func appendBatchNormParams(refs []paramRef, prefix string, n *batchnorm.Model) []paramRef {
	return append(refs,
		paramRef{prefix + ".w", n.W},
		paramRef{prefix + ".b", n.B},
		paramRef{prefix + ".mean", n.Mean},
		paramRef{prefix + ".std", n.StdDev})
}

func appendLayerNormParams(refs []paramRef, prefix string, n *layernorm.Model) []paramRef {
	return append(refs,
		paramRef{prefix + ".w", n.W},
		paramRef{prefix + ".b", n.B})
}

func appendMLPParams(refs []paramRef, prefix string, m *mlp.Model) []paramRef {
	for i, l := range m.Linears {
		refs = appendLinearParams(refs, fmt.Sprintf("%s.linears.%d", prefix, i), l)
	}
	for i, n := range m.Norms {
		refs = appendBatchNormParams(refs, fmt.Sprintf("%s.norms.%d", prefix, i), n)
	}
	return refs
}

func appendLayerParams(refs []paramRef, prefix string, l *encoder.Layer) []paramRef {
	refs = appendLinearParams(refs, prefix+".attention.query", l.Attention.Query)
	refs = appendLinearParams(refs, prefix+".attention.key", l.Attention.Key)
	refs = appendLinearParams(refs, prefix+".attention.value", l.Attention.Value)
	refs = appendLinearParams(refs, prefix+".attention.output", l.Attention.Output)
	refs = appendLayerNormParams(refs, prefix+".norm1", l.Norm1)
	refs = appendLayerNormParams(refs, prefix+".norm2", l.Norm2)
	refs = appendLinearParams(refs, prefix+".ff1", l.FF1)
	refs = appendLinearParams(refs, prefix+".ff2", l.FF2)
	return refs
}

// StateDict captures every parameter of the model, running batch statistics
// included, keyed by a stable dotted name.
func (m *DuETT) StateDict() []ParamEntry {
	refs := m.namedParams()
	entries := make([]ParamEntry, len(refs))
	for i, ref := range refs {
		value := ref.param.Value()
		entries[i] = ParamEntry{
			Name: ref.name,
			Rows: value.Rows(),
			Cols: value.Columns(),
			Data: append([]float64(nil), value.Data()...),
		}
	}
	return entries
}

// LoadStateDict restores a saved state into the model, tolerating the
// differences that arise when a pretrained encoder is reused for a new task:
// entries unknown to the model are dropped, parameters missing from the
// state keep their fresh values, and supervised head entries whose shape
// changed (a different target dimension) keep the fresh values too. Every
// such adjustment is reported. A shape mismatch anywhere else is an error.
func (m *DuETT) LoadStateDict(entries []ParamEntry) ([]Adjustment, error) {
	refs := m.namedParams()
	byName := make(map[string]*nn.Param, len(refs))
	for _, ref := range refs {
		byName[ref.name] = ref.param
	}
	restored := make(map[string]bool, len(entries))
	var adjustments []Adjustment
	for _, entry := range entries {
		param, ok := byName[entry.Name]
		if !ok {
			adjustments = append(adjustments, Adjustment{
				Key:    entry.Name,
				Reason: "not part of this model, dropped",
			})
			continue
		}
		value := param.Value()
		rows, cols := value.Rows(), value.Columns()
		if rows != entry.Rows || cols != entry.Cols {
			if strings.HasPrefix(entry.Name, "head") {
				restored[entry.Name] = true
				adjustments = append(adjustments, Adjustment{
					Key: entry.Name,
					Reason: fmt.Sprintf("shape %dx%d does not match %dx%d, keeping fresh values",
						entry.Rows, entry.Cols, rows, cols),
				})
				continue
			}
			return nil, fmt.Errorf("parameter %s: shape %dx%d does not match %dx%d",
				entry.Name, entry.Rows, entry.Cols, rows, cols)
		}
		if len(entry.Data) != rows*cols {
			return nil, fmt.Errorf("parameter %s: %d values for shape %dx%d",
				entry.Name, len(entry.Data), rows, cols)
		}
		i := 0
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				value.Set(r, c, entry.Data[i])
				i++
			}
		}
		restored[entry.Name] = true
	}
	for _, ref := range refs {
		if !restored[ref.name] {
			adjustments = append(adjustments, Adjustment{
				Key:    ref.name,
				Reason: "missing from the saved state, keeping fresh values",
			})
		}
	}
	return adjustments, nil
}

// AverageStates returns the element-wise mean of the given states. All
// states must name the same parameters with the same shapes.
func AverageStates(states [][]ParamEntry) ([]ParamEntry, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("no states to average")
	}
	first := states[0]
	mean := make([]ParamEntry, len(first))
	for i, entry := range first {
		mean[i] = ParamEntry{
			Name: entry.Name,
			Rows: entry.Rows,
			Cols: entry.Cols,
			Data: append([]float64(nil), entry.Data...),
		}
	}
	for _, state := range states[1:] {
		if len(state) != len(first) {
			return nil, fmt.Errorf("state has %d parameters, expected %d", len(state), len(first))
		}
		for i, entry := range state {
			if entry.Name != mean[i].Name || entry.Rows != mean[i].Rows || entry.Cols != mean[i].Cols {
				return nil, fmt.Errorf("parameter %s does not line up with %s", entry.Name, mean[i].Name)
			}
			for j, v := range entry.Data {
				mean[i].Data[j] += v
			}
		}
	}
	scale := 1.0 / float64(len(states))
	for i := range mean {
		for j := range mean[i].Data {
			mean[i].Data[j] *= scale
		}
	}
	return mean, nil
}

// HeadParamsIterator yields only the supervised head parameters so that an
// optimizer built on it leaves the rest of the network frozen.
type HeadParamsIterator struct {
	model *DuETT
}

var _ nn.ParamsGetter = &HeadParamsIterator{}

func NewHeadParamsIterator(model *DuETT) *HeadParamsIterator {
	return &HeadParamsIterator{model: model}
}

func (h *HeadParamsIterator) Params() []*nn.Param {
	refs := appendMLPParams(nil, "head", h.model.Head)
	params := make([]*nn.Param, len(refs))
	for i, ref := range refs {
		params[i] = ref.param
	}
	return params
}
