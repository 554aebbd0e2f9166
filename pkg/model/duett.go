package model

import (
	"github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model/encoder"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/model/mlp"
)

var (
	_ nn.Model     = &DuETT{}
	_ nn.Processor = &Processor{}
)

// DuETT is an implementation of:
// "DuETT: Dual Event Time Transformer for Electronic Health Records" - https://arxiv.org/abs/2304.13017
//
// Irregular observations are binned into a fixed grid with one row per time
// bin and one column per variable. Each cell is embedded from its value and
// observation count, then a stack of paired transformer layers alternates
// attention along the event axis (columns) and the time axis (rows).
type DuETT struct {
	Config
	SpecialEmbeddings []*nn.Param
	CountEmbeddings   []*nn.Param
	VariableEmbedders []*mlp.Model
	TabEncoder        *mlp.Model
	TimeEmbedder      *TimeEmbedding
	EventPositions    []*nn.Param
	RepTimePosition   *nn.Param
	EventLayers       []*encoder.Layer
	TimeLayers        []*encoder.Layer
	Head              *mlp.Model
	ValueHead         *mlp.Model
	PresenceHead      *mlp.Model
	EventValueHead    *mlp.Model
	EventPresenceHead *mlp.Model
}

const (
	// maskedEmbeddingKey indexes the embedding rendered for masked cells.
	maskedEmbeddingKey = 0
	// repEmbeddingKey indexes the embedding of the representation row.
	repEmbeddingKey = 1

	numSpecialEmbeddings = 8
	// numCountEmbeddings bounds the observation-count vocabulary; higher
	// counts are clipped to the last entry.
	numCountEmbeddings = 16
)

func New(config Config) (*DuETT, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	etDim := config.EventTokenDim()
	ttDim := config.TimeTokenDim()

	m := &DuETT{Config: config}
	m.SpecialEmbeddings = newEmbeddingTable(numSpecialEmbeddings, config.EmbeddingDim)
	m.CountEmbeddings = newEmbeddingTable(numCountEmbeddings, 1)

	m.VariableEmbedders = make([]*mlp.Model, config.NumVariables)
	for v := range m.VariableEmbedders {
		m.VariableEmbedders[v] = mlp.New(mlp.Config{
			In:              2,
			Out:             config.EmbeddingDim,
			HiddenLayers:    config.EmbedHiddenLayers,
			HiddenDim:       config.EmbedHiddenDim,
			HiddenBatchNorm: true,
			BatchMomentum:   config.BatchMomentum,
		})
	}
	m.TabEncoder = mlp.New(mlp.Config{
		In:              config.NumStatic,
		Out:             config.EmbeddingDim,
		HiddenLayers:    config.TabHiddenLayers,
		HiddenDim:       config.TabHiddenDim,
		HiddenBatchNorm: true,
		BatchMomentum:   config.BatchMomentum,
	})
	m.TimeEmbedder = NewTimeEmbedding(ttDim, config.BatchMomentum)
	m.EventPositions = newEmbeddingTable(config.NumVariables+1, etDim)
	m.RepTimePosition = nn.NewParam(mat.NewEmptyVecDense(ttDim))

	m.EventLayers = make([]*encoder.Layer, config.NumLayers)
	m.TimeLayers = make([]*encoder.Layer, config.NumLayers)
	for l := 0; l < config.NumLayers; l++ {
		m.EventLayers[l] = encoder.NewLayer(encoder.Config{
			Dim:      etDim,
			InnerDim: config.EmbeddingDim,
			NumHeads: config.NumHeads,
			FFDim:    config.FFDim,
			Dropout:  config.TransformerDropout,
		})
		m.TimeLayers[l] = encoder.NewLayer(encoder.Config{
			Dim:      ttDim,
			InnerDim: config.EmbeddingDim,
			NumHeads: config.NumHeads,
			FFDim:    config.FFDim,
			Dropout:  config.TransformerDropout,
		})
	}

	m.Head = mlp.New(mlp.Config{
		In:              ttDim,
		Out:             config.TargetDimension,
		HiddenLayers:    config.HeadHiddenLayers,
		HiddenDim:       config.HeadHiddenDim,
		HiddenBatchNorm: true,
		BatchMomentum:   config.BatchMomentum,
	})
	// The self-supervised heads are always allocated so that checkpoints
	// keep a stable parameter set; the flags only gate the objectives.
	pretrainHead := func(in, out int) *mlp.Model {
		return mlp.New(mlp.Config{
			In:              in,
			Out:             out,
			HiddenLayers:    config.PretrainHiddenLayers,
			HiddenDim:       config.PretrainHiddenDim,
			HiddenBatchNorm: true,
			BatchMomentum:   config.BatchMomentum,
		})
	}
	m.ValueHead = pretrainHead(ttDim, config.NumVariables)
	m.PresenceHead = pretrainHead(ttDim, config.NumVariables)
	m.EventValueHead = pretrainHead(etDim, config.NumBins)
	m.EventPresenceHead = pretrainHead(etDim, config.NumBins)
	return m, nil
}

func newEmbeddingTable(size, dim int) []*nn.Param {
	table := make([]*nn.Param, size)
	for i := range table {
		table[i] = nn.NewParam(mat.NewEmptyVecDense(dim))
	}
	return table
}

func (m *DuETT) Init(generator *rand.LockedRand) {
	for _, p := range m.SpecialEmbeddings {
		initializers.Normal(p.Value(), 0.0, 1.0, generator)
	}
	for _, p := range m.CountEmbeddings {
		initializers.Normal(p.Value(), 0.0, 1.0, generator)
	}
	for _, p := range m.EventPositions {
		initializers.Normal(p.Value(), 0.0, 1.0, generator)
	}
	initializers.Normal(m.RepTimePosition.Value(), 0.0, 1.0, generator)
	for _, e := range m.VariableEmbedders {
		e.Init(generator)
	}
	m.TabEncoder.Init(generator)
	m.TimeEmbedder.Init(generator)
	for l := range m.EventLayers {
		m.EventLayers[l].Init(generator)
		m.TimeLayers[l].Init(generator)
	}
	m.Head.Init(generator)
	m.ValueHead.Init(generator)
	m.PresenceHead.Init(generator)
	m.EventValueHead.Init(generator)
	m.EventPresenceHead.Init(generator)
}

type Processor struct {
	nn.BaseProcessor
	model             *DuETT
	variableEmbedders []nn.Processor
	tabEncoder        nn.Processor
	timeEmbedder      nn.Processor
	eventLayers       []nn.Processor
	timeLayers        []nn.Processor
	head              nn.Processor
	valueHead         nn.Processor
	presenceHead      nn.Processor
	eventValueHead    nn.Processor
	eventPresenceHead nn.Processor
}

func (m *DuETT) NewProc(ctx nn.Context) nn.Processor {
	variableEmbedders := make([]nn.Processor, len(m.VariableEmbedders))
	for v := range variableEmbedders {
		variableEmbedders[v] = m.VariableEmbedders[v].NewProc(ctx)
	}
	eventLayers := make([]nn.Processor, len(m.EventLayers))
	timeLayers := make([]nn.Processor, len(m.TimeLayers))
	for l := range eventLayers {
		eventLayers[l] = m.EventLayers[l].NewProc(ctx)
		timeLayers[l] = m.TimeLayers[l].NewProc(ctx)
	}
	return &Processor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              ctx.Mode,
			Graph:             ctx.Graph,
			FullSeqProcessing: true,
		},
		model:             m,
		variableEmbedders: variableEmbedders,
		tabEncoder:        m.TabEncoder.NewProc(ctx),
		timeEmbedder:      m.TimeEmbedder.NewProc(ctx),
		eventLayers:       eventLayers,
		timeLayers:        timeLayers,
		head:              m.Head.NewProc(ctx),
		valueHead:         m.ValueHead.NewProc(ctx),
		presenceHead:      m.PresenceHead.NewProc(ctx),
		eventValueHead:    m.EventValueHead.NewProc(ctx),
		eventPresenceHead: m.EventPresenceHead.NewProc(ctx),
	}
}

func (p *Processor) Forward(xs ...ag.Node) []ag.Node {
	panic("Forward not implemented... please use Predict, Represent or Pretrain instead")
}

// encoding holds the outputs of the dual attention stack for one batch.
type encoding struct {
	// timeTokens[b][t] is the final time-axis token of bin t; index NumBins
	// is the representation token.
	timeTokens [][]ag.Node
	// cells[b][t][v] is the final grid cell embedding; row NumBins is the
	// representation row, column NumVariables the static column.
	cells [][][]ag.Node
}

// encode embeds the batch into the event/time grid and runs the dual
// attention stack. Every batch-normalized sub-model sees the whole batch in
// a single call.
func (p *Processor) encode(batch []*Instance) *encoding {
	g := p.Graph
	numBins := p.model.NumBins
	numVars := p.model.NumVariables
	dim := p.model.EmbeddingDim
	batchSize := len(batch)

	maskEmb := g.NewWrap(p.model.SpecialEmbeddings[maskedEmbeddingKey])
	repEmb := g.NewWrap(p.model.SpecialEmbeddings[repEmbeddingKey])
	countEmbs := make([]ag.Node, numCountEmbeddings)
	for i := range countEmbs {
		countEmbs[i] = g.NewWrap(p.model.CountEmbeddings[i])
	}

	// Cell embeddings, one batched call per variable.
	cellEmb := make([][][]ag.Node, batchSize)
	for b := range cellEmb {
		cellEmb[b] = make([][]ag.Node, numBins)
		for t := range cellEmb[b] {
			cellEmb[b][t] = make([]ag.Node, numVars)
		}
	}
	for v := 0; v < numVars; v++ {
		inputs := make([]ag.Node, 0, batchSize*numBins)
		for b := 0; b < batchSize; b++ {
			for t := 0; t < numBins; t++ {
				value := g.NewScalar(batch[b].Values[t][v])
				count := countEmbs[countIndex(batch[b].Counts[t][v])]
				inputs = append(inputs, g.Concat(value, count))
			}
		}
		outs := p.variableEmbedders[v].Forward(inputs...)
		i := 0
		for b := 0; b < batchSize; b++ {
			for t := 0; t < numBins; t++ {
				cellEmb[b][t][v] = outs[i]
				i++
			}
		}
	}

	// Static features, one embedding per record broadcast over the bins.
	statics := make([]ag.Node, batchSize)
	for b := range statics {
		statics[b] = g.NewVariable(mat.NewVecDense(batch[b].Static), false)
	}
	tabOut := p.tabEncoder.Forward(statics...)

	// Bin end times.
	timeInputs := make([]ag.Node, 0, batchSize*numBins)
	for b := 0; b < batchSize; b++ {
		for t := 0; t < numBins; t++ {
			timeInputs = append(timeInputs, g.NewScalar(batch[b].BinTimes[t]))
		}
	}
	timeEmbs := p.timeEmbedder.Forward(timeInputs...)
	repTimePos := g.NewWrap(p.model.RepTimePosition)

	// Assemble the grid. Masked variables take precedence over masked bins;
	// both render the same mask embedding node, so overlapping cells are
	// bit-identical by construction.
	cells := make([][][]ag.Node, batchSize)
	for b := 0; b < batchSize; b++ {
		rowMasked := make([]bool, numBins)
		for _, t := range batch[b].MaskedBins {
			rowMasked[t] = true
		}
		varMasked := make([]bool, numVars)
		for _, v := range batch[b].MaskedVariables {
			varMasked[v] = true
		}
		cells[b] = make([][]ag.Node, numBins+1)
		for t := 0; t <= numBins; t++ {
			cells[b][t] = make([]ag.Node, numVars+1)
			for v := 0; v <= numVars; v++ {
				switch {
				case v < numVars && varMasked[v]:
					cells[b][t][v] = maskEmb
				case t < numBins && rowMasked[t]:
					cells[b][t][v] = maskEmb
				case t == numBins:
					cells[b][t][v] = repEmb
				case v == numVars:
					cells[b][t][v] = tabOut[b]
				default:
					cells[b][t][v] = cellEmb[b][t][v]
				}
			}
		}
	}

	eventPos := make([]ag.Node, numVars+1)
	for v := range eventPos {
		eventPos[v] = g.NewWrap(p.model.EventPositions[v])
	}

	// Dual attention stack. The positional embeddings are added fresh at
	// every layer.
	timeTokens := make([][]ag.Node, batchSize)
	for l := 0; l < p.model.NumLayers; l++ {
		for b := 0; b < batchSize; b++ {
			eventTokens := make([]ag.Node, numVars+1)
			for v := 0; v <= numVars; v++ {
				parts := make([]ag.Node, numBins+1)
				for t := 0; t <= numBins; t++ {
					parts[t] = cells[b][t][v]
				}
				eventTokens[v] = g.Add(g.Concat(parts...), eventPos[v])
			}
			eventOut := p.eventLayers[l].Forward(eventTokens...)
			for v := 0; v <= numVars; v++ {
				for t := 0; t <= numBins; t++ {
					cells[b][t][v] = g.View(eventOut[v], t*dim, 0, dim, 1)
				}
			}
		}
		for b := 0; b < batchSize; b++ {
			tokens := make([]ag.Node, numBins+1)
			for t := 0; t <= numBins; t++ {
				parts := make([]ag.Node, numVars+1)
				for v := 0; v <= numVars; v++ {
					parts[v] = cells[b][t][v]
				}
				pos := repTimePos
				if t < numBins {
					pos = timeEmbs[b*numBins+t]
				}
				tokens[t] = g.Add(g.Concat(parts...), pos)
			}
			timeOut := p.timeLayers[l].Forward(tokens...)
			for t := 0; t <= numBins; t++ {
				for v := 0; v <= numVars; v++ {
					cells[b][t][v] = g.View(timeOut[t], v*dim, 0, dim, 1)
				}
			}
			timeTokens[b] = timeOut
		}
	}
	return &encoding{timeTokens: timeTokens, cells: cells}
}

// fuse collapses the time tokens into one representation per record.
func (p *Processor) fuse(enc *encoding, batch []*Instance) []ag.Node {
	g := p.Graph
	numBins := p.model.NumBins
	zs := make([]ag.Node, len(batch))
	for b := range batch {
		switch p.model.Fusion {
		case FusionRepToken:
			zs[b] = enc.timeTokens[b][numBins]
		case FusionAveraging:
			var sum ag.Node
			for t := 0; t < numBins; t++ {
				sum = g.Add(sum, enc.timeTokens[b][t])
			}
			zs[b] = g.DivScalar(sum, g.Constant(float64(numBins)))
		case FusionMaskedEmbed:
			if bins := batch[b].MaskedBins; len(bins) > 0 {
				zs[b] = enc.timeTokens[b][bins[0]]
			} else {
				// No masked bin to read from outside pretraining; fall
				// back to the last real bin.
				zs[b] = enc.timeTokens[b][numBins-1]
			}
		}
	}
	return zs
}

// Predict returns the supervised head logits for every record of the batch.
func (p *Processor) Predict(batch []*Instance) []ag.Node {
	enc := p.encode(batch)
	return p.head.Forward(p.fuse(enc, batch)...)
}

// Represent returns the fused representation for every record. With multiple
// masked steps the per-step tokens are concatenated, zero-padded to the
// configured step count so the width is fixed.
func (p *Processor) Represent(batch []*Instance) []ag.Node {
	enc := p.encode(batch)
	if p.model.Fusion != FusionMaskedEmbed || p.model.PretrainMaskedSteps <= 1 {
		return p.fuse(enc, batch)
	}
	g := p.Graph
	ttDim := p.model.TimeTokenDim()
	steps := p.model.PretrainMaskedSteps
	zs := make([]ag.Node, len(batch))
	for b := range batch {
		bins := batch[b].MaskedBins
		parts := make([]ag.Node, steps)
		for i := range parts {
			switch {
			case i < len(bins):
				parts[i] = enc.timeTokens[b][bins[i]]
			case i == 0:
				parts[i] = enc.timeTokens[b][p.model.NumBins-1]
			default:
				parts[i] = g.NewVariable(mat.NewEmptyVecDense(ttDim), false)
			}
		}
		zs[b] = g.Concat(parts...)
	}
	return zs
}

// PretrainOutput holds the self-supervised head outputs for one batch.
// Values and Presence rows align with each instance's MaskedBins.
type PretrainOutput struct {
	Values        [][]ag.Node
	Presence      [][]ag.Node
	EventValues   []ag.Node
	EventPresence []ag.Node
}

// Pretrain runs the encoder on a corrupted batch and applies the
// reconstruction heads at the masked positions.
func (p *Processor) Pretrain(batch []*Instance) *PretrainOutput {
	g := p.Graph
	enc := p.encode(batch)
	out := &PretrainOutput{
		Values:   make([][]ag.Node, len(batch)),
		Presence: make([][]ag.Node, len(batch)),
	}

	var maskedTokens []ag.Node
	for b := range batch {
		for _, t := range batch[b].MaskedBins {
			maskedTokens = append(maskedTokens, enc.timeTokens[b][t])
		}
	}
	scatter := func(outs []ag.Node) [][]ag.Node {
		rows := make([][]ag.Node, len(batch))
		i := 0
		for b := range batch {
			rows[b] = outs[i : i+len(batch[b].MaskedBins)]
			i += len(batch[b].MaskedBins)
		}
		return rows
	}
	if p.model.PretrainValue && len(maskedTokens) > 0 {
		out.Values = scatter(p.valueHead.Forward(maskedTokens...))
	}
	if p.model.PretrainPresence && len(maskedTokens) > 0 {
		out.Presence = scatter(p.presenceHead.Forward(maskedTokens...))
	}

	if p.model.PredictEvents {
		numBins := p.model.NumBins
		var eventTokens []ag.Node
		var owners []int
		for b := range batch {
			if len(batch[b].MaskedVariables) == 0 {
				continue
			}
			v := batch[b].MaskedVariables[0]
			parts := make([]ag.Node, numBins+1)
			for t := 0; t <= numBins; t++ {
				parts[t] = enc.cells[b][t][v]
			}
			eventTokens = append(eventTokens, g.Concat(parts...))
			owners = append(owners, b)
		}
		if len(eventTokens) > 0 {
			out.EventValues = make([]ag.Node, len(batch))
			values := p.eventValueHead.Forward(eventTokens...)
			for i, b := range owners {
				out.EventValues[b] = values[i]
			}
			if p.model.PretrainPresence {
				out.EventPresence = make([]ag.Node, len(batch))
				presence := p.eventPresenceHead.Forward(eventTokens...)
				for i, b := range owners {
					out.EventPresence[b] = presence[i]
				}
			}
		}
	}
	return out
}

func countIndex(count float64) int {
	i := int(count)
	if i < 0 {
		return 0
	}
	if i >= numCountEmbeddings {
		return numCountEmbeddings - 1
	}
	return i
}
