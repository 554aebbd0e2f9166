// Package encoder implements the transformer encoder layer applied along a
// single axis of the event/time grid: multi-head scaled dot-product
// self-attention followed by a position-wise feed-forward block, each behind
// a residual connection with pre-normalization.
package encoder

import (
	"math"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
)

var (
	_ nn.Model     = &Attention{}
	_ nn.Processor = &AttentionProcessor{}
)

// Attention projects every token down to InnerDim, splits it into per-head
// query, key and value slices, mixes the full token sequence and projects the
// result back up to Dim. The axis tokens are wide concatenations of many cell
// embeddings, so the attention works in this narrower inner space.
//
// The sequence length is fixed by the axis (bins or variables), so no padding
// mask is needed.
type Attention struct {
	Dim      int
	InnerDim int
	NumHeads int
	HeadDim  int
	Query    *linear.Model
	Key      *linear.Model
	Value    *linear.Model
	Output   *linear.Model
}

// NewAttention expects innerDim to be a multiple of numHeads. The model
// constructor validates this before building any layer.
func NewAttention(dim, innerDim, numHeads int) *Attention {
	return &Attention{
		Dim:      dim,
		InnerDim: innerDim,
		NumHeads: numHeads,
		HeadDim:  innerDim / numHeads,
		Query:    linear.New(dim, innerDim),
		Key:      linear.New(dim, innerDim),
		Value:    linear.New(dim, innerDim),
		Output:   linear.New(innerDim, dim),
	}
}

func (m *Attention) Init(generator *rand.LockedRand) {
	gain := initializers.Gain(ag.OpIdentity)
	initializers.XavierUniform(m.Query.W.Value(), gain, generator)
	initializers.XavierUniform(m.Key.W.Value(), gain, generator)
	initializers.XavierUniform(m.Value.W.Value(), gain, generator)
	initializers.XavierUniform(m.Output.W.Value(), gain, generator)
}

type AttentionProcessor struct {
	nn.BaseProcessor
	model  *Attention
	query  nn.Processor
	key    nn.Processor
	value  nn.Processor
	output nn.Processor
}

func (m *Attention) NewProc(ctx nn.Context) nn.Processor {
	return &AttentionProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              ctx.Mode,
			Graph:             ctx.Graph,
			FullSeqProcessing: true,
		},
		model:  m,
		query:  m.Query.NewProc(ctx),
		key:    m.Key.NewProc(ctx),
		value:  m.Value.NewProc(ctx),
		output: m.Output.NewProc(ctx),
	}
}

// Forward attends every token to every other token of the sequence.
func (p *AttentionProcessor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	n := len(xs)
	qs := p.query.Forward(xs...)
	ks := p.key.Forward(xs...)
	vs := p.value.Forward(xs...)

	scale := g.Constant(math.Sqrt(float64(p.model.HeadDim)))
	heads := make([][]ag.Node, n)
	for i := range heads {
		heads[i] = make([]ag.Node, p.model.NumHeads)
	}
	for h := 0; h < p.model.NumHeads; h++ {
		start := h * p.model.HeadDim
		kh := make([]ag.Node, n)
		vh := make([]ag.Node, n)
		for i := 0; i < n; i++ {
			kh[i] = g.View(ks[i], start, 0, p.model.HeadDim, 1)
			vh[i] = g.View(vs[i], start, 0, p.model.HeadDim, 1)
		}
		keys := g.Stack(kh...)
		values := g.T(g.Stack(vh...))
		for i := 0; i < n; i++ {
			qh := g.View(qs[i], start, 0, p.model.HeadDim, 1)
			scores := g.Softmax(g.DivScalar(g.Mul(keys, qh), scale))
			heads[i][h] = g.Mul(values, scores)
		}
	}

	ys := make([]ag.Node, n)
	for i := 0; i < n; i++ {
		ys[i] = g.Concat(heads[i]...)
	}
	return p.output.Forward(ys...)
}
