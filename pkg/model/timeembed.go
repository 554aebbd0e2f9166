package model

import (
	"math"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"
)

var (
	_ nn.Model     = &TimeEmbedding{}
	_ nn.Processor = &TimeEmbeddingProcessor{}
)

// TimeEmbedding turns a scalar bin end time into a dense vector through a
// small bottleneck: linear, tanh, batch normalization, linear.
type TimeEmbedding struct {
	OutDim    int
	HiddenDim int
	In        *linear.Model
	Norm      *batchnorm.Model
	Out       *linear.Model
}

func NewTimeEmbedding(outDim int, momentum float64) *TimeEmbedding {
	hidden := int(math.Sqrt(float64(outDim)))
	if hidden < 1 {
		hidden = 1
	}
	return &TimeEmbedding{
		OutDim:    outDim,
		HiddenDim: hidden,
		In:        linear.New(1, hidden),
		Norm:      batchnorm.NewWithMomentum(hidden, momentum),
		Out:       linear.New(hidden, outDim),
	}
}

func (m *TimeEmbedding) Init(generator *rand.LockedRand) {
	initializers.XavierUniform(m.In.W.Value(), initializers.Gain(ag.OpTanh), generator)
	initializers.XavierUniform(m.Out.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

type TimeEmbeddingProcessor struct {
	nn.BaseProcessor
	in   nn.Processor
	norm nn.Processor
	out  nn.Processor
}

func (m *TimeEmbedding) NewProc(ctx nn.Context) nn.Processor {
	return &TimeEmbeddingProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              ctx.Mode,
			Graph:             ctx.Graph,
			FullSeqProcessing: true,
		},
		in:   m.In.NewProc(ctx),
		norm: m.Norm.NewProc(ctx),
		out:  m.Out.NewProc(ctx),
	}
}

// Forward embeds the whole batch of scalar times at once so that batch
// normalization sees all of them.
func (p *TimeEmbeddingProcessor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	ys := p.in.Forward(xs...)
	for i := range ys {
		ys[i] = g.Tanh(ys[i])
	}
	return p.out.Forward(p.norm.Forward(ys...)...)
}
