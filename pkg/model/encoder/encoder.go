package encoder

import (
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/layernorm"
)

var (
	_ nn.Model     = &Layer{}
	_ nn.Processor = &LayerProcessor{}
)

type Config struct {
	Dim      int
	InnerDim int
	NumHeads int
	FFDim    int
	Dropout  float64
}

// Layer is one encoder layer in pre-norm arrangement:
//
//	x = x + Drop(Attn(LN(x)))
//	x = x + Drop(FF(LN(x)))
type Layer struct {
	Config
	Attention *Attention
	Norm1     *layernorm.Model
	Norm2     *layernorm.Model
	FF1       *linear.Model
	FF2       *linear.Model
}

func NewLayer(config Config) *Layer {
	return &Layer{
		Config:    config,
		Attention: NewAttention(config.Dim, config.InnerDim, config.NumHeads),
		Norm1:     layernorm.New(config.Dim),
		Norm2:     layernorm.New(config.Dim),
		FF1:       linear.New(config.Dim, config.FFDim),
		FF2:       linear.New(config.FFDim, config.Dim),
	}
}

func (m *Layer) Init(generator *rand.LockedRand) {
	m.Attention.Init(generator)
	initializers.XavierUniform(m.FF1.W.Value(), initializers.Gain(ag.OpReLU), generator)
	initializers.XavierUniform(m.FF2.W.Value(), initializers.Gain(ag.OpIdentity), generator)
}

type LayerProcessor struct {
	nn.BaseProcessor
	config    Config
	attention nn.Processor
	norm1     nn.Processor
	norm2     nn.Processor
	ff1       nn.Processor
	ff2       nn.Processor
}

func (m *Layer) NewProc(ctx nn.Context) nn.Processor {
	return &LayerProcessor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              ctx.Mode,
			Graph:             ctx.Graph,
			FullSeqProcessing: true,
		},
		config:    m.Config,
		attention: m.Attention.NewProc(ctx),
		norm1:     m.Norm1.NewProc(ctx),
		norm2:     m.Norm2.NewProc(ctx),
		ff1:       m.FF1.NewProc(ctx),
		ff2:       m.FF2.NewProc(ctx),
	}
}

func (p *LayerProcessor) drop(x ag.Node) ag.Node {
	if p.config.Dropout > 0 && p.Mode == nn.Training {
		return p.Graph.Dropout(x, p.config.Dropout)
	}
	return x
}

func (p *LayerProcessor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	attended := p.attention.Forward(p.norm1.Forward(xs...)...)
	ys := make([]ag.Node, len(xs))
	for i := range xs {
		ys[i] = g.Add(xs[i], p.drop(attended[i]))
	}

	hidden := p.ff1.Forward(p.norm2.Forward(ys...)...)
	for i := range hidden {
		hidden[i] = p.drop(g.ReLU(hidden[i]))
	}
	out := p.ff2.Forward(hidden...)
	zs := make([]ag.Node, len(ys))
	for i := range ys {
		zs[i] = g.Add(ys[i], p.drop(out[i]))
	}
	return zs
}
