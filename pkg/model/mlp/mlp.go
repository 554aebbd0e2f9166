// Package mlp provides the feed-forward block used by the embedding
// projectors and prediction heads: a stack of linear layers with ReLU
// activations, optional dropout, and batch normalization ahead of every
// hidden linear after the first.
package mlp

import (
	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/initializers"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/nn/linear"
	"github.com/nlpodyssey/spago/pkg/ml/nn/normalization/batchnorm"
)

var (
	_ nn.Model     = &Model{}
	_ nn.Processor = &Processor{}
)

type Config struct {
	In              int
	Out             int
	HiddenLayers    int
	HiddenDim       int
	HiddenBatchNorm bool
	FinalActivation bool
	Dropout         float64
	BatchMomentum   float64
}

type Model struct {
	Config
	Linears []*linear.Model
	Norms   []*batchnorm.Model
}

func New(config Config) *Model {
	m := &Model{Config: config}
	if config.HiddenLayers == 0 {
		m.Linears = []*linear.Model{linear.New(config.In, config.Out)}
		return m
	}
	m.Linears = append(m.Linears, linear.New(config.In, config.HiddenDim))
	for i := 1; i < config.HiddenLayers; i++ {
		m.Linears = append(m.Linears, linear.New(config.HiddenDim, config.HiddenDim))
	}
	m.Linears = append(m.Linears, linear.New(config.HiddenDim, config.Out))
	if config.HiddenBatchNorm {
		m.Norms = make([]*batchnorm.Model, config.HiddenLayers)
		for i := range m.Norms {
			m.Norms[i] = batchnorm.NewWithMomentum(config.HiddenDim, config.BatchMomentum)
		}
	}
	return m
}

func (m *Model) Init(generator *rand.LockedRand) {
	for i, l := range m.Linears {
		gain := initializers.Gain(ag.OpReLU)
		if i == len(m.Linears)-1 && !m.FinalActivation {
			gain = initializers.Gain(ag.OpIdentity)
		}
		initializers.XavierUniform(l.W.Value(), gain, generator)
	}
}

type Processor struct {
	nn.BaseProcessor
	config  Config
	linears []nn.Processor
	norms   []nn.Processor
}

func (m *Model) NewProc(ctx nn.Context) nn.Processor {
	linears := make([]nn.Processor, len(m.Linears))
	for i := range linears {
		linears[i] = m.Linears[i].NewProc(ctx)
	}
	norms := make([]nn.Processor, len(m.Norms))
	for i := range norms {
		norms[i] = m.Norms[i].NewProc(ctx)
	}
	return &Processor{
		BaseProcessor: nn.BaseProcessor{
			Model:             m,
			Mode:              ctx.Mode,
			Graph:             ctx.Graph,
			FullSeqProcessing: true,
		},
		config:  m.Config,
		linears: linears,
		norms:   norms,
	}
}

// Forward runs the whole batch at once so that batch normalization sees
// every element of it.
func (p *Processor) Forward(xs ...ag.Node) []ag.Node {
	g := p.Graph
	ys := xs
	for i, l := range p.linears {
		if i > 0 && len(p.norms) > 0 {
			ys = p.norms[i-1].Forward(ys...)
		}
		ys = l.Forward(ys...)
		last := i == len(p.linears)-1
		if !last || p.config.FinalActivation {
			for k := range ys {
				ys[k] = g.ReLU(ys[k])
			}
		}
		if !last && p.config.Dropout > 0 && p.Mode == nn.Training {
			for k := range ys {
				ys[k] = g.Dropout(ys[k], p.config.Dropout)
			}
		}
	}
	return ys
}
