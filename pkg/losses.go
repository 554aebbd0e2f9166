package pkg

import (
	"github.com/nlpodyssey/spago/pkg/mat"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/losses"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

const probEpsilon = 1e-7

// binaryCrossEntropy is the sigmoid cross entropy of a logit vector against
// 0/1 targets, averaged over the components.
func binaryCrossEntropy(g *ag.Graph, logits ag.Node, targets []float64) ag.Node {
	prob := g.Sigmoid(logits)
	complement := g.Neg(g.SubScalar(prob, g.Constant(1.0)))
	eps := g.Constant(probEpsilon)

	positives := make([]float64, len(targets))
	negatives := make([]float64, len(targets))
	for i, t := range targets {
		positives[i] = t
		negatives[i] = 1 - t
	}
	likelihood := g.Add(
		g.Prod(g.NewVariable(mat.NewVecDense(positives), false), g.Log(g.AddScalar(prob, eps))),
		g.Prod(g.NewVariable(mat.NewVecDense(negatives), false), g.Log(g.AddScalar(complement, eps))))
	sum := g.ReduceSum(likelihood)
	return g.Neg(g.DivScalar(sum, g.Constant(float64(len(targets)))))
}

// supervisedLoss is the class-weighted sigmoid cross entropy for one record:
// positives weigh 1/(2 f) and negatives 1/(2 (1-f)) where f is the positive
// fraction of the training split, so both classes contribute equally in
// expectation. A zero fraction disables the weighting.
func supervisedLoss(g *ag.Graph, logit ag.Node, target, positiveFraction float64) ag.Node {
	weight := 1.0
	if positiveFraction > 0 {
		if target == 1 {
			weight = 1 / (2 * positiveFraction)
		} else {
			weight = 1 / (2 * (1 - positiveFraction))
		}
	}
	loss := binaryCrossEntropy(g, logit, []float64{target})
	if weight == 1 {
		return loss
	}
	return g.Mul(loss, g.Constant(weight))
}

// pretrainLoss combines the reconstruction objectives of one corrupted
// batch. Values are regressed only where an observation was present, the
// presence logits are trained against the observation mask, and the event
// objectives do the same along the masked variable's column. The presence
// terms are scaled by the configured weight.
func pretrainLoss(g *ag.Graph, config model.Config, out *model.PretrainOutput, targets []*model.PretrainTarget) ag.Node {
	presenceWeight := g.Constant(config.PretrainPresenceWeight)
	var loss ag.Node
	for b, tgt := range targets {
		if config.PretrainValue && len(out.Values[b]) > 0 {
			var valueLoss ag.Node
			for i, pred := range out.Values[b] {
				mask := g.NewVariable(mat.NewVecDense(tgt.Presence[i]), false)
				values := g.NewVariable(mat.NewVecDense(tgt.Values[i]), false)
				step := losses.MSE(g, g.Prod(pred, mask), g.Prod(values, mask), true)
				valueLoss = g.Add(valueLoss, step)
			}
			loss = g.Add(loss, g.DivScalar(valueLoss, g.Constant(float64(len(out.Values[b])))))
		}
		if config.PretrainPresence && len(out.Presence[b]) > 0 {
			var presenceLoss ag.Node
			for i, pred := range out.Presence[b] {
				presenceLoss = g.Add(presenceLoss, binaryCrossEntropy(g, pred, tgt.Presence[i]))
			}
			presenceLoss = g.DivScalar(presenceLoss, g.Constant(float64(len(out.Presence[b]))))
			loss = g.Add(loss, g.Mul(presenceLoss, presenceWeight))
		}
		if tgt.EventVariable < 0 || out.EventValues == nil || out.EventValues[b] == nil {
			continue
		}
		eventMask := g.NewVariable(mat.NewVecDense(tgt.EventPresence), false)
		if config.PretrainValue {
			eventValues := g.NewVariable(mat.NewVecDense(tgt.EventValues), false)
			loss = g.Add(loss, losses.MSE(g,
				g.Prod(out.EventValues[b], eventMask),
				g.Prod(eventValues, eventMask), true))
		}
		if config.PretrainPresence && out.EventPresence != nil && out.EventPresence[b] != nil {
			loss = g.Add(loss, g.Mul(binaryCrossEntropy(g, out.EventPresence[b], tgt.EventPresence), presenceWeight))
		}
	}
	if loss == nil {
		return g.Constant(0)
	}
	return g.DivScalar(loss, g.Constant(float64(len(targets))))
}
