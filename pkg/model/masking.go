package model

import (
	"math/rand"
	"sort"
)

// MaskingPolicy owns all random corruption applied to instances: bin masking
// and variable masking for the self-supervised objective, and noise/blanking
// augmentation for supervised fine-tuning.
//
// The policy holds its own seeded generator and is not safe for concurrent
// use.
type MaskingPolicy struct {
	maskedSteps     int
	variableDropout float64
	predictEvents   bool
	augNoise        float64
	augMask         float64
	rnd             *rand.Rand
}

func NewMaskingPolicy(config Config, seed uint64) *MaskingPolicy {
	return &MaskingPolicy{
		maskedSteps:     config.PretrainMaskedSteps,
		variableDropout: config.PretrainDropout,
		predictEvents:   config.PredictEvents,
		augNoise:        config.AugNoise,
		augMask:         config.AugMask,
		rnd:             rand.New(rand.NewSource(int64(seed))),
	}
}

// Corrupt draws the masked bins and the masked variable for one instance,
// captures the reconstruction targets from the clean grid and returns a
// corrupted copy. The original instance is left untouched.
func (mp *MaskingPolicy) Corrupt(x *Instance) (*Instance, *PretrainTarget) {
	numBins := x.NumBins()
	numVars := x.NumVariables()

	k := mp.maskedSteps
	if k > numBins {
		k = numBins
	}
	bins := mp.rnd.Perm(numBins)[:k]
	sort.Ints(bins)

	target := &PretrainTarget{
		Values:        make([][]float64, len(bins)),
		Presence:      make([][]float64, len(bins)),
		EventVariable: -1,
	}
	for i, t := range bins {
		target.Values[i] = append([]float64(nil), x.Values[t]...)
		target.Presence[i] = presenceRow(x.Counts[t])
	}

	corrupted := x.Clone()
	corrupted.MaskedBins = bins
	for _, t := range bins {
		zeroRow(corrupted.Values[t])
		zeroRow(corrupted.Counts[t])
	}

	if mp.predictEvents && numVars > 0 {
		v := mp.rnd.Intn(numVars)
		target.EventVariable = v
		target.EventValues = make([]float64, numBins)
		target.EventPresence = make([]float64, numBins)
		for t := 0; t < numBins; t++ {
			target.EventValues[t] = x.Values[t][v]
			if x.Counts[t][v] > 0 {
				target.EventPresence[t] = 1
			}
		}
		corrupted.MaskedVariables = []int{v}
		for t := 0; t < numBins; t++ {
			corrupted.Values[t][v] = 0
			corrupted.Counts[t][v] = 0
		}
	}

	if mp.variableDropout > 0 {
		mp.dropVariables(corrupted, target)
	}
	return corrupted, target
}

// dropVariables blanks whole variable columns from the corrupted input so the
// network has to reconstruct them from context. Only variables that actually
// appear in the reconstruction targets are eligible.
func (mp *MaskingPolicy) dropVariables(corrupted *Instance, target *PretrainTarget) {
	for v := 0; v < corrupted.NumVariables(); v++ {
		if v == target.EventVariable {
			continue
		}
		observed := false
		for _, row := range target.Presence {
			if row[v] > 0 {
				observed = true
				break
			}
		}
		if !observed || mp.rnd.Float64() >= mp.variableDropout {
			continue
		}
		for t := 0; t < corrupted.NumBins(); t++ {
			corrupted.Values[t][v] = 0
			corrupted.Counts[t][v] = 0
		}
	}
}

// Augment applies fine-tuning augmentation: additive noise scaled by the
// observation count, followed by random blanking of whole bins. Blanked bins
// are rendered with the mask embedding like pretraining masks.
func (mp *MaskingPolicy) Augment(x *Instance) *Instance {
	if mp.augNoise <= 0 && mp.augMask <= 0 {
		return x
	}
	c := x.Clone()
	if mp.augNoise > 0 {
		for t := range c.Values {
			for v := range c.Values[t] {
				c.Values[t][v] += mp.augNoise * mp.rnd.NormFloat64() * c.Counts[t][v]
			}
		}
		for i := range c.Static {
			c.Static[i] += mp.augNoise * mp.rnd.NormFloat64()
		}
	}
	if mp.augMask > 0 {
		for t := range c.Values {
			if mp.rnd.Float64() >= mp.augMask {
				continue
			}
			zeroRow(c.Values[t])
			zeroRow(c.Counts[t])
			c.MaskedBins = append(c.MaskedBins, t)
		}
	}
	return c
}

func presenceRow(counts []float64) []float64 {
	row := make([]float64, len(counts))
	for v, c := range counts {
		if c > 0 {
			row[v] = 1
		}
	}
	return row
}

func zeroRow(row []float64) {
	for i := range row {
		row[i] = 0
	}
}
