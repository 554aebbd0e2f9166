package pkg

import "math"

// warmupSchedule ramps the learning rate linearly from zero over the warmup
// steps and then decays it with the inverse square root of the step count.
// The rate is continuous at the boundary.
type warmupSchedule struct {
	base   float64
	warmup float64
	decay  float64
	step   float64
}

// newWarmupSchedule builds a schedule for the given base rate. When
// decaySteps is not positive it defaults to warmupSteps.
func newWarmupSchedule(base float64, warmupSteps, decaySteps int) *warmupSchedule {
	if decaySteps <= 0 {
		decaySteps = warmupSteps
	}
	return &warmupSchedule{
		base:   base,
		warmup: float64(warmupSteps),
		decay:  float64(decaySteps),
	}
}

// next advances the schedule by one optimization step and returns the
// learning rate to apply to it.
func (w *warmupSchedule) next() float64 {
	w.step++
	if w.warmup <= 0 {
		return w.base
	}
	if w.step < w.warmup {
		return w.base * w.step / w.warmup
	}
	return w.base * math.Sqrt(w.decay/(w.step-w.warmup+w.decay))
}
