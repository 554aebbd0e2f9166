package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func gridInstance(numBins, numVariables int) *Instance {
	x := NewInstance(numBins, numVariables, 2)
	for t := 0; t < numBins; t++ {
		for v := 0; v < numVariables; v++ {
			x.Values[t][v] = float64(t*numVariables+v+1) / 10.0
			x.Counts[t][v] = 1
		}
		x.BinTimes[t] = float64(t + 1)
	}
	x.Static[0] = 0.5
	x.Static[1] = -0.5
	return x
}

func maskingConfig(steps int) Config {
	return Config{PretrainMaskedSteps: steps}
}

func TestCorruptMasksDistinctSortedBins(t *testing.T) {
	policy := NewMaskingPolicy(maskingConfig(3), 11)
	x := gridInstance(6, 2)

	corrupted, target := policy.Corrupt(x)

	require.Len(t, corrupted.MaskedBins, 3)
	for i, bin := range corrupted.MaskedBins {
		require.GreaterOrEqual(t, bin, 0)
		require.Less(t, bin, 6)
		if i > 0 {
			require.Greater(t, bin, corrupted.MaskedBins[i-1])
		}
	}
	require.Len(t, target.Values, 3)
	for i, bin := range corrupted.MaskedBins {
		require.Equal(t, x.Values[bin], target.Values[i])
		require.Equal(t, []float64{0, 0}, corrupted.Values[bin])
		require.Equal(t, []float64{0, 0}, corrupted.Counts[bin])
	}
	// The original instance stays clean.
	require.Empty(t, x.MaskedBins)
	require.Equal(t, 0.1, x.Values[0][0])
}

func TestCorruptCapsStepsAtNumBins(t *testing.T) {
	policy := NewMaskingPolicy(maskingConfig(10), 1)
	corrupted, target := policy.Corrupt(gridInstance(4, 2))

	require.Equal(t, []int{0, 1, 2, 3}, corrupted.MaskedBins)
	require.Len(t, target.Values, 4)
}

func TestCorruptPresenceTargetsClipCounts(t *testing.T) {
	policy := NewMaskingPolicy(maskingConfig(2), 1)
	x := gridInstance(2, 3)
	x.Counts[0] = []float64{0, 1, 3}
	x.Counts[1] = []float64{2, 0, 1}

	_, target := policy.Corrupt(x)

	require.Equal(t, []float64{0, 1, 1}, target.Presence[0])
	require.Equal(t, []float64{1, 0, 1}, target.Presence[1])
}

func TestCorruptEventMasking(t *testing.T) {
	config := maskingConfig(2)
	config.PredictEvents = true
	policy := NewMaskingPolicy(config, 7)
	x := gridInstance(4, 3)
	x.Counts[2][1] = 0

	corrupted, target := policy.Corrupt(x)

	v := target.EventVariable
	require.GreaterOrEqual(t, v, 0)
	require.Less(t, v, 3)
	require.Equal(t, []int{v}, corrupted.MaskedVariables)
	for bin := 0; bin < 4; bin++ {
		require.Equal(t, x.Values[bin][v], target.EventValues[bin])
		require.Zero(t, corrupted.Values[bin][v])
		require.Zero(t, corrupted.Counts[bin][v])
		if x.Counts[bin][v] > 0 {
			require.Equal(t, 1.0, target.EventPresence[bin])
		} else {
			require.Zero(t, target.EventPresence[bin])
		}
	}
}

func TestCorruptVariableDropout(t *testing.T) {
	config := maskingConfig(2)
	config.PretrainDropout = 1.0
	policy := NewMaskingPolicy(config, 3)
	x := gridInstance(4, 2)
	for bin := 0; bin < 4; bin++ {
		x.Counts[bin][1] = 0
	}

	corrupted, _ := policy.Corrupt(x)

	masked := make(map[int]bool)
	for _, bin := range corrupted.MaskedBins {
		masked[bin] = true
	}
	for bin := 0; bin < 4; bin++ {
		// Variable 0 is observed in the target rows, so the whole column
		// drops. Variable 1 is never observed and survives outside the
		// masked bins.
		require.Zero(t, corrupted.Values[bin][0])
		if !masked[bin] {
			require.Equal(t, x.Values[bin][1], corrupted.Values[bin][1])
		}
	}
	require.Empty(t, corrupted.MaskedVariables)
}

func TestCorruptIsDeterministicForSeed(t *testing.T) {
	config := maskingConfig(3)
	config.PredictEvents = true
	x := gridInstance(8, 3)

	a, targetA := NewMaskingPolicy(config, 42).Corrupt(x)
	b, targetB := NewMaskingPolicy(config, 42).Corrupt(x)

	require.Equal(t, a.MaskedBins, b.MaskedBins)
	require.Equal(t, a.MaskedVariables, b.MaskedVariables)
	require.Equal(t, a.Values, b.Values)
	require.Equal(t, targetA, targetB)
}

func TestAugmentNoiseScalesWithCount(t *testing.T) {
	config := Config{AugNoise: 0.5}
	policy := NewMaskingPolicy(config, 5)
	x := gridInstance(3, 2)
	x.Counts[1][1] = 0

	augmented := policy.Augment(x)

	require.NotSame(t, x, augmented)
	require.Equal(t, x.Values[1][1], augmented.Values[1][1])
	require.NotEqual(t, x.Values[0][0], augmented.Values[0][0])
	require.NotEqual(t, x.Static[0], augmented.Static[0])
	// Counts carry through for the count embedding lookup.
	require.Equal(t, x.Counts, augmented.Counts)
}

func TestAugmentMaskBlanksRows(t *testing.T) {
	config := Config{AugMask: 1.0}
	policy := NewMaskingPolicy(config, 5)
	x := gridInstance(3, 2)

	augmented := policy.Augment(x)

	require.Equal(t, []int{0, 1, 2}, augmented.MaskedBins)
	for bin := 0; bin < 3; bin++ {
		require.Equal(t, []float64{0, 0}, augmented.Values[bin])
	}
	require.Empty(t, x.MaskedBins)
}

func TestAugmentWithoutAugmentationReturnsSameInstance(t *testing.T) {
	policy := NewMaskingPolicy(Config{}, 5)
	x := gridInstance(2, 2)
	require.Same(t, x, policy.Augment(x))
}
