package model

import "fmt"

// FusionMethod selects how the time-axis tokens are collapsed into the final
// fixed-size representation.
type FusionMethod string

const (
	// FusionRepToken takes the learned representation token appended after
	// the last time bin.
	FusionRepToken FusionMethod = "rep_token"
	// FusionMaskedEmbed takes the token(s) at the masked bins; used together
	// with the self-supervised objective.
	FusionMaskedEmbed FusionMethod = "masked_embed"
	// FusionAveraging averages the tokens of all time bins, excluding the
	// representation token.
	FusionAveraging FusionMethod = "averaging"
)

// Config holds every structural hyperparameter of the network. Dimensions
// that depend on the dataset (NumVariables, NumStatic) are filled in from the
// parsed metadata before the model is built.
type Config struct {
	NumBins         int
	NumVariables    int
	NumStatic       int
	TargetDimension int

	EmbeddingDim int
	NumHeads     int
	NumLayers    int
	FFDim        int

	EmbedHiddenLayers int
	EmbedHiddenDim    int
	TabHiddenLayers   int
	TabHiddenDim      int
	HeadHiddenLayers  int
	HeadHiddenDim     int

	PretrainHiddenLayers   int
	PretrainHiddenDim      int
	PretrainMaskedSteps    int
	PretrainDropout        float64
	PretrainValue          bool
	PretrainPresence       bool
	PretrainPresenceWeight float64
	PredictEvents          bool

	TransformerDropout float64
	BatchMomentum      float64
	Fusion             FusionMethod

	AugNoise float64
	AugMask  float64

	// PositiveFraction weights the supervised loss; zero disables weighting.
	PositiveFraction float64
}

// EventTokenDim is the width of one event-axis token: one cell embedding per
// time bin plus one for the representation row.
func (c Config) EventTokenDim() int {
	return c.EmbeddingDim * (c.NumBins + 1)
}

// TimeTokenDim is the width of one time-axis token: one cell embedding per
// time-series variable plus one for the static column.
func (c Config) TimeTokenDim() int {
	return c.EmbeddingDim * (c.NumVariables + 1)
}

func (c Config) Validate() error {
	if c.NumBins < 1 {
		return fmt.Errorf("config: number of bins must be positive, got %d", c.NumBins)
	}
	if c.NumVariables < 1 {
		return fmt.Errorf("config: number of time-series variables must be positive, got %d", c.NumVariables)
	}
	if c.NumStatic < 0 {
		return fmt.Errorf("config: number of static features must not be negative, got %d", c.NumStatic)
	}
	if c.TargetDimension < 1 {
		return fmt.Errorf("config: target dimension must be positive, got %d", c.TargetDimension)
	}
	if c.EmbeddingDim < 1 || c.NumHeads < 1 || c.NumLayers < 1 || c.FFDim < 1 {
		return fmt.Errorf("config: embedding dim, heads, layers and feed-forward dim must all be positive")
	}
	if c.EmbeddingDim%c.NumHeads != 0 {
		return fmt.Errorf("config: embedding dim %d is not divisible by %d attention heads", c.EmbeddingDim, c.NumHeads)
	}
	if c.PretrainMaskedSteps < 1 {
		return fmt.Errorf("config: masked steps must be positive, got %d", c.PretrainMaskedSteps)
	}
	if c.PositiveFraction < 0 || c.PositiveFraction >= 1 {
		return fmt.Errorf("config: positive fraction must be in [0, 1), got %f", c.PositiveFraction)
	}
	switch c.Fusion {
	case FusionRepToken, FusionMaskedEmbed, FusionAveraging:
	default:
		return fmt.Errorf("config: unknown fusion method %q", c.Fusion)
	}
	return nil
}
