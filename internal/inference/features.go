// Package inference turns window statistics and call metrics into a masking verdict.
package inference

import (
	"context"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// Feature names in vector order. The order is part of the model contract.
const (
	FeatureASR             = "asr"
	FeatureALOC            = "aloc"
	FeatureOverlapRatio    = "overlap_ratio"
	FeatureCLIMismatch     = "cli_mismatch"
	FeatureDistinctCallers = "distinct_callers"
	FeatureCallRate        = "call_rate"
	FeatureShortCallRatio  = "short_call_ratio"
	FeatureHighVolume      = "high_volume"
)

// FeatureNames lists the vector positions.
var FeatureNames = []string{
	FeatureASR,
	FeatureALOC,
	FeatureOverlapRatio,
	FeatureCLIMismatch,
	FeatureDistinctCallers,
	FeatureCallRate,
	FeatureShortCallRatio,
	FeatureHighVolume,
}

// Features is the model input for one destination.
type Features struct {
	ASR             float64
	ALOC            float64
	OverlapRatio    float64
	CLIMismatch     bool
	DistinctCallers int
	CallRate        float64
	ShortCallRatio  float64
	HighVolume      bool
}

// NewFeatures assembles the input from metrics, the mismatch flag and the window count.
func NewFeatures(m domain.CDRMetrics, cliMismatch bool, distinctCallers int) Features {
	return Features{
		ASR:             m.AnswerSeizureRatio,
		ALOC:            m.AverageLengthOfCall,
		OverlapRatio:    m.OverlapRatio,
		CLIMismatch:     cliMismatch,
		DistinctCallers: distinctCallers,
		CallRate:        m.CallRate,
		ShortCallRatio:  m.ShortCallRatio,
		HighVolume:      m.HighVolume,
	}
}

// Vector returns the fixed-order numeric tuple.
func (f Features) Vector() []float64 {
	return []float64{
		f.ASR,
		f.ALOC,
		f.OverlapRatio,
		boolFloat(f.CLIMismatch),
		float64(f.DistinctCallers),
		f.CallRate,
		f.ShortCallRatio,
		boolFloat(f.HighVolume),
	}
}

// Model scores a feature vector with a probability in [0,1].
type Model interface {
	Name() string
	Score(ctx context.Context, f Features) (float64, error)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
