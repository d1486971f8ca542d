package inference

import (
	"context"
	"math"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// MethodRules names the deterministic scorer in results.
const MethodRules = "rules"

// RuleScorer is the reproducible baseline. Up to CallerThreshold distinct
// callers the base score stays below 0.3; once callers exceed the threshold it
// jumps to 0.6 and saturates at 0.9. Mismatch and overlap add to it, healthy
// ASR and ALOC take away.
type RuleScorer struct {
	CallerThreshold int
	Weights         domain.RuleWeights
}

// NewRuleScorer creates a scorer with the given caller threshold and weights.
func NewRuleScorer(callerThreshold int, w domain.RuleWeights) *RuleScorer {
	if callerThreshold < 1 {
		callerThreshold = 1
	}
	return &RuleScorer{CallerThreshold: callerThreshold, Weights: w}
}

func (r *RuleScorer) Name() string { return MethodRules }

// Score never fails.
func (r *RuleScorer) Score(_ context.Context, f Features) (float64, error) {
	return r.score(f), nil
}

func (r *RuleScorer) score(f Features) float64 {
	ratio := float64(f.DistinctCallers) / float64(r.CallerThreshold)

	var p float64
	if f.DistinctCallers > r.CallerThreshold {
		p = 0.6 + 0.3*math.Min(1, ratio-1)
	} else {
		p = 0.3 * ratio
	}

	if f.CLIMismatch {
		p += r.Weights.MismatchBonus
	}
	p += r.Weights.OverlapWeight * clamp01(f.OverlapRatio)

	p -= r.Weights.ASRPenalty * clamp01(f.ASR/100)
	if r.Weights.ALOCReferenceSeconds > 0 {
		p -= r.Weights.ALOCPenalty * math.Min(f.ALOC/r.Weights.ALOCReferenceSeconds, 1)
	}

	return clamp01(p)
}
