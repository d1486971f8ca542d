package inference

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// MethodCEL names the expression model in results.
const MethodCEL = "cel"

// CELModel scores with an operator-supplied CEL expression over the features,
// e.g. `distinct_callers >= 5 && cli_mismatch ? 0.95 : overlap_ratio`.
// A bool result maps to 0 or 1; numbers are clamped to [0,1].
type CELModel struct {
	expression string
	program    cel.Program
}

// NewCELModel compiles expression against the feature variables.
func NewCELModel(expression string) (*CELModel, error) {
	env, err := cel.NewEnv(
		cel.Variable(FeatureASR, cel.DoubleType),
		cel.Variable(FeatureALOC, cel.DoubleType),
		cel.Variable(FeatureOverlapRatio, cel.DoubleType),
		cel.Variable(FeatureCLIMismatch, cel.BoolType),
		cel.Variable(FeatureDistinctCallers, cel.IntType),
		cel.Variable(FeatureCallRate, cel.DoubleType),
		cel.Variable(FeatureShortCallRatio, cel.DoubleType),
		cel.Variable(FeatureHighVolume, cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile scoring expression: %w", issues.Err())
	}

	out := ast.OutputType()
	if out != cel.BoolType && out != cel.DoubleType && out != cel.IntType {
		return nil, fmt.Errorf("scoring expression must return bool, int, or double, got %s", out)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for scoring expression: %w", err)
	}
	return &CELModel{expression: expression, program: program}, nil
}

func (m *CELModel) Name() string { return MethodCEL }

// Score evaluates the expression. Evaluation errors are returned so the
// engine can fall back to rules.
func (m *CELModel) Score(ctx context.Context, f Features) (float64, error) {
	out, _, err := m.program.ContextEval(ctx, map[string]any{
		FeatureASR:             f.ASR,
		FeatureALOC:            f.ALOC,
		FeatureOverlapRatio:    f.OverlapRatio,
		FeatureCLIMismatch:     f.CLIMismatch,
		FeatureDistinctCallers: int64(f.DistinctCallers),
		FeatureCallRate:        f.CallRate,
		FeatureShortCallRatio:  f.ShortCallRatio,
		FeatureHighVolume:      f.HighVolume,
	})
	if err != nil {
		return 0, fmt.Errorf("evaluation error: %w", err)
	}
	return clamp01(toScore(out)), nil
}

func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1
		}
		return 0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0
	}
}
