package inference

import (
	"context"
	"math"
	"sync"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
	"github.com/abiolaogu/VoxGuard-sub001/internal/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MethodRulesFallback marks a verdict produced by rules because the model failed.
const MethodRulesFallback = "rules_fallback"

// Engine produces verdicts. A configured model is tried first through a
// circuit breaker; the rule scorer answers when there is no model or it fails.
type Engine struct {
	mu        sync.RWMutex
	threshold float64

	rules   *RuleScorer
	model   Model
	breaker *resilience.Breaker
	tracer  trace.Tracer
}

// NewEngine builds the engine selected by cfg.Strategy.
func NewEngine(cfg domain.InferenceConfig, callerThreshold int, threshold float64) (*Engine, error) {
	if err := validateThreshold(threshold); err != nil {
		return nil, err
	}

	e := &Engine{
		threshold: threshold,
		rules:     NewRuleScorer(callerThreshold, cfg.Weights),
		tracer:    otel.Tracer("voxguard/inference"),
	}

	switch cfg.Strategy {
	case "", MethodRules:
	case MethodCEL:
		m, err := NewCELModel(cfg.Expression)
		if err != nil {
			return nil, &domain.ConfigurationError{Field: "inference.expression", Value: cfg.Expression, Reason: err.Error()}
		}
		e.WithModel(m, cfg.Breaker)
	default:
		return nil, &domain.ConfigurationError{Field: "inference.strategy", Value: cfg.Strategy, Reason: "must be rules or cel"}
	}
	return e, nil
}

// WithModel installs a model behind a breaker named after it.
func (e *Engine) WithModel(m Model, cfg domain.BreakerConfig) *Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.model = m
	e.breaker = resilience.NewBreaker("model-"+m.Name(), cfg)
	return e
}

// Threshold returns the probability at which a verdict becomes masking.
func (e *Engine) Threshold() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.threshold
}

// UpdateThreshold replaces the threshold. Values outside [0,1] are rejected
// and the previous value stays in effect.
func (e *Engine) UpdateThreshold(v float64) error {
	if err := validateThreshold(v); err != nil {
		return err
	}
	e.mu.Lock()
	e.threshold = v
	e.mu.Unlock()
	return nil
}

// Evaluate predicts with the current threshold.
func (e *Engine) Evaluate(ctx context.Context, m domain.CDRMetrics, cliMismatch bool, distinctCallers int) domain.PredictionResult {
	return e.Predict(ctx, m, cliMismatch, distinctCallers, e.Threshold())
}

// Predict scores the features and applies threshold.
func (e *Engine) Predict(ctx context.Context, m domain.CDRMetrics, cliMismatch bool, distinctCallers int, threshold float64) domain.PredictionResult {
	ctx, span := e.tracer.Start(ctx, "inference.Predict")
	defer span.End()

	f := NewFeatures(m, cliMismatch, distinctCallers)

	e.mu.RLock()
	model, breaker := e.model, e.breaker
	e.mu.RUnlock()

	p, method := e.rules.score(f), MethodRules
	if model != nil {
		v, err := breaker.Execute(func() (interface{}, error) {
			return model.Score(ctx, f)
		})
		if err == nil {
			p, method = v.(float64), model.Name()
		} else {
			metrics.BackendFailures.WithLabelValues("model").Inc()
			if !resilience.Rejected(err) {
				logging.Warn().Err(err).Str("model", model.Name()).Msg("scoring model failed, using rules")
			}
			method = MethodRulesFallback
		}
	}

	score := domain.NewFraudScore(p)
	result := domain.PredictionResult{
		IsMasking:   float64(score) >= threshold,
		Probability: score,
		Confidence:  score.Risk(),
		Method:      method,
		Features:    f.Vector(),
	}

	span.SetAttributes(
		attribute.String("b_number", m.BNumber),
		attribute.Int("distinct_callers", distinctCallers),
		attribute.Float64("probability", float64(score)),
		attribute.Bool("is_masking", result.IsMasking),
		attribute.String("method", method),
	)
	return result
}

func validateThreshold(v float64) error {
	if v < 0 || v > 1 || math.IsNaN(v) {
		return &domain.ConfigurationError{Field: "probability_threshold", Value: v, Reason: "must be within [0,1]"}
	}
	return nil
}
