// Package detection orchestrates the call-masking pipeline: it keeps the call
// lifecycle, feeds the sliding window, asks for a verdict and turns a verdict
// into at most one PENDING alert per destination and cooldown period.
package detection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/cdr"
	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
	"github.com/abiolaogu/VoxGuard-sub001/internal/metrics"
	"github.com/abiolaogu/VoxGuard-sub001/internal/resilience"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Decision is the observable outcome of one signal.
type Decision string

const (
	// DecisionIgnored: the signal carried nothing the pipeline uses.
	DecisionIgnored Decision = "ignored"
	// DecisionUpdated: a non-INVITE signal moved a known call along its lifecycle.
	DecisionUpdated Decision = "updated"
	// DecisionDuplicate: a retransmitted INVITE for a call already registered.
	DecisionDuplicate Decision = "duplicate"
	// DecisionObserved: the window was updated and the verdict was not masking.
	DecisionObserved Decision = "observed"
	// DecisionAlerted: a new PENDING alert was created.
	DecisionAlerted Decision = "alerted"
	// DecisionSuppressed: masking, but an alert for the destination is still cooling down.
	DecisionSuppressed Decision = "suppressed"
)

// Result reports what happened to a signal.
type Result struct {
	Decision          Decision                 `json:"decision"`
	Call              *domain.Call             `json:"call,omitempty"`
	DistinctCallers   int                      `json:"distinctCallers"`
	Metrics           *domain.CDRMetrics       `json:"metrics,omitempty"`
	Prediction        *domain.PredictionResult `json:"prediction,omitempty"`
	Alert             *domain.FraudAlert       `json:"alert,omitempty"`
	AlertID           string                   `json:"alertId,omitempty"`
	FlaggedCalls      int                      `json:"flaggedCalls,omitempty"`
	Blacklisted       []*domain.BlacklistEntry `json:"blacklisted,omitempty"`
	SourceBlacklisted bool                     `json:"sourceBlacklisted,omitempty"`
	Degraded          bool                     `json:"degraded,omitempty"`
}

// Predictor produces a verdict with its current threshold.
type Predictor interface {
	Evaluate(ctx context.Context, m domain.CDRMetrics, cliMismatch bool, distinctCallers int) domain.PredictionResult
}

// Deps are the collaborators of the Service. TimeSeries is optional.
type Deps struct {
	Calls      domain.CallRepository
	Alerts     domain.AlertRepository
	Blacklist  domain.BlacklistRepository
	Window     domain.DetectionCache
	Predictor  Predictor
	Bus        domain.EventBus
	TimeSeries domain.TimeSeriesStore
	Cooldown   *Cooldown
}

// Options hold the detection policy.
type Options struct {
	Window        domain.DetectionWindow
	Threshold     domain.DetectionThreshold
	AutoBlock     bool
	BlockDuration time.Duration
	StoreTimeout  time.Duration
	CDR           cdr.Options
	Breaker       domain.BreakerConfig
	// Now is the arrival clock. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig validates the detection section and builds Options.
func OptionsFromConfig(cfg domain.DetectionConfig, breaker domain.BreakerConfig) (Options, error) {
	w, err := domain.NewDetectionWindow(cfg.WindowSeconds)
	if err != nil {
		return Options{}, err
	}
	th, err := domain.NewDetectionThreshold(cfg.CallerThreshold, cfg.CooldownSeconds)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Window:        w,
		Threshold:     th,
		AutoBlock:     cfg.AutoBlock,
		BlockDuration: time.Duration(cfg.BlockHours) * time.Hour,
		StoreTimeout:  cfg.StoreTimeout,
		CDR: cdr.Options{
			ShortCall:          time.Duration(cfg.ShortCallSeconds) * time.Second,
			HighVolumeAttempts: cfg.HighVolumeAttempts,
		},
		Breaker: breaker,
	}, nil
}

// Service processes call signals.
type Service struct {
	deps Deps
	opts Options

	locks     keyedMutex
	tsBreaker *resilience.Breaker
	tracer    trace.Tracer
	log       zerolog.Logger
}

// NewService wires the pipeline. Calls, Alerts, Window, Predictor and Bus are required.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Calls == nil || deps.Alerts == nil || deps.Window == nil || deps.Predictor == nil || deps.Bus == nil {
		return nil, fmt.Errorf("detection: calls, alerts, window, predictor and bus are required")
	}
	if opts.Window.Seconds <= 0 {
		return nil, &domain.ConfigurationError{Field: "window_seconds", Value: opts.Window.Seconds, Reason: "must be positive"}
	}
	if opts.Threshold.DistinctCallers < 1 {
		return nil, &domain.ConfigurationError{Field: "caller_threshold", Value: opts.Threshold.DistinctCallers, Reason: "must be at least 1"}
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Cooldown == nil {
		deps.Cooldown = NewCooldown(opts.Threshold.Cooldown())
	}

	s := &Service{
		deps:   deps,
		opts:   opts,
		tracer: otel.Tracer("voxguard/detection"),
		log:    logging.With().Str("component", "detection").Logger(),
	}
	if deps.TimeSeries != nil {
		s.tsBreaker = resilience.NewBreaker("timeseries", opts.Breaker)
	}
	return s, nil
}

// Cooldown exposes the tracker shared with the AlertService.
func (s *Service) Cooldown() *Cooldown { return s.deps.Cooldown }

// ProcessSignal runs one parsed signal through the pipeline. Errors never
// leave shared state half-updated; a BackendUnavailableError comes back with
// a usable, degraded Result.
func (s *Service) ProcessSignal(ctx context.Context, sig *domain.CallSignal) (*Result, error) {
	if sig == nil {
		return nil, &domain.ProtocolParseError{Reason: "empty signal"}
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "detection.ProcessSignal", trace.WithAttributes(
		attribute.String("call_id", sig.CallID),
		attribute.String("method", sig.Method),
	))
	defer span.End()

	res, err := s.process(ctx, sig)

	outcome := "error"
	if res != nil {
		outcome = string(res.Decision)
		span.SetAttributes(attribute.String("decision", outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.SignalsProcessed.WithLabelValues(outcome).Inc()
	metrics.DetectionLatency.Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Service) process(ctx context.Context, sig *domain.CallSignal) (*Result, error) {
	if sig.CallID == "" {
		return nil, &domain.ProtocolParseError{Reason: "missing Call-ID"}
	}
	now := s.opts.Now()

	switch sig.Method {
	case domain.MethodInvite:
		return s.invite(ctx, sig, now)
	case domain.MethodResponse, domain.MethodBye, domain.MethodCancel:
		return s.lifecycle(ctx, sig, now)
	default:
		return &Result{Decision: DecisionIgnored}, nil
	}
}

// invite registers the call and evaluates its destination.
func (s *Service) invite(ctx context.Context, sig *domain.CallSignal, now time.Time) (*Result, error) {
	if sig.BNumber == "" {
		return nil, &domain.ProtocolParseError{Reason: "INVITE without destination number"}
	}
	aNumber := sig.CallerID
	if aNumber == "" {
		aNumber = sig.AssertedIdentity
	}

	res := &Result{}

	existing, err := s.findCall(ctx, sig.CallID)
	switch {
	case err == nil:
		res.Decision = DecisionDuplicate
		res.Call = existing
		return res, nil
	case !errors.Is(err, domain.ErrNotFound):
		res.Degraded = true
	}

	call := domain.NewCall(sig.CallID, aNumber, sig.BNumber, sig.SourceIP, now)
	res.Call = call
	if err := s.saveCall(ctx, call); err != nil {
		res.Degraded = true
	}

	added, err := s.addCaller(ctx, call)
	if err != nil {
		res.Decision = DecisionObserved
		res.Degraded = true
		return res, err
	}
	if !added {
		res.Decision = DecisionDuplicate
		return res, nil
	}

	s.publish(ctx, domain.NewCallRegisteredEvent(call, now))

	err = s.evaluate(ctx, sig, call, now, res)
	return res, err
}

func (s *Service) addCaller(ctx context.Context, call *domain.Call) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()

	// One caller written two ways must count once.
	caller := domain.NumberKey(call.ANumber)
	added, err := s.deps.Window.AddCaller(sctx, call.BNumber, caller, call.CallID, call.SourceIP, s.opts.Window.Seconds)
	if err != nil {
		return false, s.unavailable("cache", err)
	}
	return added, nil
}

// evidence is everything fetched before the decision.
type evidence struct {
	entries      []domain.CallerEntry
	windowFailed bool
	calls        []*domain.Call
	aggregates   map[string]float64
	blacklisted  bool
	degraded     bool
}

// fetch loads the window, the calls and the enrichment in parallel. No lock
// is held; every store call is bounded by StoreTimeout and a failure only
// degrades the evidence.
func (s *Service) fetch(ctx context.Context, call *domain.Call, now time.Time) *evidence {
	ev := &evidence{}
	var mu sync.Mutex
	degrade := func(backend string, err error) {
		_ = s.unavailable(backend, err)
		mu.Lock()
		ev.degraded = true
		mu.Unlock()
	}

	b := call.BNumber
	var g errgroup.Group

	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
		entries, err := s.deps.Window.DistinctCallers(sctx, b)
		if err != nil {
			ev.windowFailed = true
			degrade("cache", err)
			return nil
		}
		ev.entries = entries
		return nil
	})

	g.Go(func() error {
		sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
		calls, err := s.deps.Calls.FindCallsInWindow(sctx, b, now.Add(-s.opts.Window.Duration()), now)
		if err != nil {
			degrade("repository", err)
			return nil
		}
		ev.calls = calls
		return nil
	})

	if s.deps.Blacklist != nil && call.SourceIP != "" {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
			defer cancel()
			listed, err := s.deps.Blacklist.IsBlacklisted(sctx, call.SourceIP)
			if err != nil {
				degrade("repository", err)
				return nil
			}
			ev.blacklisted = listed
			return nil
		})
	}

	if s.deps.TimeSeries != nil {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
			defer cancel()
			v, err := s.tsBreaker.Execute(func() (interface{}, error) {
				return s.deps.TimeSeries.GetCallMetrics(sctx, b, s.opts.Window.Seconds)
			})
			if err != nil {
				degrade("timeseries", err)
				return nil
			}
			ev.aggregates, _ = v.(map[string]float64)
			return nil
		})
	}

	_ = g.Wait()

	if !containsCall(ev.calls, call.CallID) {
		ev.calls = append(ev.calls, call)
	}
	return ev
}

func (s *Service) evaluate(ctx context.Context, sig *domain.CallSignal, call *domain.Call, now time.Time, res *Result) error {
	ev := s.fetch(ctx, call, now)
	res.Degraded = res.Degraded || ev.degraded
	res.SourceBlacklisted = ev.blacklisted

	distinct := len(ev.entries)
	if ev.windowFailed {
		// Window unreadable: fall back to the calls the repository returned.
		distinct = distinctANumbers(ev.calls)
	}
	res.DistinctCallers = distinct

	m := cdr.Calculate(call.BNumber, ev.calls, s.opts.Window.Duration(), now, s.opts.CDR)
	m = cdr.Merge(m, ev.aggregates)
	m.Degraded = res.Degraded
	res.Metrics = &m

	pred := s.deps.Predictor.Evaluate(ctx, m, sig.HasIdentityMismatch, distinct)
	res.Prediction = &pred

	if !pred.IsMasking {
		res.Decision = DecisionObserved
		return nil
	}

	// Decide under the destination lock, then commit outside it. The local
	// cooldown is a fast path; the store has the final word in commitAlert.
	unlock := s.locks.Lock(call.BNumber)
	existingID, cooling := s.deps.Cooldown.Active(call.BNumber, now)
	var alert *domain.FraudAlert
	if !cooling {
		alert = s.newAlert(call.BNumber, distinct, pred, ev, now)
		s.deps.Cooldown.Reserve(call.BNumber, alert.ID, now)
	}
	unlock()

	callIDs := evidenceCallIDs(ev.entries, call)

	if cooling {
		s.suppress(ctx, call.BNumber, existingID, callIDs, res)
		return nil
	}

	return s.commitAlert(ctx, alert, callIDs, now, res)
}

// suppress attaches the evidence to the alert already cooling down.
func (s *Service) suppress(ctx context.Context, bNumber, alertID string, callIDs []string, res *Result) {
	res.Decision = DecisionSuppressed
	res.AlertID = alertID
	metrics.AlertsSuppressed.Inc()
	res.FlaggedCalls = s.flag(ctx, callIDs, alertID, res)
	s.log.Debug().
		Str("b_number", bNumber).
		Str("alert_id", alertID).
		Int("flagged", res.FlaggedCalls).
		Msg("alert suppressed by cooldown")
}

func (s *Service) newAlert(bNumber string, distinct int, pred domain.PredictionResult, ev *evidence, now time.Time) *domain.FraudAlert {
	fraudType := domain.FraudCLISpoofing
	if distinct > s.opts.Threshold.DistinctCallers {
		fraudType = domain.FraudSIMBox
	}

	aNumbers := make([]string, 0, len(ev.entries))
	var sourceIPs []string
	seen := make(map[string]struct{})
	for _, e := range ev.entries {
		aNumbers = append(aNumbers, e.ANumber)
		if e.SourceIP == "" {
			continue
		}
		if _, ok := seen[e.SourceIP]; !ok {
			seen[e.SourceIP] = struct{}{}
			sourceIPs = append(sourceIPs, e.SourceIP)
		}
	}
	return domain.NewFraudAlert(bNumber, fraudType, distinct, pred.Probability, pred.Method, aNumbers, sourceIPs, now)
}

func (s *Service) commitAlert(ctx context.Context, alert *domain.FraudAlert, callIDs []string, now time.Time, res *Result) error {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	existing, err := s.deps.Alerts.CreateAlert(sctx, alert, now.Add(-s.deps.Cooldown.Period()))
	cancel()
	if err != nil {
		// Give the cooldown back so the next signal can retry the alert.
		unlock := s.locks.Lock(alert.BNumber)
		s.deps.Cooldown.Release(alert.BNumber, alert.ID)
		unlock()
		res.Decision = DecisionObserved
		res.Degraded = true
		return s.unavailable("repository", err)
	}
	if existing != nil {
		// Another node, or this one before a restart, committed first.
		unlock := s.locks.Lock(alert.BNumber)
		s.deps.Cooldown.Release(alert.BNumber, alert.ID)
		s.deps.Cooldown.Reserve(alert.BNumber, existing.ID, existing.CreatedAt)
		unlock()
		s.suppress(ctx, alert.BNumber, existing.ID, callIDs, res)
		return nil
	}

	res.Decision = DecisionAlerted
	res.Alert = alert
	res.AlertID = alert.ID
	metrics.AlertsCreated.WithLabelValues(string(alert.FraudType)).Inc()

	res.FlaggedCalls = s.flag(ctx, callIDs, alert.ID, res)

	events := []domain.Event{domain.NewFraudDetectedEvent(alert, now)}
	if s.opts.AutoBlock && s.deps.Blacklist != nil {
		for _, ip := range alert.SourceIPs {
			entry := domain.NewBlacklistEntry(ip, fmt.Sprintf("auto-block: %s on %s", alert.FraudType, alert.BNumber), alert.ID, now, s.opts.BlockDuration)
			sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
			err := s.deps.Blacklist.SaveBlacklistEntry(sctx, entry)
			cancel()
			if err != nil {
				res.Degraded = true
				_ = s.unavailable("repository", err)
				continue
			}
			res.Blacklisted = append(res.Blacklisted, entry)
			events = append(events, domain.NewGatewayBlacklistedEvent(entry, now))
		}
	}

	sctx, cancel = context.WithTimeout(ctx, s.opts.StoreTimeout)
	if err := s.deps.Window.ClearWindow(sctx, alert.BNumber); err != nil {
		res.Degraded = true
		_ = s.unavailable("cache", err)
	}
	cancel()

	if s.deps.TimeSeries != nil {
		sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		_, err := s.tsBreaker.Execute(func() (interface{}, error) {
			return nil, s.deps.TimeSeries.IngestAlert(sctx, alert)
		})
		cancel()
		if err != nil {
			_ = s.unavailable("timeseries", err)
		}
	}

	s.publishAll(ctx, events)

	s.log.Info().
		Str("alert_id", alert.ID).
		Str("b_number", alert.BNumber).
		Str("fraud_type", string(alert.FraudType)).
		Int("distinct_callers", alert.DistinctCallers).
		Float64("score", float64(alert.Score)).
		Int("blacklisted", len(res.Blacklisted)).
		Msg("fraud alert created")
	return nil
}

func (s *Service) flag(ctx context.Context, callIDs []string, alertID string, res *Result) int {
	if len(callIDs) == 0 {
		return 0
	}
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	n, err := s.deps.Calls.FlagAsFraud(sctx, callIDs, alertID)
	if err != nil {
		res.Degraded = true
		_ = s.unavailable("repository", err)
		return 0
	}
	if res.Call != nil && res.Call.AlertID == "" {
		_ = res.Call.FlagFraud(alertID, s.opts.Now())
	}
	return n
}

// lifecycle applies a response, BYE or CANCEL to a known call.
func (s *Service) lifecycle(ctx context.Context, sig *domain.CallSignal, now time.Time) (*Result, error) {
	call, err := s.findCall(ctx, sig.CallID)
	if errors.Is(err, domain.ErrNotFound) {
		return &Result{Decision: DecisionIgnored}, nil
	}
	if err != nil {
		return &Result{Decision: DecisionIgnored, Degraded: true}, err
	}

	changed, err := applySignal(call, sig, now)
	res := &Result{Decision: DecisionIgnored, Call: call}
	if err != nil {
		return res, err
	}
	if !changed {
		return res, nil
	}

	res.Decision = DecisionUpdated
	if err := s.saveCall(ctx, call); err != nil {
		res.Degraded = true
		return res, err
	}

	if s.deps.TimeSeries != nil && call.EndedAt != nil {
		sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		_, err := s.tsBreaker.Execute(func() (interface{}, error) {
			return nil, s.deps.TimeSeries.IngestCall(sctx, call)
		})
		cancel()
		if err != nil {
			res.Degraded = true
			_ = s.unavailable("timeseries", err)
		}
	}
	return res, nil
}

// applySignal maps a signal onto a call transition and reports whether the call
// changed. Signals after the call ended are retransmissions and change nothing.
func applySignal(call *domain.Call, sig *domain.CallSignal, now time.Time) (bool, error) {
	if call.EndedAt != nil {
		return false, nil
	}

	switch sig.Method {
	case domain.MethodResponse:
		if sig.CSeqMethod != "" && sig.CSeqMethod != domain.MethodInvite {
			return false, nil
		}
		switch code := sig.StatusCode; {
		case code == 180 || code == 183:
			if call.Status != domain.CallInitiated {
				return false, nil
			}
			return true, call.Ring(now)
		case code >= 200 && code < 300:
			if call.Answered() {
				return false, nil
			}
			return true, call.Answer(now)
		case code >= 300:
			return true, call.Fail(now)
		}
		return false, nil

	case domain.MethodBye:
		if call.Answered() {
			return true, call.Complete(now)
		}
		return true, call.Fail(now)

	case domain.MethodCancel:
		return true, call.Fail(now)
	}
	return false, nil
}

func (s *Service) findCall(ctx context.Context, callID string) (*domain.Call, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	call, err := s.deps.Calls.FindCallBySignalID(sctx, callID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, s.unavailable("repository", err)
	}
	return call, err
}

func (s *Service) saveCall(ctx context.Context, call *domain.Call) error {
	sctx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.deps.Calls.SaveCall(sctx, call); err != nil {
		return s.unavailable("repository", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	s.publishAll(ctx, []domain.Event{ev})
}

func (s *Service) publishAll(ctx context.Context, events []domain.Event) {
	if err := s.deps.Bus.PublishAll(ctx, events); err != nil {
		s.log.Error().Err(err).Int("events", len(events)).Msg("failed to publish events")
	}
}

// unavailable records a backend failure and wraps it as retryable.
func (s *Service) unavailable(backend string, err error) error {
	metrics.BackendFailures.WithLabelValues(backend).Inc()
	var bu *domain.BackendUnavailableError
	if !errors.As(err, &bu) {
		bu = &domain.BackendUnavailableError{Backend: backend, Err: err}
	}
	s.log.Warn().Err(err).Str("backend", backend).Msg("backend unavailable, continuing degraded")
	return bu
}

func containsCall(calls []*domain.Call, callID string) bool {
	for _, c := range calls {
		if c.CallID == callID {
			return true
		}
	}
	return false
}

func distinctANumbers(calls []*domain.Call) int {
	seen := make(map[string]struct{}, len(calls))
	for _, c := range calls {
		seen[domain.NumberKey(c.ANumber)] = struct{}{}
	}
	return len(seen)
}

func evidenceCallIDs(entries []domain.CallerEntry, current *domain.Call) []string {
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.CallIDs...)
	}
	for _, id := range ids {
		if id == current.CallID {
			return ids
		}
	}
	return append(ids, current.CallID)
}
