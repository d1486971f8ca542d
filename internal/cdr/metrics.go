// Package cdr computes per-destination call detail metrics.
package cdr

import (
	"sort"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// Options tune the derived features.
type Options struct {
	// ShortCall is the duration under which an answered call counts as short.
	ShortCall time.Duration
	// HighVolumeAttempts sets the high-volume flag when attempts reach it. 0 disables.
	HighVolumeAttempts int
}

// DefaultOptions mirror the detection defaults.
func DefaultOptions() Options {
	return Options{ShortCall: 10 * time.Second, HighVolumeAttempts: 50}
}

// Calculate derives the metrics for bNumber from the calls observed in the
// window ending at now. It is a pure function of its inputs.
// Answered calls still in progress count with their length so far.
func Calculate(bNumber string, calls []*domain.Call, window time.Duration, now time.Time, opts Options) domain.CDRMetrics {
	m := domain.CDRMetrics{BNumber: bNumber}

	callers := make(map[string]struct{}, len(calls))
	var totalAnswered time.Duration
	var short int

	for _, c := range calls {
		m.Attempts++
		callers[c.ANumber] = struct{}{}
		d, ok := TalkTime(c, now)
		if !ok {
			continue
		}
		m.Answered++
		totalAnswered += d
		if d < opts.ShortCall {
			short++
		}
	}

	m.DistinctCallers = len(callers)
	m.AnswerSeizureRatio = ASR(m.Attempts, m.Answered)
	if m.Answered > 0 {
		m.AverageLengthOfCall = totalAnswered.Seconds() / float64(m.Answered)
		m.ShortCallRatio = float64(short) / float64(m.Answered)
	}

	m.ConcurrentCallers = PeakConcurrency(calls, now)
	m.OverlapRatio = OverlapRatio(m.ConcurrentCallers, m.DistinctCallers)

	if window > 0 {
		m.CallRate = float64(m.Attempts) / window.Minutes()
	}
	m.HighVolume = opts.HighVolumeAttempts > 0 && m.Attempts >= opts.HighVolumeAttempts

	return m
}

// TalkTime is how long an answered call has been connected, up to now for
// calls that have not ended. ok is false for unanswered calls.
func TalkTime(c *domain.Call, now time.Time) (d time.Duration, ok bool) {
	if !c.Answered() {
		return 0, false
	}
	if d, ok := c.Duration(); ok {
		return d, true
	}
	if d = now.Sub(*c.AnsweredAt); d < 0 {
		d = 0
	}
	return d, true
}

// ASR is answered/attempts as a percentage; 0 when there were no attempts.
func ASR(attempts, answered int) float64 {
	if attempts <= 0 {
		return 0
	}
	r := float64(answered) / float64(attempts) * 100
	if r > 100 {
		return 100
	}
	return r
}

// OverlapRatio is concurrent/total clamped to [0,1]; 0 when total is 0.
func OverlapRatio(concurrent, total int) float64 {
	if total <= 0 || concurrent <= 0 {
		return 0
	}
	r := float64(concurrent) / float64(total)
	if r > 1 {
		return 1
	}
	return r
}

type edge struct {
	at    time.Time
	delta int
}

// PeakConcurrency returns the largest number of calls active at one instant.
// Calls without an end are treated as active until now.
func PeakConcurrency(calls []*domain.Call, now time.Time) int {
	if len(calls) == 0 {
		return 0
	}

	edges := make([]edge, 0, 2*len(calls))
	for _, c := range calls {
		end := now
		if c.EndedAt != nil {
			end = *c.EndedAt
		}
		if !end.After(c.StartedAt) {
			// Zero-length calls still occupied the instant they started.
			end = c.StartedAt.Add(time.Nanosecond)
		}
		edges = append(edges, edge{c.StartedAt, 1}, edge{end, -1})
	}

	// Ends sort before starts at the same instant so back-to-back calls do not overlap.
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].at.Equal(edges[j].at) {
			return edges[i].delta < edges[j].delta
		}
		return edges[i].at.Before(edges[j].at)
	})

	active, peak := 0, 0
	for _, e := range edges {
		active += e.delta
		if active > peak {
			peak = active
		}
	}
	return peak
}

// Merge folds time-series aggregates into window metrics. Larger counts win,
// since the store may hold calls the window already expired. Every
// answered-call feature is taken from the store together with the counts so
// ASR, ALOC and the short-call ratio describe the same sample.
func Merge(m domain.CDRMetrics, agg map[string]float64) domain.CDRMetrics {
	if len(agg) == 0 {
		return m
	}
	attempts := int(agg["attempts"])
	answered := int(agg["answered"])
	if attempts <= m.Attempts {
		return m
	}

	m.Attempts = attempts
	m.Answered = answered
	m.AnswerSeizureRatio = ASR(attempts, answered)
	m.AverageLengthOfCall, m.ShortCallRatio = 0, 0
	if answered > 0 {
		m.AverageLengthOfCall = agg["total_duration_seconds"] / float64(answered)
		m.ShortCallRatio = min(agg["short_calls"]/float64(answered), 1)
	}
	if dc := int(agg["distinct_callers"]); dc > m.DistinctCallers {
		m.DistinctCallers = dc
		m.OverlapRatio = OverlapRatio(m.ConcurrentCallers, dc)
	}
	return m
}
