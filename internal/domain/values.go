package domain

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// PhoneNumber is a normalized MSISDN. Two numbers are equal when their digits
// (and optional leading '+') are equal.
type PhoneNumber string

// NewPhoneNumber normalizes raw into a PhoneNumber. Visual separators
// (spaces, dashes, dots, parentheses) are dropped; any other non-digit is rejected.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty phone number", ErrInvalidInput)
	}

	var b strings.Builder
	b.Grow(len(raw))
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("%w: invalid character %q in phone number %q", ErrInvalidInput, r, raw)
		}
	}

	n := b.String()
	if digits := strings.TrimPrefix(n, "+"); len(digits) < 3 || len(digits) > 15 {
		return "", fmt.Errorf("%w: phone number %q must have 3-15 digits", ErrInvalidInput, raw)
	}
	return PhoneNumber(n), nil
}

// String returns the normalized form.
func (p PhoneNumber) String() string { return string(p) }

// Digits returns the number without the leading '+'.
func (p PhoneNumber) Digits() string { return strings.TrimPrefix(string(p), "+") }

// Equal compares by digits so "+1202..." and "1202..." match.
func (p PhoneNumber) Equal(o PhoneNumber) bool { return p.Digits() == o.Digits() }

// NumberKey returns the digits of raw when it is a valid phone number and
// raw unchanged otherwise. Values that compare equal as PhoneNumbers share a key.
func NumberKey(raw string) string {
	if n, err := NewPhoneNumber(raw); err == nil {
		return n.Digits()
	}
	return raw
}

// SameNumber compares two extracted identities by NumberKey.
func SameNumber(a, b string) bool { return NumberKey(a) == NumberKey(b) }

// IPAddress is a validated textual IPv4/IPv6 address.
type IPAddress string

// NewIPAddress validates raw as an IP address.
func NewIPAddress(raw string) (IPAddress, error) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return "", fmt.Errorf("%w: invalid ip address %q", ErrInvalidInput, raw)
	}
	return IPAddress(ip.String()), nil
}

func (a IPAddress) String() string { return string(a) }

// FraudScore is a probability in [0,1].
type FraudScore float64

// NewFraudScore clamps v into [0,1].
func NewFraudScore(v float64) FraudScore {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return FraudScore(v)
}

// RiskLevel is the confidence band of a probability.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Risk bands the score. It is independent of any alerting threshold.
func (s FraudScore) Risk() RiskLevel {
	switch {
	case s >= 0.9:
		return RiskCritical
	case s >= 0.7:
		return RiskHigh
	case s >= 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// DetectionWindow is the trailing interval over which distinct callers are counted.
type DetectionWindow struct {
	Seconds int
}

// NewDetectionWindow rejects non-positive lengths.
func NewDetectionWindow(seconds int) (DetectionWindow, error) {
	if seconds <= 0 {
		return DetectionWindow{}, &ConfigurationError{Field: "window_seconds", Value: seconds, Reason: "must be positive"}
	}
	return DetectionWindow{Seconds: seconds}, nil
}

// Duration returns the window length.
func (w DetectionWindow) Duration() time.Duration { return time.Duration(w.Seconds) * time.Second }

// DetectionThreshold holds the alerting parameters for one B-number evaluation.
type DetectionThreshold struct {
	// DistinctCallers is the caller count a destination must exceed to look like a SIM box.
	DistinctCallers int
	// CooldownSeconds is the minimum spacing between PENDING alerts for one destination.
	CooldownSeconds int
}

// NewDetectionThreshold validates the caller threshold and cooldown.
func NewDetectionThreshold(callers, cooldownSeconds int) (DetectionThreshold, error) {
	if callers < 1 {
		return DetectionThreshold{}, &ConfigurationError{Field: "caller_threshold", Value: callers, Reason: "must be at least 1"}
	}
	if cooldownSeconds < 0 {
		return DetectionThreshold{}, &ConfigurationError{Field: "cooldown_seconds", Value: cooldownSeconds, Reason: "must not be negative"}
	}
	return DetectionThreshold{DistinctCallers: callers, CooldownSeconds: cooldownSeconds}, nil
}

// Cooldown returns the cooldown as a duration.
func (t DetectionThreshold) Cooldown() time.Duration {
	return time.Duration(t.CooldownSeconds) * time.Second
}
