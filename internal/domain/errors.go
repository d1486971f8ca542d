package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotRecognized means the input is not signaling traffic at all.
	ErrNotRecognized = errors.New("not a signaling message")

	ErrProtocolParse          = errors.New("protocol parse error")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrConfiguration          = errors.New("configuration error")
	ErrBackendUnavailable     = errors.New("backend unavailable")
)

// ProtocolParseError reports a recognized but malformed signaling message.
type ProtocolParseError struct {
	Reason string
}

func (e *ProtocolParseError) Error() string {
	return "protocol parse error: " + e.Reason
}

func (e *ProtocolParseError) Is(target error) bool { return target == ErrProtocolParse }

// InvalidStateTransitionError is returned when an entity rejects a lifecycle change.
type InvalidStateTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}

func (e *InvalidStateTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// ConfigurationError rejects an out-of-range setting. The previous value stays in effect.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// BackendUnavailableError wraps a store or model failure. It is retryable.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

func (e *BackendUnavailableError) Is(target error) bool { return target == ErrBackendUnavailable }

// Retryable reports whether the caller may retry.
func (e *BackendUnavailableError) Retryable() bool { return true }
