package domain

import (
	"time"

	"github.com/google/uuid"
)

// Signal methods. Responses carry MethodResponse plus a status code.
const (
	MethodInvite   = "INVITE"
	MethodAck      = "ACK"
	MethodBye      = "BYE"
	MethodCancel   = "CANCEL"
	MethodResponse = "RESPONSE"
)

// CallSignal is the structured form of one signaling message.
type CallSignal struct {
	CallID string `json:"callId"`
	Method string `json:"method"`

	// StatusCode and CSeqMethod are set for responses only.
	StatusCode int    `json:"statusCode,omitempty"`
	CSeqMethod string `json:"cseqMethod,omitempty"`

	// CallerID is the number presented in From. Empty means absent.
	CallerID string `json:"callerId,omitempty"`
	// AssertedIdentity is the P-Asserted-Identity number. Empty means absent.
	AssertedIdentity string `json:"assertedIdentity,omitempty"`
	// BNumber is the destination taken from To, else the request URI.
	BNumber  string `json:"bNumber,omitempty"`
	SourceIP string `json:"sourceIp,omitempty"`

	HasIdentityMismatch bool `json:"hasIdentityMismatch"`
}

// IsInvite reports whether the signal starts a session.
func (s *CallSignal) IsInvite() bool { return s.Method == MethodInvite }

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	CallInitiated    CallStatus = "INITIATED"
	CallRinging      CallStatus = "RINGING"
	CallAnswered     CallStatus = "ANSWERED"
	CallCompleted    CallStatus = "COMPLETED"
	CallNoAnswer     CallStatus = "NO_ANSWER"
	CallFlaggedFraud CallStatus = "FLAGGED_FRAUD"
)

var callRank = map[CallStatus]int{
	CallInitiated:    0,
	CallRinging:      1,
	CallAnswered:     2,
	CallCompleted:    3,
	CallNoAnswer:     3,
	CallFlaggedFraud: 4,
}

// Call is one call attempt observed on the signaling plane.
type Call struct {
	ID         string     `json:"id"`
	CallID     string     `json:"callId"`
	ANumber    string     `json:"aNumber"`
	BNumber    string     `json:"bNumber"`
	SourceIP   string     `json:"sourceIp,omitempty"`
	Status     CallStatus `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	AnsweredAt *time.Time `json:"answeredAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	AlertID    string     `json:"alertId,omitempty"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// NewCall registers a call attempt in INITIATED state.
func NewCall(callID, aNumber, bNumber, sourceIP string, at time.Time) *Call {
	return &Call{
		ID:        uuid.New().String(),
		CallID:    callID,
		ANumber:   aNumber,
		BNumber:   bNumber,
		SourceIP:  sourceIP,
		Status:    CallInitiated,
		StartedAt: at,
		UpdatedAt: at,
	}
}

func (c *Call) transition(to CallStatus, at time.Time) error {
	if callRank[to] <= callRank[c.Status] {
		return &InvalidStateTransitionError{Entity: "call", From: string(c.Status), To: string(to)}
	}
	c.Status = to
	c.UpdatedAt = at
	return nil
}

// Ring moves INITIATED to RINGING.
func (c *Call) Ring(at time.Time) error {
	if c.Status == CallFlaggedFraud {
		return nil
	}
	return c.transition(CallRinging, at)
}

// Answer records the answer time. Flagged calls keep their status but still record timing.
func (c *Call) Answer(at time.Time) error {
	if c.Status == CallFlaggedFraud {
		if c.AnsweredAt == nil {
			c.AnsweredAt = &at
			c.UpdatedAt = at
		}
		return nil
	}
	if err := c.transition(CallAnswered, at); err != nil {
		return err
	}
	c.AnsweredAt = &at
	return nil
}

// Complete ends an answered call.
func (c *Call) Complete(at time.Time) error {
	if c.Status == CallFlaggedFraud {
		if c.EndedAt == nil {
			c.EndedAt = &at
			c.UpdatedAt = at
		}
		return nil
	}
	if c.Status != CallAnswered {
		return &InvalidStateTransitionError{Entity: "call", From: string(c.Status), To: string(CallCompleted)}
	}
	if err := c.transition(CallCompleted, at); err != nil {
		return err
	}
	c.EndedAt = &at
	return nil
}

// Fail ends an unanswered call.
func (c *Call) Fail(at time.Time) error {
	if c.Status == CallFlaggedFraud {
		if c.EndedAt == nil {
			c.EndedAt = &at
			c.UpdatedAt = at
		}
		return nil
	}
	if c.Status == CallAnswered {
		return &InvalidStateTransitionError{Entity: "call", From: string(c.Status), To: string(CallNoAnswer)}
	}
	if err := c.transition(CallNoAnswer, at); err != nil {
		return err
	}
	c.EndedAt = &at
	return nil
}

// FlagFraud attaches the call to an alert. A call is flagged at most once.
func (c *Call) FlagFraud(alertID string, at time.Time) error {
	if err := c.transition(CallFlaggedFraud, at); err != nil {
		return err
	}
	c.AlertID = alertID
	return nil
}

// Answered reports whether the call was ever answered.
func (c *Call) Answered() bool { return c.AnsweredAt != nil }

// Duration is end minus answer. ok is false unless both are known.
func (c *Call) Duration() (d time.Duration, ok bool) {
	if c.AnsweredAt == nil || c.EndedAt == nil {
		return 0, false
	}
	return c.EndedAt.Sub(*c.AnsweredAt), true
}

// ActiveAt reports whether the call was in progress at t.
func (c *Call) ActiveAt(t time.Time) bool {
	if t.Before(c.StartedAt) {
		return false
	}
	return c.EndedAt == nil || t.Before(*c.EndedAt)
}
