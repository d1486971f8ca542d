package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind tags a domain event.
type EventKind string

const (
	EventCallRegistered     EventKind = "call.registered"
	EventFraudDetected      EventKind = "fraud.detected"
	EventAlertAcknowledged  EventKind = "alert.acknowledged"
	EventAlertResolved      EventKind = "alert.resolved"
	EventGatewayBlacklisted EventKind = "gateway.blacklisted"
	EventReportSubmitted    EventKind = "report.submitted"
)

// EventKinds lists every kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventCallRegistered,
		EventFraudDetected,
		EventAlertAcknowledged,
		EventAlertResolved,
		EventGatewayBlacklisted,
		EventReportSubmitted,
	}
}

// Event is an immutable fact. Exactly one payload pointer is set, matching Kind.
type Event struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurredAt"`

	CallRegistered     *CallRegistered           `json:"callRegistered,omitempty"`
	FraudDetected      *FraudDetected            `json:"fraudDetected,omitempty"`
	AlertAcknowledged  *AlertAcknowledgedPayload `json:"alertAcknowledged,omitempty"`
	AlertResolved      *AlertResolvedPayload     `json:"alertResolved,omitempty"`
	GatewayBlacklisted *GatewayBlacklisted       `json:"gatewayBlacklisted,omitempty"`
	ReportSubmitted    *ReportSubmitted          `json:"reportSubmitted,omitempty"`
}

// CallRegistered is emitted once per newly stored call.
type CallRegistered struct {
	CallID   string `json:"callId"`
	ANumber  string `json:"aNumber"`
	BNumber  string `json:"bNumber"`
	SourceIP string `json:"sourceIp,omitempty"`
}

// FraudDetected carries the summary of a committed alert. SourceIPs is a
// copy; consumers may retain it.
type FraudDetected struct {
	AlertID         string     `json:"alertId"`
	BNumber         string     `json:"bNumber"`
	FraudType       FraudType  `json:"fraudType"`
	DistinctCallers int        `json:"distinctCallers"`
	Score           FraudScore `json:"score"`
	Risk            RiskLevel  `json:"risk"`
	SourceIPs       []string   `json:"sourceIps"`
}

// AlertAcknowledgedPayload records who took ownership of an alert.
type AlertAcknowledgedPayload struct {
	AlertID string `json:"alertId"`
	BNumber string `json:"bNumber"`
	By      string `json:"by"`
}

// AlertResolvedPayload records the terminal outcome of an alert.
type AlertResolvedPayload struct {
	AlertID    string     `json:"alertId"`
	BNumber    string     `json:"bNumber"`
	By         string     `json:"by"`
	Resolution Resolution `json:"resolution"`
	Notes      string     `json:"notes,omitempty"`
}

// GatewayBlacklisted is emitted for manual blocks and for entries created
// automatically from high-severity alerts (AlertID set).
type GatewayBlacklisted struct {
	EntryID   string    `json:"entryId"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	AlertID   string    `json:"alertId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ReportSubmitted is emitted after alerts are handed to the regulator.
type ReportSubmitted struct {
	ReportID string   `json:"reportId"`
	AlertIDs []string `json:"alertIds"`
	By       string   `json:"by"`
}

func newEvent(kind EventKind, at time.Time) Event {
	return Event{ID: uuid.New().String(), Kind: kind, OccurredAt: at.UTC()}
}

// NewCallRegisteredEvent builds the event for a call first seen at at.
func NewCallRegisteredEvent(c *Call, at time.Time) Event {
	e := newEvent(EventCallRegistered, at)
	e.CallRegistered = &CallRegistered{CallID: c.CallID, ANumber: c.ANumber, BNumber: c.BNumber, SourceIP: c.SourceIP}
	return e
}

// NewFraudDetectedEvent snapshots a.
func NewFraudDetectedEvent(a *FraudAlert, at time.Time) Event {
	e := newEvent(EventFraudDetected, at)
	e.FraudDetected = &FraudDetected{
		AlertID:         a.ID,
		BNumber:         a.BNumber,
		FraudType:       a.FraudType,
		DistinctCallers: a.DistinctCallers,
		Score:           a.Score,
		Risk:            a.Risk,
		SourceIPs:       append([]string(nil), a.SourceIPs...),
	}
	return e
}

// NewAlertAcknowledgedEvent expects a to be acknowledged already.
func NewAlertAcknowledgedEvent(a *FraudAlert, at time.Time) Event {
	e := newEvent(EventAlertAcknowledged, at)
	e.AlertAcknowledged = &AlertAcknowledgedPayload{AlertID: a.ID, BNumber: a.BNumber, By: a.AcknowledgedBy}
	return e
}

// NewAlertResolvedEvent expects a to be resolved already.
func NewAlertResolvedEvent(a *FraudAlert, at time.Time) Event {
	e := newEvent(EventAlertResolved, at)
	e.AlertResolved = &AlertResolvedPayload{AlertID: a.ID, BNumber: a.BNumber, By: a.ResolvedBy, Resolution: a.Resolution, Notes: a.Notes}
	return e
}

func NewGatewayBlacklistedEvent(b *BlacklistEntry, at time.Time) Event {
	e := newEvent(EventGatewayBlacklisted, at)
	e.GatewayBlacklisted = &GatewayBlacklisted{EntryID: b.ID, Value: b.Value, Reason: b.Reason, AlertID: b.AlertID, ExpiresAt: b.ExpiresAt}
	return e
}

// NewReportSubmittedEvent builds the event for a submitted report.
func NewReportSubmittedEvent(reportID string, alertIDs []string, by string, at time.Time) Event {
	e := newEvent(EventReportSubmitted, at)
	e.ReportSubmitted = &ReportSubmitted{ReportID: reportID, AlertIDs: alertIDs, By: by}
	return e
}

// Key is the partitioning key used by forwarders: the destination number,
// or the blocked value for blacklist events.
func (e Event) Key() string {
	switch {
	case e.CallRegistered != nil:
		return e.CallRegistered.BNumber
	case e.FraudDetected != nil:
		return e.FraudDetected.BNumber
	case e.AlertAcknowledged != nil:
		return e.AlertAcknowledged.BNumber
	case e.AlertResolved != nil:
		return e.AlertResolved.BNumber
	case e.GatewayBlacklisted != nil:
		return e.GatewayBlacklisted.Value
	case e.ReportSubmitted != nil:
		return e.ReportSubmitted.ReportID
	}
	return e.ID
}
