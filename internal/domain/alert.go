package domain

import (
	"time"

	"github.com/google/uuid"
)

// FraudType classifies an alert.
type FraudType string

const (
	FraudSIMBox      FraudType = "SIM_BOX"
	FraudCLISpoofing FraudType = "CLI_SPOOFING"
)

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	AlertPending      AlertStatus = "PENDING"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertResolved     AlertStatus = "RESOLVED"
)

// Resolution records the analyst verdict on a resolved alert.
type Resolution string

const (
	ResolutionConfirmed     Resolution = "CONFIRMED"
	ResolutionFalsePositive Resolution = "FALSE_POSITIVE"
	ResolutionEscalated     Resolution = "ESCALATED"
	ResolutionWhitelisted   Resolution = "WHITELISTED"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionConfirmed, ResolutionFalsePositive, ResolutionEscalated, ResolutionWhitelisted:
		return true
	}
	return false
}

// FraudAlert is raised when a destination crosses the masking verdict.
type FraudAlert struct {
	ID              string      `json:"id"`
	BNumber         string      `json:"bNumber"`
	FraudType       FraudType   `json:"fraudType"`
	DistinctCallers int         `json:"distinctCallers"`
	Score           FraudScore  `json:"score"`
	Risk            RiskLevel   `json:"risk"`
	Method          string      `json:"method"`
	SourceIPs       []string    `json:"sourceIps"`
	ANumbers        []string    `json:"aNumbers"`
	Status          AlertStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`

	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// NewFraudAlert creates a PENDING alert.
func NewFraudAlert(bNumber string, fraudType FraudType, distinct int, score FraudScore, method string, aNumbers, sourceIPs []string, at time.Time) *FraudAlert {
	return &FraudAlert{
		ID:              uuid.New().String(),
		BNumber:         bNumber,
		FraudType:       fraudType,
		DistinctCallers: distinct,
		Score:           score,
		Risk:            score.Risk(),
		Method:          method,
		ANumbers:        aNumbers,
		SourceIPs:       sourceIPs,
		Status:          AlertPending,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

// Acknowledge moves PENDING to ACKNOWLEDGED.
func (a *FraudAlert) Acknowledge(by string, at time.Time) error {
	if a.Status != AlertPending {
		return &InvalidStateTransitionError{Entity: "alert", From: string(a.Status), To: string(AlertAcknowledged)}
	}
	a.Status = AlertAcknowledged
	a.AcknowledgedBy = by
	a.AcknowledgedAt = &at
	a.UpdatedAt = at
	return nil
}

// Resolve closes a PENDING or ACKNOWLEDGED alert. RESOLVED is terminal.
func (a *FraudAlert) Resolve(by string, resolution Resolution, notes string, at time.Time) error {
	if a.Status == AlertResolved {
		return &InvalidStateTransitionError{Entity: "alert", From: string(a.Status), To: string(AlertResolved)}
	}
	if !resolution.Valid() {
		return &ConfigurationError{Field: "resolution", Value: resolution, Reason: "unknown resolution"}
	}
	a.Status = AlertResolved
	a.ResolvedBy = by
	a.ResolvedAt = &at
	a.Resolution = resolution
	a.Notes = notes
	a.UpdatedAt = at
	return nil
}

// BlacklistEntry blocks a number or gateway address until ExpiresAt.
type BlacklistEntry struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	AlertID   string    `json:"alertId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewBlacklistEntry creates an entry that expires after d.
func NewBlacklistEntry(value, reason, alertID string, at time.Time, d time.Duration) *BlacklistEntry {
	return &BlacklistEntry{
		ID:        uuid.New().String(),
		Value:     value,
		Reason:    reason,
		AlertID:   alertID,
		CreatedAt: at,
		ExpiresAt: at.Add(d),
	}
}

// Active reports whether the entry still blocks at t. Expired entries are inert.
func (e *BlacklistEntry) Active(t time.Time) bool { return t.Before(e.ExpiresAt) }
