package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/google/uuid"
)

// AlertService owns the analyst-driven alert transitions.
type AlertService struct {
	alerts   domain.AlertRepository
	bus      domain.EventBus
	cooldown *Cooldown
	now      func() time.Time
}

// NewAlertService creates the service. cooldown is the tracker shared with
// the detection Service; an alert leaving PENDING releases it.
func NewAlertService(alerts domain.AlertRepository, bus domain.EventBus, cooldown *Cooldown, now func() time.Time) *AlertService {
	if now == nil {
		now = time.Now
	}
	return &AlertService{alerts: alerts, bus: bus, cooldown: cooldown, now: now}
}

// Get returns one alert.
func (s *AlertService) Get(ctx context.Context, id string) (*domain.FraudAlert, error) {
	return s.alerts.FindAlertByID(ctx, id)
}

// List returns alerts with status; an empty status lists PENDING alerts.
func (s *AlertService) List(ctx context.Context, status domain.AlertStatus) ([]*domain.FraudAlert, error) {
	switch status {
	case "", domain.AlertPending:
		return s.alerts.FindPendingAlerts(ctx)
	case domain.AlertAcknowledged, domain.AlertResolved:
		return s.alerts.FindAlertsByStatus(ctx, status)
	default:
		return nil, fmt.Errorf("%w: unknown alert status %q", domain.ErrInvalidInput, status)
	}
}

// PendingFor returns the newest PENDING alert for a destination.
func (s *AlertService) PendingFor(ctx context.Context, bNumber string) (*domain.FraudAlert, error) {
	if bNumber == "" {
		return nil, fmt.Errorf("%w: destination number is required", domain.ErrInvalidInput)
	}
	return s.alerts.FindPendingAlertByBNumber(ctx, bNumber)
}

// CountPending returns the number of PENDING alerts.
func (s *AlertService) CountPending(ctx context.Context) (int, error) {
	return s.alerts.CountPendingAlerts(ctx)
}

// Acknowledge moves a PENDING alert to ACKNOWLEDGED.
func (s *AlertService) Acknowledge(ctx context.Context, id, by string) (*domain.FraudAlert, error) {
	a, err := s.alerts.FindAlertByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from, now := a.Status, s.now()
	if err := a.Acknowledge(by, now); err != nil {
		return nil, err
	}
	if err := s.save(ctx, a, from); err != nil {
		return nil, err
	}

	s.release(a)
	s.publish(ctx, domain.NewAlertAcknowledgedEvent(a, now))
	return a, nil
}

// Resolve closes a PENDING or ACKNOWLEDGED alert with a verdict.
func (s *AlertService) Resolve(ctx context.Context, id, by string, resolution domain.Resolution, notes string) (*domain.FraudAlert, error) {
	a, err := s.alerts.FindAlertByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from, now := a.Status, s.now()
	if err := a.Resolve(by, resolution, notes, now); err != nil {
		return nil, err
	}
	if err := s.save(ctx, a, from); err != nil {
		return nil, err
	}

	s.release(a)
	s.publish(ctx, domain.NewAlertResolvedEvent(a, now))
	return a, nil
}

// SubmitReport announces that a set of alerts was filed with a regulator or
// partner. Every alert must exist. It returns the report id.
func (s *AlertService) SubmitReport(ctx context.Context, alertIDs []string, by string) (string, error) {
	if len(alertIDs) == 0 {
		return "", fmt.Errorf("%w: at least one alert id is required", domain.ErrInvalidInput)
	}
	for _, id := range alertIDs {
		if _, err := s.alerts.FindAlertByID(ctx, id); err != nil {
			return "", fmt.Errorf("alert %s: %w", id, err)
		}
	}
	reportID := uuid.New().String()
	s.publish(ctx, domain.NewReportSubmittedEvent(reportID, alertIDs, by, s.now()))
	return reportID, nil
}

// save commits a transition only if no one else moved the alert since it was read.
func (s *AlertService) save(ctx context.Context, a *domain.FraudAlert, from domain.AlertStatus) error {
	err := s.alerts.UpdateAlertStatus(ctx, a, from)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrNotFound):
		return err
	default:
		return fmt.Errorf("failed to save alert: %w", err)
	}
}

func (s *AlertService) release(a *domain.FraudAlert) {
	if s.cooldown != nil {
		s.cooldown.Release(a.BNumber, a.ID)
	}
}

func (s *AlertService) publish(ctx context.Context, ev domain.Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, ev)
}
