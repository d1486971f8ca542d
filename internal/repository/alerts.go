package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/goccy/go-json"
)

const alertColumns = `id, b_number, fraud_type, distinct_callers, score, risk, method,
	source_ips, a_numbers, status, created_at, updated_at,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at, resolution, notes`

// SaveAlert inserts an alert or updates its lifecycle fields.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.FraudAlert) error {
	args, err := alertArgs(a)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO fraud_alerts (` + alertColumns + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			acknowledged_by = excluded.acknowledged_by,
			acknowledged_at = excluded.acknowledged_at,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at,
			resolution = excluded.resolution,
			notes = excluded.notes
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), args...)
	return err
}

// CreateAlert inserts a unless its destination already has a PENDING alert
// created after since. In that case nothing is written and the existing
// alert is returned. The check and the insert are atomic across every node
// sharing the database.
func (r *SQLRepository) CreateAlert(ctx context.Context, a *domain.FraudAlert, since time.Time) (*domain.FraudAlert, error) {
	args, err := alertArgs(a)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	const pendingSince = `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE b_number = ? AND status = ? AND created_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var inserted bool
	if r.driver == "postgres" {
		// Held until commit; creators for one destination queue here.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, a.BNumber); err != nil {
			return nil, err
		}
		existing, err := scanAlert(tx.QueryRowContext(ctx, r.rebind(pendingSince), a.BNumber, string(domain.AlertPending), toMillis(since)))
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		query := `INSERT INTO fraud_alerts (` + alertColumns + `) VALUES (` + placeholders(len(args)) + `)`
		if _, err := tx.ExecContext(ctx, r.rebind(query), args...); err != nil {
			return nil, err
		}
		inserted = true
	} else {
		// A single statement holds the SQLite write lock from check to insert.
		query := `
			INSERT INTO fraud_alerts (` + alertColumns + `)
			SELECT ` + placeholders(len(args)) + `
			WHERE NOT EXISTS (
				SELECT 1 FROM fraud_alerts WHERE b_number = ? AND status = ? AND created_at > ?
			)
		`
		res, err := tx.ExecContext(ctx, query, append(args, a.BNumber, string(domain.AlertPending), toMillis(since))...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		inserted = n == 1
	}

	if !inserted {
		existing, err := scanAlert(tx.QueryRowContext(ctx, r.rebind(pendingSince), a.BNumber, string(domain.AlertPending), toMillis(since)))
		if err != nil {
			return nil, err
		}
		return existing, nil
	}
	return nil, tx.Commit()
}

// UpdateAlertStatus writes the lifecycle fields of a only while the stored
// status is still from. A concurrent transition wins; the loser gets an
// *domain.InvalidStateTransitionError naming the status it lost to.
func (r *SQLRepository) UpdateAlertStatus(ctx context.Context, a *domain.FraudAlert, from domain.AlertStatus) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE fraud_alerts SET
			status = ?,
			updated_at = ?,
			acknowledged_by = ?,
			acknowledged_at = ?,
			resolved_by = ?,
			resolved_at = ?,
			resolution = ?,
			notes = ?
		WHERE id = ? AND status = ?
	`

	res, err := r.db.ExecContext(ctx, r.rebind(query),
		string(a.Status), toMillis(a.UpdatedAt),
		a.AcknowledgedBy, nullMillis(a.AcknowledgedAt), a.ResolvedBy, nullMillis(a.ResolvedAt),
		string(a.Resolution), a.Notes,
		a.ID, string(from),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	current, err := r.FindAlertByID(ctx, a.ID)
	if err != nil {
		return err
	}
	return &domain.InvalidStateTransitionError{Entity: "alert", From: string(current.Status), To: string(a.Status)}
}

func alertArgs(a *domain.FraudAlert) ([]any, error) {
	if a == nil || a.ID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}
	sourceIPs, err := json.Marshal(nonNil(a.SourceIPs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal source ips: %w", err)
	}
	aNumbers, err := json.Marshal(nonNil(a.ANumbers))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal a-numbers: %w", err)
	}
	return []any{
		a.ID, a.BNumber, string(a.FraudType), a.DistinctCallers, float64(a.Score), string(a.Risk), a.Method,
		string(sourceIPs), string(aNumbers), string(a.Status), toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
		a.AcknowledgedBy, nullMillis(a.AcknowledgedAt), a.ResolvedBy, nullMillis(a.ResolvedAt),
		string(a.Resolution), a.Notes,
	}, nil
}

// FindAlertByID retrieves one alert.
func (r *SQLRepository) FindAlertByID(ctx context.Context, id string) (*domain.FraudAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM fraud_alerts WHERE id = ?`
	return scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// FindPendingAlerts returns PENDING alerts, newest first.
func (r *SQLRepository) FindPendingAlerts(ctx context.Context) ([]*domain.FraudAlert, error) {
	return r.FindAlertsByStatus(ctx, domain.AlertPending)
}

// FindPendingAlertByBNumber returns the newest PENDING alert for bNumber.
func (r *SQLRepository) FindPendingAlertByBNumber(ctx context.Context, bNumber string) (*domain.FraudAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE b_number = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), bNumber, string(domain.AlertPending)))
}

// FindAlertsByStatus returns alerts in status, newest first.
func (r *SQLRepository) FindAlertsByStatus(ctx context.Context, status domain.AlertStatus) ([]*domain.FraudAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM fraud_alerts
		WHERE status = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.FraudAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CountPendingAlerts counts PENDING alerts.
func (r *SQLRepository) CountPendingAlerts(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM fraud_alerts WHERE status = ?`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), string(domain.AlertPending)).Scan(&n)
	return n, err
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	var fraudType, risk, status, resolution string
	var sourceIPs, aNumbers string
	var score float64
	var createdAt, updatedAt int64
	var acknowledgedAt, resolvedAt sql.NullInt64

	err := row.Scan(
		&a.ID, &a.BNumber, &fraudType, &a.DistinctCallers, &score, &risk, &a.Method,
		&sourceIPs, &aNumbers, &status, &createdAt, &updatedAt,
		&a.AcknowledgedBy, &acknowledgedAt, &a.ResolvedBy, &resolvedAt, &resolution, &a.Notes,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(sourceIPs), &a.SourceIPs); err != nil {
		return nil, fmt.Errorf("failed to parse source ips for alert %s: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(aNumbers), &a.ANumbers); err != nil {
		return nil, fmt.Errorf("failed to parse a-numbers for alert %s: %w", a.ID, err)
	}

	a.FraudType = domain.FraudType(fraudType)
	a.Score = domain.FraudScore(score)
	a.Risk = domain.RiskLevel(risk)
	a.Status = domain.AlertStatus(status)
	a.Resolution = domain.Resolution(resolution)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	a.AcknowledgedAt = timePtr(acknowledgedAt)
	a.ResolvedAt = timePtr(resolvedAt)
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
