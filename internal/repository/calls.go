package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

const callColumns = `id, call_id, a_number, b_number, source_ip, status,
	started_at, answered_at, ended_at, alert_id, updated_at`

// SaveCall inserts a call or updates it by signaling call id. Timestamps
// already stored are kept and an ended call keeps its final status, so a
// stale copy cannot move a call backwards.
func (r *SQLRepository) SaveCall(ctx context.Context, c *domain.Call) error {
	if c == nil || c.CallID == "" {
		return fmt.Errorf("%w: call id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO calls (` + callColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			status = CASE WHEN calls.alert_id = '' AND calls.ended_at IS NULL THEN excluded.status ELSE calls.status END,
			answered_at = COALESCE(calls.answered_at, excluded.answered_at),
			ended_at = COALESCE(calls.ended_at, excluded.ended_at),
			alert_id = CASE WHEN calls.alert_id = '' THEN excluded.alert_id ELSE calls.alert_id END,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CallID, c.ANumber, c.BNumber, c.SourceIP, string(c.Status),
		toMillis(c.StartedAt), nullMillis(c.AnsweredAt), nullMillis(c.EndedAt),
		c.AlertID, toMillis(c.UpdatedAt),
	)
	return err
}

// FindCallByID retrieves a call by its record id.
func (r *SQLRepository) FindCallByID(ctx context.Context, id string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = ?`
	return scanCall(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// FindCallBySignalID retrieves a call by its signaling Call-ID.
func (r *SQLRepository) FindCallBySignalID(ctx context.Context, callID string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE call_id = ?`
	return scanCall(r.db.QueryRowContext(ctx, r.rebind(query), callID))
}

// FindCallsInWindow returns calls to bNumber started within [start, end], oldest first.
func (r *SQLRepository) FindCallsInWindow(ctx context.Context, bNumber string, start, end time.Time) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE b_number = ? AND started_at >= ? AND started_at <= ?
		ORDER BY started_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), bNumber, toMillis(start), toMillis(end))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// CountDistinctCallers counts unique A-numbers calling bNumber within [start, end].
func (r *SQLRepository) CountDistinctCallers(ctx context.Context, bNumber string, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT a_number)
		FROM calls
		WHERE b_number = ? AND started_at >= ? AND started_at <= ?
	`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query), bNumber, toMillis(start), toMillis(end)).Scan(&n)
	return n, err
}

// FlagAsFraud attaches unflagged calls to alertID. Calls already attached to
// an alert keep it.
func (r *SQLRepository) FlagAsFraud(ctx context.Context, callIDs []string, alertID string) (int, error) {
	if len(callIDs) == 0 {
		return 0, nil
	}
	if alertID == "" {
		return 0, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}

	query := `
		UPDATE calls
		SET status = ?, alert_id = ?, updated_at = ?
		WHERE alert_id = '' AND call_id IN (` + placeholders(len(callIDs)) + `)
	`

	args := make([]any, 0, len(callIDs)+3)
	args = append(args, string(domain.CallFlaggedFraud), alertID, toMillis(r.now()))
	for _, id := range callIDs {
		args = append(args, id)
	}

	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*domain.Call, error) {
	var c domain.Call
	var status string
	var startedAt, updatedAt int64
	var answeredAt, endedAt sql.NullInt64

	err := row.Scan(
		&c.ID, &c.CallID, &c.ANumber, &c.BNumber, &c.SourceIP, &status,
		&startedAt, &answeredAt, &endedAt, &c.AlertID, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Status = domain.CallStatus(status)
	c.StartedAt = fromMillis(startedAt)
	c.AnsweredAt = timePtr(answeredAt)
	c.EndedAt = timePtr(endedAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}
