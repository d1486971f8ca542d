package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

// SaveBlacklistEntry stores an entry. Blocking a value that is already listed
// replaces the previous entry.
func (r *SQLRepository) SaveBlacklistEntry(ctx context.Context, e *domain.BlacklistEntry) error {
	if e == nil || e.Value == "" {
		return fmt.Errorf("%w: blacklist value is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO blacklist (id, value, reason, alert_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(value) DO UPDATE SET
			id = excluded.id,
			reason = excluded.reason,
			alert_id = excluded.alert_id,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, e.Value, e.Reason, e.AlertID, toMillis(e.CreatedAt), toMillis(e.ExpiresAt),
	)
	return err
}

// FindBlacklistByValue returns the entry for value, expired or not.
func (r *SQLRepository) FindBlacklistByValue(ctx context.Context, value string) (*domain.BlacklistEntry, error) {
	query := `
		SELECT id, value, reason, alert_id, created_at, expires_at
		FROM blacklist
		WHERE value = ?
	`

	var e domain.BlacklistEntry
	var createdAt, expiresAt int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), value).Scan(
		&e.ID, &e.Value, &e.Reason, &e.AlertID, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	e.CreatedAt = fromMillis(createdAt)
	e.ExpiresAt = fromMillis(expiresAt)
	return &e, nil
}

// IsBlacklisted reports whether value has an unexpired entry.
func (r *SQLRepository) IsBlacklisted(ctx context.Context, value string) (bool, error) {
	query := `SELECT COUNT(*) FROM blacklist WHERE value = ? AND expires_at > ?`

	var n int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), value, toMillis(r.now())).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteBlacklistEntry removes an entry by id.
func (r *SQLRepository) DeleteBlacklistEntry(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM blacklist WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CleanupExpired deletes expired entries and returns how many were removed.
func (r *SQLRepository) CleanupExpired(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM blacklist WHERE expires_at <= ?`), toMillis(r.now()))
	if err != nil {
		return 0, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
