// Package timeseries keeps call and alert history in DuckDB for aggregate queries.
package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // DuckDB driver
	"github.com/goccy/go-json"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
	"github.com/abiolaogu/VoxGuard-sub001/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_history (
	call_id VARCHAR PRIMARY KEY,
	b_number VARCHAR NOT NULL,
	a_number VARCHAR NOT NULL,
	source_ip VARCHAR,
	status VARCHAR NOT NULL,
	started_at BIGINT NOT NULL,
	answered BOOLEAN NOT NULL,
	answered_at BIGINT,
	ended BOOLEAN NOT NULL DEFAULT false,
	duration_seconds DOUBLE NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_call_history_b_started ON call_history(b_number, started_at);

CREATE TABLE IF NOT EXISTS alert_history (
	id VARCHAR PRIMARY KEY,
	b_number VARCHAR NOT NULL,
	fraud_type VARCHAR NOT NULL,
	distinct_callers INTEGER NOT NULL,
	score DOUBLE NOT NULL,
	source_ips VARCHAR NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_history_b ON alert_history(b_number)
`

// DuckDBStore implements domain.TimeSeriesStore on an embedded DuckDB database.
type DuckDBStore struct {
	db        *sql.DB
	now       func() time.Time
	shortCall time.Duration
}

var _ domain.TimeSeriesStore = (*DuckDBStore)(nil)

// New builds the configured store. It returns nil when the type is "none" or empty.
// shortCall is the talk time under which an answered call counts as short.
func New(cfg domain.TimeSeriesConfig, shortCall time.Duration) (domain.TimeSeriesStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "duckdb":
		db, err := sql.Open("duckdb", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open duckdb: %w", err)
		}
		store, err := NewDuckDBStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		if shortCall > 0 {
			store.shortCall = shortCall
		}
		logging.Info().Str("path", cfg.Path).Msg("Time-series store ready")
		return store, nil
	default:
		return nil, &domain.ConfigurationError{Field: "timeseries.type", Value: cfg.Type, Reason: "unsupported store"}
	}
}

// NewDuckDBStore wraps an open DuckDB handle and creates the history tables.
// The store owns db and closes it on Close.
func NewDuckDBStore(db *sql.DB) (*DuckDBStore, error) {
	s := &DuckDBStore{db: db, now: time.Now, shortCall: 10 * time.Second}
	if err := s.createTables(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DuckDBStore) createTables(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create time-series schema: %w", err)
		}
	}
	return nil
}

// IngestCall records a call. Re-ingesting the same call id replaces the row.
func (s *DuckDBStore) IngestCall(ctx context.Context, call *domain.Call) error {
	if call == nil || call.CallID == "" {
		return fmt.Errorf("%w: call id is required", domain.ErrInvalidInput)
	}

	duration, _ := call.Duration()
	var answeredAt *int64
	if call.AnsweredAt != nil {
		ms := call.AnsweredAt.UnixMilli()
		answeredAt = &ms
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO call_history
			(call_id, b_number, a_number, source_ip, status, started_at, answered, answered_at, ended, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.CallID, call.BNumber, call.ANumber, call.SourceIP, string(call.Status),
		call.StartedAt.UnixMilli(), call.Answered(), answeredAt, call.EndedAt != nil, duration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to ingest call %s: %w", call.CallID, err)
	}
	return nil
}

// IngestAlert records an alert.
func (s *DuckDBStore) IngestAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}

	sourceIPs, err := json.Marshal(alert.SourceIPs)
	if err != nil {
		return fmt.Errorf("failed to marshal source ips: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO alert_history
			(id, b_number, fraud_type, distinct_callers, score, source_ips, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.BNumber, string(alert.FraudType), alert.DistinctCallers,
		float64(alert.Score), string(sourceIPs), alert.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to ingest alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetCallMetrics aggregates the calls to bNumber started in the last windowSeconds.
// Answered calls that have not ended count with their talk time so far.
func (s *DuckDBStore) GetCallMetrics(ctx context.Context, bNumber string, windowSeconds int) (map[string]float64, error) {
	if windowSeconds <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", domain.ErrInvalidInput)
	}
	now := s.now().UnixMilli()
	since := now - int64(windowSeconds)*1000

	var attempts, answered, short, distinct int64
	var totalDuration float64
	err := s.db.QueryRowContext(ctx, `
		WITH recent AS (
			SELECT
				a_number,
				answered,
				CASE WHEN answered AND NOT ended
					THEN CAST(GREATEST(? - answered_at, 0) AS DOUBLE) / 1000
					ELSE duration_seconds
				END AS talk_seconds
			FROM call_history
			WHERE b_number = ? AND started_at >= ?
		)
		SELECT
			COUNT(*),
			CAST(COUNT(*) FILTER (WHERE answered) AS BIGINT),
			CAST(COALESCE(SUM(talk_seconds) FILTER (WHERE answered), 0) AS DOUBLE),
			CAST(COUNT(*) FILTER (WHERE answered AND talk_seconds < ?) AS BIGINT),
			COUNT(DISTINCT a_number)
		FROM recent`,
		now, bNumber, since, s.shortCall.Seconds(),
	).Scan(&attempts, &answered, &totalDuration, &short, &distinct)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate calls for %s: %w", bNumber, err)
	}

	return map[string]float64{
		"attempts":               float64(attempts),
		"answered":               float64(answered),
		"total_duration_seconds": totalDuration,
		"short_calls":            float64(short),
		"distinct_callers":       float64(distinct),
	}, nil
}

// AlertCount returns how many alerts were recorded for bNumber.
func (s *DuckDBStore) AlertCount(ctx context.Context, bNumber string) (int, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_history WHERE b_number = ?`, bNumber).Scan(&n)
	return int(n), err
}

// Close closes the underlying database.
func (s *DuckDBStore) Close() error {
	return s.db.Close()
}
