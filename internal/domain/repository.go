// Package domain defines the core types, entities and collaborator interfaces for VoxGuard.
package domain

import (
	"context"
	"time"
)

// CallRepository persists calls.
type CallRepository interface {
	SaveCall(ctx context.Context, call *Call) error
	FindCallByID(ctx context.Context, id string) (*Call, error)
	FindCallBySignalID(ctx context.Context, callID string) (*Call, error)
	FindCallsInWindow(ctx context.Context, bNumber string, start, end time.Time) ([]*Call, error)
	CountDistinctCallers(ctx context.Context, bNumber string, start, end time.Time) (int, error)
	// FlagAsFraud marks calls (by signaling call id) and returns how many changed.
	FlagAsFraud(ctx context.Context, callIDs []string, alertID string) (int, error)
}

// AlertRepository persists fraud alerts.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *FraudAlert) error
	// CreateAlert inserts alert unless its destination has a PENDING alert
	// created after since; then it stores nothing and returns that alert.
	CreateAlert(ctx context.Context, alert *FraudAlert, since time.Time) (existing *FraudAlert, err error)
	// UpdateAlertStatus saves alert's lifecycle fields only if the stored
	// status is still from, else it returns an *InvalidStateTransitionError.
	UpdateAlertStatus(ctx context.Context, alert *FraudAlert, from AlertStatus) error
	FindAlertByID(ctx context.Context, id string) (*FraudAlert, error)
	FindPendingAlerts(ctx context.Context) ([]*FraudAlert, error)
	// FindPendingAlertByBNumber returns the newest PENDING alert for a destination.
	FindPendingAlertByBNumber(ctx context.Context, bNumber string) (*FraudAlert, error)
	FindAlertsByStatus(ctx context.Context, status AlertStatus) ([]*FraudAlert, error)
	CountPendingAlerts(ctx context.Context) (int, error)
}

// BlacklistRepository persists blacklist entries.
type BlacklistRepository interface {
	SaveBlacklistEntry(ctx context.Context, entry *BlacklistEntry) error
	FindBlacklistByValue(ctx context.Context, value string) (*BlacklistEntry, error)
	// IsBlacklisted ignores expired entries.
	IsBlacklisted(ctx context.Context, value string) (bool, error)
	DeleteBlacklistEntry(ctx context.Context, id string) error
	// CleanupExpired removes expired entries and returns how many were removed.
	CleanupExpired(ctx context.Context) (int, error)
}

// Repository is the full persistence surface, satisfied by the SQL repository.
type Repository interface {
	CallRepository
	AlertRepository
	BlacklistRepository

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TimeSeriesStore keeps call and alert history for aggregate queries.
type TimeSeriesStore interface {
	IngestCall(ctx context.Context, call *Call) error
	IngestAlert(ctx context.Context, alert *FraudAlert) error
	// GetCallMetrics returns aggregates keyed by metric name
	// (attempts, answered, total_duration_seconds, short_calls, distinct_callers).
	GetCallMetrics(ctx context.Context, bNumber string, windowSeconds int) (map[string]float64, error)
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresSSLMode  string `koanf:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

// TimeSeriesConfig selects the time-series backend: "none" or "duckdb".
type TimeSeriesConfig struct {
	Type string `koanf:"type" validate:"oneof=none duckdb"`
	Path string `koanf:"path"`
}
