package repository

// Schema definitions for the VoxGuard database. Timestamps are stored as
// unix milliseconds so SQLite and PostgreSQL compare them the same way.

const schemaCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id TEXT PRIMARY KEY,
    call_id TEXT NOT NULL UNIQUE,
    a_number TEXT NOT NULL,
    b_number TEXT NOT NULL,
    source_ip TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    started_at BIGINT NOT NULL,
    answered_at BIGINT,
    ended_at BIGINT,
    alert_id TEXT NOT NULL DEFAULT '',
    updated_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_calls_b_started ON calls(b_number, started_at);
CREATE INDEX IF NOT EXISTS idx_calls_alert ON calls(alert_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    b_number TEXT NOT NULL,
    fraud_type TEXT NOT NULL,
    distinct_callers INTEGER NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    risk TEXT NOT NULL,
    method TEXT NOT NULL,
    source_ips TEXT NOT NULL,
    a_numbers TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    acknowledged_by TEXT NOT NULL DEFAULT '',
    acknowledged_at BIGINT,
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at BIGINT,
    resolution TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON fraud_alerts(status, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_b_status ON fraud_alerts(b_number, status, created_at);
`

const schemaBlacklist = `
CREATE TABLE IF NOT EXISTS blacklist (
    id TEXT PRIMARY KEY,
    value TEXT NOT NULL UNIQUE,
    reason TEXT NOT NULL DEFAULT '',
    alert_id TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    expires_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blacklist_expires ON blacklist(expires_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCalls,
		schemaAlerts,
		schemaBlacklist,
	}
}
