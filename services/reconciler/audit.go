package reconciler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// ErrAuditPathRequired is returned when the audit store path is missing.
var ErrAuditPathRequired = errors.New("reconciler: audit store path must be configured")

// AuditLog persists reconciliation pass summaries and the per-instrument
// actions taken during each pass. It backs operator investigations into why an
// instrument moved state.
type AuditLog struct {
	db *sql.DB
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS recon_passes (
    id          TEXT PRIMARY KEY,
    kind        TEXT NOT NULL,
    started_at  INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    scanned     INTEGER NOT NULL,
    applied     INTEGER NOT NULL,
    errors      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS recon_facts (
    pass_id       TEXT NOT NULL,
    instrument_id INTEGER NOT NULL,
    action        TEXT NOT NULL,
    detail        TEXT NOT NULL,
    recorded_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS recon_facts_instrument ON recon_facts(instrument_id);
`

// OpenAudit initialises the audit store using a sqlite-compatible DSN.
func OpenAudit(path string) (*AuditLog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrAuditPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("reconciler: open audit store: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("reconciler: apply audit schema: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Close releases database resources.
func (a *AuditLog) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// PassSummary aggregates one reconciliation pass for the audit trail.
type PassSummary struct {
	ID       string
	Kind     string
	Started  time.Time
	Finished time.Time
	Scanned  int
	Applied  int
	Errors   int
}

// RecordPass persists a pass summary.
func (a *AuditLog) RecordPass(ctx context.Context, summary PassSummary) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO recon_passes(id, kind, started_at, finished_at, scanned, applied, errors)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, summary.ID, summary.Kind, summary.Started.UTC().Unix(), summary.Finished.UTC().Unix(), summary.Scanned, summary.Applied, summary.Errors)
	if err != nil {
		return fmt.Errorf("reconciler: insert pass: %w", err)
	}
	return nil
}

// RecordFact persists one per-instrument action taken during a pass.
func (a *AuditLog) RecordFact(ctx context.Context, passID string, instrumentID uint64, action, detail string) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO recon_facts(pass_id, instrument_id, action, detail, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, passID, instrumentID, action, detail, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("reconciler: insert fact: %w", err)
	}
	return nil
}

// FactCount returns how many facts reference the instrument. Exposed for the
// admin surface and tests.
func (a *AuditLog) FactCount(ctx context.Context, instrumentID uint64) (int, error) {
	if a == nil || a.db == nil {
		return 0, nil
	}
	row := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recon_facts WHERE instrument_id = ?`, instrumentID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("reconciler: count facts: %w", err)
	}
	return count, nil
}
