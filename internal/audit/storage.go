package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/duskfall/duskfall/internal/settings"
	"github.com/duskfall/duskfall/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings_changes (
	id          BIGSERIAL PRIMARY KEY,
	changed_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	requester   TEXT NOT NULL,
	old_record  JSONB NOT NULL,
	new_record  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS state_transitions (
	id             BIGSERIAL PRIMARY KEY,
	cycle_id       TEXT NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	trigger        TEXT NOT NULL,
	intensity_from INTEGER NOT NULL,
	intensity_to   INTEGER NOT NULL,
	window_source  TEXT NOT NULL,
	active         BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settings_changes_changed_at ON settings_changes (changed_at DESC);
CREATE INDEX IF NOT EXISTS idx_state_transitions_occurred_at ON state_transitions (occurred_at DESC);
`

// Recorder writes an audit trail of settings changes and state transitions
// to Postgres. Every method degrades to a no-op when the database is not
// connected: auditing must never fail a reconciliation cycle.
type Recorder struct {
	pg     postgres.Client
	logger *slog.Logger
}

// SettingsChange is one accepted settings update
type SettingsChange struct {
	ID        int64
	ChangedAt time.Time
	Requester string
	Old       settings.Settings
	New       settings.Settings
}

// NewRecorder creates an audit recorder backed by the given Postgres client
func NewRecorder(pg postgres.Client, logger *slog.Logger) *Recorder {
	return &Recorder{
		pg:     pg,
		logger: logger,
	}
}

// Init creates the audit tables if they do not exist
func (r *Recorder) Init(ctx context.Context) error {
	if !r.pg.IsConnected() {
		return fmt.Errorf("postgres not connected")
	}
	if _, err := r.pg.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// RecordSettingsChange stores an accepted settings update with its old and
// new records
func (r *Recorder) RecordSettingsChange(ctx context.Context, requester string, oldRecord, newRecord settings.Settings) error {
	if !r.pg.IsConnected() {
		r.logger.Debug("Audit disabled or disconnected, skipping settings change record")
		return nil
	}

	oldJSON, err := json.Marshal(oldRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal old settings: %w", err)
	}
	newJSON, err := json.Marshal(newRecord)
	if err != nil {
		return fmt.Errorf("failed to marshal new settings: %w", err)
	}

	_, err = r.pg.Exec(ctx,
		`INSERT INTO settings_changes (requester, old_record, new_record) VALUES ($1, $2, $3)`,
		requester, oldJSON, newJSON)
	if err != nil {
		return fmt.Errorf("failed to insert settings change: %w", err)
	}

	return nil
}

// RecordTransition stores one state transition produced by a reconciliation
// cycle
func (r *Recorder) RecordTransition(ctx context.Context, cycleID, trigger string, intensityFrom, intensityTo int, windowSource string, active bool) error {
	if !r.pg.IsConnected() {
		r.logger.Debug("Audit disabled or disconnected, skipping transition record")
		return nil
	}

	_, err := r.pg.Exec(ctx,
		`INSERT INTO state_transitions (cycle_id, trigger, intensity_from, intensity_to, window_source, active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		cycleID, trigger, intensityFrom, intensityTo, windowSource, active)
	if err != nil {
		return fmt.Errorf("failed to insert state transition: %w", err)
	}

	return nil
}

// RecentChanges returns the most recent settings changes, newest first
func (r *Recorder) RecentChanges(ctx context.Context, limit int) ([]SettingsChange, error) {
	if !r.pg.IsConnected() {
		return nil, fmt.Errorf("postgres not connected")
	}

	rows, err := r.pg.Query(ctx,
		`SELECT id, changed_at, requester, old_record, new_record
		 FROM settings_changes ORDER BY changed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings changes: %w", err)
	}
	defer rows.Close()

	var changes []SettingsChange
	for rows.Next() {
		var change SettingsChange
		var oldJSON, newJSON []byte

		if err := rows.Scan(&change.ID, &change.ChangedAt, &change.Requester, &oldJSON, &newJSON); err != nil {
			return nil, fmt.Errorf("failed to scan settings change: %w", err)
		}
		if err := json.Unmarshal(oldJSON, &change.Old); err != nil {
			return nil, fmt.Errorf("failed to parse old record: %w", err)
		}
		if err := json.Unmarshal(newJSON, &change.New); err != nil {
			return nil, fmt.Errorf("failed to parse new record: %w", err)
		}

		changes = append(changes, change)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings changes: %w", err)
	}

	return changes, nil
}
