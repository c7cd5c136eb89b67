// Package store persists everything that must survive the process: the
// current run record, the send history, and the scheduled campaign queue.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"whatsapp-campaign/internal/model"
)

// KeyCurrentRun is the well-known key the active run is persisted under.
const KeyCurrentRun = "campaign/current"

// SQLite is the durable store. Safe for concurrent use; database/sql
// serializes access to the single file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return s, nil
}

func (s *SQLite) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS send_history (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL,
		name TEXT,
		message_hash TEXT NOT NULL,
		status TEXT NOT NULL,
		validated INTEGER NOT NULL DEFAULT 0,
		confirmed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_send_history_lookup ON send_history(number, message_hash, status);
	CREATE TABLE IF NOT EXISTS scheduled_campaigns (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_scheduled_due ON scheduled_campaigns(status, scheduled_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveCurrentRun overwrites the persisted run record.
func (s *SQLite) SaveCurrentRun(run *model.CampaignRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		KeyCurrentRun, string(data), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// LoadCurrentRun returns the persisted run record, or (nil, nil) when none
// exists.
func (s *SQLite) LoadCurrentRun() (*model.CampaignRun, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, KeyCurrentRun).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var run model.CampaignRun
	if err := json.Unmarshal([]byte(value), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// ClearCurrentRun removes the persisted run record.
func (s *SQLite) ClearCurrentRun() error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, KeyCurrentRun)
	if err != nil {
		return fmt.Errorf("failed to clear run: %w", err)
	}
	return nil
}

// RecordSend appends one outcome to the send history.
func (s *SQLite) RecordSend(rec model.SendRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO send_history (id, number, name, message_hash, status, validated, confirmed, error, sent_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Number, rec.Name, rec.MessageHash, rec.Status,
		boolToInt(rec.Validated), boolToInt(rec.Confirmed), rec.Error, rec.SentAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record send: %w", err)
	}
	return nil
}

// WasSent reports whether the number already has a successful send of the
// same rendered message on record.
func (s *SQLite) WasSent(number, messageHash string) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM send_history WHERE number = ? AND message_hash = ? AND status = ?`,
		number, messageHash, model.SendStatusSent,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query send history: %w", err)
	}
	return count > 0, nil
}

// AddScheduled inserts a pending scheduled campaign.
func (s *SQLite) AddScheduled(sc *model.ScheduledCampaign) error {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	if sc.Status == "" {
		sc.Status = model.SchedulePending
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}

	payload, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("failed to marshal scheduled campaign: %w", err)
	}

	now := time.Now().Unix()
	_, err = s.db.Exec(
		`INSERT INTO scheduled_campaigns (id, payload, scheduled_at, status, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, '', ?, ?)`,
		sc.ID, string(payload), sc.ScheduledAt.Unix(), string(sc.Status), sc.CreatedAt.Unix(), now,
	)
	if err != nil {
		return fmt.Errorf("failed to add scheduled campaign: %w", err)
	}
	return nil
}

// ListScheduled returns every scheduled campaign, newest first.
func (s *SQLite) ListScheduled() ([]model.ScheduledCampaign, error) {
	rows, err := s.db.Query(
		`SELECT payload, status, last_error FROM scheduled_campaigns ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled campaigns: %w", err)
	}
	defer rows.Close()

	return scanScheduled(rows)
}

// DueScheduled returns pending campaigns whose scheduled time has passed,
// oldest first.
func (s *SQLite) DueScheduled(now time.Time) ([]model.ScheduledCampaign, error) {
	rows, err := s.db.Query(
		`SELECT payload, status, last_error FROM scheduled_campaigns
		 WHERE status = ? AND scheduled_at <= ? ORDER BY scheduled_at ASC`,
		string(model.SchedulePending), now.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due campaigns: %w", err)
	}
	defer rows.Close()

	return scanScheduled(rows)
}

// ClaimScheduled atomically moves a pending row to processing. It returns
// false when the row was already claimed, cancelled or removed.
func (s *SQLite) ClaimScheduled(id string) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE scheduled_campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ScheduleProcessing), time.Now().Unix(), id, string(model.SchedulePending),
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled campaign: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim scheduled campaign: %w", err)
	}
	return affected == 1, nil
}

// UpdateScheduledStatus sets the status (and optional error) of a row.
func (s *SQLite) UpdateScheduledStatus(id string, status model.ScheduleStatus, lastError string) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_campaigns SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled campaign: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update scheduled campaign: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scheduled campaign %s not found", id)
	}
	return nil
}

// CancelScheduled cancels a row that has not started processing yet.
func (s *SQLite) CancelScheduled(id string) error {
	res, err := s.db.Exec(
		`UPDATE scheduled_campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.ScheduleCancelled), time.Now().Unix(), id, string(model.SchedulePending),
	)
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled campaign: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to cancel scheduled campaign: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("scheduled campaign %s is not pending", id)
	}
	return nil
}

func scanScheduled(rows *sql.Rows) ([]model.ScheduledCampaign, error) {
	var out []model.ScheduledCampaign
	for rows.Next() {
		var payload, status string
		var lastError sql.NullString
		if err := rows.Scan(&payload, &status, &lastError); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled campaign: %w", err)
		}

		var sc model.ScheduledCampaign
		if err := json.Unmarshal([]byte(payload), &sc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scheduled campaign: %w", err)
		}
		// The status columns are authoritative; the payload snapshot is
		// whatever was current at insert time.
		sc.Status = model.ScheduleStatus(status)
		sc.LastError = lastError.String
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read scheduled campaigns: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
