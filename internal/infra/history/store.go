package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vera-home/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS state_updates (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id    INTEGER NOT NULL,
    name         TEXT NOT NULL,
    category     TEXT NOT NULL,
    attributes   TEXT NOT NULL,
    recorded_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_state_updates_device ON state_updates(device_id, recorded_at);

CREATE TABLE IF NOT EXISTS commands (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id    INTEGER NOT NULL,
    target_type  TEXT NOT NULL,
    action       TEXT NOT NULL,
    parameters   TEXT NOT NULL,
    source       TEXT NOT NULL,
    result       TEXT NOT NULL,
    error        TEXT NOT NULL,
    recorded_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_device ON commands(device_id, recorded_at);
`

// StateRecord is one stored device snapshot.
type StateRecord struct {
	ID         int64             `json:"id"`
	DeviceID   int               `json:"device_id"`
	Name       string            `json:"name"`
	Category   string            `json:"category"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// CommandRecord is one command issued through the bridge.
type CommandRecord struct {
	ID         int64          `json:"id"`
	DeviceID   int            `json:"device_id"`
	TargetType string         `json:"target_type"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Store keeps an audit trail of state updates and commands in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Name() string { return "history" }

func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return s.db.Close() }

// HandleState appends a snapshot to the device's history.
func (s *Store) HandleState(ctx context.Context, snap domain.DeviceSnapshot) error {
	attrs, err := json.Marshal(snap.Attributes)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}
	at := snap.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO state_updates (device_id, name, category, attributes, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.Name, snap.Category.String(), string(attrs), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording state for device %d: %w", snap.ID, err)
	}
	return nil
}

func (s *Store) RecordCommand(ctx context.Context, rec CommandRecord) error {
	params := []byte("{}")
	if len(rec.Parameters) > 0 {
		var err error
		if params, err = json.Marshal(rec.Parameters); err != nil {
			return fmt.Errorf("encoding parameters: %w", err)
		}
	}
	at := rec.RecordedAt
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands (device_id, target_type, action, parameters, source, result, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.DeviceID, rec.TargetType, rec.Action, string(params), rec.Source, rec.Result, rec.Error, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("recording command: %w", err)
	}
	return nil
}

// States returns the newest snapshots for a device, newest first.
func (s *Store) States(ctx context.Context, deviceID, limit int) ([]StateRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, name, category, attributes, recorded_at
		FROM state_updates WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?
	`, deviceID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	var out []StateRecord
	for rows.Next() {
		var (
			r     StateRecord
			attrs string
			at    int64
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.Name, &r.Category, &attrs, &at); err != nil {
			return nil, fmt.Errorf("scanning state: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes: %w", err)
		}
		r.RecordedAt = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Commands returns the newest commands for a device, newest first.
func (s *Store) Commands(ctx context.Context, deviceID, limit int) ([]CommandRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, target_type, action, parameters, source, result, error, recorded_at
		FROM commands WHERE device_id = ?
		ORDER BY recorded_at DESC, id DESC LIMIT ?
	`, deviceID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	var out []CommandRecord
	for rows.Next() {
		var (
			r      CommandRecord
			params string
			at     int64
		)
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.TargetType, &r.Action, &params, &r.Source, &r.Result, &r.Error, &at); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if err := json.Unmarshal([]byte(params), &r.Parameters); err != nil {
			return nil, fmt.Errorf("decoding parameters: %w", err)
		}
		if len(r.Parameters) == 0 {
			r.Parameters = nil
		}
		r.RecordedAt = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes everything recorded before the cutoff and returns the
// number of removed rows.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"state_updates", "commands"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE recorded_at < ?", before.UnixMilli())
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// StartPruning removes rows older than retention once a day until ctx ends.
func (s *Store) StartPruning(ctx context.Context, retention time.Duration, onError func(error)) {
	prune := func() {
		if _, err := s.Prune(ctx, time.Now().Add(-retention)); err != nil && onError != nil {
			onError(err)
		}
	}
	prune()

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prune()
			}
		}
	}()
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
