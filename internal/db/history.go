package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconctl/internal/events"
)

const historySchemaVersion = 1

// HistoryEntry is one recorded console exchange.
type HistoryEntry struct {
	ID        int64         `json:"id"`
	RequestID int32         `json:"request_id"`
	Source    string        `json:"source"`
	Command   string        `json:"command"`
	Response  string        `json:"response,omitempty"`
	Error     string        `json:"error,omitempty"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// HistoryStore persists executed commands in SQLite.
type HistoryStore struct {
	db *Database
}

// OpenHistory opens the history database at dbPath, creating the schema
// if needed.
func OpenHistory(dbPath string) (*HistoryStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	hs := &HistoryStore{db: database}
	if err := hs.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return hs, nil
}

func (hs *HistoryStore) migrate(ctx context.Context) error {
	return hs.db.Transaction(ctx, func(tx *sql.Tx) error {
		schema := `
			CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			);

			CREATE TABLE IF NOT EXISTS history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				request_id INTEGER NOT NULL,
				source TEXT NOT NULL DEFAULT '',
				command TEXT NOT NULL,
				response TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				success INTEGER NOT NULL DEFAULT 0,
				duration_ns INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_history_created_at ON history(created_at);
		`
		if _, err := tx.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}

		var version int
		err := tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", historySchemaVersion); err != nil {
				return fmt.Errorf("failed to record schema version: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to read schema version: %w", err)
		case version > historySchemaVersion:
			return fmt.Errorf("history schema version %d is newer than supported %d", version, historySchemaVersion)
		}

		log.Debug().Int("version", historySchemaVersion).Msg("history schema migrated")
		return nil
	})
}

// Record stores an entry and returns its row id. A zero CreatedAt is
// replaced with the current time.
func (hs *HistoryStore) Record(ctx context.Context, e HistoryEntry) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := hs.db.ExecContext(ctx, `
		INSERT INTO history (request_id, source, command, response, error, success, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.Source, e.Command, e.Response, e.Error, e.Success,
		int64(e.Duration), e.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record command: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (hs *HistoryStore) Recent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := hs.db.QueryContext(ctx, `
		SELECT id, request_id, source, command, response, error, success, duration_ns, created_at
		FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e          HistoryEntry
			durationNS int64
			createdMS  int64
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Source, &e.Command, &e.Response,
			&e.Error, &e.Success, &durationNS, &createdMS); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		e.Duration = time.Duration(durationNS)
		e.CreatedAt = time.UnixMilli(createdMS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (hs *HistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := hs.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM history").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep entries and returns how many rows
// were removed.
func (hs *HistoryStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := hs.db.ExecContext(ctx, `
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Attach records every command event published on bus.
func (hs *HistoryStore) Attach(bus *events.EventBus) {
	handler := func(ctx context.Context, event events.Event) error {
		p, ok := event.Payload.(events.CommandPayload)
		if !ok {
			return nil
		}
		_, err := hs.Record(ctx, HistoryEntry{
			RequestID: p.ID,
			Source:    p.Source,
			Command:   p.Command,
			Response:  p.Response,
			Error:     p.Error,
			Success:   event.Type == events.EventCommandExecuted,
			Duration:  p.Duration,
			CreatedAt: event.Timestamp,
		})
		return err
	}

	bus.Subscribe(events.EventCommandExecuted, "history.executed", handler)
	bus.Subscribe(events.EventCommandFailed, "history.failed", handler)
}

// Close closes the underlying database.
func (hs *HistoryStore) Close() error {
	return hs.db.Close()
}
