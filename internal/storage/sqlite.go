package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, channel_id, guild_id, title, interval_ms,
		        required, reacted, eligible, last_fired_ms, paused, created_at_ms
		 FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var rec record
		var required, reacted, eligible string
		var paused int
		if err := rows.Scan(&rec.MessageID, &rec.ChannelID, &rec.GuildID, &rec.Title,
			&rec.Interval, &required, &reacted, &eligible,
			&rec.LastFired, &paused, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Paused = paused != 0
		if err := json.Unmarshal([]byte(required), &rec.Required); err != nil {
			return nil, fmt.Errorf("reminder %s: bad required set: %w", rec.MessageID, err)
		}
		if err := json.Unmarshal([]byte(reacted), &rec.Reacted); err != nil {
			return nil, fmt.Errorf("reminder %s: bad reacted set: %w", rec.MessageID, err)
		}
		if err := json.Unmarshal([]byte(eligible), &rec.Eligible); err != nil {
			return nil, fmt.Errorf("reminder %s: bad eligible set: %w", rec.MessageID, err)
		}
		out = append(out, fromRecord(rec))
	}
	return out, rows.Err()
}

// SaveAll replaces the whole table inside one transaction, so a crash leaves
// either the previous snapshot or the new one committed.
func (s *sqliteStore) SaveAll(ctx context.Context, rs []reminder.Reminder) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reminders(message_id, channel_id, guild_id, title, interval_ms,
		                       required, reacted, eligible, last_fired_ms, paused, created_at_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rs {
		rec := toRecord(r)
		required, _ := json.Marshal(orEmpty(rec.Required))
		reacted, _ := json.Marshal(orEmpty(rec.Reacted))
		eligible, _ := json.Marshal(orEmpty(rec.Eligible))
		paused := 0
		if rec.Paused {
			paused = 1
		}
		if _, err := stmt.ExecContext(ctx, rec.MessageID, rec.ChannelID, rec.GuildID,
			rec.Title, rec.Interval, string(required), string(reacted), string(eligible),
			rec.LastFired, paused, rec.CreatedAt); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("snapshot committed", logx.Int("reminders", len(rs)))
	return nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
