// Package store keeps the local call history in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/namithm70/fitness-sub000/internal/core"
	"github.com/namithm70/fitness-sub000/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

const DefaultListLimit = 50

type History struct {
	db *sql.DB
}

// Open opens or creates the history database at path. ":memory:" is accepted.
func Open(path string) (*History, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure history: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	log.Info().Str("module", "store").Str("path", path).Msg("call history opened")
	return &History{db: db}, nil
}

func (h *History) Close() error { return h.db.Close() }

// Record stores a finished session; recording the same session again overwrites it.
func (h *History) Record(ctx context.Context, rec core.CallRecord) error {
	_, err := h.db.ExecContext(ctx, `INSERT INTO calls (session_id, peer, call_type, direction, reason, started_at, answered_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			reason=excluded.reason,
			answered_at=excluded.answered_at,
			ended_at=excluded.ended_at`,
		string(rec.SessionID), string(rec.Peer), string(rec.Type), string(rec.Direction), string(rec.Reason),
		millis(rec.StartedAt), millis(rec.AnsweredAt), millis(rec.EndedAt))
	if err != nil {
		return fmt.Errorf("record call %s: %w", rec.SessionID, err)
	}
	return nil
}

// List returns the most recent calls first.
func (h *History) List(ctx context.Context, limit int) ([]core.CallRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := h.db.QueryContext(ctx, `SELECT session_id, peer, call_type, direction, reason, started_at, answered_at, ended_at
		FROM calls ORDER BY ended_at DESC, started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []core.CallRecord
	for rows.Next() {
		var (
			rec                      core.CallRecord
			sid, peer, ct, dir, rsn  string
			started, answered, ended int64
		)
		if err := rows.Scan(&sid, &peer, &ct, &dir, &rsn, &started, &answered, &ended); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.SessionID = domain.SessionID(sid)
		rec.Peer = domain.UserID(peer)
		rec.Type = domain.CallType(ct)
		rec.Direction = domain.Direction(dir)
		rec.Reason = domain.EndReason(rsn)
		rec.StartedAt = fromMillis(started)
		rec.AnsweredAt = fromMillis(answered)
		rec.EndedAt = fromMillis(ended)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
