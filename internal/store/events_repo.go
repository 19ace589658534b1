package store

import (
	"context"
	"fmt"
	"time"

	"github.com/craftbot/gocraft/internal/domain"
)

// AppendEvent appends one event-log entry and applies the per-bot retention cap.
func (s *Store) AppendEvent(ctx context.Context, e domain.EventLogEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO event_log (bot_id,owner_id,event_type,message,ts) VALUES (?,?,?,?,?)
`, e.BotID, e.OwnerID, string(e.EventType), e.Message, ts.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if s.maxEventsPerBot > 0 {
		// best-effort prune; the log stays append-only from the caller's view
		_, _ = s.db.ExecContext(ctx, `
DELETE FROM event_log WHERE bot_id=? AND id NOT IN (
  SELECT id FROM event_log WHERE bot_id=? ORDER BY id DESC LIMIT ?
)`, e.BotID, e.BotID, s.maxEventsPerBot)
	}
	return nil
}

// ListEvents returns the most recent events for a bot, newest first.
func (s *Store) ListEvents(ctx context.Context, botID string, limit int) ([]domain.EventLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT bot_id,owner_id,event_type,message,ts
FROM event_log WHERE bot_id=? ORDER BY id DESC LIMIT ?
`, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EventLogEntry
	for rows.Next() {
		var e domain.EventLogEntry
		var eventType, ts string
		if err := rows.Scan(&e.BotID, &e.OwnerID, &eventType, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.EventType = domain.EventType(eventType)
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CountEvents(ctx context.Context, botID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log WHERE bot_id=?`, botID).Scan(&n)
	return n, err
}
