package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/craftbot/gocraft/internal/domain"
)

func (s *Store) CreateBot(ctx context.Context, b domain.BotRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bots (id,owner_id,name,server_host,server_port,edition,protocol_version,status,last_error,created_at,last_started_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
`, b.ID, b.OwnerID, b.Name, b.ServerHost, b.ServerPort, string(b.Edition), b.ProtocolVersion,
		string(b.Status), b.LastError, b.CreatedAt.Format(time.RFC3339Nano), fmtNullTime(b.LastStartedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert bot: %w", err)
	}
	return nil
}

// GetBot returns (nil, nil) when no bot with the given id exists.
func (s *Store) GetBot(ctx context.Context, botID string) (*domain.BotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,owner_id,name,server_host,server_port,edition,protocol_version,status,last_error,created_at,last_started_at
FROM bots WHERE id=?
`, botID)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// GetBotByName resolves a bot by its per-owner unique name. Returns (nil, nil)
// when no such bot exists, matching GetBot.
func (s *Store) GetBotByName(ctx context.Context, ownerID int64, name string) (*domain.BotRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,owner_id,name,server_host,server_port,edition,protocol_version,status,last_error,created_at,last_started_at
FROM bots WHERE owner_id=? AND name=?
`, ownerID, name)
	b, err := scanBot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}

// ListBots returns the owner's bots, most recently created first.
func (s *Store) ListBots(ctx context.Context, ownerID int64) ([]domain.BotRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id,owner_id,name,server_host,server_port,edition,protocol_version,status,last_error,created_at,last_started_at
FROM bots WHERE owner_id=? ORDER BY created_at DESC, id DESC
`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.BotRecord
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *Store) CountBots(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bots WHERE owner_id=?`, ownerID).Scan(&n)
	return n, err
}

// OwnerStats is one row of the per-owner bot census.
type OwnerStats struct {
	OwnerID int64
	Bots    int
}

// ListOwners returns every owner that has at least one bot, busiest first.
func (s *Store) ListOwners(ctx context.Context) ([]OwnerStats, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT owner_id, COUNT(*) FROM bots GROUP BY owner_id ORDER BY COUNT(*) DESC, owner_id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OwnerStats
	for rows.Next() {
		var o OwnerStats
		if err := rows.Scan(&o.OwnerID, &o.Bots); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpdateBotStatus mirrors the live session state into the record. lastErr may be
// nil to clear the previous error.
func (s *Store) UpdateBotStatus(ctx context.Context, botID string, status domain.BotStatus, lastErr *string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bots SET status=?, last_error=? WHERE id=?`,
		string(status), lastErr, botID)
	if err != nil {
		return fmt.Errorf("update bot status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetLastStartedAt(ctx context.Context, botID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE bots SET last_started_at=? WHERE id=?`,
		t.Format(time.RFC3339Nano), botID)
	if err != nil {
		return fmt.Errorf("update last_started_at: %w", err)
	}
	return nil
}

func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE id=?`, botID)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*domain.BotRecord, error) {
	var b domain.BotRecord
	var edition, status, createdAt string
	var lastErr, lastStartedAt sql.NullString
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &b.ServerHost, &b.ServerPort, &edition,
		&b.ProtocolVersion, &status, &lastErr, &createdAt, &lastStartedAt); err != nil {
		return nil, err
	}
	b.Edition = domain.Edition(edition)
	b.Status = domain.BotStatus(status)
	if lastErr.Valid && strings.TrimSpace(lastErr.String) != "" {
		v := lastErr.String
		b.LastError = &v
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastStartedAt.Valid && lastStartedAt.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastStartedAt.String); err == nil {
			b.LastStartedAt = &t
		}
	}
	return &b, nil
}

func fmtNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures in the error text
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}
