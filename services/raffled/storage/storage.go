package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// Storage journals every mutating raffled API call as a receipt so operators
// can reconstruct who touched which raffle and when.
type Storage struct {
	db *sql.DB
}

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("raffled storage path must be configured")

// Receipt records the outcome of one mutating API call.
type Receipt struct {
	ID        string
	Operation string
	RaffleID  uint64
	Actor     string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// Receipt statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Open initialises the backing store using an sqlite-compatible DSN.
func Open(path string) (*Storage, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases database resources.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertReceipt persists one receipt. The id must be assigned by the caller.
func (s *Storage) InsertReceipt(ctx context.Context, r Receipt) error {
	if s == nil {
		return fmt.Errorf("storage not configured")
	}
	id := strings.TrimSpace(r.ID)
	if id == "" {
		return fmt.Errorf("receipt id required")
	}
	op := strings.TrimSpace(r.Operation)
	if op == "" {
		return fmt.Errorf("receipt operation required")
	}
	status := strings.TrimSpace(r.Status)
	if status != StatusOK && status != StatusFailed {
		return fmt.Errorf("receipt status %q invalid", r.Status)
	}
	created := r.CreatedAt.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO receipts(id, operation, raffle_id, actor, status, detail, created_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, id, op, strconv.FormatUint(r.RaffleID, 10), strings.TrimSpace(r.Actor), status, r.Detail, created)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// Receipts returns the most recent receipts, newest first.
func (s *Storage) Receipts(ctx context.Context, limit int) ([]Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, raffle_id, actor, status, detail, created_at
        FROM receipts
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	return scanReceipts(rows)
}

// ReceiptsByRaffle returns receipts touching the given raffle, newest first.
func (s *Storage) ReceiptsByRaffle(ctx context.Context, raffleID uint64, limit int) ([]Receipt, error) {
	if s == nil {
		return nil, fmt.Errorf("storage not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, operation, raffle_id, actor, status, detail, created_at
        FROM receipts
        WHERE raffle_id = ?
        ORDER BY created_at DESC, id DESC
        LIMIT ?
    `, strconv.FormatUint(raffleID, 10), limit)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	return scanReceipts(rows)
}

func scanReceipts(rows *sql.Rows) ([]Receipt, error) {
	defer rows.Close()
	receipts := make([]Receipt, 0)
	for rows.Next() {
		var (
			rec      Receipt
			raffleID string
		)
		if err := rows.Scan(&rec.ID, &rec.Operation, &raffleID, &rec.Actor, &rec.Status, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		parsed, err := strconv.ParseUint(raffleID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse raffle id %q: %w", raffleID, err)
		}
		rec.RaffleID = parsed
		receipts = append(receipts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate receipts: %w", err)
	}
	return receipts, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS receipts (
    id TEXT PRIMARY KEY,
    operation TEXT NOT NULL,
    raffle_id TEXT NOT NULL,
    actor TEXT NOT NULL,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipts_raffle ON receipts(raffle_id);
CREATE INDEX IF NOT EXISTS idx_receipts_created ON receipts(created_at);
`
