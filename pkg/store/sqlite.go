package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"

	_ "modernc.org/sqlite"
)

// sqliteTime is fixed width so created_at sorts as text.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteReceiptStore keeps records in a SQLite database.
type SQLiteReceiptStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteReceiptStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteReceiptStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteReceiptStore wraps db and creates the schema.
func NewSQLiteReceiptStore(ctx context.Context, db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate(ctx context.Context) error {
	stmts := []string{`
	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		workload TEXT NOT NULL DEFAULT '',
		image_id TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		steps INTEGER NOT NULL DEFAULT 0,
		receipt BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`,
		`CREATE INDEX IF NOT EXISTS receipts_image_created ON receipts (image_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate receipts: %w", err)
		}
	}
	return nil
}

func (s *SQLiteReceiptStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	const query = `INSERT INTO receipts (id, run_id, workload, image_id, status, reason, steps, receipt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	_, err = s.db.ExecContext(ctx, query,
		r.id, r.runID, r.workload, r.imageID, r.status, r.reason, r.steps, r.receipt,
		rec.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

const sqliteColumns = `id, run_id, workload, image_id, status, reason, steps, receipt, created_at`

func (s *SQLiteReceiptStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanSQLite(s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM receipts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

func (s *SQLiteReceiptStore) ListByImage(ctx context.Context, id image.ID, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM receipts WHERE image_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		id.String(), normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteReceiptStore) Close() error { return s.db.Close() }

func scanSQLite(sc scanner) (*Record, error) {
	var (
		r       row
		created string
	)
	if err := sc.Scan(&r.id, &r.runID, &r.workload, &r.imageID, &r.status, &r.reason, &r.steps, &r.receipt, &created); err != nil {
		return nil, err
	}
	ts, err := time.Parse(sqliteTime, created)
	if err != nil {
		return nil, fmt.Errorf("record %s: created_at: %w", r.id, err)
	}
	return r.record(ts)
}
