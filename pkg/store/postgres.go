package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"

	_ "github.com/lib/pq"
)

// PostgresReceiptStore keeps records in PostgreSQL.
type PostgresReceiptStore struct {
	db *sql.DB
}

// OpenPostgres connects with dsn and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresReceiptStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgresReceiptStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresReceiptStore wraps db. Call Migrate before first use on a new
// database.
func NewPostgresReceiptStore(db *sql.DB) *PostgresReceiptStore {
	return &PostgresReceiptStore{db: db}
}

// Migrate creates the receipts table and index if missing.
func (s *PostgresReceiptStore) Migrate(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS receipts (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			workload TEXT NOT NULL DEFAULT '',
			image_id TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			steps BIGINT NOT NULL DEFAULT 0,
			receipt BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS receipts_image_created ON receipts (image_id, created_at DESC)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate receipts: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	r, err := toRow(rec)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO receipts (id, run_id, workload, image_id, status, reason, steps, receipt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		r.id, r.runID, r.workload, r.imageID, r.status, r.reason, r.steps, r.receipt, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert receipt: %w", err)
	}
	return nil
}

const postgresSelect = `SELECT id, run_id, workload, image_id, status, reason, steps, receipt, created_at FROM receipts`

func (s *PostgresReceiptStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanPostgres(s.db.QueryRowContext(ctx, postgresSelect+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

func (s *PostgresReceiptStore) ListByImage(ctx context.Context, id image.ID, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		postgresSelect+` WHERE image_id = $1 ORDER BY created_at DESC, id LIMIT $2`,
		id.String(), normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresReceiptStore) Close() error { return s.db.Close() }

func scanPostgres(sc scanner) (*Record, error) {
	var (
		r       row
		created time.Time
	)
	if err := sc.Scan(&r.id, &r.runID, &r.workload, &r.imageID, &r.status, &r.reason, &r.steps, &r.receipt, &created); err != nil {
		return nil, err
	}
	return r.record(created)
}
