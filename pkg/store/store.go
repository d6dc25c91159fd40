// Package store persists receipts together with the verification status the
// host observed for them.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/google/uuid"
)

// Status is the self-verification result recorded with a receipt.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// ErrNotFound is returned by Get for unknown record IDs.
var ErrNotFound = errors.New("receipt record not found")

// Record is one stored receipt.
type Record struct {
	ID        string
	RunID     string
	Workload  string
	ImageID   image.ID
	Status    Status
	Reason    string
	Steps     uint64
	Receipt   *receipt.Receipt
	CreatedAt time.Time
}

// NewRecord assigns a fresh ID and timestamp.
func NewRecord(runID, workload string, r *receipt.Receipt, steps uint64, status Status, reason string) *Record {
	rec := &Record{
		ID:        uuid.NewString(),
		RunID:     runID,
		Workload:  workload,
		Status:    status,
		Reason:    reason,
		Steps:     steps,
		Receipt:   r,
		CreatedAt: time.Now().UTC(),
	}
	if r != nil {
		rec.ImageID = r.ImageID
	}
	return rec
}

// Validate checks the fields every backend requires.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return errors.New("store: nil record")
	case r.ID == "":
		return errors.New("store: record id is required")
	case r.Receipt == nil:
		return errors.New("store: record has no receipt")
	case r.Receipt.ImageID != r.ImageID:
		return fmt.Errorf("store: record image %s differs from receipt image %s", r.ImageID, r.Receipt.ImageID)
	case r.Status != StatusAccepted && r.Status != StatusRejected:
		return fmt.Errorf("store: unknown status %q", r.Status)
	}
	return nil
}

// ReceiptStore persists records.
type ReceiptStore interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// ListByImage returns the newest records for an image first.
	ListByImage(ctx context.Context, id image.ID, limit int) ([]*Record, error)
	Close() error
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// row is the column layout shared by the SQL backends.
type row struct {
	id, runID, workload, imageID string
	status, reason               string
	steps                        int64
	receipt                      []byte
}

func toRow(rec *Record) (row, error) {
	data, err := receipt.Encode(rec.Receipt)
	if err != nil {
		return row{}, fmt.Errorf("encode receipt: %w", err)
	}
	return row{
		id:       rec.ID,
		runID:    rec.RunID,
		workload: rec.Workload,
		imageID:  rec.ImageID.String(),
		status:   string(rec.Status),
		reason:   rec.Reason,
		steps:    int64(rec.Steps), //nolint:gosec // step counts are far below 2^63
		receipt:  data,
	}, nil
}

func (r row) record(created time.Time) (*Record, error) {
	id, err := image.ParseID(r.imageID)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.id, err)
	}
	rc, err := receipt.Decode(r.receipt)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", r.id, err)
	}
	return &Record{
		ID:        r.id,
		RunID:     r.runID,
		Workload:  r.workload,
		ImageID:   id,
		Status:    Status(r.status),
		Reason:    r.reason,
		Steps:     uint64(r.steps), //nolint:gosec // written from a uint64
		Receipt:   rc,
		CreatedAt: created.UTC(),
	}, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
