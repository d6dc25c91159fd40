package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Real-JW/zkbench/pkg/artifacts"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
)

// ArtifactReceiptStore writes each record as a blob to a content-addressed
// artifact store and indexes the blobs in memory. The index does not
// survive a restart; the blobs do, and Blob returns their hashes so callers
// can reference them.
type ArtifactReceiptStore struct {
	blobs artifacts.Store

	mu      sync.RWMutex
	byID    map[string]indexEntry
	byImage map[image.ID][]string
}

type indexEntry struct {
	hash      string
	createdAt time.Time
}

// recordBlob is the persisted form of a Record.
type recordBlob struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id"`
	Workload  string          `json:"workload"`
	Status    Status          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	Steps     uint64          `json:"steps"`
	CreatedAt time.Time       `json:"created_at"`
	Receipt   json.RawMessage `json:"receipt"`
}

// NewArtifactReceiptStore indexes records stored in blobs.
func NewArtifactReceiptStore(blobs artifacts.Store) *ArtifactReceiptStore {
	return &ArtifactReceiptStore{
		blobs:   blobs,
		byID:    make(map[string]indexEntry),
		byImage: make(map[image.ID][]string),
	}
}

func (s *ArtifactReceiptStore) Put(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	encoded, err := receipt.Encode(rec.Receipt)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	data, err := json.Marshal(recordBlob{
		ID:        rec.ID,
		RunID:     rec.RunID,
		Workload:  rec.Workload,
		Status:    rec.Status,
		Reason:    rec.Reason,
		Steps:     rec.Steps,
		CreatedAt: rec.CreatedAt.UTC(),
		Receipt:   encoded,
	})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	hash, err := s.blobs.Store(ctx, data)
	if err != nil {
		return fmt.Errorf("store record blob: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ID]; ok {
		return nil
	}
	s.byID[rec.ID] = indexEntry{hash: hash, createdAt: rec.CreatedAt}
	s.byImage[rec.ImageID] = append(s.byImage[rec.ImageID], rec.ID)
	return nil
}

// Blob returns the artifact hash holding the record.
func (s *ArtifactReceiptStore) Blob(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e.hash, ok
}

func (s *ArtifactReceiptStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := s.blobs.Get(ctx, e.hash)
	if err != nil {
		return nil, fmt.Errorf("load record %s: %w", id, err)
	}
	var b recordBlob
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	rc, err := receipt.Decode(b.Receipt)
	if err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &Record{
		ID:        b.ID,
		RunID:     b.RunID,
		Workload:  b.Workload,
		ImageID:   rc.ImageID,
		Status:    b.Status,
		Reason:    b.Reason,
		Steps:     b.Steps,
		Receipt:   rc,
		CreatedAt: b.CreatedAt,
	}, nil
}

func (s *ArtifactReceiptStore) ListByImage(ctx context.Context, id image.ID, limit int) ([]*Record, error) {
	s.mu.RLock()
	ids := append([]string(nil), s.byImage[id]...)
	created := make(map[string]time.Time, len(ids))
	for _, rid := range ids {
		created[rid] = s.byID[rid].createdAt
	}
	s.mu.RUnlock()

	sort.SliceStable(ids, func(i, j int) bool {
		ti, tj := created[ids[i]], created[ids[j]]
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return ids[i] < ids[j]
	})
	if n := normalizeLimit(limit); len(ids) > n {
		ids = ids[:n]
	}

	out := make([]*Record, 0, len(ids))
	for _, rid := range ids {
		rec, err := s.Get(ctx, rid)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ArtifactReceiptStore) Close() error { return nil }
