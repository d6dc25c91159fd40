package image

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Real-JW/zkbench/pkg/artifacts"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ImageBuilder is what the cache calls on a miss.
type ImageBuilder interface {
	Build(ctx context.Context, src Source) (*GuestImage, error)
}

// CacheOptions configures a Cache. Nil Index and Blobs disable the
// persistent tier; the in-process LRU is always on.
type CacheOptions struct {
	Size   int
	Index  Index
	Blobs  artifacts.Store
	Logger *slog.Logger
}

// CacheStats counts lookups since the cache was created.
type CacheStats struct {
	MemoryHits int64
	StoreHits  int64
	Builds     int64
	Corrupt    int64
}

// Cache returns the image for a source, building it at most once per
// distinct source hash even under concurrent requests.
type Cache struct {
	builder ImageBuilder
	mem     *lru.Cache[string, *GuestImage]
	index   Index
	blobs   artifacts.Store
	group   singleflight.Group
	logger  *slog.Logger

	memoryHits, storeHits, builds, corrupt atomic.Int64
}

// DefaultCacheSize is the LRU capacity used when CacheOptions.Size is zero.
const DefaultCacheSize = 32

// NewCache creates a cache in front of b.
func NewCache(b ImageBuilder, opts CacheOptions) (*Cache, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultCacheSize
	}
	mem, err := lru.New[string, *GuestImage](size)
	if err != nil {
		return nil, fmt.Errorf("image cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "image-cache")
	}
	return &Cache{
		builder: b,
		mem:     mem,
		index:   opts.Index,
		blobs:   opts.Blobs,
		logger:  logger,
	}, nil
}

// GetOrBuild returns the cached image for src or builds it. Waiters on an
// in-flight build stop waiting when their own ctx ends; the build itself
// keeps running for the others.
func (c *Cache) GetOrBuild(ctx context.Context, src Source) (*GuestImage, error) {
	key, err := src.Hash()
	if err != nil {
		return nil, zkerr.New(zkerr.KindBuild, "hash source", err)
	}
	if img, ok := c.mem.Get(key); ok {
		c.memoryHits.Add(1)
		return img, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), key, src)
	})
	select {
	case <-ctx.Done():
		return nil, zkerr.New(zkerr.KindCancelled, "build "+src.Name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*GuestImage), nil
	}
}

func (c *Cache) load(ctx context.Context, key string, src Source) (*GuestImage, error) {
	if img, ok := c.mem.Get(key); ok {
		c.memoryHits.Add(1)
		return img, nil
	}
	if img := c.loadStored(ctx, key, src); img != nil {
		c.storeHits.Add(1)
		c.mem.Add(key, img)
		return img, nil
	}

	c.builds.Add(1)
	img, err := c.builder.Build(ctx, src)
	if err != nil {
		return nil, err
	}
	c.persist(ctx, key, img)
	c.mem.Add(key, img)
	return img, nil
}

// loadStored consults the persistent tier. Any failure or integrity
// mismatch is a miss.
func (c *Cache) loadStored(ctx context.Context, key string, src Source) *GuestImage {
	if c.index == nil || c.blobs == nil {
		return nil
	}
	id, ok, err := c.index.Lookup(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "image index lookup failed", "guest", src.Name, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	data, err := c.blobs.Get(ctx, id.String())
	if err != nil {
		c.logger.WarnContext(ctx, "cached image unavailable", "guest", src.Name, "image_id", id.String(), "error", err)
		return nil
	}
	img, err := FromBytes(ctx, src.Name, data)
	if err != nil || img.ID() != id {
		c.corrupt.Add(1)
		c.logger.WarnContext(ctx, "cached image failed integrity check, rebuilding",
			"guest", src.Name, "image_id", id.String())
		_ = c.index.Forget(ctx, key)
		return nil
	}
	return img
}

func (c *Cache) persist(ctx context.Context, key string, img *GuestImage) {
	if c.index == nil || c.blobs == nil {
		return
	}
	hash, err := c.blobs.Store(ctx, img.Bytes())
	if err != nil {
		c.logger.WarnContext(ctx, "failed to store image bytes", "image_id", img.ID().String(), "error", err)
		return
	}
	if hash != img.ID().String() {
		c.logger.ErrorContext(ctx, "artifact hash disagrees with image id", "hash", hash, "image_id", img.ID().String())
		return
	}
	if err := c.index.Record(ctx, key, img.ID()); err != nil {
		c.logger.WarnContext(ctx, "failed to record image index entry", "image_id", img.ID().String(), "error", err)
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		MemoryHits: c.memoryHits.Load(),
		StoreHits:  c.storeHits.Load(),
		Builds:     c.builds.Load(),
		Corrupt:    c.corrupt.Load(),
	}
}
