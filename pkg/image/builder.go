package image

import (
	"context"
	"log/slog"
	"time"

	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// Builder compiles sources into guest images.
type Builder struct {
	toolchain Toolchain
	prebuilt  Toolchain
	logger    *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithBuildLogger sets the builder's logger.
func WithBuildLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder returns a builder that compiles directory sources with tc
// (GoToolchain when nil) and reads prebuilt sources directly.
func NewBuilder(tc Toolchain, opts ...BuilderOption) *Builder {
	if tc == nil {
		tc = GoToolchain{}
	}
	b := &Builder{
		toolchain: tc,
		prebuilt:  PrebuiltToolchain{},
		logger:    slog.Default().With("component", "image-builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build compiles src and returns its image. Every failure is KindBuild,
// except cancellation of ctx, which is KindCancelled.
func (b *Builder) Build(ctx context.Context, src Source) (*GuestImage, error) {
	if err := src.Validate(); err != nil {
		return nil, zkerr.New(zkerr.KindBuild, "build", err)
	}
	tc := b.toolchain
	if src.Prebuilt() {
		tc = b.prebuilt
	}

	start := time.Now()
	raw, err := tc.Compile(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, zkerr.New(zkerr.KindCancelled, "build "+src.Name, ctx.Err())
		}
		return nil, zkerr.New(zkerr.KindBuild, "build "+src.Name, err)
	}
	img, err := FromBytes(ctx, src.Name, raw)
	if err != nil {
		return nil, err
	}
	// Names are informational; the sections are already gone from img.
	stripped, _ := CustomSections(raw)
	b.logger.InfoContext(ctx, "guest image built",
		"guest", src.Name,
		"image_id", img.ID().String(),
		"size", img.Size(),
		"stripped_sections", stripped,
		"duration", time.Since(start))
	return img, nil
}
