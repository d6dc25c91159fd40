package image

import (
	"context"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/tetratelabs/wazero"
)

// GuestImage is an immutable, content-identified guest binary. It is safe to
// share between goroutines.
type GuestImage struct {
	name  string
	bytes []byte
	id    ID
}

// FromBytes normalizes raw, checks that the result is a loadable
// WebAssembly module and returns the image. Failures are KindBuild.
func FromBytes(ctx context.Context, name string, raw []byte) (*GuestImage, error) {
	normalized, err := Normalize(raw)
	if err != nil {
		return nil, zkerr.New(zkerr.KindBuild, "normalize "+name, err)
	}
	if err := validate(ctx, normalized); err != nil {
		return nil, zkerr.New(zkerr.KindBuild, "validate "+name, err)
	}
	return &GuestImage{name: name, bytes: normalized, id: ComputeID(normalized)}, nil
}

// ID returns the image identity.
func (g *GuestImage) ID() ID { return g.id }

// Name returns the guest name the image was built from. It is informational
// and not part of the identity.
func (g *GuestImage) Name() string { return g.name }

// Size returns the normalized byte length.
func (g *GuestImage) Size() int { return len(g.bytes) }

// Bytes returns a copy of the normalized image bytes.
func (g *GuestImage) Bytes() []byte {
	out := make([]byte, len(g.bytes))
	copy(out, g.bytes)
	return out
}

func (g *GuestImage) String() string {
	return fmt.Sprintf("%s@%s", g.name, g.id)
}

// validate compiles the module without instantiating it.
func validate(ctx context.Context, bin []byte) error {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer func() { _ = r.Close(ctx) }()

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	if _, ok := compiled.ExportedFunctions()["_start"]; !ok {
		return fmt.Errorf("module does not export _start")
	}
	return nil
}
