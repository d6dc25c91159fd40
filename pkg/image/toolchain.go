package image

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Toolchain turns a Source into raw WebAssembly bytes.
type Toolchain interface {
	Compile(ctx context.Context, src Source) ([]byte, error)
}

// GoToolchain compiles a Go main package for GOOS=wasip1 GOARCH=wasm.
type GoToolchain struct {
	// GoBin is the go command; "go" when empty.
	GoBin string
	// Env is appended to the process environment.
	Env []string
}

// compileOutputMax bounds the toolchain output kept in error messages.
const compileOutputMax = 8 * 1024

func (g GoToolchain) Compile(ctx context.Context, src Source) ([]byte, error) {
	if src.Dir == "" {
		return nil, fmt.Errorf("%w: %s: go toolchain needs a package directory", ErrInvalidSource, src.Name)
	}
	goBin := g.GoBin
	if goBin == "" {
		goBin = "go"
	}

	tmp, err := os.MkdirTemp("", "zkbench-build-*")
	if err != nil {
		return nil, fmt.Errorf("create build dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()
	out := filepath.Join(tmp, "guest.wasm")

	cmd := exec.CommandContext(ctx, goBin, "build",
		"-trimpath", "-buildvcs=false", "-ldflags=-s -w",
		"-o", out, ".")
	cmd.Dir = src.Dir
	cmd.Env = append(os.Environ(), "GOOS=wasip1", "GOARCH=wasm", "CGO_ENABLED=0")
	cmd.Env = append(cmd.Env, g.Env...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(output.String())
		if len(msg) > compileOutputMax {
			msg = msg[:compileOutputMax] + "..."
		}
		return nil, fmt.Errorf("go build %s: %w: %s", src.Dir, err, msg)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read build output: %w", err)
	}
	return data, nil
}

// PrebuiltToolchain reads an existing .wasm file.
type PrebuiltToolchain struct{}

func (PrebuiltToolchain) Compile(_ context.Context, src Source) ([]byte, error) {
	if src.Path == "" {
		return nil, fmt.Errorf("%w: %s: no prebuilt module path", ErrInvalidSource, src.Name)
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, fmt.Errorf("read prebuilt module: %w", err)
	}
	return data, nil
}
