package cli

import (
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// DefaultInclude lists the shared guest dependencies hashed into every
// source built from this repository.
const DefaultInclude = "pkg/guest,pkg/workload,go.mod,go.sum"

// SourceFlags selects a guest program.
type SourceFlags struct {
	Guest   string
	Wasm    string
	Include string
}

// Register binds the flags to fs.
func (f *SourceFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.Guest, "guest", "", "Guest package `dir` (default guests/<workload>)")
	fs.StringVar(&f.Wasm, "wasm", "", "Use a prebuilt guest .wasm `file` instead of building")
	fs.StringVar(&f.Include, "include", DefaultInclude, "Comma-separated files or dirs hashed with the guest source")
}

// Source resolves the flags for the named guest. Missing include paths are
// skipped so the defaults work outside the repository root.
func (f *SourceFlags) Source(name string) (image.Source, error) {
	if f.Guest != "" && f.Wasm != "" {
		return image.Source{}, zkerr.Errorf(zkerr.KindConfig, "source", "--guest and --wasm are mutually exclusive")
	}
	if name == "" {
		return image.Source{}, zkerr.Errorf(zkerr.KindConfig, "source", "a guest name is required")
	}
	src := image.Source{Name: name}
	if f.Wasm != "" {
		src.Path = f.Wasm
		return src, nil
	}
	src.Dir = f.Guest
	if src.Dir == "" {
		src.Dir = filepath.Join("guests", name)
	}
	if _, err := os.Stat(src.Dir); err != nil {
		return image.Source{}, zkerr.New(zkerr.KindConfig, "source", err)
	}
	for _, p := range strings.Split(f.Include, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			src.Include = append(src.Include, p)
		}
	}
	return src, nil
}
