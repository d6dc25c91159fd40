// Package cli holds flag handling shared by the zkbench binaries.
package cli

import (
	"flag"
	"io"
	"os"

	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// InputFlags selects a workload input. At most one source may be set; with
// none the input is empty.
type InputFlags struct {
	File     string
	Text     string
	Generate int
}

// Register binds the flags to fs.
func (f *InputFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.File, "input", "", "Read the workload input from `file` (- for stdin)")
	fs.StringVar(&f.Text, "text", "", "Use the given string as input")
	fs.IntVar(&f.Generate, "generate", 0, "Generate a representative input of about `n` units")
}

// Read resolves the input. Generated inputs come from the named workload's
// generator in reg.
func (f *InputFlags) Read(reg *workload.Registry, name string) ([]byte, error) {
	set := 0
	if f.File != "" {
		set++
	}
	if f.Text != "" {
		set++
	}
	if f.Generate > 0 {
		set++
	}
	if set > 1 {
		return nil, zkerr.Errorf(zkerr.KindConfig, "input", "--input, --text and --generate are mutually exclusive")
	}
	if f.Generate < 0 {
		return nil, zkerr.Errorf(zkerr.KindConfig, "input", "--generate must be positive, got %d", f.Generate)
	}

	switch {
	case f.File == "-":
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "read stdin", err)
		}
		return b, nil
	case f.File != "":
		b, err := os.ReadFile(f.File)
		if err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "read input", err)
		}
		return b, nil
	case f.Text != "":
		return []byte(f.Text), nil
	case f.Generate > 0:
		b, err := reg.Generate(name, f.Generate)
		if err != nil {
			return nil, zkerr.New(zkerr.KindConfig, "generate input", err)
		}
		return b, nil
	default:
		return []byte{}, nil
	}
}
