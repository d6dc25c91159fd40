package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Real-JW/zkbench/internal/cli"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// runImageIDCmd implements `zkbench-host image-id`: build (or load) a guest
// through the image cache and print its identity.
func runImageIDCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("image-id", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		name       string
		src        cli.SourceFlags
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "YAML config `file` layered over the environment")
	cmd.StringVar(&name, "name", "", "Guest name (default: base name of --guest or --wasm)")
	src.Register(cmd)
	cmd.BoolVar(&jsonOutput, "json", false, "Output as JSON")

	if err := cmd.Parse(args); err != nil {
		return zkerr.KindConfig.ExitCode()
	}
	if name == "" {
		switch {
		case src.Guest != "":
			name = filepath.Base(filepath.Clean(src.Guest))
		case src.Wasm != "":
			name = strings.TrimSuffix(filepath.Base(src.Wasm), filepath.Ext(src.Wasm))
		default:
			_, _ = fmt.Fprintln(stderr, "Error: one of --name, --guest or --wasm is required")
			return zkerr.KindConfig.ExitCode()
		}
	}

	cfg, logger, err := loadConfig(configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	source, err := src.Source(name)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openImages(ctx, cfg, logger)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = p.Close(context.Background()) }()

	img, err := p.cache.GetOrBuild(ctx, source)
	if err != nil {
		return fail(stderr, err)
	}

	if jsonOutput {
		out := struct {
			Name    string   `json:"name"`
			ImageID image.ID `json:"image_id"`
			Size    int      `json:"size"`
		}{img.Name(), img.ID(), img.Size()}
		if err := writeJSON(stdout, out); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write image id", err))
		}
		return zkerr.ExitOK
	}
	_, _ = fmt.Fprintln(stdout, img.ID())
	return zkerr.ExitOK
}
