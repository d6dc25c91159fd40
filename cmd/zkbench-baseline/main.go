// Command zkbench-baseline runs a workload natively and reports its output
// digest and wall-clock time, the reference the zkVM runs are compared to.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Real-JW/zkbench/internal/cli"
	"github.com/Real-JW/zkbench/pkg/baseline"
	"github.com/Real-JW/zkbench/pkg/config"
	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

func main() {
	os.Exit(Run(os.Args[1:], os.Stdout, os.Stderr))
}

type result struct {
	Workload     string  `json:"workload"`
	InputBytes   int     `json:"input_bytes"`
	OutputBytes  int     `json:"output_bytes"`
	OutputDigest string  `json:"output_digest"`
	Seconds      float64 `json:"seconds"`
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = workload completed
//	2 = usage or configuration error
//	4 = the workload rejected its input
//	7 = interrupted
func Run(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("zkbench-baseline", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		name       string
		in         cli.InputFlags
		outPath    string
		list       bool
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "YAML config `file` layered over the environment")
	cmd.StringVar(&name, "workload", "", "Workload name (REQUIRED)")
	in.Register(cmd)
	cmd.StringVar(&outPath, "out", "", "Write the raw output to `file`")
	cmd.BoolVar(&list, "list", false, "List the available workloads")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return zkerr.KindConfig.ExitCode()
	}

	reg := workload.Default()
	if list {
		for _, n := range reg.List() {
			_, _ = fmt.Fprintln(stdout, n)
		}
		return zkerr.ExitOK
	}
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --workload is required")
		return zkerr.KindConfig.ExitCode()
	}

	cfg, err := config.LoadFile(configPath)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return fail(stderr, err)
	}
	logger := cfg.Logger(stderr)
	slog.SetDefault(logger)

	w, err := reg.Get(name)
	if err != nil {
		return fail(stderr, zkerr.New(zkerr.KindConfig, "workload", err))
	}
	input, err := in.Read(reg, name)
	if err != nil {
		return fail(stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := baseline.New(w, baseline.WithLogger(logger.With("component", "baseline"))).Run(ctx, input)
	if err != nil {
		return fail(stderr, err)
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, res.Output, 0o600); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindConfig, "write output", err))
		}
	}

	sum := sha256.Sum256(res.Output)
	r := result{
		Workload:     res.Workload,
		InputBytes:   len(input),
		OutputBytes:  len(res.Output),
		OutputDigest: "sha256:" + hex.EncodeToString(sum[:]),
		Seconds:      res.Elapsed.Seconds(),
	}
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write result", err))
		}
		return zkerr.ExitOK
	}
	_, _ = fmt.Fprintf(stdout, "workload: %s\n", r.Workload)
	_, _ = fmt.Fprintf(stdout, "input:    %d bytes\n", r.InputBytes)
	_, _ = fmt.Fprintf(stdout, "output:   %d bytes %s\n", r.OutputBytes, r.OutputDigest)
	_, _ = fmt.Fprintf(stdout, "time:     %s\n", res.Elapsed)
	return zkerr.ExitOK
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return zkerr.KindOf(err).ExitCode()
}
