package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Real-JW/zkbench/internal/cli"
	"github.com/Real-JW/zkbench/pkg/host"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// runRunCmd implements `zkbench-host run`.
//
// Exit codes:
//
//	0 = receipt accepted (or baseline-only run completed)
//	1 = receipt rejected, baseline mismatch or failed assertion
//	2..8 = the error kind that ended the run
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath   string
		name         string
		src          cli.SourceFlags
		in           cli.InputFlags
		withBaseline bool
		baselineOnly bool
		assertExpr   string
		runs         int
		receiptOut   string
		jsonOutput   bool
	)
	cmd.StringVar(&configPath, "config", "", "YAML config `file` layered over the environment")
	cmd.StringVar(&name, "workload", "", "Workload name (REQUIRED)")
	src.Register(cmd)
	in.Register(cmd)
	cmd.BoolVar(&withBaseline, "baseline", false, "Run the native baseline and compare outputs")
	cmd.BoolVar(&baselineOnly, "baseline-only", false, "Run only the native baseline")
	cmd.StringVar(&assertExpr, "assert", "", "CEL `expression` the report must satisfy")
	cmd.IntVar(&runs, "runs", 1, "Number of independent runs")
	cmd.StringVar(&receiptOut, "receipt-out", "", "Write the receipt to `file`")
	cmd.BoolVar(&jsonOutput, "json", false, "Output reports as JSON")

	if err := cmd.Parse(args); err != nil {
		return zkerr.KindConfig.ExitCode()
	}
	if name == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --workload is required")
		return zkerr.KindConfig.ExitCode()
	}
	if runs < 1 {
		_, _ = fmt.Fprintln(stderr, "Error: --runs must be >= 1")
		return zkerr.KindConfig.ExitCode()
	}
	if receiptOut != "" && (runs > 1 || baselineOnly) {
		_, _ = fmt.Fprintln(stderr, "Error: --receipt-out needs a single zkVM run")
		return zkerr.KindConfig.ExitCode()
	}

	cfg, logger, err := loadConfig(configPath, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	input, err := in.Read(workload.Default(), name)
	if err != nil {
		return fail(stderr, err)
	}
	req := host.Request{
		Workload:     name,
		Input:        input,
		Baseline:     withBaseline,
		BaselineOnly: baselineOnly,
	}
	if !baselineOnly {
		if req.Source, err = src.Source(name); err != nil {
			return fail(stderr, err)
		}
	}
	if assertExpr != "" {
		if req.Assertion, err = host.NewAssertion(assertExpr); err != nil {
			return fail(stderr, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Close(closeCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	reports, err := runAll(ctx, p.orchestrator, req, runs, cfg.Pool.Workers)
	if err != nil {
		return fail(stderr, err)
	}

	if receiptOut != "" && reports[0].Receipt != nil {
		if err := receipt.WriteFile(receiptOut, reports[0].Receipt); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write receipt", err))
		}
	}

	if jsonOutput {
		var v any = reports
		if len(reports) == 1 {
			v = reports[0]
		}
		if err := writeJSON(stdout, v); err != nil {
			return fail(stderr, zkerr.New(zkerr.KindInternal, "write report", err))
		}
	} else {
		for _, rep := range reports {
			printReport(stdout, rep)
		}
		if receiptOut != "" && reports[0].Receipt != nil {
			_, _ = fmt.Fprintf(stdout, "Receipt written to %s\n", receiptOut)
		}
	}

	for _, rep := range reports {
		if code := rep.ExitCode(); code != zkerr.ExitOK {
			return code
		}
	}
	return zkerr.ExitOK
}

// runAll runs req n times, concurrently when n > 1.
func runAll(ctx context.Context, o *host.Orchestrator, req host.Request, n, workers int) ([]*host.Report, error) {
	if n == 1 {
		return []*host.Report{o.Run(ctx, req)}, nil
	}
	pool, err := host.NewPool(ctx, o, workers)
	if err != nil {
		return nil, err
	}
	jobs := make([]*host.Job, n)
	for i := range jobs {
		jobs[i] = pool.Submit(req)
	}
	if err := pool.Close(); err != nil {
		return nil, zkerr.New(zkerr.KindInternal, "run pool", err)
	}
	reports := make([]*host.Report, n)
	for i, j := range jobs {
		rep, err := j.Wait(context.Background())
		if err != nil {
			return nil, err
		}
		reports[i] = rep
	}
	return reports, nil
}

func printReport(w io.Writer, rep *host.Report) {
	_, _ = fmt.Fprintf(w, "Run %s (%s): %s\n", rep.RunID, rep.Workload, rep.Status)
	if !rep.ImageID.IsZero() {
		_, _ = fmt.Fprintf(w, "  image:    %s\n", rep.ImageID)
	}
	if rep.JournalDigest != "" {
		_, _ = fmt.Fprintf(w, "  journal:  %s\n", rep.JournalDigest)
	}
	if rep.Steps > 0 {
		_, _ = fmt.Fprintf(w, "  steps:    %d in %d segments, %d prove attempt(s)\n",
			rep.Steps, rep.Segments, rep.ProveAttempts)
	}
	if rep.Outcome != nil && !rep.Outcome.Accepted {
		_, _ = fmt.Fprintf(w, "  rejected: %s %s\n", rep.Outcome.Reason, rep.Outcome.Detail)
	}
	if b := rep.Baseline; b != nil && b.Ran {
		switch {
		case b.Error != "":
			_, _ = fmt.Fprintf(w, "  baseline: %s %s\n", b.ErrorKind, b.Error)
		case rep.Status == host.StatusCompleted:
			_, _ = fmt.Fprintf(w, "  baseline: %s\n", b.OutputDigest)
		case b.Match:
			_, _ = fmt.Fprintf(w, "  baseline: match\n")
		default:
			_, _ = fmt.Fprintf(w, "  baseline: MISMATCH %s\n", b.OutputDigest)
		}
	}
	if a := rep.Assertion; a != nil {
		if a.Error != "" {
			_, _ = fmt.Fprintf(w, "  assert:   error %s\n", a.Error)
		} else {
			_, _ = fmt.Fprintf(w, "  assert:   %t (%s)\n", a.Passed, a.Expr)
		}
	}
	if rep.RecordID != "" {
		_, _ = fmt.Fprintf(w, "  record:   %s\n", rep.RecordID)
	}
	t := rep.Timings
	_, _ = fmt.Fprintf(w, "  timings:  build %s, execute %s, prove %s, verify %s, baseline %s, total %s\n",
		t.Build, t.Execute, t.Prove, t.Verify, t.Baseline, t.Total)
	if rep.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "  error:    %s %s\n", rep.ErrorKind, rep.ErrorMessage)
		if rep.TimeLimited {
			_, _ = fmt.Fprintln(w, "            wall-clock limit, may pass on a faster machine")
		}
	}
}
