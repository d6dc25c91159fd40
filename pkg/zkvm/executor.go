// Package zkvm executes guest images deterministically under resource
// limits, records every step into a trace and asks a prover to seal the
// result into a receipt.
//
// Guests are WebAssembly modules run by wazero's interpreter with no
// filesystem, network or environment, fake clocks and deterministic
// randomness. They receive input through the zkvm host module (and on
// stdin) and publish results only through zkvm.commit.
package zkvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// StderrMaxBytes bounds the guest stderr kept for fault diagnostics.
const StderrMaxBytes = 16 * 1024

// Executor runs guest images. It is safe for concurrent use; each call gets
// its own module instance and session.
type Executor struct {
	runtime wazero.Runtime
	prover  prover.Prover
	limits  Limits
	logger  *slog.Logger

	mu       sync.Mutex
	compiled map[image.ID]wazero.CompiledModule
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor sealing with p.
func New(ctx context.Context, p prover.Prover, limits Limits, opts ...Option) (*Executor, error) {
	if p == nil {
		return nil, zkerr.Errorf(zkerr.KindConfig, "new executor", "prover is required")
	}
	if err := limits.Validate(); err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "new executor", err)
	}
	if limits.SegmentSize == 0 {
		limits.SegmentSize = trace.DefaultSegmentSize
	}

	cfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	if pages := limits.memoryPages(); pages > 0 {
		cfg = cfg.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, zkerr.New(zkerr.KindInternal, "new executor", fmt.Errorf("failed to instantiate WASI: %w", err))
	}
	if err := instantiateHost(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, zkerr.New(zkerr.KindInternal, "new executor", err)
	}

	e := &Executor{
		runtime:  r,
		prover:   p,
		limits:   limits,
		logger:   slog.Default().With("component", "zkvm"),
		compiled: make(map[image.ID]wazero.CompiledModule),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Limits returns the effective limits.
func (e *Executor) Limits() Limits { return e.limits }

// Scheme returns the seal scheme of the configured prover.
func (e *Executor) Scheme() string { return e.prover.Scheme() }

// Execution is a completed, unsealed run.
type Execution struct {
	ImageID image.ID
	Journal []byte
	Trace   *trace.Trace
	Elapsed time.Duration
}

// Result is a sealed run plus the figures a report needs.
type Result struct {
	Receipt       *receipt.Receipt
	Steps         uint64
	TraceRoot     trace.Digest
	Segments      int
	ExecDuration  time.Duration
	ProveDuration time.Duration
}

// Execute runs img on input and returns its receipt. No receipt is returned
// unless the guest ran to completion and the prover sealed the claim.
func (e *Executor) Execute(ctx context.Context, img *image.GuestImage, input []byte) (*receipt.Receipt, error) {
	res, err := e.ExecuteAndProve(ctx, img, input)
	if err != nil {
		return nil, err
	}
	return res.Receipt, nil
}

// ExecuteAndProve is Execute with timing and trace figures.
func (e *Executor) ExecuteAndProve(ctx context.Context, img *image.GuestImage, input []byte) (*Result, error) {
	exec, err := e.Run(ctx, img, input)
	if err != nil {
		return nil, err
	}
	return e.Prove(ctx, exec)
}

// Prove seals a completed execution. It may be called again for the same
// execution after a KindProver failure without re-running the guest.
func (e *Executor) Prove(ctx context.Context, exec *Execution) (*Result, error) {
	if exec == nil || exec.Trace == nil {
		return nil, zkerr.Errorf(zkerr.KindInternal, "prove", "no execution to seal")
	}
	if err := ctx.Err(); err != nil {
		return nil, zkerr.New(zkerr.KindCancelled, "prove", err)
	}

	start := time.Now()
	claim := receipt.NewClaim(exec.ImageID, exec.Journal, exec.Trace.Root, exec.Trace.Steps)
	seal, err := e.prover.Prove(ctx, claim, exec.Trace)
	if err != nil {
		if ctx.Err() != nil {
			return nil, zkerr.New(zkerr.KindCancelled, "prove", ctx.Err())
		}
		return nil, zkerr.Ensure(err, zkerr.KindProver, "prove")
	}
	proveDur := time.Since(start)

	e.logger.DebugContext(ctx, "execution sealed",
		"image_id", exec.ImageID.String(),
		"scheme", seal.Scheme,
		"seal_bytes", len(seal.Bytes),
		"duration", proveDur)

	return &Result{
		Receipt:       receipt.New(exec.ImageID, exec.Journal, seal),
		Steps:         exec.Trace.Steps,
		TraceRoot:     exec.Trace.Root,
		Segments:      len(exec.Trace.Segments),
		ExecDuration:  exec.Elapsed,
		ProveDuration: proveDur,
	}, nil
}

// Run executes img without sealing.
func (e *Executor) Run(ctx context.Context, img *image.GuestImage, input []byte) (*Execution, error) {
	if img == nil {
		return nil, zkerr.Errorf(zkerr.KindGuestFault, "execute", "nil image")
	}
	if err := ctx.Err(); err != nil {
		return nil, zkerr.New(zkerr.KindCancelled, "execute", err)
	}
	compiled, err := e.compile(ctx, img)
	if err != nil {
		return nil, err
	}

	rec, err := trace.NewRecorder(e.limits.SegmentSize)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "execute", err)
	}
	s := &session{
		parent:     ctx,
		input:      input,
		journal:    []byte{},
		maxJournal: e.limits.MaxJournalBytes,
		maxSteps:   e.limits.MaxSteps,
		rec:        rec,
	}

	execCtx := ctx
	if e.limits.TimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.limits.TimeLimit)
		defer cancel()
	}
	execCtx = withSession(execCtx, s)

	stderr := &limitedBuffer{max: StderrMaxBytes}
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs("guest").
		WithStdin(bytes.NewReader(input)).
		WithStderr(stderr).
		WithStartFunctions("_start")
	// Deny-by-default: no WithFSConfig, WithEnv, WithSysWalltime,
	// WithSysNanotime or WithRandSource.

	start := time.Now()
	mod, runErr := e.runtime.InstantiateModule(execCtx, compiled, modCfg)
	elapsed := time.Since(start)
	if mod != nil {
		_ = mod.Close(context.WithoutCancel(ctx))
	}

	if err := classify(ctx, execCtx, s, runErr); err != nil {
		e.logger.InfoContext(ctx, "guest execution failed",
			"image_id", img.ID().String(),
			"kind", string(zkerr.KindOf(err)),
			"steps", s.rec.Steps(),
			"error", err,
			"stderr", stderr.String())
		return nil, err
	}

	s.rec.Record(trace.EventExit, 0, 0)
	tr := s.rec.Finish()
	e.logger.DebugContext(ctx, "guest execution completed",
		"image_id", img.ID().String(),
		"steps", tr.Steps,
		"journal_bytes", len(s.journal),
		"duration", elapsed)
	return &Execution{ImageID: img.ID(), Journal: s.journal, Trace: tr, Elapsed: elapsed}, nil
}

func (e *Executor) compile(ctx context.Context, img *image.GuestImage) (wazero.CompiledModule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.compiled[img.ID()]; ok {
		return c, nil
	}
	cctx := experimental.WithFunctionListenerFactory(ctx, stepListener{})
	c, err := e.runtime.CompileModule(cctx, img.Bytes())
	if err != nil {
		if ctx.Err() != nil {
			return nil, zkerr.New(zkerr.KindCancelled, "load image", ctx.Err())
		}
		return nil, zkerr.New(zkerr.KindGuestFault, "load image", err)
	}
	e.compiled[img.ID()] = c
	return c, nil
}

// classify maps the outcome of a guest run to an error kind. Caller
// cancellation wins over everything else.
func classify(ctx, execCtx context.Context, s *session, runErr error) error {
	if ctx.Err() != nil {
		return zkerr.New(zkerr.KindCancelled, "execute", ctx.Err())
	}
	if s.fault != nil {
		return zkerr.New(zkerr.KindGuestFault, "execute", s.fault)
	}
	if runErr == nil {
		return nil
	}
	var exitErr *sys.ExitError
	if errors.As(runErr, &exitErr) {
		switch exitErr.ExitCode() {
		case 0:
			return nil
		case sys.ExitCodeDeadlineExceeded:
			return zkerr.New(zkerr.KindGuestFault, "execute", ErrTimeLimit)
		case sys.ExitCodeContextCanceled:
			return zkerr.New(zkerr.KindCancelled, "execute", context.Canceled)
		}
		return zkerr.New(zkerr.KindGuestFault, "execute", fmt.Errorf("guest exited with code %d", exitErr.ExitCode()))
	}
	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		return zkerr.New(zkerr.KindGuestFault, "execute", ErrTimeLimit)
	}
	return zkerr.New(zkerr.KindGuestFault, "execute", fmt.Errorf("guest trapped: %w", runErr))
}

// Close releases the runtime and every compiled image.
func (e *Executor) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = map[image.ID]wazero.CompiledModule{}
	return e.runtime.Close(ctx)
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
