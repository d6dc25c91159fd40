// Package baseline runs workloads natively. It is the timing reference and
// the output oracle for zkVM executions: it proves nothing and has no side
// effects.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

// ExecutionResult is the output of one native run.
type ExecutionResult struct {
	Workload string        `json:"workload"`
	Output   []byte        `json:"output"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Executor runs one workload.
type Executor struct {
	w      workload.Workload
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an executor for w.
func New(w workload.Workload, opts ...Option) *Executor {
	e := &Executor{
		w:      w,
		logger: slog.Default().With("component", "baseline"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Workload returns the name of the workload this executor runs.
func (e *Executor) Workload() string { return e.w.Name() }

type outcome struct {
	out []byte
	err error
}

// Run executes the workload on input. A workload that rejects its input
// yields KindComputation. Cancellation returns KindCancelled immediately;
// the computation itself cannot be interrupted and finishes in the
// background.
func (e *Executor) Run(ctx context.Context, input []byte) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, zkerr.New(zkerr.KindCancelled, "baseline", err)
	}

	start := e.now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("workload panicked: %v", r)}
			}
		}()
		out, err := e.w.Run(input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, zkerr.New(zkerr.KindCancelled, "baseline", ctx.Err())
	case res := <-done:
		elapsed := e.now().Sub(start)
		if res.err != nil {
			e.logger.WarnContext(ctx, "baseline computation failed", "workload", e.w.Name(), "error", res.err)
			return nil, zkerr.New(zkerr.KindComputation, "baseline "+e.w.Name(), res.err)
		}
		e.logger.DebugContext(ctx, "baseline complete", "workload", e.w.Name(), "elapsed", elapsed, "output_bytes", len(res.out))
		return &ExecutionResult{Workload: e.w.Name(), Output: res.out, Elapsed: elapsed}, nil
	}
}
