// Package host drives one benchmark run through build, execution, proving
// and self-verification, and reports the outcome. It is the only place that
// decides whether an error is retried, ends the run or is merely reported.
package host

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/Real-JW/zkbench/pkg/baseline"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/observability"
	"github.com/Real-JW/zkbench/pkg/retry"
	"github.com/Real-JW/zkbench/pkg/store"
	"github.com/Real-JW/zkbench/pkg/verifier"
	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/Real-JW/zkbench/pkg/zkvm"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ImageSource returns the guest image for a source. *image.Cache
// satisfies it.
type ImageSource interface {
	GetOrBuild(ctx context.Context, src image.Source) (*image.GuestImage, error)
}

// VM executes guest images and seals completed executions.
type VM interface {
	Run(ctx context.Context, img *image.GuestImage, input []byte) (*zkvm.Execution, error)
	Prove(ctx context.Context, exec *zkvm.Execution) (*zkvm.Result, error)
}

// Request describes one run.
type Request struct {
	// Workload names the native computation used for the baseline. It
	// defaults to Source.Name.
	Workload string
	Source   image.Source
	Input    []byte
	// Baseline runs the native computation next to the zkVM and compares
	// its output with the accepted journal.
	Baseline bool
	// BaselineOnly skips the zkVM entirely.
	BaselineOnly bool
	Assertion    *Assertion
}

func (r Request) workloadName() string {
	if r.Workload != "" {
		return r.Workload
	}
	return r.Source.Name
}

// Orchestrator runs requests. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	images    ImageSource
	vm        VM
	verifier  *verifier.Verifier
	workloads *workload.Registry
	receipts  store.ReceiptStore
	telemetry *observability.Provider
	policy    retry.Policy
	retrier   *retry.Retrier
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithWorkloads sets the registry used for baselines.
func WithWorkloads(r *workload.Registry) Option {
	return func(o *Orchestrator) { o.workloads = r }
}

// WithReceiptStore persists every verified receipt.
func WithReceiptStore(s store.ReceiptStore) Option {
	return func(o *Orchestrator) { o.receipts = s }
}

// WithTelemetry sets the tracing and metrics provider.
func WithTelemetry(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// WithRetryPolicy sets the policy for prover retries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New creates an orchestrator.
func New(images ImageSource, vm VM, v *verifier.Verifier, opts ...Option) (*Orchestrator, error) {
	switch {
	case images == nil:
		return nil, zkerr.Errorf(zkerr.KindConfig, "new orchestrator", "image source is required")
	case vm == nil:
		return nil, zkerr.Errorf(zkerr.KindConfig, "new orchestrator", "vm is required")
	case v == nil:
		return nil, zkerr.Errorf(zkerr.KindConfig, "new orchestrator", "verifier is required")
	}
	o := &Orchestrator{
		images:    images,
		vm:        vm,
		verifier:  v,
		workloads: workload.Default(),
		telemetry: observability.Noop(),
		policy:    retry.DefaultPolicy(),
		logger:    slog.Default().With("component", "host"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "new orchestrator", err)
	}
	o.retrier = retry.New(o.policy, retry.WithLogger(o.logger))
	return o, nil
}

// run carries the state of one Run call.
type run struct {
	req    Request
	rep    *Report
	logger *slog.Logger
	attrs  []attribute.KeyValue
}

// Run executes req to completion and always returns a report. Failures are
// recorded in the report, never returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Report {
	start := o.now()
	rep := &Report{RunID: uuid.NewString(), Workload: req.workloadName()}
	rep.enter(StateIdle, start)
	r := &run{
		req:    req,
		rep:    rep,
		logger: o.logger.With("run_id", rep.RunID, "workload", rep.Workload),
		attrs: []attribute.KeyValue{
			observability.AttrRunID.String(rep.RunID),
			observability.AttrWorkload.String(rep.Workload),
		},
	}

	if err := o.checkRequest(req); err != nil {
		rep.fail(err)
	} else if req.BaselineOnly {
		o.runBaselineOnly(ctx, r)
	} else {
		o.runPipeline(ctx, r)
	}

	last := rep.State()
	rep.enter(StateReporting, o.now())
	o.assert(r)
	rep.Timings.Total = o.now().Sub(start)
	rep.enter(StateIdle, o.now())

	if rep.Status == StatusFailed {
		r.logger.WarnContext(ctx, "run failed",
			"state", string(last),
			"kind", string(rep.ErrorKind),
			"time_limited", rep.TimeLimited,
			"error", rep.ErrorMessage)
	} else {
		r.logger.InfoContext(ctx, "run finished",
			"status", string(rep.Status),
			"image_id", rep.ImageID.String(),
			"steps", rep.Steps,
			"prove_attempts", rep.ProveAttempts,
			"duration", rep.Timings.Total)
	}
	return rep
}

func (o *Orchestrator) checkRequest(req Request) error {
	if req.Baseline || req.BaselineOnly {
		if _, err := o.workloads.Get(req.workloadName()); err != nil {
			return zkerr.New(zkerr.KindConfig, "run", err)
		}
	}
	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, r *run) {
	rep := r.rep

	rep.enter(StateBuilding, o.now())
	img, err := o.build(ctx, r)
	if err != nil {
		rep.fail(err)
		return
	}
	rep.ImageID = img.ID()
	r.attrs = append(r.attrs, observability.AttrImageID.String(img.ID().String()))

	rep.enter(StateExecuting, o.now())
	var side <-chan *BaselineReport
	if r.req.Baseline {
		side = o.startBaseline(ctx, r)
	}
	res, err := o.execute(ctx, r, img)
	if err != nil {
		if side != nil {
			o.collectBaseline(side, rep, nil)
		}
		rep.fail(err)
		return
	}

	rep.enter(StateVerifying, o.now())
	outcome := o.verify(ctx, r, res, img.ID())
	rep.Outcome = &outcome
	rep.Receipt = res.Receipt
	rep.JournalDigest = digest(res.Receipt.Journal)

	rep.Status = StatusAccepted
	if !outcome.Accepted {
		rep.Status = StatusRejected
	}
	if side != nil {
		o.collectBaseline(side, rep, &outcome)
		if b := rep.Baseline; outcome.Accepted && b.ErrorKind == "" && !b.Match {
			r.logger.WarnContext(ctx, "baseline output differs from journal",
				"baseline_digest", b.OutputDigest, "journal_digest", rep.JournalDigest)
			rep.Status = StatusMismatch
		}
	}

	if err := o.persist(ctx, r, res, outcome); err != nil {
		rep.fail(err)
	}
}

func (o *Orchestrator) build(ctx context.Context, r *run) (*image.GuestImage, error) {
	ctx, done := o.telemetry.TrackOperation(ctx, "build", r.attrs...)
	start := o.now()
	img, err := o.images.GetOrBuild(ctx, r.req.Source)
	r.rep.Timings.Build = o.now().Sub(start)
	done(err)
	return img, err
}

// execute runs the guest once and retries only the sealing step.
func (o *Orchestrator) execute(ctx context.Context, r *run, img *image.GuestImage) (*zkvm.Result, error) {
	rep := r.rep

	ectx, done := o.telemetry.TrackOperation(ctx, "execute", r.attrs...)
	exec, err := o.vm.Run(ectx, img, r.req.Input)
	done(err)
	if err != nil {
		return nil, err
	}
	rep.Timings.Execute = exec.Elapsed
	rep.Steps = exec.Trace.Steps
	rep.Segments = len(exec.Trace.Segments)
	rep.TraceRoot = exec.Trace.Root.String()
	o.telemetry.RecordSteps(ctx, exec.Trace.Steps, r.attrs...)

	pctx, done := o.telemetry.TrackOperation(ctx, "prove", r.attrs...)
	start := o.now()
	var res *zkvm.Result
	attempts, err := o.retrier.Do(pctx, rep.RunID, func(ctx context.Context, attempt int) error {
		out, err := o.vm.Prove(ctx, exec)
		if err != nil {
			r.logger.WarnContext(ctx, "prove attempt failed", "attempt", attempt+1, "error", err)
			return err
		}
		res = out
		return nil
	})
	rep.Timings.Prove = o.now().Sub(start)
	rep.ProveAttempts = attempts
	o.telemetry.RecordProveAttempts(ctx, attempts, r.attrs...)
	done(err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) verify(ctx context.Context, r *run, res *zkvm.Result, id image.ID) verifier.Outcome {
	_, done := o.telemetry.TrackOperation(ctx, "verify", r.attrs...)
	start := o.now()
	outcome := o.verifier.Verify(res.Receipt, id)
	r.rep.Timings.Verify = o.now().Sub(start)
	done(nil)
	if !outcome.Accepted {
		r.logger.WarnContext(ctx, "receipt rejected", "reason", string(outcome.Reason), "detail", outcome.Detail)
	}
	return outcome
}

func (o *Orchestrator) persist(ctx context.Context, r *run, res *zkvm.Result, outcome verifier.Outcome) error {
	if o.receipts == nil {
		return nil
	}
	ctx, done := o.telemetry.TrackOperation(ctx, "persist", r.attrs...)
	status := store.StatusAccepted
	if !outcome.Accepted {
		status = store.StatusRejected
	}
	rec := store.NewRecord(r.rep.RunID, r.rep.Workload, res.Receipt, res.Steps, status, string(outcome.Reason))
	err := o.receipts.Put(ctx, rec)
	if err != nil {
		err = zkerr.Ensure(err, zkerr.KindInternal, "persist receipt")
	} else {
		r.rep.RecordID = rec.ID
	}
	done(err)
	return err
}

func (o *Orchestrator) startBaseline(ctx context.Context, r *run) <-chan *BaselineReport {
	ch := make(chan *BaselineReport, 1)
	go func() {
		b, _ := o.baseline(ctx, r)
		ch <- b
	}()
	return ch
}

func (o *Orchestrator) baseline(ctx context.Context, r *run) (*BaselineReport, error) {
	b := &BaselineReport{Ran: true}
	w, err := o.workloads.Get(r.req.workloadName())
	if err != nil {
		err = zkerr.New(zkerr.KindConfig, "baseline", err)
		b.ErrorKind, b.Error = zkerr.KindOf(err), err.Error()
		return b, err
	}

	ctx, done := o.telemetry.TrackOperation(ctx, "baseline", r.attrs...)
	res, err := baseline.New(w, baseline.WithLogger(o.logger)).Run(ctx, r.req.Input)
	done(err)
	if err != nil {
		b.ErrorKind, b.Error = zkerr.KindOf(err), err.Error()
		return b, err
	}
	b.Output = res.Output
	b.OutputDigest = digest(res.Output)
	b.Elapsed = res.Elapsed
	return b, nil
}

// collectBaseline waits for the side run. The baseline returns promptly
// once ctx is done, so the wait is bounded by the caller's context.
func (o *Orchestrator) collectBaseline(side <-chan *BaselineReport, rep *Report, outcome *verifier.Outcome) {
	b := <-side
	if outcome != nil && outcome.Accepted && b.ErrorKind == "" {
		b.Match = bytes.Equal(b.Output, outcome.Journal)
	}
	rep.Baseline = b
	rep.Timings.Baseline = b.Elapsed
}

func (o *Orchestrator) runBaselineOnly(ctx context.Context, r *run) {
	r.rep.enter(StateExecuting, o.now())
	b, err := o.baseline(ctx, r)
	r.rep.Baseline = b
	r.rep.Timings.Baseline = b.Elapsed
	if err != nil {
		r.rep.fail(err)
		return
	}
	r.rep.JournalDigest = b.OutputDigest
	r.rep.Status = StatusCompleted
}

// assert applies the request's assertion to a run that did not fail. A
// false or failing assertion only downgrades successful runs.
func (o *Orchestrator) assert(r *run) {
	a := r.req.Assertion
	rep := r.rep
	if a == nil || rep.Status == StatusFailed {
		return
	}
	ar := &AssertionReport{Expr: a.String()}
	ok, err := a.Eval(rep)
	if err != nil {
		ar.Error = err.Error()
	}
	ar.Passed = err == nil && ok
	rep.Assertion = ar
	if !ar.Passed && rep.Succeeded() {
		rep.Status = StatusAssertionFailed
	}
}
