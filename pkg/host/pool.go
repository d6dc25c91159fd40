package host

import (
	"context"
	"sync"
	"time"

	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool runs independent requests concurrently on a bounded number of
// workers. Submit never blocks. Queued requests contend for a free worker,
// so their start order is not their submission order; reports are matched
// to requests through their Job.
type Pool struct {
	o       *Orchestrator
	ctx     context.Context
	sem     *semaphore.Weighted
	workers int

	mu     sync.Mutex
	closed bool
	g      errgroup.Group
}

// NewPool creates a pool running at most workers requests at once. Every
// run uses ctx; cancelling it aborts queued and running requests.
func NewPool(ctx context.Context, o *Orchestrator, workers int) (*Pool, error) {
	if o == nil {
		return nil, zkerr.Errorf(zkerr.KindConfig, "new pool", "orchestrator is required")
	}
	if workers < 1 {
		return nil, zkerr.Errorf(zkerr.KindConfig, "new pool", "workers must be >= 1, got %d", workers)
	}
	return &Pool{o: o, ctx: ctx, sem: semaphore.NewWeighted(int64(workers)), workers: workers}, nil
}

// Workers returns the concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Job is a submitted request.
type Job struct {
	Request Request
	done    chan struct{}
	report  *Report
}

// Done is closed once the report is available.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job's report is ready or ctx is done. Giving up
// on the wait does not cancel the job.
func (j *Job) Wait(ctx context.Context) (*Report, error) {
	select {
	case <-j.done:
		return j.report, nil
	case <-ctx.Done():
		return nil, zkerr.New(zkerr.KindCancelled, "wait", ctx.Err())
	}
}

func (j *Job) finish(r *Report) {
	j.report = r
	close(j.done)
}

// Submit queues req. After Close the job completes at once with a
// cancelled report.
func (p *Pool) Submit(req Request) *Job {
	j := &Job{Request: req, done: make(chan struct{})}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		j.finish(closedReport(req))
		return j
	}
	p.g.Go(func() error {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			// The run observes the cancelled context and reports it.
			j.finish(p.o.Run(p.ctx, req))
			return nil
		}
		defer p.sem.Release(1)
		j.finish(p.o.Run(p.ctx, req))
		return nil
	})
	return j
}

// Close stops accepting requests and waits for every submitted one.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.g.Wait()
}

func closedReport(req Request) *Report {
	now := time.Now()
	rep := &Report{RunID: uuid.NewString(), Workload: req.workloadName()}
	rep.enter(StateIdle, now)
	rep.fail(zkerr.Errorf(zkerr.KindCancelled, "submit", "pool closed"))
	rep.enter(StateReporting, now)
	rep.enter(StateIdle, now)
	return rep
}
