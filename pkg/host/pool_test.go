package host

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Real-JW/zkbench/internal/wasmtest"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsIndependentRequests(t *testing.T) {
	h := newHarness(t, nil, nil)
	src := h.source(t, "echo", wasmtest.Echo())

	pool, err := NewPool(context.Background(), h.o, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Workers())

	jobs := make([]*Job, 8)
	for i := range jobs {
		jobs[i] = pool.Submit(Request{Source: src, Input: []byte(fmt.Sprintf("input-%d", i)), Baseline: true})
	}
	for i, j := range jobs {
		rep, err := j.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, rep.Status, rep.ErrorMessage)
		assert.Equal(t, []byte(fmt.Sprintf("input-%d", i)), rep.Outcome.Journal)
		assert.True(t, rep.Baseline.Match)
	}
	require.NoError(t, pool.Close())

	late := pool.Submit(Request{Source: src})
	rep, err := late.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rep.Status)
	assert.Equal(t, zkerr.KindCancelled, rep.ErrorKind)
}

// gaugeProver records the highest number of concurrent Prove calls.
type gaugeProver struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (g *gaugeProver) Scheme() string { return prover.SchemeDev }

func (g *gaugeProver) Prove(ctx context.Context, c receipt.Claim, tr *trace.Trace) (receipt.Seal, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return prover.DevProver{}.Prove(ctx, c, tr)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	g := &gaugeProver{}
	h := newHarness(t, g, nil)
	src := h.source(t, "echo", wasmtest.Echo())

	pool, err := NewPool(context.Background(), h.o, 2)
	require.NoError(t, err)

	jobs := make([]*Job, 6)
	for i := range jobs {
		jobs[i] = pool.Submit(Request{Source: src, Input: []byte(fmt.Sprintf("run-%d", i))})
	}
	require.NoError(t, pool.Close())

	for i, j := range jobs {
		rep, err := j.Wait(context.Background())
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, rep.Status, rep.ErrorMessage)
		assert.Equal(t, []byte(fmt.Sprintf("run-%d", i)), rep.Outcome.Journal)
	}
	assert.LessOrEqual(t, g.peak.Load(), int32(2))
	assert.Positive(t, g.peak.Load())
}

func TestPool_CancelledContext(t *testing.T) {
	h := newHarness(t, nil, nil)
	src := h.source(t, "echo", wasmtest.Echo())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool, err := NewPool(ctx, h.o, 1)
	require.NoError(t, err)

	rep, err := pool.Submit(Request{Source: src, Input: []byte("x")}).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, zkerr.KindCancelled, rep.ErrorKind)
	assert.Nil(t, rep.Receipt)
	require.NoError(t, pool.Close())
}

func TestJob_WaitGivesUp(t *testing.T) {
	j := &Job{done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := j.Wait(ctx)
	assert.Nil(t, rep)
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))

	j.finish(&Report{Status: StatusAccepted})
	<-j.Done()
	rep, err = j.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, rep.Status)
}

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(context.Background(), nil, 1)
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))

	h := newHarness(t, nil, nil)
	_, err = NewPool(context.Background(), h.o, 0)
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))
}
