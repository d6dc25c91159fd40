package zkvm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Real-JW/zkbench/internal/wasmtest"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MemoryLimitBytes: 16 << 20,
		MaxSteps:         1 << 20,
		TimeLimit:        5 * time.Second,
		MaxJournalBytes:  1 << 20,
		SegmentSize:      64,
	}
}

func newExecutor(t *testing.T, p prover.Prover, limits Limits) *Executor {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, p, limits)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func mustImage(t *testing.T, name string, bin []byte) *image.GuestImage {
	t.Helper()
	img, err := image.FromBytes(context.Background(), name, bin)
	require.NoError(t, err)
	return img
}

func TestExecute_Echo(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	img := mustImage(t, "echo", wasmtest.Echo())

	r, err := e.Execute(context.Background(), img, []byte("hello zkvm"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello zkvm"), r.Journal)
	assert.Equal(t, img.ID(), r.ImageID)
	assert.Equal(t, receipt.Version, r.Version)
	assert.NoError(t, prover.DevChecker{}.Check(r.Seal, r.Journal, img.ID()))
}

func TestExecute_EmptyInputAndNoCommit(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())

	r, err := e.Execute(context.Background(), mustImage(t, "echo", wasmtest.Echo()), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Journal)

	r, err = e.Execute(context.Background(), mustImage(t, "none", wasmtest.NoCommit()), []byte("ignored"))
	require.NoError(t, err)
	assert.Empty(t, r.Journal, "only committed bytes reach the journal")
}

func TestExecute_JournalOrdered(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	r, err := e.Execute(context.Background(), mustImage(t, "twice", wasmtest.EchoTwice()), []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, []byte("abab"), r.Journal)
}

func TestRun_Deterministic(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	img := mustImage(t, "counted", wasmtest.Counted())
	input := bytes.Repeat([]byte{7}, 300)

	a, err := e.Run(context.Background(), img, input)
	require.NoError(t, err)
	b, err := e.Run(context.Background(), img, input)
	require.NoError(t, err)

	assert.Equal(t, a.Journal, b.Journal)
	assert.Equal(t, a.Trace.Root, b.Trace.Root)
	assert.Equal(t, a.Trace.Steps, b.Trace.Steps)
	assert.Greater(t, len(a.Trace.Segments), 1)
}

func TestRun_StepsGrowWithWork(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	img := mustImage(t, "counted", wasmtest.Counted())

	small, err := e.Run(context.Background(), img, []byte{1})
	require.NoError(t, err)
	large, err := e.Run(context.Background(), img, bytes.Repeat([]byte{1}, 100))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, large.Trace.Steps, small.Trace.Steps+99)
	assert.NotEqual(t, small.Trace.Root, large.Trace.Root)
}

func TestExecute_GuestFaults(t *testing.T) {
	tests := []struct {
		name   string
		bin    []byte
		input  []byte
		limits func(*Limits)
		want   error
	}{
		{name: "trap", bin: wasmtest.Trap()},
		{name: "nonzero exit", bin: wasmtest.Exit(3)},
		{name: "step ceiling", bin: wasmtest.CallLoop(), limits: func(l *Limits) { l.MaxSteps = 1000 }, want: ErrStepLimit},
		{name: "time limit", bin: wasmtest.Spin(), limits: func(l *Limits) { l.TimeLimit = 50 * time.Millisecond }, want: ErrTimeLimit},
		{name: "journal overflow", bin: wasmtest.Echo(), input: []byte("0123456789"), limits: func(l *Limits) { l.MaxJournalBytes = 4 }, want: ErrJournalLimit},
		{name: "commit out of bounds", bin: wasmtest.CommitOutOfBounds(), want: ErrMemoryAccess},
		{name: "input larger than memory", bin: wasmtest.Echo(), input: make([]byte, 70000), want: ErrMemoryAccess},
		{name: "memory ceiling", bin: wasmtest.LargeMemory(32), limits: func(l *Limits) { l.MemoryLimitBytes = 64 * 1024 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := testLimits()
			if tt.limits != nil {
				tt.limits(&limits)
			}
			e := newExecutor(t, prover.DevProver{}, limits)
			r, err := e.Execute(context.Background(), mustImage(t, tt.name, tt.bin), tt.input)
			assert.Nil(t, r)
			assert.Equal(t, zkerr.KindGuestFault, zkerr.KindOf(err), "%v", err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestExecute_ExitZeroCompletes(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	r, err := e.Execute(context.Background(), mustImage(t, "exit0", wasmtest.Exit(0)), nil)
	require.NoError(t, err)
	assert.Empty(t, r.Journal)
}

func TestExecute_CancelledAtStepBoundary(t *testing.T) {
	limits := testLimits()
	limits.MaxSteps = 0
	limits.TimeLimit = 0
	e := newExecutor(t, prover.DevProver{}, limits)
	img := mustImage(t, "loop", wasmtest.CallLoop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	r, err := e.Execute(ctx, img, nil)
	assert.Nil(t, r)
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))
}

func TestExecute_CancelledSpinWithoutCalls(t *testing.T) {
	limits := testLimits()
	limits.TimeLimit = 0
	e := newExecutor(t, prover.DevProver{}, limits)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	r, err := e.Execute(ctx, mustImage(t, "spin", wasmtest.Spin()), nil)
	assert.Nil(t, r)
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))
}

func TestExecute_AlreadyCancelled(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Execute(ctx, mustImage(t, "echo", wasmtest.Echo()), []byte("x"))
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))
}

type failingProver struct {
	err   error
	calls int
}

func (f *failingProver) Scheme() string { return "failing/v1" }

func (f *failingProver) Prove(context.Context, receipt.Claim, *trace.Trace) (receipt.Seal, error) {
	f.calls++
	return receipt.Seal{}, f.err
}

func TestExecute_ProverFailure(t *testing.T) {
	p := &failingProver{err: errors.New("prover out of memory")}
	e := newExecutor(t, p, testLimits())

	r, err := e.Execute(context.Background(), mustImage(t, "echo", wasmtest.Echo()), []byte("x"))
	assert.Nil(t, r)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))
	assert.Equal(t, 1, p.calls)
}

func TestProve_RetriesSameExecution(t *testing.T) {
	p := &failingProver{err: errors.New("transient")}
	e := newExecutor(t, p, testLimits())
	exec, err := e.Run(context.Background(), mustImage(t, "echo", wasmtest.Echo()), []byte("again"))
	require.NoError(t, err)

	_, err = e.Prove(context.Background(), exec)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))

	p.err = nil
	res, err := e.Prove(context.Background(), exec)
	require.NoError(t, err)
	assert.Equal(t, []byte("again"), res.Receipt.Journal)
	assert.Equal(t, 2, p.calls)

	_, err = e.Prove(context.Background(), nil)
	assert.Equal(t, zkerr.KindInternal, zkerr.KindOf(err))
}

func TestExecute_ProverNotCalledOnFault(t *testing.T) {
	p := &failingProver{err: errors.New("unused")}
	e := newExecutor(t, p, testLimits())
	_, err := e.Execute(context.Background(), mustImage(t, "trap", wasmtest.Trap()), nil)
	assert.Equal(t, zkerr.KindGuestFault, zkerr.KindOf(err))
	assert.Equal(t, 0, p.calls)
}

func TestExecute_Concurrent(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	img := mustImage(t, "counted", wasmtest.Counted())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := []byte(fmt.Sprintf("input-%d", i))
			r, err := e.Execute(context.Background(), img, input)
			if assert.NoError(t, err) {
				assert.Equal(t, input, r.Journal)
			}
		}(i)
	}
	wg.Wait()
}

func TestExecuteAndProve_Figures(t *testing.T) {
	e := newExecutor(t, prover.DevProver{}, testLimits())
	res, err := e.ExecuteAndProve(context.Background(), mustImage(t, "counted", wasmtest.Counted()), bytes.Repeat([]byte{1}, 200))
	require.NoError(t, err)
	assert.Greater(t, res.Steps, uint64(200))
	assert.Equal(t, int((res.Steps+63)/64), res.Segments)
	assert.NotEqual(t, trace.Digest{}, res.TraceRoot)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), nil, testLimits())
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))

	_, err = New(context.Background(), prover.DevProver{}, Limits{TimeLimit: -1})
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))
}

func TestLimits_MemoryPages(t *testing.T) {
	assert.Equal(t, uint32(0), Limits{}.memoryPages())
	assert.Equal(t, uint32(1), Limits{MemoryLimitBytes: 10}.memoryPages())
	assert.Equal(t, uint32(256), Limits{MemoryLimitBytes: 16 << 20}.memoryPages())
	assert.Equal(t, uint32(65536), Limits{MemoryLimitBytes: 1 << 40}.memoryPages())
}
