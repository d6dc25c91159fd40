package zkvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/tetratelabs/wazero/sys"
)

// Exit codes the executor uses when it aborts a guest itself. They only
// appear in wazero's error; the session keeps the actual cause.
const (
	exitStepLimit      uint32 = 0xfff0
	exitJournalLimit   uint32 = 0xfff1
	exitMemoryAccess   uint32 = 0xfff2
	exitCancelled      uint32 = 0xfff3
	exitMissingSession uint32 = 0xfff4
)

var (
	ErrStepLimit     = errors.New("step limit exceeded")
	ErrJournalLimit  = errors.New("journal size limit exceeded")
	ErrMemoryAccess  = errors.New("guest memory access out of bounds")
	ErrTimeLimit     = errors.New("time limit exceeded")
	errCancelledStep = errors.New("cancelled at step boundary")
)

// session is the per-execution state reached from host functions and the
// step listener through the call context.
type session struct {
	parent     context.Context
	input      []byte
	journal    []byte
	maxJournal int
	maxSteps   uint64
	rec        *trace.Recorder
	fault      error
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

func mustSession(ctx context.Context) *session {
	s := sessionFrom(ctx)
	if s == nil {
		panic(sys.NewExitError(exitMissingSession))
	}
	return s
}

// abort records the first fault and unwinds the guest. wazero recovers the
// panic and returns it from the start function.
func (s *session) abort(err error, code uint32) {
	if s.fault == nil {
		s.fault = err
	}
	panic(sys.NewExitError(code))
}

// step runs at every step boundary.
func (s *session) step() {
	if err := s.parent.Err(); err != nil {
		s.abort(errCancelledStep, exitCancelled)
	}
	if s.maxSteps > 0 && s.rec.Steps() > s.maxSteps {
		s.abort(fmt.Errorf("%w: %d", ErrStepLimit, s.maxSteps), exitStepLimit)
	}
}
