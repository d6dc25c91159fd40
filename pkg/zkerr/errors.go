// Package zkerr defines the error kinds shared by every stage of the pipeline.
//
// Components return *Error values carrying a Kind; only the host orchestrator
// decides whether a kind is retried, aborts the run or is merely reported.
package zkerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindBuild       Kind = "ZKB_BUILD"
	KindComputation Kind = "ZKB_COMPUTATION"
	KindGuestFault  Kind = "ZKB_GUEST_FAULT"
	KindProver      Kind = "ZKB_PROVER"
	KindCancelled   Kind = "ZKB_CANCELLED"
	KindConfig      Kind = "ZKB_CONFIG"
	KindInternal    Kind = "ZKB_INTERNAL"
)

// Exit codes used by the command-line binaries. ExitRejected is returned
// when a run completed but its receipt was not accepted.
const (
	ExitOK       = 0
	ExitRejected = 1
)

var exitCodes = map[Kind]int{
	KindConfig:      2,
	KindBuild:       3,
	KindComputation: 4,
	KindGuestFault:  5,
	KindProver:      6,
	KindCancelled:   7,
	KindInternal:    8,
}

// ExitCode maps a kind to its process exit code. Unknown kinds map to the
// internal error code.
func (k Kind) ExitCode() int {
	if c, ok := exitCodes[k]; ok {
		return c
	}
	return exitCodes[KindInternal]
}

// Retryable reports whether the orchestrator may retry an operation that
// failed with this kind.
func (k Kind) Retryable() bool {
	return k == KindProver
}

// Error is the typed error returned at component boundaries.
type Error struct {
	Kind Kind   `json:"kind"`
	Op   string `json:"op"`
	Err  error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain. Bare context
// cancellation errors are reported as KindCancelled. Any other error yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ze *Error
	if errors.As(err, &ze) {
		return ze.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Ensure returns err unchanged when it already carries a kind, and wraps it
// with the fallback kind otherwise.
func Ensure(err error, fallback Kind, op string) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != "" {
		return err
	}
	return New(fallback, op, err)
}
