// Package verifier checks receipts against an expected image ID.
//
// Verification is offline and side-effect free: it never re-executes the
// guest, and its cost depends on the seal and journal sizes only. The
// verifier trusts the checkers registered with it and nothing carried in
// the receipt itself.
package verifier

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
)

// Reason is a stable rejection code.
type Reason string

const (
	ReasonMalformed           Reason = "MALFORMED_RECEIPT"
	ReasonUnsupportedVersion  Reason = "UNSUPPORTED_VERSION"
	ReasonImageMismatch       Reason = "IMAGE_MISMATCH"
	ReasonUnknownScheme       Reason = "UNKNOWN_SEAL_SCHEME"
	ReasonVerificationFailure Reason = "VERIFICATION_FAILURE"
)

// DefaultVersionConstraint admits every 1.x receipt format.
const DefaultVersionConstraint = "^1.0.0"

// Outcome is the result of one verification. Exactly one of Accepted or a
// non-empty Reason holds.
type Outcome struct {
	Accepted bool   `json:"accepted"`
	Journal  []byte `json:"-"`
	Reason   Reason `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Err returns nil for an accepted outcome and a *Rejection otherwise.
func (o Outcome) Err() error {
	if o.Accepted {
		return nil
	}
	return &Rejection{Reason: o.Reason, Detail: o.Detail}
}

// Rejection is the error form of a rejected outcome.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "receipt rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("receipt rejected: %s: %s", r.Reason, r.Detail)
}

// IsRejection reports whether err carries the given rejection reason.
func IsRejection(err error, reason Reason) bool {
	var rej *Rejection
	return errors.As(err, &rej) && rej.Reason == reason
}

func reject(reason Reason, format string, args ...any) Outcome {
	return Outcome{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verifier holds the trusted checkers, one per seal scheme.
type Verifier struct {
	checkers   map[string]prover.Checker
	constraint *semver.Constraints
	allowDev   bool
}

// Option configures a Verifier.
type Option func(*config)

type config struct {
	checkers   []prover.Checker
	constraint string
	allowDev   bool
}

// WithChecker trusts c for seals of c.Scheme().
func WithChecker(c prover.Checker) Option {
	return func(cfg *config) { cfg.checkers = append(cfg.checkers, c) }
}

// WithDevSeals accepts dev seals. They prove nothing about execution.
func WithDevSeals() Option {
	return func(cfg *config) { cfg.allowDev = true }
}

// WithVersionConstraint replaces DefaultVersionConstraint.
func WithVersionConstraint(c string) Option {
	return func(cfg *config) { cfg.constraint = c }
}

// New builds a Verifier.
func New(opts ...Option) (*Verifier, error) {
	cfg := config{constraint: DefaultVersionConstraint}
	for _, opt := range opts {
		opt(&cfg)
	}

	constraint, err := semver.NewConstraint(cfg.constraint)
	if err != nil {
		return nil, fmt.Errorf("verifier: version constraint %q: %w", cfg.constraint, err)
	}

	v := &Verifier{
		checkers:   make(map[string]prover.Checker),
		constraint: constraint,
		allowDev:   cfg.allowDev,
	}
	for _, c := range cfg.checkers {
		if c == nil {
			return nil, errors.New("verifier: nil checker")
		}
		if _, dup := v.checkers[c.Scheme()]; dup {
			return nil, fmt.Errorf("verifier: duplicate checker for scheme %q", c.Scheme())
		}
		v.checkers[c.Scheme()] = c
	}
	if cfg.allowDev {
		if _, ok := v.checkers[prover.SchemeDev]; !ok {
			v.checkers[prover.SchemeDev] = prover.DevChecker{}
		}
	}
	return v, nil
}

// Schemes lists the seal schemes this verifier accepts.
func (v *Verifier) Schemes() []string {
	out := make([]string, 0, len(v.checkers))
	for s := range v.checkers {
		if s == prover.SchemeDev && !v.allowDev {
			continue
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Verify checks r against expected. The image comparison happens right
// after the structural check, so a receipt for another image is rejected as
// a mismatch whatever its version or seal.
func (v *Verifier) Verify(r *receipt.Receipt, expected image.ID) Outcome {
	if err := r.Validate(); err != nil {
		return reject(ReasonMalformed, "%v", err)
	}

	if expected.IsZero() {
		return reject(ReasonImageMismatch, "no expected image id")
	}
	if r.ImageID != expected {
		return reject(ReasonImageMismatch, "receipt image %s, expected %s", r.ImageID, expected)
	}

	ver, err := semver.NewVersion(r.Version)
	if err != nil {
		return reject(ReasonUnsupportedVersion, "version %q: %v", r.Version, err)
	}
	if !v.constraint.Check(ver) {
		return reject(ReasonUnsupportedVersion, "version %s not in %s", ver, v.constraint)
	}

	if r.Seal.Scheme == prover.SchemeDev && !v.allowDev {
		return reject(ReasonUnknownScheme, "dev seals are not accepted")
	}
	checker, ok := v.checkers[r.Seal.Scheme]
	if !ok {
		return reject(ReasonUnknownScheme, "no checker for scheme %q", r.Seal.Scheme)
	}
	if err := checker.Check(r.Seal, r.Journal, expected); err != nil {
		return reject(ReasonVerificationFailure, "%v", err)
	}

	return Outcome{Accepted: true, Journal: append([]byte{}, r.Journal...)}
}

// VerifyFile decodes a receipt file and verifies it. A file that cannot be
// decoded yields a malformed outcome; only I/O errors are returned.
func (v *Verifier) VerifyFile(path string, expected image.ID) (Outcome, error) {
	r, err := receipt.ReadFile(path)
	if err != nil {
		if errors.Is(err, receipt.ErrMalformed) {
			return reject(ReasonMalformed, "%v", err), nil
		}
		return Outcome{}, err
	}
	return v.Verify(r, expected), nil
}
