package host

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/verifier"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/Real-JW/zkbench/pkg/zkvm"
)

// State is a stage of one run.
type State string

const (
	StateIdle      State = "idle"
	StateBuilding  State = "building"
	StateExecuting State = "executing"
	StateVerifying State = "verifying"
	StateReporting State = "reporting"
)

// Status summarises how a run ended.
type Status string

const (
	// StatusAccepted: the receipt verified and every check passed.
	StatusAccepted Status = "accepted"
	// StatusRejected: the run completed but its receipt was rejected.
	StatusRejected Status = "rejected"
	// StatusMismatch: the receipt verified but differs from the baseline.
	StatusMismatch Status = "baseline_mismatch"
	// StatusAssertionFailed: the report assertion evaluated to false.
	StatusAssertionFailed Status = "assertion_failed"
	// StatusCompleted: a baseline-only run finished.
	StatusCompleted Status = "completed"
	// StatusFailed: a fatal error ended the run.
	StatusFailed Status = "failed"
)

// Transition records when the run entered a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Timings are the wall-clock durations of each stage.
type Timings struct {
	Build    time.Duration
	Execute  time.Duration
	Prove    time.Duration
	Verify   time.Duration
	Baseline time.Duration
	Total    time.Duration
}

// Seconds returns the timings keyed by stage name.
func (t Timings) Seconds() map[string]float64 {
	return map[string]float64{
		"build":    t.Build.Seconds(),
		"execute":  t.Execute.Seconds(),
		"prove":    t.Prove.Seconds(),
		"verify":   t.Verify.Seconds(),
		"baseline": t.Baseline.Seconds(),
		"total":    t.Total.Seconds(),
	}
}

func (t Timings) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Seconds())
}

// BaselineReport compares the native run with the zkVM journal.
type BaselineReport struct {
	Ran          bool          `json:"ran"`
	Match        bool          `json:"match"`
	OutputDigest string        `json:"output_digest,omitempty"`
	Output       []byte        `json:"-"`
	Elapsed      time.Duration `json:"elapsed_ns"`
	ErrorKind    zkerr.Kind    `json:"error_kind,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// AssertionReport is the result of the report assertion.
type AssertionReport struct {
	Expr   string `json:"expr"`
	Passed bool   `json:"passed"`
	Error  string `json:"error,omitempty"`
}

// Report is everything known about one run. Run always returns one, also
// when the run failed.
type Report struct {
	RunID         string            `json:"run_id"`
	Workload      string            `json:"workload"`
	ImageID       image.ID          `json:"image_id"`
	Status        Status            `json:"status"`
	Outcome       *verifier.Outcome `json:"outcome,omitempty"`
	Receipt       *receipt.Receipt  `json:"-"`
	JournalDigest string            `json:"journal_digest,omitempty"`
	Baseline      *BaselineReport   `json:"baseline,omitempty"`
	Assertion     *AssertionReport  `json:"assertion,omitempty"`
	Steps         uint64            `json:"steps"`
	Segments      int               `json:"segments"`
	TraceRoot     string            `json:"trace_root,omitempty"`
	ProveAttempts int               `json:"prove_attempts"`
	RecordID      string            `json:"record_id,omitempty"`
	Timings       Timings           `json:"timings"`
	Timeline      []Transition      `json:"timeline"`
	ErrorKind     zkerr.Kind        `json:"error_kind,omitempty"`
	ErrorMessage  string            `json:"error,omitempty"`
	Err           error             `json:"-"`

	// TimeLimited marks a guest fault raised by the wall-clock limit. Unlike
	// other guest faults it depends on the machine, so a rerun may pass.
	TimeLimited bool `json:"time_limited,omitempty"`
}

// State returns the last state entered.
func (r *Report) State() State {
	if len(r.Timeline) == 0 {
		return StateIdle
	}
	return r.Timeline[len(r.Timeline)-1].State
}

// Succeeded reports whether the run ended in an accepted or completed state.
func (r *Report) Succeeded() bool {
	return r.Status == StatusAccepted || r.Status == StatusCompleted
}

// ExitCode maps the report to the process exit code.
func (r *Report) ExitCode() int {
	switch r.Status {
	case StatusAccepted, StatusCompleted:
		return zkerr.ExitOK
	case StatusFailed:
		return zkerr.KindOf(r.Err).ExitCode()
	default:
		return zkerr.ExitRejected
	}
}

func (r *Report) enter(s State, now time.Time) {
	r.Timeline = append(r.Timeline, Transition{State: s, At: now})
}

func (r *Report) fail(err error) {
	err = zkerr.Ensure(err, zkerr.KindInternal, "run")
	r.Status = StatusFailed
	r.Err = err
	r.ErrorKind = zkerr.KindOf(err)
	r.ErrorMessage = err.Error()
	r.TimeLimited = errors.Is(err, zkvm.ErrTimeLimit)
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
