package host

import (
	"fmt"

	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/google/cel-go/cel"
)

// Assertion is a compiled boolean CEL expression over a report. The
// expression sees:
//
//	outcome.accepted, outcome.reason
//	baseline.ran, baseline.match
//	steps, segments, prove_attempts
//	timings.<stage> (seconds)
//	workload, status
type Assertion struct {
	expr string
	prg  cel.Program
}

func assertionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("outcome", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("baseline", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("timings", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("steps", cel.IntType),
		cel.Variable("segments", cel.IntType),
		cel.Variable("prove_attempts", cel.IntType),
		cel.Variable("workload", cel.StringType),
		cel.Variable("status", cel.StringType),
	)
}

// NewAssertion compiles expr. Syntax and type errors are KindConfig.
func NewAssertion(expr string) (*Assertion, error) {
	env, err := assertionEnv()
	if err != nil {
		return nil, zkerr.New(zkerr.KindInternal, "assertion", fmt.Errorf("failed to create CEL environment: %w", err))
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, zkerr.New(zkerr.KindConfig, "assertion", fmt.Errorf("compile: %w", issues.Err()))
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, zkerr.Errorf(zkerr.KindConfig, "assertion", "expression yields %s, want bool", t)
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "assertion", fmt.Errorf("program: %w", err))
	}
	return &Assertion{expr: expr, prg: prg}, nil
}

func (a *Assertion) String() string { return a.expr }

// Eval evaluates the assertion against r.
func (a *Assertion) Eval(r *Report) (bool, error) {
	out, _, err := a.prg.Eval(activation(r))
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not bool")
	}
	return val, nil
}

func activation(r *Report) map[string]any {
	outcome := map[string]any{"accepted": false, "reason": ""}
	if r.Outcome != nil {
		outcome["accepted"] = r.Outcome.Accepted
		outcome["reason"] = string(r.Outcome.Reason)
	}
	baseline := map[string]any{"ran": false, "match": false}
	if r.Baseline != nil {
		baseline["ran"] = r.Baseline.Ran
		baseline["match"] = r.Baseline.Match
	}
	return map[string]any{
		"outcome":        outcome,
		"baseline":       baseline,
		"timings":        r.Timings.Seconds(),
		"steps":          int64(r.Steps), //nolint:gosec // step ceilings are far below 2^63
		"segments":       int64(r.Segments),
		"prove_attempts": int64(r.ProveAttempts),
		"workload":       r.Workload,
		"status":         string(r.Status),
	}
}
