package zkvm

import (
	"context"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// HostModule is the import module name guests use for the zkvm channels.
const HostModule = "zkvm"

// Host channel indices recorded in the trace.
const (
	chanInputLen uint32 = iota
	chanReadInput
	chanCommit
)

// instantiateHost registers the zkvm module on r. Its functions find their
// session through the call context, so one instance serves every execution.
func instantiateHost(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(HostModule).
		NewFunctionBuilder().
		WithFunc(hostInputLen).
		Export("input_len").
		NewFunctionBuilder().
		WithFunc(hostReadInput).
		WithParameterNames("ptr").
		Export("read_input").
		NewFunctionBuilder().
		WithFunc(hostCommit).
		WithParameterNames("ptr", "len").
		Export("commit").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate %s host module: %w", HostModule, err)
	}
	return nil
}

func hostInputLen(ctx context.Context) uint32 {
	s := mustSession(ctx)
	s.rec.Record(trace.EventInput, chanInputLen, uint64(len(s.input)))
	s.step()
	return uint32(len(s.input))
}

func hostReadInput(ctx context.Context, m api.Module, ptr uint32) {
	s := mustSession(ctx)
	s.rec.Record(trace.EventInput, chanReadInput, uint64(ptr), uint64(len(s.input)))
	s.step()
	if !m.Memory().Write(ptr, s.input) {
		s.abort(fmt.Errorf("%w: read_input(%d) of %d bytes", ErrMemoryAccess, ptr, len(s.input)), exitMemoryAccess)
	}
}

func hostCommit(ctx context.Context, m api.Module, ptr, length uint32) {
	s := mustSession(ctx)
	if s.maxJournal > 0 && len(s.journal)+int(length) > s.maxJournal {
		s.abort(fmt.Errorf("%w: %d bytes", ErrJournalLimit, s.maxJournal), exitJournalLimit)
	}
	data, ok := m.Memory().Read(ptr, length)
	if !ok {
		s.abort(fmt.Errorf("%w: commit(%d, %d)", ErrMemoryAccess, ptr, length), exitMemoryAccess)
	}
	s.journal = append(s.journal, data...)
	s.rec.RecordData(trace.EventCommit, chanCommit, data)
	s.step()
}

// stepListener records every guest function entry as a step.
type stepListener struct{}

func (stepListener) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return stepListener{}
}

func (stepListener) Before(ctx context.Context, _ api.Module, def api.FunctionDefinition, params []uint64, _ experimental.StackIterator) {
	s := sessionFrom(ctx)
	if s == nil {
		return
	}
	s.rec.Record(trace.EventCall, def.Index(), params...)
	s.step()
}

func (stepListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (stepListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
