package zkvm

import (
	"fmt"
	"time"

	"github.com/Real-JW/zkbench/pkg/trace"
)

// Limits bound a single execution. Zero disables a limit, except
// SegmentSize, which falls back to trace.DefaultSegmentSize.
//
// Every limit except TimeLimit trips at the same point on every machine.
// TimeLimit is wall-clock: it still yields KindGuestFault, wrapping
// ErrTimeLimit so callers can tell it apart from a deterministic fault.
type Limits struct {
	MemoryLimitBytes int64         `yaml:"memory_limit_bytes"`
	MaxSteps         uint64        `yaml:"max_steps"`
	TimeLimit        time.Duration `yaml:"time_limit"`
	MaxJournalBytes  int           `yaml:"max_journal_bytes"`
	SegmentSize      int           `yaml:"segment_size"`
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MemoryLimitBytes: 512 << 20,
		MaxSteps:         1 << 32,
		TimeLimit:        10 * time.Minute,
		MaxJournalBytes:  16 << 20,
		SegmentSize:      trace.DefaultSegmentSize,
	}
}

const wasmPageSize = 64 * 1024

// memoryPages converts a byte ceiling to whole wasm pages, at least one.
func (l Limits) memoryPages() uint32 {
	if l.MemoryLimitBytes <= 0 {
		return 0
	}
	pages := l.MemoryLimitBytes / wasmPageSize
	if pages == 0 {
		pages = 1
	}
	if pages > 65536 {
		pages = 65536
	}
	return uint32(pages)
}

// Validate rejects negative values.
func (l Limits) Validate() error {
	if l.MemoryLimitBytes < 0 || l.TimeLimit < 0 || l.MaxJournalBytes < 0 || l.SegmentSize < 0 {
		return fmt.Errorf("zkvm: limits must not be negative")
	}
	return nil
}
