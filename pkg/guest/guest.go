// Package guest is the guest-side runtime for zkbench images. Built for
// wasip1 it talks to the zkvm host module; built natively it uses stdin and
// stdout, so a guest binary can be run directly while debugging.
package guest

import (
	"fmt"
	"os"

	"github.com/Real-JW/zkbench/pkg/workload"
)

// ExitInvalidInput is the exit code of a guest whose workload rejected its
// input.
const ExitInvalidInput = 3

// Run feeds the input to w and commits its output. A workload error is
// written to stderr and ends the guest with ExitInvalidInput, so no receipt
// is produced for it.
func Run(w workload.Workload) {
	if err := run(w); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", w.Name(), err)
		os.Exit(ExitInvalidInput)
	}
}

func run(w workload.Workload) error {
	input, err := Input()
	if err != nil {
		return err
	}
	out, err := w.Run(input)
	if err != nil {
		return err
	}
	return Commit(out)
}
