// Command hmmer is the hmmer guest. Build it with GOOS=wasip1 GOARCH=wasm.
package main

import (
	"github.com/Real-JW/zkbench/pkg/guest"
	"github.com/Real-JW/zkbench/pkg/workload"
)

func main() {
	guest.Run(workload.Hmmer{})
}
