// Command bzip2 is the bzip2 guest. Build it with GOOS=wasip1 GOARCH=wasm.
package main

import (
	"github.com/Real-JW/zkbench/pkg/guest"
	"github.com/Real-JW/zkbench/pkg/workload"
)

func main() {
	guest.Run(workload.Bzip2{})
}
