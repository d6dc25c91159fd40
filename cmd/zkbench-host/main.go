// Command zkbench-host runs guest workloads in the zkVM, verifies their
// receipts and compares the results with the native baseline.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Real-JW/zkbench/pkg/zkerr"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return zkerr.KindConfig.ExitCode()
	}

	switch args[1] {
	case "run":
		return runRunCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "image-id":
		return runImageIDCmd(args[2:], stdout, stderr)
	case "keygen":
		return runKeygenCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return zkerr.ExitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return zkerr.KindConfig.ExitCode()
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: zkbench-host <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	printSection(w, "PIPELINE")
	printCommand(w, "run", "Build, execute, prove and verify a guest (--workload, --json)")
	printCommand(w, "verify", "Verify a receipt file against an image ID (--receipt)")
	printSection(w, "UTILITIES")
	printCommand(w, "image-id", "Build a guest and print its image ID")
	printCommand(w, "keygen", "Create an ed25519 signing key pair")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Exit codes: 0 ok, 1 rejected or mismatch, 2 config, 3 build,")
	_, _ = fmt.Fprintln(w, "4 computation, 5 guest fault, 6 prover, 7 cancelled, 8 internal.")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}

// fail reports err and returns its exit code.
func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	return zkerr.KindOf(err).ExitCode()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
