//go:build !wasip1

package guest

import (
	"fmt"
	"io"
	"os"
)

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

// Input returns all of stdin.
func Input() ([]byte, error) {
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return b, nil
}

// Commit writes b to stdout.
func Commit(b []byte) error {
	if _, err := stdout.Write(b); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
