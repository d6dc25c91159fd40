//go:build wasip1

package guest

import "unsafe"

//go:wasmimport zkvm input_len
func inputLen() uint32

//go:wasmimport zkvm read_input
func readInput(ptr unsafe.Pointer)

//go:wasmimport zkvm commit
func commit(ptr unsafe.Pointer, n uint32)

// Input returns the execution input.
func Input() ([]byte, error) {
	n := inputLen()
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	readInput(unsafe.Pointer(&buf[0]))
	return buf, nil
}

// Commit appends b to the journal.
func Commit(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	commit(unsafe.Pointer(&b[0]), uint32(len(b)))
	return nil
}
