package workload

import "bytes"

// Echo returns its input.
type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Run(input []byte) ([]byte, error) { return bytes.Clone(input), nil }

// Generate returns size bytes of a repeating pattern.
func (Echo) Generate(size int) ([]byte, error) {
	if size < 0 {
		return nil, invalid("negative size %d", size)
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out, nil
}
