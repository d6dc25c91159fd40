package workload

import (
	"bytes"
	stdbzip2 "compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// bzip2Phrase is repeated to build generated inputs.
const bzip2Phrase = "Hi there, this is zkbench!\n"

// Bzip2 checks a bzip2 round trip. Input layout:
//
//	u64le(len(raw)) ++ raw ++ bzip2(raw)
//
// The output is the single byte 1 when the compressed stream decodes to raw.
type Bzip2 struct{}

func (Bzip2) Name() string { return "bzip2" }

func (Bzip2) Run(input []byte) ([]byte, error) {
	if len(input) < 8 {
		return nil, invalid("bzip2: need 8 length bytes, have %d", len(input))
	}
	rawLen := binary.LittleEndian.Uint64(input[:8])
	rest := input[8:]
	if rawLen > uint64(len(rest)) {
		return nil, invalid("bzip2: raw length %d exceeds buffer of %d", rawLen, len(rest))
	}
	raw, compressed := rest[:rawLen], rest[rawLen:]

	// One byte past rawLen is enough to detect a longer stream.
	r := io.LimitReader(stdbzip2.NewReader(bytes.NewReader(compressed)), int64(rawLen)+1)
	got, err := io.ReadAll(r)
	if err != nil {
		return nil, invalid("bzip2: decompress: %v", err)
	}
	if !bytes.Equal(got, raw) {
		return nil, invalid("bzip2: decompressed %d bytes do not match raw payload", len(got))
	}
	return []byte{1}, nil
}

// Generate repeats a fixed phrase size times and packs it with its
// compressed form.
func (Bzip2) Generate(size int) ([]byte, error) {
	if size < 0 {
		return nil, invalid("negative size %d", size)
	}
	return Bzip2Input(bytes.Repeat([]byte(bzip2Phrase), size))
}

// Bzip2Input compresses raw at the best level and lays out a Bzip2 input.
func Bzip2Input(raw []byte) ([]byte, error) {
	var compressed bytes.Buffer
	w, err := bzip2.NewWriter(&compressed, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, fmt.Errorf("bzip2 writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 compress: %w", err)
	}

	out := make([]byte, 8, 8+len(raw)+compressed.Len())
	binary.LittleEndian.PutUint64(out, uint64(len(raw)))
	out = append(out, raw...)
	return append(out, compressed.Bytes()...), nil
}
