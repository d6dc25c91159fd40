package image

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	wasmMagic   = []byte{0x00, 'a', 's', 'm'}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

	// ErrNotWasm is returned for bytes that are not a WebAssembly binary.
	ErrNotWasm = errors.New("image: not a WebAssembly module")
)

const customSectionID = 0

// Normalize strips every custom section (names, producers, build IDs, debug
// info) from a WebAssembly binary. Toolchains embed paths and build IDs
// there, so leaving them in would make the image ID depend on the build
// machine. The remaining sections are copied byte for byte.
func Normalize(raw []byte) ([]byte, error) {
	if len(raw) < 8 || !bytes.Equal(raw[:4], wasmMagic) {
		return nil, ErrNotWasm
	}
	if !bytes.Equal(raw[4:8], wasmVersion) {
		return nil, fmt.Errorf("%w: unsupported version %x", ErrNotWasm, raw[4:8])
	}

	out := make([]byte, 0, len(raw))
	out = append(out, raw[:8]...)
	pos := 8
	for pos < len(raw) {
		start := pos
		id := raw[pos]
		pos++
		size, n, err := readULEB32(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: section at offset %d: %v", ErrNotWasm, start, err)
		}
		pos += n
		end := pos + int(size)
		if end > len(raw) || end < pos {
			return nil, fmt.Errorf("%w: section at offset %d overruns module", ErrNotWasm, start)
		}
		if id != customSectionID {
			out = append(out, raw[start:end]...)
		}
		pos = end
	}
	return out, nil
}

// CustomSections lists the names of the custom sections in a binary.
func CustomSections(raw []byte) ([]string, error) {
	if len(raw) < 8 || !bytes.Equal(raw[:4], wasmMagic) {
		return nil, ErrNotWasm
	}
	var names []string
	pos := 8
	for pos < len(raw) {
		id := raw[pos]
		pos++
		size, n, err := readULEB32(raw[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotWasm, err)
		}
		pos += n
		end := pos + int(size)
		if end > len(raw) {
			return nil, fmt.Errorf("%w: section overruns module", ErrNotWasm)
		}
		if id == customSectionID {
			nameLen, m, err := readULEB32(raw[pos:end])
			if err != nil || pos+m+int(nameLen) > end {
				return nil, fmt.Errorf("%w: malformed custom section name", ErrNotWasm)
			}
			names = append(names, string(raw[pos+m:pos+m+int(nameLen)]))
		}
		pos = end
	}
	return names, nil
}

func readULEB32(b []byte) (uint32, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < len(b) && i < 5; i++ {
		c := b[i]
		v |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("truncated or oversized LEB128")
}
