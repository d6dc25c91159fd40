// Package wasmtest assembles small WebAssembly modules for tests, so that the
// executor and pipeline can be exercised without a guest toolchain.
package wasmtest

import "fmt"

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// Opcodes used by the fixtures.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpBrIf        byte = 0x0d
	OpCall        byte = 0x10
	OpDrop        byte = 0x1a
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpI32Const    byte = 0x41
	OpI32GeU      byte = 0x4f
	OpI32Add      byte = 0x6a

	blockEmpty byte = 0x40
)

type funcType struct {
	params  []ValType
	results []ValType
}

type importEntry struct {
	module, name string
	typeIdx      uint32
}

type funcEntry struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

type customEntry struct {
	name string
	data []byte
}

// Builder accumulates module sections. Imports must be declared before any
// function is defined so that function indices stay stable.
type Builder struct {
	types    []funcType
	imports  []importEntry
	funcs    []funcEntry
	exports  []exportEntry
	customs  []customEntry
	memPages int
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{memPages: -1}
}

func (b *Builder) typeIndex(params, results []ValType) uint32 {
	for i, t := range b.types {
		if string(valBytes(t.params)) == string(valBytes(params)) && string(valBytes(t.results)) == string(valBytes(results)) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

// ImportFunc declares an imported function and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []ValType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: imports must precede function definitions")
	}
	b.imports = append(b.imports, importEntry{module: module, name: name, typeIdx: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. The body must not include
// the terminating end opcode.
func (b *Builder) Func(params, results, locals []ValType, body ...byte) uint32 {
	b.funcs = append(b.funcs, funcEntry{typeIdx: b.typeIndex(params, results), locals: locals, body: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares a single linear memory with the given minimum page count
// and exports it as "memory".
func (b *Builder) Memory(pages int) {
	b.memPages = pages
	b.exports = append(b.exports, exportEntry{name: "memory", kind: 0x02, idx: 0})
}

// Export exports a function under name.
func (b *Builder) Export(name string, fn uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: 0x00, idx: fn})
}

// Custom appends a custom section.
func (b *Builder) Custom(name string, data []byte) {
	b.customs = append(b.customs, customEntry{name: name, data: data})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var s []byte
		s = append(s, uleb(uint64(len(b.types)))...)
		for _, t := range b.types {
			s = append(s, 0x60)
			s = append(s, vec(valBytes(t.params))...)
			s = append(s, vec(valBytes(t.results))...)
		}
		out = appendSection(out, 1, s)
	}
	if len(b.imports) > 0 {
		var s []byte
		s = append(s, uleb(uint64(len(b.imports)))...)
		for _, im := range b.imports {
			s = append(s, name(im.module)...)
			s = append(s, name(im.name)...)
			s = append(s, 0x00)
			s = append(s, uleb(uint64(im.typeIdx))...)
		}
		out = appendSection(out, 2, s)
	}
	if len(b.funcs) > 0 {
		var s []byte
		s = append(s, uleb(uint64(len(b.funcs)))...)
		for _, f := range b.funcs {
			s = append(s, uleb(uint64(f.typeIdx))...)
		}
		out = appendSection(out, 3, s)
	}
	if b.memPages >= 0 {
		s := []byte{0x01, 0x00}
		s = append(s, uleb(uint64(b.memPages))...)
		out = appendSection(out, 5, s)
	}
	if len(b.exports) > 0 {
		var s []byte
		s = append(s, uleb(uint64(len(b.exports)))...)
		for _, e := range b.exports {
			s = append(s, name(e.name)...)
			s = append(s, e.kind)
			s = append(s, uleb(uint64(e.idx))...)
		}
		out = appendSection(out, 7, s)
	}
	if len(b.funcs) > 0 {
		var s []byte
		s = append(s, uleb(uint64(len(b.funcs)))...)
		for _, f := range b.funcs {
			var body []byte
			if len(f.locals) == 0 {
				body = append(body, 0x00)
			} else {
				body = append(body, uleb(uint64(len(f.locals)))...)
				for _, l := range f.locals {
					body = append(body, 0x01, byte(l))
				}
			}
			body = append(body, f.body...)
			body = append(body, OpEnd)
			s = append(s, uleb(uint64(len(body)))...)
			s = append(s, body...)
		}
		out = appendSection(out, 10, s)
	}
	for _, c := range b.customs {
		s := name(c.name)
		s = append(s, c.data...)
		out = appendSection(out, 0, s)
	}
	return out
}

// Call encodes a call instruction.
func Call(fn uint32) []byte { return append([]byte{OpCall}, uleb(uint64(fn))...) }

// I32Const encodes an i32.const instruction.
func I32Const(v int32) []byte { return append([]byte{OpI32Const}, sleb(int64(v))...) }

// LocalGet encodes a local.get instruction.
func LocalGet(idx uint32) []byte { return append([]byte{OpLocalGet}, uleb(uint64(idx))...) }

// LocalSet encodes a local.set instruction.
func LocalSet(idx uint32) []byte { return append([]byte{OpLocalSet}, uleb(uint64(idx))...) }

// Br encodes a br instruction.
func Br(depth uint32) []byte { return append([]byte{OpBr}, uleb(uint64(depth))...) }

// BrIf encodes a br_if instruction.
func BrIf(depth uint32) []byte { return append([]byte{OpBrIf}, uleb(uint64(depth))...) }

// Concat joins instruction fragments.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func appendSection(out []byte, id byte, payload []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func valBytes(vs []ValType) []byte {
	b := make([]byte, len(vs))
	for i, v := range vs {
		b[i] = byte(v)
	}
	return b
}

func vec(items []byte) []byte {
	return append(uleb(uint64(len(items))), items...)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		out = append(out, c)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		c := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0)
		if !done {
			c |= 0x80
		}
		out = append(out, c)
		if done {
			return out
		}
	}
}

// String renders a short description, useful in test failure output.
func (b *Builder) String() string {
	return fmt.Sprintf("module{types:%d imports:%d funcs:%d exports:%d}", len(b.types), len(b.imports), len(b.funcs), len(b.exports))
}
