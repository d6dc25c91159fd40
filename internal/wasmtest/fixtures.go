package wasmtest

// Host module names and exports the fixtures import.
const (
	HostModule = "zkvm"
	WASIModule = "wasi_snapshot_preview1"
)

type guestImports struct {
	readInput, inputLen, commit uint32
}

func importHost(b *Builder) guestImports {
	return guestImports{
		readInput: b.ImportFunc(HostModule, "read_input", []ValType{I32}, nil),
		inputLen:  b.ImportFunc(HostModule, "input_len", nil, []ValType{I32}),
		commit:    b.ImportFunc(HostModule, "commit", []ValType{I32, I32}, nil),
	}
}

func (g guestImports) echoBody() []byte {
	return Concat(
		I32Const(0), Call(g.readInput),
		I32Const(0), Call(g.inputLen), Call(g.commit),
	)
}

// Echo commits its input unchanged. Inputs must fit in one 64 KiB page.
func Echo() []byte {
	return echoBuilder().Bytes()
}

// EchoWithCustom is Echo plus a custom section, which normalization strips.
func EchoWithCustom(name string, data []byte) []byte {
	b := echoBuilder()
	b.Custom(name, data)
	return b.Bytes()
}

func echoBuilder() *Builder {
	b := NewBuilder()
	g := importHost(b)
	start := b.Func(nil, nil, nil, g.echoBody()...)
	b.Memory(1)
	b.Export("_start", start)
	return b
}

// EchoTwice commits its input two times, so the journal is input||input.
func EchoTwice() []byte {
	b := NewBuilder()
	g := importHost(b)
	start := b.Func(nil, nil, nil, Concat(g.echoBody(), I32Const(0), Call(g.inputLen), Call(g.commit))...)
	b.Memory(1)
	b.Export("_start", start)
	return b.Bytes()
}

// Counted calls an empty function once per input byte, then echoes the
// input. Its step count grows linearly with the input length.
func Counted() []byte {
	b := NewBuilder()
	g := importHost(b)
	tick := b.Func(nil, nil, nil)
	body := Concat(
		[]byte{OpBlock, blockEmpty, OpLoop, blockEmpty},
		LocalGet(0), Call(g.inputLen), []byte{OpI32GeU}, BrIf(1),
		Call(tick),
		LocalGet(0), I32Const(1), []byte{OpI32Add}, LocalSet(0),
		Br(0),
		[]byte{OpEnd, OpEnd},
		g.echoBody(),
	)
	start := b.Func(nil, nil, []ValType{I32}, body...)
	b.Memory(1)
	b.Export("_start", start)
	return b.Bytes()
}

// NoCommit returns immediately without committing anything.
func NoCommit() []byte {
	b := NewBuilder()
	start := b.Func(nil, nil, nil, OpNop)
	b.Memory(1)
	b.Export("_start", start)
	return b.Bytes()
}

// Trap executes unreachable.
func Trap() []byte {
	b := NewBuilder()
	start := b.Func(nil, nil, nil, OpUnreachable)
	b.Export("_start", start)
	return b.Bytes()
}

// Exit calls proc_exit with the given code.
func Exit(code int32) []byte {
	b := NewBuilder()
	procExit := b.ImportFunc(WASIModule, "proc_exit", []ValType{I32}, nil)
	start := b.Func(nil, nil, nil, Concat(I32Const(code), Call(procExit))...)
	b.Memory(1)
	b.Export("_start", start)
	return b.Bytes()
}

// Spin loops forever without making calls.
func Spin() []byte {
	b := NewBuilder()
	start := b.Func(nil, nil, nil, Concat([]byte{OpLoop, blockEmpty}, Br(0), []byte{OpEnd})...)
	b.Export("_start", start)
	return b.Bytes()
}

// CallLoop calls an empty function forever, so every iteration is a step.
func CallLoop() []byte {
	b := NewBuilder()
	tick := b.Func(nil, nil, nil)
	start := b.Func(nil, nil, nil, Concat([]byte{OpLoop, blockEmpty}, Call(tick), Br(0), []byte{OpEnd})...)
	b.Export("_start", start)
	return b.Bytes()
}

// CommitOutOfBounds commits a range past the end of its single memory page.
func CommitOutOfBounds() []byte {
	b := NewBuilder()
	g := importHost(b)
	start := b.Func(nil, nil, nil, Concat(I32Const(65530), I32Const(64), Call(g.commit))...)
	b.Memory(1)
	b.Export("_start", start)
	return b.Bytes()
}

// LargeMemory declares a memory of the given minimum page count.
func LargeMemory(pages int) []byte {
	b := NewBuilder()
	start := b.Func(nil, nil, nil, OpNop)
	b.Memory(pages)
	b.Export("_start", start)
	return b.Bytes()
}
