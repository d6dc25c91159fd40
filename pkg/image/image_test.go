package image

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Real-JW/zkbench/internal/wasmtest"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id := ComputeID([]byte("abc"))

	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = ParseID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "sha256:", "sha256:abc", "sha256:" + id.Hex()[:62] + "zz"} {
		_, err := ParseID(bad)
		assert.ErrorIs(t, err, ErrInvalidID, bad)
	}
}

func TestID_TextRoundTrip(t *testing.T) {
	id := ComputeID([]byte("guest"))
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back ID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
	assert.False(t, back.IsZero())
}

func TestNormalize_StripsCustomSections(t *testing.T) {
	plain := wasmtest.Echo()
	tagged := wasmtest.EchoWithCustom("go:buildid", []byte("/home/alice/build/1234"))
	require.NotEqual(t, plain, tagged)

	names, err := CustomSections(tagged)
	require.NoError(t, err)
	assert.Equal(t, []string{"go:buildid"}, names)

	a, err := Normalize(plain)
	require.NoError(t, err)
	b, err := Normalize(tagged)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	names, err = CustomSections(b)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Normalize([]byte("not wasm at all"))
	assert.ErrorIs(t, err, ErrNotWasm)

	_, err = Normalize([]byte{0x00, 'a', 's', 'm', 0x02, 0, 0, 0})
	assert.ErrorIs(t, err, ErrNotWasm)

	truncated := wasmtest.Echo()
	_, err = Normalize(truncated[:len(truncated)-3])
	assert.ErrorIs(t, err, ErrNotWasm)
}

func TestFromBytes(t *testing.T) {
	ctx := context.Background()

	img, err := FromBytes(ctx, "echo", wasmtest.EchoWithCustom("name", []byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "echo", img.Name())

	again, err := FromBytes(ctx, "other-name", wasmtest.Echo())
	require.NoError(t, err)
	assert.Equal(t, img.ID(), again.ID(), "identity depends on bytes only")

	b := img.Bytes()
	b[0] = 0xff
	assert.Equal(t, byte(0x00), img.Bytes()[0], "Bytes returns a copy")

	other, err := FromBytes(ctx, "trap", wasmtest.Trap())
	require.NoError(t, err)
	assert.NotEqual(t, img.ID(), other.ID())
}

func TestFromBytes_Invalid(t *testing.T) {
	ctx := context.Background()

	_, err := FromBytes(ctx, "junk", []byte("junk"))
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))

	b := wasmtest.NewBuilder()
	fn := b.Func(nil, nil, nil)
	b.Export("main", fn)
	_, err = FromBytes(ctx, "no-start", b.Bytes())
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))
	assert.ErrorContains(t, err, "_start")
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func TestSourceHash(t *testing.T) {
	files := map[string]string{
		"main.go":       "package main\nfunc main() {}\n",
		"sub/helper.go": "package sub\n",
		".git/HEAD":     "ref: refs/heads/main",
	}
	a := writeTree(t, files)
	files[".git/HEAD"] = "ref: refs/heads/other"
	b := writeTree(t, files)

	ha, err := Source{Name: "g", Dir: a}.Hash()
	require.NoError(t, err)
	hb, err := Source{Name: "g", Dir: b}.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "location and hidden files do not matter")
	assert.Contains(t, ha, SourceHashPrefix)

	require.NoError(t, os.WriteFile(filepath.Join(b, "main.go"), []byte("package main\nfunc main() { println() }\n"), 0o644))
	hb2, err := Source{Name: "g", Dir: b}.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb2)

	shared := writeTree(t, map[string]string{"lib.go": "package lib\n"})
	hInc, err := Source{Name: "g", Dir: a, Include: []string{shared}}.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hInc)
}

func TestSourceValidate(t *testing.T) {
	assert.ErrorIs(t, Source{}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, Source{Name: "x"}.Validate(), ErrInvalidSource)
	assert.ErrorIs(t, Source{Name: "x", Dir: "a", Path: "b"}.Validate(), ErrInvalidSource)
	assert.NoError(t, Source{Name: "x", Path: "b.wasm"}.Validate())
}

type fakeToolchain struct {
	out []byte
	err error
}

func (f fakeToolchain) Compile(context.Context, Source) ([]byte, error) {
	return f.out, f.err
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string]string{"main.go": "package main"})

	img, err := NewBuilder(fakeToolchain{out: wasmtest.Echo()}).Build(ctx, Source{Name: "echo", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, ComputeID(wasmtest.Echo()), img.ID())

	_, err = NewBuilder(fakeToolchain{err: assert.AnError}).Build(ctx, Source{Name: "echo", Dir: dir})
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))
	assert.ErrorIs(t, err, assert.AnError)

	_, err = NewBuilder(fakeToolchain{out: []byte("garbage")}).Build(ctx, Source{Name: "echo", Dir: dir})
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))

	_, err = NewBuilder(nil).Build(ctx, Source{})
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))
}

func TestBuilder_Prebuilt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "guest.wasm")
	require.NoError(t, os.WriteFile(path, wasmtest.EchoWithCustom("producers", []byte("tinygo")), 0o644))

	var logs bytes.Buffer
	b := NewBuilder(fakeToolchain{err: assert.AnError}, WithBuildLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	img, err := b.Build(context.Background(), Source{Name: "echo", Path: path})
	require.NoError(t, err)
	assert.Equal(t, ComputeID(wasmtest.Echo()), img.ID())
	assert.Contains(t, logs.String(), `"stripped_sections":["producers"]`)

	_, err = NewBuilder(nil).Build(context.Background(), Source{Name: "missing", Path: path + ".nope"})
	assert.Equal(t, zkerr.KindBuild, zkerr.KindOf(err))
}
