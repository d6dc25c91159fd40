package cli

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Real-JW/zkbench/pkg/workload"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseInput(t *testing.T, args ...string) *InputFlags {
	t.Helper()
	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var f InputFlags
	f.Register(fs)
	require.NoError(t, fs.Parse(args))
	return &f
}

func TestInputFlags_Read(t *testing.T) {
	reg := workload.Default()
	path := filepath.Join(t.TempDir(), "in")
	require.NoError(t, os.WriteFile(path, []byte("file input"), 0o600))

	got, err := parseInput(t).Read(reg, "echo")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	got, err = parseInput(t, "--text", "abc").Read(reg, "echo")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got, err = parseInput(t, "--input", path).Read(reg, "echo")
	require.NoError(t, err)
	assert.Equal(t, []byte("file input"), got)

	got, err = parseInput(t, "--generate", "3").Read(reg, "echo")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestInputFlags_Errors(t *testing.T) {
	reg := workload.Default()
	cases := [][]string{
		{"--text", "a", "--input", "b"},
		{"--generate", "-1"},
		{"--input", "/does/not/exist"},
		{"--generate", "4", "--text", "x"},
	}
	for _, args := range cases {
		_, err := parseInput(t, args...).Read(reg, "echo")
		assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err), "%v", args)
	}
	_, err := parseInput(t, "--generate", "4").Read(reg, "unknown")
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))
}

func TestSourceFlags_Source(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.MkdirAll(filepath.Join("guests", "echo"), 0o750))
	require.NoError(t, os.WriteFile("go.mod", []byte("module x\n"), 0o600))

	f := SourceFlags{Include: DefaultInclude}
	src, err := f.Source("echo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("guests", "echo"), src.Dir)
	assert.Equal(t, []string{"go.mod"}, src.Include)

	f = SourceFlags{Wasm: "guest.wasm"}
	src, err = f.Source("echo")
	require.NoError(t, err)
	assert.Equal(t, "guest.wasm", src.Path)
	assert.Empty(t, src.Dir)

	for _, bad := range []SourceFlags{
		{Guest: "a", Wasm: "b"},
		{Guest: "missing"},
	} {
		_, err := bad.Source("echo")
		assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))
	}
	_, err = (&SourceFlags{}).Source("")
	assert.Equal(t, zkerr.KindConfig, zkerr.KindOf(err))
}
