package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Real-JW/zkbench/internal/wasmtest"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	dir  string
	echo string
}

// setupEnv points the configuration at a temp data dir with in-memory
// artifacts and dev seals.
func setupEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("ZKBENCH_DATA_DIR", dir)
	t.Setenv("ZKBENCH_ARTIFACT_STORE", "memory")
	t.Setenv("ZKBENCH_PROVER", "dev")
	t.Setenv("ZKBENCH_RECEIPT_STORE", "none")
	t.Setenv("ZKBENCH_CACHE_INDEX", "memory")
	t.Setenv("ZKBENCH_TELEMETRY", "false")
	t.Setenv("ZKBENCH_TRUSTED_KEYS", "")
	t.Setenv("ZKBENCH_KEY_PATH", "")
	t.Setenv("LOG_LEVEL", "ERROR")

	e := env{dir: dir, echo: filepath.Join(dir, "echo.wasm")}
	require.NoError(t, os.WriteFile(e.echo, wasmtest.Echo(), 0o600))
	return e
}

func (e env) wasm(t *testing.T, name string, bin []byte) string {
	t.Helper()
	p := filepath.Join(e.dir, name+".wasm")
	require.NoError(t, os.WriteFile(p, bin, 0o600))
	return p
}

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"zkbench-host"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage")

	code, _, stderr = run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")

	code, stdout, _ := run("help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "image-id")
}

func TestRunCmd_AcceptedWithBaseline(t *testing.T) {
	e := setupEnv(t)

	code, stdout, stderr := run("run", "--workload", "echo", "--wasm", e.echo,
		"--text", "hello zkvm", "--baseline", "--json")
	require.Equal(t, 0, code, stderr)

	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, "accepted", rep["status"])
	assert.Equal(t, true, rep["baseline"].(map[string]any)["match"])
	assert.Equal(t, true, rep["outcome"].(map[string]any)["accepted"])
	assert.Contains(t, rep["timings"].(map[string]any), "prove")
}

func TestRunCmd_HumanOutput(t *testing.T) {
	e := setupEnv(t)

	code, stdout, stderr := run("run", "--workload", "echo", "--wasm", e.echo, "--text", "hi", "--baseline")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "(echo): accepted")
	assert.Contains(t, stdout, "baseline: match")
	assert.Contains(t, stdout, "timings:")
}

func TestRunCmd_ExitCodes(t *testing.T) {
	e := setupEnv(t)
	garbage := e.wasm(t, "garbage", []byte("not wasm"))
	trap := e.wasm(t, "trap", wasmtest.Trap())

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing workload", []string{"run", "--wasm", e.echo}, 2},
		{"bad runs", []string{"run", "--workload", "echo", "--wasm", e.echo, "--runs", "0"}, 2},
		{"conflicting input", []string{"run", "--workload", "echo", "--wasm", e.echo, "--text", "a", "--generate", "3"}, 2},
		{"unknown flag", []string{"run", "--nope"}, 2},
		{"build failure", []string{"run", "--workload", "echo", "--wasm", garbage}, zkerr.KindBuild.ExitCode()},
		{"guest fault", []string{"run", "--workload", "echo", "--wasm", trap}, zkerr.KindGuestFault.ExitCode()},
		{"baseline computation error", []string{"run", "--workload", "bzip2", "--baseline-only", "--text", "short"}, zkerr.KindComputation.ExitCode()},
		{"failed assertion", []string{"run", "--workload", "echo", "--wasm", e.echo, "--assert", "steps < 0"}, 1},
		{"bad assertion", []string{"run", "--workload", "echo", "--wasm", e.echo, "--assert", "steps +"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := run(tt.args...)
			assert.Equal(t, tt.want, code, stderr)
		})
	}
}

func TestRunCmd_BaselineOnly(t *testing.T) {
	setupEnv(t)

	code, stdout, stderr := run("run", "--workload", "echo", "--baseline-only", "--text", "native", "--json")
	require.Equal(t, 0, code, stderr)
	var rep map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, "completed", rep["status"])
	assert.Nil(t, rep["outcome"])
}

func TestRunCmd_MultipleRuns(t *testing.T) {
	e := setupEnv(t)
	t.Setenv("ZKBENCH_WORKERS", "2")

	code, stdout, stderr := run("run", "--workload", "echo", "--wasm", e.echo, "--text", "x", "--runs", "3", "--json")
	require.Equal(t, 0, code, stderr)
	var reps []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &reps))
	require.Len(t, reps, 3)
	ids := map[any]bool{}
	for _, r := range reps {
		assert.Equal(t, "accepted", r["status"])
		ids[r["run_id"]] = true
	}
	assert.Len(t, ids, 3)
}

func TestVerifyCmd_DevReceipt(t *testing.T) {
	e := setupEnv(t)
	out := filepath.Join(e.dir, "receipt.json")

	code, _, stderr := run("run", "--workload", "echo", "--wasm", e.echo, "--text", "prove me", "--receipt-out", out)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := run("verify", "--receipt", out, "--wasm", e.echo)
	assert.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "ACCEPTED")

	code, stdout, _ = run("verify", "--receipt", out, "--image-id", "sha256:"+strings.Repeat("ab", 32), "--json")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "IMAGE_MISMATCH")

	// A verifier configured for attestations refuses dev seals.
	t.Setenv("ZKBENCH_PROVER", "ed25519")
	code, stdout, _ = run("verify", "--receipt", out, "--wasm", e.echo)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "UNKNOWN_SEAL_SCHEME")

	code, _, _ = run("verify", "--receipt", out, "--wasm", e.echo, "--allow-dev")
	assert.Equal(t, 0, code)
}

func TestVerifyCmd_Usage(t *testing.T) {
	e := setupEnv(t)

	code, _, _ := run("verify", "--wasm", e.echo)
	assert.Equal(t, 2, code)
	code, _, _ = run("verify", "--receipt", "r.json")
	assert.Equal(t, 2, code)
	code, _, _ = run("verify", "--receipt", filepath.Join(e.dir, "missing.json"), "--wasm", e.echo)
	assert.Equal(t, 2, code)
	code, _, _ = run("verify", "--receipt", "r.json", "--image-id", "nope")
	assert.Equal(t, 2, code)
}

func TestKeygen_Ed25519RoundTrip(t *testing.T) {
	e := setupEnv(t)
	t.Setenv("ZKBENCH_PROVER", "ed25519")

	code, _, _ := run("run", "--workload", "echo", "--wasm", e.echo)
	assert.Equal(t, 2, code, "no signing key yet")

	code, stdout, stderr := run("keygen", "--json")
	require.Equal(t, 0, code, stderr)
	var keys map[string]string
	require.NoError(t, json.Unmarshal([]byte(stdout), &keys))
	assert.Equal(t, filepath.Join(e.dir, "keys", "host.key"), keys["private_key"])
	assert.FileExists(t, keys["public_key"])

	out := filepath.Join(e.dir, "receipt.json")
	code, _, stderr = run("run", "--workload", "echo", "--wasm", e.echo, "--text", "signed", "--receipt-out", out)
	require.Equal(t, 0, code, stderr)

	code, _, stderr = run("verify", "--receipt", out, "--wasm", e.echo)
	assert.Equal(t, 0, code, stderr)

	// Another host trusting only a foreign key rejects the receipt.
	other := filepath.Join(e.dir, "other")
	code, _, _ = run("keygen", "--out", other, "--key-id", "other")
	require.Equal(t, 0, code)
	t.Setenv("ZKBENCH_KEY_PATH", filepath.Join(other, "other.key"))
	code, _, _ = run("verify", "--receipt", out, "--wasm", e.echo, "--trusted-keys", other)
	assert.Equal(t, 1, code)
}

func TestKeygen_InvalidKeyID(t *testing.T) {
	setupEnv(t)
	code, _, _ := run("keygen", "--key-id", "../escape")
	assert.Equal(t, 2, code)
}

func TestImageIDCmd(t *testing.T) {
	e := setupEnv(t)
	img, err := image.FromBytes(context.Background(), "echo", wasmtest.Echo())
	require.NoError(t, err)

	code, stdout, stderr := run("image-id", "--wasm", e.echo)
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, img.ID().String(), strings.TrimSpace(stdout))

	code, stdout, _ = run("image-id", "--wasm", e.echo, "--json")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"name": "echo"`)

	code, _, _ = run("image-id")
	assert.Equal(t, 2, code)

	garbage := e.wasm(t, "garbage", []byte{0x00, 0x61})
	code, _, _ = run("image-id", "--wasm", garbage)
	assert.Equal(t, zkerr.KindBuild.ExitCode(), code)
}
