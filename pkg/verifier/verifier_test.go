package verifier

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Real-JW/zkbench/internal/wasmtest"
	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/prover"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkvm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	signer *prover.Signer
	ring   *prover.KeyRing
	id     image.ID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	signer, err := prover.GenerateSigner("host-1")
	require.NoError(t, err)
	ring := prover.NewKeyRing()
	require.NoError(t, ring.Add(signer.KeyID, signer.PublicKey()))
	return fixture{signer: signer, ring: ring, id: image.ComputeID([]byte("guest"))}
}

func (f fixture) receipt(t *testing.T, journal []byte) *receipt.Receipt {
	t.Helper()
	rec, err := trace.NewRecorder(8)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		rec.Record(trace.EventCall, 0, uint64(i))
	}
	tr := rec.Finish()
	seal, err := prover.NewAttestor(f.signer).Prove(context.Background(), receipt.NewClaim(f.id, journal, tr.Root, tr.Steps), tr)
	require.NoError(t, err)
	return receipt.New(f.id, journal, seal)
}

func (f fixture) verifier(t *testing.T, opts ...Option) *Verifier {
	t.Helper()
	v, err := New(append([]Option{WithChecker(prover.NewAttestationChecker(f.ring))}, opts...)...)
	require.NoError(t, err)
	return v
}

func TestVerify_Accepts(t *testing.T) {
	f := newFixture(t)
	out := f.verifier(t).Verify(f.receipt(t, []byte("42")), f.id)
	assert.True(t, out.Accepted)
	assert.Equal(t, []byte("42"), out.Journal)
	assert.Empty(t, out.Reason)
	assert.NoError(t, out.Err())
}

func TestVerify_Rejections(t *testing.T) {
	f := newFixture(t)
	other := image.ComputeID([]byte("other guest"))

	tests := []struct {
		name     string
		mutate   func(r *receipt.Receipt) *receipt.Receipt
		expected *image.ID
		want     Reason
	}{
		{name: "nil receipt", mutate: func(*receipt.Receipt) *receipt.Receipt { return nil }, want: ReasonMalformed},
		{name: "empty seal", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.Seal.Bytes = nil; return r }, want: ReasonMalformed},
		{name: "zero image id", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.ImageID = image.ID{}; return r }, want: ReasonMalformed},
		{name: "future major version", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.Version = "2.0.0"; return r }, want: ReasonUnsupportedVersion},
		{name: "unparseable version", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.Version = "one"; return r }, want: ReasonUnsupportedVersion},
		{name: "other image", expected: &other, want: ReasonImageMismatch},
		{name: "zero expected", expected: &image.ID{}, want: ReasonImageMismatch},
		{name: "unknown scheme", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.Seal.Scheme = "groth16/v1"; return r }, want: ReasonUnknownScheme},
		{name: "tampered journal", mutate: func(r *receipt.Receipt) *receipt.Receipt { r.Journal = []byte("43"); return r }, want: ReasonVerificationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := f.receipt(t, []byte("42"))
			if tt.mutate != nil {
				r = tt.mutate(r)
			}
			expected := f.id
			if tt.expected != nil {
				expected = *tt.expected
			}
			out := f.verifier(t).Verify(r, expected)
			assert.False(t, out.Accepted)
			assert.Equal(t, tt.want, out.Reason, out.Detail)
			assert.Nil(t, out.Journal)
			assert.True(t, IsRejection(out.Err(), tt.want))
		})
	}
}

// A receipt for another image is rejected as a mismatch even when its seal
// is garbage.
func TestVerify_ImageCheckedBeforeSeal(t *testing.T) {
	f := newFixture(t)
	r := f.receipt(t, nil)
	r.Seal.Bytes = []byte("garbage")
	out := f.verifier(t).Verify(r, image.ComputeID([]byte("x")))
	assert.Equal(t, ReasonImageMismatch, out.Reason)
}

// Image binding holds even for receipts the version gate would refuse.
func TestVerify_ImageCheckedBeforeVersion(t *testing.T) {
	f := newFixture(t)
	other := image.ComputeID([]byte("x"))
	for _, version := range []string{"2.0.0", "0.9.0", "one"} {
		t.Run(version, func(t *testing.T) {
			r := f.receipt(t, nil)
			r.Version = version
			assert.Equal(t, ReasonImageMismatch, f.verifier(t).Verify(r, other).Reason)
			assert.Equal(t, ReasonUnsupportedVersion, f.verifier(t).Verify(r, f.id).Reason)
		})
	}
}

func TestVerify_DevSeals(t *testing.T) {
	ctx := context.Background()
	id := image.ComputeID([]byte("guest"))
	rec, err := trace.NewRecorder(4)
	require.NoError(t, err)
	rec.Record(trace.EventCall, 0)
	tr := rec.Finish()
	seal, err := prover.DevProver{}.Prove(ctx, receipt.NewClaim(id, []byte("j"), tr.Root, tr.Steps), tr)
	require.NoError(t, err)
	r := receipt.New(id, []byte("j"), seal)

	strict, err := New()
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknownScheme, strict.Verify(r, id).Reason)
	assert.Empty(t, strict.Schemes())

	dev, err := New(WithDevSeals())
	require.NoError(t, err)
	assert.True(t, dev.Verify(r, id).Accepted)
	assert.Equal(t, []string{prover.SchemeDev}, dev.Schemes())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(WithVersionConstraint("not a constraint"))
	assert.Error(t, err)

	_, err = New(WithChecker(prover.DevChecker{}), WithChecker(prover.DevChecker{}))
	assert.Error(t, err)

	_, err = New(WithChecker(nil))
	assert.Error(t, err)
}

func TestVerify_VersionConstraintOverride(t *testing.T) {
	f := newFixture(t)
	v := f.verifier(t, WithVersionConstraint(">=1.1.0"))
	assert.Equal(t, ReasonUnsupportedVersion, v.Verify(f.receipt(t, nil), f.id).Reason)
}

func TestVerifyFile(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	v := f.verifier(t)

	good := filepath.Join(dir, "good.json")
	require.NoError(t, receipt.WriteFile(good, f.receipt(t, []byte("out"))))
	out, err := v.VerifyFile(good, f.id)
	require.NoError(t, err)
	assert.True(t, out.Accepted)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"version":"1.0.0"}`), 0o600))
	out, err = v.VerifyFile(bad, f.id)
	require.NoError(t, err)
	assert.Equal(t, ReasonMalformed, out.Reason)

	_, err = v.VerifyFile(filepath.Join(dir, "missing.json"), f.id)
	assert.Error(t, err)
}

func TestRejection_Error(t *testing.T) {
	err := Outcome{Reason: ReasonImageMismatch, Detail: "x"}.Err()
	assert.EqualError(t, err, "receipt rejected: IMAGE_MISMATCH: x")
	assert.False(t, IsRejection(errors.New("other"), ReasonImageMismatch))
}

// Build H, execute on 42, verify against H and against another image.
func TestScenario_ExecuteThenVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	img, err := image.FromBytes(ctx, "echo", wasmtest.Echo())
	require.NoError(t, err)
	other, err := image.FromBytes(ctx, "echo-annotated", wasmtest.Counted())
	require.NoError(t, err)
	require.NotEqual(t, img.ID(), other.ID())

	exec, err := zkvm.New(ctx, prover.NewAttestor(f.signer), zkvm.DefaultLimits())
	require.NoError(t, err)
	defer exec.Close(ctx)

	r, err := exec.Execute(ctx, img, []byte("42"))
	require.NoError(t, err)

	v := f.verifier(t)
	out := v.Verify(r, img.ID())
	require.True(t, out.Accepted, out.Detail)
	assert.Equal(t, []byte("42"), out.Journal)

	assert.Equal(t, ReasonImageMismatch, v.Verify(r, other.ID()).Reason)

	again, err := exec.Execute(ctx, img, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, out, v.Verify(again, img.ID()))
}
