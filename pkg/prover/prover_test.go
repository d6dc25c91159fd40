package prover

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace(t *testing.T, steps int) *trace.Trace {
	t.Helper()
	r, err := trace.NewRecorder(16)
	require.NoError(t, err)
	for i := 0; i < steps; i++ {
		r.Record(trace.EventCall, 1, uint64(i))
	}
	return r.Finish()
}

func sampleClaim(t *testing.T, id image.ID, journal []byte, steps int) (receipt.Claim, *trace.Trace) {
	tr := sampleTrace(t, steps)
	return receipt.NewClaim(id, journal, tr.Root, tr.Steps), tr
}

func TestAttestation_RoundTrip(t *testing.T) {
	ctx := context.Background()
	signer, err := GenerateSigner("host-1")
	require.NoError(t, err)
	ring := NewKeyRing()
	require.NoError(t, ring.Add(signer.KeyID, signer.PublicKey()))

	id := image.ComputeID([]byte("guest"))
	journal := []byte("journal")
	claim, tr := sampleClaim(t, id, journal, 40)

	seal, err := NewAttestor(signer).Prove(ctx, claim, tr)
	require.NoError(t, err)
	assert.Equal(t, SchemeEd25519, seal.Scheme)

	checker := NewAttestationChecker(ring)
	require.NoError(t, checker.Check(seal, journal, id))

	assert.ErrorIs(t, checker.Check(seal, []byte("journaL"), id), ErrSealInvalid)
	assert.ErrorIs(t, checker.Check(seal, journal, image.ComputeID([]byte("other"))), ErrSealInvalid)

	tampered := seal
	tampered.Bytes = []byte(string(seal.Bytes[:len(seal.Bytes)-1]) + ",\"x\":1}")
	assert.ErrorIs(t, checker.Check(tampered, journal, id), ErrSealInvalid)

	ring.Revoke(signer.KeyID)
	assert.ErrorIs(t, checker.Check(seal, journal, id), ErrSealInvalid)
}

func TestAttestation_SealSizeIndependentOfSteps(t *testing.T) {
	ctx := context.Background()
	signer, err := GenerateSigner("k")
	require.NoError(t, err)
	id := image.ComputeID([]byte("guest"))

	small, trSmall := sampleClaim(t, id, nil, 10)
	large, trLarge := sampleClaim(t, id, nil, 10000)
	a, err := NewAttestor(signer).Prove(ctx, small, trSmall)
	require.NoError(t, err)
	b, err := NewAttestor(signer).Prove(ctx, large, trLarge)
	require.NoError(t, err)
	assert.InDelta(t, len(a.Bytes), len(b.Bytes), 8)
}

func TestAttestation_ClaimTraceMismatch(t *testing.T) {
	signer, err := GenerateSigner("k")
	require.NoError(t, err)
	claim, _ := sampleClaim(t, image.ComputeID(nil), nil, 3)
	_, err = NewAttestor(signer).Prove(context.Background(), claim, sampleTrace(t, 4))
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))
}

func TestAttestation_WrongSchemeAndUnknownKey(t *testing.T) {
	signer, err := GenerateSigner("k")
	require.NoError(t, err)
	id := image.ComputeID(nil)
	claim, tr := sampleClaim(t, id, nil, 3)
	seal, err := NewAttestor(signer).Prove(context.Background(), claim, tr)
	require.NoError(t, err)

	checker := NewAttestationChecker(NewKeyRing())
	assert.ErrorIs(t, checker.Check(seal, nil, id), ErrSealInvalid)

	seal.Scheme = SchemeDev
	assert.ErrorIs(t, checker.Check(seal, nil, id), ErrSealInvalid)
}

func TestKeyFiles(t *testing.T) {
	dir := t.TempDir()
	signer, err := GenerateSigner("ci")
	require.NoError(t, err)
	privPath, pubPath, err := SaveKeyPair(dir, signer)
	require.NoError(t, err)

	loaded, err := LoadSigner(privPath)
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), loaded.PublicKey())

	_, err = LoadSigner(pubPath)
	assert.Error(t, err, "public key files carry no seed")

	ring, err := LoadKeyRing(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"ci"}, ring.KeyIDs())

	ring, err = LoadKeyRing(pubPath)
	require.NoError(t, err)
	ok, err := ring.Verify("ci", []byte("m"), loaded.Sign([]byte("m")))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = LoadKeyRing(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestDev_RoundTrip(t *testing.T) {
	id := image.ComputeID([]byte("g"))
	claim, tr := sampleClaim(t, id, []byte{1}, 5)
	seal, err := DevProver{}.Prove(context.Background(), claim, tr)
	require.NoError(t, err)
	require.NoError(t, DevChecker{}.Check(seal, []byte{1}, id))
	assert.ErrorIs(t, DevChecker{}.Check(seal, []byte{2}, id), ErrSealInvalid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = DevProver{}.Prove(ctx, claim, tr)
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))
}

func requireShell(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecProver(t *testing.T) {
	requireShell(t)
	ctx := context.Background()
	claim, tr := sampleClaim(t, image.ComputeID(nil), nil, 2)

	p := &ExecProver{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null; printf external-seal"}}
	seal, err := p.Prove(ctx, claim, tr)
	require.NoError(t, err)
	assert.Equal(t, receipt.Seal{Scheme: "ext/v1", Bytes: []byte("external-seal")}, seal)

	failing := &ExecProver{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null; echo out of memory >&2; exit 2"}}
	_, err = failing.Prove(ctx, claim, tr)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))
	assert.ErrorContains(t, err, "out of memory")

	empty := &ExecProver{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null"}}
	_, err = empty.Prove(ctx, claim, tr)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))

	_, err = (&ExecProver{SchemeName: "ext/v1"}).Prove(ctx, claim, tr)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err))
}

func TestExecChecker(t *testing.T) {
	requireShell(t)
	seal := receipt.Seal{Scheme: "ext/v1", Bytes: []byte("s")}
	id := image.ComputeID(nil)

	accept := &ExecChecker{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null; exit 0"}}
	assert.NoError(t, accept.Check(seal, nil, id))

	reject := &ExecChecker{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null; exit 1"}}
	assert.ErrorIs(t, reject.Check(seal, nil, id), ErrSealInvalid)

	broken := &ExecChecker{SchemeName: "ext/v1", Command: []string{"sh", "-c", "cat >/dev/null; exit 3"}}
	err := broken.Check(seal, nil, id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSealInvalid)
}

func TestLimited(t *testing.T) {
	claim, tr := sampleClaim(t, image.ComputeID(nil), nil, 1)
	l := NewLimited(DevProver{}, 0.001, 1)
	assert.Equal(t, SchemeDev, l.Scheme())

	_, err := l.Prove(context.Background(), claim, tr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Prove(ctx, claim, tr)
	assert.Equal(t, zkerr.KindProver, zkerr.KindOf(err), "wait would exceed the deadline")

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = l.Prove(cancelled, claim, tr)
	assert.Equal(t, zkerr.KindCancelled, zkerr.KindOf(err))
}
