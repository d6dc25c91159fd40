package prover

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/Real-JW/zkbench/pkg/zkerr"
)

const claimSigDomain = "zkbench:claim:v1\x00"

// attestation is the seal payload of SchemeEd25519. The image ID and
// journal are not repeated here: the checker rebuilds the claim from the
// receipt and the caller's expected ID.
type attestation struct {
	KeyID     string `json:"key_id"`
	TraceRoot string `json:"trace_root"`
	Steps     uint64 `json:"steps"`
	Signature string `json:"signature"`
}

func signingMessage(claim receipt.Claim) ([]byte, error) {
	d, err := claim.Digest()
	if err != nil {
		return nil, err
	}
	return append([]byte(claimSigDomain), d[:]...), nil
}

// Attestor seals claims with an Ed25519 signature. The seal has constant
// size whatever the length of the execution.
type Attestor struct {
	signer *Signer
}

func NewAttestor(s *Signer) *Attestor {
	return &Attestor{signer: s}
}

func (a *Attestor) Scheme() string { return SchemeEd25519 }

func (a *Attestor) Prove(ctx context.Context, claim receipt.Claim, tr *trace.Trace) (receipt.Seal, error) {
	if err := ctx.Err(); err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindCancelled, "prove", err)
	}
	if tr == nil || claim.TraceRoot != tr.Root.String() || claim.Steps != tr.Steps {
		return receipt.Seal{}, zkerr.Errorf(zkerr.KindProver, "prove", "claim does not match trace")
	}
	msg, err := signingMessage(claim)
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	payload, err := canonicalJSON(attestation{
		KeyID:     a.signer.KeyID,
		TraceRoot: claim.TraceRoot,
		Steps:     claim.Steps,
		Signature: hex.EncodeToString(a.signer.Sign(msg)),
	})
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	return receipt.Seal{Scheme: SchemeEd25519, Bytes: payload}, nil
}

// AttestationChecker verifies SchemeEd25519 seals against trusted keys.
type AttestationChecker struct {
	ring *KeyRing
}

func NewAttestationChecker(ring *KeyRing) *AttestationChecker {
	return &AttestationChecker{ring: ring}
}

func (c *AttestationChecker) Scheme() string { return SchemeEd25519 }

func (c *AttestationChecker) Check(seal receipt.Seal, journal []byte, id image.ID) error {
	if err := checkScheme(seal, SchemeEd25519); err != nil {
		return err
	}
	var att attestation
	if err := decodeStrict(seal.Bytes, &att); err != nil {
		return err
	}
	root, err := trace.ParseDigest(att.TraceRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	sig, err := hex.DecodeString(att.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature encoding: %v", ErrSealInvalid, err)
	}
	msg, err := signingMessage(receipt.NewClaim(id, journal, root, att.Steps))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	ok, err := c.ring.Verify(att.KeyID, msg, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: signature does not match claim", ErrSealInvalid)
	}
	return nil
}
