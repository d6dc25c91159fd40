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

// DevProver emits unauthenticated seals carrying only the claim digest.
// Anyone can forge them, so verifiers accept them only when dev seals are
// explicitly allowed.
type DevProver struct{}

type devSeal struct {
	TraceRoot   string `json:"trace_root"`
	Steps       uint64 `json:"steps"`
	ClaimDigest string `json:"claim_digest"`
}

func (DevProver) Scheme() string { return SchemeDev }

func (DevProver) Prove(ctx context.Context, claim receipt.Claim, _ *trace.Trace) (receipt.Seal, error) {
	if err := ctx.Err(); err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindCancelled, "prove", err)
	}
	d, err := claim.Digest()
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	payload, err := canonicalJSON(devSeal{
		TraceRoot:   claim.TraceRoot,
		Steps:       claim.Steps,
		ClaimDigest: hex.EncodeToString(d[:]),
	})
	if err != nil {
		return receipt.Seal{}, zkerr.New(zkerr.KindProver, "prove", err)
	}
	return receipt.Seal{Scheme: SchemeDev, Bytes: payload}, nil
}

// DevChecker checks that a dev seal is consistent with the journal and
// image. It proves nothing about the execution.
type DevChecker struct{}

func (DevChecker) Scheme() string { return SchemeDev }

func (DevChecker) Check(seal receipt.Seal, journal []byte, id image.ID) error {
	if err := checkScheme(seal, SchemeDev); err != nil {
		return err
	}
	var ds devSeal
	if err := decodeStrict(seal.Bytes, &ds); err != nil {
		return err
	}
	root, err := trace.ParseDigest(ds.TraceRoot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	d, err := receipt.NewClaim(id, journal, root, ds.Steps).Digest()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealInvalid, err)
	}
	if hex.EncodeToString(d[:]) != ds.ClaimDigest {
		return fmt.Errorf("%w: claim digest mismatch", ErrSealInvalid)
	}
	return nil
}
