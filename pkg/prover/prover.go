// Package prover binds the proof system behind two capabilities: a Prover
// turns a claim and its trace into a seal, and a Checker decides whether a
// seal attests a journal for an image. The executor and verifier only see
// these interfaces.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/receipt"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/gowebpki/jcs"
)

// Seal schemes implemented here.
const (
	SchemeEd25519 = "ed25519-attestation/v1"
	SchemeDev     = "dev/v1"
)

// ErrSealInvalid is returned by a Checker that rejects a seal.
var ErrSealInvalid = errors.New("seal invalid")

// Prover produces seals.
type Prover interface {
	Scheme() string
	Prove(ctx context.Context, claim receipt.Claim, tr *trace.Trace) (receipt.Seal, error)
}

// Checker validates seals of one scheme. Its cost depends on the seal and
// journal sizes only.
type Checker interface {
	Scheme() string
	Check(seal receipt.Seal, journal []byte, id image.ID) error
}

// canonicalJSON marshals v and applies RFC 8785.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// decodeStrict unmarshals a seal payload, rejecting unknown fields.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrSealInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrSealInvalid)
	}
	return nil
}

func checkScheme(seal receipt.Seal, want string) error {
	if seal.Scheme != want {
		return fmt.Errorf("%w: scheme %q, checker handles %q", ErrSealInvalid, seal.Scheme, want)
	}
	return nil
}
