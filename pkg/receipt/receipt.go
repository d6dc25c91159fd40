// Package receipt defines the attestation produced by a zkVM execution: the
// journal the guest committed, the image it ran and a seal over both.
package receipt

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/gowebpki/jcs"
)

// Version is the receipt format version written by this module.
const Version = "1.0.0"

// ClaimVersion versions the canonical claim layout that seals sign.
const ClaimVersion = "1"

// ErrMalformed reports a structurally invalid receipt.
var ErrMalformed = errors.New("receipt: malformed")

// Seal is the scheme-specific attestation. Bytes are opaque outside the
// scheme's checker.
type Seal struct {
	Scheme string `json:"scheme"`
	Bytes  []byte `json:"bytes"`
}

// Receipt attests that an image produced a journal. Its ImageID is what the
// producer claims; verification always compares it against an ID supplied
// by the caller.
type Receipt struct {
	Version string
	ImageID image.ID
	Journal []byte
	Seal    Seal
}

// New assembles a receipt, copying journal and seal bytes.
func New(id image.ID, journal []byte, seal Seal) *Receipt {
	return &Receipt{
		Version: Version,
		ImageID: id,
		Journal: bytes.Clone(nonNil(journal)),
		Seal:    Seal{Scheme: seal.Scheme, Bytes: bytes.Clone(seal.Bytes)},
	}
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Validate checks structure only; it says nothing about the seal.
func (r *Receipt) Validate() error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil receipt", ErrMalformed)
	case r.Version == "":
		return fmt.Errorf("%w: missing version", ErrMalformed)
	case r.ImageID.IsZero():
		return fmt.Errorf("%w: missing image id", ErrMalformed)
	case r.Seal.Scheme == "":
		return fmt.Errorf("%w: missing seal scheme", ErrMalformed)
	case len(r.Seal.Bytes) == 0:
		return fmt.Errorf("%w: empty seal", ErrMalformed)
	}
	return nil
}

// JournalDigest returns the hex SHA-256 of a journal.
func JournalDigest(journal []byte) string {
	sum := sha256.Sum256(journal)
	return hex.EncodeToString(sum[:])
}

// Claim is the public statement a seal attests.
type Claim struct {
	Version       string `json:"version"`
	ImageID       string `json:"image_id"`
	JournalDigest string `json:"journal_digest"`
	TraceRoot     string `json:"trace_root"`
	Steps         uint64 `json:"steps"`
	ExitCode      uint32 `json:"exit_code"`
}

// NewClaim builds the claim for a completed execution.
func NewClaim(id image.ID, journal []byte, root trace.Digest, steps uint64) Claim {
	return Claim{
		Version:       ClaimVersion,
		ImageID:       id.String(),
		JournalDigest: JournalDigest(journal),
		TraceRoot:     root.String(),
		Steps:         steps,
		ExitCode:      0,
	}
}

// Canonical returns the RFC 8785 encoding of the claim.
func (c Claim) Canonical() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("claim: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("claim: canonicalize: %w", err)
	}
	return out, nil
}

// Digest hashes the canonical encoding.
func (c Claim) Digest() ([sha256.Size]byte, error) {
	b, err := c.Canonical()
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(b), nil
}
