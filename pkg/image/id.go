// Package image builds guest images and identifies them by content.
package image

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// IDPrefix is the algorithm prefix of a rendered ID. It matches the hash
// format of the artifact store, so image bytes are stored under their ID.
const IDPrefix = "sha256:"

// ID is the SHA-256 digest of normalized image bytes.
type ID [sha256.Size]byte

// ErrInvalidID is returned when an ID string cannot be parsed.
var ErrInvalidID = errors.New("image: invalid image id")

// ComputeID hashes already-normalized image bytes.
func ComputeID(normalized []byte) ID {
	return ID(sha256.Sum256(normalized))
}

// ParseID accepts "sha256:<hex>" or a bare 64-character hex digest.
func ParseID(s string) (ID, error) {
	var id ID
	h := strings.TrimPrefix(strings.TrimSpace(s), IDPrefix)
	if len(h) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	if _, err := hex.Decode(id[:], []byte(h)); err != nil {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return id, nil
}

func (id ID) String() string {
	return IDPrefix + hex.EncodeToString(id[:])
}

// Hex returns the digest without prefix.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
