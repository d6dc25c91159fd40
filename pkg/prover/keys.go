package prover

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Signer holds an Ed25519 attestation key.
type Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	KeyID   string
}

// GenerateSigner creates a fresh key.
func GenerateSigner(keyID string) (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Signer{privKey: priv, pubKey: pub, KeyID: keyID}, nil
}

// NewSignerFromSeed derives a key from a 32-byte seed.
func NewSignerFromSeed(seed []byte, keyID string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Signer{privKey: priv, pubKey: priv.Public().(ed25519.PublicKey), KeyID: keyID}, nil
}

func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.privKey, msg)
}

func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pubKey
}

// KeyRing holds the public keys a verifier trusts, by key ID.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[string]ed25519.PublicKey)}
}

// Add trusts pub under keyID.
func (k *KeyRing) Add(keyID string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("invalid public key size for %s", keyID)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[keyID] = append(ed25519.PublicKey(nil), pub...)
	return nil
}

// Revoke removes a key.
func (k *KeyRing) Revoke(keyID string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, keyID)
}

// Verify checks sig over msg with the key registered under keyID.
func (k *KeyRing) Verify(keyID string, msg, sig []byte) (bool, error) {
	k.mu.RLock()
	pub, ok := k.keys[keyID]
	k.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("unknown or revoked key: %s", keyID)
	}
	return ed25519.Verify(pub, msg, sig), nil
}

// KeyIDs lists trusted key IDs in sorted order.
func (k *KeyRing) KeyIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// keyFile is the on-disk key format. Seed is absent from public key files.
type keyFile struct {
	KeyID     string `json:"key_id"`
	PublicKey string `json:"public_key"`
	Seed      string `json:"seed,omitempty"`
}

// SaveKeyPair writes <dir>/<id>.key (private, 0600) and <dir>/<id>.pub.
func SaveKeyPair(dir string, s *Signer) (privPath, pubPath string, err error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("create key dir: %w", err)
	}
	pub := keyFile{KeyID: s.KeyID, PublicKey: hex.EncodeToString(s.pubKey)}
	priv := pub
	priv.Seed = hex.EncodeToString(s.privKey.Seed())

	privPath = filepath.Join(dir, s.KeyID+".key")
	pubPath = filepath.Join(dir, s.KeyID+".pub")
	if err := writeKeyFile(privPath, priv, 0o600); err != nil {
		return "", "", err
	}
	if err := writeKeyFile(pubPath, pub, 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}

func writeKeyFile(path string, kf keyFile, mode os.FileMode) error {
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

func readKeyFile(path string) (keyFile, error) {
	var kf keyFile
	data, err := os.ReadFile(path)
	if err != nil {
		return kf, fmt.Errorf("read key file: %w", err)
	}
	if err := json.Unmarshal(data, &kf); err != nil {
		return kf, fmt.Errorf("parse key file %s: %w", path, err)
	}
	if kf.KeyID == "" {
		return kf, fmt.Errorf("key file %s has no key_id", path)
	}
	return kf, nil
}

// LoadSigner reads a private key file.
func LoadSigner(path string) (*Signer, error) {
	kf, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	seed, err := hex.DecodeString(kf.Seed)
	if err != nil || kf.Seed == "" {
		return nil, fmt.Errorf("key file %s has no valid seed", path)
	}
	return NewSignerFromSeed(seed, kf.KeyID)
}

// LoadKeyRing trusts every public key in paths. A path may be a .pub/.key
// file or a directory, in which case its *.pub files are loaded.
func LoadKeyRing(paths ...string) (*KeyRing, error) {
	ring := NewKeyRing()
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("trusted keys: %w", err)
		}
		files := []string{p}
		if info.IsDir() {
			files, err = filepath.Glob(filepath.Join(p, "*.pub"))
			if err != nil {
				return nil, fmt.Errorf("trusted keys: %w", err)
			}
		}
		for _, f := range files {
			kf, err := readKeyFile(f)
			if err != nil {
				return nil, err
			}
			pub, err := hex.DecodeString(strings.TrimSpace(kf.PublicKey))
			if err != nil {
				return nil, fmt.Errorf("key file %s: invalid public key hex: %w", f, err)
			}
			if err := ring.Add(kf.KeyID, pub); err != nil {
				return nil, err
			}
		}
	}
	return ring, nil
}
