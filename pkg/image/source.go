package image

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// SourceHashPrefix prefixes rendered source hashes.
const SourceHashPrefix = "blake2b:"

// ErrInvalidSource is returned for a Source that names neither a directory
// nor a prebuilt module, or both.
var ErrInvalidSource = errors.New("image: invalid source")

// Source names a guest program. Exactly one of Dir (a Go main package built
// by a Toolchain) or Path (a prebuilt .wasm file) is set.
//
// Include lists further files or directories whose contents affect the
// build, such as shared packages the guest imports or the module's go.mod.
type Source struct {
	Name    string   `json:"name" yaml:"name"`
	Dir     string   `json:"dir,omitempty" yaml:"dir,omitempty"`
	Path    string   `json:"path,omitempty" yaml:"path,omitempty"`
	Include []string `json:"include,omitempty" yaml:"include,omitempty"`
}

// Validate checks that the source is well-formed.
func (s Source) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSource)
	case s.Dir == "" && s.Path == "":
		return fmt.Errorf("%w: %s: one of dir or path is required", ErrInvalidSource, s.Name)
	case s.Dir != "" && s.Path != "":
		return fmt.Errorf("%w: %s: dir and path are mutually exclusive", ErrInvalidSource, s.Name)
	}
	return nil
}

// Prebuilt reports whether the source is an existing .wasm file.
func (s Source) Prebuilt() bool { return s.Path != "" }

// Hash digests the contents of the source. Only relative paths and file
// bytes contribute; absolute locations and modification times do not.
func (s Source) Hash() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	h, _ := blake2b.New256(nil)

	if s.Prebuilt() {
		writeField(h, "wasm")
		if err := hashFile(h, "module.wasm", s.Path); err != nil {
			return "", err
		}
	} else {
		writeField(h, "go")
		if err := hashTree(h, "", s.Dir); err != nil {
			return "", err
		}
	}
	for i, inc := range s.Include {
		if err := hashTree(h, fmt.Sprintf("include/%d/", i), inc); err != nil {
			return "", err
		}
	}
	return SourceHashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

func hashTree(h hash.Hash, prefix, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("hash source: %w", err)
	}
	if !info.IsDir() {
		return hashFile(h, prefix+filepath.Base(root), root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hash source: %w", err)
	}

	rels := make(map[string]string, len(files))
	keys := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			return fmt.Errorf("hash source: %w", err)
		}
		key := prefix + filepath.ToSlash(rel)
		rels[key] = f
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := hashFile(h, k, rels[k]); err != nil {
			return err
		}
	}
	return nil
}

func hashFile(h hash.Hash, rel, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("hash source: %w", err)
	}
	writeField(h, rel)
	writeField(h, string(data))
	return nil
}

func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
