package receipt

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed receipt.schema.json
var schemaJSON string

const schemaURL = "https://zkbench.schemas.local/receipt.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func fileSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader([]byte(schemaJSON))); err != nil {
			schemaErr = fmt.Errorf("receipt schema load failed: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

type fileSeal struct {
	Scheme string `json:"scheme"`
	Bytes  string `json:"bytes"`
}

type fileReceipt struct {
	Version string   `json:"version"`
	ImageID string   `json:"image_id"`
	Journal string   `json:"journal"`
	Seal    fileSeal `json:"seal"`
}

// Encode renders r in the receipt file format.
func Encode(r *Receipt) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.MarshalIndent(fileReceipt{
		Version: r.Version,
		ImageID: r.ImageID.String(),
		Journal: base64.StdEncoding.EncodeToString(r.Journal),
		Seal: fileSeal{
			Scheme: r.Seal.Scheme,
			Bytes:  base64.StdEncoding.EncodeToString(r.Seal.Bytes),
		},
	}, "", "  ")
}

// Decode parses and schema-validates a receipt file. Every failure wraps
// ErrMalformed.
func Decode(data []byte) (*Receipt, error) {
	s, err := fileSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var fr fileReceipt
	if err := json.Unmarshal(data, &fr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id, err := image.ParseID(fr.ImageID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	journal, err := base64.StdEncoding.DecodeString(fr.Journal)
	if err != nil {
		return nil, fmt.Errorf("%w: journal: %v", ErrMalformed, err)
	}
	seal, err := base64.StdEncoding.DecodeString(fr.Seal.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: seal: %v", ErrMalformed, err)
	}
	r := &Receipt{
		Version: fr.Version,
		ImageID: id,
		Journal: nonNil(journal),
		Seal:    Seal{Scheme: fr.Seal.Scheme, Bytes: seal},
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// WriteFile encodes r to path.
func WriteFile(path string, r *Receipt) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	//nolint:gosec // G306: receipts are public attestations
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

// ReadFile decodes the receipt stored at path.
func ReadFile(path string) (*Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read receipt: %w", err)
	}
	return Decode(data)
}
