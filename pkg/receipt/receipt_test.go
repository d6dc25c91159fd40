package receipt

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/Real-JW/zkbench/pkg/image"
	"github.com/Real-JW/zkbench/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Receipt {
	return New(image.ComputeID([]byte("guest")), []byte{1, 2, 3}, Seal{Scheme: "dev", Bytes: []byte("seal")})
}

func TestNew_CopiesInputs(t *testing.T) {
	journal := []byte("out")
	seal := []byte("sig")
	r := New(image.ComputeID(nil), journal, Seal{Scheme: "x", Bytes: seal})
	journal[0] = 'X'
	seal[0] = 'X'
	assert.Equal(t, []byte("out"), r.Journal)
	assert.Equal(t, []byte("sig"), r.Seal.Bytes)
	assert.Equal(t, Version, r.Version)

	empty := New(image.ComputeID(nil), nil, Seal{Scheme: "x", Bytes: seal})
	assert.NotNil(t, empty.Journal)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, sample().Validate())

	var nilReceipt *Receipt
	assert.ErrorIs(t, nilReceipt.Validate(), ErrMalformed)

	tests := map[string]func(r *Receipt){
		"no version": func(r *Receipt) { r.Version = "" },
		"no image":   func(r *Receipt) { r.ImageID = image.ID{} },
		"no scheme":  func(r *Receipt) { r.Seal.Scheme = "" },
		"no seal":    func(r *Receipt) { r.Seal.Bytes = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := sample()
			mutate(r)
			assert.ErrorIs(t, r.Validate(), ErrMalformed)
		})
	}
}

func TestClaimDigest(t *testing.T) {
	id := image.ComputeID([]byte("guest"))
	var root trace.Digest
	root[0] = 7

	c := NewClaim(id, []byte("journal"), root, 1234)
	canon, err := c.Canonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"exit_code":0,"image_id":"`+id.String()+`","journal_digest":"`+JournalDigest([]byte("journal"))+`","steps":1234,"trace_root":"`+root.String()+`","version":"1"}`,
		string(canon))

	d1, err := c.Digest()
	require.NoError(t, err)
	d2, err := NewClaim(id, []byte("journal"), root, 1234).Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	variants := []Claim{
		NewClaim(image.ComputeID([]byte("other")), []byte("journal"), root, 1234),
		NewClaim(id, []byte("journaL"), root, 1234),
		NewClaim(id, []byte("journal"), trace.Digest{}, 1234),
		NewClaim(id, []byte("journal"), root, 1235),
	}
	for i, v := range variants {
		d, err := v.Digest()
		require.NoError(t, err)
		assert.NotEqual(t, d1, d, "variant %d", i)
	}
}

func TestFile_RoundTrip(t *testing.T) {
	r := sample()
	path := filepath.Join(t.TempDir(), "receipt.json")
	require.NoError(t, WriteFile(path, r))

	back, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	emptyJournal := New(r.ImageID, nil, r.Seal)
	data, err := Encode(emptyJournal)
	require.NoError(t, err)
	back, err = Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, back.Journal)
}

func TestDecode_Malformed(t *testing.T) {
	good, err := Encode(sample())
	require.NoError(t, err)

	cases := map[string]string{
		"not json":        `{{{`,
		"missing seal":    `{"version":"1.0.0","image_id":"sha256:` + strings.Repeat("a", 64) + `","journal":""}`,
		"bad image id":    strings.Replace(string(good), "sha256:", "md5:", 1),
		"extra field":     strings.Replace(string(good), `"version"`, `"extra": 1, "version"`, 1),
		"bad version":     strings.Replace(string(good), `"1.0.0"`, `"one"`, 1),
		"empty scheme":    strings.Replace(string(good), `"dev"`, `""`, 1),
		"journal not b64": strings.Replace(string(good), `"AQID"`, `"%%%"`, 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(doc))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecode_SchemaRejects(t *testing.T) {
	good, err := Encode(sample())
	require.NoError(t, err)

	// The schema runs before field decoding, so its keyword names the failure.
	cases := map[string]struct {
		doc     string
		keyword string
	}{
		"unknown top-level field": {
			doc:     strings.Replace(string(good), `"version"`, `"extra": 1, "version"`, 1),
			keyword: "additionalProperties",
		},
		"unknown seal field": {
			doc:     strings.Replace(string(good), `"scheme"`, `"kid": "k", "scheme"`, 1),
			keyword: "additionalProperties",
		},
		"numeric version": {
			doc:     strings.Replace(string(good), `"1.0.0"`, `1`, 1),
			keyword: "type",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tc.doc))
			require.ErrorIs(t, err, ErrMalformed)
			assert.Contains(t, err.Error(), tc.keyword)
		})
	}
}
