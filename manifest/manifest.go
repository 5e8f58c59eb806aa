// Package manifest packages a compiled schema with its identity for
// distribution: a CBOR container carrying name, version, the compiled
// schema bytes and the derived api hash, optionally sealed as a COSE Sign1
// message so consumers can verify who published it.
package manifest

import (
	"errors"
	"fmt"

	"github.com/only-cliches/go-noproto/cbor"
	"github.com/only-cliches/go-noproto/schema"
)

var (
	ErrManifestInvalid = errors.New("schema manifest is invalid")
	ErrSealVerify      = errors.New("the manifest seal signature verification failed")
)

// Manifest is the distributable description of one schema.
type Manifest struct {
	Name    string `cbor:"1,keyasint"`
	Version string `cbor:"2,keyasint"`
	// Schema is the compiled byte form; consumers reconstruct the tree with
	// schema.ParseCompiled.
	Schema []byte `cbor:"3,keyasint"`
	// APIHash binds the manifest to the rpc identity derived from Name and
	// Version, when the schema backs an api.
	APIHash uint64 `cbor:"4,keyasint,omitempty"`
	// Timestamp is the unix millisecond time the manifest was produced.
	Timestamp int64 `cbor:"5,keyasint,omitempty"`
}

// Encode serializes the manifest deterministically.
func (m Manifest) Encode(codec cbor.Codec) ([]byte, error) {
	if m.Name == "" || m.Version == "" || len(m.Schema) == 0 {
		return nil, fmt.Errorf("manifest requires name, version and schema: %w", ErrManifestInvalid)
	}
	if _, err := schema.ParseCompiled(m.Schema); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrManifestInvalid)
	}
	return codec.MarshalCBOR(m)
}

// Decode deserializes a manifest and re-validates the embedded schema.
func Decode(codec cbor.Codec, raw []byte) (Manifest, error) {
	var m Manifest
	if err := codec.UnmarshalCBOR(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("%v: %w", err, ErrManifestInvalid)
	}
	if len(m.Schema) == 0 {
		return Manifest{}, fmt.Errorf("manifest carries no schema: %w", ErrManifestInvalid)
	}
	if _, err := schema.ParseCompiled(m.Schema); err != nil {
		return Manifest{}, fmt.Errorf("%v: %w", err, ErrManifestInvalid)
	}
	return m, nil
}

// ParseSchema reconstructs the schema tree a manifest carries.
func (m Manifest) ParseSchema() (*schema.Schema, error) {
	return schema.ParseCompiled(m.Schema)
}
