// Package cbor provides an opinionated deterministic CBOR codec used for
// schema manifests. Encoding options are pinned so that the same manifest
// always serializes to the same bytes, which is what makes signing them
// meaningful.
package cbor

import (
	"github.com/fxamacker/cbor/v2"
)

// NewDeterministicEncOpts returns the canonical encoding options: sorted
// map keys, shortest integer forms, no floating point shenanigans.
func NewDeterministicEncOpts() cbor.EncOptions {
	return cbor.CanonicalEncOptions()
}

// NewDeterministicDecOpts returns decode options matched to the encoder.
func NewDeterministicDecOpts() cbor.DecOptions {
	return cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
}

// Codec pairs validated encode and decode modes.
type Codec struct {
	encMode cbor.EncMode
	decMode cbor.DecMode
}

// NewCodec builds a codec from explicit options.
func NewCodec(encOpts cbor.EncOptions, decOpts cbor.DecOptions) (Codec, error) {
	encMode, err := encOpts.EncMode()
	if err != nil {
		return Codec{}, err
	}
	decMode, err := decOpts.DecMode()
	if err != nil {
		return Codec{}, err
	}
	return Codec{encMode: encMode, decMode: decMode}, nil
}

// NewDeterministicCodec builds the default deterministic codec.
func NewDeterministicCodec() (Codec, error) {
	return NewCodec(NewDeterministicEncOpts(), NewDeterministicDecOpts())
}

func (c Codec) MarshalCBOR(v any) ([]byte, error) {
	return c.encMode.Marshal(v)
}

func (c Codec) UnmarshalCBOR(b []byte, v any) error {
	return c.decMode.Unmarshal(b, v)
}
