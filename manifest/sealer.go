package manifest

import (
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"

	npcbor "github.com/only-cliches/go-noproto/cbor"
)

// Sealer signs manifests as COSE Sign1 messages. The issuer is carried in
// the protected header so a consumer knows which key directory to consult.
type Sealer struct {
	issuer string
	codec  npcbor.Codec
}

const headerLabelIssuer = "iss"

// NewSealer returns a sealer publishing under the given issuer identity.
func NewSealer(issuer string, codec npcbor.Codec) Sealer {
	return Sealer{issuer: issuer, codec: codec}
}

// Sign1 seals the manifest with the provided signer. keyIdentifier names the
// key within the issuer's directory; external is optional additional
// authenticated data mixed into the signature.
func (s Sealer) Sign1(signer cose.Signer, keyIdentifier string, m Manifest, external []byte) ([]byte, error) {
	payload, err := m.Encode(s.codec)
	if err != nil {
		return nil, err
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: signer.Algorithm(),
				cose.HeaderLabelKeyID:     []byte(keyIdentifier),
				headerLabelIssuer:         s.issuer,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, external, signer); err != nil {
		return nil, err
	}
	return msg.MarshalCBOR()
}

// VerifySealed checks the seal and returns the manifest it carries.
func VerifySealed(codec npcbor.Codec, sealed []byte, verifier cose.Verifier, external []byte) (Manifest, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(sealed); err != nil {
		return Manifest{}, fmt.Errorf("%v: %w", err, ErrManifestInvalid)
	}
	if err := msg.Verify(external, verifier); err != nil {
		return Manifest{}, fmt.Errorf("%v: %w", err, ErrSealVerify)
	}
	return Decode(codec, msg.Payload)
}

// SealedIssuer reads the issuer header of a sealed manifest without
// verifying it, so callers can locate the right public key first.
func SealedIssuer(sealed []byte) (string, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(sealed); err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrManifestInvalid)
	}
	iss, ok := msg.Headers.Protected[headerLabelIssuer].(string)
	if !ok {
		return "", fmt.Errorf("sealed manifest names no issuer: %w", ErrManifestInvalid)
	}
	return iss, nil
}
