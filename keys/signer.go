package keys

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/getwalmarket/walmarket/canon"
)

// Scheme names a signature algorithm. It is recorded in the attestation
// statement so verifiers know how to check the proof signature.
type Scheme string

const (
	SchemeECDSAP256  Scheme = "ecdsa-p256"
	SchemeEd25519    Scheme = "ed25519"
	SchemeSecp256k1  Scheme = "secp256k1"
	SchemeDilithium3 Scheme = "dilithium3"
)

// SeedSize is the length of the seeds accepted by NewSigner.
const SeedSize = 32

// Signer signs report digests.
type Signer interface {
	Scheme() Scheme
	PublicKey() []byte
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

// ParseScheme validates a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeECDSAP256, SchemeEd25519, SchemeSecp256k1, SchemeDilithium3:
		return Scheme(s), nil
	default:
		return "", fmt.Errorf("unsupported signature scheme: %q", s)
	}
}

// NewSigner returns a deterministic signer for scheme derived from a 32-byte seed.
func NewSigner(scheme Scheme, seed []byte) (Signer, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("expected seed length of %d bytes, got %d", SeedSize, len(seed))
	}
	switch scheme {
	case SchemeECDSAP256:
		return NewP256SignerFromSeed(seed)
	case SchemeEd25519:
		return NewEd25519Signer(seed), nil
	case SchemeSecp256k1:
		return NewSecp256k1SignerFromSeed(seed)
	case SchemeDilithium3:
		return NewDilithium3Signer(seed), nil
	default:
		return nil, fmt.Errorf("unsupported signature scheme: %q", scheme)
	}
}

// GenerateSeed reads a fresh seed from rand.
func GenerateSeed(rand io.Reader) ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// Verify checks sig over digest under pub for scheme. It returns false for any
// malformed input and never panics.
func Verify(scheme Scheme, digest, sig, pub []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if len(digest) != sha256.Size || len(sig) == 0 || len(pub) == 0 {
		return false
	}
	switch scheme {
	case SchemeECDSAP256:
		return verifyP256(digest, sig, pub)
	case SchemeEd25519:
		return verifyEd25519(digest, sig, pub)
	case SchemeSecp256k1:
		return verifySecp256k1(digest, sig, pub)
	case SchemeDilithium3:
		return verifyDilithium3(digest, sig, pub)
	default:
		return false
	}
}

// KeyID renders a public key as "<scheme>:0x<hex>".
func KeyID(scheme Scheme, pub []byte) string {
	return string(scheme) + ":" + canon.FormatHex(pub)
}

func checkDigest(digest []byte) error {
	if len(digest) != sha256.Size {
		return fmt.Errorf("digest must be %d bytes, got %d", sha256.Size, len(digest))
	}
	return nil
}
