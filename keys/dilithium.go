package keys

import (
	"context"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Dilithium3Signer is the post-quantum signer.
type Dilithium3Signer struct {
	pk *mode3.PublicKey
	sk *mode3.PrivateKey
}

func NewDilithium3Signer(seed []byte) *Dilithium3Signer {
	var s [mode3.SeedSize]byte
	copy(s[:], seed)
	pk, sk := mode3.NewKeyFromSeed(&s)
	return &Dilithium3Signer{pk: pk, sk: sk}
}

// GenerateDilithium3Signer returns a signer with a fresh keypair.
func GenerateDilithium3Signer(rand io.Reader) (*Dilithium3Signer, error) {
	pk, sk, err := mode3.GenerateKey(rand)
	if err != nil {
		return nil, err
	}
	return &Dilithium3Signer{pk: pk, sk: sk}, nil
}

func (s *Dilithium3Signer) Scheme() Scheme { return SchemeDilithium3 }

func (s *Dilithium3Signer) PublicKey() []byte { return s.pk.Bytes() }

func (s *Dilithium3Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(s.sk, digest, sig)
	return sig, nil
}

func verifyDilithium3(digest, sig, pub []byte) bool {
	if len(pub) != mode3.PublicKeySize || len(sig) != mode3.SignatureSize {
		return false
	}
	var pk mode3.PublicKey
	if err := pk.UnmarshalBinary(pub); err != nil {
		return false
	}
	return mode3.Verify(&pk, digest, sig)
}
