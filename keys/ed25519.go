package keys

import (
	"context"
	"crypto/ed25519"
)

// Ed25519Signer signs digests with a seed-derived Ed25519 key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

func NewEd25519Signer(seed []byte) *Ed25519Signer {
	return &Ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}
}

func (s *Ed25519Signer) Scheme() Scheme { return SchemeEd25519 }

func (s *Ed25519Signer) PublicKey() []byte {
	return append([]byte(nil), s.priv.Public().(ed25519.PublicKey)...)
}

func (s *Ed25519Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	return ed25519.Sign(s.priv, digest), nil
}

func verifyEd25519(digest, sig, pub []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}
