package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"math/big"
)

// P256Signer is the simulated enclave signer: prehashed ECDSA over P-256 with
// ASN.1 DER signatures. Public keys are SEC1 compressed points.
type P256Signer struct {
	priv *ecdsa.PrivateKey
	pub  []byte
	rand io.Reader
}

// GenerateP256Signer creates a signer with a fresh key.
func GenerateP256Signer(r io.Reader) (*P256Signer, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), r)
	if err != nil {
		return nil, err
	}
	return newP256Signer(priv), nil
}

// NewP256SignerFromSeed derives the private scalar from seed.
func NewP256SignerFromSeed(seed []byte) (*P256Signer, error) {
	curve := elliptic.P256()
	n1 := new(big.Int).Sub(curve.Params().N, big.NewInt(1))

	h := sha256.New()
	_, _ = h.Write([]byte("walmarket-p256-seed-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(seed)
	d := new(big.Int).SetBytes(h.Sum(nil))
	d.Mod(d, n1)
	d.Add(d, big.NewInt(1))

	priv := &ecdsa.PrivateKey{D: d}
	priv.PublicKey.Curve = curve
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.FillBytes(make([]byte, 32)))
	if priv.PublicKey.X == nil {
		return nil, errors.New("p256: invalid derived key")
	}
	return newP256Signer(priv), nil
}

func newP256Signer(priv *ecdsa.PrivateKey) *P256Signer {
	return &P256Signer{
		priv: priv,
		pub:  elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y),
		rand: rand.Reader,
	}
}

func (s *P256Signer) Scheme() Scheme { return SchemeECDSAP256 }

func (s *P256Signer) PublicKey() []byte { return append([]byte(nil), s.pub...) }

func (s *P256Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	return ecdsa.SignASN1(s.rand, s.priv, digest)
}

func verifyP256(digest, sig, pub []byte) bool {
	pk, err := parseP256PublicKey(pub)
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1(pk, digest, sig)
}

func parseP256PublicKey(pub []byte) (*ecdsa.PublicKey, error) {
	curve := elliptic.P256()
	var x, y *big.Int
	switch len(pub) {
	case 33:
		x, y = elliptic.UnmarshalCompressed(curve, pub)
	case 65:
		x, y = elliptic.Unmarshal(curve, pub)
	}
	if x == nil {
		return nil, errors.New("p256: invalid public key encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
