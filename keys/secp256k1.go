package keys

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Secp256k1Signer produces 65-byte [R || S || V] signatures (V in {0,1}) over
// the raw digest, recoverable by ecrecover-style verifiers.
type Secp256k1Signer struct {
	priv *ecdsa.PrivateKey
}

func GenerateSecp256k1Signer() (*Secp256k1Signer, error) {
	priv, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Secp256k1Signer{priv: priv}, nil
}

// NewSecp256k1SignerFromSeed derives the key from seed, rehashing until the
// scalar falls inside the curve order.
func NewSecp256k1SignerFromSeed(seed []byte) (*Secp256k1Signer, error) {
	candidate := seed
	for i := 0; i < 8; i++ {
		h := sha256.New()
		_, _ = h.Write([]byte("walmarket-secp256k1-seed-v1"))
		_, _ = h.Write([]byte{0, byte(i)})
		_, _ = h.Write(candidate)
		priv, err := gethcrypto.ToECDSA(h.Sum(nil))
		if err == nil {
			return &Secp256k1Signer{priv: priv}, nil
		}
	}
	return nil, fmt.Errorf("secp256k1: could not derive key from seed")
}

func (s *Secp256k1Signer) Scheme() Scheme { return SchemeSecp256k1 }

// PublicKey returns the 33-byte compressed public key.
func (s *Secp256k1Signer) PublicKey() []byte {
	return gethcrypto.CompressPubkey(&s.priv.PublicKey)
}

// Address is the EVM address of the signing key.
func (s *Secp256k1Signer) Address() common.Address {
	return gethcrypto.PubkeyToAddress(s.priv.PublicKey)
}

func (s *Secp256k1Signer) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	return gethcrypto.Sign(digest, s.priv)
}

func verifySecp256k1(digest, sig, pub []byte) bool {
	if len(sig) != gethcrypto.SignatureLength {
		return false
	}
	if !gethcrypto.VerifySignature(pub, digest, sig[:64]) {
		return false
	}
	recovered, err := gethcrypto.SigToPub(digest, sig)
	if err != nil {
		return false
	}
	want, err := decompressSecp256k1(pub)
	if err != nil {
		return false
	}
	return bytes.Equal(gethcrypto.FromECDSAPub(recovered), gethcrypto.FromECDSAPub(want))
}

func decompressSecp256k1(pub []byte) (*ecdsa.PublicKey, error) {
	if len(pub) == 33 {
		return gethcrypto.DecompressPubkey(pub)
	}
	return gethcrypto.UnmarshalPubkey(pub)
}
