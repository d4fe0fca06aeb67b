package attest

import (
	"crypto/rand"
	"io"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

// NonceSize is the number of random bytes in a proof nonce.
const NonceSize = 32

// NonceSource yields fresh proof nonces. Implementations must be safe for
// concurrent use.
type NonceSource interface {
	Nonce() (string, error)
}

// RandomNonces reads nonces from Reader, or crypto/rand when Reader is nil.
type RandomNonces struct {
	Reader io.Reader
}

func (r RandomNonces) Nonce() (string, error) {
	src := r.Reader
	if src == nil {
		src = rand.Reader
	}
	b := make([]byte, NonceSize)
	if _, err := io.ReadFull(src, b); err != nil {
		return "", oracle.WrapError(oracle.KindInternal, "ORACLE-PROOF-001", "nonce generation failed", err)
	}
	return canon.FormatHex(b), nil
}
