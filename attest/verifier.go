package attest

import (
	"bytes"
	"context"
	"time"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/digest"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
)

// DefaultMaxSkew bounds how far a proof timestamp may drift from the verifier clock.
const DefaultMaxSkew = 5 * time.Minute

// Verifier checks proofs against a trusted enclave key.
type Verifier struct {
	Scheme    keys.Scheme
	PublicKey []byte
	// EnclaveID and MREnclave, when set, must match the proof.
	EnclaveID string
	MREnclave string
	// MaxSkew <= 0 uses DefaultMaxSkew.
	MaxSkew time.Duration
	// Replay may be nil to skip replay detection.
	Replay ReplayRegistry
	Clock  func() time.Time
	// RequireHardware rejects simulated statements.
	RequireHardware bool
}

// Verify checks the proof in this order: statement binding, signature,
// timestamp skew, nonce replay. The nonce is only recorded once every other
// check has passed.
func (v *Verifier) Verify(ctx context.Context, p *oracle.Proof) error {
	if p == nil {
		return oracle.NewError(oracle.KindValidation, "ORACLE-PROOF-010", "missing proof")
	}
	if len(v.PublicKey) == 0 {
		return oracle.NewError(oracle.KindInternal, "ORACLE-PROOF-011", "verifier has no trusted public key")
	}

	d := digest.Build(digest.FieldsFromProof(*p))

	st, err := DecodeStatement(p.Attestation)
	if err != nil {
		return err
	}
	if st.ReportData != digest.Hex(d) {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-022", "attestation report_data does not bind the report digest")
	}
	if st.EnclaveID != p.EnclaveID || st.MREnclave != p.MREnclave || st.Timestamp != p.Timestamp {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-023", "attestation does not match proof enclave identity")
	}
	if st.SignatureScheme != v.Scheme {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-024", "unexpected signature scheme "+string(st.SignatureScheme))
	}
	if st.MRSigner != SignerMeasurement(v.PublicKey) {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-025", "attestation mrsigner does not match trusted key")
	}
	if v.RequireHardware && st.Type != TypeHardware {
		return oracle.NewError(oracle.KindValidation, "ORACLE-PROOF-026", "simulated attestation not accepted")
	}
	if v.EnclaveID != "" && v.EnclaveID != p.EnclaveID {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-027", "untrusted enclave id "+p.EnclaveID)
	}
	if v.MREnclave != "" && v.MREnclave != p.MREnclave {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-028", "untrusted mrenclave "+p.MREnclave)
	}

	pub, err := canon.ParseHex(p.EnclavePubKey)
	if err != nil || !bytes.Equal(pub, v.PublicKey) {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-012", "proof enclave_pubkey is not the trusted key")
	}
	sig, err := canon.ParseHex(p.Signature)
	if err != nil {
		return oracle.WrapError(oracle.KindSignatureInvalid, "ORACLE-PROOF-013", "malformed signature", err)
	}
	if !keys.Verify(v.Scheme, d[:], sig, v.PublicKey) {
		return oracle.NewError(oracle.KindSignatureInvalid, "ORACLE-PROOF-014", "signature does not verify over report digest")
	}

	now := time.Now
	if v.Clock != nil {
		now = v.Clock
	}
	maxSkew := v.MaxSkew
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	skew := now().Sub(time.Unix(p.Timestamp, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return oracle.NewError(oracle.KindValidation, "ORACLE-PROOF-030", "proof timestamp outside allowed clock skew")
	}

	if v.Replay != nil {
		fresh, err := v.Replay.Claim(ctx, p.Nonce, 2*maxSkew)
		if err != nil {
			return oracle.WrapError(oracle.KindStorageUnavailable, "ORACLE-PROOF-031", "replay registry unavailable", err)
		}
		if !fresh {
			return oracle.NewError(oracle.KindValidation, "ORACLE-PROOF-REPLAY", "nonce already seen")
		}
	}
	return nil
}
