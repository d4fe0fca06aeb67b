// Package attest builds and verifies the signed proofs that bind a resolution
// report to its evidence blob.
package attest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/digest"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
)

// Inputs are the caller-supplied digest fields.
type Inputs struct {
	HIn      string
	HOut     string
	BlobID   string
	BlobHash string
}

// Builder assembles proofs. It is safe for concurrent use when its Signer and
// Nonces are.
type Builder struct {
	EnclaveID string
	MREnclave string
	Signer    keys.Signer
	Nonces    NonceSource
	Clock     func() time.Time
	// Hardware marks statements as produced inside an attested enclave.
	Hardware bool
	Logger   *zap.Logger
}

// Build draws a nonce and timestamp, signs the report digest and returns the
// proof together with the statement encoded in it.
func (b *Builder) Build(ctx context.Context, in Inputs) (*oracle.Proof, *Statement, error) {
	if b.Signer == nil {
		return nil, nil, oracle.NewError(oracle.KindInternal, "ORACLE-PROOF-002", "builder has no signer")
	}
	if b.EnclaveID == "" || b.MREnclave == "" {
		return nil, nil, oracle.NewError(oracle.KindInternal, "ORACLE-PROOF-003", "builder enclave identity is incomplete")
	}

	nonces := b.Nonces
	if nonces == nil {
		nonces = RandomNonces{}
	}
	nonce, err := nonces.Nonce()
	if err != nil {
		return nil, nil, err
	}
	now := time.Now
	if b.Clock != nil {
		now = b.Clock
	}

	fields := digest.Fields{
		HIn:       in.HIn,
		HOut:      in.HOut,
		BlobID:    in.BlobID,
		BlobHash:  in.BlobHash,
		Timestamp: now().Unix(),
		Nonce:     nonce,
		EnclaveID: b.EnclaveID,
		MREnclave: b.MREnclave,
	}
	d := digest.Build(fields)

	sig, err := b.Signer.Sign(ctx, d[:])
	if err != nil {
		return nil, nil, oracle.WrapError(oracle.KindInternal, "ORACLE-PROOF-004", "signing report digest failed", err)
	}
	pub := b.Signer.PublicKey()

	st := &Statement{
		Version:         StatementVersion,
		Type:            TypeSimulated,
		EnclaveID:       b.EnclaveID,
		MREnclave:       b.MREnclave,
		MRSigner:        SignerMeasurement(pub),
		SignatureScheme: b.Signer.Scheme(),
		ReportData:      digest.Hex(d),
		Timestamp:       fields.Timestamp,
		Status:          StatusOK,
	}
	if b.Hardware {
		st.Type = TypeHardware
	}
	att, err := st.Encode()
	if err != nil {
		return nil, nil, err
	}

	proof := &oracle.Proof{
		EnclaveID:     fields.EnclaveID,
		EnclavePubKey: canon.FormatHex(pub),
		MREnclave:     fields.MREnclave,
		Signature:     canon.FormatHex(sig),
		Attestation:   att,
		Timestamp:     fields.Timestamp,
		Nonce:         fields.Nonce,
		HIn:           fields.HIn,
		HOut:          fields.HOut,
		BlobID:        fields.BlobID,
		BlobHash:      fields.BlobHash,
	}
	if b.Logger != nil {
		b.Logger.Debug("proof built",
			zap.String("enclave_id", proof.EnclaveID),
			zap.String("scheme", string(st.SignatureScheme)),
			zap.String("report_data", st.ReportData),
			zap.Int64("timestamp", proof.Timestamp))
	}
	return proof, st, nil
}
