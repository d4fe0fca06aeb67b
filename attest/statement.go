package attest

import (
	"bytes"
	"encoding/json"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
)

const (
	StatementVersion = 1

	TypeSimulated = "simulated"
	TypeHardware  = "hardware"

	StatusOK = "OK"
)

// Statement is the attestation carried in a proof. In simulated deployments
// it is produced by the builder itself and is marked as such.
type Statement struct {
	Version         int         `json:"version"`
	Type            string      `json:"type"`
	EnclaveID       string      `json:"enclave_id"`
	MREnclave       string      `json:"mrenclave"`
	MRSigner        string      `json:"mrsigner"`
	SignatureScheme keys.Scheme `json:"signature_scheme"`
	ReportData      string      `json:"report_data"`
	Timestamp       int64       `json:"timestamp"`
	Status          string      `json:"status"`
}

// Encode returns the 0x-hex of the statement's canonical JSON.
func (s Statement) Encode() (string, error) {
	b, err := canon.Canonicalize(s)
	if err != nil {
		return "", err
	}
	return canon.FormatHex(b), nil
}

// DecodeStatement reverses Statement.Encode.
func DecodeStatement(att string) (*Statement, error) {
	raw, err := canon.ParseHex(att)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-PROOF-020", "attestation is not 0x hex", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var s Statement
	if err := dec.Decode(&s); err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-PROOF-021", "attestation is not a statement", err)
	}
	return &s, nil
}

// SignerMeasurement is the mrsigner value for a public key.
func SignerMeasurement(pub []byte) string {
	return canon.HashBytes(pub)
}
