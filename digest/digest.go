// Package digest builds the report digest that the enclave key signs.
//
// The preimage is a sequence of length-prefixed fields:
//
//	u64be(len(tag)) || tag || for each field: u64be(len(field)) || field
//
// in the order h_in, h_out, blob_id, blob_hash, timestamp, nonce, enclave_id,
// mrenclave. The timestamp field is its 8-byte big-endian encoding. Any
// verifier (including on-chain code) must reproduce this layout exactly.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

// DomainTag separates report digests from every other signed payload.
const DomainTag = "walmarket/report-digest/v1"

// Size is the digest length in bytes.
const Size = sha256.Size

// Fields are the digest inputs, taken verbatim as they appear in the proof.
type Fields struct {
	HIn       string
	HOut      string
	BlobID    string
	BlobHash  string
	Timestamp int64
	Nonce     string
	EnclaveID string
	MREnclave string
}

// FieldsFromProof copies the digest inputs out of a proof.
func FieldsFromProof(p oracle.Proof) Fields {
	return Fields{
		HIn:       p.HIn,
		HOut:      p.HOut,
		BlobID:    p.BlobID,
		BlobHash:  p.BlobHash,
		Timestamp: p.Timestamp,
		Nonce:     p.Nonce,
		EnclaveID: p.EnclaveID,
		MREnclave: p.MREnclave,
	}
}

// Encode returns the framed preimage.
func Encode(f Fields) []byte {
	var buf bytes.Buffer
	writeFramed(&buf, []byte(DomainTag))
	writeFramed(&buf, []byte(f.HIn))
	writeFramed(&buf, []byte(f.HOut))
	writeFramed(&buf, []byte(f.BlobID))
	writeFramed(&buf, []byte(f.BlobHash))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(f.Timestamp))
	writeFramed(&buf, ts[:])

	writeFramed(&buf, []byte(f.Nonce))
	writeFramed(&buf, []byte(f.EnclaveID))
	writeFramed(&buf, []byte(f.MREnclave))
	return buf.Bytes()
}

// Build returns sha256 of the framed preimage.
func Build(f Fields) [Size]byte {
	return sha256.Sum256(Encode(f))
}

// Digest is shorthand for Build(f).
func (f Fields) Digest() [Size]byte {
	return Build(f)
}

// Hex renders a digest in 0x form.
func Hex(d [Size]byte) string {
	return canon.FormatHex(d[:])
}

func writeFramed(buf *bytes.Buffer, b []byte) {
	var l [8]byte
	binary.BigEndian.PutUint64(l[:], uint64(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}
