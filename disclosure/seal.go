// Package disclosure splits oracle evidence into a public summary and a
// threshold-gated encrypted container for premium subscribers.
package disclosure

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cloudflare/circl/group"
	"github.com/cloudflare/circl/secretsharing"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

const (
	// Tag prefixes every container.
	Tag = "SEAL_ENC_V2:"
	// legacyTag marks the unauthenticated v1 format, which is refused.
	legacyTag = "SEAL_ENC_V1:"

	Method = "Shamir-Ristretto255/HKDF-SHA256/XChaCha20-Poly1305"

	kdfLabel = "walmarket/disclosure/v2"
)

var suite = group.Ristretto255

// KeyShare is one key server's share of the data key.
type KeyShare struct {
	Server string `json:"server"`
	ID     string `json:"id"`
	Value  string `json:"value"`
}

type Metadata struct {
	PackageID        string   `json:"seal_package_id"`
	PolicyID         string   `json:"seal_policy_id"`
	Threshold        int      `json:"threshold"`
	KeyServers       []string `json:"key_servers"`
	EncryptedSize    int      `json:"encrypted_size_bytes"`
	OriginalSize     int      `json:"original_size_bytes"`
	Method           string   `json:"encryption_method"`
	ContentHash      string   `json:"content_hash"`
	ShareCommitments []string `json:"share_commitments"`
}

// Package is the public output of Encrypt.
type Package struct {
	PublicSummary map[string]any `json:"public_summary"`
	EncryptedBlob []byte         `json:"encrypted_blob"`
	PolicyID      string         `json:"policy_id"`
	Metadata      Metadata       `json:"metadata"`
}

// Encryptor seals evidence. The zero value reads randomness from crypto/rand.
type Encryptor struct {
	Rand io.Reader
}

func (e Encryptor) rand() io.Reader {
	if e.Rand != nil {
		return e.Rand
	}
	return rand.Reader
}

// Encrypt seals evidence for contextID (the market id) under policy and
// returns the package plus one share per key server.
func (e Encryptor) Encrypt(evidence any, contextID string, policy Policy) (*Package, []KeyShare, error) {
	if err := policy.Validate(); err != nil {
		return nil, nil, err
	}
	contentHash, err := canon.Hash(evidence)
	if err != nil {
		return nil, nil, err
	}
	// Sealed bytes keep number literals as written so Decrypt returns the
	// evidence unchanged; ContentHash covers its canonical form.
	plaintext, err := json.Marshal(evidence)
	if err != nil {
		return nil, nil, oracle.WrapError(oracle.KindValidation, "ORACLE-SEAL-013", "evidence is not JSON-representable", err)
	}

	secret := suite.RandomScalar(e.rand())
	ss := secretsharing.New(e.rand(), uint(policy.Threshold-1), secret)
	raw := ss.Share(uint(len(policy.KeyServers)))

	shares := make([]KeyShare, len(raw))
	for i, s := range raw {
		id, err := s.ID.MarshalBinary()
		if err != nil {
			return nil, nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-020", "encode share id", err)
		}
		val, err := s.Value.MarshalBinary()
		if err != nil {
			return nil, nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-020", "encode share value", err)
		}
		shares[i] = KeyShare{Server: policy.KeyServers[i], ID: canon.FormatHex(id), Value: canon.FormatHex(val)}
	}

	commitments := make([]string, 0, policy.Threshold)
	for _, c := range ss.CommitSecret() {
		b, err := c.MarshalBinary()
		if err != nil {
			return nil, nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-020", "encode share commitment", err)
		}
		commitments = append(commitments, canon.FormatHex(b))
	}

	aead, err := newAEAD(secret, policy.ID, contextID)
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(e.rand(), nonce); err != nil {
		return nil, nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-021", "nonce generation failed", err)
	}

	blob := make([]byte, 0, len(Tag)+len(nonce)+len(plaintext)+aead.Overhead())
	blob = append(blob, Tag...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, plaintext, additionalData(policy.ID, contextID))

	pkg := &Package{
		PublicSummary: Summary(plaintext, contextID),
		EncryptedBlob: blob,
		PolicyID:      policy.ID,
		Metadata: Metadata{
			PackageID:        policy.PackageID,
			PolicyID:         policy.ID,
			Threshold:        policy.Threshold,
			KeyServers:       append([]string(nil), policy.KeyServers...),
			EncryptedSize:    len(blob),
			OriginalSize:     len(plaintext),
			Method:           Method,
			ContentHash:      contentHash,
			ShareCommitments: commitments,
		},
	}
	return pkg, shares, nil
}

// Decrypt recovers the evidence from blob. At least policy.Threshold distinct,
// well-formed shares are required.
func Decrypt(blob []byte, contextID string, policy Policy, shares []KeyShare) (any, error) {
	plaintext, err := open(blob, contextID, policy, parseShares(shares))
	if err != nil {
		return nil, err
	}
	return decodeEvidence(plaintext)
}

// Open decrypts a package, discarding shares that fail the package's share
// commitments, and checks the recovered evidence against the content hash.
func Open(pkg *Package, contextID string, policy Policy, shares []KeyShare) (any, error) {
	if pkg == nil {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-001", "missing package")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	parsed := parseShares(shares)
	if len(pkg.Metadata.ShareCommitments) > 0 {
		commitments, err := parseCommitments(pkg.Metadata.ShareCommitments)
		if err != nil {
			return nil, err
		}
		verified := parsed[:0]
		for _, s := range parsed {
			if secretsharing.Verify(uint(policy.Threshold-1), s, commitments) {
				verified = append(verified, s)
			}
		}
		parsed = verified
	}
	plaintext, err := open(pkg.EncryptedBlob, contextID, policy, parsed)
	if err != nil {
		return nil, err
	}
	got, err := canon.Hash(json.RawMessage(plaintext))
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-031", "decrypted evidence is not JSON", err)
	}
	if got != pkg.Metadata.ContentHash {
		return nil, oracle.Mismatch("ORACLE-SEAL-030", pkg.Metadata.ContentHash, got)
	}
	return decodeEvidence(plaintext)
}

func open(blob []byte, contextID string, policy Policy, shares []secretsharing.Share) ([]byte, error) {
	if bytes.HasPrefix(blob, []byte(legacyTag)) {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-002", "legacy SEAL_ENC_V1 containers are not supported")
	}
	if !bytes.HasPrefix(blob, []byte(Tag)) {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-001", "unrecognized container format")
	}
	body := blob[len(Tag):]
	if len(body) < chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-SEAL-003", "container truncated")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if len(shares) < policy.Threshold {
		return nil, oracle.NewError(oracle.KindEncryptionPolicyViolation, "ORACLE-SEAL-101", "not enough valid key shares")
	}

	secret, err := secretsharing.Recover(uint(policy.Threshold-1), shares)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindEncryptionPolicyViolation, "ORACLE-SEAL-101", "key reconstruction failed", err)
	}
	aead, err := newAEAD(secret, policy.ID, contextID)
	if err != nil {
		return nil, err
	}
	nonce, ct := body[:chacha20poly1305.NonceSizeX], body[chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ct, additionalData(policy.ID, contextID))
	if err != nil {
		return nil, oracle.WrapError(oracle.KindEncryptionPolicyViolation, "ORACLE-SEAL-102", "container authentication failed", err)
	}
	return plaintext, nil
}

// parseShares decodes shares, dropping malformed entries and duplicate ids.
// Duplicates are detected on the decoded scalar, so differently spelled hex
// for the same id counts once.
func parseShares(in []KeyShare) []secretsharing.Share {
	out := make([]secretsharing.Share, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, ks := range in {
		idBytes, err := canon.ParseHex(ks.ID)
		if err != nil {
			continue
		}
		valBytes, err := canon.ParseHex(ks.Value)
		if err != nil {
			continue
		}
		id := suite.NewScalar()
		if err := id.UnmarshalBinary(idBytes); err != nil || id.IsZero() {
			continue
		}
		key, err := id.MarshalBinary()
		if err != nil || seen[string(key)] {
			continue
		}
		val := suite.NewScalar()
		if err := val.UnmarshalBinary(valBytes); err != nil {
			continue
		}
		seen[string(key)] = true
		out = append(out, secretsharing.Share{ID: id, Value: val})
	}
	return out
}

func parseCommitments(in []string) (secretsharing.SecretCommitment, error) {
	out := make(secretsharing.SecretCommitment, 0, len(in))
	for _, c := range in {
		b, err := canon.ParseHex(c)
		if err != nil {
			return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-SEAL-004", "malformed share commitment", err)
		}
		el := suite.NewElement()
		if err := el.UnmarshalBinary(b); err != nil {
			return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-SEAL-004", "malformed share commitment", err)
		}
		out = append(out, el)
	}
	return out, nil
}

func newAEAD(secret group.Scalar, policyID, contextID string) (cipher.AEAD, error) {
	ikm, err := secret.MarshalBinary()
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-022", "encode data key", err)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, ikm, nil, framed(kdfLabel, policyID, contextID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-022", "derive key", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-022", "init cipher", err)
	}
	return aead, nil
}

func additionalData(policyID, contextID string) []byte {
	return framed(Tag, policyID, contextID)
}

func framed(parts ...string) []byte {
	var buf bytes.Buffer
	var l [8]byte
	for _, p := range parts {
		binary.BigEndian.PutUint64(l[:], uint64(len(p)))
		buf.Write(l[:])
		buf.WriteString(p)
	}
	return buf.Bytes()
}

func decodeEvidence(plaintext []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(plaintext))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-SEAL-031", "decrypted evidence is not JSON", err)
	}
	return v, nil
}
