package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"hash/crc32"

	kms "cloud.google.com/go/kms/apiv1"
	kmspb "cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// KMSClient is the subset of the Cloud KMS client used for signing.
// *kms.KeyManagementClient satisfies it.
type KMSClient interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
}

// KMSSigner signs with an EC_SIGN_P256_SHA256 key version held in Cloud KMS.
// Signatures are ASN.1 DER and verify under SchemeECDSAP256.
type KMSSigner struct {
	client  KMSClient
	keyName string
	pub     *ecdsa.PublicKey
	pubEnc  []byte
}

// NewKMSSigner fetches the public key of keyName (a full cryptoKeyVersions
// resource name) once and returns a signer bound to it.
func NewKMSSigner(ctx context.Context, client KMSClient, keyName string) (*KMSSigner, error) {
	if client == nil {
		return nil, errors.New("kms: nil client")
	}
	if keyName == "" {
		return nil, errors.New("kms: key name is required")
	}
	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{Name: keyName})
	if err != nil {
		return nil, fmt.Errorf("kms GetPublicKey failed: %w", err)
	}
	if resp.GetAlgorithm() != kmspb.CryptoKeyVersion_EC_SIGN_P256_SHA256 {
		return nil, fmt.Errorf("kms: unsupported key algorithm %s", resp.GetAlgorithm())
	}
	block, _ := pem.Decode([]byte(resp.GetPem()))
	if block == nil {
		return nil, errors.New("kms: public key is not PEM encoded")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("kms: parse public key: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, errors.New("kms: public key is not a P-256 key")
	}
	return &KMSSigner{
		client:  client,
		keyName: keyName,
		pub:     pub,
		pubEnc:  elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y),
	}, nil
}

// DialKMSSigner connects to Cloud KMS with ambient credentials. The returned
// close function releases the client connection.
func DialKMSSigner(ctx context.Context, keyName string) (*KMSSigner, func() error, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create GCP KMS client: %w", err)
	}
	s, err := NewKMSSigner(ctx, client, keyName)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return s, client.Close, nil
}

func (s *KMSSigner) Scheme() Scheme { return SchemeECDSAP256 }

func (s *KMSSigner) PublicKey() []byte { return append([]byte(nil), s.pubEnc...) }

// KeyName returns the KMS key version resource name.
func (s *KMSSigner) KeyName() string { return s.keyName }

func (s *KMSSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	if err := checkDigest(digest); err != nil {
		return nil, err
	}
	table := crc32.MakeTable(crc32.Castagnoli)
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{Sha256: digest},
		},
		DigestCrc32C: wrapperspb.Int64(int64(crc32.Checksum(digest, table))),
	})
	if err != nil {
		return nil, fmt.Errorf("kms AsymmetricSign failed: %w", err)
	}
	if !resp.GetVerifiedDigestCrc32C() {
		return nil, errors.New("kms: request corrupted in transit")
	}
	if resp.GetSignatureCrc32C() != nil && int64(crc32.Checksum(resp.GetSignature(), table)) != resp.GetSignatureCrc32C().GetValue() {
		return nil, errors.New("kms: response corrupted in transit")
	}
	if !ecdsa.VerifyASN1(s.pub, digest, resp.GetSignature()) {
		return nil, errors.New("kms: signature does not verify under the fetched public key")
	}
	return resp.GetSignature(), nil
}
