package reporter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/getwalmarket/walmarket/attest"
	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/digest"
	"github.com/getwalmarket/walmarket/disclosure"
	"github.com/getwalmarket/walmarket/evidence"
	"github.com/getwalmarket/walmarket/inference"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/schema"
	"github.com/getwalmarket/walmarket/storage"
)

const answer = `{"resolution":{"value":1,"confidence":0.92},"sources":[{"id":"coinmarketcap:btc","url":"https://coinmarketcap.com/currencies/bitcoin/","quote_hash":"0x01"}],"rationale":"Three sources report BTC above the threshold."}`

var fixedNow = time.Unix(1730000000, 0)

func testRequest() Request {
	return Request{
		MarketID: "0xmarket123",
		Question: "Will BTC reach $100k by end of 2024?",
		Category: "crypto",
		Criteria: "Resolves YES if BTC trades at $100,000 on a major exchange.",
		Round:    1,
		Sources: []inference.Source{
			{ID: "coinmarketcap:btc", URL: "https://coinmarketcap.com/currencies/bitcoin/", Data: "BTC $95,234"},
		},
	}
}

func seed(b byte) []byte { return bytes.Repeat([]byte{b}, keys.SeedSize) }

func newReporter(t *testing.T, provider inference.Provider, store storage.BlobStore) (*Reporter, keys.Signer) {
	t.Helper()
	v, err := schema.New()
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	signer := keys.NewEd25519Signer(seed(3))
	return &Reporter{
		Provider:  provider,
		Store:     store,
		Validator: v,
		Builder: &attest.Builder{
			EnclaveID: "enclave-1",
			MREnclave: "0xdef456",
			Signer:    signer,
			Clock:     func() time.Time { return fixedNow },
		},
		Clock: func() time.Time { return fixedNow },
		NewID: func() string { return "attempt-1" },
	}, signer
}

func staticProvider(t *testing.T, body string) *inference.Static {
	t.Helper()
	p, err := inference.NewStaticJSON("gpt-fixture", []byte(body))
	if err != nil {
		t.Fatalf("NewStaticJSON: %v", err)
	}
	return p
}

func TestGenerate_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	r, signer := newReporter(t, staticProvider(t, answer), store)
	r.VerifyUpload = true

	res, err := r.Generate(ctx, testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	rep := res.Report
	if res.AttemptID != "attempt-1" || rep.Task != oracle.TaskBinary || rep.Round != 1 {
		t.Fatalf("unexpected report header: %+v", rep)
	}
	if rep.Controls.ParserHash != canon.HashBytes([]byte("parser_v1")) || rep.Controls.SchemaHash != schema.SchemaHash() {
		t.Fatalf("unexpected controls: %+v", rep.Controls)
	}
	if rep.Controls.ModelID != "gpt-fixture" || rep.Controls.PromptHash == "" {
		t.Fatalf("unexpected controls: %+v", rep.Controls)
	}

	// The proof verifies against the enclave key.
	verifier := &attest.Verifier{
		Scheme:    signer.Scheme(),
		PublicKey: signer.PublicKey(),
		EnclaveID: "enclave-1",
		MREnclave: "0xdef456",
		Clock:     func() time.Time { return fixedNow },
		Replay:    attest.NewMemoryReplay(),
	}
	if err := verifier.Verify(ctx, &rep.Proof); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Statement.ReportData != digest.Hex(digest.FieldsFromProof(rep.Proof).Digest()) {
		t.Fatalf("statement does not commit to the proof digest")
	}

	// The stored bundle matches blob_hash and commits to h_in/h_out.
	if err := evidence.Verify(ctx, rep.Proof.BlobID, rep.Proof.BlobHash, store.Get); err != nil {
		t.Fatalf("evidence.Verify: %v", err)
	}
	hIn, _ := canon.Hash(res.Bundle.Input)
	hOut, _ := canon.Hash(res.Bundle.Output)
	if rep.Proof.HIn != hIn || rep.Proof.HOut != hOut {
		t.Fatalf("proof hashes do not match the bundle")
	}
	if res.Bundle.Timestamp != fixedNow.Unix() || res.Bundle.Metadata["market_id"] != "0xmarket123" {
		t.Fatalf("unexpected bundle metadata: %+v", res.Bundle.Metadata)
	}
	if res.Disclosure != nil {
		t.Fatalf("disclosure should be off without a policy")
	}
}

func TestGenerate_FreshAttemptsNeverShareNonces(t *testing.T) {
	r, _ := newReporter(t, staticProvider(t, answer), storage.NewMemoryStore())
	r.NewID = nil

	a, err := r.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := r.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if a.AttemptID == b.AttemptID || a.Report.Proof.Nonce == b.Report.Proof.Nonce {
		t.Fatalf("attempts must get fresh ids and nonces")
	}
	if a.Report.Proof.BlobID != b.Report.Proof.BlobID {
		t.Fatalf("identical evidence should store under the same CID")
	}
}

type failingProvider struct{ err error }

func (f failingProvider) Infer(context.Context, inference.Request) (*inference.Result, error) {
	return nil, f.err
}

type failingStore struct{ storage.BlobStore }

func (failingStore) Put(context.Context, []byte) (string, error) {
	return "", errors.New("publisher offline")
}

// corruptingStore returns different bytes than it stored.
type corruptingStore struct{ *storage.MemoryStore }

func (c corruptingStore) Get(ctx context.Context, id string) ([]byte, error) {
	return []byte(`{"version":"1.0","timestamp":0,"input":{},"output":{},"metadata":{}}`), nil
}

func TestGenerate_FailureKinds(t *testing.T) {
	cases := []struct {
		name     string
		provider inference.Provider
		store    storage.BlobStore
		verify   bool
		want     oracle.Kind
	}{
		{"provider down", failingProvider{errors.New("dial tcp: refused")}, storage.NewMemoryStore(), false, oracle.KindProviderUnavailable},
		{"provider typed error", failingProvider{oracle.NewError(oracle.KindValidation, "ORACLE-INFER-010", "not json")}, storage.NewMemoryStore(), false, oracle.KindValidation},
		{"binary value out of domain", staticProvider(t, strings.Replace(answer, `"value":1`, `"value":2`, 1)), storage.NewMemoryStore(), false, oracle.KindValidation},
		{"missing rationale", staticProvider(t, `{"resolution":{"value":1,"confidence":0.5},"sources":[{"id":"a","url":"b","quote_hash":"c"}]}`), storage.NewMemoryStore(), false, oracle.KindValidation},
		{"storage down", staticProvider(t, answer), failingStore{}, false, oracle.KindStorageUnavailable},
		{"read-back mismatch", staticProvider(t, answer), corruptingStore{storage.NewMemoryStore()}, true, oracle.KindHashMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newReporter(t, tc.provider, tc.store)
			r.VerifyUpload = tc.verify
			res, err := r.Generate(context.Background(), testRequest())
			if err == nil {
				t.Fatalf("expected error, got report %+v", res.Report)
			}
			if !oracle.IsKind(err, tc.want) {
				t.Fatalf("got kind %q (%v), want %q", oracle.KindOf(err), err, tc.want)
			}
		})
	}
}

func TestGenerate_NumericTask(t *testing.T) {
	r, _ := newReporter(t, staticProvider(t, strings.Replace(answer, `"value":1`, `"value":101250.5`, 1)), storage.NewMemoryStore())
	req := testRequest()
	req.Task = oracle.TaskNumeric

	res, err := r.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Report.Resolution.Value != 101250.5 {
		t.Fatalf("unexpected value %v", res.Report.Resolution.Value)
	}
}

func TestGenerate_Disclosure(t *testing.T) {
	policy := disclosure.Policy{
		ID:         "premium",
		PackageID:  "0x03746b",
		Threshold:  2,
		KeyServers: []string{"ks-1", "ks-2", "ks-3"},
	}
	r, _ := newReporter(t, staticProvider(t, answer), storage.NewMemoryStore())
	r.Policy = &policy

	res, err := r.Generate(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	d := res.Disclosure
	if d == nil || len(d.Shares) != 3 || d.PolicyTx == nil {
		t.Fatalf("unexpected disclosure: %+v", d)
	}
	if d.Package.PublicSummary["outcome"] != "YES" {
		t.Fatalf("public summary outcome: %v", d.Package.PublicSummary["outcome"])
	}
	if _, leaked := d.Package.PublicSummary["reasoning"]; leaked {
		t.Fatalf("public summary leaked reasoning")
	}

	ev, err := disclosure.Open(d.Package, "0xmarket123", policy, d.Shares[1:])
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	m, ok := ev.(map[string]any)
	if !ok || m["reasoning"] != res.Report.Rationale || m["evidence_blob"] != res.Report.Proof.BlobID {
		t.Fatalf("unexpected evidence: %v", ev)
	}
	if _, err := disclosure.Open(d.Package, "0xmarket123", policy, d.Shares[:1]); !oracle.IsKind(err, oracle.KindEncryptionPolicyViolation) {
		t.Fatalf("one share must not open the package, got %v", err)
	}
}

func TestGenerate_LogsAttempt(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r, _ := newReporter(t, staticProvider(t, answer), storage.NewMemoryStore())
	r.Logger = zap.New(core)

	if _, err := r.Generate(context.Background(), testRequest()); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	done := logs.FilterMessage("report attempt complete").All()
	if len(done) != 1 || done[0].ContextMap()["attempt_id"] != "attempt-1" {
		t.Fatalf("expected completion log with attempt id, got %v", logs.All())
	}
}

func TestOutcome(t *testing.T) {
	if Outcome(oracle.TaskBinary, 0) != "NO" || Outcome(oracle.TaskBinary, 1) != "YES" {
		t.Fatalf("binary outcomes")
	}
	if Outcome(oracle.TaskNumeric, 3.5) != 3.5 {
		t.Fatalf("numeric outcome")
	}
}
