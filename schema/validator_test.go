package schema

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/getwalmarket/walmarket/oracle"
)

func hex64(c string) string { return "0x" + strings.Repeat(c, 64) }

func validReport() *oracle.Report {
	return &oracle.Report{
		Round:      3,
		Task:       oracle.TaskBinary,
		Resolution: oracle.Resolution{Value: 1, Confidence: 0.9},
		Sources:    []oracle.Source{{ID: "s1", URL: "https://example.com/a", QuoteHash: "0xabc"}},
		Rationale:  "the event happened",
		Controls: oracle.Controls{
			ModelID:    "gpt-5-thinking@2025-11-POC",
			PromptHash: hex64("1"),
			ParserHash: hex64("2"),
			SchemaHash: SchemaHash(),
		},
		Proof: oracle.Proof{
			EnclaveID:     "walmarket-enclave-001",
			EnclavePubKey: "0x02" + strings.Repeat("ab", 32),
			MREnclave:     hex64("d"),
			Signature:     "0x3044",
			Attestation:   "0x7b7d",
			Timestamp:     1730000000,
			Nonce:         hex64("4"),
			HIn:           hex64("5"),
			HOut:          hex64("6"),
			BlobID:        "bafkreiblob",
			BlobHash:      hex64("7"),
		},
	}
}

func toMap(t *testing.T, r *oracle.Report) map[string]any {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return m
}

func mustValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func asErrors(t *testing.T, err error) Errors {
	t.Helper()
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	errs, ok := err.(Errors)
	if !ok {
		t.Fatalf("expected Errors, got %T: %v", err, err)
	}
	if !oracle.IsKind(err, oracle.KindValidation) {
		t.Fatalf("expected Validation kind")
	}
	return errs
}

func TestValidReportPasses(t *testing.T) {
	v := mustValidator(t)
	if err := v.ValidateReport(validReport()); err != nil {
		t.Fatalf("ValidateReport: %v", err)
	}
	numeric := validReport()
	numeric.Task = oracle.TaskNumeric
	numeric.Resolution.Value = 0.5
	if err := v.ValidateReport(numeric); err != nil {
		t.Fatalf("numeric 0.5 should pass: %v", err)
	}
	raw, _ := json.Marshal(validReport())
	if err := v.ValidateReport(json.RawMessage(raw)); err != nil {
		t.Fatalf("raw report should pass: %v", err)
	}
}

func TestConfidenceOutOfRange(t *testing.T) {
	r := validReport()
	r.Resolution.Confidence = 1.01
	errs := asErrors(t, mustValidator(t).ValidateReport(r))
	if !errs.Has(oracle.ReasonOutOfRange, "resolution.confidence") {
		t.Fatalf("expected OutOfRange resolution.confidence, got %v", errs)
	}
}

func TestMissingNonce(t *testing.T) {
	m := toMap(t, validReport())
	delete(m["tee_proof"].(map[string]any), "nonce")
	errs := asErrors(t, mustValidator(t).ValidateReport(m))
	if !errs.Has(oracle.ReasonMissingField, "tee_proof.nonce") {
		t.Fatalf("expected MissingField tee_proof.nonce, got %v", errs)
	}
}

func TestBinaryValueDomain(t *testing.T) {
	r := validReport()
	r.Resolution.Value = 0.5
	errs := asErrors(t, mustValidator(t).ValidateReport(r))
	if !errs.Has(oracle.ReasonOutOfRange, "resolution.value") {
		t.Fatalf("expected OutOfRange resolution.value, got %v", errs)
	}
	if oracle.RuleID(errs) != "ORACLE-VAL-101" {
		t.Fatalf("RuleID=%q", oracle.RuleID(errs))
	}
}

func TestNonFiniteValueRejected(t *testing.T) {
	r := validReport()
	r.Task = oracle.TaskNumeric
	r.Resolution.Value = math.Inf(1)
	errs := asErrors(t, mustValidator(t).ValidateReport(r))
	if !errs.Has(oracle.ReasonOutOfRange, "resolution.value") {
		t.Fatalf("expected OutOfRange resolution.value, got %v", errs)
	}
}

func TestStructuralFailures(t *testing.T) {
	v := mustValidator(t)

	r := validReport()
	r.Sources = nil
	errs := asErrors(t, v.ValidateReport(toMap(t, r)))
	if !errs.Has(oracle.ReasonInvalidType, "sources") {
		// nil slices marshal as null
		t.Fatalf("expected InvalidType sources, got %v", errs)
	}

	r = validReport()
	r.Sources = []oracle.Source{}
	errs = asErrors(t, v.ValidateReport(r))
	if !errs.Has(oracle.ReasonEmpty, "sources") {
		t.Fatalf("expected Empty sources, got %v", errs)
	}

	r = validReport()
	r.Sources[0].URL = ""
	errs = asErrors(t, v.ValidateReport(r))
	if !errs.Has(oracle.ReasonEmpty, "sources.0.url") {
		t.Fatalf("expected Empty sources.0.url, got %v", errs)
	}

	r = validReport()
	r.Task = "categorical"
	errs = asErrors(t, v.ValidateReport(r))
	if !errs.Has(oracle.ReasonInvalidEnum, "task") {
		t.Fatalf("expected InvalidEnum task, got %v", errs)
	}

	r = validReport()
	r.Proof.HIn = "0xABC"
	errs = asErrors(t, v.ValidateReport(r))
	if !errs.Has(oracle.ReasonMalformed, "tee_proof.h_in") {
		t.Fatalf("expected Malformed tee_proof.h_in, got %v", errs)
	}

	r = validReport()
	r.Controls.ModelID = ""
	errs = asErrors(t, v.ValidateReport(r))
	if !errs.Has(oracle.ReasonEmpty, "controls.model_id") {
		t.Fatalf("expected Empty controls.model_id, got %v", errs)
	}

	m := toMap(t, validReport())
	m["round"] = "three"
	errs = asErrors(t, v.ValidateReport(m))
	if !errs.Has(oracle.ReasonInvalidType, "round") {
		t.Fatalf("expected InvalidType round, got %v", errs)
	}
}

func TestErrorsAreReportedInSectionOrder(t *testing.T) {
	m := toMap(t, validReport())
	delete(m, "rationale")
	m["task"] = "other"
	m["resolution"].(map[string]any)["confidence"] = 2
	m["tee_proof"].(map[string]any)["nonce"] = "0x1"
	m["sources"] = []any{}

	err := mustValidator(t).ValidateReport(m)
	got := Paths(err)
	want := []string{"rationale", "task", "resolution.confidence", "sources", "tee_proof.nonce"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order: got %v want %v", got, want)
	}
}

func TestNotAnObject(t *testing.T) {
	errs := asErrors(t, mustValidator(t).ValidateReport(json.RawMessage(`[1,2]`)))
	if errs[0].Reason != oracle.ReasonInvalidType {
		t.Fatalf("unexpected reason %s", errs[0].Reason)
	}
	errs = asErrors(t, mustValidator(t).ValidateReport(json.RawMessage(`{`)))
	if errs[0].Reason != oracle.ReasonMalformed {
		t.Fatalf("unexpected reason %s", errs[0].Reason)
	}
}

func TestValidateInference(t *testing.T) {
	v := mustValidator(t)
	out := &oracle.InferenceOutput{
		Resolution: oracle.Resolution{Value: 0, Confidence: 0.8},
		Sources:    []oracle.Source{{ID: "s1", URL: "https://x", QuoteHash: "0xabc"}},
		Rationale:  "no",
	}
	if err := v.ValidateInference(oracle.TaskBinary, out); err != nil {
		t.Fatalf("ValidateInference: %v", err)
	}
	out.Resolution.Value = 42
	if err := v.ValidateInference(oracle.TaskBinary, out); err == nil {
		t.Fatalf("expected binary domain error")
	}
	if err := v.ValidateInference(oracle.TaskNumeric, out); err != nil {
		t.Fatalf("numeric 42 should pass: %v", err)
	}
	if err := v.ValidateInference("bogus", out); err == nil {
		t.Fatalf("expected unknown task error")
	}
	errs := asErrors(t, v.ValidateInference(oracle.TaskNumeric, map[string]any{"rationale": "x"}))
	if !errs.Has(oracle.ReasonMissingField, "resolution") || !errs.Has(oracle.ReasonMissingField, "sources") {
		t.Fatalf("expected missing resolution and sources, got %v", errs)
	}
}

func TestSchemaHashStable(t *testing.T) {
	if SchemaHash() != SchemaHash() || len(SchemaHash()) != 66 {
		t.Fatalf("unexpected schema hash %s", SchemaHash())
	}
}
