// Package reporter runs the report-generation pipeline: inference, evidence
// storage, proof signing and report assembly.
package reporter

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/getwalmarket/walmarket/attest"
	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/disclosure"
	"github.com/getwalmarket/walmarket/evidence"
	"github.com/getwalmarket/walmarket/inference"
	"github.com/getwalmarket/walmarket/logging"
	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/schema"
	"github.com/getwalmarket/walmarket/storage"
)

// ParserVersion names the output parser pinned in report controls.
const ParserVersion = "parser_v1"

// ParserHash is 0x-prefixed sha256(ParserVersion).
var ParserHash = canon.HashBytes([]byte(ParserVersion))

type Request struct {
	MarketID string
	Question string
	Category string
	Criteria string
	Round    uint64
	// Task defaults to binary.
	Task    oracle.Task
	Sources []inference.Source
}

// Disclosure is the premium split of a report's evidence.
type Disclosure struct {
	Package  *disclosure.Package
	Shares   []disclosure.KeyShare
	PolicyTx *disclosure.MoveCall
}

type Result struct {
	AttemptID  string
	Report     *oracle.Report
	Bundle     *evidence.Bundle
	Statement  *attest.Statement
	Disclosure *Disclosure
}

// Reporter is safe for concurrent use when its collaborators are.
type Reporter struct {
	Provider  inference.Provider
	Store     storage.BlobStore
	Builder   *attest.Builder
	Validator *schema.Validator

	// VerifyUpload reads each bundle back from Store and checks its hash.
	VerifyUpload bool

	// Policy enables the disclosure split when non-nil.
	Policy    *disclosure.Policy
	Encryptor disclosure.Encryptor
	// PublicBlobID, when set alongside Policy, is passed to the access policy
	// transaction; otherwise the evidence blob id is used.
	PublicBlobID string

	Clock  func() time.Time
	NewID  func() string
	Logger *zap.Logger
}

func (r *Reporter) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r *Reporter) attemptID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r *Reporter) log() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Generate produces one signed report. Each call is a fresh attempt with its
// own id, nonce and timestamp; a failed attempt leaves nothing to resume.
func (r *Reporter) Generate(ctx context.Context, req Request) (*Result, error) {
	if r.Provider == nil || r.Store == nil || r.Builder == nil || r.Validator == nil {
		return nil, oracle.NewError(oracle.KindInternal, "ORACLE-PIPE-000", "reporter is missing a collaborator")
	}
	task := req.Task
	if task == "" {
		task = oracle.TaskBinary
	}
	if !task.Valid() {
		return nil, oracle.FieldError("ORACLE-VAL-003", oracle.ReasonInvalidEnum, "task", "unknown task "+string(task))
	}

	res := &Result{AttemptID: r.attemptID()}
	log := logging.WithAttempt(r.log(), res.AttemptID, req.MarketID)
	log.Info("report attempt started", zap.Uint64("round", req.Round), zap.String("task", string(task)))

	inf, err := r.Provider.Infer(ctx, inference.Request{
		Question: req.Question,
		Sources:  req.Sources,
		Criteria: req.Criteria,
	})
	if err != nil {
		log.Warn("inference failed", zap.Error(err))
		if oracle.KindOf(err) == "" {
			err = oracle.WrapError(oracle.KindProviderUnavailable, "ORACLE-PIPE-001", "inference failed", err)
		}
		return nil, err
	}
	if err := r.Validator.ValidateInference(task, inf.Output); err != nil {
		log.Warn("inference output rejected", zap.Strings("fields", schema.Paths(err)))
		return nil, err
	}
	out, err := inference.DecodeOutput(inf.Output)
	if err != nil {
		return nil, err
	}

	bundle := evidence.Create(inf.Input, inf.Output, map[string]any{
		"model":         inf.Metadata.Model,
		"prompt_hash":   inf.Metadata.PromptHash,
		"tokens_used":   inf.Metadata.TokensUsed,
		"finish_reason": inf.Metadata.FinishReason,
		"timestamp":     r.now().Unix(),
		"market_id":     req.MarketID,
		"category":      req.Category,
	})
	res.Bundle = bundle

	data, err := bundle.Bytes()
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-PIPE-002", "evidence bundle is not canonicalizable", err)
	}
	blobHash := canon.HashBytes(data)
	blobID, err := r.Store.Put(ctx, data)
	if err != nil {
		log.Warn("evidence upload failed", zap.Error(err))
		return nil, oracle.WrapError(oracle.KindStorageUnavailable, "ORACLE-PIPE-010", "evidence upload failed", err)
	}
	log.Info("evidence stored", zap.String("blob_id", blobID), zap.String("blob_hash", blobHash), zap.Int("bytes", len(data)))

	if r.VerifyUpload {
		if err := evidence.Verify(ctx, blobID, blobHash, r.Store.Get); err != nil {
			log.Warn("evidence read-back failed", zap.String("blob_id", blobID), zap.Error(err))
			return nil, err
		}
	}

	hIn, err := canon.Hash(inf.Input)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-PIPE-003", "hash inference input", err)
	}
	hOut, err := canon.Hash(inf.Output)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-PIPE-003", "hash inference output", err)
	}

	proof, st, err := r.Builder.Build(ctx, attest.Inputs{HIn: hIn, HOut: hOut, BlobID: blobID, BlobHash: blobHash})
	if err != nil {
		return nil, err
	}
	res.Statement = st

	report := &oracle.Report{
		Round:      req.Round,
		Task:       task,
		Resolution: out.Resolution,
		Sources:    out.Sources,
		Rationale:  out.Rationale,
		Controls: oracle.Controls{
			ModelID:    inf.Metadata.Model,
			PromptHash: inf.Metadata.PromptHash,
			ParserHash: ParserHash,
			SchemaHash: schema.SchemaHash(),
		},
		Proof: *proof,
	}
	if err := r.Validator.ValidateReport(report); err != nil {
		log.Error("assembled report failed validation", zap.Strings("fields", schema.Paths(err)))
		return nil, err
	}
	res.Report = report

	if r.Policy != nil {
		d, err := r.disclose(req, report, st)
		if err != nil {
			log.Warn("disclosure split failed", zap.Error(err))
			return nil, err
		}
		res.Disclosure = d
	}

	log.Info("report attempt complete",
		zap.String("report_data", st.ReportData),
		zap.String("nonce", proof.Nonce),
		zap.Bool("disclosure", res.Disclosure != nil))
	return res, nil
}

func (r *Reporter) disclose(req Request, report *oracle.Report, st *attest.Statement) (*Disclosure, error) {
	pkg, shares, err := r.Encryptor.Encrypt(FullEvidence(req, report, st), req.MarketID, *r.Policy)
	if err != nil {
		var oe *oracle.Error
		if !errors.As(err, &oe) {
			err = oracle.WrapError(oracle.KindEncryptionPolicyViolation, "ORACLE-PIPE-020", "disclosure encryption failed", err)
		}
		return nil, err
	}
	publicID := r.PublicBlobID
	if publicID == "" {
		publicID = report.Proof.BlobID
	}
	tx := disclosure.AccessPolicyTx(req.MarketID, report.Proof.BlobID, publicID, *r.Policy)
	return &Disclosure{Package: pkg, Shares: shares, PolicyTx: &tx}, nil
}

// FullEvidence is the premium evidence document sealed by the disclosure
// split. Its outcome, resolution_date and tee_attestation.version feed the
// public summary.
func FullEvidence(req Request, report *oracle.Report, st *attest.Statement) map[string]any {
	sources := make([]any, 0, len(report.Sources))
	for _, s := range report.Sources {
		sources = append(sources, map[string]any{"id": s.ID, "url": s.URL, "quote_hash": s.QuoteHash})
	}
	return map[string]any{
		"market_id":       req.MarketID,
		"question":        req.Question,
		"category":        req.Category,
		"round":           report.Round,
		"outcome":         Outcome(report.Task, report.Resolution.Value),
		"confidence":      report.Resolution.Confidence,
		"resolution_date": time.Unix(report.Proof.Timestamp, 0).UTC().Format(time.RFC3339),
		"sources":         sources,
		"reasoning":       report.Rationale,
		"evidence_blob":   report.Proof.BlobID,
		"tee_attestation": map[string]any{
			"mrenclave": report.Proof.MREnclave,
			"signature": report.Proof.Signature,
			"scheme":    string(st.SignatureScheme),
			"version":   evidence.Version,
		},
	}
}

// Outcome renders a resolution value for humans: YES/NO for binary tasks,
// the number itself otherwise.
func Outcome(task oracle.Task, value float64) any {
	if task == oracle.TaskBinary {
		if value == 1 {
			return "YES"
		}
		return "NO"
	}
	return value
}
