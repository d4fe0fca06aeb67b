// Package schema validates resolution reports and inference output against
// embedded JSON Schemas plus task-dependent semantic rules.
package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

var (
	//go:embed report.schema.json
	reportSchemaJSON []byte
	//go:embed inference.schema.json
	inferenceSchemaJSON []byte
)

// ReportSchemaJSON returns the embedded report schema.
func ReportSchemaJSON() []byte { return append([]byte(nil), reportSchemaJSON...) }

// InferenceSchemaJSON returns the embedded inference-output schema.
func InferenceSchemaJSON() []byte { return append([]byte(nil), inferenceSchemaJSON...) }

// SchemaHash is the canonical hash of the report schema, recorded in
// controls.schema_hash.
func SchemaHash() string {
	h, err := canon.Hash(json.RawMessage(reportSchemaJSON))
	if err != nil {
		panic("schema: embedded report schema is not valid JSON: " + err.Error())
	}
	return h
}

const rootContext = "(root)"

// Validator holds the compiled schemas. It is safe for concurrent use.
type Validator struct {
	report    *gojsonschema.Schema
	inference *gojsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	report, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(reportSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile report schema: %w", err)
	}
	inference, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(inferenceSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to compile inference schema: %w", err)
	}
	return &Validator{report: report, inference: inference}, nil
}

// ValidateReport checks a full report. doc may be an *oracle.Report, raw JSON
// (json.RawMessage / []byte) or any value that marshals to the report shape.
// It returns nil or Errors.
func (v *Validator) ValidateReport(doc any) error {
	if errs := checkTypedFinite(doc); len(errs) > 0 {
		return errs
	}
	raw, root, err := decode(doc)
	if err != nil {
		return Errors{err}
	}
	task := oracle.Task("")
	if s, ok := root["task"].(string); ok && oracle.Task(s).Valid() {
		task = oracle.Task(s)
	}
	return v.run(v.report, raw, &document{task: task, root: root})
}

// ValidateInference checks provider output for the given task.
func (v *Validator) ValidateInference(task oracle.Task, doc any) error {
	if !task.Valid() {
		return Errors{oracle.FieldError(ruleIDs[oracle.ReasonInvalidEnum], oracle.ReasonInvalidEnum, "task", "unknown task "+string(task))}
	}
	if out, ok := doc.(*oracle.InferenceOutput); ok {
		if errs := finiteResolution(out.Resolution); len(errs) > 0 {
			return errs
		}
	}
	raw, root, err := decode(doc)
	if err != nil {
		return Errors{err}
	}
	return v.run(v.inference, raw, &document{task: task, root: root})
}

func (v *Validator) run(s *gojsonschema.Schema, raw []byte, d *document) error {
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Errors{oracle.FieldError(ruleIDs[oracle.ReasonMalformed], oracle.ReasonMalformed, "", "document could not be validated: "+err.Error())}
	}
	var errs Errors
	for _, re := range result.Errors() {
		errs = append(errs, convert(re))
	}
	errs = append(errs, applyRules(d, semanticRules)...)
	if len(errs) == 0 {
		return nil
	}
	sortErrors(errs)
	return errs
}

func convert(re gojsonschema.ResultError) *oracle.Error {
	field := strings.TrimPrefix(re.Field(), rootContext+".")
	if field == rootContext {
		field = ""
	}
	reason := reasonFor(re.Type())
	if reason == oracle.ReasonMissingField {
		if prop, ok := re.Details()["property"].(string); ok && field != prop && !strings.HasSuffix(field, "."+prop) {
			if field == "" {
				field = prop
			} else {
				field = field + "." + prop
			}
		}
	}
	return oracle.FieldError(ruleIDs[reason], reason, field, re.Description())
}

func reasonFor(t string) oracle.Reason {
	switch t {
	case "required":
		return oracle.ReasonMissingField
	case "invalid_type":
		return oracle.ReasonInvalidType
	case "enum":
		return oracle.ReasonInvalidEnum
	case "number_gte", "number_gt", "number_lte", "number_lt":
		return oracle.ReasonOutOfRange
	case "string_gte", "array_min_items":
		return oracle.ReasonEmpty
	default:
		return oracle.ReasonMalformed
	}
}

func decode(doc any) ([]byte, map[string]any, *oracle.Error) {
	var raw []byte
	switch x := doc.(type) {
	case json.RawMessage:
		raw = x
	case []byte:
		raw = x
	default:
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, nil, oracle.FieldError(ruleIDs[oracle.ReasonMalformed], oracle.ReasonMalformed, "", "document is not JSON-representable: "+err.Error())
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, nil, oracle.FieldError(ruleIDs[oracle.ReasonMalformed], oracle.ReasonMalformed, "", "document is not valid JSON: "+err.Error())
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, nil, oracle.FieldError(ruleIDs[oracle.ReasonInvalidType], oracle.ReasonInvalidType, "", "document must be a JSON object")
	}
	return raw, root, nil
}

func checkTypedFinite(doc any) Errors {
	switch r := doc.(type) {
	case *oracle.Report:
		if r != nil {
			return finiteResolution(r.Resolution)
		}
	case oracle.Report:
		return finiteResolution(r.Resolution)
	}
	return nil
}

func finiteResolution(res oracle.Resolution) Errors {
	var errs Errors
	if math.IsNaN(res.Confidence) || math.IsInf(res.Confidence, 0) {
		errs = append(errs, oracle.FieldError("ORACLE-VAL-102", oracle.ReasonOutOfRange, "resolution.confidence", "confidence must be finite"))
	}
	if math.IsNaN(res.Value) || math.IsInf(res.Value, 0) {
		errs = append(errs, oracle.FieldError("ORACLE-VAL-102", oracle.ReasonOutOfRange, "resolution.value", "value must be finite"))
	}
	return errs
}

// Paths returns the field paths of err's violations, in order.
func Paths(err error) []string {
	var errs Errors
	if !errors.As(err, &errs) {
		return nil
	}
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}
