// Package inference defines the contract between the report pipeline and the
// model that answers a market question.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getwalmarket/walmarket/canon"
	"github.com/getwalmarket/walmarket/oracle"
)

// Source is raw data handed to the model. Only ID and URL are echoed into the
// report; Data is kept in the evidence bundle.
type Source struct {
	ID   string `json:"id" yaml:"id"`
	URL  string `json:"url" yaml:"url"`
	Data string `json:"data" yaml:"data"`
}

type Request struct {
	Question string
	Sources  []Source
	Criteria string
}

type Metadata struct {
	Model        string
	PromptHash   string
	TokensUsed   int
	FinishReason string
}

// Result is what a provider returns for one request. Input and Output are
// JSON objects and are hashed into the proof as h_in and h_out.
type Result struct {
	Input    map[string]any
	Output   map[string]any
	Metadata Metadata
}

// Provider runs inference. Transport failures are reported as
// ProviderUnavailable; a response that is not a JSON object is a Validation
// error.
type Provider interface {
	Infer(ctx context.Context, req Request) (*Result, error)
}

const SystemPrompt = `You are a verifiable AI oracle for prediction markets.
Your task is to analyze data from multiple trusted sources and determine the outcome of a prediction market question.

You must:
1. Cross-reference multiple data sources
2. Provide a confidence score (0.0 to 1.0)
3. Cite specific sources with quotes
4. Explain your reasoning clearly
5. Return output in strict JSON format

Be objective, factual, and transparent in your analysis.`

// UserPrompt renders the per-market prompt. schemaJSON is embedded verbatim
// as the required answer format.
func UserPrompt(req Request, schemaJSON []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market Question: %s\n\n", strings.TrimSpace(req.Question))
	b.WriteString("Data Sources:\n")
	for _, s := range req.Sources {
		fmt.Fprintf(&b, "Source: %s\nURL: %s\nData: %s\n---\n", s.ID, s.URL, s.Data)
	}
	fmt.Fprintf(&b, "\nResolution Criteria:\n%s\n\n", strings.TrimSpace(req.Criteria))
	b.WriteString("Please analyze the data and determine:\n")
	b.WriteString("1. Resolution value (1 for YES, 0 for NO)\n")
	b.WriteString("2. Confidence score (0.0 to 1.0)\n")
	b.WriteString("3. List of sources used with specific quotes\n")
	b.WriteString("4. Clear rationale for your decision\n\n")
	b.WriteString("Return your answer in the following JSON format:\n")
	var indented bytes.Buffer
	if err := json.Indent(&indented, schemaJSON, "", "  "); err == nil {
		b.Write(indented.Bytes())
	} else {
		b.Write(schemaJSON)
	}
	b.WriteString("\n")
	return b.String()
}

// PromptHash commits to both prompts as the canonical JSON array
// [system, user], so no choice of prompt text can collide across the boundary.
func PromptHash(system, user string) (string, error) {
	return canon.Hash([]string{system, user})
}

// Input is the JSON object recorded as the inference input.
func Input(req Request) map[string]any {
	sources := make([]any, 0, len(req.Sources))
	for _, s := range req.Sources {
		sources = append(sources, map[string]any{"id": s.ID, "url": s.URL, "data": s.Data})
	}
	return map[string]any{
		"question":            req.Question,
		"sources":             sources,
		"resolution_criteria": req.Criteria,
	}
}

// DecodeOutput converts a validated output object into its typed form.
func DecodeOutput(output map[string]any) (*oracle.InferenceOutput, error) {
	b, err := json.Marshal(output)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-INFER-011", "inference output is not encodable", err)
	}
	var out oracle.InferenceOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-INFER-011", "inference output does not match the answer format", err)
	}
	return &out, nil
}

// parseObject decodes content as a single JSON object, preserving numbers.
func parseObject(content string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-INFER-010", "model output is not valid JSON", err)
	}
	if dec.More() {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-INFER-010", "model output has trailing data")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-INFER-010", "model output is not a JSON object")
	}
	return obj, nil
}
