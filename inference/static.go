package inference

import (
	"context"
	"encoding/json"

	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/schema"
)

// Static answers every request with a fixed output. It backs offline runs
// and tests; the prompt hash is computed exactly as a live provider would.
type Static struct {
	Output       map[string]any
	Model        string
	TokensUsed   int
	FinishReason string
}

var _ Provider = (*Static)(nil)

// NewStaticJSON builds a Static provider from a JSON answer.
func NewStaticJSON(model string, answer []byte) (*Static, error) {
	obj, err := parseObject(string(answer))
	if err != nil {
		return nil, err
	}
	return &Static{Output: obj, Model: model, FinishReason: "stop"}, nil
}

func (s *Static) Infer(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, oracle.WrapError(oracle.KindProviderUnavailable, "ORACLE-INFER-001", "inference cancelled", err)
	}
	if s.Output == nil {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-INFER-010", "static provider has no output")
	}
	promptHash, err := PromptHash(SystemPrompt, UserPrompt(req, schema.InferenceSchemaJSON()))
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-INFER-000", "prompt hash failed", err)
	}

	// Hand out a deep copy so callers cannot mutate the fixture.
	b, err := json.Marshal(s.Output)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindValidation, "ORACLE-INFER-010", "static output is not encodable", err)
	}
	out, err := parseObject(string(b))
	if err != nil {
		return nil, err
	}

	model := s.Model
	if model == "" {
		model = "static"
	}
	return &Result{
		Input:  Input(req),
		Output: out,
		Metadata: Metadata{
			Model:        model,
			PromptHash:   promptHash,
			TokensUsed:   s.TokensUsed,
			FinishReason: s.FinishReason,
		},
	}, nil
}
