package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/getwalmarket/walmarket/oracle"
	"github.com/getwalmarket/walmarket/schema"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.1
	defaultTimeout     = 60 * time.Second
)

// OpenAIConfig describes how to reach a chat-completions endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Logger      *zap.Logger
}

// OpenAI calls the chat-completions API in JSON mode.
type OpenAI struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *zap.Logger
}

var _ Provider = (*OpenAI)(nil)

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, oracle.NewError(oracle.KindValidation, "ORACLE-INFER-000", "openai api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAI) Infer(ctx context.Context, req Request) (*Result, error) {
	user := UserPrompt(req, schema.InferenceSchemaJSON())
	promptHash, err := PromptHash(SystemPrompt, user)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-INFER-000", "prompt hash failed", err)
	}

	payload, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: user},
		},
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-INFER-000", "encode request failed", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, oracle.WrapError(oracle.KindInternal, "ORACLE-INFER-000", "build request failed", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, oracle.WrapError(oracle.KindProviderUnavailable, "ORACLE-INFER-001", "openai request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, oracle.NewError(oracle.KindProviderUnavailable, "ORACLE-INFER-002",
			fmt.Sprintf("openai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, oracle.WrapError(oracle.KindProviderUnavailable, "ORACLE-INFER-003", "decode openai response failed", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, oracle.NewError(oracle.KindProviderUnavailable, "ORACLE-INFER-003", "openai response has no choices")
	}
	choice := decoded.Choices[0]

	output, err := parseObject(strings.TrimSpace(choice.Message.Content))
	if err != nil {
		return nil, err
	}

	model := c.model
	if decoded.Model != "" {
		model = decoded.Model
	}
	c.logger.Info("inference complete",
		zap.String("model", model),
		zap.Int("tokens_used", decoded.Usage.TotalTokens),
		zap.String("finish_reason", choice.FinishReason),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{
		Input:  Input(req),
		Output: output,
		Metadata: Metadata{
			Model:        model,
			PromptHash:   promptHash,
			TokensUsed:   decoded.Usage.TotalTokens,
			FinishReason: choice.FinishReason,
		},
	}, nil
}
