package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

const jsonSchemaName = "step_output"

// guidedChatRequest is the OpenAI-compatible chat body extended with vLLM
// guided-decoding fields. go-openai's request structs cannot carry these
// extension fields, so the guided path serializes the body itself.
type guidedChatRequest struct {
	Model       string              `json:"model"`
	Messages    []guidedChatMessage `json:"messages"`
	Temperature float32             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`

	GuidedChoice []string        `json:"guided_choice,omitempty"`
	GuidedRegex  string          `json:"guided_regex,omitempty"`
	GuidedJSON   json.RawMessage `json:"guided_json,omitempty"`
}

type guidedChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type guidedChatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *backend) completeGuided(ctx context.Context, spec domain.CallSpec) (*Response, error) {
	if b.guidedNative {
		return b.completeGuidedRaw(ctx, spec)
	}

	// Backends without the vLLM extensions can still honor a JSON-schema
	// constraint through response_format.
	if spec.Guided.Kind == domain.GuidedJSON {
		return b.completeJSONSchema(ctx, spec)
	}

	return nil, fmt.Errorf("%w: %s on %s", ErrGuidedUnsupported, spec.Guided.Kind, b.name)
}

func (b *backend) completeGuidedRaw(ctx context.Context, spec domain.CallSpec) (*Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	body := guidedChatRequest{
		Model:       spec.Model,
		Messages:    []guidedChatMessage{{Role: openai.ChatMessageRoleUser, Content: spec.Prompt}},
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	}

	switch spec.Guided.Kind {
	case domain.GuidedChoice:
		body.GuidedChoice = spec.Guided.Choices()
	case domain.GuidedRegex:
		body.GuidedRegex = spec.Guided.Value
	case domain.GuidedJSON:
		body.GuidedJSON = json.RawMessage(spec.Guided.Value)
	}

	start := time.Now()

	var parsed guidedChatResponse

	err := b.postJSON(ctx, b.endpoint("/chat/completions"), body, &parsed)

	b.observe(opCompletion, spec.Model, start, err)

	if err != nil {
		return nil, err
	}

	if parsed.Error != nil {
		return nil, &ProviderError{Provider: b.name, Operation: opCompletion, Message: parsed.Error.Message}
	}

	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: b.name, Operation: opCompletion, Message: ErrEmptyResponse.Error(), Err: ErrEmptyResponse}
	}

	msg := parsed.Choices[0].Message

	return &Response{Content: msg.Content, ReasoningContent: msg.ReasoningContent}, nil
}

func (b *backend) completeJSONSchema(ctx context.Context, spec domain.CallSpec) (*Response, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	req := b.chatRequest(spec, false)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   jsonSchemaName,
			Schema: json.RawMessage(spec.Guided.Value),
			Strict: true,
		},
	}

	start := time.Now()

	resp, err := b.client.CreateChatCompletion(ctx, req)

	b.observe(opCompletion, spec.Model, start, err)

	if err != nil {
		return nil, b.wrapErr(opCompletion, err)
	}

	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: b.name, Operation: opCompletion, Message: ErrEmptyResponse.Error(), Err: ErrEmptyResponse}
	}

	msg := resp.Choices[0].Message

	return &Response{Content: msg.Content, ReasoningContent: msg.ReasoningContent}, nil
}

func (b *backend) phonemize(ctx context.Context, text, language string) (*PhonemeResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	body := map[string]string{"text": text, "language": language}

	start := time.Now()

	var result PhonemeResult

	err := b.postJSON(ctx, strings.TrimSuffix(b.phonemizeURL, "/")+"/phonemize", body, &result)

	b.observe(opPhonemize, "", start, err)

	if err != nil {
		return nil, err
	}

	return &result, nil
}

func (b *backend) endpoint(suffix string) string {
	return strings.TrimSuffix(b.baseURL, "/") + suffix
}

func (b *backend) postJSON(ctx context.Context, url string, body, target any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Provider: b.name, Operation: opCompletion, Message: err.Error(), Err: err}
	}

	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: b.name, Operation: opCompletion, Message: err.Error(), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Provider: b.name, Operation: opCompletion, StatusCode: resp.StatusCode, Message: truncateBody(raw)}
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return &ProviderError{Provider: b.name, Operation: opCompletion, Message: fmt.Sprintf("malformed response: %v", err), Err: err}
	}

	return nil
}

const maxErrorBodyLen = 512

func truncateBody(raw []byte) string {
	s := string(raw)
	if len(s) > maxErrorBodyLen {
		return s[:maxErrorBodyLen]
	}

	return s
}
