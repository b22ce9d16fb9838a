package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
)

// Operation labels for metrics and errors.
const (
	opCompletion    = "completion"
	opTranscription = "transcription"
	opPhonemize     = "phonemize"
	opSpeech        = "speech"
)

const errRateLimiter = "rate limiter: %w"

// backend is one OpenAI-compatible deployment. The go-openai client covers
// the standard surface; guided decoding and phonemization go through the
// hand-built request path in guided.go.
type backend struct {
	name         string
	client       *openai.Client
	limiter      *rate.Limiter
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	phonemizeURL string
	guidedNative bool
	logger       *zerolog.Logger
}

func (b *backend) complete(ctx context.Context, spec domain.CallSpec) (*Response, error) {
	if spec.Guided != nil {
		return b.completeGuided(ctx, spec)
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	start := time.Now()

	resp, err := b.client.CreateChatCompletion(ctx, b.chatRequest(spec, false))

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

func (b *backend) completeStream(ctx context.Context, spec domain.CallSpec, handler StreamHandler) (*Response, error) {
	if spec.Guided != nil {
		// Guided decoding goes through the non-streaming raw path; surface
		// the final content as a single chunk so callers see one code path.
		resp, err := b.completeGuided(ctx, spec)
		if err != nil {
			return nil, err
		}

		if handler != nil && resp.Content != "" {
			handler(Chunk{Text: resp.Content})
		}

		return resp, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	start := time.Now()

	stream, err := b.client.CreateChatCompletionStream(ctx, b.chatRequest(spec, true))
	if err != nil {
		b.observe(opCompletion, spec.Model, start, err)

		return nil, b.wrapErr(opCompletion, err)
	}

	defer stream.Close()

	var content, reasoning string

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			b.observe(opCompletion, spec.Model, start, err)

			return nil, b.wrapErr(opCompletion, err)
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta

		if delta.ReasoningContent != "" {
			reasoning += delta.ReasoningContent

			if handler != nil {
				handler(Chunk{Text: delta.ReasoningContent, Reasoning: true})
			}
		}

		if delta.Content != "" {
			content += delta.Content

			if handler != nil {
				handler(Chunk{Text: delta.Content})
			}
		}
	}

	b.observe(opCompletion, spec.Model, start, nil)

	return &Response{Content: content, ReasoningContent: reasoning}, nil
}

func (b *backend) transcribe(ctx context.Context, spec TranscribeSpec) (*Transcription, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	audio, err := b.fetchAudio(ctx, spec.AudioURL)
	if err != nil {
		return nil, err
	}

	defer audio.Close()

	req := openai.AudioRequest{
		Model:    spec.Model,
		Reader:   audio,
		FilePath: path.Base(spec.AudioURL),
		Prompt:   spec.Prompt,
		Language: spec.Language,
	}

	if spec.Format != "" {
		req.Format = openai.AudioResponseFormat(spec.Format)
	}

	for _, g := range spec.Granularities {
		req.TimestampGranularities = append(req.TimestampGranularities, openai.TranscriptionTimestampGranularity(g))
	}

	start := time.Now()

	resp, err := b.client.CreateTranscription(ctx, req)

	b.observe(opTranscription, spec.Model, start, err)

	if err != nil {
		return nil, b.wrapErr(opTranscription, err)
	}

	return &Transcription{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}, nil
}

func (b *backend) speech(ctx context.Context, spec SpeechSpec) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf(errRateLimiter, err)
	}

	req := openai.CreateSpeechRequest{
		Model: openai.SpeechModel(spec.Model),
		Input: spec.Input,
		Voice: openai.SpeechVoice(spec.Voice),
	}

	if spec.Format != "" {
		req.ResponseFormat = openai.SpeechResponseFormat(spec.Format)
	}

	if spec.Speed > 0 {
		req.Speed = spec.Speed
	}

	start := time.Now()

	resp, err := b.client.CreateSpeech(ctx, req)

	b.observe(opSpeech, string(req.Model), start, err)

	if err != nil {
		return nil, b.wrapErr(opSpeech, err)
	}

	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, b.wrapErr(opSpeech, err)
	}

	return audio, nil
}

func (b *backend) chatRequest(spec domain.CallSpec, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: spec.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: spec.Prompt},
		},
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
		Stream:      stream,
	}
}

func (b *backend) fetchAudio(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build audio request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: b.name, Operation: opTranscription, Message: fmt.Sprintf("fetch audio %s: %v", url, err), Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()

		return nil, &ProviderError{Provider: b.name, Operation: opTranscription, StatusCode: resp.StatusCode, Message: fmt.Sprintf("fetch audio %s", url)}
	}

	return resp.Body, nil
}

func (b *backend) observe(operation, model string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}

	observability.ProviderRequestDuration.WithLabelValues(b.name, model, operation).Observe(time.Since(start).Seconds())
	observability.ProviderRequests.WithLabelValues(b.name, operation, status).Inc()
}

// wrapErr normalizes a backend failure into a ProviderError, extracting the
// HTTP status code from go-openai API errors where present.
func (b *backend) wrapErr(operation string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   b.name,
			Operation:  operation,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Err:        err,
		}
	}

	return &ProviderError{Provider: b.name, Operation: operation, Message: err.Error(), Err: err}
}
