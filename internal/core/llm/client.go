// Package llm abstracts heterogeneous AI backends behind one call shape.
//
// Every supported backend (open-ai, azure, google, vllm) speaks the
// OpenAI-compatible wire format; provider identity selects credentials,
// endpoint and capability flags. The package covers chat completion
// (single, streaming and bounded parallel fan-out), audio transcription,
// phonemization and speech synthesis.
package llm

import (
	"errors"
	"fmt"
)

// Provider id constants. These match the provider field of step configs.
const (
	ProviderOpenAI = "open-ai"
	ProviderAzure  = "azure"
	ProviderGoogle = "google"
	ProviderVLLM   = "vllm"
)

// Client errors.
var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrEmptyResponse     = errors.New("provider returned no choices")
	ErrGuidedUnsupported = errors.New("provider does not support guided decoding")
)

// ProviderError is a typed provider failure carrying a human-readable message
// and, where available, an HTTP-like status code.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed (status %d): %s", e.Provider, e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Operation, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Response is the outcome of one completion call.
type Response struct {
	Content          string
	ReasoningContent string
}

// Chunk is one incremental fragment of a streaming completion.
type Chunk struct {
	Text      string
	Reasoning bool // true when the fragment belongs to the model's reasoning
}

// StreamHandler receives incremental chunks during a streaming call.
// Handlers must be fast; they run on the stream-reading goroutine.
type StreamHandler func(Chunk)

// TranscribeSpec describes one audio transcription call.
type TranscribeSpec struct {
	Provider      string
	Model         string
	AudioURL      string
	Prompt        string
	Format        string   // response format, e.g. "verbose_json"
	Granularities []string // timestamp granularities: "word", "segment"
	Language      string
}

// Transcription is the outcome of a transcription call.
type Transcription struct {
	Text     string
	Language string
	Duration float64
}

// PhonemeResult is the outcome of a phonemization call.
type PhonemeResult struct {
	Phonemes string   `json:"phonemes"`
	Tokens   []string `json:"tokens"`
}

// SpeechSpec describes one text-to-speech call.
type SpeechSpec struct {
	Provider string
	Model    string
	Input    string
	Voice    string
	Format   string
	Speed    float64
}
