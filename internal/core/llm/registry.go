package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/platform/config"
)

const rateLimiterBurst = 5

// Client is the uniform interface to AI backends. All methods are safe for
// concurrent use and honor context cancellation.
type Client interface {
	Complete(ctx context.Context, spec domain.CallSpec) (*Response, error)
	CompleteStream(ctx context.Context, spec domain.CallSpec, handler StreamHandler) (*Response, error)
	CompleteParallel(ctx context.Context, spec domain.CallSpec) ([]Response, error)
	Transcribe(ctx context.Context, spec TranscribeSpec) (*Transcription, error)
	TranscribeBatch(ctx context.Context, specs []TranscribeSpec) ([]Transcription, error)
	Phonemize(ctx context.Context, text, language string) (*PhonemeResult, error)
	Speech(ctx context.Context, spec SpeechSpec) ([]byte, error)
}

// Registry routes calls to the backend named in each spec.
type Registry struct {
	backends      map[string]*backend
	maxConcurrent int
	logger        *zerolog.Logger
}

// Compile-time assertion that *Registry implements Client.
var _ Client = (*Registry)(nil)

// NewRegistry builds the provider registry from configuration. Providers
// without credentials are left unregistered; calling them yields
// ErrUnknownProvider.
func NewRegistry(cfg *config.Config, logger *zerolog.Logger) (*Registry, error) {
	timeout, err := time.ParseDuration(cfg.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parse request timeout: %w", err)
	}

	r := &Registry{
		backends:      make(map[string]*backend),
		maxConcurrent: cfg.MaxConcurrentRequests,
		logger:        logger,
	}

	httpClient := &http.Client{Timeout: timeout}

	if cfg.OpenAIAPIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAIBaseURL
		}

		r.register(ProviderOpenAI, clientCfg, cfg.OpenAIAPIKey, cfg, httpClient, false)
	}

	if cfg.AzureAPIKey != "" && cfg.AzureBaseURL != "" {
		r.register(ProviderAzure, openai.DefaultAzureConfig(cfg.AzureAPIKey, cfg.AzureBaseURL), cfg.AzureAPIKey, cfg, httpClient, false)
	}

	if cfg.GoogleAPIKey != "" {
		clientCfg := openai.DefaultConfig(cfg.GoogleAPIKey)
		clientCfg.BaseURL = cfg.GoogleBaseURL

		r.register(ProviderGoogle, clientCfg, cfg.GoogleAPIKey, cfg, httpClient, false)
	}

	if cfg.VLLMBaseURL != "" {
		clientCfg := openai.DefaultConfig(cfg.VLLMAPIKey)
		clientCfg.BaseURL = cfg.VLLMBaseURL

		// vLLM accepts the guided_* extension fields on chat completions.
		r.register(ProviderVLLM, clientCfg, cfg.VLLMAPIKey, cfg, httpClient, true)
	}

	return r, nil
}

func (r *Registry) register(name string, clientCfg openai.ClientConfig, apiKey string, cfg *config.Config, httpClient *http.Client, guidedNative bool) {
	r.backends[name] = &backend{
		name:         name,
		client:       openai.NewClientWithConfig(clientCfg),
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), rateLimiterBurst),
		httpClient:   httpClient,
		baseURL:      clientCfg.BaseURL,
		apiKey:       apiKey,
		phonemizeURL: cfg.PhonemizeBaseURL,
		guidedNative: guidedNative,
		logger:       r.logger,
	}

	r.logger.Info().Str("provider", name).Bool("guided_native", guidedNative).Msg("registered AI provider")
}

func (r *Registry) backend(name string) (*backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	return b, nil
}

func (r *Registry) Complete(ctx context.Context, spec domain.CallSpec) (*Response, error) {
	b, err := r.backend(spec.Provider)
	if err != nil {
		return nil, err
	}

	return b.complete(ctx, spec)
}

func (r *Registry) CompleteStream(ctx context.Context, spec domain.CallSpec, handler StreamHandler) (*Response, error) {
	b, err := r.backend(spec.Provider)
	if err != nil {
		return nil, err
	}

	return b.completeStream(ctx, spec, handler)
}

func (r *Registry) Transcribe(ctx context.Context, spec TranscribeSpec) (*Transcription, error) {
	b, err := r.backend(spec.Provider)
	if err != nil {
		return nil, err
	}

	return b.transcribe(ctx, spec)
}

func (r *Registry) Phonemize(ctx context.Context, text, language string) (*PhonemeResult, error) {
	for _, name := range []string{ProviderVLLM, ProviderOpenAI, ProviderAzure, ProviderGoogle} {
		if b, ok := r.backends[name]; ok && b.phonemizeURL != "" {
			return b.phonemize(ctx, text, language)
		}
	}

	return nil, fmt.Errorf("%w: no backend with a phonemize endpoint", ErrUnknownProvider)
}

func (r *Registry) Speech(ctx context.Context, spec SpeechSpec) ([]byte, error) {
	b, err := r.backend(spec.Provider)
	if err != nil {
		return nil, err
	}

	return b.speech(ctx, spec)
}
