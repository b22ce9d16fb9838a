package feedback

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
	"github.com/ieltslab/feedback-engine/internal/process/mergetag"
)

// Metric status labels.
const (
	statusOK     = "ok"
	statusError  = "error"
	statusReused = "reused"
)

// Executor runs exactly one feed step against one subject.
type Executor struct {
	repo            Repository
	client          llm.Client
	resolver        PromptResolver
	existing        *ExistingContent
	defaultLanguage string
	defaultRegex    string
	logger          *zerolog.Logger
}

func NewExecutor(repo Repository, client llm.Client, resolver PromptResolver, existing *ExistingContent,
	defaultLanguage, defaultRegex string, logger *zerolog.Logger) *Executor {
	return &Executor{
		repo:            repo,
		client:          client,
		resolver:        resolver,
		existing:        existing,
		defaultLanguage: defaultLanguage,
		defaultRegex:    defaultRegex,
		logger:          logger,
	}
}

// StepRequest carries everything one step execution needs.
type StepRequest struct {
	Feed          *domain.Feed
	Step          domain.Step
	SubjectRef    string
	Language      string
	FeedbackStyle string
	GuideScore    string
	GuideFeedback string
	Refetch       string
	UserID        string
}

// Run executes the step and returns its primary content. Cached content is
// served without any provider call unless the refetch directive targets this
// step. Provider failures abort the step without retry.
func (e *Executor) Run(ctx context.Context, req StepRequest, emit Emitter) (string, error) {
	start := time.Now()

	content, err := e.run(ctx, req, emit)

	observability.StepDurationSeconds.WithLabelValues(string(req.Step.Kind)).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.StepsProcessed.WithLabelValues(string(req.Step.Kind), statusError).Inc()

		//nolint:errcheck // the step error itself is what propagates to the caller
		_ = emit.Emit(ctx, domain.ErrorEvent(req.Step.Kind.EventName(), map[string]string{"message": err.Error()}))

		return "", err
	}

	observability.StepsProcessed.WithLabelValues(string(req.Step.Kind), statusOK).Inc()

	return content, nil
}

func (e *Executor) run(ctx context.Context, req StepRequest, emit Emitter) (string, error) {
	step := req.Step
	field := step.Kind.ContentField()
	eventName := step.Kind.EventName()

	if !e.bypassCache(req) && step.Kind != domain.StepTranscribe {
		cached, err := e.existing.Get(ctx, req.SubjectRef, req.Feed.FeedbackCriteria, field)
		if err != nil {
			return "", fmt.Errorf("existing content lookup: %w", err)
		}

		if cached != "" {
			return e.emitReused(ctx, req, emit, eventName, field, cached)
		}
	}

	if step.Kind == domain.StepTranscribe {
		return e.runTranscribe(ctx, req, emit)
	}

	return e.runCompletion(ctx, req, emit)
}

func (e *Executor) bypassCache(req StepRequest) bool {
	return req.Refetch == RefetchAll || req.Refetch == string(req.Step.Kind)
}

// emitReused serves previously computed content without a provider call.
// Thinking-enabled steps surface the cached chain-of-thought alongside.
func (e *Executor) emitReused(ctx context.Context, req StepRequest, emit Emitter, eventName string, field domain.ContentField, cached string) (string, error) {
	observability.ExistingContentHits.WithLabelValues(string(req.Step.Kind)).Inc()

	payload := StepPayload{Content: cached, Reused: true}

	if req.Step.Thinking && field != domain.FieldCot {
		cot, err := e.existing.Get(ctx, req.SubjectRef, req.Feed.FeedbackCriteria, domain.FieldCot)
		if err == nil && cot != "" {
			payload.Reasoning = cot
		}
	}

	if err := emit.Emit(ctx, domain.DataEvent(eventName, payload)); err != nil {
		return "", err
	}

	if err := emit.Emit(ctx, domain.DoneEvent(eventName)); err != nil {
		return "", err
	}

	return cached, nil
}

func (e *Executor) runCompletion(ctx context.Context, req StepRequest, emit Emitter) (string, error) {
	step := req.Step
	eventName := step.Kind.EventName()

	template, err := e.promptForLanguage(step, req.Language)
	if err != nil {
		return "", err
	}

	resolved := e.resolver.Resolve(ctx, template, mergetag.Input{
		SubjectRef:    req.SubjectRef,
		Criteria:      req.Feed.FeedbackCriteria,
		FeedbackStyle: req.FeedbackStyle,
		GuideScore:    req.GuideScore,
		GuideFeedback: req.GuideFeedback,
	})

	spec := domain.CallSpec{
		Provider:    step.Provider,
		Model:       step.Model,
		Temperature: step.Temperature,
		MaxTokens:   step.MaxTokens,
		Thinking:    step.Thinking,
		Guided:      step.Guided,
	}

	var resp llm.Response

	if resolved.IsBatch() {
		spec.Prompts = resolved.Batch

		responses, err := e.client.CompleteParallel(ctx, spec)
		if err != nil {
			return "", err
		}

		resp = joinResponses(responses)
	} else {
		spec.Prompt = resolved.Single

		streamed, err := e.client.CompleteStream(ctx, spec, func(chunk llm.Chunk) {
			//nolint:errcheck // a failed progress flush must not abort the model call mid-stream
			_ = emit.Emit(ctx, domain.ProgressEvent(eventName, map[string]any{"delta": chunk.Text, "reasoning": chunk.Reasoning}))
		})
		if err != nil {
			return "", err
		}

		resp = *streamed
	}

	content := resp.Content
	if step.Kind == domain.StepScoring {
		content = e.resolveScore(req, content)
	}

	e.persist(ctx, req, emit, content, resp.ReasoningContent)

	if err := emit.Emit(ctx, domain.DataEvent(eventName, StepPayload{Content: content, Reasoning: resp.ReasoningContent})); err != nil {
		return "", err
	}

	if err := emit.Emit(ctx, domain.DoneEvent(eventName)); err != nil {
		return "", err
	}

	return content, nil
}

// resolveScore applies the human-guided score when supplied, otherwise
// extracts the score from raw content with the configured pattern. The model
// is always invoked first so its reasoning can be surfaced either way.
func (e *Executor) resolveScore(req StepRequest, raw string) string {
	if req.GuideScore != "" {
		return req.GuideScore
	}

	pattern := req.Step.ScoreRegex
	if pattern == "" {
		pattern = e.defaultRegex
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		e.logger.Warn().Err(err).Str("pattern", pattern).Msg("invalid score regex, returning raw content")

		return raw
	}

	match := re.FindString(raw)
	if match == "" {
		// Soft path: extraction failure is never a hard error.
		e.logger.Debug().Str("content", raw).Msg("score pattern did not match, returning raw content")

		return raw
	}

	return strings.TrimSpace(match)
}

// persist stores the step outcome as a fresh feedback record. Reasoning
// content goes under the chain-of-thought field regardless of the step kind.
// A persistence failure does not abort the step: the caller already holds the
// content, so a supplementary error event is emitted instead.
func (e *Executor) persist(ctx context.Context, req StepRequest, emit Emitter, content, reasoning string) {
	rec := &domain.FeedbackRecord{
		SubjectRef:       req.SubjectRef,
		FeedbackCriteria: req.Feed.FeedbackCriteria,
		Source:           domain.SourceAI,
		Language:         req.Language,
		CreatedBy:        req.UserID,
	}

	rec.SetField(req.Step.Kind.ContentField(), content)

	if reasoning != "" {
		rec.CotContent = reasoning
	}

	if _, err := e.repo.CreateFeedbackRecord(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("subject_ref", req.SubjectRef).Str("step_type", string(req.Step.Kind)).Msg("failed to persist step result")

		//nolint:errcheck // best-effort supplementary notification
		_ = emit.Emit(ctx, domain.ErrorEvent(req.Step.Kind.EventName(), map[string]string{
			"message": "result could not be saved: " + err.Error(),
		}))
	}
}

// promptForLanguage picks the step's prompt for the requested language,
// falling back through x/text language matching to the configured default.
func (e *Executor) promptForLanguage(step domain.Step, requested string) (string, error) {
	if len(step.Prompts) == 0 {
		return "", ErrNoPromptForLanguage
	}

	if requested == "" {
		requested = e.defaultLanguage
	}

	if prompt, ok := step.Prompts[requested]; ok && prompt != "" {
		return prompt, nil
	}

	tags := make([]language.Tag, 0, len(step.Prompts))
	keys := make([]string, 0, len(step.Prompts))

	for key := range step.Prompts {
		tag, err := language.Parse(key)
		if err != nil {
			continue
		}

		tags = append(tags, tag)
		keys = append(keys, key)
	}

	if len(tags) > 0 {
		matcher := language.NewMatcher(tags)
		if _, idx, conf := matcher.Match(language.Make(requested)); conf >= language.High {
			if prompt := step.Prompts[keys[idx]]; prompt != "" {
				return prompt, nil
			}
		}
	}

	if prompt, ok := step.Prompts[e.defaultLanguage]; ok && prompt != "" {
		return prompt, nil
	}

	return "", fmt.Errorf("%w: %q", ErrNoPromptForLanguage, requested)
}

func joinResponses(responses []llm.Response) llm.Response {
	var content, reasoning []string

	for _, r := range responses {
		if r.Content != "" {
			content = append(content, r.Content)
		}

		if r.ReasoningContent != "" {
			reasoning = append(reasoning, r.ReasoningContent)
		}
	}

	return llm.Response{
		Content:          strings.Join(content, "\n\n"),
		ReasoningContent: strings.Join(reasoning, "\n\n"),
	}
}
