package feedback

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
)

const logFieldCorrelationID = "correlation_id"

// retryHint accompanies feed-level errors as a call-to-action for the client.
const retryHint = "Please try again."

// StepRunner executes one feed step. Satisfied by *Executor.
type StepRunner interface {
	Run(ctx context.Context, req StepRequest, emit Emitter) (string, error)
}

// Compile-time assertion that *Executor implements StepRunner.
var _ StepRunner = (*Executor)(nil)

// Orchestrator walks a feed's steps in configured order and reports
// feed-level lifecycle events. Steps never run concurrently with each other;
// concurrency exists only inside a step's provider fan-out.
type Orchestrator struct {
	repo   Repository
	runner StepRunner
	logger *zerolog.Logger
}

func NewOrchestrator(repo Repository, runner StepRunner, logger *zerolog.Logger) *Orchestrator {
	return &Orchestrator{repo: repo, runner: runner, logger: logger}
}

// ProcessRequest is one feed-processing invocation.
type ProcessRequest struct {
	FeedID        string
	SubjectRef    string
	Language      string
	FeedbackStyle string
	GuideScore    string
	GuideFeedback string
	Refetch       string
	UserID        string
}

// StepResult pairs a step type with the content it produced.
type StepResult struct {
	StepType string `json:"step_type"`
	Content  string `json:"content"`
}

// ProcessFeed runs every step of the feed in order against the subject,
// emitting feed_start first and feed_complete (with the ordered step results)
// or feed_error last. The first step failure terminates the feed; no retries
// happen here — retry policy belongs to the caller re-invoking the feed.
// With an unset refetch directive the call is idempotent with respect to
// previously computed content.
func (o *Orchestrator) ProcessFeed(ctx context.Context, req ProcessRequest, emit Emitter) error {
	correlationID := uuid.New().String()
	logger := o.logger.With().Str(logFieldCorrelationID, correlationID).Str("feed_id", req.FeedID).Str("subject_ref", req.SubjectRef).Logger()

	feed, err := o.repo.GetFeed(ctx, req.FeedID)
	if err != nil {
		observability.FeedsProcessed.WithLabelValues(statusError).Inc()

		//nolint:errcheck // the lookup error itself is what propagates
		_ = emit.Emit(ctx, domain.ErrorEvent(domain.EventFeedError, map[string]string{
			"feed_id": req.FeedID,
			"title":   "Feed not found",
			"message": err.Error(),
			"hint":    retryHint,
		}))

		return fmt.Errorf("load feed %q: %w", req.FeedID, err)
	}

	logger.Info().Str("criteria", feed.FeedbackCriteria).Int("steps", len(feed.Steps)).Msg("feed processing started")

	if err := emit.Emit(ctx, domain.DataEvent(domain.EventFeedStart, map[string]string{
		"feed_id":           feed.ID,
		"title":             feed.Title,
		"feedback_criteria": feed.FeedbackCriteria,
	})); err != nil {
		return err
	}

	results := make([]StepResult, 0, len(feed.Steps))

	for _, step := range feed.Steps {
		stepReq := StepRequest{
			Feed:          feed,
			Step:          step,
			SubjectRef:    req.SubjectRef,
			Language:      req.Language,
			FeedbackStyle: req.FeedbackStyle,
			GuideScore:    req.GuideScore,
			GuideFeedback: req.GuideFeedback,
			Refetch:       req.Refetch,
			UserID:        req.UserID,
		}

		content, err := o.runner.Run(ctx, stepReq, emit)
		if err != nil {
			logger.Error().Err(err).Str("step_type", string(step.Kind)).Msg("step failed, terminating feed")
			observability.FeedsProcessed.WithLabelValues(statusError).Inc()

			//nolint:errcheck // the step error itself is what propagates
			_ = emit.Emit(ctx, domain.ErrorEvent(domain.EventFeedError, map[string]string{
				"feed_id": feed.ID,
				"title":   feed.Title,
				"message": err.Error(),
				"hint":    retryHint,
			}))

			return fmt.Errorf("step %s: %w", step.Kind, err)
		}

		results = append(results, StepResult{StepType: string(step.Kind), Content: content})
	}

	observability.FeedsProcessed.WithLabelValues(statusOK).Inc()
	logger.Info().Int("steps", len(results)).Msg("feed processing complete")

	return emit.Emit(ctx, domain.DataEvent(domain.EventFeedComplete, map[string]any{
		"feed_id": feed.ID,
		"results": results,
	}))
}
