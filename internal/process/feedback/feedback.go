// Package feedback runs configured evaluation feeds against subjects: it
// executes each step (transcribe, chain-of-thought, scoring, feedback),
// reuses previously computed content, merges human overrides and streams
// progress events to the caller.
package feedback

import (
	"context"
	"errors"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/process/mergetag"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

// Refetch directive bypassing the existing-content lookup for every step.
// Any other non-empty value names a single step type to bypass.
const RefetchAll = "all"

// Package errors.
var (
	ErrNoPromptForLanguage = errors.New("step has no prompt for the requested language")
	ErrInvalidSubject      = errors.New("invalid subject reference")
)

// Repository is the persistence surface the pipeline reads and writes.
type Repository interface {
	GetFeed(ctx context.Context, feedID string) (*domain.Feed, error)
	ListFeedbackRecords(ctx context.Context, subjectRef, criteria string, q db.RecordQuery) ([]domain.FeedbackRecord, error)
	CreateFeedbackRecord(ctx context.Context, rec *domain.FeedbackRecord) (string, error)
	GetAudioSegments(ctx context.Context, subjectRef string) ([]domain.AudioSegment, error)
	SetSegmentTranscription(ctx context.Context, segmentID, text string) error
	UpdateSpeechTranscript(ctx context.Context, speechID, transcript string) error
}

// Compile-time assertion that *db.DB implements Repository.
var _ Repository = (*db.DB)(nil)

// Emitter pushes progress events to the caller. Implementations must flush
// each event before returning; emission order is delivery order.
type Emitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// PromptResolver expands merge tags in prompt templates.
type PromptResolver interface {
	Resolve(ctx context.Context, template string, in mergetag.Input) mergetag.Resolved
}

// Compile-time assertion that *mergetag.Resolver implements PromptResolver.
var _ PromptResolver = (*mergetag.Resolver)(nil)

// StepPayload is the body of step-level data events.
type StepPayload struct {
	Content   string `json:"content"`
	Reasoning string `json:"reasoning,omitempty"`
	Reused    bool   `json:"reused,omitempty"`
}
