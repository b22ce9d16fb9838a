package feedback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/process/mergetag"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu       sync.Mutex
	feed     *domain.Feed
	records  []domain.FeedbackRecord
	segments []domain.AudioSegment

	createErr    error
	createdCount int
}

func (f *fakeRepo) GetFeed(_ context.Context, feedID string) (*domain.Feed, error) {
	if f.feed == nil || f.feed.ID != feedID {
		return nil, db.ErrFeedNotFound
	}

	return f.feed, nil
}

func (f *fakeRepo) ListFeedbackRecords(_ context.Context, subjectRef, criteria string, q db.RecordQuery) ([]domain.FeedbackRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.FeedbackRecord

	for _, r := range f.records {
		if r.SubjectRef == subjectRef && r.FeedbackCriteria == criteria {
			out = append(out, r)
		}
	}

	if q.OrderDesc {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}

	return out, nil
}

func (f *fakeRepo) CreateFeedbackRecord(_ context.Context, rec *domain.FeedbackRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return "", f.createErr
	}

	f.createdCount++
	rec.ID = fmt.Sprintf("rec-%d", f.createdCount)
	f.records = append(f.records, *rec)

	return rec.ID, nil
}

func (f *fakeRepo) GetAudioSegments(_ context.Context, _ string) ([]domain.AudioSegment, error) {
	return f.segments, nil
}

func (f *fakeRepo) SetSegmentTranscription(_ context.Context, segmentID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.segments {
		if f.segments[i].ID == segmentID {
			f.segments[i].TranscriptText = text
		}
	}

	return nil
}

func (f *fakeRepo) UpdateSpeechTranscript(_ context.Context, _, _ string) error {
	return nil
}

func (f *fakeRepo) lastRecord() domain.FeedbackRecord {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.records[len(f.records)-1]
}

// fakeClient is a scripted llm.Client counting invocations.
type fakeClient struct {
	mu          sync.Mutex
	response    llm.Response
	err         error
	delay       time.Duration
	calls       int
	lastPrompt  string
	lastPrompts []string
}

func (f *fakeClient) Complete(ctx context.Context, spec domain.CallSpec) (*llm.Response, error) {
	return f.CompleteStream(ctx, spec, nil)
}

func (f *fakeClient) CompleteStream(ctx context.Context, spec domain.CallSpec, handler llm.StreamHandler) (*llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.lastPrompt = spec.Prompt
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	if handler != nil && f.response.Content != "" {
		handler(llm.Chunk{Text: f.response.Content})
	}

	resp := f.response

	return &resp, nil
}

func (f *fakeClient) CompleteParallel(_ context.Context, spec domain.CallSpec) ([]llm.Response, error) {
	f.mu.Lock()
	f.calls++
	f.lastPrompts = spec.Prompts
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	out := make([]llm.Response, len(spec.Prompts))
	for i, p := range spec.Prompts {
		out[i] = llm.Response{Content: f.response.Content + " " + p}
	}

	return out, nil
}

func (f *fakeClient) Transcribe(_ context.Context, spec llm.TranscribeSpec) (*llm.Transcription, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	return &llm.Transcription{Text: "transcript of " + spec.AudioURL}, nil
}

func (f *fakeClient) TranscribeBatch(ctx context.Context, specs []llm.TranscribeSpec) ([]llm.Transcription, error) {
	out := make([]llm.Transcription, len(specs))

	for i, spec := range specs {
		resp, err := f.Transcribe(ctx, spec)
		if err != nil {
			return nil, err
		}

		out[i] = *resp
	}

	return out, nil
}

func (f *fakeClient) Phonemize(_ context.Context, text, _ string) (*llm.PhonemeResult, error) {
	return &llm.PhonemeResult{Phonemes: text}, nil
}

func (f *fakeClient) Speech(_ context.Context, _ llm.SpeechSpec) ([]byte, error) {
	return []byte("audio"), nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// recordingEmitter captures events in emission order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEmitter) Emit(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	return nil
}

// names lists "NAME(kind)" for every captured non-progress event.
func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string

	for _, ev := range r.events {
		if ev.Kind == domain.EventProgress {
			continue
		}

		out = append(out, fmt.Sprintf("%s(%s)", ev.Name, ev.Kind))
	}

	return out
}

func testLogger() *zerolog.Logger {
	logger := zerolog.Nop()

	return &logger
}

func newTestExecutor(repo *fakeRepo, client *fakeClient) *Executor {
	logger := testLogger()
	resolver := noopResolver{}
	existing := NewExistingContent(repo, true)

	return NewExecutor(repo, client, resolver, existing, "en", `\d+`, logger)
}

// noopResolver returns templates unchanged.
type noopResolver struct{}

func (noopResolver) Resolve(_ context.Context, template string, _ mergetag.Input) mergetag.Resolved {
	return mergetag.Resolved{Single: template}
}

// batchResolver fans every template out into fixed prompt variants.
type batchResolver struct {
	values []string
}

func (b batchResolver) Resolve(_ context.Context, template string, _ mergetag.Input) mergetag.Resolved {
	batch := make([]string, len(b.values))
	for i, v := range b.values {
		batch[i] = template + " " + v
	}

	return mergetag.Resolved{Batch: batch}
}
