package mergetag

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

type fakeRepo struct {
	transcript string
	speeches   []domain.Speech
	records    []domain.FeedbackRecord
}

func (f *fakeRepo) GetSubjectTranscript(_ context.Context, _ string) (string, error) {
	return f.transcript, nil
}

func (f *fakeRepo) GetAttemptSpeeches(_ context.Context, _ int64) ([]domain.Speech, error) {
	return f.speeches, nil
}

func (f *fakeRepo) ListFeedbackRecords(_ context.Context, _, criteria string, _ db.RecordQuery) ([]domain.FeedbackRecord, error) {
	var out []domain.FeedbackRecord

	for _, r := range f.records {
		if r.FeedbackCriteria == criteria {
			out = append(out, r)
		}
	}

	return out, nil
}

func newResolver(repo Repository) *Resolver {
	logger := zerolog.Nop()

	return New(repo, true, &logger)
}

func TestResolve_NoTags(t *testing.T) {
	r := newResolver(&fakeRepo{})

	got := r.Resolve(context.Background(), "Evaluate the response.", Input{})
	assert.False(t, got.IsBatch())
	assert.Equal(t, "Evaluate the response.", got.Single)
}

func TestResolve_Transcript(t *testing.T) {
	r := newResolver(&fakeRepo{transcript: "hello examiner"})

	got := r.Resolve(context.Background(), "Transcript:\n{|speech:transcript_text|}", Input{SubjectRef: "s-1"})
	assert.Equal(t, "Transcript:\nhello examiner", got.Single)
}

func TestResolve_GuidanceTags(t *testing.T) {
	r := newResolver(&fakeRepo{})

	in := Input{FeedbackStyle: "strict", GuideScore: "7", GuideFeedback: "mention pacing"}

	got := r.Resolve(context.Background(), "style={|feedback_style|} score={|guide_score|} note={|guide_feedback|}", in)
	assert.Equal(t, "style=strict score=7 note=mention pacing", got.Single)
}

func TestResolve_UnknownTagBecomesEmpty(t *testing.T) {
	r := newResolver(&fakeRepo{})

	got := r.Resolve(context.Background(), "before {|no_such_tag|} after", Input{})
	assert.Equal(t, "before  after", got.Single)
}

func TestResolve_FeedbackFieldWithCriteriaOverride(t *testing.T) {
	repo := &fakeRepo{records: []domain.FeedbackRecord{
		{FeedbackCriteria: "coherence", ScoreContent: "6"},
		{FeedbackCriteria: "fluency", ScoreContent: "8"},
	}}
	r := newResolver(repo)

	got := r.Resolve(context.Background(),
		"prior: {|speech_feedback:score_content[feedback_criteria:fluency]|}",
		Input{SubjectRef: "s-1", Criteria: "coherence"})
	assert.Equal(t, "prior: 8", got.Single)
}

func TestResolve_FeedbackFieldSkipsEmptyRecords(t *testing.T) {
	repo := &fakeRepo{records: []domain.FeedbackRecord{
		{FeedbackCriteria: "coherence", ScoreContent: ""},
		{FeedbackCriteria: "coherence", ScoreContent: "7"},
	}}
	r := newResolver(repo)

	got := r.Resolve(context.Background(), "{|speech_feedback:score_content|}", Input{Criteria: "coherence"})
	assert.Equal(t, "7", got.Single)
}

func TestResolve_AttemptTranscriptFansOut(t *testing.T) {
	repo := &fakeRepo{speeches: []domain.Speech{
		{Title: "Part 1", TranscriptText: "first answer"},
		{Title: "Part 2", TranscriptText: "second answer"},
	}}
	r := newResolver(repo)

	got := r.Resolve(context.Background(), "Evaluate: {|attempt_transcript|}", Input{SubjectRef: "42"})
	require.True(t, got.IsBatch())
	require.Len(t, got.Batch, 2)
	assert.Equal(t, "Evaluate: first answer", got.Batch[0])
	assert.Equal(t, "Evaluate: second answer", got.Batch[1])
}

func TestResolve_AttemptTitleStaysSingle(t *testing.T) {
	repo := &fakeRepo{speeches: []domain.Speech{
		{Title: "Part 1"},
		{Title: "Part 2"},
	}}
	r := newResolver(repo)

	got := r.Resolve(context.Background(), "Task: {|attempt_title|}", Input{SubjectRef: "42"})
	assert.False(t, got.IsBatch())
	assert.Equal(t, "Task: Part 1, Part 2", got.Single)
}

func TestResolve_BatchKeepsOtherTags(t *testing.T) {
	repo := &fakeRepo{
		speeches: []domain.Speech{
			{TranscriptText: "one"},
			{TranscriptText: "two"},
		},
	}
	r := newResolver(repo)

	got := r.Resolve(context.Background(), "{|guide_score|}: {|attempt_transcript|}", Input{SubjectRef: "42", GuideScore: "7"})
	require.True(t, got.IsBatch())
	assert.Equal(t, []string{"7: one", "7: two"}, got.Batch)
}
