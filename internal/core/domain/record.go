package domain

import "time"

// Feedback source constants.
const (
	SourceAI    = "ai"
	SourceHuman = "human"
)

// FeedbackRecord is one persisted outcome of a step, scoped to a subject and
// a feedback criteria. A record may carry only one populated content field;
// the most recent record whose field is non-empty is treated as canonical.
type FeedbackRecord struct {
	ID               string
	SubjectRef       string
	FeedbackCriteria string
	CotContent       string
	ScoreContent     string
	FeedbackContent  string
	Source           string // "ai" or "human"
	Language         string
	CreatedBy        string
	IsPreferred      bool
	CreatedAt        time.Time
}

// Field returns the value of the named content field.
func (r *FeedbackRecord) Field(f ContentField) string {
	switch f {
	case FieldCot:
		return r.CotContent
	case FieldScore:
		return r.ScoreContent
	default:
		return r.FeedbackContent
	}
}

// SetField assigns the named content field.
func (r *FeedbackRecord) SetField(f ContentField, value string) {
	switch f {
	case FieldCot:
		r.CotContent = value
	case FieldScore:
		r.ScoreContent = value
	default:
		r.FeedbackContent = value
	}
}

// Speech is an evaluated spoken response. Attempt-scoped subjects resolve to
// the speech rows of the attempt.
type Speech struct {
	ID             string
	AttemptID      int64
	Title          string
	TranscriptText string
	Language       string
	CreatedAt      time.Time
}

// AudioSegment is one recorded audio reference of a subject. TranscriptText
// doubles as the per-segment transcription cache: empty means the segment has
// not been transcribed yet.
type AudioSegment struct {
	ID             string
	SubjectRef     string
	Position       int
	StorageURL     string
	TranscriptText string
	DurationMs     int64
	CreatedAt      time.Time
}
