// Package mergetag expands {|...|} placeholders embedded in prompt templates
// into literal values sourced from the persistence layer and caller-supplied
// guidance. Resolution is best-effort: an unresolvable tag becomes an empty
// string, never an error for the whole template.
package mergetag

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	db "github.com/ieltslab/feedback-engine/internal/storage"
)

// Tag families.
const (
	tagSpeech            = "speech"
	tagSpeechFeedback    = "speech_feedback"
	tagFeedbackStyle     = "feedback_style"
	tagGuideScore        = "guide_score"
	tagGuideFeedback     = "guide_feedback"
	tagAttemptTitle      = "attempt_title"
	tagAttemptTranscript = "attempt_transcript"

	argTranscriptText = "transcript_text"
	optCriteria       = "feedback_criteria"
)

// tagPattern matches {|family|}, {|family:arg|} and {|family:arg[opt:value]|}.
var tagPattern = regexp.MustCompile(`\{\|([a-z_]+)(?::([a-z_]+))?(?:\[([a-z_]+):([^\]|]+)\])?\|\}`)

// Repository is the read-only persistence surface the resolver pulls from.
type Repository interface {
	GetSubjectTranscript(ctx context.Context, subjectRef string) (string, error)
	GetAttemptSpeeches(ctx context.Context, attemptID int64) ([]domain.Speech, error)
	ListFeedbackRecords(ctx context.Context, subjectRef, criteria string, q db.RecordQuery) ([]domain.FeedbackRecord, error)
}

// Compile-time assertion that *db.DB implements Repository.
var _ Repository = (*db.DB)(nil)

// Input carries the per-invocation values tags may reference.
type Input struct {
	SubjectRef    string
	Criteria      string // default criteria for speech_feedback tags without an override
	FeedbackStyle string
	GuideScore    string
	GuideFeedback string
}

// Resolved is the tagged result of template expansion: either one expanded
// template or one per value of a multi-valued tag.
type Resolved struct {
	Single string
	Batch  []string
}

// IsBatch reports whether resolution fanned out into multiple templates.
func (r Resolved) IsBatch() bool {
	return len(r.Batch) > 0
}

// Values returns the expanded templates as a slice, batch or not.
func (r Resolved) Values() []string {
	if r.IsBatch() {
		return r.Batch
	}

	return []string{r.Single}
}

// Resolver expands merge tags. It performs read-only lookups and has no
// other side effects.
type Resolver struct {
	repo      Repository
	orderDesc bool
	logger    *zerolog.Logger
}

func New(repo Repository, orderDesc bool, logger *zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, orderDesc: orderDesc, logger: logger}
}

// Resolve expands every tag in the template. When a tag family yields
// multiple discrete values (per-speech transcripts of an attempt), the result
// is a batch with one expanded template per value; all remaining tags resolve
// to their single value in each copy. At most one tag fans out per template:
// additional multi-valued tags have their values joined with newlines.
func (r *Resolver) Resolve(ctx context.Context, template string, in Input) Resolved {
	matches := tagPattern.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		return Resolved{Single: template}
	}

	var batchValues []string

	expandedOnce := template

	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		family := submatch(template, m, 1)
		arg := submatch(template, m, 2)
		optKey := submatch(template, m, 3)
		optVal := submatch(template, m, 4)

		values := r.lookup(ctx, family, arg, optKey, optVal, in)

		replacement := strings.Join(values, "\n")
		if len(values) > 1 && batchValues == nil {
			// First multi-valued tag triggers the fan-out; mark its spot.
			batchValues = values
			replacement = batchMarker
		}

		expandedOnce = expandedOnce[:m[0]] + replacement + expandedOnce[m[1]:]
	}

	if batchValues == nil {
		return Resolved{Single: expandedOnce}
	}

	batch := make([]string, len(batchValues))
	for i, v := range batchValues {
		batch[i] = strings.Replace(expandedOnce, batchMarker, v, 1)
	}

	return Resolved{Batch: batch}
}

// batchMarker is an internal placeholder; it never appears in stored prompts.
const batchMarker = "\x00mergetag:batch\x00"

func (r *Resolver) lookup(ctx context.Context, family, arg, optKey, optVal string, in Input) []string {
	switch family {
	case tagSpeech:
		if arg == argTranscriptText {
			return []string{r.subjectTranscript(ctx, in.SubjectRef)}
		}
	case tagSpeechFeedback:
		criteria := in.Criteria
		if optKey == optCriteria && optVal != "" {
			criteria = optVal
		}

		return []string{r.feedbackField(ctx, in.SubjectRef, criteria, arg)}
	case tagFeedbackStyle:
		return []string{in.FeedbackStyle}
	case tagGuideScore:
		return []string{in.GuideScore}
	case tagGuideFeedback:
		return []string{in.GuideFeedback}
	case tagAttemptTitle:
		return []string{strings.Join(r.attemptField(ctx, in.SubjectRef, false), ", ")}
	case tagAttemptTranscript:
		return r.attemptField(ctx, in.SubjectRef, true)
	}

	r.logger.Debug().Str("family", family).Str("arg", arg).Msg("unknown merge tag, substituting empty string")

	return []string{""}
}

func (r *Resolver) subjectTranscript(ctx context.Context, subjectRef string) string {
	text, err := r.repo.GetSubjectTranscript(ctx, subjectRef)
	if err != nil {
		r.logger.Debug().Err(err).Str("subject_ref", subjectRef).Msg("transcript lookup failed, substituting empty string")

		return ""
	}

	return text
}

// feedbackField returns the most recent non-empty value of the named content
// field for the subject and criteria.
func (r *Resolver) feedbackField(ctx context.Context, subjectRef, criteria, field string) string {
	records, err := r.repo.ListFeedbackRecords(ctx, subjectRef, criteria, db.RecordQuery{OrderDesc: r.orderDesc})
	if err != nil {
		r.logger.Debug().Err(err).Str("subject_ref", subjectRef).Msg("feedback lookup failed, substituting empty string")

		return ""
	}

	for _, rec := range records {
		if v := rec.Field(domain.ContentField(field)); v != "" {
			return v
		}
	}

	return ""
}

// attemptField returns per-speech transcripts or titles for a numeric
// attempt reference. Non-attempt references yield a single empty value.
func (r *Resolver) attemptField(ctx context.Context, subjectRef string, transcript bool) []string {
	attemptID, err := strconv.ParseInt(subjectRef, 10, 64)
	if err != nil {
		return []string{""}
	}

	speeches, err := r.repo.GetAttemptSpeeches(ctx, attemptID)
	if err != nil {
		r.logger.Debug().Err(err).Str("subject_ref", subjectRef).Msg("attempt lookup failed, substituting empty string")

		return []string{""}
	}

	values := make([]string, len(speeches))

	for i, s := range speeches {
		if transcript {
			values[i] = s.TranscriptText
		} else {
			values[i] = s.Title
		}
	}

	return values
}

func submatch(s string, m []int, i int) string {
	if m[2*i] < 0 {
		return ""
	}

	return s[m[2*i]:m[2*i+1]]
}
