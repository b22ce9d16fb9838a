package feedback

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
	"github.com/ieltslab/feedback-engine/internal/core/llm"
	"github.com/ieltslab/feedback-engine/internal/platform/observability"
)

// Step extra-field keys recognized by transcribe steps.
const (
	extraKeyFormat        = "format"
	extraKeyGranularities = "granularities"
)

// runTranscribe resolves the subject's audio references, transcribes the ones
// without a cached transcription in parallel, and returns every transcript
// concatenated in reference order. Per-segment transcriptions are persisted
// on the audio reference, not as feedback records.
func (e *Executor) runTranscribe(ctx context.Context, req StepRequest, emit Emitter) (string, error) {
	eventName := req.Step.Kind.EventName()

	segments, err := e.repo.GetAudioSegments(ctx, req.SubjectRef)
	if err != nil {
		return "", fmt.Errorf("resolve audio references: %w", err)
	}

	if len(segments) == 0 {
		return "", fmt.Errorf("%w: subject %q has no audio", ErrInvalidSubject, req.SubjectRef)
	}

	prompt := ""
	if len(req.Step.Prompts) > 0 {
		// Transcription prompts are plain context hints; merge tags do not
		// apply before a transcript exists.
		prompt, _ = e.promptForLanguage(req.Step, req.Language)
	}

	texts := make([]string, len(segments))

	var (
		pending []int
		specs   []llm.TranscribeSpec
	)

	for i, seg := range segments {
		if seg.TranscriptText != "" {
			texts[i] = seg.TranscriptText

			observability.TranscriptionSegments.WithLabelValues(statusReused).Inc()

			continue
		}

		pending = append(pending, i)
		specs = append(specs, llm.TranscribeSpec{
			Provider:      req.Step.Provider,
			Model:         req.Step.Model,
			AudioURL:      seg.StorageURL,
			Prompt:        prompt,
			Format:        req.Step.Extra[extraKeyFormat],
			Granularities: splitList(req.Step.Extra[extraKeyGranularities]),
			Language:      req.Language,
		})
	}

	if len(specs) > 0 {
		if err := emit.Emit(ctx, domain.ProgressEvent(eventName, map[string]int{"segments": len(specs)})); err != nil {
			return "", err
		}

		results, err := e.client.TranscribeBatch(ctx, specs)
		if err != nil {
			observability.TranscriptionSegments.WithLabelValues(statusError).Add(float64(len(specs)))

			return "", err
		}

		for n, idx := range pending {
			texts[idx] = results[n].Text

			observability.TranscriptionSegments.WithLabelValues(statusOK).Inc()

			if err := e.repo.SetSegmentTranscription(ctx, segments[idx].ID, results[n].Text); err != nil {
				e.logger.Error().Err(err).Str("segment_id", segments[idx].ID).Msg("failed to cache segment transcription")
			}
		}
	}

	full := strings.Join(nonEmpty(texts), "\n")

	// Speech-scoped subjects also carry the assembled transcript directly.
	if _, err := uuid.Parse(req.SubjectRef); err == nil {
		if err := e.repo.UpdateSpeechTranscript(ctx, req.SubjectRef, full); err != nil {
			e.logger.Error().Err(err).Str("subject_ref", req.SubjectRef).Msg("failed to store speech transcript")
		}
	}

	if err := emit.Emit(ctx, domain.DataEvent(eventName, StepPayload{Content: full})); err != nil {
		return "", err
	}

	if err := emit.Emit(ctx, domain.DoneEvent(eventName)); err != nil {
		return "", err
	}

	return full, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	var out []string

	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

func nonEmpty(values []string) []string {
	out := values[:0:0]

	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}

	return out
}
