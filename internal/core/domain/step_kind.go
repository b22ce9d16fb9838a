package domain

import "strings"

// StepKind identifies the stage type of a feed step. The kind determines
// which feedback-record content field the step reads and writes.
type StepKind string

// Step kinds.
const (
	StepTranscribe     StepKind = "transcribe"
	StepChainOfThought StepKind = "chain-of-thought"
	StepScoring        StepKind = "scoring"
	StepFeedback       StepKind = "feedback"
)

// ContentField names a column of a feedback record.
type ContentField string

// Content fields.
const (
	FieldCot      ContentField = "cot_content"
	FieldScore    ContentField = "score_content"
	FieldFeedback ContentField = "feedback_content"
)

// ContentField returns the record field this step kind persists to.
// Unknown kinds fall through to the feedback field.
func (k StepKind) ContentField() ContentField {
	switch k {
	case StepChainOfThought:
		return FieldCot
	case StepScoring:
		return FieldScore
	default:
		return FieldFeedback
	}
}

// EventName returns the upper-snake event-type name used on the wire,
// e.g. "CHAIN_OF_THOUGHT" for chain-of-thought.
func (k StepKind) EventName() string {
	return strings.ToUpper(strings.ReplaceAll(string(k), "-", "_"))
}

// Valid reports whether k is one of the known step kinds.
func (k StepKind) Valid() bool {
	switch k {
	case StepTranscribe, StepChainOfThought, StepScoring, StepFeedback:
		return true
	default:
		return false
	}
}
