package domain

import (
	"strings"
	"time"
)

// Feed is a named multi-step evaluation pipeline for one scoring criterion.
// Feeds are authored through the configuration surface and are read-only to
// the processing pipeline.
type Feed struct {
	ID               string    // Unique identifier for the feed
	Title            string    // Human-readable title, used in feed-level events
	Description      string    // Optional description
	ApplyTo          string    // Subject scope: "speech" or "attempt"
	FeedbackCriteria string    // Scoring dimension key, e.g. "coherence"
	ProcessOrder     int       // Ordering hint among sibling feeds
	Steps            []Step    // Ordered pipeline stages
	CreatedAt        time.Time // Creation timestamp
}

// Feed scope constants.
const (
	ApplyToSpeech  = "speech"
	ApplyToAttempt = "attempt"
)

// Step is one configured stage of a Feed.
type Step struct {
	ID          string
	Kind        StepKind
	Position    int
	Provider    string             // Provider id, e.g. "open-ai", "vllm"
	Model       string             // Model id at the provider
	Temperature float32
	MaxTokens   int
	Thinking    bool               // Request reasoning content from the model
	ScoreRegex  string             // Score extraction pattern; empty means the default
	Guided      *GuidedOptions     // Optional decoding constraint
	Prompts     map[string]string  // Prompt template per language tag
	Extra       map[string]string  // Forward-compatible unknown fields
}

// GuidedKind selects the decoding constraint flavor.
type GuidedKind string

// Guided decoding kinds.
const (
	GuidedChoice GuidedKind = "choice"
	GuidedRegex  GuidedKind = "regex"
	GuidedJSON   GuidedKind = "json"
)

// GuidedOptions constrains model output to an enum, regex, or JSON schema.
type GuidedOptions struct {
	Kind GuidedKind
	// Value holds the constraint body: a comma-separated option list for
	// GuidedChoice, a regex for GuidedRegex, a JSON schema for GuidedJSON.
	Value string
}

// Choices decodes the comma-separated guided-choice value into its option
// list. Returns nil for non-choice constraints.
func (g *GuidedOptions) Choices() []string {
	if g == nil || g.Kind != GuidedChoice {
		return nil
	}

	var out []string

	for _, c := range strings.Split(g.Value, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}

	return out
}
