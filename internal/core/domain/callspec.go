package domain

// CallSpec describes one outbound AI call. It is constructed per step
// execution and never persisted.
type CallSpec struct {
	Provider    string
	Model       string
	Prompt      string
	Prompts     []string // fan-out prompts; when non-empty, Prompt is ignored
	Temperature float32
	MaxTokens   int
	Thinking    bool // request reasoning content when the backend supports it
	Guided      *GuidedOptions
}

// FanOut reports whether the spec describes a parallel batch call.
func (s CallSpec) FanOut() bool {
	return len(s.Prompts) > 0
}
