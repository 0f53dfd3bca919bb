package llm

import (
	"regexp"
	"strings"
)

// Role tags a prompt segment. The model was tuned on conversations rendered
// with these three roles only.
type Role string

const (
	RoleUser      Role = "user"
	RoleKnowledge Role = "knowledge"
	RoleAssistant Role = "assistant"
)

type segment struct {
	role Role
	text string
}

// PromptBuilder assembles a raw completion prompt from typed role segments.
// Render produces the delimiter format in one place so callers never touch
// marker strings directly.
type PromptBuilder struct {
	segments []segment
}

// NewPromptBuilder returns an empty builder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Add appends one segment. Empty text is dropped.
func (b *PromptBuilder) Add(role Role, text string) *PromptBuilder {
	text = strings.TrimSpace(text)
	if text != "" {
		b.segments = append(b.segments, segment{role: role, text: text})
	}
	return b
}

// User appends a user segment.
func (b *PromptBuilder) User(text string) *PromptBuilder {
	return b.Add(RoleUser, text)
}

// Knowledge appends a knowledge segment carrying a thought.
func (b *PromptBuilder) Knowledge(text string) *PromptBuilder {
	return b.Add(RoleKnowledge, text)
}

// Assistant appends a completed assistant segment.
func (b *PromptBuilder) Assistant(text string) *PromptBuilder {
	return b.Add(RoleAssistant, text)
}

// Render returns the full prompt: each segment as <|role|>text<|end|>, then
// an open assistant tag that the model completes.
func (b *PromptBuilder) Render() string {
	var sb strings.Builder
	for _, s := range b.segments {
		sb.WriteString("<|")
		sb.WriteString(string(s.role))
		sb.WriteString("|>")
		sb.WriteString(s.text)
		sb.WriteString("<|end|>\n")
	}
	sb.WriteString("<|")
	sb.WriteString(string(RoleAssistant))
	sb.WriteString("|>")
	return sb.String()
}

// Len returns the number of segments added so far.
func (b *PromptBuilder) Len() int { return len(b.segments) }

var markerPattern = regexp.MustCompile(`<\|[a-z]+\|>`)

// CleanResponse normalizes a raw completion: role markers are stripped and
// only the first non-empty line is kept, since raw mode lets the model run
// past its own turn.
func CleanResponse(raw string) string {
	cleaned := markerPattern.ReplaceAllString(raw, "")
	for _, line := range strings.Split(cleaned, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
