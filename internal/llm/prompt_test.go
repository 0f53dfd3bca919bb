package llm

import (
	"strings"
	"testing"
)

func TestPromptBuilder_Render(t *testing.T) {
	got := NewPromptBuilder().
		User("What is the weather?").
		Knowledge("ask about weather").
		Assistant("It looks sunny today.").
		Render()

	want := "<|user|>What is the weather?<|end|>\n" +
		"<|knowledge|>ask about weather<|end|>\n" +
		"<|assistant|>It looks sunny today.<|end|>\n" +
		"<|assistant|>"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestPromptBuilder_EmptySegmentsDropped(t *testing.T) {
	b := NewPromptBuilder().User("  ").Knowledge("").User("hello")
	if b.Len() != 1 {
		t.Errorf("Len() = %d, want 1", b.Len())
	}
	if !strings.Contains(b.Render(), "<|user|>hello<|end|>") {
		t.Errorf("Render() = %q", b.Render())
	}
}

func TestPromptBuilder_EmptyRendersOpenTag(t *testing.T) {
	if got := NewPromptBuilder().Render(); got != "<|assistant|>" {
		t.Errorf("Render() = %q, want open assistant tag only", got)
	}
}

func TestCleanResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "It looks sunny today.", "It looks sunny today."},
		{"leading whitespace", "  \n It looks sunny. \n", "It looks sunny."},
		{"model runs past its turn", "Sure thing.<|end|>\n<|user|>thanks", "Sure thing."},
		{"marker glued to text", "<|assistant|>Hello there.<|end|>", "Hello there."},
		{"only markers", "<|end|><|assistant|>", ""},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanResponse(tc.raw); got != tc.want {
				t.Errorf("CleanResponse(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}
