// Package session orchestrates one conversation: utterances in, immediate
// and thought-enhanced responses out, one turn at a time.
package session

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the visible conversation history. The assistant turn
// of an active exchange grows as thought-enhanced responses are appended.
type Turn struct {
	Role    Role
	Content string
}

// ThoughtResponsePair records one thought and the response it produced
// within a turn. Pairs feed back into later prompts of the same turn so each
// enhanced response builds on the previous ones.
type ThoughtResponsePair struct {
	Thought  string
	Response string
}

// SilenceThought is the reserved pseudo-thought recorded when a filler is
// spoken because the thought stream stayed quiet. It never appears in the
// visible history and never collides with real thought text.
const SilenceThought = "<silence>"
