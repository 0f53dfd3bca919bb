package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/inference"
)

// fakeGen answers prompts by echoing a canned response per call and records
// every prompt it saw.
type fakeGen struct {
	mu        sync.Mutex
	prompts   []string
	responses []string
	errs      []error
	calls     int
}

func (g *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", fmt.Errorf("unexpected generation call %d", i)
}

func (g *fakeGen) seenPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.prompts))
	copy(out, g.prompts)
	return out
}

// fakeThoughts serves a fixed stream body, or fails to open.
type fakeThoughts struct {
	body    string
	openErr error
}

func (f *fakeThoughts) Open(context.Context, []Turn) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

// fakeSpeech records pushed texts and completes immediately on Close.
type fakeSpeech struct {
	mu     sync.Mutex
	pushes []string
	done   chan struct{}
}

func newFakeSpeech() *fakeSpeech {
	return &fakeSpeech{done: make(chan struct{})}
}

func (s *fakeSpeech) Push(text string) {
	s.mu.Lock()
	s.pushes = append(s.pushes, text)
	s.mu.Unlock()
}

func (s *fakeSpeech) Close()                { close(s.done) }
func (s *fakeSpeech) Done() <-chan struct{} { return s.done }

func (s *fakeSpeech) pushed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.pushes))
	copy(out, s.pushes)
	return out
}

type fixture struct {
	orch   *Orchestrator
	gen    Generator
	speech *fakeSpeech
	queue  *inference.Queue
}

func newFixture(t *testing.T, gen Generator, src ThoughtSource, cfg Config) *fixture {
	t.Helper()
	q := inference.NewQueue(zap.NewNop().Sugar(), nil)
	t.Cleanup(q.Close)
	sp := newFakeSpeech()
	orch := NewOrchestrator(cfg, q, nil, gen, src,
		func(context.Context) Speech { return sp }, zap.NewNop().Sugar(), nil)
	return &fixture{orch: orch, gen: gen, speech: sp, queue: q}
}

func runTurnAndWait(t *testing.T, f *fixture, text string) {
	t.Helper()
	if !f.orch.HandleText(context.Background(), text) {
		t.Fatal("HandleText rejected input on an idle orchestrator")
	}
	deadline := time.After(3 * time.Second)
	for f.orch.Busy() {
		select {
		case <-deadline:
			t.Fatal("turn did not complete")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTurn_ImmediateThenEnhanced(t *testing.T) {
	gen := &fakeGen{responses: []string{
		"Hi there!",
		"Would you like to hear the weather?",
	}}
	f := newFixture(t, gen, &fakeThoughts{body: "[bt]ask about weather[et][done]"}, Config{})

	runTurnAndWait(t, f, "Hello")

	// Exactly two speech pushes: the immediate response, then the enhanced
	// response prefixed with a space.
	pushes := f.speech.pushed()
	if len(pushes) != 2 {
		t.Fatalf("speech pushes = %v, want exactly 2", pushes)
	}
	if pushes[0] != "Hi there!" {
		t.Errorf("first push = %q, want immediate response", pushes[0])
	}
	if pushes[1] != " Would you like to hear the weather?" {
		t.Errorf("second push = %q, want space-prefixed enhanced response", pushes[1])
	}

	// One user turn, one assistant turn extended in place.
	history := f.orch.History()
	if len(history) != 2 {
		t.Fatalf("history = %v, want 2 turns", history)
	}
	if history[0].Role != RoleUser || history[0].Content != "Hello" {
		t.Errorf("user turn = %+v", history[0])
	}
	if history[1].Role != RoleAssistant ||
		history[1].Content != "Hi there! Would you like to hear the weather?" {
		t.Errorf("assistant turn = %+v", history[1])
	}

	pairs := f.orch.Pairs()
	if len(pairs) != 1 || pairs[0].Thought != "ask about weather" {
		t.Errorf("pairs = %+v", pairs)
	}

	// The enhanced prompt must carry the user input and the thought.
	prompts := gen.seenPrompts()
	if len(prompts) != 2 {
		t.Fatalf("generation calls = %d, want 2", len(prompts))
	}
	if !strings.Contains(prompts[1], "Hello") || !strings.Contains(prompts[1], "ask about weather") {
		t.Errorf("enhanced prompt missing context: %q", prompts[1])
	}
}

func TestTurn_ThoughtFetchFailureMeansZeroThoughts(t *testing.T) {
	gen := &fakeGen{responses: []string{"Hi there!"}}
	f := newFixture(t, gen, &fakeThoughts{openErr: fmt.Errorf("connection refused")}, Config{})

	runTurnAndWait(t, f, "Hello")

	if pushes := f.speech.pushed(); len(pushes) != 1 || pushes[0] != "Hi there!" {
		t.Errorf("pushes = %v, want only the immediate response", pushes)
	}
	if pairs := f.orch.Pairs(); len(pairs) != 0 {
		t.Errorf("pairs = %+v, want none", pairs)
	}
}

func TestTurn_ImmediateFailureSpeaksApology(t *testing.T) {
	gen := &fakeGen{
		errs:      []error{fmt.Errorf("model exploded")},
		responses: []string{""},
	}
	f := newFixture(t, gen, &fakeThoughts{body: "[done]"}, Config{Apology: "My apologies."})

	runTurnAndWait(t, f, "Hello")

	pushes := f.speech.pushed()
	if len(pushes) != 1 || pushes[0] != "My apologies." {
		t.Errorf("pushes = %v, want the apology", pushes)
	}
	history := f.orch.History()
	if len(history) != 2 || history[1].Content != "My apologies." {
		t.Errorf("history = %+v, want apology as the assistant turn", history)
	}
}

func TestTurn_EnhancedFailureIsIsolated(t *testing.T) {
	gen := &fakeGen{
		responses: []string{"Hi!", "", "Second enhancement."},
		errs:      []error{nil, fmt.Errorf("transient"), nil},
	}
	f := newFixture(t, gen, &fakeThoughts{body: "[bt]first idea[et][bt]second idea[et][done]"}, Config{})

	runTurnAndWait(t, f, "Hello")

	pushes := f.speech.pushed()
	if len(pushes) != 2 || pushes[1] != " Second enhancement." {
		t.Errorf("pushes = %v, want immediate + surviving enhancement", pushes)
	}
	pairs := f.orch.Pairs()
	if len(pairs) != 1 || pairs[0].Thought != "second idea" {
		t.Errorf("pairs = %+v, want only the surviving pair", pairs)
	}
}

func TestTurn_InputDroppedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	gen := &blockingGen{release: release}
	f := newFixture(t, gen, &fakeThoughts{body: "[done]"}, Config{})

	if !f.orch.HandleText(context.Background(), "first") {
		t.Fatal("first input rejected")
	}
	// Busy flag is set synchronously by HandleText, so the second input must
	// be dropped even before the turn progresses.
	if f.orch.HandleText(context.Background(), "second") {
		t.Error("second input accepted while a turn is in flight")
	}
	close(release)
	f.orch.Wait()

	history := f.orch.History()
	if len(history) != 2 || history[0].Content != "first" {
		t.Errorf("history = %+v, want only the first exchange", history)
	}
}

// blockingGen holds the first generation until released.
type blockingGen struct {
	release <-chan struct{}
	once    sync.Once
}

func (g *blockingGen) Generate(context.Context, string) (string, error) {
	g.once.Do(func() { <-g.release })
	return "ok", nil
}

func TestTurn_SilenceFillerDuringSlowStream(t *testing.T) {
	gen := &fakeGen{responses: []string{"Hi!", "Enhanced."}}
	src := &slowThoughts{
		first: "[bt]slow idea[et]",
		rest:  "[done]",
		delay: 120 * time.Millisecond,
	}
	f := newFixture(t, gen, src, Config{SilenceWait: 40 * time.Millisecond})

	runTurnAndWait(t, f, "Hello")

	pushes := f.speech.pushed()
	if len(pushes) < 3 {
		t.Fatalf("pushes = %v, want immediate + filler + enhanced", pushes)
	}
	if pushes[0] != "Hi!" {
		t.Errorf("first push = %q", pushes[0])
	}
	if pushes[len(pushes)-1] != " Enhanced." {
		t.Errorf("last push = %q, want the enhanced response", pushes[len(pushes)-1])
	}

	// The filler is recorded against the silence pseudo-thought and stays out
	// of the visible history.
	var sawSilence bool
	for _, pair := range f.orch.Pairs() {
		if pair.Thought == SilenceThought {
			sawSilence = true
		}
	}
	if !sawSilence {
		t.Error("no silence pair recorded")
	}
	for _, turn := range f.orch.History() {
		for _, filler := range defaultFillers {
			if strings.Contains(turn.Content, filler) {
				t.Errorf("filler %q leaked into history turn %+v", filler, turn)
			}
		}
	}
}

// slowThoughts delays between its first chunk and the rest of the stream.
type slowThoughts struct {
	first string
	rest  string
	delay time.Duration
}

func (s *slowThoughts) Open(context.Context, []Turn) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		time.Sleep(s.delay)
		io.WriteString(pw, s.first)
		io.WriteString(pw, s.rest)
		pw.Close()
	}()
	return pr, nil
}
