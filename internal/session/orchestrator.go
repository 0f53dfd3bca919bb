package session

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/inference"
	"github.com/voiceloom/voiceloom/internal/llm"
	"github.com/voiceloom/voiceloom/internal/observe"
	"github.com/voiceloom/voiceloom/internal/thoughts"
)

// State is the orchestrator's lifecycle position within a turn.
type State int32

const (
	StateIdle State = iota
	StateTranscribing
	StateGeneratingImmediate
	StateStreamingThoughts
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateGeneratingImmediate:
		return "generating_immediate"
	case StateStreamingThoughts:
		return "streaming_thoughts"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Transcriber converts a finished speech segment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// Generator produces one completion for a rendered prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ThoughtSource opens the streamed thought body for a conversation history.
type ThoughtSource interface {
	Open(ctx context.Context, history []Turn) (io.ReadCloser, error)
}

// Speech is one turn's speech output: texts pushed in order, Done closing
// once everything pushed has been played.
type Speech interface {
	Push(text string)
	Close()
	Done() <-chan struct{}
}

// defaultApology is spoken when the immediate response cannot be generated.
const defaultApology = "Sorry, I'm having trouble thinking right now."

// defaultFillers rotate through the silence gaps of a slow thought stream.
var defaultFillers = []string{
	"Let me think.",
	"Hmm.",
	"One moment.",
}

// Config holds orchestrator tuning.
type Config struct {
	// SilenceWait is how long the orchestrator waits for the next thought
	// before speaking a filler. Zero means the 1s default.
	SilenceWait time.Duration
	// Apology overrides the text spoken when immediate generation fails.
	Apology string
	// Fillers overrides the rotating silence fillers.
	Fillers []string
}

// Orchestrator runs the conversation loop. It owns the visible history and
// the per-turn thought/response pairs, and processes strictly one turn at a
// time: input arriving while a turn is active is dropped.
type Orchestrator struct {
	cfg     Config
	log     *zap.SugaredLogger
	metrics *observe.Metrics

	queue     *inference.Queue
	asr       Transcriber
	gen       Generator
	thoughts  ThoughtSource
	newSpeech func(ctx context.Context) Speech

	// OnDisplay, when set, receives every visible conversation line.
	OnDisplay func(role Role, text string)

	state atomic.Int32
	busy  atomic.Bool

	mu         sync.Mutex
	history    []Turn
	pairs      []ThoughtResponsePair
	fillerNext int

	turnMu     sync.Mutex
	turnCancel context.CancelFunc
}

// NewOrchestrator assembles an orchestrator. asr may be nil when only text
// input is used; metrics may be nil.
func NewOrchestrator(cfg Config, queue *inference.Queue, asr Transcriber, gen Generator, src ThoughtSource, newSpeech func(ctx context.Context) Speech, log *zap.SugaredLogger, metrics *observe.Metrics) *Orchestrator {
	if cfg.SilenceWait <= 0 {
		cfg.SilenceWait = time.Second
	}
	if cfg.Apology == "" {
		cfg.Apology = defaultApology
	}
	if len(cfg.Fillers) == 0 {
		cfg.Fillers = defaultFillers
	}
	return &Orchestrator{
		cfg:       cfg,
		log:       log,
		metrics:   metrics,
		queue:     queue,
		asr:       asr,
		gen:       gen,
		thoughts:  src,
		newSpeech: newSpeech,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Busy reports whether a turn is in flight. Capture gating uses this to
// drop microphone frames while the assistant is working or speaking.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// History returns a copy of the visible conversation history.
func (o *Orchestrator) History() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Turn, len(o.history))
	copy(out, o.history)
	return out
}

// Pairs returns a copy of the current turn's thought/response pairs.
func (o *Orchestrator) Pairs() []ThoughtResponsePair {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ThoughtResponsePair, len(o.pairs))
	copy(out, o.pairs)
	return out
}

// Reset clears all conversation state. Only valid between turns.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = nil
	o.pairs = nil
	o.fillerNext = 0
}

// Abort cooperatively cancels the in-flight turn, if any. The turn winds
// down at its next checkpoint; device calls already running finish first.
func (o *Orchestrator) Abort() {
	o.turnMu.Lock()
	cancel := o.turnCancel
	o.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// HandleUtterance processes one finished speech segment. Returns false when
// a turn is already in flight and the segment was dropped.
func (o *Orchestrator) HandleUtterance(ctx context.Context, samples []float32) bool {
	if !o.busy.CompareAndSwap(false, true) {
		o.log.Debugw("utterance dropped, turn in flight", "samples", len(samples))
		if o.metrics != nil {
			o.metrics.FramesDropped.Add(ctx, 1)
		}
		return false
	}
	go func() {
		defer o.busy.Store(false)
		o.setState(StateTranscribing)
		defer o.setState(StateIdle)

		text, err := inference.Do(ctx, o.queue, "stt", func(ctx context.Context) (string, error) {
			return o.asr.Transcribe(ctx, samples)
		})
		if err != nil {
			o.log.Errorw("transcription failed", "error", err)
			return
		}
		if text == "" {
			o.log.Debugw("empty transcription, ignoring segment")
			return
		}
		o.runTurn(ctx, text)
	}()
	return true
}

// HandleText processes one typed input line. Returns false when a turn is
// already in flight.
func (o *Orchestrator) HandleText(ctx context.Context, text string) bool {
	if text == "" {
		return false
	}
	if !o.busy.CompareAndSwap(false, true) {
		o.log.Debugw("text input dropped, turn in flight", "text", text)
		return false
	}
	go func() {
		defer o.busy.Store(false)
		o.runTurn(ctx, text)
	}()
	return true
}

// Wait blocks until the in-flight turn, if any, has fully completed.
func (o *Orchestrator) Wait() {
	for o.busy.Load() {
		time.Sleep(10 * time.Millisecond)
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
	o.log.Debugw("state", "state", s.String())
}

func (o *Orchestrator) display(role Role, text string) {
	if o.OnDisplay != nil {
		o.OnDisplay(role, text)
	}
}

// runTurn executes one full exchange: immediate response, then the streamed
// thought-enhanced responses, then playback drain.
func (o *Orchestrator) runTurn(parent context.Context, userText string) {
	ctx, cancel := context.WithCancel(parent)
	o.turnMu.Lock()
	o.turnCancel = cancel
	o.turnMu.Unlock()
	defer func() {
		cancel()
		o.turnMu.Lock()
		o.turnCancel = nil
		o.turnMu.Unlock()
	}()

	start := time.Now()
	status := "ok"

	o.mu.Lock()
	o.history = append(o.history, Turn{Role: RoleUser, Content: userText})
	o.pairs = nil
	o.fillerNext = 0
	o.mu.Unlock()
	o.display(RoleUser, userText)

	sp := o.newSpeech(ctx)

	// Immediate response from the user input alone, before any thoughts.
	o.setState(StateGeneratingImmediate)
	prompt := llm.NewPromptBuilder().User(userText).Render()
	raw, err := inference.Do(ctx, o.queue, "llm", func(ctx context.Context) (string, error) {
		return o.gen.Generate(ctx, prompt)
	})
	response := llm.CleanResponse(raw)
	if err != nil || response == "" {
		if err != nil {
			o.log.Errorw("immediate generation failed", "error", err)
		}
		status = "apology"
		response = o.cfg.Apology
	}

	o.mu.Lock()
	o.history = append(o.history, Turn{Role: RoleAssistant, Content: response})
	o.mu.Unlock()
	o.display(RoleAssistant, response)
	sp.Push(response)

	if ctx.Err() == nil {
		o.setState(StateStreamingThoughts)
		o.streamThoughts(ctx, sp, userText)
	}

	sp.Close()
	o.setState(StateSpeaking)
	select {
	case <-sp.Done():
	case <-ctx.Done():
		status = "aborted"
	}

	o.setState(StateIdle)
	if o.metrics != nil {
		o.metrics.RecordTurn(context.Background(), status)
	}
	o.log.Infow("turn complete", "status", status, "seconds", time.Since(start).Seconds())
}

// streamThoughts consumes the thought stream one record at a time. A fetch
// failure means the turn simply has no thoughts; a silent gap longer than
// SilenceWait produces one spoken filler per gap.
func (o *Orchestrator) streamThoughts(ctx context.Context, sp Speech, userText string) {
	body, err := o.thoughts.Open(ctx, o.History())
	if err != nil {
		o.log.Warnw("thought stream unavailable", "error", err)
		return
	}

	records := make(chan thoughts.Record, 16)
	go func() {
		defer close(records)
		defer body.Close()
		parser := thoughts.NewParser()
		buf := make([]byte, 4096)
		for !parser.Done() {
			n, err := body.Read(buf)
			if n > 0 {
				for _, rec := range parser.Feed(string(buf[:n])) {
					select {
					case records <- rec:
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if err != io.EOF {
					o.log.Warnw("thought stream read failed", "error", err)
				}
				return
			}
		}
	}()

	for {
		var rec thoughts.Record
		var ok bool
		select {
		case rec, ok = <-records:
		case <-time.After(o.cfg.SilenceWait):
			o.speakFiller(sp)
			select {
			case rec, ok = <-records:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
		if !ok {
			return
		}
		o.processThought(ctx, sp, userText, rec)
	}
}

// speakFiller speaks the next rotating filler and records it against the
// reserved silence pseudo-thought. Fillers stay out of the visible history.
func (o *Orchestrator) speakFiller(sp Speech) {
	o.mu.Lock()
	filler := o.cfg.Fillers[o.fillerNext%len(o.cfg.Fillers)]
	o.fillerNext++
	o.pairs = append(o.pairs, ThoughtResponsePair{Thought: SilenceThought, Response: filler})
	o.mu.Unlock()

	o.log.Debugw("silence filler", "text", filler)
	sp.Push(" " + filler)
}

// processThought generates one enhanced response. The prompt carries the
// user input, every prior pair of this turn, and the new thought, so each
// response builds on what was already said.
func (o *Orchestrator) processThought(ctx context.Context, sp Speech, userText string, rec thoughts.Record) {
	builder := llm.NewPromptBuilder().User(userText)
	o.mu.Lock()
	for _, pair := range o.pairs {
		builder.Knowledge(pair.Thought).Assistant(pair.Response)
	}
	o.mu.Unlock()
	builder.Knowledge(rec.Text)

	prompt := builder.Render()
	raw, err := inference.Do(ctx, o.queue, "llm", func(ctx context.Context) (string, error) {
		return o.gen.Generate(ctx, prompt)
	})
	if err != nil {
		// Failure isolation: this thought is lost, later ones still run.
		o.log.Errorw("enhanced generation failed", "ordinal", rec.Ordinal, "error", err)
		return
	}
	response := llm.CleanResponse(raw)
	if response == "" {
		o.log.Debugw("empty enhanced response, skipping", "ordinal", rec.Ordinal)
		return
	}

	o.mu.Lock()
	o.pairs = append(o.pairs, ThoughtResponsePair{Thought: rec.Text, Response: response})
	if n := len(o.history); n > 0 && o.history[n-1].Role == RoleAssistant {
		o.history[n-1].Content += " " + response
	}
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.RecordThought(context.Background(), "emitted")
	}
	o.display(RoleAssistant, response)
	sp.Push(" " + response)
}
