package vad

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

// scriptScorer replays a fixed score sequence, one entry per frame.
type scriptScorer struct {
	scores []float32
	errs   map[int]error
	i      int
}

func (s *scriptScorer) Score(frame []float32) (float32, error) {
	idx := s.i
	s.i++
	if err, ok := s.errs[idx]; ok {
		return 0, err
	}
	if idx < len(s.scores) {
		return s.scores[idx], nil
	}
	return 0, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	// 16 kHz, 512-sample frames: minSilence = 12.5 frames, minSpeech = 7.8
	// frames, pad = 1600 samples, preroll FIFO = 4 frames.
	return cfg
}

// run feeds n frames of 512 samples and collects emitted events.
func run(t *testing.T, cfg Config, scorer Scorer, n int) []Event {
	t.Helper()
	var events []Event
	seg := NewSegmenter(cfg, scorer, func(e Event) { events = append(events, e) }, zap.NewNop().Sugar())
	frame := make([]float32, cfg.FrameSize)
	for i := 0; i < n; i++ {
		seg.Process(frame)
	}
	return events
}

func repeat(score float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = score
	}
	return out
}

func concat(seqs ...[]float32) []float32 {
	var out []float32
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

func TestSegmenter_HysteresisSurvivesSingleDip(t *testing.T) {
	cfg := testConfig()
	scores := concat(
		repeat(0.9, 5),  // speech begins
		repeat(0.05, 1), // single-frame dip below exit threshold
		repeat(0.5, 5),  // speech continues (above exit, below enter)
		repeat(0.0, 20), // sustained silence ends the utterance
	)
	events := run(t, cfg, &scriptScorer{scores: scores}, len(scores))

	var started, ready, discarded int
	for _, e := range events {
		switch e.(type) {
		case RecordingStarted:
			started++
		case SegmentReady:
			ready++
		case SegmentDiscarded:
			discarded++
		}
	}
	if started != 1 {
		t.Errorf("recording started %d times, want 1 (dip must not end recording)", started)
	}
	if ready != 1 {
		t.Errorf("segments dispatched = %d, want 1", ready)
	}
	if discarded != 0 {
		t.Errorf("segments discarded = %d, want 0", discarded)
	}
}

func TestSegmenter_SilenceShorterThanMinDoesNotEndRecording(t *testing.T) {
	cfg := testConfig()
	// 12 silent frames = 6144 samples < 6400 minimum: still recording.
	scores := concat(repeat(0.9, 10), repeat(0.0, 12))
	var events []Event
	seg := NewSegmenter(cfg, &scriptScorer{scores: scores}, func(e Event) { events = append(events, e) }, zap.NewNop().Sugar())
	frame := make([]float32, cfg.FrameSize)
	for range scores {
		seg.Process(frame)
	}
	if !seg.Recording() {
		t.Fatal("recording ended before minSilence elapsed")
	}
	for _, e := range events {
		if _, ok := e.(SegmentReady); ok {
			t.Fatal("segment dispatched before minSilence elapsed")
		}
	}
}

func TestSegmenter_ShortSegmentDiscarded(t *testing.T) {
	cfg := testConfig()
	// 3 speech frames = 1536 samples < 4000 minimum speech.
	scores := concat(repeat(0.9, 3), repeat(0.0, 20))
	events := run(t, cfg, &scriptScorer{scores: scores}, len(scores))

	var sawDiscard bool
	for _, e := range events {
		switch ev := e.(type) {
		case SegmentReady:
			t.Fatal("short segment was dispatched")
		case SegmentDiscarded:
			sawDiscard = true
			if ev.SpeechSamples >= 4000 {
				t.Errorf("discarded segment reports %d speech samples", ev.SpeechSamples)
			}
		}
	}
	if !sawDiscard {
		t.Fatal("no discard event emitted")
	}
}

func TestSegmenter_SegmentIncludesPrerollAndPad(t *testing.T) {
	cfg := testConfig()
	var events []Event
	seg := NewSegmenter(cfg, &scriptScorer{scores: concat(
		repeat(0.0, 3),  // idle: lands in the pre-roll FIFO
		repeat(0.9, 10), // speech
		repeat(0.0, 20), // silence
	)}, func(e Event) { events = append(events, e) }, zap.NewNop().Sugar())

	for i := 0; i < 33; i++ {
		frame := make([]float32, cfg.FrameSize)
		for j := range frame {
			frame[j] = float32(i + 1) // tag each frame by index
		}
		seg.Process(frame)
	}

	var seg0 *SegmentReady
	for _, e := range events {
		if ev, ok := e.(SegmentReady); ok {
			seg0 = &ev
			break
		}
	}
	if seg0 == nil {
		t.Fatal("no segment dispatched")
	}

	// 3 pre-roll frames + 10 speech frames + pad(1600) out of the silent tail.
	want := 3*cfg.FrameSize + 10*cfg.FrameSize + cfg.samples(cfg.SpeechPad)
	if len(seg0.Samples) != want {
		t.Errorf("segment length = %d, want %d", len(seg0.Samples), want)
	}
	// Segment must begin with the earliest retained pre-roll frame.
	if seg0.Samples[0] != 1 {
		t.Errorf("segment starts with frame tag %v, want 1 (pre-roll)", seg0.Samples[0])
	}
}

func TestSegmenter_OverflowForcesDispatch(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUtterance = 64 * time.Millisecond // 1024 samples = 2 frames
	scores := repeat(0.9, 3)
	events := run(t, cfg, &scriptScorer{scores: scores}, len(scores))

	var forced *SegmentReady
	for _, e := range events {
		if ev, ok := e.(SegmentReady); ok && ev.Forced {
			forced = &ev
		}
	}
	if forced == nil {
		t.Fatal("overflow did not force a dispatch")
	}
	if got := len(forced.Samples); got != 1024 {
		t.Errorf("forced segment = %d samples, want full capacity 1024", got)
	}
}

func TestSegmenter_ScorerErrorMeansNoTransition(t *testing.T) {
	cfg := testConfig()
	errs := make(map[int]error)
	for i := 1; i <= 20; i++ {
		errs[i] = errors.New("score failed")
	}
	// Frame 0 enters recording; 20 failing frames must not end it; the
	// trailing silence finally does, and the failed frames' audio is kept.
	scores := concat(repeat(0.9, 1), repeat(0.0, 20), repeat(0.0, 20))
	events := run(t, cfg, &scriptScorer{scores: scores, errs: errs}, len(scores))

	var ready *SegmentReady
	for _, e := range events {
		if ev, ok := e.(SegmentReady); ok {
			ready = &ev
		}
	}
	if ready == nil {
		t.Fatal("no segment dispatched")
	}
	// Speech region spans the entry frame plus the 20 error frames.
	if min := 21 * cfg.FrameSize; len(ready.Samples) < min {
		t.Errorf("segment = %d samples, want at least %d (error frames retained)", len(ready.Samples), min)
	}
}
