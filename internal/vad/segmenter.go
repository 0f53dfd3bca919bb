package vad

import (
	"time"

	"go.uber.org/zap"
)

// Scorer produces a per-frame speech probability in [0,1]. An error means the
// frame's speech/silence decision is unavailable; the segmenter treats that
// as "no transition" and continues with the next frame.
type Scorer interface {
	Score(frame []float32) (float32, error)
}

// Event is the closed set of notifications a Segmenter emits.
type Event interface{ segmenterEvent() }

// RecordingStarted signals the transition from idle to recording.
type RecordingStarted struct{}

// SegmentReady carries an owned, padded utterance ready for transcription.
type SegmentReady struct {
	Samples []float32

	// Forced is true when the segment was dispatched because the ring buffer
	// overflowed mid-speech rather than because silence was detected.
	Forced bool
}

// SegmentDiscarded signals a segment dropped for being shorter than the
// minimum speech duration (noise, not dispatched).
type SegmentDiscarded struct {
	SpeechSamples int
}

func (RecordingStarted) segmenterEvent() {}
func (SegmentReady) segmenterEvent()     {}
func (SegmentDiscarded) segmenterEvent() {}

// Config holds the segmentation thresholds and durations.
//
// The thresholds are asymmetric on purpose: a higher bar to start recording
// reduces false positives on entry, while the lower bar to stay recording
// keeps natural pauses and breaths from cutting an utterance short.
type Config struct {
	SampleRate     int
	FrameSize      int
	EnterThreshold float32       // IDLE -> RECORDING above this score
	ExitThreshold  float32       // RECORDING sustains at or above this score
	MinSilence     time.Duration // silence required to end an utterance
	MinSpeech      time.Duration // segments shorter than this are discarded
	SpeechPad      time.Duration // trailing audio kept after the last speech frame
	MaxUtterance   time.Duration // ring buffer capacity
}

// DefaultConfig returns the tuned segmentation parameters for 16 kHz input.
func DefaultConfig() Config {
	return Config{
		SampleRate:     16000,
		FrameSize:      512,
		EnterThreshold: 0.3,
		ExitThreshold:  0.1,
		MinSilence:     400 * time.Millisecond,
		MinSpeech:      250 * time.Millisecond,
		SpeechPad:      100 * time.Millisecond,
		MaxUtterance:   30 * time.Second,
	}
}

func (c Config) samples(d time.Duration) int {
	return int(float64(c.SampleRate) * d.Seconds())
}

// Segmenter is the IDLE/RECORDING state machine that turns a stream of
// fixed-size frames into dispatched utterance segments. It is not safe for
// concurrent use; feed it from a single goroutine.
type Segmenter struct {
	cfg    Config
	scorer Scorer
	emit   func(Event)
	log    *zap.SugaredLogger

	ring    *RingBuffer
	preroll *prerollFIFO

	recording  bool
	postSpeech int // samples since the last frame at or above ExitThreshold

	minSilenceSamples int
	minSpeechSamples  int
	padSamples        int
}

// NewSegmenter creates a segmenter that reports boundary events through emit.
func NewSegmenter(cfg Config, scorer Scorer, emit func(Event), log *zap.SugaredLogger) *Segmenter {
	padSamples := cfg.samples(cfg.SpeechPad)
	prerollCap := (padSamples + cfg.FrameSize - 1) / cfg.FrameSize
	return &Segmenter{
		cfg:               cfg,
		scorer:            scorer,
		emit:              emit,
		log:               log,
		ring:              NewRingBuffer(cfg.samples(cfg.MaxUtterance)),
		preroll:           newPreroll(prerollCap),
		minSilenceSamples: cfg.samples(cfg.MinSilence),
		minSpeechSamples:  cfg.samples(cfg.MinSpeech),
		padSamples:        padSamples,
	}
}

// Process consumes one frame and advances the state machine.
func (s *Segmenter) Process(frame []float32) {
	score, err := s.scorer.Score(frame)
	if err != nil {
		// No transition: keep accumulating audio so an in-progress utterance
		// is not truncated by a single failed VAD call.
		s.log.Debugw("vad score failed", "error", err)
		if s.recording {
			s.writeFrame(frame)
		} else {
			s.preroll.push(frame)
		}
		return
	}

	if !s.recording {
		if score > s.cfg.EnterThreshold {
			s.recording = true
			s.postSpeech = 0
			s.emit(RecordingStarted{})
			s.writeFrame(frame)
		} else {
			s.preroll.push(frame)
		}
		return
	}

	s.writeFrame(frame)
	if score >= s.cfg.ExitThreshold {
		s.postSpeech = 0
		return
	}
	s.postSpeech += len(frame)
	if s.postSpeech < s.minSilenceSamples {
		return // transient dip
	}
	s.finishSegment()
}

// Recording reports whether the segmenter is currently inside an utterance.
func (s *Segmenter) Recording() bool { return s.recording }

// Reset drops any partial utterance and returns to idle.
func (s *Segmenter) Reset() {
	s.recording = false
	s.postSpeech = 0
	s.ring.Reset(nil)
	s.preroll.clear()
}

// writeFrame appends the frame to the ring buffer, force-dispatching the
// accumulated segment when the buffer fills mid-speech.
func (s *Segmenter) writeFrame(frame []float32) {
	res := s.ring.Write(frame)
	if !res.Overflowed {
		return
	}
	s.emit(SegmentReady{Samples: s.compose(s.ring.Len()), Forced: true})
	s.ring.Reset(res.OverflowTail)
	s.postSpeech = 0
}

// finishSegment evaluates the recorded utterance after sustained silence and
// either dispatches or discards it, returning the machine to idle.
func (s *Segmenter) finishSegment() {
	recorded := s.ring.Len()
	speech := recorded - s.postSpeech
	if speech < s.minSpeechSamples {
		s.emit(SegmentDiscarded{SpeechSamples: speech})
	} else {
		end := speech + s.padSamples
		if end > recorded {
			end = recorded
		}
		s.emit(SegmentReady{Samples: s.compose(end)})
	}
	s.recording = false
	s.postSpeech = 0
	s.ring.Reset(nil)
	s.preroll.clear()
}

// compose builds the owned segment: pre-roll context followed by the first
// end samples of the ring buffer.
func (s *Segmenter) compose(end int) []float32 {
	pre := s.preroll.take()
	body := s.ring.Slice(end)
	out := make([]float32, 0, len(pre)+len(body))
	out = append(out, pre...)
	out = append(out, body...)
	return out
}
