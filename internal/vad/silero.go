package vad

import (
	"fmt"

	"github.com/voiceloom/voiceloom/internal/sherpa"
)

// sileroBufferSeconds is the detector's internal buffer size. Its queue is
// drained on every call, so this only needs to cover a few frames of slack.
const sileroBufferSeconds = 60.0

// SileroConfig configures the sherpa-onnx Silero scorer.
type SileroConfig struct {
	Model      string
	SampleRate int
	FrameSize  int
	Threshold  float32
	Threads    int
	Debug      bool
}

// SileroScorer adapts the sherpa-onnx Silero VAD to the per-frame Scorer
// contract. The model's recurrent state lives inside the detector and is
// advanced in place on every call, so a scorer must only ever serve a single
// segmenter.
type SileroScorer struct {
	vad *sherpa.VoiceActivityDetector
}

// NewSileroScorer loads the Silero model.
func NewSileroScorer(cfg SileroConfig) (*SileroScorer, error) {
	vadConfig := &sherpa.VadModelConfig{}
	vadConfig.SileroVad.Model = cfg.Model
	vadConfig.SileroVad.Threshold = cfg.Threshold
	// Segmentation is owned by the Segmenter; keep the detector's own
	// windows as short as the bindings allow so IsSpeech tracks the current
	// frame closely.
	vadConfig.SileroVad.MinSilenceDuration = 0.1
	vadConfig.SileroVad.MinSpeechDuration = 0.05
	vadConfig.SileroVad.WindowSize = cfg.FrameSize
	vadConfig.SampleRate = cfg.SampleRate
	vadConfig.NumThreads = cfg.Threads
	if cfg.Debug {
		vadConfig.Debug = 1
	}

	v := sherpa.NewVoiceActivityDetector(vadConfig, sileroBufferSeconds)
	if v == nil {
		return nil, fmt.Errorf("failed to create silero VAD")
	}
	return &SileroScorer{vad: v}, nil
}

// Score feeds one frame and reports the detector's speech decision as a
// probability. The Go bindings expose the thresholded decision rather than
// the raw logit, so the score is 0 or 1; the segmenter's thresholds bracket
// both values correctly.
func (s *SileroScorer) Score(frame []float32) (float32, error) {
	s.vad.AcceptWaveform(frame)
	// Discard the detector's internal segmentation so its queue cannot grow
	// unbounded.
	for !s.vad.IsEmpty() {
		s.vad.Pop()
	}
	if s.vad.IsSpeech() {
		return 1, nil
	}
	return 0, nil
}

// Close releases the detector.
func (s *SileroScorer) Close() {
	if s.vad != nil {
		sherpa.DeleteVoiceActivityDetector(s.vad)
		s.vad = nil
	}
}
