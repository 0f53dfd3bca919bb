// Package tts provides streaming text-to-speech built on sherpa-onnx Kokoro
// models.
package tts

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/sherpa"
)

// Chunk is one synthesized piece of speech, usually a sentence.
type Chunk struct {
	Text       string
	Samples    []float32 // mono
	SampleRate int
}

// Synthesizer converts one text unit into audio. Implementations must be
// safe for sequential use; the streamer never calls Synthesize concurrently.
type Synthesizer interface {
	Synthesize(text string) (*Chunk, error)
	SampleRate() int
}

// KokoroSynthesizer is a Synthesizer backed by a Kokoro ONNX model.
type KokoroSynthesizer struct {
	tts        *sherpa.OfflineTts
	sampleRate int // 24kHz for Kokoro
	speakerID  int
	speed      float32
	log        *zap.SugaredLogger
	mu         sync.Mutex // protects TTS engine access
}

// Config holds TTS configuration.
type Config struct {
	Model     string // path to model.onnx
	Voices    string // path to voices.bin
	Tokens    string // path to tokens.txt
	DataDir   string // espeak-ng-data directory
	Lexicon   string // path to lexicon.txt (optional)
	Language  string // language code for multi-lingual models (e.g., "en-gb", "en-us")
	SpeakerID int
	Speed     float32
	Provider  string // hardware acceleration provider (cpu, cuda, coreml)
	Threads   int
	Debug     bool
}

// NewKokoro creates a Kokoro TTS synthesizer.
func NewKokoro(cfg *Config, log *zap.SugaredLogger) (*KokoroSynthesizer, error) {
	ttsConfig := &sherpa.OfflineTtsConfig{}
	ttsConfig.Model.Kokoro.Model = cfg.Model
	ttsConfig.Model.Kokoro.Voices = cfg.Voices
	ttsConfig.Model.Kokoro.Tokens = cfg.Tokens
	ttsConfig.Model.Kokoro.DataDir = cfg.DataDir
	ttsConfig.Model.Kokoro.Lexicon = cfg.Lexicon
	ttsConfig.Model.Kokoro.Lang = cfg.Language           // required for multi-lingual Kokoro v1.0+
	ttsConfig.Model.Kokoro.LengthScale = 1.0 / cfg.Speed // inverse for speed control
	ttsConfig.Model.NumThreads = cfg.Threads
	ttsConfig.Model.Provider = cfg.Provider
	ttsConfig.MaxNumSentences = 1 // Kokoro TTS only supports 1
	ttsConfig.Model.Debug = 0
	if cfg.Debug {
		ttsConfig.Model.Debug = 1
	}

	tts := sherpa.NewOfflineTts(ttsConfig)
	if tts == nil {
		return nil, fmt.Errorf("failed to create TTS synthesizer")
	}

	return &KokoroSynthesizer{
		tts:        tts,
		sampleRate: 24000, // Kokoro default sample rate
		speakerID:  cfg.SpeakerID,
		speed:      cfg.Speed,
		log:        log,
	}, nil
}

// Synthesize converts one text unit to audio.
func (s *KokoroSynthesizer) Synthesize(text string) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	if s.tts == nil {
		return nil, fmt.Errorf("synthesizer is closed")
	}

	audio := s.tts.Generate(text, s.speakerID, s.speed)
	if audio == nil || len(audio.Samples) == 0 {
		return nil, fmt.Errorf("TTS generation failed")
	}

	s.log.Debugw("synthesized speech", "text", text, "samples", len(audio.Samples))

	return &Chunk{
		Text:       text,
		Samples:    audio.Samples,
		SampleRate: int(audio.SampleRate),
	}, nil
}

// SampleRate returns the output sample rate.
func (s *KokoroSynthesizer) SampleRate() int {
	return s.sampleRate
}

// Close releases all resources.
func (s *KokoroSynthesizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
}
