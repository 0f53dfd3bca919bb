// Package stt provides Whisper speech-to-text via sherpa-onnx.
package stt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/sherpa"
)

// Transcriber converts finished speech segments into text with an offline
// Whisper model. Segmentation happens upstream; the transcriber only ever
// sees complete utterances.
type Transcriber struct {
	mu         sync.Mutex // sherpa-onnx recognizers are not thread-safe
	recognizer *sherpa.OfflineRecognizer
	sampleRate int
	log        *zap.SugaredLogger
}

// Config holds transcriber configuration.
type Config struct {
	Encoder    string
	Decoder    string
	Tokens     string
	Language   string // e.g. "en", "es", or "auto"
	Provider   string // hardware acceleration provider (cpu, cuda, coreml)
	SampleRate int
	Threads    int
	Debug      bool
}

// NewTranscriber creates a Whisper transcriber.
func NewTranscriber(cfg *Config, log *zap.SugaredLogger) (*Transcriber, error) {
	recognizerConfig := &sherpa.OfflineRecognizerConfig{}
	recognizerConfig.ModelConfig.Whisper.Encoder = cfg.Encoder
	recognizerConfig.ModelConfig.Whisper.Decoder = cfg.Decoder
	// "auto" -> "" (empty triggers auto-detection in Whisper)
	language := cfg.Language
	if strings.EqualFold(language, "auto") {
		language = ""
	}
	recognizerConfig.ModelConfig.Whisper.Language = language
	recognizerConfig.ModelConfig.Whisper.Task = "transcribe"
	recognizerConfig.ModelConfig.Whisper.TailPaddings = -1 // use default
	recognizerConfig.ModelConfig.Tokens = cfg.Tokens
	recognizerConfig.ModelConfig.NumThreads = cfg.Threads
	recognizerConfig.ModelConfig.Provider = cfg.Provider
	recognizerConfig.DecodingMethod = "greedy_search"
	recognizerConfig.ModelConfig.Debug = 0
	if cfg.Debug {
		recognizerConfig.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(recognizerConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to create offline recognizer")
	}

	return &Transcriber{
		recognizer: recognizer,
		sampleRate: cfg.SampleRate,
		log:        log,
	}, nil
}

// Transcribe decodes one speech segment and returns the recognized text,
// trimmed. An empty string with nil error means the model heard nothing
// intelligible.
func (t *Transcriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recognizer == nil {
		return "", fmt.Errorf("transcriber is closed")
	}

	t.log.Debugw("transcribing segment",
		"samples", len(samples),
		"seconds", float64(len(samples))/float64(t.sampleRate))

	stream := sherpa.NewOfflineStream(t.recognizer)
	if stream == nil {
		return "", fmt.Errorf("failed to create offline stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(t.sampleRate, samples)
	t.recognizer.Decode(stream)

	return strings.TrimSpace(stream.GetResult().Text), nil
}

// Close releases the recognizer.
func (t *Transcriber) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(t.recognizer)
		t.recognizer = nil
	}
}
