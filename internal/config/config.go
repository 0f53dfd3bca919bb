// Package config provides configuration for voiceloom: defaults, an optional
// YAML file, and CLI flags, in that order of precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/voiceloom/voiceloom/internal/sherpa"
)

// Mode selects the input front end.
type Mode string

const (
	// ModeVoice captures the microphone and segments utterances.
	ModeVoice Mode = "voice"
	// ModeText reads turns from stdin; useful without audio hardware.
	ModeText Mode = "text"
)

// Config holds all configuration for voiceloom.
type Config struct {
	// Model paths
	ModelDir string `yaml:"model_dir"` // base directory containing all model files
	VADModel string `yaml:"-"`

	// Whisper STT model paths (derived from ModelDir)
	WhisperEncoder string `yaml:"-"`
	WhisperDecoder string `yaml:"-"`
	WhisperTokens  string `yaml:"-"`

	// TTS model paths (Kokoro, derived from ModelDir)
	TTSModel    string `yaml:"-"`
	TTSVoices   string `yaml:"-"`
	TTSTokens   string `yaml:"-"`
	TTSData     string `yaml:"-"`
	TTSLexicon  string `yaml:"-"`
	TTSLanguage string `yaml:"-"`

	// Session settings
	Mode        Mode   `yaml:"mode"`         // voice or text
	Speak       bool   `yaml:"speak"`        // synthesize and play responses
	ThoughtsURL string `yaml:"thoughts_url"` // thought stream endpoint
	MetricsAddr string `yaml:"metrics_addr"` // Prometheus scrape listener, empty disables

	// STT settings
	STTLanguage string `yaml:"stt_language"` // e.g. "en", "es", "auto"

	// LLM settings
	OllamaURL   string  `yaml:"ollama_url"`
	OllamaModel string  `yaml:"ollama_model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// TTS settings
	TTSVoice     string  `yaml:"tts_voice"`
	TTSSpeakerID int     `yaml:"tts_speaker_id"`
	TTSSpeed     float32 `yaml:"tts_speed"`

	// Audio and segmentation settings
	SampleRate      int     `yaml:"sample_rate"`
	FrameSize       int     `yaml:"frame_size"`
	EnterThreshold  float32 `yaml:"enter_threshold"`  // speech starts above this score
	ExitThreshold   float32 `yaml:"exit_threshold"`   // speech continues above this score
	MinSpeechMs     int     `yaml:"min_speech_ms"`    // shorter segments are discarded
	MinSilenceMs    int     `yaml:"min_silence_ms"`   // silence run that ends an utterance
	SpeechPadMs     int     `yaml:"speech_pad_ms"`    // trailing pad kept after speech
	MaxUtteranceSec int     `yaml:"max_utterance_sec"`

	// Hardware acceleration provider (cpu, cuda, coreml).
	// Auto-detected by platform when empty.
	Provider    string `yaml:"provider"`
	STTProvider string `yaml:"stt_provider"`
	TTSProvider string `yaml:"tts_provider"`

	// Thread counts (0 = auto-detect from CPU cores)
	NumThreads int `yaml:"num_threads"`
	VADThreads int `yaml:"vad_threads"`
	STTThreads int `yaml:"stt_threads"`
	TTSThreads int `yaml:"tts_threads"`

	// Audio buffer size in milliseconds: 20 for wired/built-in audio,
	// 100 for Bluetooth. 0 means the 100ms default.
	AudioBufferMs uint32 `yaml:"audio_buffer_ms"`

	// Debug
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		ModelDir: filepath.Join(homeDir, ".voiceloom", "models"),

		Mode:        ModeVoice,
		Speak:       true,
		ThoughtsURL: "http://localhost:8085/thoughts",
		MetricsAddr: ":9464",

		// LLM defaults
		OllamaURL:   "http://localhost:11434",
		OllamaModel: "gemma3:1b",
		Temperature: 0.7,
		MaxTokens:   150,

		// TTS defaults (Kokoro af_bella American female voice)
		TTSVoice:     "af_bella",
		TTSSpeakerID: 2,
		TTSSpeed:     0.93,

		STTLanguage: "en",

		// Segmentation defaults: hysteresis 0.3/0.1, 400ms of silence ends
		// the utterance, sub-250ms segments are noise.
		SampleRate:      16000,
		FrameSize:       512,
		EnterThreshold:  0.3,
		ExitThreshold:   0.1,
		MinSpeechMs:     250,
		MinSilenceMs:    400,
		SpeechPadMs:     100,
		MaxUtteranceSec: 30,

		Provider:    "",
		STTProvider: "",
		TTSProvider: "",

		NumThreads: 0,
		VADThreads: 0,
		STTThreads: 0,
		TTSThreads: 0,

		AudioBufferMs: 0,
		Verbose:       false,
	}
}

// LoadFile overlays YAML settings from path onto the config.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ParseFlags builds the configuration from defaults, the optional -config
// file, and CLI flags, then validates it.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	// The config file must load before flag registration so flags can
	// override its values; find it with a pre-scan.
	if path := configPathFromArgs(os.Args[1:]); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	flag.String("config", "", "Path to a YAML config file (flags override it)")

	listVoices := flag.Bool("list-voices", false, "List all available TTS voices and exit")
	voiceInfo := flag.String("voice-info", "", "Show detailed information about a specific voice and exit")

	flag.StringVar(&cfg.ModelDir, "model-dir", cfg.ModelDir, "Directory containing model files (Whisper, VAD, TTS)")

	// Session settings
	mode := flag.String("mode", string(cfg.Mode), "Input mode: 'voice' (microphone) or 'text' (stdin)")
	flag.BoolVar(&cfg.Speak, "speak", cfg.Speak, "Synthesize and play responses")
	flag.StringVar(&cfg.ThoughtsURL, "thoughts-url", cfg.ThoughtsURL, "Thought stream endpoint URL")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")

	// Audio and segmentation settings
	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Audio sample rate for speech recognition")
	flag.IntVar(&cfg.FrameSize, "frame-size", cfg.FrameSize, "Samples per analysis frame")
	enterThreshold := float64(cfg.EnterThreshold)
	flag.Float64Var(&enterThreshold, "enter-threshold", enterThreshold, "Speech score above which recording starts (0.0-1.0)")
	exitThreshold := float64(cfg.ExitThreshold)
	flag.Float64Var(&exitThreshold, "exit-threshold", exitThreshold, "Speech score above which recording continues (0.0-1.0)")
	flag.IntVar(&cfg.MinSpeechMs, "min-speech-ms", cfg.MinSpeechMs, "Minimum speech length; shorter segments are discarded")
	flag.IntVar(&cfg.MinSilenceMs, "min-silence-ms", cfg.MinSilenceMs, "Silence run that ends an utterance")
	flag.IntVar(&cfg.SpeechPadMs, "speech-pad-ms", cfg.SpeechPadMs, "Trailing pad kept after speech ends")
	flag.IntVar(&cfg.MaxUtteranceSec, "max-utterance-sec", cfg.MaxUtteranceSec, "Utterance length that forces a dispatch")

	// LLM settings
	flag.StringVar(&cfg.OllamaURL, "ollama-url", cfg.OllamaURL, "Ollama API URL")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model name")
	temperature := float64(cfg.Temperature)
	flag.Float64Var(&temperature, "temperature", temperature, "LLM temperature (0.0-2.0)")
	flag.IntVar(&cfg.MaxTokens, "max-tokens", cfg.MaxTokens, "Response length cap in tokens")

	// TTS settings
	ttsSpeed := float64(cfg.TTSSpeed)
	flag.Float64Var(&ttsSpeed, "tts-speed", ttsSpeed, "Text-to-speech speed multiplier")
	flag.StringVar(&cfg.TTSVoice, "tts-voice", cfg.TTSVoice, "TTS voice name for Kokoro (e.g., 'bf_emma'). See https://github.com/k2-fsa/sherpa-onnx/releases/tag/tts-models")
	flag.IntVar(&cfg.TTSSpeakerID, "tts-speaker-id", cfg.TTSSpeakerID, "TTS speaker ID for the Kokoro model (bf_emma=21, af_bella=2)")

	// STT settings
	flag.StringVar(&cfg.STTLanguage, "stt-language", cfg.STTLanguage, "STT language code (e.g., 'en', 'es', 'fr', 'auto' for detection)")

	// Hardware acceleration
	flag.StringVar(&cfg.Provider, "provider", cfg.Provider, "Hardware acceleration provider (cpu, cuda, coreml). Auto-detected if not specified")
	flag.StringVar(&cfg.STTProvider, "stt-provider", cfg.STTProvider, "Provider for STT (overrides --provider)")
	flag.StringVar(&cfg.TTSProvider, "tts-provider", cfg.TTSProvider, "Provider for TTS (overrides --provider)")

	// Thread count settings
	flag.IntVar(&cfg.NumThreads, "num-threads", cfg.NumThreads, "Number of threads for all models (0 = auto-detect)")
	flag.IntVar(&cfg.VADThreads, "vad-threads", cfg.VADThreads, "VAD threads (0 = 1, VAD is lightweight)")
	flag.IntVar(&cfg.STTThreads, "stt-threads", cfg.STTThreads, "STT threads (0 = use num-threads)")
	flag.IntVar(&cfg.TTSThreads, "tts-threads", cfg.TTSThreads, "TTS threads (0 = use num-threads)")

	audioBufferMs := flag.Uint("audio-buffer-ms", uint(cfg.AudioBufferMs), "Audio buffer size in ms (0=auto 100ms for Bluetooth, 20ms for wired/built-in)")

	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	if *listVoices {
		PrintVoices()
		os.Exit(0)
	}
	if *voiceInfo != "" {
		if err := PrintVoiceInfo(*voiceInfo); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg.Mode = Mode(*mode)
	cfg.EnterThreshold = float32(enterThreshold)
	cfg.ExitThreshold = float32(exitThreshold)
	cfg.Temperature = float32(temperature)
	cfg.TTSSpeed = float32(ttsSpeed)
	cfg.AudioBufferMs = uint32(*audioBufferMs)

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configPathFromArgs pre-scans args for the -config flag.
func configPathFromArgs(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "-config" || arg == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > 8 && (arg[:8] == "-config=" || (len(arg) > 9 && arg[:9] == "--config=")):
			if arg[:9] == "--config=" {
				return arg[9:]
			}
			return arg[8:]
		}
	}
	return ""
}

// Finalize resolves providers, thread counts, and derived model paths.
func (c *Config) Finalize() error {
	if c.Mode != ModeVoice && c.Mode != ModeText {
		return fmt.Errorf("invalid mode: %s (must be 'voice' or 'text')", c.Mode)
	}
	if c.EnterThreshold < c.ExitThreshold {
		return fmt.Errorf("enter threshold %.2f below exit threshold %.2f", c.EnterThreshold, c.ExitThreshold)
	}

	if c.Provider == "" {
		c.Provider = detectProvider()
	}
	if c.STTProvider == "" {
		c.STTProvider = c.Provider
	}
	if c.TTSProvider == "" {
		c.TTSProvider = c.Provider
	}

	c.normalizeThreadCounts()

	c.VADModel = filepath.Join(c.ModelDir, "silero_vad.onnx")
	c.WhisperEncoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-encoder.int8.onnx")
	c.WhisperDecoder = filepath.Join(c.ModelDir, "whisper", "whisper-small-decoder.int8.onnx")
	c.WhisperTokens = filepath.Join(c.ModelDir, "whisper", "whisper-small-tokens.txt")

	// Kokoro TTS model paths (multi-lang v1.0)
	ttsDir := filepath.Join(c.ModelDir, "tts", "kokoro-multi-lang-v1_0")
	c.TTSModel = filepath.Join(ttsDir, "model.onnx")
	c.TTSVoices = filepath.Join(ttsDir, "voices.bin")
	c.TTSTokens = filepath.Join(ttsDir, "tokens.txt")
	c.TTSData = filepath.Join(ttsDir, "espeak-ng-data")
	c.TTSLexicon = getLexiconForVoice(ttsDir, c.TTSVoice)
	c.TTSLanguage = getLanguageForVoice(c.TTSVoice)

	return nil
}

// normalizeThreadCounts sets thread counts from CPU cores when unset:
// VAD gets 1 (lightweight), Whisper and Kokoro each get cores/3 so the
// pipeline never oversubscribes an edge device.
func (c *Config) normalizeThreadCounts() {
	if c.NumThreads == 0 {
		c.NumThreads = max(1, runtime.NumCPU()/3)
	}
	if c.VADThreads == 0 {
		c.VADThreads = 1
	}
	if c.STTThreads == 0 {
		c.STTThreads = c.NumThreads
	}
	if c.TTSThreads == 0 {
		c.TTSThreads = c.NumThreads
	}
}

// validate checks that the model files the selected mode needs exist.
func (c *Config) validate() error {
	var requiredFiles []string
	if c.Mode == ModeVoice {
		requiredFiles = append(requiredFiles,
			c.VADModel, c.WhisperEncoder, c.WhisperDecoder, c.WhisperTokens)
	}
	if c.Speak {
		requiredFiles = append(requiredFiles, c.TTSModel, c.TTSVoices, c.TTSTokens)
	}

	for _, path := range requiredFiles {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("required model file not found: %s", path)
		}
	}
	return nil
}

// detectProvider picks the best hardware acceleration for the platform.
func detectProvider() string {
	switch runtime.GOOS {
	case "darwin":
		return "coreml"
	case "linux":
		if sherpa.HasNvidiaGPU() {
			return "cuda"
		}
		return "cpu"
	default:
		return "cpu"
	}
}

// getLexiconForVoice returns the lexicon file path for the voice. Kokoro
// v1.0+ multi-lingual models ship lexicon-us-en.txt, lexicon-gb-en.txt, and
// lexicon-zh.txt; other languages phonemize through espeak-ng instead.
func getLexiconForVoice(ttsDir, voiceName string) string {
	voice := GetVoice(voiceName)
	if voice == nil {
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	}

	switch voice.EspeakCode {
	case "en-us":
		return filepath.Join(ttsDir, "lexicon-us-en.txt")
	case "en-gb":
		return filepath.Join(ttsDir, "lexicon-gb-en.txt")
	case "cmn": // Mandarin with English fallback
		return filepath.Join(ttsDir, "lexicon-us-en.txt") + "," + filepath.Join(ttsDir, "lexicon-zh.txt")
	default:
		return ""
	}
}

// getLanguageForVoice returns the espeak-ng language code for voices without
// lexicon files.
func getLanguageForVoice(voiceName string) string {
	voice := GetVoice(voiceName)
	if voice == nil {
		return ""
	}
	if voice.EspeakCode == "en-us" || voice.EspeakCode == "en-gb" || voice.EspeakCode == "cmn" {
		return ""
	}
	return voice.EspeakCode
}
