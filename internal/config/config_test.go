package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Mode != ModeVoice {
		t.Errorf("Mode = %s, want voice", cfg.Mode)
	}
	if cfg.SampleRate != 16000 || cfg.FrameSize != 512 {
		t.Errorf("audio defaults = %d/%d, want 16000/512", cfg.SampleRate, cfg.FrameSize)
	}
	if cfg.EnterThreshold != 0.3 || cfg.ExitThreshold != 0.1 {
		t.Errorf("thresholds = %v/%v, want 0.3/0.1", cfg.EnterThreshold, cfg.ExitThreshold)
	}
	if cfg.MinSpeechMs != 250 || cfg.MinSilenceMs != 400 || cfg.SpeechPadMs != 100 {
		t.Errorf("segmentation defaults = %d/%d/%d", cfg.MinSpeechMs, cfg.MinSilenceMs, cfg.SpeechPadMs)
	}
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voiceloom.yaml")
	content := `
mode: text
ollama_model: llama3.2:3b
min_silence_ms: 600
tts_voice: bf_emma
tts_speaker_id: 21
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Mode != ModeText {
		t.Errorf("Mode = %s, want text", cfg.Mode)
	}
	if cfg.OllamaModel != "llama3.2:3b" {
		t.Errorf("OllamaModel = %s", cfg.OllamaModel)
	}
	if cfg.MinSilenceMs != 600 {
		t.Errorf("MinSilenceMs = %d, want 600", cfg.MinSilenceMs)
	}
	// Untouched keys keep their defaults.
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want default 16000", cfg.SampleRate)
	}
}

func TestLoadFile_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("mode: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := DefaultConfig().LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFinalize_DerivedPathsAndThreads(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelDir = "/models"
	cfg.Provider = "cpu"
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if cfg.VADModel != filepath.Join("/models", "silero_vad.onnx") {
		t.Errorf("VADModel = %s", cfg.VADModel)
	}
	if !strings.Contains(cfg.WhisperEncoder, "whisper-small-encoder") {
		t.Errorf("WhisperEncoder = %s", cfg.WhisperEncoder)
	}
	if !strings.Contains(cfg.TTSLexicon, "lexicon-us-en.txt") {
		t.Errorf("TTSLexicon = %s, want American lexicon for af_bella", cfg.TTSLexicon)
	}
	if cfg.STTProvider != "cpu" || cfg.TTSProvider != "cpu" {
		t.Errorf("providers = %s/%s, want cpu/cpu", cfg.STTProvider, cfg.TTSProvider)
	}
	if cfg.VADThreads != 1 {
		t.Errorf("VADThreads = %d, want 1", cfg.VADThreads)
	}
	if cfg.STTThreads < 1 || cfg.TTSThreads < 1 {
		t.Errorf("thread counts = %d/%d, want >= 1", cfg.STTThreads, cfg.TTSThreads)
	}
}

func TestFinalize_RejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnterThreshold = 0.1
	cfg.ExitThreshold = 0.3
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for enter < exit")
	}
}

func TestFinalize_RejectsUnknownMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "hologram"
	if err := cfg.Finalize(); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"-config", "a.yaml"}, "a.yaml"},
		{[]string{"--config", "b.yaml"}, "b.yaml"},
		{[]string{"-config=c.yaml"}, "c.yaml"},
		{[]string{"--config=d.yaml"}, "d.yaml"},
		{[]string{"-verbose"}, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := configPathFromArgs(tc.args); got != tc.want {
			t.Errorf("configPathFromArgs(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}

func TestGetVoice(t *testing.T) {
	if v := GetVoice("af_bella"); v == nil || v.SpeakerID != 2 {
		t.Errorf("GetVoice(af_bella) = %+v", v)
	}
	if GetVoice("nope") != nil {
		t.Error("GetVoice(nope) returned a voice")
	}
	if lex := getLexiconForVoice("/tts", "bf_emma"); !strings.Contains(lex, "lexicon-gb-en.txt") {
		t.Errorf("bf_emma lexicon = %s", lex)
	}
	if lang := getLanguageForVoice("ef_dora"); lang != "es" {
		t.Errorf("ef_dora language = %s, want es", lang)
	}
}
