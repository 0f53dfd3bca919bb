// voiceloom is a local conversational demo: utterances (or typed lines) go
// in, an immediate spoken response comes out, and thought-enhanced responses
// stream in behind it.
//
// The pipeline runs entirely on-device:
//   - Voice activity segmentation (Silero VAD)
//   - Speech-to-text (Whisper)
//   - Response generation (Ollama)
//   - Thought streaming (external HTTP endpoint)
//   - Text-to-speech (Kokoro)
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/voiceloom/voiceloom/internal/audio"
	"github.com/voiceloom/voiceloom/internal/config"
	"github.com/voiceloom/voiceloom/internal/inference"
	"github.com/voiceloom/voiceloom/internal/llm"
	"github.com/voiceloom/voiceloom/internal/logging"
	"github.com/voiceloom/voiceloom/internal/observe"
	"github.com/voiceloom/voiceloom/internal/session"
	"github.com/voiceloom/voiceloom/internal/stt"
	"github.com/voiceloom/voiceloom/internal/thoughts"
	"github.com/voiceloom/voiceloom/internal/tts"
	"github.com/voiceloom/voiceloom/internal/vad"
)

var version = "dev"

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logging.Init(cfg.Verbose)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("fatal", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	log.Infow("voiceloom starting", "version", version, "mode", cfg.Mode,
		"stt_provider", cfg.STTProvider, "tts_provider", cfg.TTSProvider)

	g, gctx := errgroup.WithContext(ctx)

	// Metrics
	var metrics *observe.Metrics
	if cfg.MetricsAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("init metrics provider: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
		metrics = observe.DefaultMetrics()

		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.MetricsHandler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		g.Go(func() error {
			log.Infow("metrics listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	// The single inference queue every model invocation goes through.
	queue := inference.NewQueue(log, metrics)
	defer queue.Close()

	// LLM
	llmClient, err := llm.NewClient(&llm.Config{
		Host:  cfg.OllamaURL,
		Model: cfg.OllamaModel,
		Sampling: llm.SamplingConfig{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			ContextSize: 1024,
		},
		Verbose: cfg.Verbose,
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = llmClient.HealthCheck(hctx)
	cancel()
	if err != nil {
		return err
	}
	log.Infow("ollama connected", "url", cfg.OllamaURL, "model", cfg.OllamaModel)

	// Thought stream
	src := turnSource{client: thoughts.NewClient(cfg.ThoughtsURL)}

	// Speech output
	newSpeech := func(ctx context.Context) session.Speech { return silentSpeech{} }
	if cfg.Speak {
		synth, err := tts.NewKokoro(&tts.Config{
			Model:     cfg.TTSModel,
			Voices:    cfg.TTSVoices,
			Tokens:    cfg.TTSTokens,
			DataDir:   cfg.TTSData,
			Lexicon:   cfg.TTSLexicon,
			Language:  cfg.TTSLanguage,
			SpeakerID: cfg.TTSSpeakerID,
			Speed:     cfg.TTSSpeed,
			Provider:  cfg.TTSProvider,
			Threads:   cfg.TTSThreads,
			Debug:     cfg.Verbose,
		}, log)
		if err != nil {
			return fmt.Errorf("create TTS synthesizer: %w", err)
		}
		defer synth.Close()

		player, err := audio.NewPlayer(cfg.AudioBufferMs, log, metrics)
		if err != nil {
			return fmt.Errorf("create audio player: %w", err)
		}
		defer player.Close()

		newSpeech = func(ctx context.Context) session.Speech {
			return tts.NewPipeline(ctx, queue, synth, player, log)
		}
		log.Infow("text-to-speech ready", "voice", cfg.TTSVoice, "speaker", cfg.TTSSpeakerID)
	}

	// Transcription (voice mode only)
	var transcriber *stt.Transcriber
	if cfg.Mode == config.ModeVoice {
		transcriber, err = stt.NewTranscriber(&stt.Config{
			Encoder:    cfg.WhisperEncoder,
			Decoder:    cfg.WhisperDecoder,
			Tokens:     cfg.WhisperTokens,
			Language:   cfg.STTLanguage,
			Provider:   cfg.STTProvider,
			SampleRate: cfg.SampleRate,
			Threads:    cfg.STTThreads,
			Debug:      cfg.Verbose,
		}, log)
		if err != nil {
			return fmt.Errorf("create transcriber: %w", err)
		}
		defer transcriber.Close()
		log.Infow("speech recognition ready")
	}

	orch := session.NewOrchestrator(session.Config{}, queue, transcriber, llmClient, src, newSpeech, log, metrics)
	orch.OnDisplay = func(role session.Role, text string) {
		switch role {
		case session.RoleUser:
			fmt.Printf("You: %s\n", text)
		default:
			fmt.Printf("Assistant: %s\n", text)
		}
	}

	switch cfg.Mode {
	case config.ModeText:
		g.Go(func() error { return textLoop(gctx, orch) })
	case config.ModeVoice:
		capturer, err := startVoiceInput(gctx, cfg, orch, queue, metrics, log)
		if err != nil {
			return err
		}
		defer capturer.Close()
		log.Infow("listening", "hint", "speak to interact, Ctrl+C to quit")
	}

	// Wait for shutdown.
	<-gctx.Done()
	log.Infow("shutting down")
	orch.Abort()

	done := make(chan struct{})
	go func() {
		orch.Wait()
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Infow("shutdown complete")
	case <-time.After(5 * time.Second):
		log.Warnw("shutdown timeout, forcing exit")
	}
	return nil
}

// startVoiceInput wires microphone frames through the queue-serialized VAD
// scorer into the segmenter, and finished segments into the orchestrator.
func startVoiceInput(ctx context.Context, cfg *config.Config, orch *session.Orchestrator, queue *inference.Queue, metrics *observe.Metrics, log *zap.SugaredLogger) (*audio.Capturer, error) {
	scorer, err := vad.NewSileroScorer(vad.SileroConfig{
		Model:      cfg.VADModel,
		SampleRate: cfg.SampleRate,
		FrameSize:  cfg.FrameSize,
		Threshold:  cfg.ExitThreshold,
		Threads:    cfg.VADThreads,
		Debug:      cfg.Verbose,
	})
	if err != nil {
		return nil, fmt.Errorf("create VAD scorer: %w", err)
	}

	segmenter := vad.NewSegmenter(vad.Config{
		SampleRate:     cfg.SampleRate,
		FrameSize:      cfg.FrameSize,
		EnterThreshold: cfg.EnterThreshold,
		ExitThreshold:  cfg.ExitThreshold,
		MinSilence:     time.Duration(cfg.MinSilenceMs) * time.Millisecond,
		MinSpeech:      time.Duration(cfg.MinSpeechMs) * time.Millisecond,
		SpeechPad:      time.Duration(cfg.SpeechPadMs) * time.Millisecond,
		MaxUtterance:   time.Duration(cfg.MaxUtteranceSec) * time.Second,
	}, queuedScorer{ctx: ctx, queue: queue, scorer: scorer}, func(e vad.Event) {
		switch ev := e.(type) {
		case vad.RecordingStarted:
			log.Debugw("speech started")
		case vad.SegmentReady:
			if metrics != nil {
				status := "dispatched"
				if ev.Forced {
					status = "overflow"
				}
				metrics.RecordSegment(ctx, status)
			}
			orch.HandleUtterance(ctx, ev.Samples)
		case vad.SegmentDiscarded:
			log.Debugw("segment discarded", "speech_samples", ev.SpeechSamples)
			if metrics != nil {
				metrics.RecordSegment(ctx, "discarded")
			}
		}
	}, log)

	capturer, err := audio.NewCapturer(cfg.SampleRate, cfg.FrameSize, func(frame []float32) {
		// Half-duplex gate: while a turn is running (thinking or speaking)
		// microphone frames are dropped, not queued.
		if orch.Busy() {
			segmenter.Reset()
			if metrics != nil {
				metrics.FramesDropped.Add(ctx, 1)
			}
			return
		}
		segmenter.Process(frame)
	}, log)
	if err != nil {
		scorer.Close()
		return nil, fmt.Errorf("create audio capturer: %w", err)
	}

	if err := capturer.Start(); err != nil {
		capturer.Close()
		scorer.Close()
		return nil, fmt.Errorf("start audio capture: %w", err)
	}

	go func() {
		<-ctx.Done()
		capturer.Stop()
		scorer.Close()
	}()
	return capturer, nil
}

// textLoop reads turns from stdin until EOF or shutdown.
func textLoop(ctx context.Context, orch *session.Orchestrator) error {
	fmt.Println("Type a message and press enter (Ctrl+D to quit).")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		orch.HandleText(ctx, line)
		orch.Wait()
	}
}

// queuedScorer routes per-frame VAD scoring through the shared inference
// queue so it is serialized with STT, LLM, and TTS device work.
type queuedScorer struct {
	ctx    context.Context
	queue  *inference.Queue
	scorer *vad.SileroScorer
}

func (q queuedScorer) Score(frame []float32) (float32, error) {
	return inference.Do(q.ctx, q.queue, "vad", func(context.Context) (float32, error) {
		return q.scorer.Score(frame)
	})
}

// turnSource adapts the session history to the thought service's wire shape.
type turnSource struct {
	client *thoughts.Client
}

func (s turnSource) Open(ctx context.Context, history []session.Turn) (io.ReadCloser, error) {
	msgs := make([]thoughts.Message, len(history))
	for i, t := range history {
		msgs[i] = thoughts.Message{Role: string(t.Role), Content: t.Content}
	}
	return s.client.Open(ctx, msgs)
}

// silentSpeech discards speech output when -speak=false.
type silentSpeech struct{}

func (silentSpeech) Push(string) {}
func (silentSpeech) Close()      {}
func (silentSpeech) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
