package tts

import (
	"context"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/inference"
)

// Output consumes synthesized audio for sequential playback.
type Output interface {
	// Enqueue adds one chunk to the playback queue.
	Enqueue(samples []float32, sampleRate int)
	// Drained returns a channel that closes once everything enqueued so far
	// has finished playing.
	Drained() <-chan struct{}
}

// SpeechPipeline couples a Streamer to an Output for one spoken turn: texts
// go in, playback comes out, and Done closes once the last chunk has been
// played. One pipeline serves one turn and is then discarded.
type SpeechPipeline struct {
	streamer *Streamer
	out      Output
	done     chan struct{}
}

// NewPipeline creates a pipeline for one turn and starts moving chunks.
func NewPipeline(ctx context.Context, queue *inference.Queue, synth Synthesizer, out Output, log *zap.SugaredLogger) *SpeechPipeline {
	p := &SpeechPipeline{
		streamer: NewStreamer(ctx, queue, synth, log),
		out:      out,
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Push queues response text for synthesis and playback.
func (p *SpeechPipeline) Push(text string) { p.streamer.Push(text) }

// Close signals the end of the turn's text. Pending audio still plays out.
func (p *SpeechPipeline) Close() { p.streamer.Close() }

// Done returns a channel that closes when all pushed text has been
// synthesized and played.
func (p *SpeechPipeline) Done() <-chan struct{} { return p.done }

func (p *SpeechPipeline) run() {
	defer close(p.done)
	enqueued := false
	for chunk := range p.streamer.Chunks() {
		p.out.Enqueue(chunk.Samples, chunk.SampleRate)
		enqueued = true
	}
	if enqueued {
		<-p.out.Drained()
	}
}
