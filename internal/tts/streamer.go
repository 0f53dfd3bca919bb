package tts

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/inference"
)

// textBuffer bounds how many pushed texts may wait for synthesis. A turn
// pushes one immediate response plus one text per thought, so this is ample.
const textBuffer = 16

// Streamer turns pushed response texts into an ordered stream of audio
// chunks. Each text is split into sentences and synthesized one sentence at
// a time through the shared inference queue, so chunks come out in exactly
// the order the texts went in. A sentence whose synthesis fails is skipped;
// the rest of the stream continues.
type Streamer struct {
	queue *inference.Queue
	synth Synthesizer
	log   *zap.SugaredLogger

	texts  chan string
	chunks chan *Chunk

	mu     sync.Mutex
	closed bool
}

// NewStreamer creates a streamer and starts its synthesis worker. The worker
// stops when Close is called and all pending texts are synthesized, or when
// ctx is cancelled.
func NewStreamer(ctx context.Context, queue *inference.Queue, synth Synthesizer, log *zap.SugaredLogger) *Streamer {
	s := &Streamer{
		queue:  queue,
		synth:  synth,
		log:    log,
		texts:  make(chan string, textBuffer),
		chunks: make(chan *Chunk, textBuffer),
	}
	go s.run(ctx)
	return s
}

// Push queues text for synthesis. Pushes after Close are dropped.
func (s *Streamer) Push(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Warnw("push after close dropped", "text", text)
		return
	}
	s.texts <- text
}

// Close signals that no more text will be pushed. Chunks for already-pushed
// texts still arrive; the chunk channel closes after the last one.
func (s *Streamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.texts)
	}
}

// Chunks returns the ordered stream of synthesized audio. The channel is
// closed once the streamer is closed and fully drained.
func (s *Streamer) Chunks() <-chan *Chunk {
	return s.chunks
}

func (s *Streamer) run(ctx context.Context) {
	defer close(s.chunks)
	for {
		select {
		case text, ok := <-s.texts:
			if !ok {
				return
			}
			s.synthesizeText(ctx, text)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Streamer) synthesizeText(ctx context.Context, text string) {
	for _, sentence := range SplitSentences(text) {
		chunk, err := inference.Do(ctx, s.queue, "tts", func(context.Context) (*Chunk, error) {
			return s.synth.Synthesize(sentence)
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnw("sentence synthesis failed, skipping", "text", sentence, "error", err)
			continue
		}
		select {
		case s.chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
}
