package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/observe"
)

// playbackRingSize is the sample capacity of the playback ring:
// ~11 seconds at 48kHz, enough to buffer long synthesized responses.
const playbackRingSize = 524288

// playbackRing is a lock-free single-producer single-consumer sample ring
// between Enqueue (producer) and the audio callback (consumer).
type playbackRing struct {
	samples [playbackRingSize]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

// push writes as many samples as fit and returns how many were written.
func (rb *playbackRing) push(samples []float32) int {
	head := rb.head.Load()
	tail := rb.tail.Load()

	toWrite := len(samples)
	if available := playbackRingSize - int(head-tail); toWrite > available {
		toWrite = available
	}
	for i := 0; i < toWrite; i++ {
		rb.samples[(head+uint64(i))%playbackRingSize] = samples[i]
	}
	rb.head.Add(uint64(toWrite))
	return toWrite
}

func (rb *playbackRing) pop() (float32, bool) {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return 0.0, false
	}
	sample := rb.samples[tail%playbackRingSize]
	rb.tail.Add(1)
	return sample, true
}

func (rb *playbackRing) isEmpty() bool {
	return rb.head.Load() == rb.tail.Load()
}

func (rb *playbackRing) clear() {
	rb.tail.Store(rb.head.Load())
}

// Player is the sequential playback queue: chunks enqueued in order play in
// order through a persistent output device, and Drained reports when the
// queue has fully played out. The device runs continuously and outputs
// silence while the ring is empty.
type Player struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	deviceSampleRate uint32
	bufferMs         uint32
	log              *zap.SugaredLogger
	metrics          *observe.Metrics

	interrupt atomic.Bool
	playing   atomic.Bool
	ring      *playbackRing
	resampler *LinearResampler
	resampleMu sync.Mutex
	stopChan  chan struct{}
	stopOnce  sync.Once
}

// NewPlayer creates a player and starts its persistent output device.
// bufferMs sizes the device period (20ms wired, 100ms for Bluetooth; 0 means
// the 100ms default). metrics may be nil.
func NewPlayer(bufferMs uint32, log *zap.SugaredLogger, metrics *observe.Metrics) (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	if bufferMs == 0 {
		bufferMs = 100
	}

	p := &Player{
		ctx:              ctx,
		deviceSampleRate: deviceNativeSampleRate(),
		bufferMs:         bufferMs,
		log:              log,
		metrics:          metrics,
		ring:             &playbackRing{},
		stopChan:         make(chan struct{}),
	}
	p.log.Infow("playback device", "rate", p.deviceSampleRate, "buffer_ms", bufferMs)

	if err := p.initDevice(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return p, nil
}

func (p *Player) initDevice() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatF32
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = p.deviceSampleRate
	deviceConfig.PeriodSizeInMilliseconds = p.bufferMs

	// Lock-free audio callback: drains the ring, emits silence when empty.
	onSendFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		interrupted := p.interrupt.Load()
		for i := 0; i < int(framecount); i++ {
			var sample float32
			if !interrupted {
				if s, ok := p.ring.pop(); ok {
					sample = s
				}
			}
			binary.LittleEndian.PutUint32(pOutputSample[i*4:], math.Float32bits(sample))
		}
		if p.ring.isEmpty() || interrupted {
			p.playing.Store(false)
		}
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSendFrames})
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start playback device: %w", err)
	}
	return nil
}

// deviceNativeSampleRate queries the device's preferred rate, defaulting to
// 48000 Hz when it cannot be determined.
func deviceNativeSampleRate() uint32 {
	defaultConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	if defaultConfig.SampleRate > 0 {
		return defaultConfig.SampleRate
	}
	return 48000
}

// Enqueue appends one chunk to the playback queue. Chunks play strictly in
// enqueue order; the call never waits for playback.
func (p *Player) Enqueue(samples []float32, sampleRate int) {
	if len(samples) == 0 {
		return
	}

	out := samples
	if sampleRate != int(p.deviceSampleRate) {
		p.resampleMu.Lock()
		if p.resampler == nil {
			p.resampler = NewLinearResampler(sampleRate, int(p.deviceSampleRate))
		}
		out = p.resampler.Resample(samples)
		p.resampleMu.Unlock()
	}

	p.interrupt.Store(false)
	if written := p.ring.push(out); written < len(out) {
		p.log.Warnw("playback ring overflow", "dropped_samples", len(out)-written)
	}
	p.playing.Store(true)

	if p.metrics != nil {
		p.metrics.PlaybackSeconds.Add(context.Background(),
			float64(len(samples))/float64(sampleRate))
	}
}

// Drained returns a channel that closes once everything enqueued so far has
// been consumed by the device.
func (p *Player) Drained() <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for !p.ring.isEmpty() {
			select {
			case <-ticker.C:
			case <-p.stopChan:
				return
			}
		}
	}()
	return ch
}

// Playing reports whether audio is currently being played out.
func (p *Player) Playing() bool {
	return p.playing.Load()
}

// Interrupt discards all queued audio immediately.
func (p *Player) Interrupt() {
	p.interrupt.Store(true)
	p.ring.clear()
	p.playing.Store(false)
}

// Close releases all resources.
func (p *Player) Close() {
	p.Interrupt()
	p.stopOnce.Do(func() { close(p.stopChan) })
	if p.device != nil {
		p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
