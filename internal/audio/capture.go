// Package audio provides microphone capture, playback, and the sample-rate
// plumbing between device rates and the model rates, built on malgo.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"
)

// Capture ring configuration.
const (
	// captureRingSize is the number of sample chunks the ring buffer holds.
	// At 16kHz with 32ms chunks this is ~4 seconds of headroom between the
	// audio callback and the consumer goroutine.
	captureRingSize = 128

	// maxSamplesPerChunk bounds per-callback allocation.
	maxSamplesPerChunk = 2048
)

// captureChunk is one callback's worth of samples in the capture ring.
type captureChunk struct {
	samples []float32
	len     int
}

// captureRing is a lock-free single-producer single-consumer ring buffer
// between the audio callback (producer) and the process loop (consumer).
type captureRing struct {
	chunks    [captureRingSize]captureChunk
	head      atomic.Uint64
	tail      atomic.Uint64
	dropCount atomic.Uint64
}

func newCaptureRing() *captureRing {
	rb := &captureRing{}
	for i := range rb.chunks {
		rb.chunks[i].samples = make([]float32, maxSamplesPerChunk)
	}
	return rb
}

// push copies samples into the ring. Returns false when full; the chunk is
// dropped rather than blocking the audio thread.
func (rb *captureRing) push(samples []float32) bool {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head-tail >= captureRingSize {
		rb.dropCount.Add(1)
		return false
	}

	slot := &rb.chunks[head%captureRingSize]
	slot.len = copy(slot.samples, samples)
	rb.head.Add(1)
	return true
}

// pop returns the oldest chunk, or nil when empty. The slice is only valid
// until the slot is reused; the consumer copies immediately.
func (rb *captureRing) pop() []float32 {
	head := rb.head.Load()
	tail := rb.tail.Load()
	if head == tail {
		return nil
	}
	slot := &rb.chunks[tail%captureRingSize]
	samples := slot.samples[:slot.len]
	rb.tail.Add(1)
	return samples
}

func (rb *captureRing) dropped() uint64 { return rb.dropCount.Load() }

// Capturer records from the default microphone, resamples to the target
// rate, and delivers fixed-size frames to the onFrame callback from a
// dedicated goroutine (never the audio thread).
type Capturer struct {
	ctx              *malgo.AllocatedContext
	device           *malgo.Device
	sampleRate       uint32 // target rate for the recognition pipeline
	deviceSampleRate uint32
	frameSize        int
	onFrame          func(frame []float32)
	log              *zap.SugaredLogger

	running   atomic.Bool // pause/resume gate
	ring      *captureRing
	framer    *Framer
	resampler *SincResampler
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewCapturer creates a capturer delivering frames of exactly frameSize
// samples at sampleRate.
func NewCapturer(sampleRate, frameSize int, onFrame func(frame []float32), log *zap.SugaredLogger) (*Capturer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	c := &Capturer{
		ctx:        ctx,
		sampleRate: uint32(sampleRate),
		frameSize:  frameSize,
		onFrame:    onFrame,
		log:        log,
		ring:       newCaptureRing(),
		stopChan:   make(chan struct{}),
	}
	c.framer = NewFramer(frameSize, func(frame []float32) {
		if c.onFrame != nil {
			c.onFrame(frame)
		}
	})
	return c, nil
}

// Start begins capture from the default microphone.
func (c *Capturer) Start() error {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = c.sampleRate
	deviceConfig.PeriodSizeInMilliseconds = 32

	// The device may refuse the requested rate; query what it actually uses.
	tempDevice, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{})
	if err != nil {
		return fmt.Errorf("failed to query capture device: %w", err)
	}
	c.deviceSampleRate = tempDevice.SampleRate()
	tempDevice.Uninit()

	if c.deviceSampleRate != c.sampleRate {
		c.resampler = NewSincResampler(int(c.deviceSampleRate), int(c.sampleRate))
		c.log.Infow("capture resampling enabled",
			"device_rate", c.deviceSampleRate, "target_rate", c.sampleRate)
	}

	// Audio callback: runs on the audio thread, must never block.
	onRecvFrames := func(pOutputSample, pInputSamples []byte, framecount uint32) {
		if !c.running.Load() {
			return
		}
		pooledSamples := bytesToFloat32(pInputSamples)
		if len(pooledSamples) > 0 {
			c.ring.push(pooledSamples)
		}
		returnFloat32Buffer(pooledSamples)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	c.device = device
	c.running.Store(true)

	c.wg.Add(1)
	go c.processLoop()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// processLoop drains the ring, resamples, and feeds the framer.
func (c *Capturer) processLoop() {
	defer c.wg.Done()

	var lastDropReport uint64
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		samples := c.ring.pop()
		if samples == nil {
			// Brief sleep keeps latency low without busy-spinning.
			select {
			case <-c.stopChan:
				return
			case <-time.After(100 * time.Microsecond):
			}
			continue
		}
		if !c.running.Load() {
			continue
		}

		chunk := make([]float32, len(samples))
		copy(chunk, samples)
		if c.resampler != nil {
			chunk = c.resampler.Resample(chunk)
		}
		c.framer.Write(chunk)

		if dropped := c.ring.dropped(); dropped > lastDropReport && dropped%100 == 0 {
			c.log.Warnw("capture ring overflow", "dropped_chunks", dropped)
			lastDropReport = dropped
		}
	}
}

// Stop halts capture and waits for the process loop.
func (c *Capturer) Stop() {
	c.running.Store(false)
	select {
	case <-c.stopChan:
	default:
		close(c.stopChan)
	}
	c.wg.Wait()

	if c.device != nil {
		c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
}

// Pause temporarily stops frame delivery (half-duplex: not while speaking).
func (c *Capturer) Pause() {
	c.running.Store(false)
	c.framer.Reset()
}

// Resume restarts frame delivery after Pause.
func (c *Capturer) Resume() {
	c.running.Store(true)
}

// Close releases all audio resources.
func (c *Capturer) Close() {
	c.Stop()
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}

// float32Pool reduces allocations in the audio callback hot path.
var float32Pool = sync.Pool{
	New: func() interface{} {
		buf := make([]float32, maxSamplesPerChunk)
		return &buf
	},
}

// bytesToFloat32 converts raw little-endian F32 bytes to samples. The result
// is valid only until returnFloat32Buffer is called.
func bytesToFloat32(data []byte) []float32 {
	numSamples := len(data) / 4
	pBuf := float32Pool.Get().(*[]float32)
	if cap(*pBuf) < numSamples {
		*pBuf = make([]float32, numSamples)
	}
	samples := (*pBuf)[:numSamples]
	for i := range samples {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

func returnFloat32Buffer(samples []float32) {
	if samples == nil {
		return
	}
	buf := samples[:cap(samples)]
	float32Pool.Put(&buf)
}
