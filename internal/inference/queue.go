// Package inference provides the single-concurrency task queue that
// serializes all access to the shared compute device.
//
// The device (one GPU/NPU context shared by VAD, ASR, LLM, and TTS) cannot
// serve concurrent inference sessions, so every model invocation in voiceloom
// is funneled through one Queue: tasks begin strictly in enqueue order, at
// most one executes at any instant, and a task's failure never blocks the
// tasks behind it.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voiceloom/voiceloom/internal/observe"
)

// ErrQueueClosed is returned for tasks submitted to, or still pending on, a
// closed queue.
var ErrQueueClosed = errors.New("inference queue closed")

// queueBuffer bounds how many tasks may wait without blocking the submitter.
// The pipeline rarely holds more than a handful (one STT, one LLM, a few TTS
// sentences), so this is generous.
const queueBuffer = 64

type task struct {
	kind  string
	run   func()
	abort func()
}

// Queue is a strict-FIFO, concurrency-1 task queue. Create it with
// [NewQueue]; submit work with [Do] or [Submit].
type Queue struct {
	log     *zap.SugaredLogger
	metrics *observe.Metrics

	tasks chan *task
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// NewQueue creates a queue and starts its single worker goroutine.
// metrics may be nil.
func NewQueue(log *zap.SugaredLogger, metrics *observe.Metrics) *Queue {
	q := &Queue{
		log:     log,
		metrics: metrics,
		tasks:   make(chan *task, queueBuffer),
		quit:    make(chan struct{}),
	}
	q.wg.Add(1)
	go q.loop()
	return q
}

// Close stops the worker. Tasks still waiting are completed with
// [ErrQueueClosed]; the in-flight task, if any, finishes first (device calls
// are not interruptible mid-call).
func (q *Queue) Close() {
	q.once.Do(func() { close(q.quit) })
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		// Quit takes priority over further work once both are ready.
		select {
		case <-q.quit:
			q.drain()
			return
		default:
		}
		select {
		case t := <-q.tasks:
			t.run()
		case <-q.quit:
			q.drain()
			return
		}
	}
}

// drain completes every still-queued task with ErrQueueClosed.
func (q *Queue) drain() {
	for {
		select {
		case t := <-q.tasks:
			t.abort()
		default:
			return
		}
	}
}

// Result carries a completed task's value or error.
type Result[T any] struct {
	Value T
	Err   error
}

// Submit enqueues fn and returns a channel that receives exactly one Result
// when the task completes. The task is not cancellable once enqueued; a
// caller that aborts should stop submitting and discard the eventual result.
func Submit[T any](ctx context.Context, q *Queue, kind string, fn func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)

	t := &task{
		kind: kind,
		abort: func() {
			if q.metrics != nil {
				q.metrics.InferenceQueueDepth.Add(context.Background(), -1)
			}
			ch <- Result[T]{Err: ErrQueueClosed}
		},
	}
	t.run = func() {
		if q.metrics != nil {
			defer q.metrics.InferenceQueueDepth.Add(context.Background(), -1)
		}
		start := time.Now()
		v, err := runGuarded(ctx, fn)
		status := "ok"
		if err != nil {
			status = "error"
			if IsDeviceLost(err) {
				// Recognized but not recovered: the device session is not
				// reinitialized and the task is not retried.
				q.log.Warnw("inference device lost", "kind", kind, "error", err)
				if q.metrics != nil {
					q.metrics.DeviceLost.Add(context.Background(), 1)
				}
			}
		}
		if q.metrics != nil {
			q.metrics.RecordInference(context.Background(), kind, status, time.Since(start).Seconds())
		}
		ch <- Result[T]{Value: v, Err: err}
	}

	if q.metrics != nil {
		q.metrics.InferenceQueueDepth.Add(context.Background(), 1)
	}
	select {
	case q.tasks <- t:
	case <-q.quit:
		if q.metrics != nil {
			q.metrics.InferenceQueueDepth.Add(context.Background(), -1)
		}
		ch <- Result[T]{Err: ErrQueueClosed}
	case <-ctx.Done():
		if q.metrics != nil {
			q.metrics.InferenceQueueDepth.Add(context.Background(), -1)
		}
		ch <- Result[T]{Err: ctx.Err()}
	}
	return ch
}

// Do enqueues fn and blocks until it completes or ctx is done. When ctx ends
// first the task still runs to completion on the queue; its result is
// discarded.
func Do[T any](ctx context.Context, q *Queue, kind string, fn func(context.Context) (T, error)) (T, error) {
	ch := Submit(ctx, q, kind, fn)
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-q.quit:
		select {
		case r := <-ch:
			return r.Value, r.Err
		default:
		}
		var zero T
		return zero, ErrQueueClosed
	}
}

// runGuarded invokes fn, converting a panic into an error so one bad task
// cannot take down the worker and block the queue.
func runGuarded[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference task panic: %v", r)
		}
	}()
	return fn(ctx)
}

// deviceLossSignatures are lowercase substrings that identify a lost compute
// device session in error text. Matching is textual because the underlying
// runtimes surface the condition only through message strings.
var deviceLossSignatures = []string{
	"device lost",
	"device removed",
	"context lost",
	"cuda error",
	"hip error",
	"device unavailable",
}

// IsDeviceLost reports whether err looks like a device-session loss.
func IsDeviceLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range deviceLossSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
