package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anatolykoptev/go_transcribe/internal/engine"
)

// ErrClosed is returned when a task is submitted to, or stranded in, a closed Executor.
var ErrClosed = errors.New("transcribe: executor closed")

// ExecutorOptions bounds the worker pool.
type ExecutorOptions struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration // per-inference deadline; zero means none
}

type task struct {
	ctx  context.Context
	path string
	done chan result
}

type result struct {
	text string
	err  error
}

// Executor runs inference on a fixed pool of workers. Each worker owns one
// Engine, so no instance ever sees concurrent calls.
type Executor struct {
	tasks   chan task
	quit    chan struct{}
	stopped chan struct{}
	timeout time.Duration
	logger  *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewExecutor builds one engine per worker and starts the pool. If any
// engine fails to build, the ones already built are closed.
func NewExecutor(factory Factory, opts ExecutorOptions, logger *slog.Logger) (*Executor, error) {
	if factory == nil {
		return nil, errors.New("transcribe: nil factory")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	engines := make([]Engine, 0, opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		eng, err := factory()
		if err != nil {
			for _, e := range engines {
				_ = e.Close()
			}
			return nil, fmt.Errorf("transcribe: build engine %d: %w", i, err)
		}
		engines = append(engines, eng)
	}

	x := &Executor{
		tasks:   make(chan task, opts.QueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		timeout: opts.Timeout,
		logger:  logger.With("component", "executor"),
	}
	for i, eng := range engines {
		x.wg.Add(1)
		go x.worker(i, eng)
	}
	go func() {
		x.wg.Wait()
		close(x.stopped)
	}()

	x.logger.Info("executor started",
		slog.Int("workers", opts.Workers),
		slog.Int("queue_size", opts.QueueSize),
		slog.Duration("timeout", opts.Timeout),
	)
	return x, nil
}

// Transcribe submits audioPath and waits for its transcript. It returns early
// when ctx is done; the worker then skips or abandons the task.
func (x *Executor) Transcribe(ctx context.Context, audioPath string) (string, error) {
	t := task{ctx: ctx, path: audioPath, done: make(chan result, 1)}

	select {
	case <-x.quit:
		return "", ErrClosed
	default:
	}

	select {
	case x.tasks <- t:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-x.quit:
		return "", ErrClosed
	}

	select {
	case r := <-t.done:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-x.stopped:
		select {
		case r := <-t.done:
			return r.text, r.err
		default:
			return "", ErrClosed
		}
	}
}

// Close stops accepting work, lets in-flight tasks finish and closes every
// engine. Tasks still queued are answered with ErrClosed.
func (x *Executor) Close() error {
	x.closeOnce.Do(func() {
		close(x.quit)
	})
	<-x.stopped
	return nil
}

func (x *Executor) worker(id int, eng Engine) {
	defer x.wg.Done()
	defer func() {
		if err := eng.Close(); err != nil {
			x.logger.Warn("engine close failed", slog.Int("worker", id), slog.Any("error", err))
		}
	}()

	for {
		select {
		case <-x.quit:
			x.drain()
			return
		case t := <-x.tasks:
			t.done <- x.run(id, eng, t)
		}
	}
}

// drain rejects whatever is left in the queue after quit.
func (x *Executor) drain() {
	for {
		select {
		case t := <-x.tasks:
			t.done <- result{err: ErrClosed}
		default:
			return
		}
	}
}

func (x *Executor) run(id int, eng Engine, t task) (r result) {
	if err := t.ctx.Err(); err != nil {
		return result{err: err}
	}

	ctx := t.ctx
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			x.logger.Error("engine panic", slog.Int("worker", id), slog.Any("panic", p))
			r = result{err: fmt.Errorf("transcribe: engine panic: %v", p)}
		}
		engine.ObserveTranscription(time.Since(start))
		if r.err != nil {
			engine.IncrTranscriptionErrors()
		}
	}()

	text, err := eng.Transcribe(ctx, t.path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && t.ctx.Err() == nil {
			err = fmt.Errorf("transcribe: timed out after %s: %w", x.timeout, err)
		}
		return result{err: err}
	}
	x.logger.Debug("transcribed",
		slog.Int("worker", id),
		slog.String("path", t.path),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result{text: text}
}
