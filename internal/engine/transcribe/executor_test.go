package transcribe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEngine records how many callers are inside Transcribe at once.
type countingEngine struct {
	active  *atomic.Int32
	peak    *atomic.Int32
	delay   time.Duration
	closed  atomic.Bool
	fn      func(ctx context.Context, path string) (string, error)
	overlap atomic.Int32
	inside  atomic.Int32
}

func (p *countingEngine) Transcribe(ctx context.Context, path string) (string, error) {
	if p.inside.Add(1) > 1 {
		p.overlap.Add(1)
	}
	defer p.inside.Add(-1)

	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if p.fn != nil {
		return p.fn(ctx, path)
	}
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "text:" + path, nil
}

func (p *countingEngine) Close() error {
	p.closed.Store(true)
	return nil
}

type countingSet struct {
	mu      sync.Mutex
	engines []*countingEngine
	active  atomic.Int32
	peak    atomic.Int32
}

func (s *countingSet) factory(delay time.Duration, fn func(context.Context, string) (string, error)) Factory {
	return func() (Engine, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		e := &countingEngine{active: &s.active, peak: &s.peak, delay: delay, fn: fn}
		s.engines = append(s.engines, e)
		return e, nil
	}
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(20*time.Millisecond, nil), ExecutorOptions{Workers: 2, QueueSize: 4}, nil)
	require.NoError(t, err)
	defer x.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := x.Transcribe(context.Background(), "a.mp3")
			assert.NoError(t, err)
			assert.Equal(t, "text:a.mp3", text)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, set.peak.Load(), int32(2))
	require.Len(t, set.engines, 2)
	for _, e := range set.engines {
		assert.Zero(t, e.overlap.Load(), "engine instance saw concurrent calls")
	}
}

func TestExecutorSingleWorkerSerializes(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(5*time.Millisecond, nil), ExecutorOptions{Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, err)
	defer x.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := x.Transcribe(context.Background(), "b.wav")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), set.peak.Load())
}

func TestExecutorTimeout(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(time.Second, nil), ExecutorOptions{Workers: 1, Timeout: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer x.Close()

	_, err = x.Transcribe(context.Background(), "slow.mp3")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after")
}

func TestExecutorCallerCancel(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(time.Second, nil), ExecutorOptions{Workers: 1}, nil)
	require.NoError(t, err)
	defer x.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = x.Transcribe(ctx, "slow.mp3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutorSkipsCancelledTask(t *testing.T) {
	var calls atomic.Int32
	var set countingSet
	fn := func(ctx context.Context, path string) (string, error) {
		calls.Add(1)
		return "ok", nil
	}
	x, err := NewExecutor(set.factory(0, fn), ExecutorOptions{Workers: 1, QueueSize: 1}, nil)
	require.NoError(t, err)
	defer x.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = x.Transcribe(ctx, "gone.mp3")
	assert.ErrorIs(t, err, context.Canceled)

	text, err := x.Transcribe(context.Background(), "live.mp3")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.LessOrEqual(t, calls.Load(), int32(1))
}

func TestExecutorRecoversPanic(t *testing.T) {
	var set countingSet
	fn := func(ctx context.Context, path string) (string, error) {
		if path == "boom" {
			panic("decoder exploded")
		}
		return "fine", nil
	}
	x, err := NewExecutor(set.factory(0, fn), ExecutorOptions{Workers: 1}, nil)
	require.NoError(t, err)
	defer x.Close()

	_, err = x.Transcribe(context.Background(), "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder exploded")

	text, err := x.Transcribe(context.Background(), "next")
	require.NoError(t, err)
	assert.Equal(t, "fine", text)
}

func TestExecutorClose(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(time.Millisecond, nil), ExecutorOptions{Workers: 3}, nil)
	require.NoError(t, err)

	require.NoError(t, x.Close())
	require.NoError(t, x.Close())

	_, err = x.Transcribe(context.Background(), "late.mp3")
	assert.ErrorIs(t, err, ErrClosed)
	for _, e := range set.engines {
		assert.True(t, e.closed.Load())
	}
}

func TestNewExecutorFactoryFailure(t *testing.T) {
	var built []*countingEngine
	n := 0
	factory := func() (Engine, error) {
		n++
		if n == 3 {
			return nil, errors.New("out of memory")
		}
		e := &countingEngine{active: new(atomic.Int32), peak: new(atomic.Int32)}
		built = append(built, e)
		return e, nil
	}

	_, err := NewExecutor(factory, ExecutorOptions{Workers: 4}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	require.Len(t, built, 2)
	for _, e := range built {
		assert.True(t, e.closed.Load())
	}
}

func TestExecutorCloseAfterRunningTaskCancelled(t *testing.T) {
	var set countingSet
	x, err := NewExecutor(set.factory(time.Minute, nil), ExecutorOptions{Workers: 1}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := x.Transcribe(ctx, "long.mp3")
		errc <- err
	}()
	require.Eventually(t, func() bool { return set.active.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	closed := make(chan struct{})
	go func() {
		x.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close waited on a cancelled task")
	}
}
