package queue

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "github.com/arkilian/splitagg/internal/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryQueue_FIFO(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryQueue_DequeueTimeout(t *testing.T) {
	q := NewMemoryQueue(1)
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestMemoryQueue_DequeueCancelled(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryQueue_EnqueueBlocksWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, "b")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeEnqueueFailed, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueue_Close(t *testing.T) {
	q := NewMemoryQueue(2)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Enqueue(ctx, "b"), ErrClosed)

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", got, "buffered ids drain before ErrClosed")

	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

type recordingRunner struct {
	mu   sync.Mutex
	ids  []string
	fail map[string]bool
	wait time.Duration
}

func (r *recordingRunner) Run(ctx context.Context, taskID string) error {
	if r.wait > 0 {
		time.Sleep(r.wait)
	}
	if taskID == "panic" {
		panic("boom")
	}
	r.mu.Lock()
	r.ids = append(r.ids, taskID)
	r.mu.Unlock()
	if r.fail[taskID] {
		return errors.New("failed")
	}
	return nil
}

func (r *recordingRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.ids...)
	sort.Strings(out)
	return out
}

func TestWorker_ProcessesEveryTask(t *testing.T) {
	q := NewMemoryQueue(16)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "panic", "c", "d"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}

	runner := &recordingRunner{fail: map[string]bool{"b": true}}
	w := NewWorker(WorkerConfig{Concurrency: 3, PollTimeout: 10 * time.Millisecond}, q, runner, nil, nil)
	require.NoError(t, w.Start(ctx))
	require.Error(t, w.Start(ctx), "second Start must fail")

	require.Eventually(t, func() bool {
		return len(runner.seen()) == 4 && q.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()

	assert.Equal(t, []string{"a", "b", "c", "d"}, runner.seen(), "a failure or panic must not stop the worker")
}

func TestWorker_StopsWhenQueueCloses(t *testing.T) {
	q := NewMemoryQueue(1)
	w := NewWorker(WorkerConfig{Concurrency: 2, PollTimeout: time.Second}, q, &recordingRunner{}, nil, nil)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, q.Close())

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after the queue closed")
	}
	w.Stop()
}

func TestWorker_FinishesRunOnCancel(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "slow"))

	var finished int32
	runner := RunnerFunc(func(ctx context.Context, taskID string) error {
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() == nil {
			atomic.StoreInt32(&finished, 1)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(WorkerConfig{PollTimeout: 10 * time.Millisecond}, q, runner, nil, nil)
	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	cancel()
	w.Stop()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished), "in-flight run should complete with a live context")
}

type fakeTracker struct {
	mu       sync.Mutex
	closed   bool
	inFlight int
	max      int
}

func (f *fakeTracker) TrackRun() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	return true
}

func (f *fakeTracker) UntrackRun() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
}

func TestWorker_TracksRuns(t *testing.T) {
	q := NewMemoryQueue(8)
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}

	tracker := &fakeTracker{}
	runner := &recordingRunner{wait: 20 * time.Millisecond}
	w := NewWorker(WorkerConfig{Concurrency: 2, PollTimeout: 10 * time.Millisecond}, q, runner, tracker, nil)
	require.NoError(t, w.Start(context.Background()))
	require.Eventually(t, func() bool { return len(runner.seen()) == 4 }, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Zero(t, tracker.inFlight)
	assert.LessOrEqual(t, tracker.max, 2)
}

func TestWorker_RequeuesRefusedRuns(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), "late"))

	runner := &recordingRunner{}
	w := NewWorker(WorkerConfig{PollTimeout: 10 * time.Millisecond}, q, runner, &fakeTracker{closed: true}, nil)
	require.NoError(t, w.Start(context.Background()))

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker should exit once the tracker refuses runs")
	}
	w.Stop()
	assert.Empty(t, runner.seen())

	require.Equal(t, 1, q.Len(), "refused task must go back on the queue")
	id, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "late", id)
}

// TestRedisQueue_RoundTrip runs against a live server named by
// SPLITAGG_TEST_REDIS_ADDR.
func TestRedisQueue_RoundTrip(t *testing.T) {
	addr := os.Getenv("SPLITAGG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPLITAGG_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	key := "splitagg:test:" + time.Now().Format("150405.000000000")
	q, err := NewRedisQueue(ctx, RedisOptions{Addr: addr, Key: key})
	require.NoError(t, err)
	defer q.Close()
	defer q.rdb.Del(ctx, q.Key())
	require.Equal(t, key, q.Key())

	for _, id := range []string{"a", "b"} {
		require.NoError(t, q.Enqueue(ctx, id))
	}
	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, want := range []string{"a", "b"} {
		got, err := q.Dequeue(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestNewRedisQueueWithClient_DefaultKey(t *testing.T) {
	rdb := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	assert.Equal(t, DefaultRedisKey, NewRedisQueueWithClient(rdb, "").Key())
	assert.Equal(t, "custom", NewRedisQueueWithClient(rdb, "custom").Key())
}

func TestNewRedisQueue_MissingAddress(t *testing.T) {
	_, err := NewRedisQueue(context.Background(), RedisOptions{})
	assert.Error(t, err)
}
