package warm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/mediacache/metrics"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{counts: make(map[string]int)}
}

func (o *countingObserver) RecordLookup(bool) {}
func (o *countingObserver) RecordDownload(time.Duration, int64, string) {}
func (o *countingObserver) RecordShared() {}

func (o *countingObserver) RecordWarm(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[result]++
}

func (o *countingObserver) count(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[result]
}

func TestSchedulerRunsAllTasks(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	s := New(WithWorkers(3), WithObserver(obs))

	var ran atomic.Int32
	for i := range 20 {
		ok := s.Submit(fmt.Sprintf("task-%d", i), func(context.Context) error {
			ran.Add(1)
			return nil
		})
		require.True(t, ok)
	}
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, int32(20), ran.Load())
	assert.Equal(t, 20, obs.count(metrics.WarmQueued))
	assert.Equal(t, 20, obs.count(metrics.WarmDone))
	assert.Zero(t, s.Pending())
}

func TestSchedulerCoalescesPendingKeys(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	s := New(WithWorkers(1), WithObserver(obs))

	release := make(chan struct{})
	var ran atomic.Int32
	task := func(context.Context) error {
		ran.Add(1)
		<-release
		return nil
	}

	require.True(t, s.Submit("same", task))
	require.True(t, s.Submit("same", task))
	require.True(t, s.Submit("same", task))
	assert.Equal(t, 1, s.Pending())
	close(release)
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, 2, obs.count(metrics.WarmCoalesced))
}

func TestSchedulerRejectsWhenFull(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	s := New(WithWorkers(1), WithQueueSize(1), WithObserver(obs))

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, s.Submit("running", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.True(t, s.Submit("queued", func(context.Context) error { return nil }))
	assert.False(t, s.Submit("dropped", func(context.Context) error { return nil }))
	assert.Equal(t, 1, obs.count(metrics.WarmRejected))

	close(release)
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 2, obs.count(metrics.WarmDone))
}

func TestSchedulerRejectsAfterClose(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	assert.False(t, s.Submit("late", func(context.Context) error {
		t.Error("task must not run")
		return nil
	}))
}

func TestSchedulerRecordsFailuresAndPanics(t *testing.T) {
	t.Parallel()

	obs := newCountingObserver()
	s := New(WithWorkers(2), WithObserver(obs))

	require.True(t, s.Submit("fails", func(context.Context) error { return errors.New("boom") }))
	require.True(t, s.Submit("panics", func(context.Context) error { panic("bad task") }))
	require.True(t, s.Submit("ok", func(context.Context) error { return nil }))
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, 2, obs.count(metrics.WarmFailed))
	assert.Equal(t, 1, obs.count(metrics.WarmDone))
}

func TestSchedulerCloseTimeoutCancelsTasks(t *testing.T) {
	t.Parallel()

	s := New(WithWorkers(1))
	started := make(chan struct{})
	var cancelled atomic.Bool
	require.True(t, s.Submit("blocking", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, cancelled.Load())
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 2
	s := New(WithWorkers(workers))

	var running, peak atomic.Int32
	for i := range 10 {
		require.True(t, s.Submit(fmt.Sprintf("k%d", i), func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	require.NoError(t, s.Close(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestSchedulerDefaults(t *testing.T) {
	t.Parallel()

	s := New(WithWorkers(0), WithQueueSize(-1), nil)
	defer s.Close(context.Background()) //nolint:errcheck // test cleanup

	assert.Equal(t, DefaultWorkers, s.workers)
	assert.Equal(t, DefaultQueueSize, cap(s.queue))
}
