// Package warm runs best-effort background tasks on a bounded worker pool.
//
// A Scheduler accepts tasks without blocking. Tasks are identified by a key;
// submitting a key that is already queued or running is coalesced into the
// existing task. When the queue is full or the scheduler is closed, new
// tasks are dropped. Task failures are logged and counted, never returned
// to the submitter.
package warm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/mediacache/metrics"
)

const (
	// DefaultWorkers is the number of concurrent tasks.
	DefaultWorkers = 4
	// DefaultQueueSize is the number of tasks that may wait for a worker.
	DefaultQueueSize = 256
)

// Task is a unit of background work.
type Task func(ctx context.Context) error

type job struct {
	key  string
	task Task
}

// Scheduler runs submitted tasks on a fixed set of workers.
type Scheduler struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	observer  metrics.Observer

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan job
	group  errgroup.Group

	mu      sync.Mutex
	closed  bool
	pending map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the number of workers. Values < 1 use DefaultWorkers.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		s.workers = n
	}
}

// WithQueueSize sets how many tasks may wait for a worker.
// Values < 0 use DefaultQueueSize; zero means a task is accepted only when
// a worker is idle.
func WithQueueSize(n int) Option {
	return func(s *Scheduler) {
		s.queueSize = n
	}
}

// WithLogger sets the logger that receives task failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o metrics.Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// New creates a Scheduler and starts its workers.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	if s.workers < 1 {
		s.workers = DefaultWorkers
	}
	if s.queueSize < 0 {
		s.queueSize = DefaultQueueSize
	}
	if s.observer == nil {
		s.observer = metrics.Nop()
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.queue = make(chan job, s.queueSize)
	for range s.workers {
		s.group.Go(s.work)
	}
	return s
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

// Submit queues task under key without blocking.
//
// It reports whether the task is queued or already pending under the same
// key. It returns false when the queue is full or the scheduler is closed.
func (s *Scheduler) Submit(key string, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.observer.RecordWarm(metrics.WarmRejected)
		s.log().Debug("warm task rejected: scheduler closed", slog.String("key", key))
		return false
	}
	if _, ok := s.pending[key]; ok {
		s.observer.RecordWarm(metrics.WarmCoalesced)
		return true
	}
	select {
	case s.queue <- job{key: key, task: task}:
		s.pending[key] = struct{}{}
		s.observer.RecordWarm(metrics.WarmQueued)
		return true
	default:
		s.observer.RecordWarm(metrics.WarmRejected)
		s.log().Debug("warm task rejected: queue full", slog.String("key", key))
		return false
	}
}

// Pending returns the number of queued or running tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops accepting tasks and waits for queued tasks to finish.
//
// If ctx ends first, running tasks are cancelled, queued tasks are skipped
// and ctx.Err() is returned once the workers have exited. Close is safe to
// call more than once.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait() //nolint:errcheck // workers never return errors
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) work() error {
	for j := range s.queue {
		s.run(j)
	}
	return nil
}

func (s *Scheduler) run(j job) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, j.key)
		s.mu.Unlock()
	}()

	if s.ctx.Err() != nil {
		s.observer.RecordWarm(metrics.WarmFailed)
		return
	}

	err := s.safeRun(j)
	if err != nil {
		s.observer.RecordWarm(metrics.WarmFailed)
		s.log().Debug("warm task failed", slog.String("key", j.key), slog.Any("error", err))
		return
	}
	s.observer.RecordWarm(metrics.WarmDone)
}

func (s *Scheduler) safeRun(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("warm task panicked: %v", r)
			s.log().Error("warm task panicked", slog.String("key", j.key), slog.Any("panic", r))
		}
	}()
	return j.task(s.ctx)
}
