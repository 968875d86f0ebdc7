package downstream

import (
	"context"
	"sync"

	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// Task is a unit of fire-and-forget work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue runs submitted tasks one at a time in submission order.
//
// Submit never blocks and never fails: the backlog is unbounded so a slow
// or unreachable device service cannot stall API requests. Failures are
// logged and counted, never returned to the submitter.
type Queue struct {
	mu      sync.Mutex
	pending []Task
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc

	metrics *Metrics
	logger  *logging.Logger
}

// NewQueue creates a stopped queue. Call Start to begin processing.
func NewQueue(metrics *Metrics, logger *logging.Logger) *Queue {
	return &Queue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		metrics: metrics,
		logger:  logger.With("component", "downstream_queue"),
	}
}

// Submit appends a task. Tasks submitted after Stop are dropped.
func (q *Queue) Submit(t Task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("sync queue stopped, dropping task", "task", t.Name)
		return
	}
	q.pending = append(q.pending, t)
	q.metrics.setPending(len(q.pending))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks not yet started.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the worker. Cancelling ctx aborts the task in flight;
// use Stop for an orderly drain.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	go q.run(ctx)
}

// Stop refuses new tasks, runs the backlog and waits for the worker to
// exit or ctx to expire, whichever comes first.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	started := q.cancel != nil
	q.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context) {
	defer close(q.done)

	for {
		t, ok, closed := q.next()
		if ok {
			q.execute(ctx, t)
			continue
		}
		if closed {
			return
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			q.dropBacklog()
			return
		}
	}
}

func (q *Queue) next() (Task, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Task{}, false, q.closed
	}
	t := q.pending[0]
	q.pending[0] = Task{}
	q.pending = q.pending[1:]
	q.metrics.setPending(len(q.pending))
	return t, true, q.closed
}

func (q *Queue) execute(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		q.logger.Warn("sync task skipped", "task", t.Name, "error", ctx.Err())
		q.metrics.recordTask(t.Name, ctx.Err())
		return
	}

	err := t.Run(ctx)
	q.metrics.recordTask(t.Name, err)
	if err != nil {
		q.logger.Error("sync task failed", "task", t.Name, "error", err)
		return
	}
	q.logger.Debug("sync task sent", "task", t.Name)
}

func (q *Queue) dropBacklog() {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.closed = true
	q.metrics.setPending(0)
	q.mu.Unlock()

	if n > 0 {
		q.logger.Warn("sync queue cancelled, dropping backlog", "tasks", n)
	}
}
