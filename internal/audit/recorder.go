package audit

import (
	"context"

	"github.com/nerrad567/balancer-core/internal/infrastructure/logging"
)

// recorderBuffer is the number of entries held while the writer catches up.
// Entries beyond it are dropped.
const recorderBuffer = 256

// Recorder writes entries asynchronously and serially, so callers never
// wait on SQLite and audit failures never fail the audited operation.
type Recorder struct {
	repo   Repository
	ch     chan *Entry
	logger *logging.Logger
}

// NewRecorder creates a recorder writing to repo. Call Run to start it.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		ch:     make(chan *Entry, recorderBuffer),
		logger: logger.With("component", "audit"),
	}
}

// Record enqueues e. A nil Recorder discards it.
func (r *Recorder) Record(e *Entry) {
	if r == nil || e == nil {
		return
	}

	select {
	case r.ch <- e:
	default:
		r.logger.Warn("audit buffer full, dropping entry",
			"action", e.Action,
			"entity_type", e.EntityType,
		)
	}
}

// Run writes entries until ctx is cancelled, then flushes what is buffered.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case e := <-r.ch:
			r.write(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.ch:
					r.write(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(e *Entry) {
	// Detached from the request so a finished request cannot cancel the write.
	if err := r.repo.Create(context.Background(), e); err != nil {
		r.logger.Error("audit write failed",
			"action", e.Action,
			"entity_type", e.EntityType,
			"error", err,
		)
	}
}
