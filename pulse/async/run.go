package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
)

// ErrInterrupted is the error a Handle reports for a run that was failed
// by InterruptAll or a closed pool instead of finishing.
var ErrInterrupted = errors.New("run interrupted")

// Run is one submitted execution of a job. Submit creates it with its
// RUNNING record already written.
type Run struct {
	ID         int
	JobID      int
	Definition job.Definition
	Record     job.RunRecord

	body    job.Job
	capture *logger.RunCapture
	log     *zap.SugaredLogger
	handle  *Handle
}

// Logger returns the logger handed to the job body.
func (r *Run) Logger() *zap.SugaredLogger { return r.log }

// Handle lets a caller wait for a run's terminal status.
type Handle struct {
	RunID int
	JobID int

	once   sync.Once
	done   chan struct{}
	err    error
	status job.RunStatus
	ended  time.Time
}

func newHandle(jobID, runID int) *Handle {
	return &Handle{
		RunID:  runID,
		JobID:  jobID,
		done:   make(chan struct{}),
		status: job.RunRunning,
	}
}

func (h *Handle) finish(status job.RunStatus, err error) {
	h.once.Do(func() {
		h.status = status
		h.err = err
		h.ended = time.Now()
		close(h.done)
	})
}

// Done is closed once the run has a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the run is terminal or ctx ends. It returns the body's
// error, ErrInterrupted, or ctx's error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's error once Done is closed, nil before that.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Status returns RUNNING until Done is closed, then the terminal status.
func (h *Handle) Status() job.RunStatus {
	select {
	case <-h.done:
		return h.status
	default:
		return job.RunRunning
	}
}
