package async

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

// ErrPoolClosed is returned when work is submitted after Stop.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool runs tasks on a fixed number of workers. The queue is unbounded so
// Submit never blocks the caller.
type Pool struct {
	workers int
	metrics *Metrics
	log     pulseLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	active  int
	started bool
	closed  bool
	wg      sync.WaitGroup
}

// NewPool creates a pool of the given size. Workers start with Start.
func NewPool(workers int, metrics *Metrics, log *zap.SugaredLogger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}
	p := &Pool{
		workers: workers,
		metrics: metrics,
		log:     pulseLogger{log},
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start spawns the workers. Tasks submitted earlier are already queued and
// run in order.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	if warning := p.checkMemoryPressure(); warning != "" {
		p.log.Warnw("Memory pressure warning", "warning", warning, "workers", p.workers)
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.log.Starting("Worker pool started", "workers", p.workers)
}

// Submit queues task. It fails only when the pool is closed.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.metrics.QueueDepth.Set(float64(len(p.queue)))
	p.cond.Signal()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		p.metrics.ActiveWorkers.Set(float64(p.active))
		p.mu.Unlock()

		p.run(id, task)

		p.mu.Lock()
		p.active--
		p.metrics.ActiveWorkers.Set(float64(p.active))
		p.mu.Unlock()
	}
}

func (p *Pool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("Worker recovered from panic",
				"worker_id", id,
				logger.FieldError, fmt.Sprint(r))
		}
	}()
	task()
}

// Stop stops accepting work, drops queued tasks and waits up to timeout
// for running ones. It returns how many queued tasks were dropped and
// whether every worker exited in time. Later calls return (0, true).
func (p *Pool) Stop(timeout time.Duration) (dropped int, clean bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, true
	}
	p.closed = true
	dropped = len(p.queue)
	p.queue = nil
	p.metrics.QueueDepth.Set(0)
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Closing("Worker pool stopped", "dropped", dropped)
		return dropped, true
	case <-time.After(timeout):
		p.log.Closing("Worker pool stop timed out, bodies still running", "timeout", timeout.String(), "dropped", dropped)
		return dropped, false
	}
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Active returns how many workers are executing a task.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Queued returns how many tasks wait for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Closed reports whether Stop has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
