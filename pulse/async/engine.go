// Package async is the execution engine: it records runs, runs job bodies
// on a bounded worker pool and makes sure every run it records ends up
// COMPLETED or FAILED, even when the process is told to stop.
//
// A run's life:
//
//	run, err := engine.Submit(ctx, jobID) // RUNNING record written, run tracked
//	h, err := engine.Execute(run)        // queued on the pool, never blocks
//	err = h.Wait(ctx)                     // terminal record written
//
// Exactly one of completion and interruption writes the terminal record:
// both first claim the run from the in-flight set and only the winner
// writes. The write itself only lands while the stored record is still
// RUNNING, so another process on the same database cannot have its
// terminal record overwritten either.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/db"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/notify"
	"github.com/teranos/easyjob/store"
)

// Terminal outputs written by the engine itself.
const (
	FailedOutputPrefix = "Job execution failed: "
	InterruptedOutput  = "Job was interrupted by system signal"
	OrphanedOutput     = "Job was orphaned by a previous shutdown"
)

const (
	DefaultWorkers         = 10
	DefaultOutputLimit     = 2000
	DefaultShutdownTimeout = 30 * time.Second

	// notifyTimeout bounds one notification send.
	notifyTimeout = 30 * time.Second

	// runIDAttempts bounds how often Submit resyncs after another process
	// took the run id it was given.
	runIDAttempts = 5
)

// ErrSuperseded is reported by a Handle whose run was finished by another
// process, usually an orphan recovery, before this one could record it.
var ErrSuperseded = errors.New("run record already finished elsewhere")

// Resolver finds the implementation bound to a job id.
type Resolver interface {
	Resolve(jobID int) (job.Implementation, error)
}

// Config tunes the engine.
type Config struct {
	Workers         int
	ShutdownTimeout time.Duration
	OutputLimit     int  // runes of a failure kept in Output
	Notify          bool // send notifications for runs that logged errors

	// SkipRecovery leaves RUNNING records alone at Start. One-off engines
	// set it so they never fail the live runs of a serving process.
	SkipRecovery bool
}

// ConfigFrom reads the engine settings out of the loaded configuration.
func ConfigFrom(cfg *am.Config) Config {
	return Config{
		Workers:         cfg.Engine.Workers,
		ShutdownTimeout: cfg.ShutdownTimeout(),
		OutputLimit:     cfg.Engine.OutputLimit,
		Notify:          cfg.NotificationsActive(),
	}
}

// Deps are the collaborators the engine needs.
type Deps struct {
	Store    *store.Store
	Registry Resolver
	Notifier notify.Notifier    // nil disables notifications
	Metrics  *Metrics           // nil creates unregistered metrics
	Logger   *zap.SugaredLogger // engine logs; run loggers derive from it
}

// Engine executes runs. Create with New, then Start.
type Engine struct {
	cfg      Config
	jobs     *store.Collection
	history  *store.Collection
	registry Resolver
	notifier notify.Notifier
	metrics  *Metrics
	log      pulseLogger
	runLog   *zap.SugaredLogger

	pool     *Pool
	runIDs   *RunIDs
	inflight *inflightSet

	closed       atomic.Bool
	shutdownOnce sync.Once

	notifyMu     sync.Mutex
	notifyClosed bool
	notifyWG     sync.WaitGroup
}

// New wires an engine. Nothing runs until Start.
func New(cfg Config, deps Deps) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultOutputLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	log := deps.Logger
	if log == nil {
		log = logger.ComponentLogger("pulse")
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	return &Engine{
		cfg:      cfg,
		jobs:     deps.Store.Jobs(),
		history:  deps.Store.History(),
		registry: deps.Registry,
		notifier: deps.Notifier,
		metrics:  metrics,
		log:      pulseLogger{log},
		runLog:   log.Named("run"),
		pool:     NewPool(cfg.Workers, metrics, log),
		runIDs:   NewRunIDs(deps.Store.History()),
		inflight: newInflightSet(),
	}
}

// Start fails RUNNING records left behind by a previous process, then
// starts the workers.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrPoolClosed
	}
	if !e.cfg.SkipRecovery {
		if _, err := e.recoverOrphans(ctx); err != nil {
			e.log.Warnw("Failed to recover orphaned runs", logger.FieldError, err)
		}
	}
	e.pool.Start()
	e.log.Pulse("Engine started",
		"workers", e.cfg.Workers,
		"notify", e.cfg.Notify && e.notifier != nil)
	return nil
}

// Submit records a new RUNNING run of jobID and instantiates its body.
//
// A missing definition fails with ErrNotFound before anything is written.
// Once the record exists the run is tracked, so a resolve or constructor
// failure returns an error but leaves the record RUNNING for InterruptAll
// or the next start to fail.
func (e *Engine) Submit(ctx context.Context, jobID int) (*Run, error) {
	if e.closed.Load() {
		return nil, errors.Wrapf(ErrPoolClosed, "cannot submit job %d", jobID)
	}

	doc, err := e.jobs.FindOne(ctx, store.Filter{job.KeyJobID: jobID})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load job %d", jobID)
	}
	var def job.Definition
	if err := doc.Decode(&def); err != nil {
		return nil, errors.Wrapf(err, "failed to decode job %d", jobID)
	}

	rec, err := e.insertRunning(ctx, def)
	if err != nil {
		return nil, err
	}
	runID := rec.RunId

	run := &Run{
		ID:         runID,
		JobID:      jobID,
		Definition: def,
		Record:     rec,
		capture:    logger.NewRunCapture(),
		handle:     newHandle(jobID, runID),
	}
	e.inflight.add(run)
	e.metrics.RunsStarted.WithLabelValues(fmt.Sprint(jobID)).Inc()
	e.metrics.InFlight.Set(float64(e.inflight.len()))

	run.log = logger.ForRun(e.runLog, run.capture, jobID, runID)

	impl, err := e.registry.Resolve(jobID)
	if err != nil {
		e.log.Errorw("Cannot resolve job implementation",
			logger.FieldJobID, jobID,
			logger.FieldRunID, runID,
			logger.FieldError, err)
		return run, err
	}

	body, err := impl.New(&job.RunContext{
		JobID:      jobID,
		RunID:      runID,
		Definition: def,
		Logger:     run.log,
	})
	if err == nil && body == nil {
		err = errors.Newf("constructor for %s returned no job", impl.Class)
	}
	if err != nil {
		e.log.Errorw("Cannot instantiate job",
			logger.FieldJobID, jobID,
			logger.FieldRunID, runID,
			logger.FieldJobClass, impl.Class,
			logger.FieldError, err)
		return run, errors.Wrapf(err, "failed to instantiate %s for run %d", impl.Class, runID)
	}
	run.body = body

	e.log.Debugw("Run submitted",
		logger.FieldJobID, jobID,
		logger.FieldRunID, runID,
		logger.FieldJobName, def.JobName)
	return run, nil
}

// insertRunning writes the RUNNING record of a new run of def. A run id
// already taken by another process on the same database makes the
// allocator resync from the history and try the next one.
func (e *Engine) insertRunning(ctx context.Context, def job.Definition) (job.RunRecord, error) {
	for attempt := 1; ; attempt++ {
		runID, err := e.runIDs.Next(ctx)
		if err != nil {
			return job.RunRecord{}, errors.Wrapf(err, "failed to allocate run id for job %d", def.JobId)
		}
		rec := job.NewRunRecord(def, runID, job.Now())
		_, err = e.history.Insert(ctx, rec)
		if err == nil {
			return rec, nil
		}
		if !errors.IsConflictError(err) || attempt == runIDAttempts {
			return job.RunRecord{}, errors.Wrapf(err, "failed to record run %d of job %d", runID, def.JobId)
		}

		e.log.Warnw("Run id already recorded by another process, resyncing",
			logger.FieldJobID, def.JobId,
			logger.FieldRunID, runID)
		if err := e.runIDs.Resync(ctx); err != nil {
			return job.RunRecord{}, err
		}
	}
}

// Execute queues run on the worker pool and returns at once. If the pool
// is closed the run is failed as interrupted and ErrPoolClosed returned.
func (e *Engine) Execute(run *Run) (*Handle, error) {
	if run == nil || run.body == nil {
		return nil, errors.NewInvalidRequestError("run has no job body")
	}

	if err := e.pool.Submit(func() { e.execute(run) }); err != nil {
		if e.inflight.claim(run.ID) {
			e.markInterrupted(context.Background(), run)
		}
		return nil, errors.Wrapf(err, "cannot execute run %d", run.ID)
	}
	return run.handle, nil
}

// Trigger submits and executes jobID. The scheduler calls it when a cron
// trigger fires.
func (e *Engine) Trigger(ctx context.Context, jobID int) (*Handle, error) {
	run, err := e.Submit(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return e.Execute(run)
}

// execute runs on a worker.
func (e *Engine) execute(run *Run) {
	ctx := logger.WithRun(context.Background(), run.JobID, run.ID)

	run.log.Infow("Job started", logger.FieldJobName, run.Definition.JobName)
	start := time.Now()
	err := runBody(ctx, run.body)
	e.complete(run, err, time.Since(start))
}

// runBody turns a panicking body into an error.
func runBody(ctx context.Context, body job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetail(errors.Newf("panic: %v", r), string(debug.Stack()))
		}
	}()
	return body.Run(ctx)
}

// complete writes the terminal record unless interruption got there first.
func (e *Engine) complete(run *Run, runErr error, elapsed time.Duration) {
	if !e.inflight.claim(run.ID) {
		e.log.Debugw("Run already failed by interruption, dropping completion",
			logger.FieldRunID, run.ID,
			logger.FieldError, runErr)
		return
	}
	e.metrics.InFlight.Set(float64(e.inflight.len()))

	rec := run.Record
	rec.EndTime = job.Now()
	if runErr != nil {
		rec.Status = job.RunFailed
		rec.Output = truncate(FailedOutputPrefix+runErr.Error(), e.cfg.OutputLimit)
		run.log.Errorw("Job execution failed",
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, runErr)
	} else {
		rec.Status = job.RunCompleted
		run.log.Infow("Job completed", logger.FieldDurationMS, elapsed.Milliseconds())
	}
	stored, ok := e.writeTerminal(context.Background(), run, rec)
	run.Record = stored

	e.metrics.RunsFinished.WithLabelValues(fmt.Sprint(run.JobID), stored.Status.String()).Inc()
	e.metrics.RunDuration.WithLabelValues(stored.Status.String()).Observe(elapsed.Seconds())

	if !ok {
		run.handle.finish(stored.Status, errors.WithSecondaryError(ErrSuperseded, runErr))
		return
	}
	run.handle.finish(stored.Status, runErr)
	e.maybeNotify(run)
}

// writeTerminal stores rec while the stored record of run is still
// RUNNING and returns the record that ends up stored. ok is false when
// another writer had already finished the run; its record is kept.
func (e *Engine) writeTerminal(ctx context.Context, run *Run, rec job.RunRecord) (job.RunRecord, bool) {
	n, err := e.history.UpdateIf(ctx, rec, job.KeyRunID, store.Filter{job.KeyStatus: int(job.RunRunning)})
	if err != nil {
		e.terminalWriteFailed(run, err)
		return rec, true
	}
	if n == 1 {
		return rec, true
	}

	stored := rec
	doc, err := e.history.FindOne(ctx, store.Filter{job.KeyRunID: run.ID})
	if err == nil {
		err = doc.Decode(&stored)
	}
	if err != nil {
		e.log.Warnw("Run record vanished before it could be finished",
			logger.FieldJobID, run.JobID,
			logger.FieldRunID, run.ID,
			logger.FieldError, err)
		return rec, false
	}
	e.log.Warnw("Run already finished by another process, keeping its record",
		logger.FieldJobID, run.JobID,
		logger.FieldRunID, run.ID,
		"stored_status", stored.Status.String(),
		"dropped_status", rec.Status.String())
	return stored, false
}

// terminalWriteFailed logs a lost terminal write. The record stays RUNNING
// and the next Start fails it as orphaned.
func (e *Engine) terminalWriteFailed(run *Run, err error) {
	if db.IsDatabaseClosed(err) {
		e.log.Warnw("Database closed before the run was recorded, it will be failed at next start",
			logger.FieldJobID, run.JobID,
			logger.FieldRunID, run.ID)
		return
	}
	e.log.Errorw("Failed to write terminal run record",
		logger.FieldJobID, run.JobID,
		logger.FieldRunID, run.ID,
		logger.FieldError, err)
}

// maybeNotify sends the run's captured warnings and errors in the
// background when the run logged at least one error.
func (e *Engine) maybeNotify(run *Run) {
	if e.notifier == nil || !e.cfg.Notify || !run.capture.HasErrors() {
		return
	}

	msg := notify.Message{
		ID:      uuid.NewString(),
		Title:   run.Definition.Title(),
		Entries: run.capture.Entries(),
	}

	// Shutdown waits on notifyWG once notifyClosed is set; no Add may
	// follow that
	e.notifyMu.Lock()
	if e.notifyClosed {
		e.notifyMu.Unlock()
		e.log.Warnw("Engine shut down, run notification not sent",
			logger.FieldRunID, run.ID,
			"message_id", msg.ID)
		return
	}
	e.notifyWG.Add(1)
	e.notifyMu.Unlock()

	go func() {
		defer e.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, msg); err != nil {
			e.log.Warnw("Failed to send run notification",
				logger.FieldRunID, run.ID,
				"message_id", msg.ID,
				logger.FieldError, err)
		}
	}()
}

// InterruptAll fails every in-flight run with InterruptedOutput and returns
// how many it failed. Bodies still running keep running; their completion
// no longer writes anything.
func (e *Engine) InterruptAll(ctx context.Context) int {
	runs := e.inflight.drain()
	e.metrics.InFlight.Set(0)
	if len(runs) == 0 {
		return 0
	}

	e.log.Closing("Interrupting in-flight runs", logger.FieldCount, len(runs))
	for _, run := range runs {
		e.markInterrupted(ctx, run)
	}
	return len(runs)
}

// markInterrupted writes the interrupted terminal record. The caller must
// have claimed run.
func (e *Engine) markInterrupted(ctx context.Context, run *Run) {
	rec := run.Record
	rec.Status = job.RunFailed
	rec.EndTime = job.Now()
	rec.Output = InterruptedOutput
	stored, ok := e.writeTerminal(ctx, run, rec)
	run.Record = stored

	e.metrics.Interrupted.Inc()
	e.metrics.InFlight.Set(float64(e.inflight.len()))
	if !ok {
		run.handle.finish(stored.Status, errors.WithSecondaryError(ErrSuperseded, ErrInterrupted))
		return
	}
	run.handle.finish(job.RunFailed, ErrInterrupted)
}

// Shutdown interrupts in-flight runs, then stops the pool, waiting up to
// the configured timeout for running bodies. Pending notifications get
// until ctx ends. Calls after the first do nothing and return nil.
func (e *Engine) Shutdown(ctx context.Context) error {
	clean := true
	e.shutdownOnce.Do(func() {
		e.closed.Store(true)
		e.log.Closing("Engine shutting down")

		interrupted := e.InterruptAll(ctx)
		dropped, ok := e.pool.Stop(e.cfg.ShutdownTimeout)
		clean = ok

		e.notifyMu.Lock()
		e.notifyClosed = true
		e.notifyMu.Unlock()

		done := make(chan struct{})
		go func() {
			e.notifyWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			e.log.Warnw("Shutdown left notifications unsent", logger.FieldError, ctx.Err())
		}

		e.log.Closing("Engine stopped",
			"interrupted", interrupted,
			"dropped", dropped,
			"clean", ok)
	})
	if !clean {
		return errors.Wrapf(errors.ErrTimeout, "job bodies still running after %s", e.cfg.ShutdownTimeout)
	}
	return nil
}

// InFlight returns the number of runs recorded as RUNNING by this process.
func (e *Engine) InFlight() int {
	return e.inflight.len()
}

// IsRunning reports whether runID is in flight.
func (e *Engine) IsRunning(runID int) bool {
	return e.inflight.has(runID)
}

// Workers returns the pool size.
func (e *Engine) Workers() int {
	return e.pool.Workers()
}

// truncate keeps at most limit runes of s.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
