// Package schedule keeps one live cron trigger per enabled, registered job
// definition and hands fired job ids to the execution engine.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pulse/async"
	"github.com/teranos/easyjob/registry"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

const (
	DefaultReconcileInterval    = 30 * time.Second
	DefaultRegistrySyncInterval = 60 * time.Second
)

// parser reads the five standard cron fields.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSpec reports whether spec is a cron expression the scheduler
// can install.
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return errors.NewInvalidRequestError("invalid cron expression %q: %v", spec, err)
	}
	return nil
}

// Next returns the first time after t that spec fires.
func Next(spec string, t time.Time) (time.Time, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequestError("invalid cron expression %q: %v", spec, err)
	}
	return sched.Next(t), nil
}

// Executor runs a job now. *async.Engine implements it.
type Executor interface {
	Trigger(ctx context.Context, jobID int) (*async.Handle, error)
}

// Registry is what the scheduler needs from *registry.Registry.
type Registry interface {
	Has(jobID int) bool
	ReconcileToStore(ctx context.Context) (int, error)
	Scan(dir string) (registry.ScanReport, error)
}

// Config tunes the scheduler loop.
type Config struct {
	ReconcileInterval    time.Duration
	RegistrySyncInterval time.Duration
	RegistryDir          string         // manifests re-read on rescan; "" skips scanning
	Location             *time.Location // cron time zone, local by default
}

// ConfigFrom reads the scheduler settings out of the loaded configuration.
func ConfigFrom(cfg *am.Config) Config {
	return Config{
		ReconcileInterval:    cfg.ReconcileInterval(),
		RegistrySyncInterval: cfg.RegistrySyncInterval(),
		RegistryDir:          cfg.Registry.Dir,
	}
}

// Result reports what one reconcile pass changed.
type Result struct {
	Installed []int // new or replaced triggers
	Removed   []int // triggers dropped without replacement
	Invalid   []int // enabled jobs skipped for a bad cron expression
}

// Changed reports whether the pass touched any trigger.
func (r Result) Changed() bool {
	return len(r.Installed) > 0 || len(r.Removed) > 0
}

type trigger struct {
	def     job.Definition
	entryID cron.EntryID
}

// Entry describes one live trigger.
type Entry struct {
	JobID   int       `json:"job_id"`
	JobName string    `json:"job_name"`
	Spec    string    `json:"spec"`
	Next    time.Time `json:"next"`
	Prev    time.Time `json:"prev"`
}

// Scheduler owns the cron runner and the table of live triggers.
type Scheduler struct {
	cfg      Config
	jobs     *store.Collection
	registry Registry
	executor Executor
	metrics  *Metrics
	log      *zap.SugaredLogger

	cron *cron.Cron

	mu      sync.Mutex
	current map[int]trigger

	rescan   chan struct{}
	runMu    sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

// New creates a scheduler. Nothing fires until Start.
func New(cfg Config, jobs *store.Collection, reg Registry, exec Executor, metrics *Metrics, log *zap.SugaredLogger) *Scheduler {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}
	if cfg.RegistrySyncInterval <= 0 {
		cfg.RegistrySyncInterval = DefaultRegistrySyncInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log == nil {
		log = logger.ComponentLogger("pulse.schedule")
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	log = logger.WithSymbol(log, sym.Schedule)

	cronLog := cronLogger{log}

	return &Scheduler{
		cfg:      cfg,
		jobs:     jobs,
		registry: reg,
		executor: exec,
		metrics:  metrics,
		log:      log,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		current: make(map[int]trigger),
		rescan:  make(chan struct{}, 1),
	}
}

// Reconcile brings the live triggers in line with the enabled definitions
// in the store. Installs and replacements happen before removals, and a
// changed trigger is installed before its predecessor is removed, so an
// enabled job is never without a trigger during the pass.
func (s *Scheduler) Reconcile(ctx context.Context) (Result, error) {
	var res Result

	docs, err := s.jobs.FindMany(ctx, store.Filter{"Disabled": 0}, store.FindOptions{
		Sort: []store.SortField{store.Asc(job.KeyJobID)},
	})
	if err != nil {
		s.metrics.ReconcileErrors.Inc()
		return res, errors.Wrap(err, "failed to read enabled job definitions")
	}

	desired := make(map[int]job.Definition, len(docs))
	order := make([]int, 0, len(docs))
	for _, doc := range docs {
		var def job.Definition
		if err := doc.Decode(&def); err != nil {
			s.log.Warnw("Skipping undecodable job definition", logger.FieldError, err)
			continue
		}
		if !s.registry.Has(def.JobId) {
			s.log.Debugw("Enabled job has no implementation, not scheduling",
				logger.FieldJobID, def.JobId)
			continue
		}
		desired[def.JobId] = def
		order = append(order, def.JobId)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range order {
		def := desired[id]
		cur, live := s.current[id]
		if live && cur.def == def {
			continue
		}

		spec := def.CronSpec()
		schedule, err := parser.Parse(spec)
		if err != nil {
			s.log.Warnw("Invalid cron expression, job not scheduled",
				logger.FieldJobID, id,
				logger.FieldSchedule, spec,
				logger.FieldError, err)
			delete(desired, id)
			res.Invalid = append(res.Invalid, id)
			continue
		}

		entryID := s.cron.Schedule(schedule, s.fire(id))
		if live {
			s.cron.Remove(cur.entryID)
		}
		s.current[id] = trigger{def: def, entryID: entryID}
		res.Installed = append(res.Installed, id)

		s.log.Infow("Installed trigger",
			logger.FieldJobID, id,
			logger.FieldJobName, def.JobName,
			logger.FieldSchedule, spec,
			logger.FieldNextRun, schedule.Next(time.Now().In(s.cfg.Location)).Format(job.TimeFormat))
	}

	for id, cur := range s.current {
		if _, keep := desired[id]; keep {
			continue
		}
		s.cron.Remove(cur.entryID)
		delete(s.current, id)
		res.Removed = append(res.Removed, id)
		s.log.Infow("Removed trigger", logger.FieldJobID, id)
	}
	sort.Ints(res.Removed)

	s.metrics.Triggers.Set(float64(len(s.current)))
	s.metrics.Reconciles.Inc()
	return res, nil
}

// fire is the cron job for one job id. It runs on a cron goroutine and
// returns as soon as the engine has queued the run.
func (s *Scheduler) fire(jobID int) cron.FuncJob {
	return func() {
		s.metrics.Fires.Inc()
		h, err := s.executor.Trigger(context.Background(), jobID)
		if err != nil {
			s.metrics.FireErrors.Inc()
			s.log.Errorw("Trigger failed to start run",
				logger.FieldJobID, jobID,
				logger.FieldError, err)
			return
		}
		s.log.Infow("Trigger fired",
			logger.FieldJobID, jobID,
			logger.FieldRunID, h.RunID)
	}
}

// Entries returns the live triggers ordered by job id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.current))
	for id, t := range s.current {
		ce := s.cron.Entry(t.entryID)
		out = append(out, Entry{
			JobID:   id,
			JobName: t.def.JobName,
			Spec:    t.def.CronSpec(),
			Next:    ce.Next,
			Prev:    ce.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Len returns the number of live triggers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.current)
}

// cronLogger routes robfig/cron's logging into zap.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw("cron: "+msg, append(keysAndValues, logger.FieldError, err)...)
}
