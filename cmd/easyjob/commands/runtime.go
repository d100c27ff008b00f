package commands

import (
	"context"
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/jobkit"
	"github.com/teranos/easyjob/jobs/demo"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/notify"
	"github.com/teranos/easyjob/pathlock"
	"github.com/teranos/easyjob/pulse/async"
	"github.com/teranos/easyjob/registry"
	"github.com/teranos/easyjob/store"
)

// runtime is everything a process needs to execute jobs: storage, the
// registry with the built-in modules and any manifests, and an engine that
// has not been started yet.
//
// A one-off runtime's engine leaves RUNNING records alone at start; they
// may belong to a serving process on the same database.
type runtime struct {
	cfg      *am.Config
	db       *sql.DB
	store    *store.Store
	registry *registry.Registry
	engine   *async.Engine
	metrics  *prometheus.Registry
}

func newRuntime(ctx context.Context, cfg *am.Config, oneOff bool) (*runtime, error) {
	database, err := openDatabase(cfg.GetDatabasePath())
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:     cfg,
		db:      database,
		store:   store.New(database, nil),
		metrics: prometheus.NewRegistry(),
	}
	rt.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	locks := pathlock.New()
	fetcher := jobkit.NewFetcher(cfg, locks, logger.ComponentLogger("jobkit.fetch"))

	rt.registry = registry.New(rt.store.Jobs(), logger.ComponentLogger("registry"))
	if err := rt.registry.RegisterModule(demo.Module(fetcher)); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to register demo jobs")
	}
	if cfg.Registry.Dir != "" {
		// Bad manifests are logged by Scan and skipped
		if _, err := rt.registry.Scan(cfg.Registry.Dir); err != nil {
			database.Close()
			return nil, errors.Wrapf(err, "failed to scan %s", cfg.Registry.Dir)
		}
	}
	if _, err := rt.registry.ReconcileToStore(ctx); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "failed to sync registry to store")
	}

	logger.Infow("Registry ready", logger.FieldCount, rt.registry.Len())

	var notifier notify.Notifier
	if cfg.NotificationsActive() {
		notifier = notify.New(cfg.Notify, logger.ComponentLogger("notify"))
	}

	engineCfg := async.ConfigFrom(cfg)
	engineCfg.SkipRecovery = oneOff
	rt.engine = async.New(engineCfg, async.Deps{
		Store:    rt.store,
		Registry: rt.registry,
		Notifier: notifier,
		Metrics:  async.NewMetrics(rt.metrics),
		Logger:   logger.ComponentLogger("pulse"),
	})
	return rt, nil
}

func (rt *runtime) close() error {
	return rt.db.Close()
}
