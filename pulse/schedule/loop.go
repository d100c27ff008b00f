package schedule

import (
	"context"
	"time"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

// Start syncs the registry into the store, installs the initial triggers
// and starts cron plus the background reconcile loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return errors.New("scheduler already started")
	}

	if err := s.syncRegistry(ctx); err != nil {
		return err
	}
	res, err := s.Reconcile(ctx)
	if err != nil {
		return errors.Wrap(err, "initial reconcile failed")
	}
	s.cron.Start()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loopDone = make(chan struct{})
	go s.loop(loopCtx)

	s.log.Infow("Scheduler started",
		logger.FieldCount, s.Len(),
		"invalid", len(res.Invalid),
		logger.FieldInterval, s.cfg.ReconcileInterval)
	return nil
}

// Stop ends the loop and waits for cron fires already in progress. Fires
// only enqueue work, so this does not wait for runs to finish.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.loopDone
	<-s.cron.Stop().Done()
	s.cancel = nil
	s.log.Infow("Scheduler stopped")
}

// RequestRescan asks the loop to rescan manifests and reconcile soon.
// Requests made while one is pending collapse into it.
func (s *Scheduler) RequestRescan() {
	select {
	case s.rescan <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	reconcile := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcile.Stop()
	syncTick := time.NewTicker(s.cfg.RegistrySyncInterval)
	defer syncTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconcile.C:
			s.reconcileLogged(ctx)
		case <-syncTick.C:
			if err := s.syncRegistry(ctx); err != nil {
				s.log.Warnw("Registry sync failed", logger.FieldError, err)
				continue
			}
			s.reconcileLogged(ctx)
		case <-s.rescan:
			s.rescanNow(ctx)
		}
	}
}

func (s *Scheduler) rescanNow(ctx context.Context) {
	s.metrics.Rescans.Inc()
	if s.cfg.RegistryDir != "" {
		report, err := s.registry.Scan(s.cfg.RegistryDir)
		if err != nil {
			s.log.Warnw("Manifest scan failed", logger.FieldPath, s.cfg.RegistryDir, logger.FieldError, err)
		} else {
			for _, p := range report.Problems {
				s.log.Warnw("Manifest problem", logger.FieldError, p)
			}
			s.log.Infow("Manifests rescanned",
				logger.FieldCount, report.Files,
				"bound", len(report.Bound),
				"dropped", len(report.Dropped))
		}
	}
	if err := s.syncRegistry(ctx); err != nil {
		s.log.Warnw("Registry sync failed", logger.FieldError, err)
	}
	s.reconcileLogged(ctx)
}

func (s *Scheduler) syncRegistry(ctx context.Context) error {
	n, err := s.registry.ReconcileToStore(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to sync registry into store")
	}
	if n > 0 {
		s.log.Infow("Registered new job definitions", logger.FieldCount, n)
	}
	return nil
}

func (s *Scheduler) reconcileLogged(ctx context.Context) {
	res, err := s.Reconcile(ctx)
	if err != nil {
		s.log.Warnw("Reconcile failed", logger.FieldError, err)
		return
	}
	if res.Changed() {
		s.log.Infow("Triggers updated",
			"installed", res.Installed,
			"removed", res.Removed,
			logger.FieldCount, s.Len())
	}
}
