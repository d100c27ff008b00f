package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pulse/schedule"
	"github.com/teranos/easyjob/registry"
	"github.com/teranos/easyjob/server"
	"github.com/teranos/easyjob/sym"
)

// ServeCmd runs the scheduler, the engine and the HTTP API until a
// shutdown signal arrives.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run the scheduler, the engine and the HTTP API",
	Long: sym.Pulse + ` serve - Run easyjob

Starts the execution engine, the cron scheduler and the HTTP API. Runs
left RUNNING by a previous process are marked FAILED first.

The first SIGINT, SIGTERM or SIGHUP shuts down in order: scheduler,
engine (in-flight runs are marked FAILED), HTTP API, database. A second
signal exits immediately.

Examples:
  easyjob serve
  easyjob serve --addr 127.0.0.1:9000
  easyjob serve --db-path /var/lib/easyjob/easyjob.db`,
	RunE: runServe,
}

var (
	serveAddr   string
	serveDBPath string
)

func init() {
	ServeCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveDBPath != "" {
		cfg.Database.Path = serveDBPath
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	// Signals are caught before anything starts so an early Ctrl+C still
	// goes through ordered shutdown.
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, shutdownSignals...)
	defer signal.Stop(sigChan)

	ctx := context.Background()
	rt, err := newRuntime(ctx, cfg, false)
	if err != nil {
		return err
	}

	if err := rt.engine.Start(ctx); err != nil {
		rt.close()
		return errors.Wrap(err, "failed to start engine")
	}

	sched := schedule.New(schedule.ConfigFrom(cfg), rt.store.Jobs(), rt.registry, rt.engine,
		schedule.NewMetrics(rt.metrics), logger.ComponentLogger("schedule"))
	if err := sched.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout())
		defer cancel()
		_ = rt.engine.Shutdown(shutdownCtx)
		rt.close()
		return errors.Wrap(err, "failed to start scheduler")
	}

	var watcher *registry.Watcher
	if cfg.Registry.Watch && cfg.Registry.Dir != "" {
		watcher, err = registry.NewWatcher(cfg.Registry.Dir, cfg.RegistryDebounce(), sched.RequestRescan,
			logger.ComponentLogger("registry.watch"))
		if err != nil {
			logger.Warnw("Registry directory not watched, rescans only on the sync interval",
				logger.FieldPath, cfg.Registry.Dir,
				logger.FieldError, err)
		} else {
			watcher.Start()
		}
	}

	srv := server.New(server.Deps{
		Store:     rt.store,
		Engine:    rt.engine,
		Registry:  rt.registry,
		Scheduler: sched,
		Gatherer:  rt.metrics,
		Logger:    logger.ComponentLogger("server"),
	})
	if err := srv.ListenAndServe(cfg.GetServerAddr()); err != nil {
		st := &stack{cfg: cfg, rt: rt, sched: sched, watcher: watcher}
		_ = st.shutdown()
		return err
	}

	printServeBanner(cfg, rt, sched)

	<-sigChan
	pterm.Info.Printf("%s Shutting down gracefully (signal again to force)...\n", sym.PulseClose)

	st := &stack{cfg: cfg, rt: rt, sched: sched, watcher: watcher, srv: srv}
	done := make(chan error, 1)
	go func() {
		done <- st.shutdown()
	}()

	select {
	case err := <-done:
		if err != nil {
			pterm.Warning.Printf("Shutdown finished with errors: %v\n", err)
			return err
		}
		pterm.Success.Printf("%s easyjob stopped cleanly\n", sym.PulseClose)
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// stack is the set of running components, stopped in dependency order.
type stack struct {
	cfg     *am.Config
	rt      *runtime
	sched   *schedule.Scheduler
	watcher *registry.Watcher
	srv     *server.Server
}

func (s *stack) shutdown() error {
	var errs []error

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, errors.Wrap(err, "stop registry watcher"))
		}
	}

	// No new fires once the scheduler is down
	s.sched.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
	defer cancel()
	if err := s.rt.engine.Shutdown(ctx); err != nil {
		errs = append(errs, errors.Wrap(err, "stop engine"))
	}

	if s.srv != nil {
		httpCtx, httpCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout())
		defer httpCancel()
		if err := s.srv.Shutdown(httpCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if err := s.rt.close(); err != nil {
		errs = append(errs, errors.Wrap(err, "close database"))
	}

	if len(errs) == 0 {
		return nil
	}
	err := errs[0]
	for _, e := range errs[1:] {
		err = errors.WithSecondaryError(err, e)
	}
	return err
}

func printServeBanner(cfg *am.Config, rt *runtime, sched *schedule.Scheduler) {
	pterm.DefaultSection.Println("easyjob")
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"HTTP API", "http://" + cfg.GetServerAddr()},
		{"Database", cfg.GetDatabasePath()},
		{"Workers", fmt.Sprint(rt.engine.Workers())},
		{"Registered jobs", fmt.Sprint(rt.registry.Len())},
		{"Triggers", fmt.Sprint(sched.Len())},
		{"Manifests", manifestDirLabel(cfg)},
	}).Render()
	pterm.Info.Printf("%s Press Ctrl+C for graceful shutdown\n", sym.Pulse)
}

func manifestDirLabel(cfg *am.Config) string {
	switch {
	case cfg.Registry.Dir == "":
		return "(none)"
	case cfg.Registry.Watch:
		return cfg.Registry.Dir + " (watched)"
	default:
		return cfg.Registry.Dir
	}
}
