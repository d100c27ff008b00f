package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

// RunCmd triggers one job now.
var RunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: sym.Pulse + " Run a job now",
	Long: sym.Pulse + ` run - Run a job now

By default the run is triggered on the running serve process through its
HTTP API and the run id is printed. --wait follows the run until it is
COMPLETED or FAILED.

--local runs the job in this process instead, with its own engine, and
always waits. It refuses to start while a server answers at the
configured address; the server owns the run ids and in-flight runs.

Examples:
  easyjob run 100001
  easyjob run 100002 --wait
  easyjob run 100001 --local`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runWait    bool
	runLocal   bool
	runTimeout time.Duration
	runAddr    string
)

const runPollInterval = 500 * time.Millisecond

func init() {
	RunCmd.Flags().BoolVarP(&runWait, "wait", "w", false, "Wait for the run to finish")
	RunCmd.Flags().BoolVar(&runLocal, "local", false, "Run in this process instead of on the server")
	RunCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	RunCmd.Flags().StringVar(&runAddr, "addr", "", "Server address (overrides config)")
}

func parseJobID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequestError("invalid job id %q", raw)
	}
	return id, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	jobID, err := parseJobID(args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	addr := runAddr
	if addr == "" {
		addr = cfg.GetServerAddr()
	}
	api := newAPIClient(addr)

	var rec job.RunRecord
	if runLocal {
		rec, err = runLocally(ctx, cfg, api, jobID)
	} else {
		rec, err = runRemotely(ctx, api, jobID, runWait)
	}
	if err != nil {
		return err
	}
	return reportRun(rec)
}

// runRemotely triggers jobID on the server. Without wait the returned
// record only carries the ids and a RUNNING status.
func runRemotely(ctx context.Context, api *apiClient, jobID int, wait bool) (job.RunRecord, error) {
	res, err := api.trigger(ctx, jobID)
	if err != nil {
		return job.RunRecord{}, errors.Wrapf(err, "trigger job %d", jobID)
	}
	if !wait {
		return job.RunRecord{JobId: res.JobId, RunId: res.RunId, Status: job.RunRunning}, nil
	}
	pterm.Info.Printf("%s Run %d of job %d started, waiting...\n", sym.Pulse, res.RunId, res.JobId)
	return api.waitRun(ctx, res.JobId, res.RunId, runPollInterval)
}

// runLocally executes one run on a private engine and shuts it down again.
// It refuses when a server answers through api.
func runLocally(ctx context.Context, cfg *am.Config, api *apiClient, jobID int) (job.RunRecord, error) {
	if err := api.health(ctx); err == nil {
		return job.RunRecord{}, errors.NewConflictError(
			"easyjob serve is running at %s; run the job there by dropping --local", api.base)
	}

	rt, err := newRuntime(ctx, cfg, true)
	if err != nil {
		return job.RunRecord{}, err
	}
	defer rt.close()

	if err := rt.engine.Start(ctx); err != nil {
		return job.RunRecord{}, errors.Wrap(err, "failed to start engine")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		_ = rt.engine.Shutdown(shutdownCtx)
	}()

	h, err := rt.engine.Trigger(ctx, jobID)
	if err != nil {
		return job.RunRecord{}, errors.Wrapf(err, "trigger job %d", jobID)
	}
	// A body error is recorded in the history; Wait only fails on ctx
	if err := h.Wait(ctx); err != nil && ctx.Err() != nil {
		return job.RunRecord{}, errors.Wrapf(err, "waiting for run %d", h.RunID)
	}

	doc, err := rt.store.History().FindOne(ctx, store.Filter{job.KeyRunID: h.RunID})
	if err != nil {
		return job.RunRecord{}, errors.Wrapf(err, "load run %d", h.RunID)
	}
	var rec job.RunRecord
	if err := doc.Decode(&rec); err != nil {
		return job.RunRecord{}, err
	}
	return rec, nil
}

func reportRun(rec job.RunRecord) error {
	switch rec.Status {
	case job.RunCompleted:
		pterm.Success.Printf("Run %d of job %d completed (%s → %s)\n", rec.RunId, rec.JobId, rec.StartTime, rec.EndTime)
		return nil
	case job.RunFailed:
		pterm.Error.Printf("Run %d of job %d failed\n", rec.RunId, rec.JobId)
		if rec.Output != "" {
			fmt.Println(rec.Output)
		}
		return errors.Newf("run %d failed", rec.RunId)
	default:
		pterm.Info.Printf("%s Run %d of job %d started\n", sym.Pulse, rec.RunId, rec.JobId)
		return nil
	}
}
