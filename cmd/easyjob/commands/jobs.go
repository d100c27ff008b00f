package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/pulse/schedule"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

// JobsCmd manages job definitions in the database.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Schedule + " Manage job definitions",
	Long: sym.Schedule + ` jobs - Manage job definitions

Definitions are read and written directly in the database. A running
server picks up enable/disable at its next reconcile.

Examples:
  easyjob jobs ls
  easyjob jobs ls --enabled
  easyjob jobs enable 100001
  easyjob jobs disable 100001`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List job definitions",
	RunE:  runJobsLs,
}

var jobsEnableCmd = &cobra.Command{
	Use:   "enable <job-id>",
	Short: "Enable a job so the scheduler fires it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsToggle(cmd, args[0], false)
	},
}

var jobsDisableCmd = &cobra.Command{
	Use:   "disable <job-id>",
	Short: "Disable a job and remove its trigger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsToggle(cmd, args[0], true)
	},
}

var jobsEnabledOnly bool

func init() {
	jobsLsCmd.Flags().BoolVar(&jobsEnabledOnly, "enabled", false, "Only list enabled jobs")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsEnableCmd)
	JobsCmd.AddCommand(jobsDisableCmd)
}

func openStore() (*sql.DB, *store.Store, error) {
	database, err := openDatabase("")
	if err != nil {
		return nil, nil, err
	}
	return database, store.New(database, nil), nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	defs, err := listJobs(context.Background(), st, jobsEnabledOnly)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		pterm.Info.Println("No job definitions yet. Start the server once to register the built-in jobs.")
		return nil
	}

	data := pterm.TableData{{"ID", "Name", "Class", "Schedule", "State", "Next run"}}
	for _, def := range defs {
		state := pterm.Gray("disabled")
		next := "-"
		if def.Enabled() {
			state = pterm.Green("enabled")
			next = nextRun(def)
		}
		data = append(data, []string{
			fmt.Sprint(def.JobId), def.JobName, def.JobClass, def.CronSpec(), state, next,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func nextRun(def job.Definition) string {
	next, err := schedule.Next(def.CronSpec(), time.Now())
	if err != nil {
		return pterm.Red("invalid schedule")
	}
	return job.FormatTime(next)
}

// listJobs returns definitions ordered by id.
func listJobs(ctx context.Context, st *store.Store, enabledOnly bool) ([]job.Definition, error) {
	filter := store.Filter{}
	if enabledOnly {
		filter["Disabled"] = 0
	}
	docs, err := st.Jobs().FindMany(ctx, filter, store.FindOptions{
		Sort: []store.SortField{store.Asc(job.KeyJobID)},
	})
	if err != nil {
		return nil, err
	}
	defs := make([]job.Definition, 0, len(docs))
	for _, doc := range docs {
		var def job.Definition
		if err := doc.Decode(&def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func runJobsToggle(cmd *cobra.Command, raw string, disabled bool) error {
	jobID, err := parseJobID(raw)
	if err != nil {
		return err
	}
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := setDisabled(context.Background(), st, jobID, disabled); err != nil {
		return err
	}
	if disabled {
		pterm.Success.Printf("Job %d disabled\n", jobID)
	} else {
		pterm.Success.Printf("Job %d enabled\n", jobID)
	}
	return nil
}

// setDisabled flips a definition's Disabled flag, leaving the other fields
// alone. Enabling a job with an invalid schedule is refused.
func setDisabled(ctx context.Context, st *store.Store, jobID int, disabled bool) error {
	jobs := st.Jobs()
	doc, err := jobs.FindOne(ctx, store.Filter{job.KeyJobID: jobID})
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.NewNotFoundError("job %d not found", jobID)
		}
		return err
	}
	var def job.Definition
	if err := doc.Decode(&def); err != nil {
		return err
	}
	if !disabled {
		if err := schedule.ValidateSpec(def.CronSpec()); err != nil {
			return errors.Wrapf(err, "job %d", jobID)
		}
	}

	flag := 0
	if disabled {
		flag = 1
	}
	_, err = jobs.Update(ctx, map[string]interface{}{job.KeyJobID: jobID, "Disabled": flag}, job.KeyJobID)
	return err
}
