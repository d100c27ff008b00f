package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

// HistoryCmd shows run history.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: sym.Pulse + " Show run history",
	Long: sym.Pulse + ` history - Show run history

Examples:
  easyjob history ls
  easyjob history ls --job 100001
  easyjob history ls --status failed --limit 50`,
}

var historyLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent runs, newest first",
	RunE:  runHistoryLs,
}

var (
	historyJobID  int
	historyStatus string
	historyLimit  int
)

const outputPreview = 60

func init() {
	historyLsCmd.Flags().IntVar(&historyJobID, "job", 0, "Only runs of this job id")
	historyLsCmd.Flags().StringVar(&historyStatus, "status", "", "Only runs with this status (running, completed, failed)")
	historyLsCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to show")

	HistoryCmd.AddCommand(historyLsCmd)
}

// historyQuery selects runs for history ls.
type historyQuery struct {
	JobID  int
	Status string
	Limit  int
}

func (q historyQuery) filter() (store.Filter, error) {
	filter := store.Filter{}
	if q.JobID < 0 {
		return nil, errors.NewInvalidRequestError("invalid job id %d", q.JobID)
	}
	if q.JobID > 0 {
		filter[job.KeyJobID] = q.JobID
	}
	if q.Status != "" {
		st, ok := job.ParseRunStatus(q.Status)
		if !ok {
			return nil, errors.NewInvalidRequestError("unknown status %q", q.Status)
		}
		filter[job.KeyStatus] = int(st)
	}
	return filter, nil
}

func listRuns(ctx context.Context, st *store.Store, q historyQuery) ([]job.RunRecord, error) {
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = 20
	}
	docs, err := st.History().FindMany(ctx, filter, store.FindOptions{
		Sort:  []store.SortField{store.Desc("StartTime"), store.Desc(job.KeyRunID)},
		Limit: q.Limit,
	})
	if err != nil {
		return nil, err
	}
	runs := make([]job.RunRecord, 0, len(docs))
	for _, doc := range docs {
		var rec job.RunRecord
		if err := doc.Decode(&rec); err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	return runs, nil
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	database, st, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := listRuns(context.Background(), st, historyQuery{
		JobID:  historyJobID,
		Status: historyStatus,
		Limit:  historyLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		pterm.Info.Println("No runs recorded")
		return nil
	}

	data := pterm.TableData{{"Run", "Job", "Name", "Status", "Started", "Ended", "Output"}}
	for _, rec := range runs {
		data = append(data, []string{
			fmt.Sprint(rec.RunId),
			fmt.Sprint(rec.JobId),
			rec.JobName,
			colorStatus(rec.Status),
			rec.StartTime,
			rec.EndTime,
			preview(rec.Output, outputPreview),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func colorStatus(s job.RunStatus) string {
	switch s {
	case job.RunCompleted:
		return pterm.Green(s.String())
	case job.RunFailed:
		return pterm.Red(s.String())
	default:
		return pterm.Yellow(s.String())
	}
}

// preview shortens output to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
