package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/store"
)

// DayStats counts runs started on one day by status.
type DayStats struct {
	Date    string `json:"date"`
	Running int    `json:"running"`
	Failure int    `json:"failure"`
	Success int    `json:"success"`
}

// Statistics is the dashboard summary.
type Statistics struct {
	JobsTotal  int        `json:"jobsTotal"`
	Disabled   int        `json:"disabled"`
	Running    int        `json:"running"` // enabled definitions
	Statistics []DayStats `json:"statistics"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filter := store.Filter{}
	q := r.URL.Query()
	if raw := q.Get("job_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			s.writeError(w, r, errors.NewInvalidRequestError("invalid job_id %q", raw))
			return
		}
		filter[job.KeyJobID] = id
	}
	if raw := q.Get("status"); raw != "" {
		st, ok := job.ParseRunStatus(raw)
		if !ok {
			s.writeError(w, r, errors.NewInvalidRequestError("invalid status %q", raw))
			return
		}
		filter[job.KeyStatus] = int(st)
	}

	total, err := s.hist.Count(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.hist.FindMany(r.Context(), filter, store.FindOptions{
		Sort:  []store.SortField{store.Desc("StartTime"), store.Desc(job.KeyRunID)},
		Limit: size,
		Skip:  (page - 1) * size,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]job.RunRecord, 0, len(docs))
	for _, doc := range docs {
		var rec job.RunRecord
		if err := doc.Decode(&rec); err != nil {
			s.writeError(w, r, err)
			return
		}
		items = append(items, rec)
	}
	writeOK(w, Page{Items: items, Total: total})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", DefaultStatDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if days < 1 || days > MaxStatDays {
		s.writeError(w, r, errors.NewInvalidRequestError("days must be between 1 and %d", MaxStatDays))
		return
	}

	stats, err := s.statistics(r, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, stats)
}

// statistics buckets runs by the day their StartTime falls on, oldest day
// first, with a zero row for days without runs.
func (s *Server) statistics(r *http.Request, days int) (Statistics, error) {
	ctx := r.Context()
	var out Statistics

	now := s.now()
	first := now.AddDate(0, 0, -(days - 1))
	since := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, now.Location())

	docs, err := s.hist.FindMany(ctx, store.Filter{"StartTime": store.Gte(job.FormatTime(since))}, store.FindOptions{})
	if err != nil {
		return out, err
	}

	byDay := make(map[string]*DayStats, days)
	out.Statistics = make([]DayStats, days)
	for i := 0; i < days; i++ {
		d := since.AddDate(0, 0, i).Format("2006-01-02")
		out.Statistics[i] = DayStats{Date: d}
		byDay[d] = &out.Statistics[i]
	}

	for _, doc := range docs {
		start := doc.String("StartTime")
		if len(start) < 10 {
			continue
		}
		day, ok := byDay[start[:10]]
		if !ok {
			continue
		}
		status, _ := doc.Int(job.KeyStatus)
		switch job.RunStatus(status) {
		case job.RunRunning:
			day.Running++
		case job.RunFailed:
			day.Failure++
		case job.RunCompleted:
			day.Success++
		}
	}

	if out.JobsTotal, err = s.jobs.Count(ctx, store.Filter{}); err != nil {
		return out, err
	}
	if out.Disabled, err = s.jobs.Count(ctx, store.Filter{"Disabled": 1}); err != nil {
		return out, err
	}
	if out.Running, err = s.jobs.Count(ctx, store.Filter{"Disabled": 0}); err != nil {
		return out, err
	}
	return out, nil
}
