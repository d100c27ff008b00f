package server

import (
	"net/http"
	"strconv"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pulse/schedule"
	"github.com/teranos/easyjob/store"
)

// TriggerResult identifies the run a manual trigger started.
type TriggerResult struct {
	JobId int `json:"JobId"`
	RunId int `json:"RunId"`
}

func checkDefinition(def job.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	return schedule.ValidateSpec(def.CronSpec())
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var def job.Definition
	if err := readJSON(r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := checkDefinition(def); err != nil {
		s.writeError(w, r, err)
		return
	}

	// The store rejects a second definition with the same JobId
	if _, err := s.jobs.Insert(r.Context(), def); err != nil {
		if errors.IsConflictError(err) {
			err = errors.NewConflictError("job %d already exists", def.JobId)
		}
		s.writeError(w, r, err)
		return
	}

	s.reqLog(r).Infow("Job created", logger.FieldJobID, def.JobId, logger.FieldJobName, def.JobName)
	s.nudgeScheduler()
	writeCreated(w, def)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, size, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	filter := store.Filter{}
	q := r.URL.Query()
	if name := q.Get("name"); name != "" {
		filter["JobName"] = name
	}
	if raw := q.Get("disabled"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || (d != 0 && d != 1) {
			s.writeError(w, r, errors.NewInvalidRequestError("disabled must be 0 or 1"))
			return
		}
		filter["Disabled"] = d
	}

	total, err := s.jobs.Count(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docs, err := s.jobs.FindMany(r.Context(), filter, store.FindOptions{
		Sort:  []store.SortField{store.Desc(job.KeyJobID)},
		Limit: size,
		Skip:  (page - 1) * size,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]job.Definition, 0, len(docs))
	for _, doc := range docs {
		var def job.Definition
		if err := doc.Decode(&def); err != nil {
			s.writeError(w, r, err)
			return
		}
		items = append(items, def)
	}
	writeOK(w, Page{Items: items, Total: total})
}

func (s *Server) loadJob(r *http.Request) (job.Definition, error) {
	var def job.Definition
	id, err := pathID(r)
	if err != nil {
		return def, err
	}
	doc, err := s.jobs.FindOne(r.Context(), store.Filter{job.KeyJobID: id})
	if err != nil {
		if errors.IsNotFoundError(err) {
			return def, errors.NewNotFoundError("job %d not found", id)
		}
		return def, err
	}
	if err := doc.Decode(&def); err != nil {
		return def, err
	}
	return def, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	def, err := s.loadJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, def)
}

// handleUpdateJob replaces the stored definition with the request body.
// Fields left out of the body are reset, not kept.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	existing, err := s.loadJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var def job.Definition
	if err := readJSON(r, &def); err != nil {
		s.writeError(w, r, err)
		return
	}
	if def.JobId == 0 {
		def.JobId = existing.JobId
	}
	if def.JobId != existing.JobId {
		s.writeError(w, r, errors.NewInvalidRequestError("body JobId %d does not match path %d", def.JobId, existing.JobId))
		return
	}
	if err := checkDefinition(def); err != nil {
		s.writeError(w, r, err)
		return
	}

	if _, err := s.jobs.Save(r.Context(), def, job.KeyJobID); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.reqLog(r).Infow("Job updated",
		logger.FieldJobID, def.JobId,
		"enabled", def.Enabled(),
		logger.FieldSchedule, def.CronSpec())
	s.nudgeScheduler()
	writeOK(w, def)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.jobs.Delete(r.Context(), store.Filter{job.KeyJobID: id}, store.DeleteOptions{Recycle: true})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if n == 0 {
		s.writeError(w, r, errors.NewNotFoundError("job %d not found", id))
		return
	}

	s.reqLog(r).Infow("Job deleted", logger.FieldJobID, id)
	s.nudgeScheduler()
	writeOK(w, map[string]int{"deleted": n})
}

func (s *Server) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	def, err := s.loadJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !def.Enabled() {
		s.writeError(w, r, errors.NewInvalidRequestError("job %d is disabled", def.JobId))
		return
	}
	if s.deps.Registry != nil && !s.deps.Registry.Has(def.JobId) {
		s.writeError(w, r, errors.NewNotFoundError("job %d has no implementation", def.JobId))
		return
	}

	h, err := s.deps.Engine.Trigger(r.Context(), def.JobId)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.reqLog(r).Infow("Job triggered manually", logger.FieldJobID, h.JobID, logger.FieldRunID, h.RunID)
	writeOK(w, TriggerResult{JobId: h.JobID, RunId: h.RunID})
}

func (s *Server) nudgeScheduler() {
	if s.deps.Scheduler != nil {
		s.deps.Scheduler.RequestRescan()
	}
}
