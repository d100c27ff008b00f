package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/logger"
)

// Envelope wraps every API response.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Page is a slice of a listing plus the total number of matches.
type Page struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, Envelope{Code: http.StatusOK, Message: "success", Data: data})
}

func writeCreated(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusCreated, Envelope{Code: http.StatusCreated, Message: "created", Data: data})
}

// writeError maps err onto a status code: not found 404, conflict 409,
// invalid request 400, unavailable 503, anything else 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.reqLog(r).Errorw("Request failed",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldError, err)
		msg = "internal error"
	}
	writeJSON(w, status, Envelope{Code: status, Message: msg})
}

func statusFor(err error) int {
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsConflictError(err):
		return http.StatusConflict
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewInvalidRequestError("invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequestError("invalid job id %q", raw)
	}
	return id, nil
}

// queryInt reads a positive integer query parameter, falling back to def
// when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewInvalidRequestError("invalid %s %q", name, raw)
	}
	return n, nil
}

func paging(r *http.Request) (page, size int, err error) {
	if page, err = queryInt(r, "page", 1); err != nil {
		return 0, 0, err
	}
	if size, err = queryInt(r, "size", DefaultPageSize); err != nil {
		return 0, 0, err
	}
	if page < 1 {
		page = 1
	}
	if size < 1 || size > MaxPageSize {
		return 0, 0, errors.NewInvalidRequestError("size must be between 1 and %d", MaxPageSize)
	}
	return page, size, nil
}
