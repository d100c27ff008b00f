package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/internal/httpclient"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/server"
)

// apiClient talks to the HTTP API of a running serve process.
type apiClient struct {
	base   string
	client *httpclient.Client
}

// envelope mirrors server.Envelope with the payload left undecoded.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newAPIClient(addr string) *apiClient {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		// The server is normally on loopback
		client: httpclient.New(httpclient.Options{
			Timeout:      10 * time.Second,
			AllowPrivate: true,
			UserAgent:    "easyjob-cli",
		}),
	}
}

func (c *apiClient) call(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrServiceUnavailable), "is easyjob serve running at %s?", c.base)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s response", path)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errors.Wrapf(err, "decode %s response (HTTP %d)", path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, env.Message)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "decode %s payload", path)
}

// apiError turns an error envelope back into the matching sentinel.
func apiError(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return errors.NewNotFoundError("%s", msg)
	case http.StatusConflict:
		return errors.NewConflictError("%s", msg)
	case http.StatusBadRequest:
		return errors.NewInvalidRequestError("%s", msg)
	default:
		return errors.Newf("server returned %d: %s", status, msg)
	}
}

// healthCheckTimeout bounds the check for a running server.
const healthCheckTimeout = 2 * time.Second

// health succeeds when a serve process answers at the client's address.
func (c *apiClient) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *apiClient) trigger(ctx context.Context, jobID int) (server.TriggerResult, error) {
	var res server.TriggerResult
	err := c.call(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/trigger", jobID), nil, &res)
	return res, err
}

// run finds one run of jobID in the history. The newest runs are checked;
// a run that is not among them yet is reported as not found.
func (c *apiClient) run(ctx context.Context, jobID, runID int) (job.RunRecord, error) {
	var page struct {
		Items []job.RunRecord `json:"items"`
		Total int             `json:"total"`
	}
	q := url.Values{}
	q.Set("job_id", strconv.Itoa(jobID))
	q.Set("size", "50")
	if err := c.call(ctx, http.MethodGet, "/api/history", q, &page); err != nil {
		return job.RunRecord{}, err
	}
	for _, rec := range page.Items {
		if rec.RunId == runID {
			return rec, nil
		}
	}
	return job.RunRecord{}, errors.NewNotFoundError("run %d of job %d not found", runID, jobID)
}

// waitRun polls until the run is terminal or ctx ends.
func (c *apiClient) waitRun(ctx context.Context, jobID, runID int, every time.Duration) (job.RunRecord, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		rec, err := c.run(ctx, jobID, runID)
		if err != nil && !errors.IsNotFoundError(err) {
			return rec, err
		}
		if err == nil && rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, errors.Wrapf(ctx.Err(), "waiting for run %d", runID)
		case <-ticker.C:
		}
	}
}
