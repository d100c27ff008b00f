// Package jobkit holds helpers job bodies share: an HTTP fetcher with
// retries, rate limiting and a per-day dump cache.
package jobkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/internal/httpclient"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/pathlock"
	"github.com/teranos/easyjob/pulse/retry"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 32 << 20

// ErrUnexpectedContent marks a response that arrived but did not contain
// every required validation string. It is retried.
var ErrUnexpectedContent = errors.New("response failed validation")

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	URL  string
	Body string // first bytes of the body, for logs
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// StatusCode lets retry.Classify tell 5xx and 429 from other statuses.
func (e *StatusError) StatusCode() int { return e.Code }

// Request describes one fetch.
type Request struct {
	URL    string
	Method string // GET when empty
	Query  url.Values
	Header http.Header
	JSON   interface{} // encoded as the request body when set

	// DumpName caches the payload under today's cache directory. A cached
	// payload that passes validation is returned without a request.
	DumpName     string
	ForceRefresh bool

	// Validate lists strings the payload must contain. A response missing
	// one is treated as a transient failure.
	Validate []string

	// AcceptStatus returns non-2xx bodies instead of a *StatusError.
	AcceptStatus bool
}

// Fetcher performs HTTP requests for job bodies. One Fetcher is shared by
// every run; WithLogger gives a run its own log destination.
type Fetcher struct {
	client  *httpclient.Client
	limiter *rate.Limiter
	policy  retry.Policy
	cache   *DumpCache
	log     *zap.SugaredLogger
}

// NewFetcher builds a fetcher from the fetch and retry configuration.
// locks is the process-wide path lock table guarding the dump cache.
func NewFetcher(cfg *am.Config, locks *pathlock.Table, log *zap.SugaredLogger) *Fetcher {
	if log == nil {
		log = logger.ComponentLogger("jobkit.fetch")
	}

	limit := rate.Inf
	if cfg.Fetch.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.Fetch.RequestsPerSecond)
	}
	burst := cfg.Fetch.Burst
	if burst < 1 {
		burst = 1
	}

	return &Fetcher{
		client: httpclient.New(httpclient.Options{
			Timeout:      cfg.FetchTimeout(),
			AllowPrivate: cfg.Fetch.AllowPrivate,
			UserAgent:    "easyjob",
		}),
		limiter: rate.NewLimiter(limit, burst),
		policy:  retry.FromConfig(cfg.Retry).Named("fetch"),
		cache:   NewDumpCache(cfg.Fetch.CacheDir, locks, log),
		log:     log,
	}
}

// WithLogger returns a fetcher sharing f's client, limiter and cache that
// logs to log.
func (f *Fetcher) WithLogger(log *zap.SugaredLogger) *Fetcher {
	cp := *f
	cp.log = log
	return &cp
}

// WithPolicy returns a fetcher sharing f's client, limiter and cache that
// retries according to p.
func (f *Fetcher) WithPolicy(p retry.Policy) *Fetcher {
	cp := *f
	cp.policy = p
	return &cp
}

// Cache returns the dump cache.
func (f *Fetcher) Cache() *DumpCache { return f.cache }

// Text fetches req and returns the body as a string.
func (f *Fetcher) Text(ctx context.Context, req Request) (string, error) {
	b, err := f.Bytes(ctx, req)
	return string(b), err
}

// JSON fetches req and decodes the body into out.
func (f *Fetcher) JSON(ctx context.Context, req Request, out interface{}) error {
	b, err := f.Bytes(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrapf(err, "failed to parse JSON from %s", req.URL)
	}
	return nil
}

// Bytes fetches req, honouring the dump cache, and returns the raw body.
func (f *Fetcher) Bytes(ctx context.Context, req Request) ([]byte, error) {
	if req.DumpName != "" && !req.ForceRefresh {
		data, ok, err := f.cache.Get(req.DumpName)
		switch {
		case err != nil:
			return nil, err
		case ok && validate(data, req.Validate) == nil:
			f.log.Infow("Using cached dump", logger.FieldURL, req.URL, "dump", req.DumpName)
			return data, nil
		case ok:
			f.log.Infow("Cached dump failed validation, refetching", "dump", req.DumpName)
		}
	}

	data, err := retry.DoValue(ctx, f.retryPolicy(), func(ctx context.Context) ([]byte, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
		data, err := f.do(ctx, req)
		if err != nil {
			return nil, err
		}
		if err := validate(data, req.Validate); err != nil {
			f.log.Infow("Response failed validation",
				logger.FieldURL, req.URL,
				logger.FieldError, err)
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	if req.DumpName != "" {
		if err := f.cache.Put(req.DumpName, data); err != nil {
			f.log.Errorw("Failed to save dump", "dump", req.DumpName, logger.FieldError, err)
		}
	}
	return data, nil
}

func (f *Fetcher) retryPolicy() retry.Policy {
	p := f.policy.WithLogger(f.log)
	base := p.Retryable
	if base == nil {
		base = retry.IsRetryable
	}
	p.Retryable = func(err error) bool {
		return errors.Is(err, ErrUnexpectedContent) || base(err)
	}
	return p
}

func (f *Fetcher) do(ctx context.Context, r Request) ([]byte, error) {
	start := time.Now()

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target := r.URL
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	var body io.Reader
	if r.JSON != nil {
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, retry.Permanent(errors.Wrap(err, "failed to encode request body"))
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, retry.Permanent(errors.Wrapf(err, "failed to build request for %s", r.URL))
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.JSON != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, httpclient.ErrBlocked) {
			return nil, retry.Permanent(err)
		}
		return nil, errors.Wrapf(err, "%s %s", method, r.URL)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read body of %s", r.URL)
	}

	f.log.Debugw("Fetched",
		logger.FieldMethod, method,
		logger.FieldURL, r.URL,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	if !r.AcceptStatus && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		snippet := data
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Code: resp.StatusCode, URL: r.URL, Body: string(snippet)}
	}
	return data, nil
}

func validate(data []byte, required []string) error {
	for _, s := range required {
		if !bytes.Contains(data, []byte(s)) {
			return errors.Wrapf(ErrUnexpectedContent, "missing %q", s)
		}
	}
	return nil
}
