package demo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/am"
	"github.com/teranos/easyjob/errors"
	easyjobtest "github.com/teranos/easyjob/internal/testing"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/jobkit"
	"github.com/teranos/easyjob/pathlock"
	"github.com/teranos/easyjob/pulse/async"
	"github.com/teranos/easyjob/registry"
	"github.com/teranos/easyjob/store"
)

type harness struct {
	engine   *async.Engine
	store    *store.Store
	registry *registry.Registry
	cacheDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cacheDir := t.TempDir()
	cfg := &am.Config{
		Fetch: am.FetchConfig{TimeoutSeconds: 5, CacheDir: cacheDir, AllowPrivate: true},
	}
	fetcher := jobkit.NewFetcher(cfg, pathlock.New(), zap.NewNop().Sugar())

	st := store.New(easyjobtest.CreateTestDB(t), zap.NewNop().Sugar())
	reg := registry.New(st.Jobs(), zap.NewNop().Sugar())
	require.NoError(t, reg.RegisterModule(Module(fetcher)))

	n, err := reg.ReconcileToStore(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	e := async.New(async.Config{Workers: 2, ShutdownTimeout: 2 * time.Second}, async.Deps{
		Store:    st,
		Registry: reg,
		Logger:   zap.NewNop().Sugar(),
	})
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})

	return &harness{engine: e, store: st, registry: reg, cacheDir: cacheDir}
}

func (h *harness) definition(t *testing.T, jobID int) job.Definition {
	t.Helper()
	doc, err := h.store.Jobs().FindOne(context.Background(), store.Filter{job.KeyJobID: jobID})
	require.NoError(t, err)
	var def job.Definition
	require.NoError(t, doc.Decode(&def))
	return def
}

func (h *harness) run(t *testing.T, jobID int) (job.RunRecord, error) {
	t.Helper()
	handle, err := h.engine.Trigger(context.Background(), jobID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runErr := handle.Wait(ctx)

	doc, err := h.store.History().FindOne(context.Background(), store.Filter{job.KeyRunID: handle.RunID})
	require.NoError(t, err)
	var rec job.RunRecord
	require.NoError(t, doc.Decode(&rec))
	return rec, runErr
}

func TestModule_DefaultDefinitions(t *testing.T) {
	h := newHarness(t)

	echo := h.definition(t, EchoJobID)
	assert.Equal(t, "Echo", echo.JobName)
	assert.Equal(t, EchoClass, echo.JobClass)
	assert.Equal(t, "demo", echo.Package)
	assert.False(t, echo.Enabled())

	assert.True(t, h.registry.Has(FetchJobID))
}

func TestEcho_Completes(t *testing.T) {
	h := newHarness(t)

	rec, err := h.run(t, EchoJobID)

	require.NoError(t, err)
	assert.Equal(t, job.RunCompleted, rec.Status)
}

func TestFetch_DownloadsDescriptionURLIntoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("all systems nominal"))
	}))
	defer srv.Close()

	h := newHarness(t)
	def := h.definition(t, FetchJobID)
	def.Description = srv.URL + "/status"
	_, err := h.store.Jobs().Save(context.Background(), def, job.KeyJobID)
	require.NoError(t, err)

	rec, err := h.run(t, FetchJobID)

	require.NoError(t, err)
	assert.Equal(t, job.RunCompleted, rec.Status)

	dump := filepath.Join(h.cacheDir, time.Now().Format(jobkit.DateLayout), "job-100002.body")
	body, err := os.ReadFile(dump)
	require.NoError(t, err)
	assert.Equal(t, "all systems nominal", string(body))
}

func TestFetch_UpstreamFailureFailsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	h := newHarness(t)
	def := h.definition(t, FetchJobID)
	def.Description = srv.URL
	_, err := h.store.Jobs().Save(context.Background(), def, job.KeyJobID)
	require.NoError(t, err)

	rec, err := h.run(t, FetchJobID)

	require.Error(t, err)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Contains(t, rec.Output, "403")
}

func TestFetch_RejectsNonURLDescription(t *testing.T) {
	h := newHarness(t)
	def := h.definition(t, FetchJobID)
	def.Description = "not a url"
	_, err := h.store.Jobs().Save(context.Background(), def, job.KeyJobID)
	require.NoError(t, err)

	_, err = h.engine.Trigger(context.Background(), FetchJobID)

	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}
