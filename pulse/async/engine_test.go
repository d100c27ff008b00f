package async

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	easyjobtest "github.com/teranos/easyjob/internal/testing"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/notify"
	"github.com/teranos/easyjob/registry"
	"github.com/teranos/easyjob/store"
)

// ============================================================================
// Night Shift Test Universe
// ============================================================================
//
// Characters:
//   - The Foreman: the engine, hands out run ids and keeps the logbook
//   - The Couriers: job bodies that fetch things, sometimes slowly
//   - The Siren: SIGTERM, arrives at the worst moment
//
// Theme: every shift entry in the logbook must be closed, whether the
// courier came back, crashed, or the siren went off first.
// ============================================================================

const (
	echoJob  = 100001
	slowJob  = 100002
	brokeJob = 100003
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
	ch   chan notify.Message
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan notify.Message, 10)}
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	n.mu.Lock()
	n.sent = append(n.sent, msg)
	n.mu.Unlock()
	n.ch <- msg
	return nil
}

type fixture struct {
	conn     *sql.DB
	engine   *Engine
	store    *store.Store
	registry *registry.Registry
	notifier *recordingNotifier
	metrics  *Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureOn(t, cfg, easyjobtest.CreateTestDB(t))
}

// newFixtureOn builds an engine with its own store and registry on conn,
// the way a second process on the same database file would.
func newFixtureOn(t *testing.T, cfg Config, conn *sql.DB) *fixture {
	t.Helper()

	st := store.New(conn, zap.NewNop().Sugar())
	reg := registry.New(st.Jobs(), zap.NewNop().Sugar())
	n := newRecordingNotifier()
	m := NewMetrics(nil)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	e := New(cfg, Deps{
		Store:    st,
		Registry: reg,
		Notifier: n,
		Metrics:  m,
		Logger:   zap.NewNop().Sugar(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})

	return &fixture{conn: conn, engine: e, store: st, registry: reg, notifier: n, metrics: m}
}

// define registers body under jobID and stores an enabled definition.
func (f *fixture) define(t *testing.T, jobID int, body func(rc *job.RunContext) job.Func) {
	t.Helper()
	impl := f.bind(t, jobID, body)

	def := job.DefaultDefinition(jobID, impl)
	def.Disabled = 0
	_, err := f.store.Jobs().Insert(context.Background(), def)
	require.NoError(t, err)
}

// bind only registers body under jobID; the definition is expected to be
// stored already.
func (f *fixture) bind(t *testing.T, jobID int, body func(rc *job.RunContext) job.Func) job.Implementation {
	t.Helper()
	impl := job.Implementation{
		Class:   "test.Courier",
		Package: "test",
		Name:    "Courier",
		New: func(rc *job.RunContext) (job.Job, error) {
			return body(rc), nil
		},
	}
	require.NoError(t, f.registry.Register(jobID, impl))
	return impl
}

func (f *fixture) record(t *testing.T, runID int) job.RunRecord {
	t.Helper()
	doc, err := f.store.History().FindOne(context.Background(), store.Filter{job.KeyRunID: runID})
	require.NoError(t, err)
	var rec job.RunRecord
	require.NoError(t, doc.Decode(&rec))
	return rec
}

func succeed(rc *job.RunContext) job.Func {
	return func(ctx context.Context) error { return nil }
}

func waitHandle(t *testing.T, h *Handle) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := h.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "run never finished")
	return err
}

func TestRunIDs(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history starts at the seed", func(t *testing.T) {
		db := easyjobtest.CreateTestDB(t)
		ids := NewRunIDs(store.New(db, zap.NewNop().Sugar()).History())

		first, err := ids.Next(ctx)
		require.NoError(t, err)
		second, err := ids.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, FirstRunID, first)
		assert.Equal(t, FirstRunID+1, second)
	})

	t.Run("continues after the highest recorded id", func(t *testing.T) {
		db := easyjobtest.CreateTestDB(t)
		history := store.New(db, zap.NewNop().Sugar()).History()
		for _, id := range []int{100007, 100950, 100020} {
			_, err := history.Insert(ctx, job.RunRecord{JobId: echoJob, RunId: id, Status: job.RunCompleted})
			require.NoError(t, err)
		}

		next, err := NewRunIDs(history).Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100951, next)
	})

	t.Run("concurrent callers never collide", func(t *testing.T) {
		db := easyjobtest.CreateTestDB(t)
		ids := NewRunIDs(store.New(db, zap.NewNop().Sugar()).History())

		var mu sync.Mutex
		seen := make(map[int]bool)
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := ids.Next(ctx)
				assert.NoError(t, err)
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 50)
		assert.True(t, seen[FirstRunID])
		assert.True(t, seen[FirstRunID+49])
	})
}

func TestSubmit_UnknownDefinition(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})

	_, err := f.engine.Submit(context.Background(), 424242)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	n, err := f.store.History().Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n, "no record for a job that does not exist")
}

func TestTrigger_CourierReturns(t *testing.T) {
	f := newFixture(t, Config{Workers: 2})
	f.define(t, echoJob, succeed)
	require.NoError(t, f.engine.Start(context.Background()))

	h, err := f.engine.Trigger(context.Background(), echoJob)
	require.NoError(t, err)
	assert.Equal(t, FirstRunID, h.RunID)

	require.NoError(t, waitHandle(t, h))
	assert.Equal(t, job.RunCompleted, h.Status())

	rec := f.record(t, h.RunID)
	assert.Equal(t, job.RunCompleted, rec.Status)
	assert.Equal(t, echoJob, rec.JobId)
	assert.Equal(t, "Courier", rec.JobName)
	assert.NotEmpty(t, rec.StartTime)
	assert.NotEmpty(t, rec.EndTime)
	assert.Empty(t, rec.Output)
	assert.Zero(t, f.engine.InFlight())

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsFinished.WithLabelValues("100001", "COMPLETED")))
}

func TestTrigger_CourierFails(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, OutputLimit: 40})
	f.define(t, brokeJob, func(rc *job.RunContext) job.Func {
		return func(ctx context.Context) error {
			return errors.New(strings.Repeat("é", 100))
		}
	})
	require.NoError(t, f.engine.Start(context.Background()))

	h, err := f.engine.Trigger(context.Background(), brokeJob)
	require.NoError(t, err)
	require.Error(t, waitHandle(t, h))

	rec := f.record(t, h.RunID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.True(t, strings.HasPrefix(rec.Output, FailedOutputPrefix))
	assert.Equal(t, 40, len([]rune(rec.Output)), "output is truncated by runes")
	assert.NotEmpty(t, rec.EndTime)
}

func TestTrigger_CourierPanics(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	f.define(t, brokeJob, func(rc *job.RunContext) job.Func {
		return func(ctx context.Context) error {
			var m map[string]int
			m["boom"]++
			return nil
		}
	})
	require.NoError(t, f.engine.Start(context.Background()))

	h, err := f.engine.Trigger(context.Background(), brokeJob)
	require.NoError(t, err)
	require.Error(t, waitHandle(t, h))

	rec := f.record(t, h.RunID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Contains(t, rec.Output, "panic:")
}

func TestRunContextCarriesIdentity(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	got := make(chan *job.RunContext, 1)
	f.define(t, echoJob, func(rc *job.RunContext) job.Func {
		got <- rc
		return func(ctx context.Context) error { return nil }
	})

	run, err := f.engine.Submit(context.Background(), echoJob)
	require.NoError(t, err)

	rc := <-got
	assert.Equal(t, echoJob, rc.JobID)
	assert.Equal(t, run.ID, rc.RunID)
	assert.Equal(t, "Courier", rc.Definition.JobName)
	assert.NotNil(t, rc.Logger)
}

func TestSubmit_ResolveFailureLeavesRunTracked(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	// A definition whose implementation is no longer registered
	_, err := f.store.Jobs().Insert(ctx, job.Definition{JobId: slowJob, JobName: "Ghost", Disabled: 0})
	require.NoError(t, err)

	run, err := f.engine.Submit(ctx, slowJob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrUnknownJob))
	require.NotNil(t, run)

	assert.Equal(t, job.RunRunning, f.record(t, run.ID).Status)
	assert.True(t, f.engine.IsRunning(run.ID))

	assert.Equal(t, 1, f.engine.InterruptAll(ctx))
	rec := f.record(t, run.ID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, InterruptedOutput, rec.Output)
}

func TestSirenBeforeCourierReturns(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	f.define(t, slowJob, func(rc *job.RunContext) job.Func {
		return func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}
	})
	require.NoError(t, f.engine.Start(ctx))

	h, err := f.engine.Trigger(ctx, slowJob)
	require.NoError(t, err)
	<-started

	assert.Equal(t, 1, f.engine.InterruptAll(ctx))
	assert.ErrorIs(t, waitHandle(t, h), ErrInterrupted)

	rec := f.record(t, h.RunID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, InterruptedOutput, rec.Output)
	interruptedAt := rec.EndTime

	// The courier comes back late; the logbook entry must not change
	close(release)
	require.Eventually(t, func() bool { return f.engine.pool.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	rec = f.record(t, h.RunID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, InterruptedOutput, rec.Output)
	assert.Equal(t, interruptedAt, rec.EndTime)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Interrupted))
}

func TestShutdown(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()
	f.define(t, echoJob, succeed)
	require.NoError(t, f.engine.Start(ctx))

	// Submitted but never executed: in flight, so shutdown fails it
	pending, err := f.engine.Submit(ctx, echoJob)
	require.NoError(t, err)

	require.NoError(t, f.engine.Shutdown(ctx))
	require.NoError(t, f.engine.Shutdown(ctx), "second shutdown is a no-op")

	rec := f.record(t, pending.ID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, InterruptedOutput, rec.Output)

	_, err = f.engine.Execute(pending)
	assert.True(t, errors.Is(err, ErrPoolClosed))

	_, err = f.engine.Trigger(ctx, echoJob)
	assert.True(t, errors.Is(err, ErrPoolClosed))

	n, err := f.store.History().Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "nothing is recorded after shutdown")
}

func TestExecute_ClosedPoolFailsRun(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()
	f.define(t, echoJob, succeed)

	run, err := f.engine.Submit(ctx, echoJob)
	require.NoError(t, err)

	f.engine.pool.Stop(time.Second)
	_, err = f.engine.Execute(run)
	require.True(t, errors.Is(err, ErrPoolClosed))

	rec := f.record(t, run.ID)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, InterruptedOutput, rec.Output)
	assert.False(t, f.engine.IsRunning(run.ID))
}

func TestStart_RecoversOrphans(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx := context.Background()

	orphan := job.RunRecord{JobId: echoJob, RunId: 100500, Status: job.RunRunning, StartTime: "2026-01-02 03:04:05"}
	done := job.RunRecord{JobId: echoJob, RunId: 100501, Status: job.RunCompleted, StartTime: "2026-01-02 03:04:05", EndTime: "2026-01-02 03:05:00"}
	_, err := f.store.History().InsertMany(ctx, []interface{}{orphan, done})
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))

	rec := f.record(t, 100500)
	assert.Equal(t, job.RunFailed, rec.Status)
	assert.Equal(t, OrphanedOutput, rec.Output)
	assert.NotEmpty(t, rec.EndTime)

	assert.Equal(t, job.RunCompleted, f.record(t, 100501).Status, "terminal records are untouched")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Orphaned))
}

func TestNotifications(t *testing.T) {
	t.Run("errors logged by the body are sent", func(t *testing.T) {
		f := newFixture(t, Config{Workers: 1, Notify: true})
		f.define(t, brokeJob, func(rc *job.RunContext) job.Func {
			return func(ctx context.Context) error {
				rc.Logger.Warnw("Listing page looked short", "items", 3)
				rc.Logger.Errorw("Listing page missing", "url", "https://example.com/list")
				return nil
			}
		})
		require.NoError(t, f.engine.Start(context.Background()))

		h, err := f.engine.Trigger(context.Background(), brokeJob)
		require.NoError(t, err)
		require.NoError(t, waitHandle(t, h))

		select {
		case msg := <-f.notifier.ch:
			assert.Equal(t, "Courier:100003", msg.Title)
			assert.NotEmpty(t, msg.ID)
			require.Len(t, msg.Entries, 2, "warnings ride along with the error")
			assert.Equal(t, "Listing page looked short", msg.Entries[0].Message)
		case <-time.After(5 * time.Second):
			t.Fatal("no notification sent")
		}
	})

	t.Run("failed run notifies through the engine's own error line", func(t *testing.T) {
		f := newFixture(t, Config{Workers: 1, Notify: true})
		f.define(t, brokeJob, func(rc *job.RunContext) job.Func {
			return func(ctx context.Context) error { return errors.New("connection reset") }
		})
		require.NoError(t, f.engine.Start(context.Background()))

		h, err := f.engine.Trigger(context.Background(), brokeJob)
		require.NoError(t, err)
		_ = waitHandle(t, h)

		select {
		case msg := <-f.notifier.ch:
			assert.Equal(t, "Job execution failed", msg.Entries[len(msg.Entries)-1].Message)
		case <-time.After(5 * time.Second):
			t.Fatal("no notification sent")
		}
	})

	t.Run("warnings alone stay quiet", func(t *testing.T) {
		f := newFixture(t, Config{Workers: 1, Notify: true})
		f.define(t, echoJob, func(rc *job.RunContext) job.Func {
			return func(ctx context.Context) error {
				rc.Logger.Warnw("Slow response")
				return nil
			}
		})
		require.NoError(t, f.engine.Start(context.Background()))

		h, err := f.engine.Trigger(context.Background(), echoJob)
		require.NoError(t, err)
		require.NoError(t, waitHandle(t, h))
		require.NoError(t, f.engine.Shutdown(context.Background()))

		assert.Empty(t, f.notifier.sent)
	})

	t.Run("debug mode suppresses sending", func(t *testing.T) {
		f := newFixture(t, Config{Workers: 1, Notify: false})
		f.define(t, brokeJob, func(rc *job.RunContext) job.Func {
			return func(ctx context.Context) error { return errors.New("boom") }
		})
		require.NoError(t, f.engine.Start(context.Background()))

		h, err := f.engine.Trigger(context.Background(), brokeJob)
		require.NoError(t, err)
		_ = waitHandle(t, h)
		require.NoError(t, f.engine.Shutdown(context.Background()))

		assert.Empty(t, f.notifier.sent)
	})
}

func TestConcurrentTriggers(t *testing.T) {
	f := newFixture(t, Config{Workers: 3})
	ctx := context.Background()
	f.define(t, echoJob, succeed)
	require.NoError(t, f.engine.Start(ctx))

	var mu sync.Mutex
	var handles []*Handle
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := f.engine.Trigger(ctx, echoJob)
			if assert.NoError(t, err) {
				mu.Lock()
				handles = append(handles, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	ids := make(map[int]bool)
	for _, h := range handles {
		require.NoError(t, waitHandle(t, h))
		ids[h.RunID] = true
	}
	assert.Len(t, ids, 20, "every trigger gets its own run id")

	n, err := f.store.History().Count(ctx, store.Filter{"Status": int(job.RunCompleted)})
	require.NoError(t, err)
	assert.Equal(t, 20, n)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abcdef", 3))
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "日本", truncate("日本語", 2))
	assert.Equal(t, "abc", truncate("abc", 0))
}

func TestStart_SkipRecoveryLeavesRunningRecords(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, SkipRecovery: true})
	ctx := context.Background()

	live := job.RunRecord{JobId: echoJob, RunId: 100500, Status: job.RunRunning, StartTime: "2026-01-02 03:04:05"}
	_, err := f.store.History().Insert(ctx, live)
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(ctx))

	rec := f.record(t, 100500)
	assert.Equal(t, job.RunRunning, rec.Status)
	assert.Empty(t, rec.Output)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.Orphaned))
}

func TestCourierCannotReopenAClosedLogbookEntry(t *testing.T) {
	ctx := context.Background()
	dayShift := newFixture(t, Config{Workers: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	dayShift.define(t, slowJob, func(rc *job.RunContext) job.Func {
		return func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		}
	})
	require.NoError(t, dayShift.engine.Start(ctx))

	h, err := dayShift.engine.Trigger(ctx, slowJob)
	require.NoError(t, err)
	<-started

	// The night shift starts on the same logbook and takes the open entry
	// for one left behind by a dead process
	nightShift := newFixtureOn(t, Config{Workers: 1}, dayShift.conn)
	require.NoError(t, nightShift.engine.Start(ctx))

	rec := dayShift.record(t, h.RunID)
	require.Equal(t, job.RunFailed, rec.Status)
	require.Equal(t, OrphanedOutput, rec.Output)
	closedAt := rec.EndTime

	close(release)
	err = waitHandle(t, h)
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, job.RunFailed, h.Status())

	rec = dayShift.record(t, h.RunID)
	assert.Equal(t, job.RunFailed, rec.Status, "a terminal record is written once")
	assert.Equal(t, OrphanedOutput, rec.Output)
	assert.Equal(t, closedAt, rec.EndTime)
	assert.False(t, dayShift.engine.IsRunning(h.RunID))
}

func TestSubmit_ResyncsRunIDsTakenByAnotherEngine(t *testing.T) {
	ctx := context.Background()
	dayShift := newFixture(t, Config{Workers: 2})
	dayShift.define(t, echoJob, succeed)
	nightShift := newFixtureOn(t, Config{Workers: 2}, dayShift.conn)
	nightShift.bind(t, echoJob, succeed)

	require.NoError(t, dayShift.engine.Start(ctx))
	require.NoError(t, nightShift.engine.Start(ctx))

	first, err := dayShift.engine.Trigger(ctx, echoJob)
	require.NoError(t, err)
	second, err := nightShift.engine.Trigger(ctx, echoJob)
	require.NoError(t, err)
	// The day shift's counter still points at the id the night shift took
	third, err := dayShift.engine.Trigger(ctx, echoJob)
	require.NoError(t, err)

	assert.Equal(t, []int{100001, 100002, 100003}, []int{first.RunID, second.RunID, third.RunID})
	for _, h := range []*Handle{first, second, third} {
		require.NoError(t, waitHandle(t, h))
		assert.Equal(t, job.RunCompleted, dayShift.record(t, h.RunID).Status)
	}
}

func TestSirenWithEveryCourierOut(t *testing.T) {
	const couriers = 4
	f := newFixture(t, Config{Workers: couriers})
	ctx := context.Background()

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(couriers)
	f.define(t, slowJob, func(rc *job.RunContext) job.Func {
		return func(ctx context.Context) error {
			started.Done()
			<-release
			return nil
		}
	})
	require.NoError(t, f.engine.Start(ctx))

	handles := make([]*Handle, 0, couriers)
	for i := 0; i < couriers; i++ {
		h, err := f.engine.Trigger(ctx, slowJob)
		require.NoError(t, err)
		handles = append(handles, h)
	}
	started.Wait()

	assert.Equal(t, couriers, f.engine.InterruptAll(ctx))
	assert.Zero(t, f.engine.InFlight())

	running, err := f.store.History().Count(ctx, store.Filter{job.KeyStatus: int(job.RunRunning)})
	require.NoError(t, err)
	assert.Zero(t, running)

	docs, err := f.store.History().FindMany(ctx, store.Filter{job.KeyStatus: int(job.RunFailed)}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, docs, couriers)
	for _, doc := range docs {
		assert.Equal(t, InterruptedOutput, doc.String("Output"))
	}
	for _, h := range handles {
		assert.ErrorIs(t, waitHandle(t, h), ErrInterrupted)
	}

	close(release)
	require.Eventually(t, func() bool { return f.engine.pool.Active() == 0 }, 5*time.Second, 10*time.Millisecond)

	running, err = f.store.History().Count(ctx, store.Filter{job.KeyStatus: int(job.RunRunning)})
	require.NoError(t, err)
	assert.Zero(t, running, "late couriers reopen nothing")
}

func TestNotificationAfterShutdownIsDropped(t *testing.T) {
	f := newFixture(t, Config{Workers: 1, Notify: true})
	require.NoError(t, f.engine.Start(context.Background()))
	require.NoError(t, f.engine.Shutdown(context.Background()))

	// A body that outlived the shutdown timeout finishes with an error
	run := &Run{ID: 100777, JobID: brokeJob, capture: logger.NewRunCapture()}
	run.log = logger.ForRun(zap.NewNop().Sugar(), run.capture, brokeJob, run.ID)
	run.log.Errorw("Listing page missing")
	require.True(t, run.capture.HasErrors())

	f.engine.maybeNotify(run)
	f.engine.notifyWG.Wait()

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	assert.Empty(t, f.notifier.sent)
}
