package async

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(3, nil, zap.NewNop().Sugar())
	p.Start()
	defer p.Stop(time.Second)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&peak)
				if n <= m || atomic.CompareAndSwapInt32(&peak, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, int32(3))
	assert.Equal(t, 3, p.Workers())
}

func TestPool_SubmitNeverBlocks(t *testing.T) {
	p := NewPool(1, nil, zap.NewNop().Sugar())
	// not started: everything queues

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			_ = p.Submit(func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked with no workers")
	}
	assert.Equal(t, 10000, p.Queued())
	p.Stop(time.Second)
}

func TestPool_StopDropsQueuedAndWaitsForRunning(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	p := NewPool(1, m, zap.NewNop().Sugar())
	p.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, p.Submit(func() {
		close(started)
		<-release
		finished.Store(true)
	}))
	<-started

	var ranQueued atomic.Bool
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() { ranQueued.Store(true) }))
	}
	assert.Equal(t, 5.0, testutil.ToFloat64(m.QueueDepth))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	dropped, clean := p.Stop(2 * time.Second)

	assert.Equal(t, 5, dropped)
	assert.True(t, clean)
	assert.True(t, finished.Load(), "running task finished before Stop returned")
	assert.False(t, ranQueued.Load(), "queued tasks were dropped")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth))

	assert.ErrorIs(t, p.Submit(func() {}), ErrPoolClosed)
	d, c := p.Stop(time.Second)
	assert.Zero(t, d)
	assert.True(t, c)
}

func TestPool_StopTimesOut(t *testing.T) {
	p := NewPool(1, nil, zap.NewNop().Sugar())
	p.Start()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	_, clean := p.Stop(20 * time.Millisecond)
	assert.False(t, clean)
}

func TestPool_SurvivesPanics(t *testing.T) {
	p := NewPool(1, nil, zap.NewNop().Sugar())
	p.Start()
	defer p.Stop(time.Second)

	require.NoError(t, p.Submit(func() { panic("courier tripped") }))

	ran := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(ran) }))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died with the panicking task")
	}
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	tests := []struct {
		availableGB float64
		expected    int
	}{
		{0.5, 1},
		{1.2, 1},
		{2.0, 4},
		{5.0, 16},
		{100.0, 64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, calculateSafeWorkerCount(tt.availableGB), "%.1fGB", tt.availableGB)
	}
}

func TestHostMemory(t *testing.T) {
	totalGB, availableGB, err := hostMemory()
	require.NoError(t, err)
	assert.Greater(t, totalGB, 0.0)
	assert.LessOrEqual(t, availableGB, totalGB)
}
