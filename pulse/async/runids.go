package async

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/store"
)

// FirstRunID is the id given to the first run of an empty history.
const FirstRunID = 100001

// RunIDs allocates run ids. It reads the highest recorded id once, on
// first use, and counts up from there in memory.
type RunIDs struct {
	history *store.Collection

	mu     sync.Mutex
	seeded atomic.Bool
	next   atomic.Int64
}

func NewRunIDs(history *store.Collection) *RunIDs {
	return &RunIDs{history: history}
}

// Next returns a run id no other caller of this allocator will get.
func (r *RunIDs) Next(ctx context.Context) (int, error) {
	if !r.seeded.Load() {
		if err := r.seed(ctx); err != nil {
			return 0, err
		}
	}
	return int(r.next.Add(1) - 1), nil
}

func (r *RunIDs) seed(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeded.Load() {
		return nil
	}

	next, err := r.afterHighest(ctx)
	if err != nil {
		return err
	}
	r.next.Store(next)
	r.seeded.Store(true)
	return nil
}

// Resync moves the counter past the highest recorded id. Another process
// writing to the same history makes the in-memory count fall behind.
func (r *RunIDs) Resync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := r.afterHighest(ctx)
	if err != nil {
		return err
	}
	for {
		cur := r.next.Load()
		if r.seeded.Load() && cur >= next {
			return nil
		}
		if r.next.CompareAndSwap(cur, next) {
			r.seeded.Store(true)
			return nil
		}
	}
}

// afterHighest returns the id following the highest recorded one.
func (r *RunIDs) afterHighest(ctx context.Context) (int64, error) {
	docs, err := r.history.FindMany(ctx, nil, store.FindOptions{
		Sort:  []store.SortField{store.Desc(job.KeyRunID)},
		Limit: 1,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to read highest run id")
	}

	next := int64(FirstRunID)
	if len(docs) > 0 {
		if max, ok := docs[0].Int(job.KeyRunID); ok {
			next = max + 1
		}
	}
	return next, nil
}
