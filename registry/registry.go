// Package registry maps job ids to the implementations that run them.
//
// Bindings come from two places: Go modules registered at startup
// (RegisterModule) and TOML manifests in the registry directory (Scan).
// Module bindings are permanent for the life of the process; manifest
// bindings are replaced wholesale by every scan, so deleting a manifest
// entry unbinds the id on the next scan. The store is only ever written
// from here by ReconcileToStore, and only to add missing definitions.
package registry

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
	"github.com/teranos/easyjob/store"
	"github.com/teranos/easyjob/sym"
)

var (
	// ErrUnknownJob is returned by Resolve for an id nothing is bound to.
	ErrUnknownJob = errors.New("unknown job")

	// ErrDuplicateRegistration is returned when an id is already bound to
	// a different implementation.
	ErrDuplicateRegistration = errors.New("duplicate registration")

	// ErrUnknownClass is returned when a binding names a class no module
	// declared.
	ErrUnknownClass = errors.New("unknown job class")
)

type source int

const (
	fromModule source = iota
	fromManifest
)

type binding struct {
	impl   job.Implementation
	source source
}

// Module is a Go package's contribution to the registry: the classes it
// implements and the job ids they run under by default.
type Module struct {
	Package  string
	Classes  []job.Implementation
	Bindings map[int]string // job id -> class key
}

// Registry is safe for concurrent use. Lookups take a read lock only.
type Registry struct {
	mu       sync.RWMutex
	bindings map[int]binding
	classes  map[string]job.Implementation
	jobs     *store.Collection
	log      *zap.SugaredLogger
}

// New creates an empty registry that reconciles into jobs.
func New(jobs *store.Collection, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = logger.ComponentLogger("registry")
	}
	return &Registry{
		bindings: make(map[int]binding),
		classes:  make(map[string]job.Implementation),
		jobs:     jobs,
		log:      logger.WithSymbol(log, sym.Registry),
	}
}

// Register binds jobID to impl. Binding an id to the implementation it
// already has is a no-op; binding it to a different one fails with
// ErrDuplicateRegistration.
func (r *Registry) Register(jobID int, impl job.Implementation) error {
	return r.register(jobID, impl, fromModule)
}

func (r *Registry) register(jobID int, impl job.Implementation, src source) error {
	if jobID <= 0 {
		return errors.NewInvalidRequestError("job id must be positive, got %d", jobID)
	}
	if impl.Class == "" || impl.New == nil {
		return errors.NewInvalidRequestError("implementation for job %d needs a class and a constructor", jobID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(jobID, impl); err != nil {
		return err
	}
	if existing, ok := r.bindings[jobID]; ok && existing.source == fromModule {
		return nil
	}
	r.bindings[jobID] = binding{impl: impl, source: src}
	if _, ok := r.classes[impl.Class]; !ok {
		r.classes[impl.Class] = impl
	}
	return nil
}

func (r *Registry) checkLocked(jobID int, impl job.Implementation) error {
	existing, ok := r.bindings[jobID]
	if !ok || existing.impl.Key() == impl.Key() {
		return nil
	}
	return errors.Wrapf(ErrDuplicateRegistration,
		"job %d is bound to %s, cannot rebind to %s", jobID, existing.impl.Class, impl.Class)
}

// RegisterModule declares a module's classes and binds its default ids.
// Nothing is registered if any binding fails.
func (r *Registry) RegisterModule(m Module) error {
	declared := make(map[string]job.Implementation, len(m.Classes))
	for _, impl := range m.Classes {
		if impl.Package == "" {
			impl.Package = m.Package
		}
		if impl.Class == "" || impl.New == nil {
			return errors.NewInvalidRequestError("module %s declares a class without a key or constructor", m.Package)
		}
		declared[impl.Class] = impl
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for jobID, class := range m.Bindings {
		impl, ok := declared[class]
		if !ok {
			return errors.Wrapf(ErrUnknownClass, "module %s binds job %d to undeclared class %s", m.Package, jobID, class)
		}
		if err := r.checkLocked(jobID, impl); err != nil {
			return err
		}
	}

	for class, impl := range declared {
		r.classes[class] = impl
	}
	for jobID, class := range m.Bindings {
		r.bindings[jobID] = binding{impl: declared[class], source: fromModule}
	}

	r.log.Infow("Registered job module",
		"package", m.Package,
		"classes", len(declared),
		logger.FieldCount, len(m.Bindings))
	return nil
}

// Resolve returns the implementation bound to jobID.
func (r *Registry) Resolve(jobID int) (job.Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bindings[jobID]
	if !ok {
		return job.Implementation{}, errors.Wrapf(ErrUnknownJob, "no implementation bound to job %d", jobID)
	}
	return b.impl, nil
}

// Has reports whether jobID is bound.
func (r *Registry) Has(jobID int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bindings[jobID]
	return ok
}

// Class returns a declared class by key.
func (r *Registry) Class(key string) (job.Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.classes[key]
	return impl, ok
}

// IDs returns every bound job id in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.bindings))
	for id := range r.bindings {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Ints(ids)
	return ids
}

// Len reports how many ids are bound.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// ReconcileToStore inserts a disabled default definition for every bound id
// the Job collection does not have yet. Existing definitions are never
// touched, and ids removed from the registry are never deleted.
func (r *Registry) ReconcileToStore(ctx context.Context) (int, error) {
	if r.jobs == nil {
		return 0, errors.New("registry has no job store")
	}

	r.mu.RLock()
	snapshot := make(map[int]job.Implementation, len(r.bindings))
	for id, b := range r.bindings {
		snapshot[id] = b.impl
	}
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return 0, nil
	}

	ids := make([]interface{}, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	existing, err := r.jobs.FindMany(ctx, store.Filter{job.KeyJobID: store.In(ids...)}, store.FindOptions{})
	if err != nil {
		return 0, errors.Wrap(err, "failed to read existing job definitions")
	}
	known := make(map[int64]bool, len(existing))
	for _, doc := range existing {
		if id, ok := doc.Int(job.KeyJobID); ok {
			known[id] = true
		}
	}

	missing := make([]int, 0)
	for id := range snapshot {
		if !known[int64(id)] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	sort.Ints(missing)

	docs := make([]interface{}, 0, len(missing))
	for _, id := range missing {
		docs = append(docs, job.DefaultDefinition(id, snapshot[id]))
	}
	added := len(docs)
	if _, err := r.jobs.InsertMany(ctx, docs); err != nil {
		if !errors.IsConflictError(err) {
			return 0, errors.Wrapf(err, "failed to insert %d job definitions", len(docs))
		}
		// Someone created one of them since the read; the batch rolled back
		if added, err = r.insertEach(ctx, docs); err != nil {
			return added, err
		}
	}

	r.log.Infow("Added newly registered jobs as disabled definitions",
		logger.FieldCount, added,
		"job_ids", missing)
	return added, nil
}

// insertEach inserts docs one at a time, skipping definitions that exist.
func (r *Registry) insertEach(ctx context.Context, docs []interface{}) (int, error) {
	added := 0
	for _, doc := range docs {
		_, err := r.jobs.Insert(ctx, doc)
		switch {
		case err == nil:
			added++
		case errors.IsConflictError(err):
		default:
			return added, errors.Wrap(err, "failed to insert job definition")
		}
	}
	return added, nil
}
