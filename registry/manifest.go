package registry

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/easyjob/errors"
	"github.com/teranos/easyjob/job"
	"github.com/teranos/easyjob/logger"
)

// ManifestExt is the extension Scan looks for.
const ManifestExt = ".toml"

// A manifest binds extra job ids to classes declared by modules:
//
//	[[job]]
//	id = 100003
//	class = "demo.Fetch"
//	name = "Fetch status page"
//	description = "Polls the status page every hour"
type manifest struct {
	Job []manifestEntry `toml:"job"`
}

type manifestEntry struct {
	ID          int    `toml:"id"`
	Class       string `toml:"class"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// ScanReport summarizes one manifest scan.
type ScanReport struct {
	Files    int
	Bound    []int   // ids bound by manifests after the scan
	Dropped  []int   // manifest ids from the previous scan that are gone
	Problems []error // bad files, unknown classes and conflicting ids
}

// Scan reads every manifest in dir and replaces the manifest bindings with
// what it finds. Problems with individual files or entries are reported
// and skipped. A missing directory counts as empty.
func (r *Registry) Scan(dir string) (ScanReport, error) {
	var report ScanReport

	paths, err := manifestPaths(dir)
	if err != nil {
		return report, err
	}
	report.Files = len(paths)

	var entries []manifestEntry
	for _, path := range paths {
		var m manifest
		md, err := toml.DecodeFile(path, &m)
		if err != nil {
			report.Problems = append(report.Problems, errors.Wrapf(err, "failed to parse manifest %s", path))
			continue
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			r.log.Warnw("Manifest has unrecognised keys",
				logger.FieldPath, path,
				"keys", undecoded)
		}
		entries = append(entries, m.Job...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[int]job.Implementation, len(entries))
	for _, e := range entries {
		impl, problem := r.manifestImplLocked(e, next)
		if problem != nil {
			report.Problems = append(report.Problems, problem)
			continue
		}
		if impl != nil {
			next[e.ID] = *impl
		}
	}

	for id, b := range r.bindings {
		if b.source != fromManifest {
			continue
		}
		if _, keep := next[id]; !keep {
			report.Dropped = append(report.Dropped, id)
		}
		delete(r.bindings, id)
	}
	for id, impl := range next {
		r.bindings[id] = binding{impl: impl, source: fromManifest}
		report.Bound = append(report.Bound, id)
	}
	sort.Ints(report.Bound)
	sort.Ints(report.Dropped)

	for _, p := range report.Problems {
		r.log.Warnw("Manifest problem", logger.FieldError, p)
	}
	r.log.Infow("Scanned job manifests",
		logger.FieldPath, dir,
		"files", report.Files,
		"bound", len(report.Bound),
		"dropped", len(report.Dropped),
		"problems", len(report.Problems))

	return report, nil
}

// manifestImplLocked resolves one manifest entry. A nil impl with a nil
// problem means the entry duplicates a module binding and adds nothing.
func (r *Registry) manifestImplLocked(e manifestEntry, seen map[int]job.Implementation) (*job.Implementation, error) {
	if e.ID <= 0 {
		return nil, errors.NewInvalidRequestError("manifest entry for class %q has no valid id", e.Class)
	}

	class, ok := r.classes[e.Class]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClass, "job %d names class %q", e.ID, e.Class)
	}

	if b, ok := r.bindings[e.ID]; ok && b.source == fromModule {
		if b.impl.Key() != class.Key() {
			return nil, errors.Wrapf(ErrDuplicateRegistration,
				"job %d is bound to %s by module %s", e.ID, b.impl.Class, b.impl.Package)
		}
		return nil, nil
	}
	if prev, ok := seen[e.ID]; ok && prev.Key() != class.Key() {
		return nil, errors.Wrapf(ErrDuplicateRegistration,
			"job %d appears in manifests as both %s and %s", e.ID, prev.Class, class.Class)
	}

	impl := class
	if e.Name != "" {
		impl.Name = e.Name
	}
	if e.Description != "" {
		impl.Description = e.Description
	}
	return &impl, nil
}

func manifestPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read registry directory %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ManifestExt {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
