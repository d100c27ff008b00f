package async

import (
	"sort"
	"sync"
)

// inflightSet holds runs whose record says RUNNING. Whoever removes a run
// from the set owns its terminal write.
type inflightSet struct {
	mu   sync.Mutex
	runs map[int]*Run
}

func newInflightSet() *inflightSet {
	return &inflightSet{runs: make(map[int]*Run)}
}

func (s *inflightSet) add(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
}

// claim removes runID and reports whether it was still present.
func (s *inflightSet) claim(runID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return false
	}
	delete(s.runs, runID)
	return true
}

// drain empties the set and returns what it held, oldest run first.
func (s *inflightSet) drain() []*Run {
	s.mu.Lock()
	runs := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.runs = make(map[int]*Run)
	s.mu.Unlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].ID < runs[j].ID })
	return runs
}

func (s *inflightSet) has(runID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runs[runID]
	return ok
}

func (s *inflightSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}
