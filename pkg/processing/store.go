package processing

import "sync"

// DefaultRunHistory is the number of runs a RunStore keeps by default.
const DefaultRunHistory = 200

// RunStore keeps the most recent finished job runs in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  []JobRun
	limit int
}

// NewRunStore returns a store keeping at most limit runs. A limit of zero
// or less uses DefaultRunHistory.
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultRunHistory
	}
	return &RunStore{limit: limit}
}

// Add stores a copy of run, evicting the oldest run when full.
func (s *RunStore) Add(run *JobRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, *run)
	if len(s.runs) > s.limit {
		s.runs = s.runs[len(s.runs)-s.limit:]
	}
}

// List returns the stored runs, newest first.
func (s *RunStore) List() []JobRun {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]JobRun, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		out = append(out, s.runs[i])
	}
	return out
}

// Get returns the run with the given id.
func (s *RunStore) Get(id string) (JobRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, run := range s.runs {
		if run.ID == id {
			return run, true
		}
	}
	return JobRun{}, false
}
