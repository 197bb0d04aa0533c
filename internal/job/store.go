package job

import (
	"fmt"
	"sync"
)

type entry struct {
	mu      sync.Mutex
	job     *Job
	removed bool
}

// Store holds every live job. The map lock is only held to look entries up,
// add or drop them; per-job business logic runs under the entry's own lock,
// so work on different jobs never serializes.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*entry
	order []string // FIFO order, may hold ids already removed
	stale int
}

func NewStore() *Store {
	return &Store{
		jobs:  make(map[string]*entry),
		order: make([]string, 0),
	}
}

func (s *Store) Add(j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job already exists: %s", j.ID)
	}
	s.jobs[j.ID] = &entry{job: j}
	s.order = append(s.order, j.ID)
	return nil
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return e, ok
}

// With runs fn while holding the job's lock.
func (s *Store) With(id string, fn func(j *Job) error) error {
	e, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return fn(e.job)
}

// Get returns a copy of the job.
func (s *Store) Get(id string) (*Job, error) {
	var out *Job
	err := s.With(id, func(j *Job) error {
		out = j.Clone()
		return nil
	})
	return out, err
}

// RemoveIf drops the job when pred holds, deciding under the job's lock.
func (s *Store) RemoveIf(id string, pred func(j *Job) bool) (bool, error) {
	e, ok := s.lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !pred(e.job) {
		return false, nil
	}
	e.removed = true

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	s.stale++
	if s.stale > len(s.jobs) {
		s.compact()
	}
	return true, nil
}

func (s *Store) compact() {
	kept := make([]string, 0, len(s.jobs))
	for _, id := range s.order {
		if _, ok := s.jobs[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	s.stale = 0
}

// IDs returns a point-in-time copy of the live job ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.jobs))
	for _, id := range s.order {
		if _, ok := s.jobs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Counts tallies jobs per status.
func (s *Store) Counts() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, id := range s.IDs() {
		s.With(id, func(j *Job) error {
			counts[j.Status]++
			return nil
		})
	}
	return counts
}

// Each visits a snapshot of the live jobs, each under its own lock. Jobs
// removed after the snapshot was taken are skipped.
func (s *Store) Each(fn func(j *Job)) {
	for _, id := range s.IDs() {
		s.With(id, func(j *Job) error {
			fn(j)
			return nil
		})
	}
}
