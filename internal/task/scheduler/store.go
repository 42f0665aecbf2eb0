package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Store is the in-memory job registry: a heap by next fire instant plus a
// name index, both guarded by one mutex. It performs no I/O.
type Store struct {
	mu     sync.Mutex
	h      jobHeap
	byName map[string]*entry
	seq    uint64
}

func NewStore() *Store {
	return &Store{byName: map[string]*entry{}}
}

// Insert adds job, replacing any live job with the same name in one step.
// It reports whether a job was replaced.
func (s *Store) Insert(job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(job)
}

func (s *Store) insertLocked(job Job) bool {
	s.seq++
	if old, ok := s.byName[job.Name]; ok {
		old.job = job
		old.seq = s.seq
		heapFix(&s.h, old)
		return true
	}
	e := &entry{job: job, seq: s.seq}
	heapPush(&s.h, e)
	s.byName[job.Name] = e
	return false
}

// InsertIfAbsent adds job unless a job with its name is live. It reports
// whether job was added.
func (s *Store) InsertIfAbsent(job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[job.Name]; ok {
		return false
	}
	s.insertLocked(job)
	return true
}

func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return false
	}
	heapRemove(&s.h, e)
	delete(s.byName, name)
	return true
}

// RemoveWhere removes every job matching pred and returns them in fire order.
func (s *Store) RemoveWhere(pred func(Job) bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for name, e := range s.byName {
		if pred(e.job) {
			out = append(out, e.job)
			heapRemove(&s.h, e)
			delete(s.byName, name)
		}
	}
	sortJobs(out)
	return out
}

func (s *Store) FindByName(name string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byName[name]
	if !ok {
		return Job{}, false
	}
	return e.job, true
}

// ListAll returns a copy of every job ordered by next fire instant, then name.
func (s *Store) ListAll() []Job {
	return s.Filter(nil)
}

// Filter returns the jobs matching pred (all when pred is nil) in ListAll order.
func (s *Store) Filter(pred func(Job) bool) []Job {
	s.mu.Lock()
	out := make([]Job, 0, len(s.h))
	for _, e := range s.h {
		if pred == nil || pred(e.job) {
			out = append(out, e.job)
		}
	}
	s.mu.Unlock()
	sortJobs(out)
	return out
}

// WithPrefix is a Filter on the job name.
func (s *Store) WithPrefix(prefix string) []Job {
	return s.Filter(func(j Job) bool { return strings.HasPrefix(j.Name, prefix) })
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.h)
}

// NextDue peeks at the earliest job if it is due at now.
func (s *Store) NextDue(now time.Time) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 || s.h[0].job.NextAt.After(now) {
		return Job{}, false
	}
	return s.h[0].job, true
}

// NextAt is the earliest fire instant, or zero when the store is empty.
func (s *Store) NextAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.h) == 0 {
		return time.Time{}
	}
	return s.h[0].job.NextAt
}

// PopDue removes and returns every job due at now, earliest first.
func (s *Store) PopDue(now time.Time) []Job {
	return s.Advance(now, nil)
}

// Advance removes every job due at now and, under the same lock, puts back
// the ones rearm reschedules. Returned jobs carry the instant that fired.
func (s *Store) Advance(now time.Time, rearm func(Job) (time.Time, bool)) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Job
	for len(s.h) > 0 && !s.h[0].job.NextAt.After(now) {
		e := heapPop(&s.h)
		delete(s.byName, e.job.Name)
		due = append(due, e.job)
	}
	if rearm != nil {
		for _, j := range due {
			if next, ok := rearm(j); ok {
				j.NextAt = next
				s.insertLocked(j)
			}
		}
	}
	return due
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].NextAt.Equal(jobs[k].NextAt) {
			return jobs[i].NextAt.Before(jobs[k].NextAt)
		}
		return jobs[i].Name < jobs[k].Name
	})
}
