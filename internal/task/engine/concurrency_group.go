package engine

import (
	"strings"
	"sync"
)

// group counts running tasks of one key. The limit is fixed by the task
// that creates the group; the group is evicted once nothing holds it.
type group struct {
	limit int
	held  int
}

type groupStore struct {
	mu     sync.Mutex
	groups map[string]*group
}

// groupKey is the task's ConcurrencyKey, falling back to its name.
func groupKey(t Task) string {
	if key := strings.TrimSpace(t.ConcurrencyKey); key != "" {
		return key
	}
	return t.Name
}

func (s *groupStore) tryAcquire(key string, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.groups == nil {
		s.groups = make(map[string]*group)
	}
	g, ok := s.groups[key]
	if !ok {
		g = &group{limit: max(1, limit)}
		s.groups[key] = g
	}
	if g.held >= g.limit {
		return false
	}
	g.held++
	return true
}

func (s *groupStore) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[key]
	if !ok {
		return
	}
	if g.held--; g.held <= 0 {
		delete(s.groups, key)
	}
}

// size is the number of live groups.
func (s *groupStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}
