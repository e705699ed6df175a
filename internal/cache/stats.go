package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type statsEntry struct {
	value       any
	generatedOn time.Time
}

// Stats caches expensive per-category aggregates. Generation is
// single-flight: concurrent callers of the same category share one run.
type Stats struct {
	mu      sync.Mutex
	g       singleflight.Group
	entries map[string]statsEntry
}

func NewStats() *Stats {
	return &Stats{entries: make(map[string]statsEntry)}
}

// Get returns the cached value for category, generating it at most once
// across concurrent callers.
func (s *Stats) Get(category string, generate func() (any, error)) (any, time.Time, error) {
	s.mu.Lock()
	if e, ok := s.entries[category]; ok {
		s.mu.Unlock()
		return e.value, e.generatedOn, nil
	}
	s.mu.Unlock()

	v, err, _ := s.g.Do(category, func() (any, error) {
		value, err := generate()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[category] = statsEntry{value: value, generatedOn: time.Now()}
		s.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	s.mu.Lock()
	e := s.entries[category]
	s.mu.Unlock()
	return v, e.generatedOn, nil
}

// Invalidate drops the cached value so the next Get regenerates.
func (s *Stats) Invalidate(category string) {
	s.mu.Lock()
	delete(s.entries, category)
	s.mu.Unlock()
}
