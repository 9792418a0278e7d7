// Package cache memoizes geocode results by raw address for the lifetime of the process.
package cache

import (
	"sync"

	"github.com/UnknownOlympus/cartograph/internal/models"
)

// Memo is a concurrency-safe, write-once map from raw address to geocode result.
// Both matches and misses are stored. Entries never expire and are never replaced.
type Memo struct {
	mu      sync.Mutex
	entries map[string]models.Result
}

// New returns an empty Memo.
func New() *Memo {
	return &Memo{entries: make(map[string]models.Result)}
}

// Get returns the cached result for key.
func (m *Memo) Get(key string) (models.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.entries[key]
	return res, ok
}

// GetOrCompute returns the cached result for key, or calls compute and stores its result.
//
// compute runs outside the lock, so two workers missing on the same key at once may both
// call it; the first stored value wins and is returned to both. Errors are not cached.
// The boolean reports a cache hit.
func (m *Memo) GetOrCompute(key string, compute func() (models.Result, error)) (models.Result, bool, error) {
	if res, ok := m.Get(key); ok {
		return res, true, nil
	}

	res, err := compute()
	if err != nil {
		return models.Result{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.entries[key]; ok {
		return stored, false, nil
	}
	m.entries[key] = res

	return res, false, nil
}

// Len returns the number of cached addresses.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}
