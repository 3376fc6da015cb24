package cache

import (
	"context"
	"sync"
	"time"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Memory is an in-process Store. Expired entries are dropped lazily.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

// NewMemory creates an empty in-memory cache.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]core.RideQuote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().Sub(e.StoredAt) >= m.ttl {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]core.RideQuote(nil), e.Quotes...), true, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key string, quotes []core.RideQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{Quotes: append([]core.RideQuote(nil), quotes...), StoredAt: m.now()}
	return nil
}

// Clear implements Store.
func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]entry)
	return n, nil
}

// Stats implements Store. Expired entries are pruned first.
func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var st Stats
	var oldest time.Time
	for k, e := range m.entries {
		if now.Sub(e.StoredAt) >= m.ttl {
			delete(m.entries, k)
			continue
		}
		st.Size++
		if oldest.IsZero() || e.StoredAt.Before(oldest) {
			oldest = e.StoredAt
		}
	}
	if !oldest.IsZero() {
		st.OldestEntryAgeSeconds = int64(now.Sub(oldest) / time.Second)
	}
	return st, nil
}
