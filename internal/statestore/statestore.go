// Package statestore holds transient, best-effort per-process state: OAuth
// CSRF nonces, assistant rate-limit windows, and similar bookkeeping that
// must not be treated as durable. Losing it on restart is acceptable.
//
// The interfaces are small so a shared external cache can replace the
// in-memory implementation in a multi-instance deployment without touching
// call sites.
package statestore

import (
	"context"
	"sync"
	"time"
)

// KV is an expiring key/value store.
type KV interface {
	Set(key, value string, ttl time.Duration)
	// Get returns the value and whether it was present and unexpired.
	Get(key string) (string, bool)
	Delete(key string)
}

// Limiter counts events per key over a sliding window.
type Limiter interface {
	// Allow records one event for key and reports whether the count within
	// the window, including this event, is at most limit.
	Allow(key string, limit int, window time.Duration) bool
}

type entry struct {
	value     string
	expiresAt time.Time
}

// Memory is the single-instance implementation of KV and Limiter.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	events  map[string][]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		events:  make(map[string][]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

func (m *Memory) Allow(key string, limit int, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)

	kept := m.events[key][:0]
	for _, ts := range m.events[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		m.events[key] = kept
		return false
	}
	m.events[key] = append(kept, now)
	return true
}

// Sweep removes expired entries and stale event windows. Run drives it on an
// interval until ctx is cancelled.
func (m *Memory) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	cutoff := now.Add(-time.Minute)
	for k, evs := range m.events {
		kept := evs[:0]
		for _, ts := range evs {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(m.events, k)
		} else {
			m.events[k] = kept
		}
	}
}

// Run sweeps on the given interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
