package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps event timestamps in process memory behind a mutex. Meant
// for tests and single-node deployments; multi-instance setups need the
// Redis-backed store so every producer observes the same counts.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]time.Time)}
}

func (m *MemoryStore) Reserve(ctx context.Context, req Request, now time.Time) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(req.EmailKey, now, req.Retention)
	m.prune(req.OriginKey, now, req.Retention)

	if req.MinInterval > 0 {
		if last, ok := m.latest(req.EmailKey); ok {
			elapsed := now.Sub(last)
			if elapsed < req.MinInterval {
				return Decision{
					Allowed:    false,
					Rule:       RuleMinimumInterval,
					RetryAfter: req.MinInterval - elapsed,
				}, nil
			}
		}
	}

	for _, rule := range req.Rules {
		windowStart := now.Add(-rule.Span)
		count, oldest := m.countSince(rule.Key, windowStart)
		if count >= rule.Limit {
			retryAfter := time.Duration(0)
			if !oldest.IsZero() {
				retryAfter = oldest.Add(rule.Span).Sub(now)
			}
			return Decision{Allowed: false, Rule: rule.Name, RetryAfter: retryAfter}, nil
		}
	}

	m.events[req.EmailKey] = append(m.events[req.EmailKey], now)
	if req.OriginKey != "origin:" {
		m.events[req.OriginKey] = append(m.events[req.OriginKey], now)
	}
	return Decision{Allowed: true}, nil
}

func (m *MemoryStore) latest(key string) (time.Time, bool) {
	events := m.events[key]
	if len(events) == 0 {
		return time.Time{}, false
	}
	last := events[0]
	for _, event := range events[1:] {
		if event.After(last) {
			last = event
		}
	}
	return last, true
}

func (m *MemoryStore) countSince(key string, start time.Time) (int64, time.Time) {
	var count int64
	var oldest time.Time
	for _, event := range m.events[key] {
		if event.Before(start) {
			continue
		}
		if oldest.IsZero() || event.Before(oldest) {
			oldest = event
		}
		count++
	}
	return count, oldest
}

func (m *MemoryStore) prune(key string, now time.Time, retention time.Duration) {
	if retention <= 0 {
		return
	}
	events := m.events[key]
	if len(events) == 0 {
		return
	}
	cutoff := now.Add(-retention)
	kept := events[:0]
	for _, event := range events {
		if event.After(cutoff) {
			kept = append(kept, event)
		}
	}
	if len(kept) == 0 {
		delete(m.events, key)
		return
	}
	m.events[key] = kept
}
