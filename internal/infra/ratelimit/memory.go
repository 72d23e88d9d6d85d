package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"keystack/internal/domain"
)

var ErrCapacity = errors.New("rate limiter capacity exceeded")

type MemoryLimiterConfig struct {
	Now func() time.Time
	// MaxKeys bounds the number of live windows. Default 10000.
	MaxKeys int
}

// Memory keeps one window per key. Expired windows are swept when the key
// table is full.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	maxKeys int
	windows map[string]*window
}

type window struct {
	count int64
	ends  time.Time
}

func NewMemoryLimiter(cfg MemoryLimiterConfig) *Memory {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = 10000
	}
	return &Memory{now: cfg.Now, maxKeys: cfg.MaxKeys, windows: make(map[string]*window)}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, length time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, err := m.current(key, now, length)
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	if w.count >= int64(limit) {
		return decide(false, w.count, limit, w.ends), nil
	}
	w.count++
	return decide(true, w.count, limit, w.ends), nil
}

// current returns the open window of key, starting a new one when the last
// has ended.
func (m *Memory) current(key string, now time.Time, length time.Duration) (*window, error) {
	if w, ok := m.windows[key]; ok && now.Before(w.ends) {
		return w, nil
	}
	if _, ok := m.windows[key]; !ok && len(m.windows) >= m.maxKeys {
		m.sweep(now)
		if len(m.windows) >= m.maxKeys {
			return nil, ErrCapacity
		}
	}
	w := &window{ends: now.Add(length)}
	m.windows[key] = w
	return w, nil
}

func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
		}
	}
}

var _ domain.RateLimiter = (*Memory)(nil)
