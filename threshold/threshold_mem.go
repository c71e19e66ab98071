package threshold

import (
	"context"
	"sync"
	"time"
)

type MemTracker struct {
	mu sync.Mutex
	// key -> member -> score (unix millis), mirroring sorted-set semantics
	sets map[string]map[string]int64
}

var _ Tracker = (*MemTracker)(nil)

func NewMemTracker() *MemTracker {
	return &MemTracker{
		sets: make(map[string]map[string]int64),
	}
}

func (t *MemTracker) add(key, member string, score, cutoff int64) int {
	set, ok := t.sets[key]
	if !ok {
		set = make(map[string]int64)
		t.sets[key] = set
	}
	set[member] = score
	for m, s := range set {
		if s < cutoff {
			delete(set, m)
		}
	}
	return len(set)
}

func (t *MemTracker) TrackEvent(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window).UnixMilli()
	t.add(windowKey(subject, category, window), defaultMember(member, ts), ts.UnixMilli(), cutoff)
	return nil
}

func (t *MemTracker) CountInWindow(ctx context.Context, subject string, categories []string, window time.Duration, now time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := now.Add(-window).UnixMilli()
	total := 0
	for _, category := range categories {
		for _, s := range t.sets[windowKey(subject, category, window)] {
			if s >= cutoff {
				total++
			}
		}
	}
	return total, nil
}

func (t *MemTracker) TrackAndCount(ctx context.Context, subject, category, member string, ts time.Time, window time.Duration) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window).UnixMilli()
	return t.add(windowKey(subject, category, window), defaultMember(member, ts), ts.UnixMilli(), cutoff), nil
}
