package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultConcurrency is the maximum number of in-flight moderation API
	// calls, independent of the advertised quota.
	DefaultConcurrency = 24

	// DefaultSafetyBuffer is the remaining-quota floor at which outbound
	// dispatch starts sleeping until the advertised reset.
	DefaultSafetyBuffer = 5
)

// State is the process-wide view of the upstream's advertised rate quota,
// merged from every remote response header. The values are advisory and may
// lag reality; the next server response is always authoritative.
type State struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Policy    string
}

// StateUpdate is a partial State; nil fields are left untouched on merge.
type StateUpdate struct {
	Limit     *int
	Remaining *int
	Reset     *time.Time
	Policy    *string
}

// Gate bounds concurrent outbound calls to the moderation service and
// throttles dispatch when the advertised remaining quota is low.
type Gate struct {
	Logger       *slog.Logger
	SafetyBuffer int

	// optional request smoothing, applied after the quota throttle
	Limiter *rate.Limiter

	sem *semaphore.Weighted

	mu    sync.Mutex
	state State
}

func NewGate(concurrency int, logger *slog.Logger) *Gate {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Logger:       logger.With("system", "ratelimit"),
		SafetyBuffer: DefaultSafetyBuffer,
		sem:          semaphore.NewWeighted(int64(concurrency)),
	}
}

// State returns a copy of the current quota snapshot.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// UpdateState merges a partial update into the shared quota state,
// last-write-wins per field. Collaborators call this after every remote
// response, including failed ones that still carried headers.
func (g *Gate) UpdateState(u StateUpdate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if u.Limit != nil {
		g.state.Limit = *u.Limit
	}
	if u.Remaining != nil {
		g.state.Remaining = *u.Remaining
	}
	if u.Reset != nil {
		g.state.Reset = *u.Reset
	}
	if u.Policy != nil {
		g.state.Policy = *u.Policy
	}
	quotaRemainingGauge.Set(float64(g.state.Remaining))
}

// UpdateFromResponse parses `ratelimit-*` response headers, if present, and
// merges them into the shared state.
func (g *Gate) UpdateFromResponse(resp *http.Response) {
	if resp == nil || resp.Header.Get("ratelimit-limit") == "" {
		return
	}
	var u StateUpdate
	if n, err := strconv.Atoi(resp.Header.Get("ratelimit-limit")); err == nil {
		u.Limit = &n
	}
	if n, err := strconv.Atoi(resp.Header.Get("ratelimit-remaining")); err == nil {
		u.Remaining = &n
	}
	if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
		t := time.Unix(n, 0)
		u.Reset = &t
	}
	if p := resp.Header.Get("ratelimit-policy"); p != "" {
		u.Policy = &p
	}
	g.UpdateState(u)
}

// Dispatch runs task while holding one of the gate's concurrency slots,
// sleeping first if the advertised quota is at or below the safety buffer.
// The slot is released on every exit path; a task error propagates after
// release. The throttle wait itself never errors and never resets the shared
// state; only the next remote response updates it.
func (g *Gate) Dispatch(ctx context.Context, task func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	if err := g.throttle(ctx); err != nil {
		return err
	}
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return task(ctx)
}

func (g *Gate) throttle(ctx context.Context) error {
	g.mu.Lock()
	remaining := g.state.Remaining
	limit := g.state.Limit
	reset := g.state.Reset
	g.mu.Unlock()

	// no headers seen yet
	if limit == 0 && reset.IsZero() {
		return nil
	}
	if remaining > g.SafetyBuffer {
		return nil
	}
	wait := time.Until(reset)
	if wait <= 0 {
		return nil
	}

	g.Logger.Warn("rate limit nearly exhausted, throttling", "remaining", remaining, "wait", wait.String())
	throttleCount.Inc()
	throttleDuration.Observe(wait.Seconds())

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
