package httpx

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateTier is a named request budget. Each tier keeps its own counters so
// reads never starve invitations and the other way round.
type rateTier struct {
	name   string
	limit  int
	window time.Duration
}

func (t rateTier) key(subject string) string {
	return t.name + ":" + subject
}

// limited authenticates the caller and then charges the request to tier.
func (r *Router) limited(tier rateTier, next http.HandlerFunc) http.HandlerFunc {
	charge := func(w http.ResponseWriter, req *http.Request) {
		if tier.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		caller, _ := authInfoFromContext(req.Context())
		decision := r.limiter.Allow(req.Context(), tier.key(caller.UserID), tier.limit, tier.window)
		r.applyRateHeaders(w, tier.limit, decision)
		if decision.allowed {
			next(w, req)
			return
		}
		r.recordRateLimitHit(routePattern(req), tier.name)
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	}
	return r.requireAuth(charge)
}

// windowLimiter is the in-process RateLimiter. Expired windows are pruned
// lazily from Allow, at most once per pruneEvery.
type windowLimiter struct {
	mu         sync.Mutex
	windows    map[string]*window
	pruneEvery time.Duration
	lastPrune  time.Time
	now        func() time.Time
}

type window struct {
	hits int
	ends time.Time
}

// NewMemoryRateLimiter returns a process-local RateLimiter.
func NewMemoryRateLimiter() RateLimiter {
	return &windowLimiter{
		windows:    make(map[string]*window),
		pruneEvery: 5 * time.Minute,
		now:        time.Now,
	}
}

func (l *windowLimiter) Allow(_ context.Context, key string, limit int, span time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if span <= 0 {
		span = time.Minute
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) >= l.pruneEvery {
		l.prune(now)
	}
	win := l.windows[key]
	if win == nil || !now.Before(win.ends) {
		win = &window{ends: now.Add(span)}
		l.windows[key] = win
	}
	if win.hits >= limit {
		return rateDecision{count: win.hits, windowEnd: win.ends}
	}
	win.hits++
	return rateDecision{allowed: true, count: win.hits, windowEnd: win.ends}
}

// prune drops closed windows. Callers hold mu.
func (l *windowLimiter) prune(now time.Time) {
	for key, win := range l.windows {
		if !now.Before(win.ends) {
			delete(l.windows, key)
		}
	}
	l.lastPrune = now
}

func (l *windowLimiter) Close() {
	l.mu.Lock()
	l.windows = make(map[string]*window)
	l.mu.Unlock()
}
