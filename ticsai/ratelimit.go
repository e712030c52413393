package ticsai

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// rateLimitEntry tracks a single user's request count for the current
// window. The count is only meaningful while windowResetAt is in the
// future; an expired entry is treated identically to a missing one.
type rateLimitEntry struct {
	count         int
	windowResetAt time.Time
}

// RateLimiter bounds each user to at most MaxRequests per fixed window.
// The window is not sliding: the first request after expiry replaces the
// entry and starts a fresh window.
//
// A RateLimiter is constructed once at startup and injected into the
// AdmissionGate. Decisions for different users are independent; decisions
// for the same user are serialized by the map mutex, so two concurrent
// messages from one user can't both consume the same slot.
type RateLimiter struct {
	entries     map[int64]*rateLimitEntry
	maxRequests int
	window      time.Duration

	// now is the clock used for all window comparisons. Tests inject a
	// fake clock here.
	now func() time.Time

	logger *slog.Logger
	mu     sync.Mutex
}

// NewRateLimiter creates a RateLimiter from the given config.
func NewRateLimiter(config *RateLimitConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		entries:     map[int64]*rateLimitEntry{},
		maxRequests: config.MaxRequests,
		window:      config.Window,
		now:         time.Now,
		logger:      logger.With(loggerNameKey, "rate_limiter"),
	}
}

// CheckAndConsume records a request attempt for the given sender and
// reports whether it's allowed. A missing or expired entry is replaced
// with a fresh window at count 1. A refusal does not mutate the entry.
func (r *RateLimiter) CheckAndConsume(senderID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry := r.entries[senderID]
	if entry == nil || !now.Before(entry.windowResetAt) {
		r.entries[senderID] = &rateLimitEntry{
			count:         1,
			windowResetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.maxRequests {
		return false
	}
	entry.count++
	return true
}

// Run periodically evicts expired entries, bounding memory to the set of
// users active within the last window. This is memory hygiene only:
// CheckAndConsume treats an expired-but-unswept entry the same as a
// missing one. Run blocks until ctx is canceled.
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "starting rate limit sweep", "period", r.window)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "stopping rate limit sweep")
			return
		case <-ticker.C:
			removed, remaining := r.sweep()
			if removed > 0 {
				r.logger.DebugContext(
					ctx,
					"swept expired rate limit entries",
					"removed", removed,
					"remaining", remaining,
				)
			}
		}
	}
}

// sweep removes entries whose window has passed, returning the number of
// entries removed and the number remaining.
func (r *RateLimiter) sweep() (removed int, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for senderID, entry := range r.entries {
		if !now.Before(entry.windowResetAt) {
			delete(r.entries, senderID)
			removed++
		}
	}
	return removed, len(r.entries)
}
