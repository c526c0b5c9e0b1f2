package filter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// RateLimitConfig defines rate limiting rules for signatures.
type RateLimitConfig struct {
	// Global is the global rate limit (signatures per window across all keys).
	Global *RateLimit

	// PerEntry maps allow entry names to per-entry rate limits.
	PerEntry map[string]*RateLimit
}

// RateLimit defines a single rate limit: max signatures per time window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// slidingWindow tracks request timestamps for rate limiting.
type slidingWindow struct {
	mu         sync.Mutex
	timestamps []time.Time
}

// RateLimitFilter enforces per-entry and global rate limits using a sliding window.
type RateLimitFilter struct {
	config  RateLimitConfig
	mu      sync.RWMutex
	windows map[string]*slidingWindow // key: "entry:<name>" or "_global"
	now     func() time.Time
}

// NewRateLimitFilter creates a new rate limit filter.
func NewRateLimitFilter(config RateLimitConfig) *RateLimitFilter {
	return &RateLimitFilter{
		config:  config,
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
}

func (f *RateLimitFilter) Name() string { return "rate_limit" }

func (f *RateLimitFilter) Process(_ context.Context, fc *FilterContext) error {
	// Only rate limit sign requests that passed the allow-list
	if fc.Type != agentproto.MsgSignRequest || fc.Halted {
		return nil
	}

	now := f.now()
	entry := fc.MatchedRule

	// Check per-entry limit
	if limit, ok := f.config.PerEntry[entry]; ok {
		if !f.allow("entry:"+entry, limit, now) {
			fc.Deny("rate_limit:"+entry, fmt.Sprintf("rate limit exceeded for entry %q: max %d per %s",
				entry, limit.Max, limit.Window))
			return nil
		}
	}

	// Check global limit
	if f.config.Global != nil {
		if !f.allow("_global", f.config.Global, now) {
			fc.Deny("rate_limit:global", fmt.Sprintf("global rate limit exceeded: max %d per %s",
				f.config.Global.Max, f.config.Global.Window))
			return nil
		}
	}

	return nil
}

// allow checks if a request is allowed under the given rate limit.
func (f *RateLimitFilter) allow(key string, limit *RateLimit, now time.Time) bool {
	f.mu.Lock()
	w, ok := f.windows[key]
	if !ok {
		w = &slidingWindow{}
		f.windows[key] = w
	}
	f.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Remove expired timestamps
	cutoff := now.Add(-limit.Window)
	valid := 0
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			w.timestamps[valid] = ts
			valid++
		}
	}
	w.timestamps = w.timestamps[:valid]

	if len(w.timestamps) >= limit.Max {
		return false
	}

	w.timestamps = append(w.timestamps, now)
	return true
}

// Reset clears all rate limit windows.
func (f *RateLimitFilter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = make(map[string]*slidingWindow)
}
