package filter

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// ChainConfig holds the configuration for building filter chains.
type ChainConfig struct {
	Allowlist  Permitter
	Resolver   IdentityResolver
	Gate       Confirmer
	AuditStore audit.Store
	Logger     *slog.Logger
	RateLimit  *RateLimitConfig
}

// BuildSignChain constructs the chain that decides whether a sign request
// may be forwarded. Confirmation runs last so the user is never asked about
// a request that would be refused anyway.
func BuildSignChain(cfg ChainConfig) *Chain {
	filters := []Filter{
		NewParseFilter(cfg.Resolver),
		NewPolicyFilter(cfg.Allowlist),
	}

	if cfg.RateLimit != nil {
		filters = append(filters, NewRateLimitFilter(*cfg.RateLimit))
	}

	filters = append(filters, NewConfirmFilter(cfg.Gate))

	return NewChain(cfg.Logger, filters...)
}

// BuildAuditChain constructs the chain run once a request is answered.
func BuildAuditChain(cfg ChainConfig) *Chain {
	return NewChain(cfg.Logger, NewAuditFilter(cfg.AuditStore))
}

// RateLimitConfigFromPolicy converts policy rate limit settings to filter config.
func RateLimitConfigFromPolicy(settings *policy.RateLimitSettings) (*RateLimitConfig, error) {
	if settings == nil {
		return nil, nil
	}

	cfg := &RateLimitConfig{
		PerEntry: make(map[string]*RateLimit),
	}

	if settings.Global != nil {
		rl, err := parseRateLimit(settings.Global)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.global: %w", err)
		}
		cfg.Global = rl
	}

	for entry, rule := range settings.PerEntry {
		rl, err := parseRateLimit(rule)
		if err != nil {
			return nil, fmt.Errorf("rate_limit.per_entry %q: %w", entry, err)
		}
		cfg.PerEntry[entry] = rl
	}

	return cfg, nil
}

func parseRateLimit(rule *policy.RateLimitRule) (*RateLimit, error) {
	if rule.Max <= 0 {
		return nil, fmt.Errorf("max must be positive, got %d", rule.Max)
	}
	d, err := time.ParseDuration(rule.Window)
	if err != nil {
		return nil, fmt.Errorf("invalid window %q: %w", rule.Window, err)
	}
	if d <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", d)
	}
	return &RateLimit{Max: rule.Max, Window: d}, nil
}
