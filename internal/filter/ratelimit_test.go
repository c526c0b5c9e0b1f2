package filter

import (
	"context"
	"testing"
	"time"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

func signContext(entry string) *FilterContext {
	fc := NewFilterContext("c1", []byte{byte(agentproto.MsgSignRequest)})
	fc.Verdict = api.VerdictAllow
	fc.MatchedRule = entry
	return fc
}

func TestRateLimiter_PerEntryLimit(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		PerEntry: map[string]*RateLimit{
			"deploy": {Max: 3, Window: time.Minute},
		},
	})

	for i := 0; i < 3; i++ {
		fc := signContext("deploy")
		if err := f.Process(context.Background(), fc); err != nil {
			t.Fatal(err)
		}
		if fc.Halted {
			t.Errorf("request %d should not be rate limited", i+1)
		}
	}

	// 4th request should be denied
	fc := signContext("deploy")
	if err := f.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted {
		t.Error("4th request should be rate limited")
	}
	if fc.Verdict != api.VerdictDeny {
		t.Errorf("expected deny, got %s", fc.Verdict)
	}
	if fc.MatchedRule != "rate_limit:deploy" {
		t.Errorf("expected rule rate_limit:deploy, got %s", fc.MatchedRule)
	}

	// Other entries are unaffected
	fc = signContext("work")
	f.Process(context.Background(), fc)
	if fc.Halted {
		t.Error("other entries should not be rate limited")
	}
}

func TestRateLimiter_GlobalLimit(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		Global: &RateLimit{Max: 2, Window: time.Minute},
	})

	for _, entry := range []string{"work", "deploy"} {
		fc := signContext(entry)
		if err := f.Process(context.Background(), fc); err != nil {
			t.Fatal(err)
		}
		if fc.Halted {
			t.Errorf("request for %s should not be rate limited", entry)
		}
	}

	// 3rd request should hit global limit
	fc := signContext("another")
	if err := f.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if !fc.Halted {
		t.Error("3rd request should hit global rate limit")
	}
	if fc.MatchedRule != "rate_limit:global" {
		t.Errorf("expected rule rate_limit:global, got %s", fc.MatchedRule)
	}
}

func TestRateLimiter_WindowExpiry(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		PerEntry: map[string]*RateLimit{
			"deploy": {Max: 1, Window: time.Minute},
		},
	})
	clock := time.Now()
	f.now = func() time.Time { return clock }

	fc := signContext("deploy")
	f.Process(context.Background(), fc)
	if fc.Halted {
		t.Error("first request should be allowed")
	}

	fc = signContext("deploy")
	f.Process(context.Background(), fc)
	if !fc.Halted {
		t.Error("second request should be rate limited")
	}

	clock = clock.Add(61 * time.Second)

	fc = signContext("deploy")
	f.Process(context.Background(), fc)
	if fc.Halted {
		t.Error("request after window expiry should be allowed")
	}
}

func TestRateLimiter_SkipNonSignRequests(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		Global: &RateLimit{Max: 1, Window: time.Minute},
	})

	for range 3 {
		fc := NewFilterContext("c1", agentproto.RequestIdentities())
		f.Process(context.Background(), fc)
		if fc.Halted {
			t.Error("identity requests should not be rate limited")
		}
	}
}

func TestRateLimiter_SkipHalted(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		Global: &RateLimit{Max: 1, Window: time.Minute},
	})

	fc := signContext("")
	fc.Deny(policy.DefaultRule, "not listed") // Already denied by policy
	f.Process(context.Background(), fc)
	if fc.MatchedRule != policy.DefaultRule {
		t.Error("halted requests should not be processed by rate limiter")
	}

	// Should not have consumed the only token
	fc = signContext("work")
	f.Process(context.Background(), fc)
	if fc.Halted {
		t.Error("denied requests must not consume rate limit tokens")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	f := NewRateLimitFilter(RateLimitConfig{
		PerEntry: map[string]*RateLimit{
			"deploy": {Max: 1, Window: time.Minute},
		},
	})

	// Use up the limit
	f.Process(context.Background(), signContext("deploy"))

	f.Reset()

	fc := signContext("deploy")
	f.Process(context.Background(), fc)
	if fc.Halted {
		t.Error("request after reset should be allowed")
	}
}

func TestRateLimitConfigFromPolicy(t *testing.T) {
	cfg, err := RateLimitConfigFromPolicy(nil)
	if err != nil || cfg != nil {
		t.Error("expected nil for nil settings")
	}

	cfg, err = RateLimitConfigFromPolicy(&policy.RateLimitSettings{
		Global:   &policy.RateLimitRule{Max: 10, Window: "1m"},
		PerEntry: map[string]*policy.RateLimitRule{"deploy": {Max: 2, Window: "30s"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Global.Max != 10 || cfg.Global.Window != time.Minute {
		t.Errorf("unexpected global limit %+v", cfg.Global)
	}
	if cfg.PerEntry["deploy"].Window != 30*time.Second {
		t.Errorf("unexpected per-entry limit %+v", cfg.PerEntry["deploy"])
	}

	for _, bad := range []*policy.RateLimitRule{
		{Max: 1, Window: "soon"},
		{Max: 0, Window: "1m"},
		{Max: 1, Window: "-1m"},
	} {
		if _, err := RateLimitConfigFromPolicy(&policy.RateLimitSettings{Global: bad}); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}
}
