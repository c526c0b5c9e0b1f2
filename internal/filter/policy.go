package filter

import (
	"context"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

// Permitter evaluates an identity against the allow-list.
type Permitter interface {
	Permits(ctx context.Context, id *agentproto.Identity) *policy.EvalResult
}

// PolicyFilter evaluates the request's identity against the allow-list.
type PolicyFilter struct {
	allowlist Permitter
}

func NewPolicyFilter(allowlist Permitter) *PolicyFilter {
	return &PolicyFilter{allowlist: allowlist}
}

func (f *PolicyFilter) Name() string { return "policy" }

func (f *PolicyFilter) Process(ctx context.Context, fc *FilterContext) error {
	if fc.Halted || fc.Identity == nil {
		return nil
	}

	result := f.allowlist.Permits(ctx, fc.Identity)
	fc.Verdict = result.Verdict
	fc.MatchedRule = result.Rule
	fc.VerdictMessage = result.Message

	if fc.Verdict == api.VerdictDeny {
		fc.Halted = true
	}
	return nil
}
