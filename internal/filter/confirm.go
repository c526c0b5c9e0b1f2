package filter

import (
	"context"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/confirm"
)

// Confirmer asks the user about one pending signature.
type Confirmer interface {
	Confirm(ctx context.Context, pc *confirm.PendingConfirmation) confirm.Outcome
}

// ConfirmFilter asks the user before a confirm-only key is used. Without a
// gate such keys are refused.
type ConfirmFilter struct {
	gate Confirmer
}

func NewConfirmFilter(gate Confirmer) *ConfirmFilter {
	return &ConfirmFilter{gate: gate}
}

func (f *ConfirmFilter) Name() string { return "confirm" }

func (f *ConfirmFilter) Process(ctx context.Context, fc *FilterContext) error {
	if fc.Halted || fc.Verdict != api.VerdictConfirm {
		return nil
	}

	if f.gate == nil {
		fc.Confirmation = confirm.Denied.String()
		fc.Deny(fc.MatchedRule, "no confirmation method configured")
		return nil
	}

	pc := confirm.NewPendingConfirmation(fc.ConnID, fc.Identity, fc.SignRequest, fc.MatchedRule)
	outcome := f.gate.Confirm(ctx, pc)
	fc.Confirmation = outcome.String()

	if outcome != confirm.Granted {
		fc.Deny(fc.MatchedRule, "confirmation "+outcome.String())
	}
	return nil
}
