package filter

import (
	"context"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// IdentityResolver maps a key blob to the identity last reported for it by
// the upstream agent.
type IdentityResolver interface {
	Resolve(blob []byte) *agentproto.Identity
}

// ParseFilter decodes sign requests and resolves the key they name.
type ParseFilter struct {
	resolver IdentityResolver
}

func NewParseFilter(resolver IdentityResolver) *ParseFilter {
	return &ParseFilter{resolver: resolver}
}

func (f *ParseFilter) Name() string { return "parse" }

func (f *ParseFilter) Process(_ context.Context, fc *FilterContext) error {
	if fc.Type != agentproto.MsgSignRequest || fc.Halted {
		return nil
	}

	sr, err := agentproto.ParseSignRequest(fc.Raw[1:])
	if err != nil {
		fc.Deny("_malformed", err.Error())
		return nil
	}
	fc.SignRequest = sr
	fc.Identity = f.resolver.Resolve(sr.KeyBlob)
	return nil
}
