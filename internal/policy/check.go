package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// Check evaluates a hypothetical identity without talking to an agent.
// At least one of the comment and the key must be given.
func (a *Allowlist) Check(ctx context.Context, req api.CheckRequest) (*api.CheckResponse, error) {
	if req.Comment == "" && req.Key == "" {
		return nil, errors.New("a comment or a key is required")
	}

	id := &agentproto.Identity{Comment: req.Comment}
	if req.Key != "" {
		blob, err := ParsePublicKey(req.Key)
		if err != nil {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
		id.Blob = blob
	}

	result := a.Permits(ctx, id)
	resp := &api.CheckResponse{
		Verdict: result.Verdict,
		Rule:    result.Rule,
		Message: result.Message,
	}
	if id.Blob != nil {
		resp.Fingerprint = id.Fingerprint()
	}
	return resp, nil
}
