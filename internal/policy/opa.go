package policy

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/open-policy-agent/opa/topdown"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// regoMatcher evaluates a Rego query against the identity. The entry
// matches when the query is defined and every expression is true.
//
// Input available to the query:
//
//	input.comment: string
//	input.fingerprint: string (SHA256:...)
//	input.legacy_fingerprint: string (MD5 hex)
//	input.key_type: string
//	input.key: string (base64 key blob)
//
// Rules from settings.opa_policy are available under their package, for
// example data.sshagentguard.allowed.
type regoMatcher struct {
	query rego.PreparedEvalQuery
}

func newRegoMatcher(query, source string) (*regoMatcher, error) {
	opts := []func(*rego.Rego){
		rego.Query(query),
		rego.Store(inmem.New()),
	}
	if source != "" {
		// Parse to validate
		if _, err := ast.ParseModuleWithOpts("policy.rego", source, ast.ParserOptions{RegoVersion: ast.RegoV1}); err != nil {
			return nil, fmt.Errorf("parsing Rego policy: %w", err)
		}
		opts = append(opts, rego.Module("policy.rego", source))
	}

	pq, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("preparing Rego query: %w", err)
	}
	return &regoMatcher{query: pq}, nil
}

func (m *regoMatcher) Match(ctx context.Context, id *agentproto.Identity) (bool, error) {
	input := map[string]any{
		"comment":            id.Comment,
		"fingerprint":        id.Fingerprint(),
		"legacy_fingerprint": id.LegacyFingerprint(),
		"key_type":           id.KeyType(),
		"key":                base64.StdEncoding.EncodeToString(id.Blob),
	}

	rs, err := m.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		if topdown.IsError(err) {
			return false, fmt.Errorf("Rego evaluation error: %w", err)
		}
		return false, fmt.Errorf("Rego evaluation failed: %w", err)
	}

	// Undefined
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	for _, expr := range rs[0].Expressions {
		b, ok := expr.Value.(bool)
		if !ok {
			return false, fmt.Errorf("Rego query %q returned %T, expected boolean", expr.Text, expr.Value)
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}
