// Package dispatch answers agent requests: identity lists are filtered,
// sign requests are checked before being forwarded, and everything else is
// answered locally.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/filter"
	"github.com/tkingovr/ssh-agent-guard/internal/upstream"
)

// Rule names for decisions made without the allow-list.
const (
	RuleUpstream  = "_upstream"
	RuleSSH1Stub  = "_ssh1_stub"
	RuleRefused   = "_refused"
	RuleUnknown   = "_unknown"
	RuleFilterErr = "_filter_error"
)

// Config holds the dispatcher's collaborators.
type Config struct {
	Upstream   upstream.Forwarder
	Allowlist  filter.Permitter
	Gate       filter.Confirmer
	AuditStore audit.Store
	RateLimit  *filter.RateLimitConfig
	Logger     *slog.Logger
}

// Dispatcher routes each request by opcode. It holds no per-connection
// state and is safe for concurrent use.
type Dispatcher struct {
	upstream   upstream.Forwarder
	allowlist  filter.Permitter
	index      *IdentityIndex
	signChain  *filter.Chain
	auditChain *filter.Chain
	logger     *slog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	index := NewIdentityIndex()
	chainCfg := filter.ChainConfig{
		Allowlist:  cfg.Allowlist,
		Resolver:   index,
		Gate:       cfg.Gate,
		AuditStore: cfg.AuditStore,
		Logger:     logger,
		RateLimit:  cfg.RateLimit,
	}
	return &Dispatcher{
		upstream:   cfg.Upstream,
		allowlist:  cfg.Allowlist,
		index:      index,
		signChain:  filter.BuildSignChain(chainCfg),
		auditChain: filter.BuildAuditChain(chainCfg),
		logger:     logger,
	}
}

// Index exposes the identity index.
func (d *Dispatcher) Index() *IdentityIndex {
	return d.index
}

// Prime lists the upstream identities once, fills the index and logs the
// decision for each key.
func (d *Dispatcher) Prime(ctx context.Context) ([]*agentproto.Identity, error) {
	ids, err := upstream.ListIdentities(ctx, d.upstream)
	if err != nil {
		return nil, fmt.Errorf("listing upstream identities: %w", err)
	}
	d.index.Update(ids)
	for _, id := range ids {
		result := d.allowlist.Permits(ctx, id)
		d.logger.Info("upstream identity",
			"comment", id.Comment,
			"fingerprint", id.Fingerprint(),
			"verdict", result.Verdict,
			"rule", result.Rule,
		)
	}
	return ids, nil
}

// Handle answers one request body (opcode + payload). The returned error
// is reserved for failures to encode our own response; the caller should
// then drop the connection.
func (d *Dispatcher) Handle(ctx context.Context, connID string, body []byte) ([]byte, error) {
	fc := filter.NewFilterContext(connID, body)

	var resp []byte
	var err error
	switch fc.Type {
	case agentproto.MsgRequestIdentities:
		resp, err = d.handleIdentities(ctx, fc)

	case agentproto.MsgSignRequest:
		resp = d.handleSign(ctx, fc)

	case agentproto.MsgRequestRSAIdentities:
		fc.Verdict = api.VerdictAllow
		fc.MatchedRule = RuleSSH1Stub
		resp = agentproto.EmptyRSAIdentitiesAnswer()

	case agentproto.MsgRemoveAllRSAIdentities:
		fc.Verdict = api.VerdictAllow
		fc.MatchedRule = RuleSSH1Stub
		resp = agentproto.SuccessResponse()

	case agentproto.MsgAddRSAIdentity,
		agentproto.MsgRemoveRSAIdentity,
		agentproto.MsgAddIdentity,
		agentproto.MsgRemoveIdentity,
		agentproto.MsgRemoveAllIdentities,
		agentproto.MsgAddSmartcardKey,
		agentproto.MsgRemoveSmartcardKey,
		agentproto.MsgLock,
		agentproto.MsgUnlock,
		agentproto.MsgAddRSAIDConstrained,
		agentproto.MsgAddIDConstrained,
		agentproto.MsgAddSmartcardKeyConstrained:
		fc.Deny(RuleRefused, "agent modification is not permitted through the filter")
		resp = agentproto.FailureResponse()

	default:
		fc.Deny(RuleUnknown, "unsupported request")
		resp = agentproto.FailureResponse()
	}

	if fc.Verdict == api.VerdictDeny {
		d.logger.Warn("request denied",
			"conn_id", connID,
			"method", fc.Type.String(),
			"rule", fc.MatchedRule,
			"message", fc.VerdictMessage,
		)
	}

	if auditErr := d.auditChain.Process(ctx, fc); auditErr != nil {
		d.logger.Error("audit filter error", "error", auditErr)
	}
	return resp, err
}

func (d *Dispatcher) handleIdentities(ctx context.Context, fc *filter.FilterContext) ([]byte, error) {
	resp, err := d.upstream.Forward(ctx, fc.Raw)
	if err != nil {
		fc.Deny(RuleUpstream, err.Error())
		return agentproto.FailureResponse(), nil
	}
	fc.Upstream = true

	ids, err := agentproto.ParseIdentitiesAnswer(resp)
	if err != nil {
		fc.Deny(RuleUpstream, fmt.Sprintf("bad identities answer: %v", err))
		return agentproto.FailureResponse(), nil
	}
	d.index.Update(ids)

	permitted := make([]*agentproto.Identity, 0, len(ids))
	for _, id := range ids {
		if d.allowlist.Permits(ctx, id).Verdict != api.VerdictDeny {
			permitted = append(permitted, id)
		}
	}

	out, err := agentproto.MarshalIdentitiesAnswer(permitted)
	if err != nil {
		fc.Deny(RuleFilterErr, err.Error())
		return nil, fmt.Errorf("encoding identities answer: %w", err)
	}

	fc.Verdict = api.VerdictAllow
	fc.VerdictMessage = fmt.Sprintf("%d of %d identities exposed", len(permitted), len(ids))
	return out, nil
}

func (d *Dispatcher) handleSign(ctx context.Context, fc *filter.FilterContext) []byte {
	if err := d.signChain.Process(ctx, fc); err != nil {
		d.logger.Error("sign filter error", "error", err)
		fc.Deny(RuleFilterErr, err.Error())
		return agentproto.FailureResponse()
	}
	if fc.Halted {
		return agentproto.FailureResponse()
	}

	// Forward the original bytes and relay the answer untouched.
	resp, err := d.upstream.Forward(ctx, fc.Raw)
	if err != nil {
		d.logger.Warn("upstream sign failed", "conn_id", fc.ConnID, "error", err)
		fc.VerdictMessage = err.Error()
		return agentproto.FailureResponse()
	}
	fc.Upstream = true
	return resp
}
