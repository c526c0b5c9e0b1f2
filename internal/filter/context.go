package filter

import (
	"time"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// FilterContext carries all metadata through the filter chain for a single request.
type FilterContext struct {
	// ConnID identifies the client connection the request arrived on.
	ConnID string

	// Raw is the request body (opcode + payload) as received.
	Raw []byte

	// Type is the request opcode.
	Type agentproto.MessageType

	// SignRequest is the decoded sign request (set by ParseFilter).
	SignRequest *agentproto.SignRequest

	// Identity is the key the request refers to (set by ParseFilter).
	Identity *agentproto.Identity

	// Verdict is set by the PolicyFilter and narrowed by later filters.
	Verdict api.Verdict

	// MatchedRule is the name of the allow entry (or internal rule) that decided.
	MatchedRule string

	// VerdictMessage is the human-readable reason for the verdict.
	VerdictMessage string

	// Confirmation is the confirmation outcome, when the user was asked.
	Confirmation string

	// Upstream records whether the request was forwarded to the real agent.
	Upstream bool

	// StartTime records when the request entered the pipeline.
	StartTime time.Time

	// Halted indicates the request must not be forwarded.
	Halted bool
}

// NewFilterContext creates a new FilterContext for a request body.
func NewFilterContext(connID string, raw []byte) *FilterContext {
	fc := &FilterContext{
		ConnID:    connID,
		Raw:       raw,
		StartTime: time.Now(),
	}
	if len(raw) > 0 {
		fc.Type = agentproto.MessageType(raw[0])
	}
	return fc
}

// Deny halts the request with the given rule and message.
func (fc *FilterContext) Deny(rule, message string) {
	fc.Verdict = api.VerdictDeny
	fc.MatchedRule = rule
	fc.VerdictMessage = message
	fc.Halted = true
}

// ToAuditRecord converts the filter context into an audit record.
func (fc *FilterContext) ToAuditRecord() *api.AuditRecord {
	rec := &api.AuditRecord{
		Timestamp:    fc.StartTime,
		ConnID:       fc.ConnID,
		Method:       fc.Type.String(),
		Verdict:      fc.Verdict,
		Rule:         fc.MatchedRule,
		Message:      fc.VerdictMessage,
		Confirmation: fc.Confirmation,
		Upstream:     fc.Upstream,
		RawSize:      len(fc.Raw),
		Duration:     time.Since(fc.StartTime),
	}
	if fc.Identity != nil {
		rec.Key = fc.Identity.Comment
		rec.Fingerprint = fc.Identity.Fingerprint()
	}
	return rec
}
