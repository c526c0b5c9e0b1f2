package policy

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// Allowlist implements first-match-wins evaluation of identities against
// the allow entries of a policy. It is immutable once built and safe for
// concurrent use.
type Allowlist struct {
	file    *PolicyFile
	entries []compiledEntry
	logger  *slog.Logger
}

type compiledEntry struct {
	entry   Entry
	matcher Matcher
}

// NewAllowlist loads a policy file and compiles its allow entries.
func NewAllowlist(path string, logger *slog.Logger) (*Allowlist, error) {
	pf, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewAllowlistFromPolicy(pf, logger)
}

// NewAllowlistFromPolicy compiles an already-loaded policy. Key files and
// the OPA policy named in settings are read here.
func NewAllowlistFromPolicy(pf *PolicyFile, logger *slog.Logger) (*Allowlist, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := Validate(pf); err != nil {
		return nil, err
	}

	var regoSource string
	if pf.Settings.OPAPolicy != "" {
		data, err := os.ReadFile(ExpandHome(pf.Settings.OPAPolicy))
		if err != nil {
			return nil, fmt.Errorf("reading OPA policy file: %w", err)
		}
		regoSource = string(data)
	}

	a := &Allowlist{file: pf, logger: logger}
	for _, entry := range pf.Allow {
		m, err := compileMatch(entry.Match, regoSource)
		if err != nil {
			return nil, fmt.Errorf("allow entry %q: %w", entry.Name, err)
		}
		a.entries = append(a.entries, compiledEntry{entry: entry, matcher: m})
	}
	return a, nil
}

func compileMatch(m EntryMatch, regoSource string) (Matcher, error) {
	switch {
	case m.Comment != "":
		return commentMatcher(m.Comment), nil
	case m.CommentPrefix != "":
		return commentPrefixMatcher(m.CommentPrefix), nil
	case m.Key != "":
		blob, err := ParsePublicKey(m.Key)
		if err != nil {
			return nil, err
		}
		return keyMatcher(blob), nil
	case m.KeyFile != "":
		blob, err := loadKeyFile(m.KeyFile)
		if err != nil {
			return nil, err
		}
		return keyMatcher(blob), nil
	case m.Fingerprint != "":
		return newFingerprintMatcher(m.Fingerprint), nil
	case m.Rego != "":
		return newRegoMatcher(m.Rego, regoSource)
	}
	return nil, fmt.Errorf("no match field set")
}

// Permits returns the verdict for an identity. The first matching entry
// decides; with no match the identity is denied under DefaultRule.
// A matcher that fails is logged and treated as not matching.
func (a *Allowlist) Permits(ctx context.Context, id *agentproto.Identity) *EvalResult {
	for _, ce := range a.entries {
		ok, err := ce.matcher.Match(ctx, id)
		if err != nil {
			a.logger.Warn("allow entry evaluation failed",
				"entry", ce.entry.Name,
				"comment", id.Comment,
				"error", err,
			)
			continue
		}
		if !ok {
			continue
		}

		verdict := api.VerdictAllow
		if ce.entry.Confirm || a.file.Settings.ConfirmAll {
			verdict = api.VerdictConfirm
		}
		msg := ce.entry.Message
		if msg == "" {
			msg = fmt.Sprintf("matched allow entry %q", ce.entry.Name)
		}
		return &EvalResult{Verdict: verdict, Rule: ce.entry.Name, Message: msg}
	}

	return &EvalResult{
		Verdict: api.VerdictDeny,
		Rule:    DefaultRule,
		Message: "identity not on the allow-list",
	}
}

// Filter returns the identities that are permitted, allowed outright or
// subject to confirmation, preserving their order.
func (a *Allowlist) Filter(ctx context.Context, ids []*agentproto.Identity) []*agentproto.Identity {
	out := make([]*agentproto.Identity, 0, len(ids))
	for _, id := range ids {
		if a.Permits(ctx, id).Verdict != api.VerdictDeny {
			out = append(out, id)
		}
	}
	return out
}

// Policy returns the loaded policy (for dashboard display).
func (a *Allowlist) Policy() *PolicyFile {
	return a.file
}

// Len returns the number of allow entries.
func (a *Allowlist) Len() int {
	return len(a.entries)
}
