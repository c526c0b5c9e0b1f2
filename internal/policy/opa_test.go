package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

const testRegoPolicy = `package sshagentguard

import rego.v1

default allowed := false

allowed if {
	input.key_type == "ssh-ed25519"
	startswith(input.comment, "ci-")
}

broken = "a" if {
	input.comment != ""
}

broken = "b" if {
	input.comment != ""
}
`

func regoAllowlist(t *testing.T, query string) *Allowlist {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o600); err != nil {
		t.Fatal(err)
	}
	return mustAllowlist(t, &PolicyFile{
		Version:  1,
		Settings: Settings{OPAPolicy: path},
		Allow: []Entry{
			{Name: "rego", Match: EntryMatch{Rego: query}},
		},
	})
}

func TestRego_PolicyRule(t *testing.T) {
	a := regoAllowlist(t, "data.sshagentguard.allowed")

	result := a.Permits(context.Background(), identity(t, "ci-runner"))
	if result.Verdict != api.VerdictAllow {
		t.Errorf("expected allow, got %s (rule: %s)", result.Verdict, result.Rule)
	}
	if result.Rule != "rego" {
		t.Errorf("expected rule rego, got %s", result.Rule)
	}

	result = a.Permits(context.Background(), identity(t, "laptop"))
	if result.Verdict != api.VerdictDeny {
		t.Errorf("expected deny, got %s", result.Verdict)
	}
}

func TestRego_InlineQuery(t *testing.T) {
	a := mustAllowlist(t, &PolicyFile{
		Version: 1,
		Allow: []Entry{
			{Name: "inline", Match: EntryMatch{Rego: `input.comment == "exact"`}, Confirm: true},
		},
	})

	if v := a.Permits(context.Background(), identity(t, "exact")).Verdict; v != api.VerdictConfirm {
		t.Errorf("expected confirm, got %s", v)
	}
	if v := a.Permits(context.Background(), identity(t, "other")).Verdict; v != api.VerdictDeny {
		t.Errorf("expected deny, got %s", v)
	}
}

func TestRego_ErrorIsNonMatch(t *testing.T) {
	a := regoAllowlist(t, "data.sshagentguard.broken")

	if v := a.Permits(context.Background(), identity(t, "ci-runner")).Verdict; v != api.VerdictDeny {
		t.Errorf("expected deny on evaluation error, got %s", v)
	}
}

func TestRego_NonBooleanIsNonMatch(t *testing.T) {
	m, err := newRegoMatcher("input.comment", "")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.Match(context.Background(), &agentproto.Identity{Comment: "c"})
	if ok {
		t.Error("expected no match for non-boolean result")
	}
	if err == nil {
		t.Error("expected error for non-boolean result")
	}
}

func TestRego_InvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rego")
	if err := os.WriteFile(path, []byte("this is not valid rego {{{"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewAllowlistFromPolicy(&PolicyFile{
		Version:  1,
		Settings: Settings{OPAPolicy: path},
		Allow:    []Entry{{Name: "r", Match: EntryMatch{Rego: "data.x.y"}}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for invalid Rego")
	}
}
