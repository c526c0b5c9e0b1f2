package filter

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log/slog"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/tkingovr/ssh-agent-guard/api"
	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/audit"
	"github.com/tkingovr/ssh-agent-guard/internal/confirm"
	"github.com/tkingovr/ssh-agent-guard/internal/confirm/confirmtest"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// mapResolver resolves blobs from a fixed set of identities.
type mapResolver map[string]*agentproto.Identity

func (m mapResolver) Resolve(blob []byte) *agentproto.Identity {
	if id, ok := m[string(blob)]; ok {
		return id
	}
	return &agentproto.Identity{Blob: blob}
}

func newIdentity(t *testing.T, comment string) *agentproto.Identity {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	pk, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return &agentproto.Identity{Blob: pk.Marshal(), Comment: comment}
}

func signBody(t *testing.T, blob []byte) []byte {
	t.Helper()
	body, err := (&agentproto.SignRequest{KeyBlob: blob, Data: []byte("data")}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return body
}

func testAllowlist(t *testing.T) *policy.Allowlist {
	t.Helper()
	a, err := policy.NewAllowlistFromPolicy(&policy.PolicyFile{
		Version: 1,
		Allow: []policy.Entry{
			{Name: "work", Match: policy.EntryMatch{Comment: "work"}},
			{Name: "deploy", Match: policy.EntryMatch{CommentPrefix: "deploy-"}, Confirm: true},
		},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFilterChain_ParseAndPolicy(t *testing.T) {
	work := newIdentity(t, "work")
	personal := newIdentity(t, "personal")
	resolver := mapResolver{string(work.Blob): work, string(personal.Blob): personal}

	chain := NewChain(newTestLogger(),
		NewParseFilter(resolver),
		NewPolicyFilter(testAllowlist(t)),
	)

	// Allowed key
	fc := NewFilterContext("c1", signBody(t, work.Blob))
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != api.VerdictAllow {
		t.Errorf("expected allow, got %s", fc.Verdict)
	}
	if fc.Halted {
		t.Error("expected not halted for allow")
	}
	if fc.Identity != work {
		t.Error("expected identity to be resolved")
	}

	// Key not on the allow-list
	fc = NewFilterContext("c1", signBody(t, personal.Blob))
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != api.VerdictDeny {
		t.Errorf("expected deny, got %s", fc.Verdict)
	}
	if !fc.Halted {
		t.Error("expected halted for deny")
	}
	if fc.MatchedRule != policy.DefaultRule {
		t.Errorf("expected rule %s, got %s", policy.DefaultRule, fc.MatchedRule)
	}
}

func TestFilterChain_UnknownKeyDenied(t *testing.T) {
	chain := NewChain(newTestLogger(),
		NewParseFilter(mapResolver{}),
		NewPolicyFilter(testAllowlist(t)),
	)

	fc := NewFilterContext("c1", signBody(t, newIdentity(t, "").Blob))
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != api.VerdictDeny {
		t.Errorf("expected deny for unknown key, got %s", fc.Verdict)
	}
}

func TestFilterChain_Malformed(t *testing.T) {
	chain := NewChain(newTestLogger(),
		NewParseFilter(mapResolver{}),
		NewPolicyFilter(testAllowlist(t)),
	)

	fc := NewFilterContext("c1", []byte{byte(agentproto.MsgSignRequest), 0, 0, 0, 9})
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != api.VerdictDeny || fc.MatchedRule != "_malformed" {
		t.Errorf("expected _malformed deny, got %s/%s", fc.Verdict, fc.MatchedRule)
	}
}

func TestFilterChain_Confirm(t *testing.T) {
	deploy := newIdentity(t, "deploy-prod")
	resolver := mapResolver{string(deploy.Blob): deploy}

	tests := []struct {
		name       string
		answer     bool
		want       api.Verdict
		wantHalted bool
	}{
		{name: "granted", answer: true, want: api.VerdictConfirm, wantHalted: false},
		{name: "denied", answer: false, want: api.VerdictDeny, wantHalted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := &confirmtest.FixedPrompter{Answer: tt.answer}
			chain := BuildSignChain(ChainConfig{
				Allowlist: testAllowlist(t),
				Resolver:  resolver,
				Gate:      confirm.NewGate(prompter),
				Logger:    newTestLogger(),
			})

			fc := NewFilterContext("c1", signBody(t, deploy.Blob))
			if err := chain.Process(context.Background(), fc); err != nil {
				t.Fatal(err)
			}
			if fc.Verdict != tt.want {
				t.Errorf("expected %s, got %s", tt.want, fc.Verdict)
			}
			if fc.Halted != tt.wantHalted {
				t.Errorf("expected halted=%v", tt.wantHalted)
			}
			if len(prompter.Prompts()) != 1 {
				t.Errorf("expected one prompt, got %d", len(prompter.Prompts()))
			}
			if fc.MatchedRule != "deploy" {
				t.Errorf("expected rule deploy, got %s", fc.MatchedRule)
			}
		})
	}
}

func TestFilterChain_NoPromptForDeniedKey(t *testing.T) {
	prompter := &confirmtest.FixedPrompter{Answer: true}
	chain := BuildSignChain(ChainConfig{
		Allowlist: testAllowlist(t),
		Resolver:  mapResolver{},
		Gate:      confirm.NewGate(prompter),
	})

	fc := NewFilterContext("c1", signBody(t, newIdentity(t, "x").Blob))
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if len(prompter.Prompts()) != 0 {
		t.Error("denied keys must not trigger a prompt")
	}
}

func TestFilterChain_Audit(t *testing.T) {
	store, err := audit.NewJSONLStore("")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	work := newIdentity(t, "work")
	fc := NewFilterContext("conn-7", signBody(t, work.Blob))
	fc.Identity = work
	fc.Verdict = api.VerdictAllow
	fc.MatchedRule = "work"
	fc.Upstream = true

	chain := BuildAuditChain(ChainConfig{AuditStore: store, Logger: newTestLogger()})
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}

	records, err := store.Query(context.Background(), api.QueryFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].ConnID != "conn-7" || records[0].Key != "work" || !records[0].Upstream {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestFilterContext_ToAuditRecord(t *testing.T) {
	id := newIdentity(t, "work")
	raw := signBody(t, id.Blob)
	fc := NewFilterContext("c1", raw)
	fc.Identity = id
	fc.Verdict = api.VerdictConfirm
	fc.MatchedRule = "test-rule"
	fc.Confirmation = "granted"

	record := fc.ToAuditRecord()
	if record.Method != "sign_request" {
		t.Errorf("expected method sign_request, got %s", record.Method)
	}
	if record.Key != "work" {
		t.Errorf("expected key work, got %s", record.Key)
	}
	if record.Fingerprint != id.Fingerprint() {
		t.Errorf("expected fingerprint %s, got %s", id.Fingerprint(), record.Fingerprint)
	}
	if record.Confirmation != "granted" {
		t.Errorf("expected confirmation granted, got %s", record.Confirmation)
	}
	if record.RawSize != len(raw) {
		t.Errorf("expected raw size %d, got %d", len(raw), record.RawSize)
	}
}

func TestFilterChain_SkipsOtherMessages(t *testing.T) {
	chain := BuildSignChain(ChainConfig{Allowlist: testAllowlist(t), Resolver: mapResolver{}})
	fc := NewFilterContext("c1", agentproto.RequestIdentities())
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != "" || fc.Halted {
		t.Errorf("identity requests must pass through untouched, got %s", fc.Verdict)
	}
}

func TestFilterChain_ConfirmWithoutGateDenies(t *testing.T) {
	deploy := newIdentity(t, "deploy-prod")
	chain := BuildSignChain(ChainConfig{
		Allowlist: testAllowlist(t),
		Resolver:  mapResolver{string(deploy.Blob): deploy},
	})

	fc := NewFilterContext("c1", signBody(t, deploy.Blob))
	if err := chain.Process(context.Background(), fc); err != nil {
		t.Fatal(err)
	}
	if fc.Verdict != api.VerdictDeny || !fc.Halted {
		t.Errorf("confirm entries must be refused without a gate, got %s", fc.Verdict)
	}
}
