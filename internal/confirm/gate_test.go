package confirm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
	"github.com/tkingovr/ssh-agent-guard/internal/approval"
	"github.com/tkingovr/ssh-agent-guard/internal/confirm/confirmtest"
	"github.com/tkingovr/ssh-agent-guard/internal/policy"
	"github.com/tkingovr/ssh-agent-guard/internal/wire"
)

func pending(comment string) *PendingConfirmation {
	return &PendingConfirmation{ConnID: "c1", Comment: comment, Fingerprint: "SHA256:abc"}
}

func TestGateOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		prompter *confirmtest.FixedPrompter
		want     Outcome
	}{
		{name: "granted", prompter: &confirmtest.FixedPrompter{Answer: true}, want: Granted},
		{name: "denied", prompter: &confirmtest.FixedPrompter{Answer: false}, want: Denied},
		{name: "backend error", prompter: &confirmtest.FixedPrompter{Answer: true, Err: errors.New("no display")}, want: Denied},
		{name: "timeout", prompter: &confirmtest.FixedPrompter{Answer: true, Delay: time.Second}, want: TimedOut},
		{name: "prompter timeout", prompter: &confirmtest.FixedPrompter{Err: ErrTimeout}, want: TimedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGate(tt.prompter, WithTimeout(50*time.Millisecond))
			assert.Equal(t, tt.want, g.Confirm(context.Background(), pending("k")))
		})
	}
}

func TestGateSerializesPrompts(t *testing.T) {
	p := &confirmtest.FixedPrompter{Answer: true, Delay: 20 * time.Millisecond}
	g := NewGate(p)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 5)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = g.Confirm(context.Background(), pending("k"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, p.MaxConcurrent())
	assert.Len(t, p.Prompts(), 5)
	for _, o := range outcomes {
		assert.Equal(t, Granted, o)
	}
}

func TestGateWaiterGivesUp(t *testing.T) {
	p := &confirmtest.FixedPrompter{Answer: true, Delay: 200 * time.Millisecond}
	g := NewGate(p)

	go g.Confirm(context.Background(), pending("first"))
	require.Eventually(t, func() bool { return len(p.Prompts()) == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, Denied, g.Confirm(ctx, pending("second")))
	assert.Len(t, p.Prompts(), 1, "second caller must not reach the prompt")
}

func TestGatePromptText(t *testing.T) {
	p := &confirmtest.FixedPrompter{Answer: true}
	g := NewGate(p, WithName("work"), WithFields([]string{policy.FieldFingerprint, policy.FieldUser}))

	pc := pending("deploy@ci")
	pc.Data = &agentproto.SignData{Kind: agentproto.SignDataUserAuth, User: "git"}
	g.Confirm(context.Background(), pc)

	require.Len(t, p.Prompts(), 1)
	text := p.Prompts()[0]
	assert.True(t, strings.HasPrefix(text, `[work] Allow use of key "deploy@ci"?`))
	assert.Contains(t, text, "Key fingerprint: SHA256:abc")
	assert.Contains(t, text, "Request to authenticate as: git")
}

func TestPendingConfirmationText(t *testing.T) {
	pc := &PendingConfirmation{
		Comment: "",
		KeyType: "ssh-ed25519",
		Flags:   agentproto.SignFlagRSASHA512,
		Data:    &agentproto.SignData{Kind: agentproto.SignDataSSHSig, Namespace: "git"},
	}
	text := pc.Text("", []string{policy.FieldNamespace, policy.FieldKeyType, policy.FieldFlags, policy.FieldUser})
	assert.Equal(t, "Allow use of key \"(no comment)\"?\n"+
		"Signature namespace: git\n"+
		"Key type: ssh-ed25519\n"+
		"Flags: rsa-sha2-512", text)

	// Unknown sign data still renders.
	assert.Equal(t, `Allow use of key "x"?`, (&PendingConfirmation{Comment: "x"}).Text("", DefaultFields))
}

func TestPendingConfirmationTextEscapesRemoteFields(t *testing.T) {
	w := wire.NewWriter(0)
	require.NoError(t, w.PutString([]byte("session-id")))
	w.PutByte(50)
	require.NoError(t, w.PutText("git\nKey fingerprint: SHA256:TRUSTED-LOOKING"))
	require.NoError(t, w.PutText("ssh-connection\r"))
	require.NoError(t, w.PutText("publickey"))
	w.PutBool(true)
	require.NoError(t, w.PutText("ssh-ed25519"))
	require.NoError(t, w.PutString([]byte("blob")))

	id := &agentproto.Identity{Blob: []byte("blob"), Comment: "deploy"}
	pc := NewPendingConfirmation("c1", id, &agentproto.SignRequest{KeyBlob: id.Blob, Data: w.Bytes()}, "deploy")
	require.Equal(t, agentproto.SignDataUserAuth, pc.Data.Kind)

	text := pc.Text("", []string{policy.FieldUser, policy.FieldService, policy.FieldAlgorithm})
	lines := strings.Split(text, "\n")
	require.Len(t, lines, 4, "remote values must not add prompt lines: %q", text)
	assert.Equal(t, `Request to authenticate as: "git\nKey fingerprint: SHA256:TRUSTED-LOOKING"`, lines[1])
	assert.Equal(t, `Service: "ssh-connection\r"`, lines[2])
	assert.Equal(t, "Signature algorithm: ssh-ed25519", lines[3])
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "askpass")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestAskpassPrompter(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}

	ok, err := NewAskpassPrompter(writeScript(t, `[ "$SSH_ASKPASS_PROMPT" = confirm ] || exit 2`)).Ask(context.Background(), "ok?")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewAskpassPrompter(writeScript(t, "exit 1")).Ask(context.Background(), "ok?")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = NewAskpassPrompter(filepath.Join(t.TempDir(), "missing")).Ask(context.Background(), "ok?")
	assert.Error(t, err)
}

func TestAskpassPrompterTimeout(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	g := NewGate(NewAskpassPrompter(writeScript(t, "sleep 5")), WithTimeout(50*time.Millisecond))
	assert.Equal(t, TimedOut, g.Confirm(context.Background(), pending("k")))
}

func TestAskpassProgramSelection(t *testing.T) {
	t.Setenv("SSH_ASKPASS", "/usr/bin/env-askpass")
	assert.Equal(t, "/opt/custom", NewAskpassPrompter("/opt/custom").Program)
	assert.Equal(t, "/usr/bin/env-askpass", NewAskpassPrompter("").Program)

	t.Setenv("SSH_ASKPASS", "")
	assert.Equal(t, DefaultAskpass, NewAskpassPrompter("").Program)
}

func TestAskLine(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: " yes \n", want: true},
		{input: "yes", want: true},
		{input: "n\n", want: false},
		{input: "\n", want: false},
		{input: "yep\n", want: false},
	}
	for _, tt := range tests {
		var out strings.Builder
		got, err := askLine(strings.NewReader(tt.input), &out, "Allow?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Allow? [y/N] ", out.String())
	}

	_, err := askLine(strings.NewReader(""), &strings.Builder{}, "Allow?")
	assert.Error(t, err)
}

func TestTTYPrompterNotATerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	_, err := (&TTYPrompter{Path: path}).Ask(context.Background(), "ok?")
	assert.ErrorContains(t, err, "not a terminal")
}

func TestQueuePrompter(t *testing.T) {
	q := approval.NewQueue(time.Second)
	g := NewGate(&QueuePrompter{Queue: q})

	done := make(chan Outcome)
	go func() {
		pc := pending("deploy")
		pc.Rule = "deploy-entry"
		done <- g.Confirm(context.Background(), pc)
	}()

	var reqs []*approval.Request
	require.Eventually(t, func() bool {
		reqs = q.Pending()
		return len(reqs) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "deploy", reqs[0].Key)
	assert.Equal(t, "deploy-entry", reqs[0].Rule)
	assert.Contains(t, reqs[0].Text, `"deploy"`)

	require.NoError(t, q.Approve(reqs[0].ID))
	assert.Equal(t, Granted, <-done)
}

func TestQueuePrompterTimeout(t *testing.T) {
	q := approval.NewQueue(20 * time.Millisecond)
	g := NewGate(&QueuePrompter{Queue: q})
	assert.Equal(t, TimedOut, g.Confirm(context.Background(), pending("k")))
}

func TestNewPrompter(t *testing.T) {
	p, err := NewPrompter("", "/bin/true", nil)
	require.NoError(t, err)
	assert.IsType(t, &AskpassPrompter{}, p)

	p, err = NewPrompter("tty", "", nil)
	require.NoError(t, err)
	assert.IsType(t, &TTYPrompter{}, p)

	_, err = NewPrompter("dashboard", "", nil)
	assert.Error(t, err)

	p, err = NewPrompter("dashboard", "", approval.NewQueue(time.Second))
	require.NoError(t, err)
	assert.IsType(t, &QueuePrompter{}, p)

	_, err = NewPrompter("smoke-signal", "", nil)
	assert.Error(t, err)
}
