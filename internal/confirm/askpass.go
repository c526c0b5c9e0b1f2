package confirm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultAskpass is used when neither a program nor $SSH_ASKPASS is set.
const DefaultAskpass = "ssh-askpass"

// AskpassPrompter runs an ssh-askpass compatible program in confirm mode.
// Exit status 0 means the user accepted.
type AskpassPrompter struct {
	Program string
}

// NewAskpassPrompter picks the program: the configured one, then
// $SSH_ASKPASS, then DefaultAskpass.
func NewAskpassPrompter(program string) *AskpassPrompter {
	if program == "" {
		program = os.Getenv("SSH_ASKPASS")
	}
	if program == "" {
		program = DefaultAskpass
	}
	return &AskpassPrompter{Program: program}
}

func (p *AskpassPrompter) Ask(ctx context.Context, text string) (bool, error) {
	cmd := exec.CommandContext(ctx, p.Program, text)
	cmd.Env = append(os.Environ(), "SSH_ASKPASS_PROMPT=confirm")
	// Let stderr pass through to our stderr
	cmd.Stderr = os.Stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("running askpass program %q: %w", p.Program, err)
}
