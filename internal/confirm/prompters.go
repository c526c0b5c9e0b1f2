package confirm

import (
	"context"
	"fmt"

	"github.com/tkingovr/ssh-agent-guard/internal/approval"
)

// QueuePrompter hands confirmations to the dashboard approval queue.
type QueuePrompter struct {
	Queue *approval.Queue
}

func (p *QueuePrompter) Ask(ctx context.Context, text string) (bool, error) {
	return p.AskPending(ctx, &PendingConfirmation{}, text)
}

func (p *QueuePrompter) AskPending(ctx context.Context, pc *PendingConfirmation, text string) (bool, error) {
	status, err := p.Queue.Submit(ctx, approval.Prompt{
		ConnID:      pc.ConnID,
		Key:         pc.Comment,
		Fingerprint: pc.Fingerprint,
		Rule:        pc.Rule,
		Text:        text,
	})
	if err != nil {
		return false, err
	}
	switch status {
	case approval.StatusApproved:
		return true, nil
	case approval.StatusTimedOut:
		return false, ErrTimeout
	}
	return false, nil
}

// NewPrompter builds the prompter for a configured method. The dashboard
// method needs a queue.
func NewPrompter(method, program string, queue *approval.Queue) (Prompter, error) {
	switch method {
	case "", "askpass":
		return NewAskpassPrompter(program), nil
	case "tty":
		return NewTTYPrompter(), nil
	case "dashboard":
		if queue == nil {
			return nil, fmt.Errorf("confirm method dashboard requires the dashboard to be enabled")
		}
		return &QueuePrompter{Queue: queue}, nil
	}
	return nil, fmt.Errorf("unknown confirm method %q", method)
}
