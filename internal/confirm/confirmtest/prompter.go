// Package confirmtest provides a scripted confirmation prompter for tests.
package confirmtest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FixedPrompter gives the same answer to every prompt and records what it
// was asked.
type FixedPrompter struct {
	Answer bool
	Err    error
	Delay  time.Duration

	mu        sync.Mutex
	prompts   []string
	active    int
	maxActive int
}

func (p *FixedPrompter) Ask(ctx context.Context, text string) (bool, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, text)
	p.active++
	p.maxActive = max(p.maxActive, p.active)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	p.mu.Lock()
	answer := p.Answer
	p.mu.Unlock()

	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return false, fmt.Errorf("prompt abandoned: %w", ctx.Err())
		}
	}
	return answer, p.Err
}

// SetAnswer changes the answer for later prompts.
func (p *FixedPrompter) SetAnswer(answer bool) {
	p.mu.Lock()
	p.Answer = answer
	p.mu.Unlock()
}

// Prompts returns the texts shown so far.
func (p *FixedPrompter) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}

// MaxConcurrent reports the largest number of prompts open at once.
func (p *FixedPrompter) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}
