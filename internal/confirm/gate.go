// Package confirm asks the user to approve individual signatures.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single prompt.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned by prompters that enforce their own deadline.
var ErrTimeout = errors.New("confirmation timed out")

// Outcome is the terminal result of a confirmation.
type Outcome int

const (
	Denied Outcome = iota
	Granted
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case TimedOut:
		return "timed_out"
	default:
		return "denied"
	}
}

// Prompter presents text to the user and reports their answer.
type Prompter interface {
	Ask(ctx context.Context, text string) (bool, error)
}

// PendingPrompter is implemented by prompters that can use the structured
// request, not only the rendered text.
type PendingPrompter interface {
	AskPending(ctx context.Context, pc *PendingConfirmation, text string) (bool, error)
}

// Gate serializes confirmation prompts. Only one prompt is shown at a time;
// other callers wait their turn or give up when their context ends.
type Gate struct {
	prompter Prompter
	timeout  time.Duration
	name     string
	fields   []string
	logger   *slog.Logger

	sem chan struct{}
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout sets the per-prompt timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithName sets the agent name shown at the start of each prompt.
func WithName(name string) Option {
	return func(g *Gate) { g.name = name }
}

// WithFields selects the extra details shown in each prompt.
func WithFields(fields []string) Option {
	return func(g *Gate) { g.fields = fields }
}

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// NewGate creates a gate that asks through p.
func NewGate(p Prompter, opts ...Option) *Gate {
	g := &Gate{
		prompter: p,
		timeout:  DefaultTimeout,
		fields:   DefaultFields,
		logger:   slog.New(slog.DiscardHandler),
		sem:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Confirm shows one prompt for pc and blocks until the user answers, the
// prompt times out, or ctx ends. Every call returns a terminal outcome.
func (g *Gate) Confirm(ctx context.Context, pc *PendingConfirmation) Outcome {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return Denied
	}
	defer func() { <-g.sem }()

	pctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	text := pc.Text(g.name, g.fields)
	start := time.Now()

	var ok bool
	var err error
	if pp, isPending := g.prompter.(PendingPrompter); isPending {
		ok, err = pp.AskPending(pctx, pc, text)
	} else {
		ok, err = g.prompter.Ask(pctx, text)
	}

	outcome := Denied
	switch {
	case errors.Is(err, ErrTimeout),
		ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded):
		outcome = TimedOut
	case err != nil:
		g.logger.Warn("confirmation prompt failed", "comment", pc.Comment, "error", err)
	case ok:
		outcome = Granted
	}

	g.logger.Info("confirmation",
		"conn_id", pc.ConnID,
		"comment", pc.Comment,
		"outcome", outcome.String(),
		"duration", time.Since(start),
	)
	return outcome
}
