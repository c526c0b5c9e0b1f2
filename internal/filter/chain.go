package filter

import (
	"context"
	"fmt"
	"log/slog"
)

// Chain executes a sequence of filters in order.
type Chain struct {
	filters []Filter
	logger  *slog.Logger
}

// NewChain creates a new filter chain.
func NewChain(logger *slog.Logger, filters ...Filter) *Chain {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Chain{
		filters: filters,
		logger:  logger,
	}
}

// Process runs all filters in sequence on the given context.
// Once a filter sets fc.Halted, later filters see the final verdict and
// leave it alone.
func (c *Chain) Process(ctx context.Context, fc *FilterContext) error {
	for _, f := range c.filters {
		if err := f.Process(ctx, fc); err != nil {
			return fmt.Errorf("filter %q: %w", f.Name(), err)
		}
		c.logger.Debug("filter executed",
			"filter", f.Name(),
			"method", fc.Type.String(),
			"conn_id", fc.ConnID,
			"verdict", fc.Verdict,
			"halted", fc.Halted,
		)
	}
	return nil
}

// AddFilter appends a filter to the chain.
func (c *Chain) AddFilter(f Filter) {
	c.filters = append(c.filters, f)
}
