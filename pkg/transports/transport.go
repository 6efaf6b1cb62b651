// Package transports defines the boundary between user-facing I/O and
// the agent loop.
package transports

import (
	"context"

	"github.com/fightiq/octagon/pkg/agent"
)

// Runner executes one query through the agent. Implementations build a
// run with the given per-query hooks attached.
type Runner interface {
	Run(ctx context.Context, query string, opts RunOptions) (agent.Outcome, error)
}

// RunOptions carries per-query hooks a transport wants on the run.
type RunOptions struct {
	// OnDelta receives finalize-phase text chunks as they stream in.
	OnDelta func(chunk string)
	// Listener observes the run's state transitions.
	Listener agent.StateListener
}

// Transport owns its own network lifecycle and feeds queries to a Runner.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}
