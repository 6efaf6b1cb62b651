// Package stdio runs the agent as an interactive prompt on standard
// input and output.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fightiq/octagon/pkg/transports"
)

type Transport struct {
	runner transports.Runner
	in     io.Reader
	out    io.Writer
	log    *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func New(runner transports.Runner, in io.Reader, out io.Writer, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		runner: runner,
		in:     in,
		out:    out,
		log:    log,
		done:   make(chan struct{}),
	}
}

func (t *Transport) Name() string { return "stdio" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)
	return nil
}

func (t *Transport) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	return nil
}

// Done is closed when input is exhausted.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) loop(ctx context.Context) {
	defer close(t.done)
	scanner := bufio.NewScanner(t.in)
	fmt.Fprint(t.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			fmt.Fprint(t.out, "> ")
			continue
		}
		t.handleQuery(ctx, query)
		fmt.Fprint(t.out, "> ")
	}
}

func (t *Transport) handleQuery(ctx context.Context, query string) {
	streamed := false
	outcome, err := t.runner.Run(ctx, query, transports.RunOptions{
		OnDelta: func(chunk string) {
			streamed = true
			fmt.Fprint(t.out, chunk)
		},
	})
	if err != nil {
		fmt.Fprintf(t.out, "error: %v\n", err)
		return
	}
	if streamed {
		fmt.Fprintln(t.out)
		return
	}
	fmt.Fprintln(t.out, outcome.Answer)
}
