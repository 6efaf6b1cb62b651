package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/fightiq/octagon/pkg/errorsx"
	"github.com/fightiq/octagon/pkg/llm"
)

// Func executes a registered tool with validated, coerced arguments.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry holds tool descriptors and their handlers. It is populated during
// startup and read-only afterwards, so concurrent agent loops may share it
// without locking.
type Registry struct {
	order   []string
	entries map[string]entry
}

type entry struct {
	tool llm.Tool
	fn   Func
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool descriptor and its handler. The registry is left
// unchanged when registration fails.
func (r *Registry) Register(tool llm.Tool, fn Func) error {
	name := strings.TrimSpace(tool.Name)
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return fmt.Errorf("tool %q has no handler", name)
	}
	if _, ok := r.entries[name]; ok {
		return errorsx.Wrap(DuplicateNameError{Name: name}, errorsx.ReasonToolDuplicate)
	}
	r.entries[name] = entry{tool: tool, fn: fn}
	r.order = append(r.order, name)
	return nil
}

// DescribeAll returns the descriptors in registration order, used to build
// the schema block sent to the model.
func (r *Registry) DescribeAll() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Get returns the descriptor and handler for name.
func (r *Registry) Get(name string) (llm.Tool, Func, error) {
	e, ok := r.entries[name]
	if !ok {
		return llm.Tool{}, nil, errorsx.Wrap(UnknownToolError{Name: name}, errorsx.ReasonToolUnknown)
	}
	return e.tool, e.fn, nil
}

func (r *Registry) Len() int { return len(r.order) }
