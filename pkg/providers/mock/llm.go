package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/fightiq/octagon/pkg/llm"
)

// Adapter is a scripted LLM provider for tests and offline demo runs.
// Responses are consumed in order; the last one repeats.
type Adapter struct {
	cfg Config

	mu    sync.Mutex
	calls int

	// Inputs captures every Context passed to Generate or Stream.
	Inputs []llm.Context
}

type Config struct {
	// Responses scripted per call, in order.
	Responses []llm.Response
	// Err, when set, fails every call.
	Err error
	// StreamChunks override the text split used by Stream.
	StreamChunks []string
}

func NewAdapter(cfg Config) *Adapter {
	if len(cfg.Responses) == 0 && cfg.Err == nil {
		cfg.Responses = []llm.Response{{Text: "mock response"}}
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return "mock_llm" }

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Inputs = append(a.Inputs, input)
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	resp := a.cfg.Responses[min(a.calls, len(a.cfg.Responses)-1)]
	a.calls++
	return resp, nil
}

func (a *Adapter) Stream(ctx context.Context, input llm.Context, onDelta func(string)) (llm.Response, error) {
	resp, err := a.Generate(ctx, input)
	if err != nil {
		return llm.Response{}, err
	}
	chunks := a.cfg.StreamChunks
	if len(chunks) == 0 {
		chunks = []string{resp.Text}
	}
	var sb strings.Builder
	for _, chunk := range chunks {
		sb.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}
	resp.Text = sb.String()
	return resp, nil
}

// Calls returns how many model calls were made.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *Adapter) MapTools(tools []llm.Tool) (any, error) {
	return nil, nil
}

func (a *Adapter) ToProviderFormat(ctx llm.Context) (any, error) {
	return nil, nil
}

func (a *Adapter) FromProviderFormat(raw any) (llm.Response, error) {
	return llm.Response{}, nil
}
