package octagon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fightiq/octagon/pkg/agent"
	"github.com/fightiq/octagon/pkg/configutil"
	"github.com/fightiq/octagon/pkg/fightcard"
	"github.com/fightiq/octagon/pkg/llm"
	"github.com/fightiq/octagon/pkg/metrics"
	"github.com/fightiq/octagon/pkg/observers"
	"github.com/fightiq/octagon/pkg/providers/anthropic"
	"github.com/fightiq/octagon/pkg/providers/mock"
	"github.com/fightiq/octagon/pkg/providers/openai"
	"github.com/fightiq/octagon/pkg/redact"
	"github.com/fightiq/octagon/pkg/resilience"
	"github.com/fightiq/octagon/pkg/tools"
	"github.com/fightiq/octagon/pkg/transports"
	"github.com/fightiq/octagon/pkg/ufcstats"
)

// LLMSettings is the free-form llm.settings block decoded per provider.
type LLMSettings struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	ThinkingBudget int    `mapstructure:"thinking_budget_tokens"`
}

var anthropicSchema = configutil.Schema{
	Required: []string{"api_key", "model"},
	Optional: []string{"base_url", "max_tokens", "thinking_budget_tokens"},
}

var openaiSchema = configutil.Schema{
	Required: []string{"api_key", "model"},
	Optional: []string{"base_url"},
}

// RegisterDefaultLLMs installs the built-in provider factories.
func RegisterDefaultLLMs(reg *ProviderRegistry) {
	reg.RegisterLLM("anthropic", func(cfg Config) (llm.Adapter, error) {
		if err := configutil.ValidateSettings(cfg.LLM.Settings, anthropicSchema); err != nil {
			return nil, fmt.Errorf("anthropic settings: %w", err)
		}
		var settings LLMSettings
		if err := configutil.DecodeSettings(cfg.LLM.Settings, &settings); err != nil {
			return nil, fmt.Errorf("anthropic settings: %w", err)
		}
		adapter := anthropic.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		if settings.MaxTokens > 0 {
			adapter.MaxTokens = settings.MaxTokens
		}
		if settings.ThinkingBudget > 0 {
			adapter.ThinkingBudget = settings.ThinkingBudget
		}
		return adapter, nil
	})
	reg.RegisterLLM("openai", func(cfg Config) (llm.Adapter, error) {
		if err := configutil.ValidateSettings(cfg.LLM.Settings, openaiSchema); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		var settings LLMSettings
		if err := configutil.DecodeSettings(cfg.LLM.Settings, &settings); err != nil {
			return nil, fmt.Errorf("openai settings: %w", err)
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return adapter, nil
	})
	reg.RegisterLLM("mock", func(cfg Config) (llm.Adapter, error) {
		return mock.NewAdapter(mock.Config{
			Responses: []llm.Response{{Text: "mock answer"}},
		}), nil
	})
}

// App is a fully wired agent application.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Loop     *agent.Loop
	Registry *tools.Registry
	Stats    *ufcstats.Client

	adapter    llm.Adapter
	dispatcher *tools.Dispatcher
	loopOpts   agent.Options
	observer   *metrics.AsyncObserver
	cost       *observers.CostObserver
	jsonl      *os.File
}

// Run executes one query with per-run hooks attached, satisfying
// transports.Runner. Loops are stateless, so building one per run is
// cheap.
func (a *App) Run(ctx context.Context, query string, opts transports.RunOptions) (agent.Outcome, error) {
	loopOpts := a.loopOpts
	loopOpts.OnDelta = opts.OnDelta
	loop := agent.NewLoop(a.adapter, a.Registry, a.dispatcher, loopOpts)
	if opts.Listener != nil {
		loop.AddListener(opts.Listener)
	}
	return loop.Run(ctx, query)
}

// BuildApp assembles the agent from config: provider adapter behind a
// circuit breaker, the UFC stats client and tool set, the dispatcher,
// observers, and the loop itself.
func BuildApp(cfg Config, providers *ProviderRegistry, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	app := &App{Config: cfg, Logger: log}

	chain := []metrics.Observer{observers.NewLoggerObserver(log)}
	if dir := cfg.Observability.ArtifactsDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("artifacts dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("metrics file: %w", err)
		}
		app.jsonl = f
		chain = append(chain, metrics.NewJSONLObserver(f))
		app.cost = observers.NewCostObserver(dir)
		chain = append(chain, app.cost)
	}
	chain = append(chain, observers.NewLatencyObserver(log))
	app.observer = metrics.NewAsyncObserver(observers.NewMultiObserver(chain...), 0)

	adapter, err := providers.BuildLLM(cfg.LLM.Provider, cfg)
	if err != nil {
		return nil, err
	}
	breaker := llm.NewCircuitBreakerAdapter(adapter, resilience.NewCircuitBreaker(3, 30*time.Second))
	breaker.SetObserver(app.observer)

	app.Stats = ufcstats.NewClient(ufcstats.ClientOptions{
		BaseURL:   cfg.Stats.BaseURL,
		UserAgent: cfg.Stats.UserAgent,
		Timeout:   time.Duration(cfg.Stats.TimeoutMS) * time.Millisecond,
		Retries:   cfg.Stats.Retries,
	})

	app.Registry = tools.NewRegistry()
	if err := fightcard.RegisterAll(app.Registry, app.Stats); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	dispatcher := tools.NewDispatcher(app.Registry, tools.DispatcherOptions{
		Timeout:      time.Duration(cfg.Tools.TimeoutMS) * time.Millisecond,
		Retries:      cfg.Tools.Retries,
		RetryBackoff: time.Duration(cfg.Tools.RetryBackoffMS) * time.Millisecond,
	})
	dispatcher.SetObserver(app.observer)
	dispatcher.SetLogger(log)
	app.dispatcher = dispatcher
	app.adapter = breaker

	app.loopOpts = agent.Options{
		SelectPrompt:   cfg.Agent.SelectPrompt,
		FinalizePrompt: cfg.Agent.FinalizePrompt,
		CallTimeout:    time.Duration(cfg.Agent.CallTimeoutMS) * time.Millisecond,
		Retry: llm.RetryConfig{
			MaxAttempts: cfg.Agent.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Agent.RetryBackoffMS) * time.Millisecond,
		},
		Logger:   log,
		Observer: app.observer,
		Redactor: redact.New(cfg.Privacy.RedactPII),
	}
	app.Loop = agent.NewLoop(breaker, app.Registry, dispatcher, app.loopOpts)

	if cfg.Observability.RetentionDays > 0 && cfg.Observability.ArtifactsDir != "" {
		maxAge := time.Duration(cfg.Observability.RetentionDays) * 24 * time.Hour
		if removed, err := observers.PurgeArtifacts(cfg.Observability.ArtifactsDir, maxAge); err != nil {
			log.Warn("artifact purge failed", "error", err)
		} else if removed > 0 {
			log.Info("purged artifacts", "count", removed)
		}
	}

	return app, nil
}

// Close flushes observers and artifact files.
func (a *App) Close() error {
	if a.observer != nil {
		a.observer.Close()
	}
	var err error
	if a.cost != nil {
		err = a.cost.Close()
	}
	if a.jsonl != nil {
		if cerr := a.jsonl.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
