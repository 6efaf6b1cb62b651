// Package ws serves the agent over a websocket chat endpoint.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fightiq/octagon/pkg/agent"
	"github.com/fightiq/octagon/pkg/errorsx"
	"github.com/fightiq/octagon/pkg/transports"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	Path           string   `mapstructure:"path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.Path == "" {
		c.Path = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Query is the single inbound message shape.
type Query struct {
	Query string `json:"query"`
}

// Event is the outbound message shape. Type is one of state, delta,
// final, or error.
type Event struct {
	Type   string `json:"type"`
	RunID  string `json:"run_id,omitempty"`
	State  string `json:"state,omitempty"`
	Text   string `json:"text,omitempty"`
	Answer string `json:"answer,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type Transport struct {
	cfg      Config
	runner   transports.Runner
	log      *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader

	draining atomic.Bool
}

func New(cfg Config, runner transports.Runner, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	t := &Transport{
		cfg:    cfg,
		runner: runner,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(t.cfg.Path, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("ws_server_error", "error", err.Error())
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// One writer per connection; run hooks fire from other goroutines.
	var writeMu sync.Mutex
	send := func(ev Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(ev); err != nil {
			t.log.Debug("ws_write_failed", "reason", string(errorsx.ReasonTransportSend), "error", err.Error())
		}
	}

	for {
		var q Query
		if err := conn.ReadJSON(&q); err != nil {
			return
		}
		if strings.TrimSpace(q.Query) == "" {
			send(Event{Type: "error", Error: "query is required"})
			continue
		}
		t.handleQuery(r.Context(), q.Query, send)
	}
}

func (t *Transport) handleQuery(ctx context.Context, query string, send func(Event)) {
	outcome, err := t.runner.Run(ctx, query, transports.RunOptions{
		OnDelta: func(chunk string) {
			send(Event{Type: "delta", Text: chunk})
		},
		Listener: agent.ListenerFunc(func(change agent.StateChange) {
			send(Event{
				Type:  "state",
				RunID: change.RunID,
				State: change.ToState.String(),
			})
		}),
	})
	if err != nil {
		send(Event{
			Type:   "error",
			RunID:  outcome.RunID,
			Error:  err.Error(),
			Reason: string(errorsx.Reason(err)),
		})
		return
	}
	send(Event{
		Type:   "final",
		RunID:  outcome.RunID,
		Answer: outcome.Answer,
	})
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), strings.TrimRight(origin, "/")) {
			return true
		}
	}
	return false
}
