package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fightiq/octagon/pkg/configutil"
	"github.com/fightiq/octagon/pkg/logging"
	"github.com/fightiq/octagon/pkg/octagon"
	"github.com/fightiq/octagon/pkg/runner"
	"github.com/fightiq/octagon/pkg/transports"
	stdiotransport "github.com/fightiq/octagon/pkg/transports/stdio"
	wstransport "github.com/fightiq/octagon/pkg/transports/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	query := flag.String("query", "", "run a single query and exit")
	flag.Parse()

	cfg, err := octagon.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)

	providers := octagon.NewProviderRegistry()
	octagon.RegisterDefaultLLMs(providers)

	app, err := octagon.BuildApp(cfg, providers, log)
	if err != nil {
		log.Error("startup_failed", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("shutdown_flush_failed", "error", err.Error())
		}
	}()

	if *query != "" {
		runOnce(app, *query)
		return
	}
	serve(cfg, app, log)
}

func runOnce(app *octagon.App, query string) {
	outcome, err := app.Loop.Run(context.Background(), query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		_ = app.Close()
		os.Exit(1)
	}
	fmt.Println(outcome.Answer)
}

// transportDrainer lets the lifecycle runner drain in-flight work by
// stopping the transport.
type transportDrainer struct {
	transport transports.Transport
}

func (d transportDrainer) Drain() error {
	return d.transport.Stop()
}

func serve(cfg octagon.Config, app *octagon.App, log *slog.Logger) {
	runner.PrintBanner()

	transport, err := buildTransport(cfg, app, log)
	if err != nil {
		log.Error("transport_unavailable", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lc := runner.NewLifecycleRunner(transportDrainer{transport}, runner.Hooks{
		OnStart: func() error {
			if err := transport.Start(ctx); err != nil {
				return err
			}
			log.Info("transport_started", "transport", transport.Name())
			return nil
		},
		OnStop: func() {
			log.Info("transport_stopped", "transport", transport.Name())
		},
	}, 10*time.Second)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		if st, ok := transport.(*stdiotransport.Transport); ok {
			select {
			case <-sigCh:
			case <-st.Done():
			}
		} else {
			<-sigCh
		}
		cancel()
	}()

	if err := lc.Run(ctx); err != nil {
		log.Error("serve_failed", "error", err.Error())
		os.Exit(1)
	}
}

func buildTransport(cfg octagon.Config, app *octagon.App, log *slog.Logger) (transports.Transport, error) {
	switch cfg.Transports.Provider {
	case "ws":
		wsSchema := configutil.Schema{
			Optional: []string{"server_addr", "path", "allow_any_origin", "allowed_origins"},
		}
		if err := configutil.ValidateSettings(cfg.Transports.Settings, wsSchema); err != nil {
			return nil, fmt.Errorf("ws settings: %w", err)
		}
		var settings wstransport.Config
		if err := configutil.DecodeSettings(cfg.Transports.Settings, &settings); err != nil {
			return nil, fmt.Errorf("ws settings: %w", err)
		}
		return wstransport.New(settings, app, log), nil
	case "stdio":
		return stdiotransport.New(app, os.Stdin, os.Stdout, log), nil
	default:
		return nil, fmt.Errorf("transport not supported: %s", cfg.Transports.Provider)
	}
}
