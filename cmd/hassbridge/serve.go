package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hassbridge/internal/audit"
	"hassbridge/internal/bus"
	"hassbridge/internal/channel"
	"hassbridge/internal/command"
	"hassbridge/internal/config"
	"hassbridge/internal/domain"
	"hassbridge/internal/homeassistant"
	"hassbridge/internal/metrics"
	"hassbridge/internal/security"
	"hassbridge/internal/server"
	"hassbridge/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge (Telegram and/or webhook ingress)",
		Long:  "Starts every enabled ingress and the command router. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

// bridge is the wiring shared by serve and chat.
type bridge struct {
	cfg    *config.Config
	bus    *bus.InMemoryBus
	client *homeassistant.Client
	audit  *audit.FileLogger
	router *command.Router
}

func newBridge(cfg *config.Config, replies bool) (*bridge, error) {
	policy, err := security.NewPolicy(cfg.Policy, logger)
	if err != nil {
		return nil, fmt.Errorf("raw-call policy: %w", err)
	}

	client, err := newHAClient(cfg)
	if err != nil {
		return nil, err
	}

	b := &bridge{
		cfg:    cfg,
		bus:    bus.New(cfg.Bridge.BufferSize, logger),
		client: client,
		audit:  audit.NewFileLogger(cfg.Audit.Path, logger),
	}
	b.router = command.NewRouter(command.RouterConfig{
		Classifier: command.NewClassifier(cfg.Entities),
		Invoker:    client,
		Audit:      b.audit,
		Logger:     logger,
		Policy:     policy,
		Bus:        b.bus,
		Replies:    replies,
	})
	return b, nil
}

func newHAClient(cfg *config.Config) (*homeassistant.Client, error) {
	timeout := time.Duration(cfg.HomeAssistant.TimeoutSeconds) * time.Second
	httpClient, err := homeassistant.NewHTTPClient(homeassistant.TransportOptions{
		Timeout: timeout,
		Proxy:   cfg.HomeAssistant.Proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("home assistant transport: %w", err)
	}
	return homeassistant.NewClient(homeassistant.ClientConfig{
		BaseURL:    cfg.HomeAssistant.URL,
		Token:      cfg.HomeAssistant.Token,
		Timeout:    timeout,
		HTTPClient: httpClient,
		Logger:     logger,
	}), nil
}

// startTracing installs the tracer provider when telemetry.tracing is on.
// The returned function is always safe to call.
func startTracing(cfg *config.Config) func() {
	if !cfg.Telemetry.Tracing {
		return func() {}
	}
	shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, os.Stderr, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown", "error", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.ValidateIngress(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopTracing := startTracing(cfg)
	defer stopTracing()

	b, err := newBridge(cfg, cfg.Bridge.Replies)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.router.Run(ctx)
	}()

	var channels []domain.Channel
	if cfg.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.Telegram.Token,
			Logger: logger,
		}))
	} else {
		logger.Info("telegram channel disabled")
	}

	if cfg.HTTP.Enabled {
		webhook := channel.NewWebhook(channel.WebhookConfig{
			Secret:  cfg.HTTP.WebhookSecret,
			Limiter: channel.NewRateLimiter(cfg.HTTP.RateLimitBurst, float64(cfg.HTTP.RateLimitPerMinute)),
			Logger:  logger,
		})
		channels = append(channels, webhook)

		srv := server.New(server.Config{
			Addr:        cfg.HTTP.Addr,
			WebhookPath: cfg.HTTP.WebhookPath,
			Webhook:     webhook.Handler(),
			MetricsPath: cfg.HTTP.MetricsPath,
			Metrics:     metrics.Collector.Handler(),
			Logger:      logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("http server error", "error", err)
			}
		}()
		if cfg.HTTP.WebhookSecret == "" {
			logger.Warn("webhook accepts unsigned requests; set http.webhookSecret")
		}
	}

	for _, ch := range channels {
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			logger.Info("channel started", "channel", ch.Name())
			if err := ch.Start(ctx, b.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "error", err)
			}
		}(ch)
	}

	logger.Info("hassbridge started. Press Ctrl+C to stop.",
		"version", version,
		"home_assistant", cfg.HomeAssistant.URL,
		"audit", cfg.Audit.Path,
	)

	<-ctx.Done()
	logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		b.bus.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Send commands from an interactive terminal session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stopTracing := startTracing(cfg)
			defer stopTracing()

			b, err := newBridge(cfg, true)
			if err != nil {
				return err
			}

			routerDone := make(chan struct{})
			go func() {
				b.router.Run(ctx)
				close(routerDone)
			}()

			cli := channel.NewCLI(channel.CLIConfig{
				Logger: logger,
				In:     cmd.InOrStdin(),
				Out:    cmd.OutOrStdout(),
			})
			err = cli.Start(ctx, b.bus)

			// Let queued commands finish before exiting.
			b.bus.Close()
			select {
			case <-routerDone:
			case <-time.After(shutdownTimeout):
				logger.Warn("pending commands did not finish in time")
			}
			return err
		},
	}
}
