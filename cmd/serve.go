package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/policy-qa/internal/config"
	"github.com/sells-group/policy-qa/internal/monitoring"
	"github.com/sells-group/policy-qa/internal/resilience"
	"github.com/sells-group/policy-qa/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the policy QA HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		checker := buildChecker(env, cfg.Monitoring, cfg.Webhook.URL)
		if checker != nil {
			go checker.Run(ctx)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildHandler(env, checker),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildHandler wires the HTTP server around env using the loaded config.
// checker may be nil.
func buildHandler(env *appEnv, checker *monitoring.Checker) http.Handler {
	opts := []server.Option{
		server.WithMetrics(env.Metrics),
		server.WithWebhooks(env.Webhooks),
	}
	if env.Store != nil {
		opts = append(opts, server.WithStore(env.Store))
	}
	if env.Breaker != nil {
		opts = append(opts, server.WithHealthCheck("explain_breaker", breakerHealth(env.Breaker)))
	}
	if checker != nil {
		opts = append(opts, server.WithHealthCheck("monitoring", func() (any, error) {
			if snap := checker.Last(); snap != nil {
				return snap, nil
			}
			return "pending", nil
		}))
	}
	return server.New(env.Analyzer, server.Options{
		Environment:            cfg.Server.Environment,
		CORSOrigin:             cfg.Server.CORSOrigin,
		APIToken:               cfg.Server.APIToken,
		MaxConcurrentQuestions: cfg.Server.MaxConcurrentQuestions,
		WebhookURL:             cfg.Webhook.URL,
	}, opts...).Handler()
}

// breakerHealth reports the explainer circuit; an open circuit degrades
// explanations but not verdicts.
func breakerHealth(b *resilience.Breaker) server.HealthCheck {
	return func() (any, error) {
		state := b.State()
		if state == resilience.StateOpen {
			return state.String(), eris.New("explanation circuit open")
		}
		return state.String(), nil
	}
}

// buildChecker returns nil unless monitoring is enabled and analyses are
// being recorded. Alerts go to the general webhook when no dedicated
// URL is set.
func buildChecker(env *appEnv, mc config.MonitoringConfig, fallbackURL string) *monitoring.Checker {
	if !mc.Enabled || env.Store == nil {
		return nil
	}
	if mc.WebhookURL == "" {
		mc.WebhookURL = fallbackURL
	}
	return monitoring.NewChecker(
		monitoring.NewCollector(env.Store),
		monitoring.NewAlerter(mc, env.Webhooks),
		mc,
	)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
