package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/triage/internal/api"
	"github.com/MikeSquared-Agency/triage/internal/config"
	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/hermes"
	"github.com/MikeSquared-Agency/triage/internal/processor"
	"github.com/MikeSquared-Agency/triage/internal/slack"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the NATS turn processor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port; overrides TRIAGE_PORT")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if servePort != 0 {
		cfg.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("triage starting", "port", cfg.Port, "provider", cfg.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// NATS/Hermes is optional; without it only the HTTP surface is served.
	var (
		hermesClient *hermes.Client
		slackPoster  *slack.Poster
		events       consultation.Fanout
	)
	if cfg.NatsURL != "" {
		c, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer c.Close()
		hermesClient = c
		events = append(events, c)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, running without events")
	}

	// Slack poster is optional too; it notifies clinicians of completed consultations.
	if cfg.SlackBotToken != "" {
		slackPoster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		defer slackPoster.Wait()
		events = append(events, slackPoster)
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	var publisher consultation.Publisher
	if len(events) > 0 {
		publisher = events
	}

	rt, err := newRuntime(ctx, cfg, publisher)
	if err != nil {
		return err
	}
	defer rt.Close()

	if hermesClient != nil {
		proc := processor.New(rt.svc, hermesClient, cfg.TurnTimeout, slog.Default())
		if err := hermesClient.Subscribe(hermes.SubjectTurnReceived, proc.HandleTurnReceived); err != nil {
			return err
		}
		if err := hermesClient.Publish("triage.agent.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      cfg.Port,
			"providers": rt.llms.Tags(),
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	srv := api.NewServer(cfg.Port, rt.svc, api.Options{
		APIToken:  cfg.APIToken,
		Providers: rt.llms.Tags(),
		Gatherer:  rt.registry,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		if hermesClient != nil {
			// In-flight turns may run up to TurnTimeout; the repository is
			// closed only after this returns.
			drainCtx, cancel := context.WithTimeout(context.Background(), cfg.TurnTimeout+10*time.Second)
			defer cancel()
			if err := hermesClient.Drain(drainCtx); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("triage ready", "port", cfg.Port, "providers", rt.llms.Tags())
	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return err
	}
	slog.Info("triage stopped")
	return nil
}
