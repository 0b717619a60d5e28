package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/triage/internal/anthropic"
	"github.com/MikeSquared-Agency/triage/internal/config"
	"github.com/MikeSquared-Agency/triage/internal/consultation"
	"github.com/MikeSquared-Agency/triage/internal/groq"
	"github.com/MikeSquared-Agency/triage/internal/llm"
	"github.com/MikeSquared-Agency/triage/internal/metrics"
	"github.com/MikeSquared-Agency/triage/internal/pipeline"
	"github.com/MikeSquared-Agency/triage/internal/store"
)

// runtime holds the dependencies shared by serve and chat.
type runtime struct {
	cfg      config.Config
	registry *prometheus.Registry
	llms     *llm.Registry
	svc      *consultation.Service
	closers  []func()
}

func newRuntime(ctx context.Context, cfg config.Config, events consultation.Publisher) (*runtime, error) {
	rt := &runtime{cfg: cfg, registry: prometheus.NewRegistry()}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, repo.close)

	rt.llms = providers(cfg)

	pipelines, err := pipelineFactory(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.svc, err = consultation.NewService(repo, rt.llms, pipelines, events, metrics.New(rt.registry), cfg.SessionCache, slog.Default())
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

type repository struct {
	consultation.Repository
	close func()
}

func openRepository(ctx context.Context, cfg config.Config) (repository, error) {
	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return repository{}, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return repository{}, err
		}
		slog.Info("database connected", "backend", "postgres")
		return repository{Repository: db, close: db.Close}, nil
	}

	db, err := store.NewSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return repository{}, fmt.Errorf("open sqlite: %w", err)
	}
	slog.Info("database connected", "backend", "sqlite", "path", cfg.SQLitePath)
	return repository{Repository: db, close: func() { _ = db.Close() }}, nil
}

// providers registers every generator that has credentials configured.
func providers(cfg config.Config) *llm.Registry {
	reg := llm.NewRegistry(cfg.Provider)
	if cfg.GroqAPIKey != "" {
		reg.Register(llm.ProviderGroq, llm.Groq(groq.NewClient(cfg.GroqAPIKey, cfg.GroqModel, cfg.GroqBaseURL), cfg.MaxTokens))
		slog.Info("groq client ready", "model", cfg.GroqModel)
	}
	if cfg.AnthropicAPIKey != "" {
		reg.Register(llm.ProviderAnthropic, llm.Anthropic(anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel), cfg.MaxTokens))
		slog.Info("anthropic client ready", "model", cfg.AnthropicModel)
	}
	return reg
}

func pipelineFactory(cfg config.Config) (consultation.PipelineFactory, error) {
	system, defs := pipeline.DefaultSystemPrompt, pipeline.DefaultStages
	if cfg.PipelineFile != "" {
		f, err := config.LoadPipelineFile(cfg.PipelineFile)
		if err != nil {
			return nil, err
		}
		if f.System != "" {
			system = f.System
		}
		defs = f.Definitions()
		slog.Info("pipeline loaded", "path", cfg.PipelineFile, "stages", len(defs))
	}

	// Fail at startup rather than on the first completed interview.
	if _, err := pipeline.Build(system, defs, llm.GeneratorFunc(nil), slog.Default()); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	return func(gen llm.Generator) (*pipeline.Pipeline, error) {
		return pipeline.Build(system, defs, gen, slog.Default())
	}, nil
}
