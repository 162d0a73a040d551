package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sahayak/internal/agent"
	"sahayak/internal/config"
	"sahayak/internal/domain"
	"sahayak/internal/embedding"
	"sahayak/internal/memory"
	"sahayak/internal/prompt"
	"sahayak/internal/provider"
	"sahayak/internal/retrieval"
	"sahayak/internal/retry"
	"sahayak/internal/token"
	"sahayak/internal/tool"
	"sahayak/internal/vector"
)

// stack is the fully wired engine behind every CLI command that talks
// to memory or the model.
type stack struct {
	cfg    *config.Config
	tuning config.Tuning
	logger *slog.Logger

	store    *memory.Store
	vectors  vector.Store
	memory   *memory.Service
	pruner   *memory.Pruner
	summ     *memory.Summarizer
	registry *tool.Registry
	agent    *agent.Service
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", "err", err)
	}
}

// buildStack loads config and tuning and composes every component the
// engine needs. All tunables flow in from the YAML profile.
func buildStack() (*stack, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		cfg.General.DataDir = config.ExpandPath(cfg.General.DataDir)
		cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
		cfg.Memory.VectorDir = config.ExpandPath(cfg.Memory.VectorDir)
	}
	tuning, err := config.LoadTuning(cfg.General.TuningPath)
	if err != nil {
		return nil, fmt.Errorf("load tuning profile: %w", err)
	}

	log := newLogger(cfg.General.LogLevel)

	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.Memory.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	store, err := memory.NewStore(cfg.Memory.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	vectors, err := vector.NewChromemStore(vector.Config{Dir: cfg.Memory.VectorDir, Logger: log})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	retryPolicy := retry.Policy{
		MaxAttempts:  tuning.Retry.MaxAttempts,
		InitialDelay: tuning.InitialDelay(),
		MaxDelay:     tuning.MaxDelay(),
		Logger:       log,
	}

	cache := embedding.NewCache(embedding.CacheConfig{
		Embedder:   newEmbedder(cfg, log),
		Retry:      retryPolicy,
		MaxEntries: cfg.Embedding.CacheSize,
		Logger:     log,
	})
	counter := token.NewCounter("")

	factory := provider.NewFactory(cfg, log)
	prov, err := factory.DefaultProvider()
	if err != nil {
		log.Warn("default provider unavailable, falling back to ollama", "err", err)
		prov = provider.NewOllama(provider.OllamaConfig{Logger: log})
	}

	summarizer := memory.NewSummarizer(memory.SummarizerConfig{
		Store:        store,
		Vectors:      vectors,
		Cache:        cache,
		Provider:     prov,
		Counter:      counter,
		Retry:        retryPolicy,
		RecentWindow: tuning.Memory.RecentWindow,
		Logger:       log,
	})
	pruner := memory.NewPruner(memory.PrunerConfig{
		Vectors:          vectors,
		CapacityLimit:    tuning.Memory.CapacityLimit,
		ImportanceFloor:  tuning.Memory.ImportanceFloor,
		StalenessHorizon: tuning.StalenessHorizon(),
		Logger:           log,
	})
	mem := memory.NewService(memory.ServiceConfig{
		Store:              store,
		Vectors:            vectors,
		Cache:              cache,
		Counter:            counter,
		Summarizer:         summarizer,
		Pruner:             pruner,
		SummarizeThreshold: tuning.Memory.SummarizeThreshold,
		RecentWindow:       tuning.Memory.RecentWindow,
		Logger:             log,
	})

	ret := retrieval.NewService(retrieval.ServiceConfig{
		Cache: cache,
		Store: vectors,
		Reranker: retrieval.NewReranker(retrieval.RerankerConfig{
			Weights:  tuning.Retrieval.Weights,
			HalfLife: tuning.RecencyHalfLife(),
		}),
		Compressor: retrieval.NewCompressor(retrieval.CompressorConfig{
			Counter:     counter,
			MinFragment: tuning.Retrieval.MinFragmentTokens,
		}),
		Overfetch: tuning.Retrieval.Overfetch,
		Logger:    log,
	})

	registry := registerTools(cfg, log)
	router := tool.NewRouter(tool.RouterConfig{
		Registry:      registry,
		Timeout:       toolTimeout(cfg),
		MaxConcurrent: cfg.Tools.MaxConcurrent,
		Logger:        log,
	})

	svc := agent.NewService(agent.ServiceConfig{
		Memory:    mem,
		Retrieval: ret,
		Builder: prompt.NewBuilder(prompt.BuilderConfig{
			Counter: counter,
			Ratios:  tuning.Prompt.Ratios,
			Logger:  log,
		}),
		Registry:  registry,
		Router:    router,
		Provider:  prov,
		Providers: factory,
		Validator: agent.NewValidator(agent.ValidatorConfig{
			MaxResponseChars: tuning.Agent.MaxResponseChars,
		}),
		Retry:          retryPolicy,
		TopK:           tuning.Retrieval.TopK,
		MinScore:       tuning.Retrieval.MinScore,
		TokenBudget:    tuning.Retrieval.TokenBudget,
		ContextLimit:   tuning.Prompt.ModelContextLimit,
		ToolRoundLimit: tuning.Agent.ToolRoundLimit,
		Logger:         log,
	})

	return &stack{
		cfg:      cfg,
		tuning:   tuning,
		logger:   log,
		store:    store,
		vectors:  vectors,
		memory:   mem,
		pruner:   pruner,
		summ:     summarizer,
		registry: registry,
		agent:    svc,
	}, nil
}

func newEmbedder(cfg *config.Config, log *slog.Logger) domain.Embedder {
	client := &http.Client{Timeout: 60 * time.Second}
	if cfg.Embedding.Provider == "openai" {
		return embedding.NewOpenAIEmbedder(embedding.OpenAIEmbedderConfig{
			APIBase: cfg.Embedding.APIBase,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
			Dims:    cfg.Embedding.Dims,
			Client:  client,
			Logger:  log,
		})
	}
	return embedding.NewOllamaEmbedder(cfg.Embedding.APIBase, cfg.Embedding.Model, client)
}

func registerTools(cfg *config.Config, log *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry(log)
	registry.Register(tool.NewWeatherTool())
	if cfg.Tools.MarketAPIKey != "" {
		registry.Register(tool.NewMarketPriceTool(cfg.Tools.MarketAPIKey))
	} else {
		log.Warn("market price tool disabled, no API key configured")
	}
	schemes, err := tool.NewSchemeLookupTool(cfg.Tools.SchemeCatalogPath)
	if err != nil {
		log.Warn("scheme catalog failed to load, using built-in entries", "err", err)
		schemes, _ = tool.NewSchemeLookupTool("")
	}
	registry.Register(schemes)
	return registry
}

func toolTimeout(cfg *config.Config) (d time.Duration) {
	if cfg.Tools.TimeoutSeconds > 0 {
		d = time.Duration(cfg.Tools.TimeoutSeconds) * time.Second
	}
	return d
}
