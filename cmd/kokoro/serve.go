package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/brain"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/decision"
	"github.com/kokoro-ai/kokoro/pkg/embedders"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/handlers"
	"github.com/kokoro-ai/kokoro/pkg/knowledge"
	"github.com/kokoro-ai/kokoro/pkg/learning"
	"github.com/kokoro-ai/kokoro/pkg/llms"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/observability"
	"github.com/kokoro-ai/kokoro/pkg/orchestrator"
	"github.com/kokoro-ai/kokoro/pkg/proactive"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/server"
	"github.com/kokoro-ai/kokoro/pkg/state"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
	"github.com/kokoro-ai/kokoro/pkg/vector"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file and hot-reload the capability catalog."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cli, c)
	if err != nil {
		return err
	}
	defer a.close()

	return a.server.Start(ctx)
}

// app holds the wired process. The handler table and catalog are kept
// for the config hot-reload path.
type app struct {
	cfg      *config.Config
	catalog  *capability.Catalog
	handlers map[string]protocol.Handler
	server   *server.Server
	loader   *config.Loader
	obs      *observability.Manager
	logger   *slog.Logger
	closers  []func()
}

func buildApp(ctx context.Context, cli *CLI, cmd *ServeCmd) (*app, error) {
	log := slog.Default()
	a := &app{logger: log}

	// Configuration: file mode with optional hot reload, or zero-config.
	if cli.Config != "" {
		a.loader = config.NewLoader(config.LoaderOptions{
			Path:     cli.Config,
			Watch:    cmd.Watch,
			OnChange: a.reloadCapabilities,
		})
		cfg, err := a.loader.Load()
		if err != nil {
			return nil, err
		}
		a.cfg = cfg
	} else {
		log.Info("No config file, starting in zero-config mode")
		a.cfg = config.ZeroConfig()
	}
	cfg := a.cfg
	if cmd.Port != 0 {
		cfg.Server.Port = cmd.Port
	}

	// Observability first so everything downstream can record.
	a.obs = observability.NewManager(observability.Config{
		Tracing: observability.TracerConfig{
			Enabled:     cfg.Observability.Tracing.Enabled,
			ServiceName: cfg.Observability.Tracing.ServiceName,
		},
		Metrics: observability.MetricsConfig{Enabled: cfg.Observability.Metrics.Enabled},
	})
	if err := a.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	a.closers = append(a.closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.obs.Shutdown(sctx) //nolint:errcheck
	})
	metrics := a.obs.GetMetrics()

	// Durable store shared by memory access, conversation state and
	// learning.
	store, err := memory.NewSQLStore(&cfg.Database)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { store.Close() }) //nolint:errcheck
	states, err := state.NewSQLStore(store.DB(), store.Dialect())
	if err != nil {
		return nil, err
	}
	// Get purges on read, but flows abandoned by users who never message
	// again need a periodic sweep.
	go sweepExpiredStates(ctx, states, log)

	// LLM providers. A missing provider is legal: the pipeline runs
	// keyword-only and the conversation handler answers canned.
	llmReg := llms.NewLLMRegistry()
	if err := llmReg.InitFromConfig(ctx, cfg.LLMs, cfg.DefaultLLM); err != nil {
		return nil, err
	}
	llm := llmReg.Default()
	if llm == nil {
		log.Warn("No LLM configured, running keyword-only")
	}

	// Knowledge search is optional: vector or embedder trouble disables
	// the capability, never the server.
	var knowledgeSvc *knowledge.Service
	embedder, embErr := embedders.CreateEmbedder(&cfg.Embedder)
	provider, vecErr := vector.CreateProvider(&cfg.Vector)
	switch {
	case embErr != nil:
		log.Warn("Knowledge search disabled", "error", embErr)
	case vecErr != nil:
		log.Warn("Knowledge search disabled", "error", vecErr)
	default:
		kOpts := []knowledge.Option{knowledge.WithMetrics(metrics)}
		if cfg.Brain.KnowledgeSynthesis && llm != nil {
			kOpts = append(kOpts, knowledge.WithLLM(llm))
		}
		knowledgeSvc = knowledge.NewService(embedder, provider, store, log, kOpts...)
	}

	// Capability catalog with resolved handler bindings.
	a.handlers = handlers.Build(handlers.Deps{
		Store:     store,
		Knowledge: knowledgeSvc,
		LLM:       llm,
		Logger:    log,
	})
	a.catalog, err = capability.Build(withDefaultCapabilities(cfg.Capabilities), a.handlers)
	if err != nil {
		return nil, err
	}

	// Pipeline stages.
	dedup := execution.NewDeduper(&cfg.Redis, time.Duration(cfg.Brain.DedupWindowSeconds)*time.Second)
	a.closers = append(a.closers, func() { dedup.Close() }) //nolint:errcheck
	executor := execution.NewExecutor(a.catalog, dedup, log,
		execution.WithTimeout(time.Duration(cfg.Brain.HandlerTimeoutSeconds)*time.Second),
		execution.WithMetrics(metrics),
	)
	undOpts := []understanding.Option{
		understanding.WithRefineTimeout(time.Duration(cfg.Brain.RefineTimeoutSeconds) * time.Second),
	}
	if llm != nil {
		undOpts = append(undOpts, understanding.WithLLM(llm))
	}
	und := understanding.NewEngine(a.catalog, log, undOpts...)

	orch := orchestrator.New(states, executor, log,
		orchestrator.WithUnderstander(und),
		orchestrator.WithContinuationMax(cfg.Brain.ContinuationMaxRunes),
		orchestrator.WithTimeouts(
			time.Duration(cfg.Brain.StateTimeoutMinutes)*time.Minute,
			time.Duration(cfg.Brain.ListContextTimeoutMinutes)*time.Minute,
		),
	)

	contextBudget := time.Duration(cfg.Brain.ContextBudgetMillis) * time.Millisecond
	access := memory.NewAccess(store, log,
		memory.WithSliceBudget(contextBudget),
		memory.WithEpisodicRecall(cfg.Brain.LongTermMemory),
	)

	auditor := audit.NewAuditor(log, metrics)
	b := brain.New(brain.Deps{
		Config:       &cfg.Brain,
		Builder:      brain.NewContextBuilder(access, contextBudget, log),
		Orchestrator: orch,
		Understander: und,
		Decider: decision.NewEngine(a.catalog,
			decision.WithFloor(cfg.Brain.MinScoreThreshold),
			decision.WithMultiAction(cfg.Brain.ExecutionExcellence),
		),
		Catalog:  a.catalog,
		Executor: executor,
		Auditor:  auditor,
		Recorder: learning.NewRecorder(store, log),
		Writer:   store,
		Metrics:  metrics,
		Tracer:   a.obs.GetTracer("kokoro"),
		Logger:   log,
	})

	generator := proactive.NewGenerator(a.catalog, executor, auditor, metrics, log)
	a.server = server.New(&cfg.Server, b,
		server.WithProactive(generator),
		server.WithLogger(log),
	)

	if a.loader != nil && cmd.Watch {
		if err := a.loader.StartWatch(); err != nil {
			return nil, err
		}
		log.Info("Watching config file for changes", "path", cli.Config)
	}

	return a, nil
}

// reloadCapabilities swaps the capability catalog on a config file
// change. Other sections (server, database, LLM endpoints) need a
// restart; the catalog is the piece operators tune in place.
func (a *app) reloadCapabilities(next *config.Config) error {
	rebuilt, err := capability.Build(withDefaultCapabilities(next.Capabilities), a.handlers)
	if err != nil {
		return err
	}
	a.catalog.Swap(rebuilt)
	a.logger.Info("Capability catalog reloaded", "capabilities", a.catalog.Count())
	return nil
}

// withDefaultCapabilities overlays configured rows on the built-in
// catalog, so a config file extends rather than replaces it.
func withDefaultCapabilities(rows map[string]*config.CapabilityConfig) map[string]*config.CapabilityConfig {
	merged := config.DefaultCapabilities()
	for name, row := range rows {
		merged[name] = row
	}
	return merged
}

// sweepExpiredStates purges expired conversation flows on a timer until
// the serve context ends.
func sweepExpiredStates(ctx context.Context, states state.Store, log *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := states.CleanupExpired(ctx)
			if err != nil {
				log.Warn("Expired state sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("Expired states purged", "count", n)
			}
		}
	}
}

func (a *app) close() {
	if a.loader != nil {
		a.loader.Stop()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
