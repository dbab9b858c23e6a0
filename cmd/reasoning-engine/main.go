// Command reasoning-engine starts the conversational workflow-planning
// server of spec.md: a single HTTP listener multiplexing the WebSocket
// transport (cmd/reasoning-engine/transport) and the ambient REST surface
// (cmd/reasoning-engine/httpapi), backed by the Orchestrator and its
// collaborators. Wiring follows the teacher's explicit-Services convention
// (spec.md §9) — every collaborator is constructed here and passed by value,
// never reached for through a package-level singleton.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/saketkr/reasoning-engine/cmd/reasoning-engine/httpapi"
	"github.com/saketkr/reasoning-engine/cmd/reasoning-engine/transport"
	"github.com/saketkr/reasoning-engine/internal/config"
	"github.com/saketkr/reasoning-engine/internal/fewshot"
	"github.com/saketkr/reasoning-engine/internal/jobname"
	"github.com/saketkr/reasoning-engine/internal/llm"
	"github.com/saketkr/reasoning-engine/internal/llm/anthropic"
	"github.com/saketkr/reasoning-engine/internal/llm/openai"
	"github.com/saketkr/reasoning-engine/internal/orchestrator"
	"github.com/saketkr/reasoning-engine/internal/preprocess"
	"github.com/saketkr/reasoning-engine/internal/prompts"
	"github.com/saketkr/reasoning-engine/internal/referencing"
	"github.com/saketkr/reasoning-engine/internal/search"
	"github.com/saketkr/reasoning-engine/internal/store"
	"github.com/saketkr/reasoning-engine/internal/store/redisstore"
	"github.com/saketkr/reasoning-engine/internal/summarizer"
	"github.com/saketkr/reasoning-engine/internal/telemetry"
	"github.com/saketkr/reasoning-engine/internal/tools"
	"github.com/saketkr/reasoning-engine/internal/tools/executors"
	"github.com/saketkr/reasoning-engine/internal/validation"
	"github.com/saketkr/reasoning-engine/internal/validation/blockvalidator"
	"github.com/saketkr/reasoning-engine/internal/validation/edgerepair"
	"github.com/saketkr/reasoning-engine/internal/validation/structural"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	zlog := newZerologLogger(cfg.Observability.LogLevel)
	logger := telemetry.NewZerologLogger(zlog)
	tracer := telemetry.NewOtelTracer("reasoning-engine")
	metrics := telemetry.NewOtelMetrics("reasoning-engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conversationStore, err := newStore(cfg.Redis)
	if err != nil {
		zlog.Fatal().Err(err).Msg("reasoning-engine: store init failed")
	}

	plannerGateway, err := newGateway(cfg.PlannerLLM)
	if err != nil {
		zlog.Fatal().Err(err).Msg("reasoning-engine: planner gateway init failed")
	}
	validatorGateway, err := newGateway(cfg.ValidatorLLM)
	if err != nil {
		zlog.Warn().Err(err).Msg("reasoning-engine: validator gateway init failed; block validation stage disabled")
		validatorGateway = nil
	}

	promptStore, err := prompts.NewStore(prompts.DefaultTemplates())
	if err != nil {
		zlog.Fatal().Err(err).Msg("reasoning-engine: prompt templates failed to parse")
	}

	transportSink := transport.NewRoutingSink()

	registry := tools.NewRegistry()
	registry.Register(&executors.WebSearchExecutor{
		Client:     newWebSearchClient(cfg),
		MaxResults: cfg.WebSearch.MaxResults,
	})
	registry.Register(&executors.TaskBlockSearchExecutor{
		Client:           newTaskBlockClient(cfg),
		IsReasonRequired: cfg.TaskBlockSearch.IsReasonRequired,
	})
	registry.Register(&executors.ClarifyExecutor{})

	var stages []validation.Stage
	stages = append(stages, structural.New(transportSink))
	stages = append(stages, edgerepair.New())
	if validatorGateway != nil {
		stages = append(stages, blockvalidator.New(validatorGateway, newTaskBlockClient(cfg), promptStore, transportSink))
	}
	pipeline := validation.NewPipeline(stages...)

	var referencingAgent *referencing.Agent
	if cfg.Features.EnableReferencing {
		referencingAgent = referencing.New(plannerGateway, promptStore, transportSink)
	}

	var preprocessor preprocess.Preprocessor
	switch cfg.Features.QueryRefinementMode {
	case config.QueryRefinementSeparate:
		preprocessor = preprocess.SeparateCallRefinement{Gateway: plannerGateway, Sink: transportSink}
	case config.QueryRefinementInline:
		preprocessor = preprocess.InlineAugmentation{}
	default:
		preprocessor = preprocess.Passthrough{}
	}

	var jobNames jobname.Generator = jobname.NewRegexGenerator()

	orch := orchestrator.New(orchestrator.Options{
		Store:         conversationStore,
		Gateway:       plannerGateway,
		Registry:      registry,
		ToolDefs:      registry.Definitions(),
		Summarizer:    summarizer.New(plannerGateway),
		Pipeline:      pipeline,
		Referencing:   referencingAgent,
		Preprocessor:  preprocessor,
		FewShot:       fewshot.NewLoader(nil),
		JobNames:      jobNames,
		Prompts:       promptStore,
		Sink:          transportSink,
		Logger:        logger,
		Tracer:        tracer,
		Metrics:       metrics,
		MaxIterations: cfg.Planner.MaxIterations,
		TokenLimit:    cfg.Planner.TokenSummarizationLimit,
	})

	transportServer := transport.New(orch, transportSink, cfg.Transport, logger)

	mux := http.NewServeMux()
	mux.Handle("/v1/ws", transportServer)
	mux.Handle("/", httpapi.NewRouter(httpapi.Deps{
		Store:        conversationStore,
		Gateway:      plannerGateway,
		Preprocessor: preprocessor,
		Logger:       logger,
	}))

	addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", addr).Msg("reasoning-engine: listening")
		errc <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			zlog.Error().Err(err).Msg("reasoning-engine: server exited")
		}
	case sig := <-sigc:
		zlog.Info().Str("signal", sig.String()).Msg("reasoning-engine: shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func newZerologLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().Timestamp().Logger()
}

func newStore(cfg config.RedisConfig) (store.Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("main: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ttl := time.Duration(cfg.DefaultTTLSecs) * time.Second
	return redisstore.New(redisstore.Options{Redis: rdb, TTL: ttl})
}

// newGateway builds an llm.Gateway for the given endpoint. A vLLM endpoint
// speaks the OpenAI-compatible wire protocol (internal/llm/openai's doc
// comment: "vLLM's OpenAI-compatible server is reached by pointing the SDK
// client's base URL at the vLLM deployment"), so provider-kind "vllm" routes
// through the openai adapter with base_url set; provider-kind "anthropic"
// uses the native Anthropic adapter instead.
func newGateway(ep config.LLMEndpoint) (llm.Gateway, error) {
	if ep.Model == "" {
		return nil, nil
	}
	switch ep.ProviderKind {
	case config.ProviderAnthropic:
		return anthropic.NewFromAPIKey(ep.APIKey, ep.Model, 4096)
	default:
		return openai.NewFromConfig(ep.APIKey, ep.BaseURL, ep.Model)
	}
}

func newWebSearchClient(cfg *config.Config) search.WebSearchClient {
	switch cfg.WebSearch.Backend {
	case config.WebSearchPerplexity:
		return &search.PerplexityWebSearch{
			BaseURL:   cfg.WebSearch.APIURL,
			APIKey:    cfg.WebSearch.APIKey,
			Model:     cfg.WebSearch.Model,
			MaxTokens: cfg.WebSearch.MaxTokens,
		}
	default:
		return &search.IntegratedWebSearch{
			BaseURL: cfg.IntegratedShared.URL,
			APIKey:  cfg.IntegratedShared.APIKey,
			Timeout: cfg.IntegratedShared.Timeout,
		}
	}
}

func newTaskBlockClient(cfg *config.Config) search.TaskBlockClient {
	switch cfg.TaskBlockSearch.Backend {
	case config.TaskBlockLegacy:
		return &search.LegacyTaskBlockSearch{
			BaseURL: cfg.TaskBlockSearch.APIURL,
			APIKey:  cfg.TaskBlockSearch.APIKey,
			Size:    cfg.TaskBlockSearch.Size,
		}
	default:
		return &search.IntegratedTaskBlockSearch{
			BaseURL:    cfg.IntegratedShared.URL,
			APIKey:     cfg.IntegratedShared.APIKey,
			SearchType: string(cfg.TaskBlockSearch.SearchType),
			Size:       cfg.TaskBlockSearch.Size,
		}
	}
}
