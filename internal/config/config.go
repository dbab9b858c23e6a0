// Package config loads the exhaustive, static configuration surface
// described in spec.md §6: Planner/Validator LLM settings, storage,
// search backends, feature flags, transport, and observability. Config is
// loaded once at process start and threaded through an explicit Services
// container (spec.md §9, "process-wide singletons" rearchitecture note) —
// there is no global config object.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ProviderKind selects which LLM wire protocol a model endpoint speaks.
type ProviderKind string

const (
	ProviderVLLM      ProviderKind = "vllm"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// SearchBackend selects which upstream a search capability targets.
type SearchBackend string

const (
	WebSearchPerplexity SearchBackend = "perplexity"
	WebSearchIntegrated SearchBackend = "integrated"

	TaskBlockLegacy     SearchBackend = "legacy"
	TaskBlockIntegrated SearchBackend = "integrated"
)

// SearchType selects how task-block search ranks candidates.
type SearchType string

const (
	SearchTypeLLM     SearchType = "llm"
	SearchTypeElastic SearchType = "elastic"
)

// QueryRefinementMode selects a preprocess.Preprocessor strategy.
type QueryRefinementMode string

const (
	QueryRefinementSeparate QueryRefinementMode = "separate"
	QueryRefinementInline   QueryRefinementMode = "inline"
	QueryRefinementDisabled QueryRefinementMode = "disabled"
)

type LLMEndpoint struct {
	ProviderKind ProviderKind
	BaseURL      string
	APIKey       string
	Model        string
}

type RedisConfig struct {
	URL            string
	DefaultTTLSecs int
}

type WebSearchConfig struct {
	Backend    SearchBackend
	APIURL     string
	APIKey     string
	Model      string
	MaxTokens  int
	MaxResults int
}

type TaskBlockSearchConfig struct {
	Backend           SearchBackend
	APIURL            string
	APIKey            string
	SearchType        SearchType
	Size              int
	IsReasonRequired  bool
}

type IntegratedEndpointConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type PlannerConfig struct {
	MaxIterations           int
	TokenSummarizationLimit int
}

type FeaturesConfig struct {
	QueryRefinementMode QueryRefinementMode
	EnableReferencing   bool
}

type TransportConfig struct {
	Host                     string
	Port                     int
	MaxConcurrentConnections int
	HeartbeatIntervalSeconds int
	HeartbeatMaxMissed       int
}

type ObservabilityConfig struct {
	LogLevel     string
	LangfusePK   string
	LangfuseSK   string
	LangfuseHost string
}

// Config is the exhaustive static configuration surface of spec.md §6.
type Config struct {
	PlannerLLM       LLMEndpoint
	ValidatorLLM     LLMEndpoint
	Redis            RedisConfig
	WebSearch        WebSearchConfig
	TaskBlockSearch  TaskBlockSearchConfig
	IntegratedShared IntegratedEndpointConfig
	Planner          PlannerConfig
	Features         FeaturesConfig
	Transport        TransportConfig
	Observability    ObservabilityConfig
}

// Load reads a .env file (if present, ignored if absent) then overlays
// environment variables and command-line flags into a Config. Per spec.md
// §9's "dynamic prompt templates" note does not apply here, but in the same
// spirit a missing optional value degrades to a documented default rather
// than an error; only a handful of required fields fail Load outright.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("reasoning-engine", flag.ContinueOnError)

	cfg := &Config{}

	fs.StringVar((*string)(&cfg.PlannerLLM.ProviderKind), "planner-provider", getenv("PLANNER_PROVIDER_KIND", "openai"), "planner LLM provider kind (vllm|openai|anthropic)")
	fs.StringVar(&cfg.PlannerLLM.BaseURL, "planner-base-url", os.Getenv("PLANNER_BASE_URL"), "planner LLM base URL")
	fs.StringVar(&cfg.PlannerLLM.APIKey, "planner-api-key", os.Getenv("PLANNER_API_KEY"), "planner LLM API key")
	fs.StringVar(&cfg.PlannerLLM.Model, "planner-model", getenv("PLANNER_MODEL", "gpt-4o"), "planner LLM model")

	// Validator LLM has no provider-kind in spec.md §6's enumerated config
	// (only base_url/api_key/model); SPEC_FULL.md's domain-stack expansion
	// supplements this with the same three-way choice as the planner so the
	// anthropic and vllm adapters stay reachable for block validation too.
	fs.StringVar((*string)(&cfg.ValidatorLLM.ProviderKind), "validator-provider", getenv("VALIDATOR_PROVIDER_KIND", "openai"), "validator LLM provider kind (vllm|openai|anthropic)")
	fs.StringVar(&cfg.ValidatorLLM.BaseURL, "validator-base-url", os.Getenv("VALIDATOR_BASE_URL"), "validator LLM base URL")
	fs.StringVar(&cfg.ValidatorLLM.APIKey, "validator-api-key", os.Getenv("VALIDATOR_API_KEY"), "validator LLM API key")
	fs.StringVar(&cfg.ValidatorLLM.Model, "validator-model", getenv("VALIDATOR_MODEL", "gpt-4o-mini"), "validator LLM model")

	fs.StringVar(&cfg.Redis.URL, "redis-url", getenv("REDIS_URL", "redis://localhost:6379/0"), "redis connection URL")
	fs.IntVar(&cfg.Redis.DefaultTTLSecs, "redis-ttl-seconds", getenvInt("REDIS_TTL_SECONDS", 86400), "default key TTL in seconds")

	fs.StringVar((*string)(&cfg.WebSearch.Backend), "web-search-backend", getenv("WEB_SEARCH_BACKEND", "integrated"), "web search backend (perplexity|integrated)")
	fs.StringVar(&cfg.WebSearch.APIURL, "web-search-url", os.Getenv("WEB_SEARCH_API_URL"), "web search API URL")
	fs.StringVar(&cfg.WebSearch.APIKey, "web-search-key", os.Getenv("WEB_SEARCH_API_KEY"), "web search API key")
	fs.StringVar(&cfg.WebSearch.Model, "web-search-model", os.Getenv("WEB_SEARCH_MODEL"), "web search model (perplexity backend only)")
	fs.IntVar(&cfg.WebSearch.MaxTokens, "web-search-max-tokens", getenvInt("WEB_SEARCH_MAX_TOKENS", 1024), "web search max tokens")
	fs.IntVar(&cfg.WebSearch.MaxResults, "web-search-max-results", getenvInt("WEB_SEARCH_MAX_RESULTS", 5), "web search max results")

	fs.StringVar((*string)(&cfg.TaskBlockSearch.Backend), "task-block-backend", getenv("TASK_BLOCK_BACKEND", "integrated"), "task block backend (legacy|integrated)")
	fs.StringVar(&cfg.TaskBlockSearch.APIURL, "task-block-url", os.Getenv("TASK_BLOCK_API_URL"), "task block search API URL")
	fs.StringVar(&cfg.TaskBlockSearch.APIKey, "task-block-key", os.Getenv("TASK_BLOCK_API_KEY"), "task block search API key")
	fs.StringVar((*string)(&cfg.TaskBlockSearch.SearchType), "task-block-search-type", getenv("TASK_BLOCK_SEARCH_TYPE", "elastic"), "task block search type (llm|elastic)")
	fs.IntVar(&cfg.TaskBlockSearch.Size, "task-block-size", getenvInt("TASK_BLOCK_SIZE", 10), "task block candidate count")
	fs.BoolVar(&cfg.TaskBlockSearch.IsReasonRequired, "task-block-reason-required", getenvBool("TASK_BLOCK_REASON_REQUIRED", false), "require reasoning in task block search results")

	fs.StringVar(&cfg.IntegratedShared.URL, "integrated-url", os.Getenv("INTEGRATED_API_URL"), "integrated shared endpoint URL")
	fs.StringVar(&cfg.IntegratedShared.APIKey, "integrated-key", os.Getenv("INTEGRATED_API_KEY"), "integrated shared endpoint API key")
	timeoutSecs := fs.Int("integrated-timeout-seconds", getenvInt("INTEGRATED_TIMEOUT_SECONDS", 30), "integrated shared endpoint timeout")

	fs.IntVar(&cfg.Planner.MaxIterations, "planner-max-iterations", getenvInt("PLANNER_MAX_ITERATIONS", 10), "planner loop iteration cap")
	fs.IntVar(&cfg.Planner.TokenSummarizationLimit, "planner-token-summarization-limit", getenvInt("PLANNER_TOKEN_SUMMARIZATION_LIMIT", 100000), "token estimate threshold to trigger summarization")

	fs.StringVar((*string)(&cfg.Features.QueryRefinementMode), "query-refinement-mode", getenv("QUERY_REFINEMENT_MODE", "separate"), "query refinement mode (separate|inline|disabled)")
	fs.BoolVar(&cfg.Features.EnableReferencing, "enable-referencing", getenvBool("ENABLE_REFERENCING", true), "enable the referencing agent")

	fs.StringVar(&cfg.Transport.Host, "host", getenv("HOST", "0.0.0.0"), "listen host")
	fs.IntVar(&cfg.Transport.Port, "port", getenvInt("PORT", 8080), "listen port")
	fs.IntVar(&cfg.Transport.MaxConcurrentConnections, "max-concurrent-connections", getenvInt("MAX_CONCURRENT_CONNECTIONS", 50), "maximum concurrent websocket connections")
	fs.IntVar(&cfg.Transport.HeartbeatIntervalSeconds, "heartbeat-interval-seconds", getenvInt("HEARTBEAT_INTERVAL_SECONDS", 30), "heartbeat ping interval")
	fs.IntVar(&cfg.Transport.HeartbeatMaxMissed, "heartbeat-max-missed", getenvInt("HEARTBEAT_MAX_MISSED", 3), "missed heartbeats before closing a connection")

	fs.StringVar(&cfg.Observability.LogLevel, "log-level", getenv("LOG_LEVEL", "info"), "structured log level")
	fs.StringVar(&cfg.Observability.LangfusePK, "langfuse-public-key", os.Getenv("LANGFUSE_PUBLIC_KEY"), "langfuse public key")
	fs.StringVar(&cfg.Observability.LangfuseSK, "langfuse-secret-key", os.Getenv("LANGFUSE_SECRET_KEY"), "langfuse secret key")
	fs.StringVar(&cfg.Observability.LangfuseHost, "langfuse-host", os.Getenv("LANGFUSE_HOST"), "langfuse host")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.IntegratedShared.Timeout = time.Duration(*timeoutSecs) * time.Second

	if !validProviderKind(cfg.PlannerLLM.ProviderKind) {
		return nil, fmt.Errorf("config: unknown planner provider kind %q", cfg.PlannerLLM.ProviderKind)
	}
	if !validProviderKind(cfg.ValidatorLLM.ProviderKind) {
		return nil, fmt.Errorf("config: unknown validator provider kind %q", cfg.ValidatorLLM.ProviderKind)
	}
	if cfg.PlannerLLM.Model == "" {
		return nil, fmt.Errorf("config: planner model is required")
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("config: redis URL is required")
	}

	return cfg, nil
}

func validProviderKind(k ProviderKind) bool {
	return k == ProviderVLLM || k == ProviderOpenAI || k == ProviderAnthropic
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
