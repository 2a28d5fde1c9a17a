package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

type (
	// Config is the research CLI configuration. It is read from a YAML
	// file, then environment variables override individual fields.
	Config struct {
		Research ResearchConfig `yaml:"research"`
		Search   SearchConfig   `yaml:"search"`
		Model    ModelConfig    `yaml:"model"`
		Cache    CacheConfig    `yaml:"cache"`
		Sessions SessionsConfig `yaml:"sessions"`
		Stream   StreamConfig   `yaml:"stream"`
		Redis    RedisConfig    `yaml:"redis"`
		Mongo    MongoConfig    `yaml:"mongo"`
	}

	// ResearchConfig tunes the run loop.
	ResearchConfig struct {
		MaxIterations int           `yaml:"max_iterations"`
		MinQuality    float64       `yaml:"min_quality_score"`
		PhaseTimeout  time.Duration `yaml:"phase_timeout"`
	}

	// SearchConfig selects providers and bounds the search fan-out.
	SearchConfig struct {
		Providers       []string      `yaml:"providers"`
		ResultsPerQuery int           `yaml:"max_results_per_query"`
		Concurrency     int           `yaml:"max_parallel_searches"`
		RetryAttempts   int           `yaml:"retry_attempts"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		CallTimeout     time.Duration `yaml:"call_timeout"`
		EnrichPages     bool          `yaml:"enrich_pages"`
		TavilyAPIKey    string        `yaml:"tavily_api_key"`
		SerperAPIKey    string        `yaml:"serper_api_key"`
	}

	// ModelConfig selects the language model backend.
	ModelConfig struct {
		// Provider is anthropic, openai or bedrock.
		Provider    string  `yaml:"provider"`
		Name        string  `yaml:"name"`
		APIKey      string  `yaml:"api_key"`
		Region      string  `yaml:"region"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		// TPM is the initial tokens-per-minute budget; MaxTPM caps recovery.
		TPM    float64 `yaml:"tpm"`
		MaxTPM float64 `yaml:"max_tpm"`
		// SharedBudget coordinates the budget across processes through Redis.
		SharedBudget bool `yaml:"shared_budget"`
	}

	// CacheConfig selects the search result cache.
	CacheConfig struct {
		Enabled bool          `yaml:"enabled"`
		Backend string        `yaml:"backend"`
		TTL     time.Duration `yaml:"ttl"`
	}

	// SessionsConfig selects where run snapshots are stored.
	SessionsConfig struct {
		Backend string `yaml:"backend"`
	}

	// StreamConfig enables progress event publishers.
	StreamConfig struct {
		Pulse       bool `yaml:"pulse"`
		PulseMaxLen int  `yaml:"pulse_max_len"`
		// MongoLog stores every event in MongoDB for the history command.
		MongoLog   bool   `yaml:"mongo_log"`
		NATSURL    string `yaml:"nats_url"`
		NATSPrefix string `yaml:"nats_prefix"`
	}

	// RedisConfig locates Redis.
	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// MongoConfig locates MongoDB.
	MongoConfig struct {
		URI      string        `yaml:"uri"`
		Database string        `yaml:"database"`
		Timeout  time.Duration `yaml:"timeout"`
	}
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendMongo  = "mongo"
)

var (
	knownProviders = []string{"tavily", "serper", "wikipedia", "duckduckgo"}
	knownModels    = []string{"anthropic", "openai", "bedrock"}
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Research: ResearchConfig{
			MaxIterations: 2,
			MinQuality:    7.0,
		},
		Search: SearchConfig{
			Providers:       []string{"wikipedia", "duckduckgo"},
			ResultsPerQuery: 5,
			Concurrency:     5,
			RetryAttempts:   3,
			RetryDelay:      time.Second,
			CallTimeout:     30 * time.Second,
		},
		Model: ModelConfig{
			Provider:    "anthropic",
			Name:        "claude-sonnet-4-5",
			MaxTokens:   4096,
			Temperature: 0.3,
			TPM:         60000,
			MaxTPM:      120000,
		},
		Cache: CacheConfig{
			Enabled: true,
			Backend: backendMemory,
			TTL:     24 * time.Hour,
		},
		Sessions: SessionsConfig{Backend: backendMemory},
		Stream:   StreamConfig{NATSPrefix: "research"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "research",
			Timeout:  5 * time.Second,
		},
	}
}

// LoadConfig reads path (if not empty) over the defaults and applies the
// environment.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Research.MaxIterations = envIntOr("RESEARCH_MAX_ITERATIONS", c.Research.MaxIterations)
	c.Research.MinQuality = envFloatOr("RESEARCH_MIN_QUALITY", c.Research.MinQuality)
	c.Research.PhaseTimeout = envDurationOr("RESEARCH_PHASE_TIMEOUT", c.Research.PhaseTimeout)

	if v := os.Getenv("RESEARCH_PROVIDERS"); v != "" {
		c.Search.Providers = splitList(v)
	}
	c.Search.ResultsPerQuery = envIntOr("RESEARCH_RESULTS_PER_QUERY", c.Search.ResultsPerQuery)
	c.Search.Concurrency = envIntOr("RESEARCH_CONCURRENCY", c.Search.Concurrency)
	c.Search.RetryAttempts = envIntOr("RESEARCH_RETRY_ATTEMPTS", c.Search.RetryAttempts)
	c.Search.RetryDelay = envDurationOr("RESEARCH_RETRY_DELAY", c.Search.RetryDelay)
	c.Search.CallTimeout = envDurationOr("RESEARCH_CALL_TIMEOUT", c.Search.CallTimeout)
	c.Search.TavilyAPIKey = envOr("TAVILY_API_KEY", c.Search.TavilyAPIKey)
	c.Search.SerperAPIKey = envOr("SERPER_API_KEY", c.Search.SerperAPIKey)

	c.Model.Provider = envOr("RESEARCH_MODEL_PROVIDER", c.Model.Provider)
	c.Model.Name = envOr("RESEARCH_MODEL", c.Model.Name)
	switch c.Model.Provider {
	case "anthropic":
		c.Model.APIKey = envOr("ANTHROPIC_API_KEY", c.Model.APIKey)
	case "openai":
		c.Model.APIKey = envOr("OPENAI_API_KEY", c.Model.APIKey)
	case "bedrock":
		c.Model.Region = envOr("AWS_REGION", c.Model.Region)
	}
	c.Model.TPM = envFloatOr("RESEARCH_MODEL_TPM", c.Model.TPM)
	c.Model.MaxTPM = envFloatOr("RESEARCH_MODEL_MAX_TPM", c.Model.MaxTPM)

	c.Cache.Backend = envOr("RESEARCH_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = envDurationOr("RESEARCH_CACHE_TTL", c.Cache.TTL)
	c.Sessions.Backend = envOr("RESEARCH_SESSIONS_BACKEND", c.Sessions.Backend)

	c.Stream.NATSURL = envOr("NATS_URL", c.Stream.NATSURL)
	c.Stream.MongoLog = envBoolOr("RESEARCH_MONGO_LOG", c.Stream.MongoLog)
	c.Redis.Addr = envOr("REDIS_URL", c.Redis.Addr)
	c.Redis.Password = envOr("REDIS_PASSWORD", c.Redis.Password)
	c.Mongo.URI = envOr("MONGO_URI", c.Mongo.URI)
	c.Mongo.Database = envOr("MONGO_DATABASE", c.Mongo.Database)
}

// Validate reports every problem with the configuration needed to start
// runs. The error wraps run.ErrConfiguration.
func (c Config) Validate() error {
	errs := c.storageErrors()
	r := c.Research
	if r.MaxIterations < 0 {
		errs = append(errs, errors.New("research.max_iterations must not be negative"))
	}
	if r.MinQuality < 0 || r.MinQuality > 10 {
		errs = append(errs, errors.New("research.min_quality_score must be between 0 and 10"))
	}
	if r.PhaseTimeout < 0 {
		errs = append(errs, errors.New("research.phase_timeout must not be negative"))
	}

	s := c.Search
	if len(s.Providers) == 0 {
		errs = append(errs, errors.New("search.providers must name at least one provider"))
	}
	for _, p := range s.Providers {
		if !slices.Contains(knownProviders, p) {
			errs = append(errs, fmt.Errorf("search.providers: unknown provider %q", p))
		}
	}
	if slices.Contains(s.Providers, "tavily") && s.TavilyAPIKey == "" {
		errs = append(errs, errors.New("tavily requires TAVILY_API_KEY"))
	}
	if slices.Contains(s.Providers, "serper") && s.SerperAPIKey == "" {
		errs = append(errs, errors.New("serper requires SERPER_API_KEY"))
	}
	if s.ResultsPerQuery <= 0 {
		errs = append(errs, errors.New("search.max_results_per_query must be positive"))
	}
	if s.Concurrency <= 0 {
		errs = append(errs, errors.New("search.max_parallel_searches must be positive"))
	}
	if s.RetryAttempts < 1 {
		errs = append(errs, errors.New("search.retry_attempts must be at least 1"))
	}
	if s.RetryDelay < 0 {
		errs = append(errs, errors.New("search.retry_delay must not be negative"))
	}

	m := c.Model
	switch m.Provider {
	case "anthropic", "openai":
		if m.APIKey == "" {
			errs = append(errs, fmt.Errorf("model provider %s requires an API key", m.Provider))
		}
	case "bedrock":
		if m.Region == "" {
			errs = append(errs, errors.New("model provider bedrock requires AWS_REGION"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.provider must be one of %s", strings.Join(knownModels, ", ")))
	}
	if m.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if m.Temperature < 0 || m.Temperature > 1 {
		errs = append(errs, errors.New("model.temperature must be between 0 and 1"))
	}
	if m.SharedBudget && c.Redis.Addr == "" {
		errs = append(errs, errors.New("model.shared_budget requires redis.addr"))
	}
	if c.Stream.Pulse && c.Redis.Addr == "" {
		errs = append(errs, errors.New("stream.pulse requires redis.addr"))
	}
	return wrapConfig(errs)
}

// ValidateStorage checks only what commands reading stored state need.
func (c Config) ValidateStorage() error {
	return wrapConfig(c.storageErrors())
}

func (c Config) storageErrors() []error {
	var errs []error
	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case backendMemory, backendRedis, backendMongo:
		default:
			errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
		}
		if c.Cache.TTL < 0 {
			errs = append(errs, errors.New("cache.ttl must not be negative"))
		}
	}
	switch c.Sessions.Backend {
	case backendMemory, backendMongo:
	default:
		errs = append(errs, fmt.Errorf("sessions.backend: unknown backend %q", c.Sessions.Backend))
	}
	if c.uses(backendRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required"))
	}
	if (c.uses(backendMongo) || c.Stream.MongoLog) && (c.Mongo.URI == "" || c.Mongo.Database == "") {
		errs = append(errs, errors.New("mongo.uri and mongo.database are required"))
	}
	return errs
}

// uses reports whether the cache or session store is on backend.
func (c Config) uses(backend string) bool {
	return (c.Cache.Enabled && c.Cache.Backend == backend) || c.Sessions.Backend == backend
}

func wrapConfig(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", run.ErrConfiguration, errors.Join(errs...))
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// envFloatOr returns the environment variable as float64 or a default.
func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envBoolOr returns the environment variable as bool or a default.
func envBoolOr(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
