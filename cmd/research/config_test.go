package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Model.APIKey = "key"
	return cfg
}

func TestDefaultConfigMatchesOriginalDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 5, cfg.Search.ResultsPerQuery)
	require.Equal(t, 5, cfg.Search.Concurrency)
	require.Equal(t, 3, cfg.Search.RetryAttempts)
	require.Equal(t, time.Second, cfg.Search.RetryDelay)
	require.Equal(t, 7.0, cfg.Research.MinQuality)
	require.Equal(t, 2, cfg.Research.MaxIterations)
	require.Equal(t, 24*time.Hour, cfg.Cache.TTL)
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
research:
  max_iterations: 4
  phase_timeout: 90s
search:
  providers: [tavily, wikipedia]
  retry_delay: 250ms
cache:
  enabled: true
  backend: redis
  ttl: 1h
`), 0o600))
	t.Setenv("TAVILY_API_KEY", "tvly")
	t.Setenv("RESEARCH_MAX_ITERATIONS", "1")
	t.Setenv("REDIS_URL", "redis:6380")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Research.MaxIterations)
	require.Equal(t, 90*time.Second, cfg.Research.PhaseTimeout)
	require.Equal(t, []string{"tavily", "wikipedia"}, cfg.Search.Providers)
	require.Equal(t, 250*time.Millisecond, cfg.Search.RetryDelay)
	require.Equal(t, "tvly", cfg.Search.TavilyAPIKey)
	require.Equal(t, backendRedis, cfg.Cache.Backend)
	require.Equal(t, time.Hour, cfg.Cache.TTL)
	require.Equal(t, "redis:6380", cfg.Redis.Addr)
	require.Equal(t, 5, cfg.Search.Concurrency)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestModelKeyFollowsProvider(t *testing.T) {
	t.Setenv("RESEARCH_MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-open")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, "sk-open", cfg.Model.APIKey)
}

func TestEnvProvidersList(t *testing.T) {
	t.Setenv("RESEARCH_PROVIDERS", " serper , duckduckgo,,")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, []string{"serper", "duckduckgo"}, cfg.Search.Providers)
}

func TestInvalidEnvValuesIgnored(t *testing.T) {
	t.Setenv("RESEARCH_CONCURRENCY", "many")
	t.Setenv("RESEARCH_MIN_QUALITY", "high")
	t.Setenv("RESEARCH_RETRY_DELAY", "soon")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Search.Concurrency)
	require.Equal(t, 7.0, cfg.Research.MinQuality)
	require.Equal(t, time.Second, cfg.Search.RetryDelay)
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Model.APIKey = ""
	cfg.Search.Providers = []string{"tavily", "bing"}
	cfg.Search.Concurrency = 0
	cfg.Research.MinQuality = 11

	err := cfg.Validate()
	require.ErrorIs(t, err, run.ErrConfiguration)
	msg := err.Error()
	require.Contains(t, msg, "requires an API key")
	require.Contains(t, msg, `unknown provider "bing"`)
	require.Contains(t, msg, "TAVILY_API_KEY")
	require.Contains(t, msg, "max_parallel_searches")
	require.Contains(t, msg, "min_quality_score")
}

func TestValidateRequiresProviders(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Providers = nil
	require.ErrorIs(t, cfg.Validate(), run.ErrConfiguration)
}

func TestValidateBedrockNeedsRegion(t *testing.T) {
	cfg := validConfig()
	cfg.Model.Provider = "bedrock"
	require.ErrorContains(t, cfg.Validate(), "AWS_REGION")
	cfg.Model.Region = "us-east-1"
	require.NoError(t, cfg.Validate())
}

func TestValidateStorageIgnoresModel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model.Provider = "unknown"
	require.NoError(t, cfg.ValidateStorage())

	cfg.Sessions.Backend = "sqlite"
	require.ErrorContains(t, cfg.ValidateStorage(), "sessions.backend")

	cfg.Sessions.Backend = backendMongo
	cfg.Mongo.URI = ""
	require.ErrorContains(t, cfg.ValidateStorage(), "mongo.uri")
}

func TestDisabledCacheSkipsBackendCheck(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Enabled = false
	cfg.Cache.Backend = "nowhere"
	require.NoError(t, cfg.ValidateStorage())
	require.False(t, cfg.uses("nowhere"))
}

func TestMongoLogNeedsConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.MongoLog = true
	cfg.Mongo.URI = ""
	require.ErrorContains(t, cfg.ValidateStorage(), "mongo.uri")

	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "research"
	require.NoError(t, cfg.ValidateStorage())
}

func TestMongoLogFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "research.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stream:\n  mongo_log: true\n"), 0o600))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.Stream.MongoLog)

	t.Setenv("RESEARCH_MONGO_LOG", "false")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.False(t, cfg.Stream.MongoLog)

	t.Setenv("RESEARCH_MONGO_LOG", "maybe")
	cfg, err = LoadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.Stream.MongoLog)
}
