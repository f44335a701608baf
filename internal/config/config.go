package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds per-provider settings for LLM providers.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
}

// LLMConfig holds configuration for the reviewer model backends.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai", "openai_compatible".
	Provider string `yaml:"provider"`

	GeminiModel    string `yaml:"gemini_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIModel    string `yaml:"openai_model"`

	// OpenAICompatible config.
	OpenAICompatibleProvider string `yaml:"openai_compatible_provider"`
	OpenAICompatibleBaseURL  string `yaml:"openai_compatible_base_url"`
}

// MemoryConfig locates the shared memory files inside the reviewed repository.
type MemoryConfig struct {
	// Dir is the memory directory relative to the repository root.
	Dir string `yaml:"dir"`

	// LogFile is the append log filename within Dir.
	LogFile string `yaml:"log_file"`

	// IndexFile is the disposable index filename within the revclaw home dir.
	// The index is derived state and never committed.
	IndexFile string `yaml:"index_file"`
}

// EmbeddingConfig controls the optional embedding backend.
type EmbeddingConfig struct {
	// Provider is "ollama" or "none". With "none" the memory store runs
	// in substring-match mode and saves proceed without vectors.
	Provider string `yaml:"provider"`

	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Dimensions is the expected vector length. Vectors of any other
	// length are rejected at save time.
	Dimensions int `yaml:"dimensions"`

	TimeoutSeconds int `yaml:"timeout_seconds"`

	// BackfillSchedule is a cron expression for re-embedding records that
	// were saved while the provider was unreachable. Empty disables it.
	BackfillSchedule string `yaml:"backfill_schedule"`
}

// RouterConfig tunes agent selection.
type RouterConfig struct {
	// MinScore is the heuristic score at which a category's agent is selected.
	MinScore int `yaml:"min_score"`

	// MemoryMinSimilarity is the cosine similarity floor for past records
	// to influence routing.
	MemoryMinSimilarity float64 `yaml:"memory_min_similarity"`

	// MemoryMaxHits caps how many past records are consulted per decision.
	MemoryMaxHits int `yaml:"memory_max_hits"`

	// MaxAgents caps the selected set. 0 means no cap.
	MaxAgents int `yaml:"max_agents"`
}

// GuardConfig controls how memory changes are committed and pushed.
type GuardConfig struct {
	Remote string `yaml:"remote"`
	Branch string `yaml:"branch"`

	// SkipCIMarker is appended to commit subjects so CI ignores memory commits.
	SkipCIMarker string `yaml:"skip_ci_marker"`

	// PushRetries is how many rebase-and-retry attempts follow a rejected push.
	PushRetries int `yaml:"push_retries"`

	// AuthorName and AuthorEmail identify the bot in memory commits.
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// OtelConfig controls trace/metric export.
type OtelConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
	Enabled bool    `yaml:"enabled"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// RepoDir is the reviewed repository root. Defaults to the working directory.
	RepoDir string `yaml:"repo_dir"`

	WorkerCount         int    `yaml:"worker_count"`
	AgentTimeoutSeconds int    `yaml:"agent_timeout_seconds"`
	LogLevel            string `yaml:"log_level"`

	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Router    RouterConfig    `yaml:"router"`
	Guard     GuardConfig     `yaml:"guard"`

	LLM       LLMConfig                 `yaml:"llm"`
	Providers map[string]ProviderConfig `yaml:"providers"`

	Otel     OtelConfig     `yaml:"otel"`
	Channels ChannelsConfig `yaml:"channels"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// LogPath returns the absolute path of the append log.
func (c Config) LogPath() string {
	return filepath.Join(c.RepoDir, c.Memory.Dir, c.Memory.LogFile)
}

// IndexPath returns the absolute path of the disposable index database.
func (c Config) IndexPath() string {
	return filepath.Join(c.HomeDir, c.Memory.IndexFile)
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
// Env vars take precedence: ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GOOGLE_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective reviewer model configuration.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}

	switch provider {
	case "anthropic":
		model = c.LLM.AnthropicModel
	case "openai", "openai_compatible", "openrouter":
		model = c.LLM.OpenAIModel
	case "google":
		model = c.LLM.GeminiModel
	}

	apiKey = c.LLMProviderAPIKey(provider)
	return provider, model, apiKey
}

// Fingerprint returns a stable hash of the routing-relevant config, recorded
// with every routing decision so past runs stay attributable.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "minscore=%d|sim=%.3f|hits=%d|max=%d|embed=%s:%s:%d|workers=%d",
		c.Router.MinScore, c.Router.MemoryMinSimilarity, c.Router.MemoryMaxHits, c.Router.MaxAgents,
		c.Embedding.Provider, c.Embedding.Model, c.Embedding.Dimensions, c.WorkerCount)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		RepoDir:             ".",
		WorkerCount:         3,
		AgentTimeoutSeconds: int((5 * time.Minute).Seconds()),
		LogLevel:            "info",
		Memory: MemoryConfig{
			Dir:       ".revclaw/memory",
			LogFile:   "log.jsonl",
			IndexFile: "index.db",
		},
		Embedding: EmbeddingConfig{
			Provider:       "none",
			BaseURL:        "http://localhost:11434",
			Model:          "nomic-embed-text",
			Dimensions:     768,
			TimeoutSeconds: 10,
		},
		Router: RouterConfig{
			MinScore:            2,
			MemoryMinSimilarity: 0.75,
			MemoryMaxHits:       5,
		},
		Guard: GuardConfig{
			Remote:       "origin",
			SkipCIMarker: "[revclaw skip-ci]",
			PushRetries:  1,
			AuthorName:   "revclaw-bot",
			AuthorEmail:  "revclaw-bot@users.noreply.github.com",
		},
		Otel: OtelConfig{
			Exporter:    "none",
			ServiceName: "revclaw",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("REVCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".revclaw")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create revclaw home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.RepoDir) == "" {
		cfg.RepoDir = "."
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.AgentTimeoutSeconds <= 0 {
		cfg.AgentTimeoutSeconds = int((5 * time.Minute).Seconds())
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.Memory.Dir) == "" {
		cfg.Memory.Dir = ".revclaw/memory"
	}
	if cfg.Memory.LogFile == "" {
		cfg.Memory.LogFile = "log.jsonl"
	}
	if cfg.Memory.IndexFile == "" {
		cfg.Memory.IndexFile = "index.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "none"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:11434"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Dimensions <= 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.TimeoutSeconds <= 0 {
		cfg.Embedding.TimeoutSeconds = 10
	}
	if cfg.Router.MinScore <= 0 {
		cfg.Router.MinScore = 2
	}
	if cfg.Router.MemoryMinSimilarity <= 0 {
		cfg.Router.MemoryMinSimilarity = 0.75
	}
	if cfg.Router.MemoryMaxHits <= 0 {
		cfg.Router.MemoryMaxHits = 5
	}
	if cfg.Guard.Remote == "" {
		cfg.Guard.Remote = "origin"
	}
	if cfg.Guard.SkipCIMarker == "" {
		cfg.Guard.SkipCIMarker = "[revclaw skip-ci]"
	}
	if cfg.Guard.PushRetries < 0 {
		cfg.Guard.PushRetries = 1
	}
	if cfg.Guard.AuthorName == "" {
		cfg.Guard.AuthorName = "revclaw-bot"
	}
	if cfg.Guard.AuthorEmail == "" {
		cfg.Guard.AuthorEmail = "revclaw-bot@users.noreply.github.com"
	}
	if cfg.Otel.Exporter == "" {
		cfg.Otel.Exporter = "none"
	}
	if cfg.Otel.ServiceName == "" {
		cfg.Otel.ServiceName = "revclaw"
	}
}

func validate(cfg *Config) error {
	switch cfg.Embedding.Provider {
	case "ollama", "none":
	default:
		return fmt.Errorf("embedding.provider %q not supported (want ollama or none)", cfg.Embedding.Provider)
	}
	if cfg.Router.MemoryMinSimilarity > 1 {
		return fmt.Errorf("router.memory_min_similarity %v out of range (0,1]", cfg.Router.MemoryMinSimilarity)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("REVCLAW_REPO_DIR"); raw != "" {
		cfg.RepoDir = raw
	}
	if raw := os.Getenv("REVCLAW_WORKER_COUNT"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.WorkerCount = v
		}
	}
	if raw := os.Getenv("REVCLAW_AGENT_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.AgentTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("REVCLAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("REVCLAW_EMBEDDING_PROVIDER"); raw != "" {
		cfg.Embedding.Provider = raw
	}
	if raw := os.Getenv("OLLAMA_BASE_URL"); raw != "" {
		cfg.Embedding.BaseURL = raw
	}
	if raw := os.Getenv("REVCLAW_SKIP_CI_MARKER"); raw != "" {
		cfg.Guard.SkipCIMarker = raw
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
	}
	if raw := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); raw != "" {
		cfg.Otel.Endpoint = raw
		if cfg.Otel.Exporter == "none" {
			cfg.Otel.Exporter = "otlp-http"
		}
		cfg.Otel.Enabled = true
	}
}

// loadRawConfig reads config.yaml into a generic map, returning an empty map if the file doesn't exist.
func loadRawConfig(path string) (map[string]interface{}, error) {
	raw := make(map[string]interface{})
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	return raw, nil
}

func saveRawConfig(path string, raw map[string]interface{}) error {
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// SetEmbeddingProvider updates the embedding provider in config.yaml, preserving other settings.
func SetEmbeddingProvider(homeDir, provider string) error {
	configPath := ConfigPath(homeDir)
	raw, err := loadRawConfig(configPath)
	if err != nil {
		return err
	}
	embedding, _ := raw["embedding"].(map[string]interface{})
	if embedding == nil {
		embedding = make(map[string]interface{})
	}
	embedding["provider"] = provider
	raw["embedding"] = embedding
	return saveRawConfig(configPath, raw)
}
