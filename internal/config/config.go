package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the callcoach server and worker pool.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	AI          AIConfig          `mapstructure:"ai"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type ServerConfig struct {
	Port              int    `mapstructure:"port"      validate:"gt=0,lt=65536"`
	Env               string `mapstructure:"env"       validate:"required"`
	LogLevel          string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"            validate:"oneof=postgres sqlite"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AIConfig struct {
	Provider         string          `mapstructure:"provider"`
	InferenceTimeout time.Duration   `mapstructure:"inference_timeout" validate:"gt=0"`
	Ollama           OllamaConfig    `mapstructure:"ollama"`
	VLLM             VLLMConfig      `mapstructure:"vllm"`
	OpenAI           OpenAIConfig    `mapstructure:"openai"`
	Anthropic        AnthropicConfig `mapstructure:"anthropic"`
	Gemini           GeminiConfig    `mapstructure:"gemini"`
}

type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type VLLMConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type AnthropicConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

// WorkerConfig sizes the in-process drain loops.
type WorkerConfig struct {
	Count         int           `mapstructure:"count"          validate:"gt=0,lte=64"`
	PollInterval  time.Duration `mapstructure:"poll_interval"  validate:"gt=0"`
	LeaseDuration time.Duration `mapstructure:"lease_duration" validate:"gt=0"`
	ID            string        `mapstructure:"id"`
}

// MaintenanceConfig drives the periodic retry, cleanup and lease-reaper passes.
type MaintenanceConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	RetrySchedule   string `mapstructure:"retry_schedule"   validate:"required"`
	CleanupSchedule string `mapstructure:"cleanup_schedule" validate:"required"`
	ReapSchedule    string `mapstructure:"reap_schedule"    validate:"required"`
	MaxRetries      int    `mapstructure:"max_retries"      validate:"gt=0"`
	RetentionDays   int    `mapstructure:"retention_days"   validate:"gt=0"`
	ReapMaxAttempts int    `mapstructure:"reap_max_attempts" validate:"gt=0"`
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
	"gemini":    true,
	"mock":      true,
}

// binding maps a config key to its environment variable and default.
type binding struct {
	key string
	env string
	def any
}

var bindings = []binding{
	{"server.port", "CALLCOACH_PORT", 8080},
	{"server.env", "CALLCOACH_ENV", "development"},
	{"server.log_level", "LOG_LEVEL", "info"},
	{"server.requests_per_minute", "RATE_LIMIT_PER_MINUTE", 60},

	{"database.driver", "DATABASE_DRIVER", "postgres"},
	{"database.url", "DATABASE_URL", ""},
	{"database.max_open_conns", "DATABASE_MAX_OPEN_CONNS", 25},
	{"database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS", 5},
	{"database.conn_max_lifetime", "DATABASE_CONN_MAX_LIFETIME", 5 * time.Minute},
	{"database.migrations_dir", "DATABASE_MIGRATIONS_DIR", "migrations"},

	{"redis.url", "REDIS_URL", ""},

	{"ai.provider", "AI_PROVIDER", ""},
	{"ai.inference_timeout", "AI_INFERENCE_TIMEOUT", 60 * time.Second},
	{"ai.ollama.base_url", "OLLAMA_BASE_URL", "http://localhost:11434"},
	{"ai.ollama.model", "OLLAMA_MODEL", "llama3"},
	{"ai.vllm.base_url", "VLLM_BASE_URL", "http://localhost:8000"},
	{"ai.vllm.model", "VLLM_MODEL", ""},
	{"ai.openai.base_url", "OPENAI_BASE_URL", "https://api.openai.com"},
	{"ai.openai.api_key", "OPENAI_API_KEY", ""},
	{"ai.openai.model", "OPENAI_MODEL", "gpt-4o"},
	{"ai.anthropic.base_url", "ANTHROPIC_BASE_URL", "https://api.anthropic.com"},
	{"ai.anthropic.api_key", "ANTHROPIC_API_KEY", ""},
	{"ai.anthropic.model", "ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"},
	{"ai.gemini.api_key", "GEMINI_API_KEY", ""},
	{"ai.gemini.model", "GEMINI_MODEL", "gemini-2.0-flash"},

	{"worker.count", "WORKER_COUNT", 2},
	{"worker.poll_interval", "WORKER_POLL_INTERVAL", 5 * time.Second},
	{"worker.lease_duration", "WORKER_LEASE_DURATION", 5 * time.Minute},
	{"worker.id", "WORKER_ID", ""},

	{"maintenance.enabled", "MAINTENANCE_ENABLED", true},
	{"maintenance.retry_schedule", "MAINTENANCE_RETRY_SCHEDULE", "*/10 * * * *"},
	{"maintenance.cleanup_schedule", "MAINTENANCE_CLEANUP_SCHEDULE", "0 3 * * *"},
	{"maintenance.reap_schedule", "MAINTENANCE_REAP_SCHEDULE", "* * * * *"},
	{"maintenance.max_retries", "MAINTENANCE_MAX_RETRIES", 3},
	{"maintenance.retention_days", "MAINTENANCE_RETENTION_DAYS", 7},
	{"maintenance.reap_max_attempts", "MAINTENANCE_REAP_MAX_ATTEMPTS", 3},
}

// Load reads configuration from environment variables (and CONFIG_FILE, when set)
// and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	v := viper.New()
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b.env, err)
		}
	}

	if err := v.BindEnv("config_file", "CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("bind CONFIG_FILE: %w", err)
	}
	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Database.Driver == "postgres" &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// when DATABASE_DRIVER is postgres, got %q", c.Database.URL)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic, gemini, mock; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "gemini" && c.AI.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is gemini")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.Provider == "mock" && c.Server.Env == "production" {
		return fmt.Errorf("AI_PROVIDER mock is not allowed when CALLCOACH_ENV is production")
	}

	if c.AI.InferenceTimeout >= c.Worker.LeaseDuration {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT (%s) must be shorter than WORKER_LEASE_DURATION (%s)",
			c.AI.InferenceTimeout, c.Worker.LeaseDuration)
	}

	return nil
}
