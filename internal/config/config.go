package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Configuration with Environment Overrides
// =============================================================================

// maxTimerDuration is the timer-precision ceiling for cleanup intervals:
// 2^31-1 milliseconds, the classic setTimeout-style bound.
const maxTimerDuration = time.Duration(1<<31-1) * time.Millisecond

// Config is the immutable, process-wide configuration value, built once by
// Load and handed to the components that need it.
type Config struct {
	Server    ServerConfig
	Workspace WorkspaceConfig
	Session   SessionConfig
	AI        AIConfig
	Mongo     MongoConfig
	Redis     RedisConfig
	Vault     VaultConfig
	Legacy    LegacyConfig
	Dispatch  DispatchConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type WorkspaceConfig struct {
	WorkDir         string
	MaxIdleTime     time.Duration
	CleanupInterval time.Duration
}

type SessionConfig struct {
	Enabled         bool
	MaxIdleTime     time.Duration
	MaxSessions     int
	CleanupInterval time.Duration
	StorePath       string
}

type AIConfig struct {
	DefaultExecutor    string // "claude" | "codex"
	CodeReviewExecutor string
	AnthropicBaseURL   string
	AnthropicAuthToken string
	ExecutionTimeout   time.Duration
}

type MongoConfig struct {
	URI string
	DB  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// VaultConfig holds the raw key material (base64 or hex) for the secret vault.
type VaultConfig struct {
	EncryptionKey string
}

type LegacyConfig struct {
	GitLabBaseURL string
	GitLabToken   string
	WebhookSecret string
}

type DispatchConfig struct {
	Backend          string // "inmemory" | "cloudtasks"
	Workers          int
	GCPProjectID     string
	GCPLocationID    string
	GCPQueueID       string
	TaskTargetURL    string
	TaskServiceToken string
	PubSubProjectID  string
	PubSubTopicID    string
	PubSubEnabled    bool
}

type LoggingConfig struct {
	Level string
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton, loading it on first call. It
// panics on a validation failure — an invalid core configuration cannot
// safely serve webhooks, so there is no degraded mode to fall back to.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("config: %v", err))
		}
		instance = cfg
	})
	return instance
}

// Load reads environment variables (after attempting to load a .env file,
// ignoring its absence) into a validated Config.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional, dev convenience; missing file is not an error

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 3000),
			Env:  getEnv("APP_ENV", "development"),
		},
		Workspace: WorkspaceConfig{
			WorkDir:         getEnv("WORK_DIR", "/tmp/gitlab-copilot-work"),
			MaxIdleTime:     getEnvDuration("WORKSPACE_MAX_IDLE_TIME", 24*time.Hour),
			CleanupInterval: getEnvDuration("WORKSPACE_CLEANUP_INTERVAL", 6*time.Hour),
		},
		Session: SessionConfig{
			Enabled:         getEnvBool("SESSION_ENABLED", true),
			MaxIdleTime:     getEnvDuration("SESSION_MAX_IDLE_TIME", 7*24*time.Hour),
			MaxSessions:     getEnvInt("SESSION_MAX_SESSIONS", 10000),
			CleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour),
			StorePath:       getEnv("SESSION_STORE_PATH", ""),
		},
		AI: AIConfig{
			DefaultExecutor:    getEnv("AI_EXECUTOR", "claude"),
			CodeReviewExecutor: getEnv("CODE_REVIEW_EXECUTOR", "claude"),
			AnthropicBaseURL:   getEnv("ANTHROPIC_BASE_URL", ""),
			AnthropicAuthToken: getEnv("ANTHROPIC_AUTH_TOKEN", ""),
			ExecutionTimeout:   getEnvDuration("AI_EXECUTION_TIMEOUT", 20*time.Minute),
		},
		Mongo: MongoConfig{
			URI: getEnv("MONGODB_URI", ""),
			DB:  getEnv("MONGODB_DB", "gitlab_copilot"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Vault: VaultConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		},
		Legacy: LegacyConfig{
			GitLabBaseURL: getEnv("GITLAB_BASE_URL", ""),
			GitLabToken:   getEnv("GITLAB_TOKEN", ""),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Dispatch: DispatchConfig{
			Backend:          getEnv("AI_DISPATCH_BACKEND", "inmemory"),
			Workers:          getEnvInt("DISPATCH_WORKERS", 4),
			GCPProjectID:     getEnv("GCP_PROJECT_ID", ""),
			GCPLocationID:    getEnv("CLOUD_TASKS_LOCATION", "us-central1"),
			GCPQueueID:       getEnv("CLOUD_TASKS_QUEUE", "webhook-processing"),
			TaskTargetURL:    getEnv("CLOUD_TASKS_TARGET_URL", ""),
			TaskServiceToken: getEnv("CLOUD_TASKS_SERVICE_TOKEN", ""),
			PubSubProjectID:  getEnv("GCP_PROJECT_ID", ""),
			PubSubTopicID:    getEnv("PUBSUB_PROGRESS_TOPIC", "copilot-progress"),
			PubSubEnabled:   getEnvBool("PUBSUB_ENABLED", false),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Server.Port)
	}

	hasPlatform := c.Mongo.URI != "" && c.Vault.EncryptionKey != ""
	hasLegacy := c.Legacy.GitLabBaseURL != "" && c.Legacy.GitLabToken != "" && c.Legacy.WebhookSecret != ""
	if !hasPlatform && !hasLegacy {
		return fmt.Errorf("neither platform credentials (MONGODB_URI+ENCRYPTION_KEY) nor legacy credentials (GITLAB_BASE_URL+GITLAB_TOKEN+WEBHOOK_SECRET) are fully configured")
	}

	minuteFloors := map[string]time.Duration{
		"WORKSPACE_MAX_IDLE_TIME": c.Workspace.MaxIdleTime,
		"SESSION_MAX_IDLE_TIME":   c.Session.MaxIdleTime,
		"AI_EXECUTION_TIMEOUT":    c.AI.ExecutionTimeout,
	}
	for name, d := range minuteFloors {
		if d < time.Minute {
			return fmt.Errorf("%s must be at least one minute, got %s", name, d)
		}
	}

	intervals := map[string]time.Duration{
		"WORKSPACE_CLEANUP_INTERVAL": c.Workspace.CleanupInterval,
		"SESSION_CLEANUP_INTERVAL":   c.Session.CleanupInterval,
	}
	for name, d := range intervals {
		if d < time.Minute {
			return fmt.Errorf("%s must be at least one minute, got %s", name, d)
		}
		if d > maxTimerDuration {
			return fmt.Errorf("%s exceeds the maximum timer duration (%s)", name, maxTimerDuration)
		}
	}

	return nil
}

// NewLogger builds the process-wide slog.Logger: JSON handler in
// production, text handler otherwise.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Logging.Level)}

	var handler slog.Handler
	if c.Server.Env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration parses the spec's duration syntax ("<n>{d|h|m|s}" or a
// plain millisecond integer), falling back to defaultVal on a missing or
// malformed value. validate() enforces the real floor/ceiling afterwards.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// ParseDuration accepts "<n>d", "<n>h", "<n>m", "<n>s", or a bare integer
// interpreted as milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	unit := s[len(s)-1]
	switch unit {
	case 'd', 'h', 'm', 's':
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		switch unit {
		case 'd':
			return time.Duration(n * float64(24*time.Hour)), nil
		case 'h':
			return time.Duration(n * float64(time.Hour)), nil
		case 'm':
			return time.Duration(n * float64(time.Minute)), nil
		default: // 's'
			return time.Duration(n * float64(time.Second)), nil
		}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
