package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/relaycord/core/internal/corerr"
)

// =============================================================================
// relaycord core - configuration with environment overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Bus        BusConfig        `yaml:"bus"`
	Redis      RedisConfig      `yaml:"redis"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	AgentGW    AgentGWConfig    `yaml:"agent_gateway"`
	Tenant     TenantConfig     `yaml:"tenant"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
	MaxInFlight      int      `yaml:"max_in_flight"`
}

// DatabaseConfig holds the tenant/config store (Supabase-backed) connection.
type DatabaseConfig struct {
	Supabase SupabaseConfig `yaml:"supabase"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// GatewayConfig controls the Discord shard ingress pool (§4.1).
type GatewayConfig struct {
	DiscordToken             string `yaml:"discord_token"`
	TotalShards              int    `yaml:"total_shards"`
	ShardRangeStart          int    `yaml:"shard_range_start"`
	ShardRangeEnd            int    `yaml:"shard_range_end"`
	MaxBufferedEvents        int    `yaml:"max_buffered_events"`
	ConsecutiveFailureLimit  int    `yaml:"consecutive_failure_limit"`
	FailureWindowSec         int    `yaml:"failure_window_sec"`
	BreakerCooldownSec       int    `yaml:"breaker_cooldown_sec"`
	Protocol7Normalization   bool   `yaml:"protocol_v7_normalization"`
}

// BusConfig controls the event bus binding (§4.2).
type BusConfig struct {
	Driver         string `yaml:"driver"` // "pubsub" or "local"
	ProjectID      string `yaml:"project_id"`
	TopicID        string `yaml:"topic_id"`
	SubjectPattern string `yaml:"subject_pattern"`
}

// RedisConfig is the shared key-value store used by the idempotency lock,
// rate limiter, and tenant-config reload channel (§4.3, §4.6).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LedgerConfig controls the relational ledger store (§4.4).
type LedgerConfig struct {
	PostgresDSN         string  `yaml:"postgres_dsn"`
	DriftToleranceBps   int     `yaml:"drift_tolerance_bps"`
	ReservationTTLSec   int     `yaml:"reservation_ttl_sec"`
	OCCMaxRetries       int     `yaml:"occ_max_retries"`
	OCCRetryBackoffMs   int     `yaml:"occ_retry_backoff_ms"`
}

// AgentGWConfig controls the LLM streaming proxy (§4.5).
type AgentGWConfig struct {
	UpstreamAddr           string `yaml:"upstream_addr"`
	SigningKeyID           string `yaml:"signing_key_id"`
	SigningKeySecret       string `yaml:"signing_key_secret"`
	PreviousSigningKeyID   string `yaml:"previous_signing_key_id"`
	PreviousSigningSecret  string `yaml:"previous_signing_secret"`
	ConnectTimeoutSec      int    `yaml:"connect_timeout_sec"`
	FirstByteTimeoutSec    int    `yaml:"first_byte_timeout_sec"`
	TotalTimeoutSec        int    `yaml:"total_timeout_sec"`
	BreakerErrorThreshold  float64 `yaml:"breaker_error_threshold"`
	BreakerMinRequests     int     `yaml:"breaker_min_requests"`
	BreakerCooldownSec     int     `yaml:"breaker_cooldown_sec"`
	DrainTimeoutSec        int     `yaml:"drain_timeout_sec"`
}

// TenantConfig holds default tier rate limits (§3.1, §4.6).
type TenantConfig struct {
	LocalCacheTTLSec int `yaml:"local_cache_ttl_sec"`
	PollIntervalSec  int `yaml:"poll_interval_sec"`
	FreePerMinute    int `yaml:"free_per_minute"`
	FreePerHour      int `yaml:"free_per_hour"`
	FreePerDay       int `yaml:"free_per_day"`
	ProPerMinute     int `yaml:"pro_per_minute"`
	ProPerHour       int `yaml:"pro_per_hour"`
	ProPerDay        int `yaml:"pro_per_day"`
}

// CloudTasksConfig schedules the reservation expiry and usage-reconciliation
// sweeps durably instead of a bare in-process ticker (§4.4, §4.5).
type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	Enabled    bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton pattern with environment overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			if corerr.Is(err, corerr.Fatal) {
				slog.Error("config: refusing to start", "error", err)
				os.Exit(1)
			}
			slog.Warn("config: failed to load config file, using defaults", "error", err)
			cfg = &Config{}
			cfg.applyEnvOverrides()
		}
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file, first loading a local .env (if
// present) so environment overrides below can reference it. Missing
// production secrets are a fatal error, not a silent default.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.IsProduction() {
		if err := cfg.validateProductionSecrets(); err != nil {
			return &cfg, err
		}
	}

	return &cfg, nil
}

// validateProductionSecrets enforces the §7 "fatal" error kind: a service
// must refuse to start in production with an empty or placeholder secret.
func (c *Config) validateProductionSecrets() error {
	placeholder := func(s string) bool {
		return s == "" || s == "changeme" || s == "replace-me"
	}
	if placeholder(c.AgentGW.SigningKeySecret) {
		return corerr.New(corerr.Fatal, "config: agent_gateway.signing_key_secret is unset in production")
	}
	if placeholder(c.Ledger.PostgresDSN) {
		return corerr.New(corerr.Fatal, "config: ledger.postgres_dsn is unset in production")
	}
	if placeholder(c.Database.Supabase.ServiceKey) {
		return corerr.New(corerr.Fatal, "config: database.supabase.service_key is unset in production")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("RELAYCORD_ENV", c.Server.Env)
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}

	c.Database.Supabase.URL = getEnv("SUPABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)

	c.Gateway.DiscordToken = getEnv("DISCORD_TOKEN", c.Gateway.DiscordToken)
	if v := getEnvInt("GATEWAY_TOTAL_SHARDS", 0); v > 0 {
		c.Gateway.TotalShards = v
	}
	if v := getEnvInt("GATEWAY_SHARD_RANGE_START", -1); v >= 0 {
		c.Gateway.ShardRangeStart = v
	}
	if v := getEnvInt("GATEWAY_SHARD_RANGE_END", -1); v >= 0 {
		c.Gateway.ShardRangeEnd = v
	}
	if v := getEnvInt("GATEWAY_MAX_BUFFERED_EVENTS", 0); v > 0 {
		c.Gateway.MaxBufferedEvents = v
	}
	// PROTOCOL_V7_NORMALIZATION is read into the config only; no code in this
	// tree consumes it (see SPEC_FULL.md §9 Open Question decision).
	c.Gateway.Protocol7Normalization = getEnvBool("PROTOCOL_V7_NORMALIZATION", c.Gateway.Protocol7Normalization)

	c.Bus.Driver = getEnv("BUS_DRIVER", c.Bus.Driver)
	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.Bus.ProjectID = projectID
		c.CloudTasks.ProjectID = projectID
	}
	c.Bus.TopicID = getEnv("BUS_TOPIC_ID", c.Bus.TopicID)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.Ledger.PostgresDSN = getEnv("LEDGER_POSTGRES_DSN", c.Ledger.PostgresDSN)
	if v := getEnvInt("LEDGER_DRIFT_TOLERANCE_BPS", 0); v > 0 {
		c.Ledger.DriftToleranceBps = v
	}
	if v := getEnvInt("LEDGER_RESERVATION_TTL_SEC", 0); v > 0 {
		c.Ledger.ReservationTTLSec = v
	}

	c.AgentGW.UpstreamAddr = getEnv("AGENT_GATEWAY_UPSTREAM_ADDR", c.AgentGW.UpstreamAddr)
	c.AgentGW.SigningKeyID = getEnv("AGENT_SIGNING_KEY_ID", c.AgentGW.SigningKeyID)
	c.AgentGW.SigningKeySecret = getEnv("AGENT_SIGNING_KEY_SECRET", c.AgentGW.SigningKeySecret)
	c.AgentGW.PreviousSigningKeyID = getEnv("AGENT_PREVIOUS_SIGNING_KEY_ID", c.AgentGW.PreviousSigningKeyID)
	c.AgentGW.PreviousSigningSecret = getEnv("AGENT_PREVIOUS_SIGNING_SECRET", c.AgentGW.PreviousSigningSecret)

	c.CloudTasks.LocationID = getEnv("CLOUD_TASKS_LOCATION", c.CloudTasks.LocationID)
	c.CloudTasks.QueueID = getEnv("CLOUD_TASKS_QUEUE", c.CloudTasks.QueueID)
	c.CloudTasks.Enabled = getEnvBool("CLOUD_TASKS_ENABLED", c.CloudTasks.Enabled)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields.
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Server.MaxInFlight == 0 {
		c.Server.MaxInFlight = 16
	}

	if c.Gateway.TotalShards == 0 {
		c.Gateway.TotalShards = 1
	}
	if c.Gateway.ShardRangeEnd == 0 {
		c.Gateway.ShardRangeEnd = c.Gateway.TotalShards - 1
	}
	if c.Gateway.MaxBufferedEvents == 0 {
		c.Gateway.MaxBufferedEvents = 1000
	}
	if c.Gateway.ConsecutiveFailureLimit == 0 {
		c.Gateway.ConsecutiveFailureLimit = 5
	}
	if c.Gateway.FailureWindowSec == 0 {
		c.Gateway.FailureWindowSec = 60
	}
	if c.Gateway.BreakerCooldownSec == 0 {
		c.Gateway.BreakerCooldownSec = 30
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "local"
	}
	if c.Bus.TopicID == "" {
		c.Bus.TopicID = "relaycord-events"
	}
	if c.Bus.SubjectPattern == "" {
		c.Bus.SubjectPattern = "events.>"
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}

	if c.Ledger.DriftToleranceBps == 0 {
		c.Ledger.DriftToleranceBps = 10 // 0.1%, see SPEC_FULL.md §9
	}
	if c.Ledger.ReservationTTLSec == 0 {
		c.Ledger.ReservationTTLSec = 300
	}
	if c.Ledger.OCCMaxRetries == 0 {
		c.Ledger.OCCMaxRetries = 3
	}
	if c.Ledger.OCCRetryBackoffMs == 0 {
		c.Ledger.OCCRetryBackoffMs = 10
	}

	if c.AgentGW.ConnectTimeoutSec == 0 {
		c.AgentGW.ConnectTimeoutSec = 5
	}
	if c.AgentGW.FirstByteTimeoutSec == 0 {
		c.AgentGW.FirstByteTimeoutSec = 15
	}
	if c.AgentGW.TotalTimeoutSec == 0 {
		c.AgentGW.TotalTimeoutSec = 120
	}
	if c.AgentGW.BreakerErrorThreshold == 0 {
		c.AgentGW.BreakerErrorThreshold = 0.5
	}
	if c.AgentGW.BreakerMinRequests == 0 {
		c.AgentGW.BreakerMinRequests = 20
	}
	if c.AgentGW.BreakerCooldownSec == 0 {
		c.AgentGW.BreakerCooldownSec = 30
	}
	if c.AgentGW.DrainTimeoutSec == 0 {
		c.AgentGW.DrainTimeoutSec = 120
	}

	if c.Tenant.LocalCacheTTLSec == 0 {
		c.Tenant.LocalCacheTTLSec = 30
	}
	if c.Tenant.PollIntervalSec == 0 {
		c.Tenant.PollIntervalSec = 30
	}
	if c.Tenant.FreePerMinute == 0 {
		c.Tenant.FreePerMinute = 20
	}
	if c.Tenant.FreePerHour == 0 {
		c.Tenant.FreePerHour = 500
	}
	if c.Tenant.FreePerDay == 0 {
		c.Tenant.FreePerDay = 2000
	}
	if c.Tenant.ProPerMinute == 0 {
		c.Tenant.ProPerMinute = 120
	}
	if c.Tenant.ProPerHour == 0 {
		c.Tenant.ProPerHour = 5000
	}
	if c.Tenant.ProPerDay == 0 {
		c.Tenant.ProPerDay = 50000
	}

	if c.CloudTasks.LocationID == "" {
		c.CloudTasks.LocationID = "us-central1"
	}
	if c.CloudTasks.QueueID == "" {
		c.CloudTasks.QueueID = "relaycord-sweeps"
	}
}

// =============================================================================
// Helper functions
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

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
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

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == ""
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}

func (c *Config) GetSupabaseURL() string {
	return c.Database.Supabase.URL
}

func (c *Config) GetSupabaseKey() string {
	return c.Database.Supabase.ServiceKey
}
