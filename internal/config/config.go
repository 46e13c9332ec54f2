package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"concierge/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Backend     BackendConfig     `yaml:"backend"`
	Sync        SyncConfig        `yaml:"sync"`
	Web         WebConfig         `yaml:"web"`
	Redis       RedisConfig       `yaml:"redis"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	Exports     ExportConfig      `yaml:"exports"`
	RecordStore RecordStoreConfig `yaml:"record_store"`
	API         APIConfig         `yaml:"api"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// BackendConfig points at the record API the scheduler syncs with.
type BackendConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	APIExtra string        `yaml:"api_extra"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	FlushInterval      time.Duration `yaml:"flush_interval"`
	AlertAfterFailures int           `yaml:"alert_after_failures"`
	TeardownRetries    int           `yaml:"teardown_retries"`
	TeardownTimeout    time.Duration `yaml:"teardown_timeout"`
	CheckpointKey      string        `yaml:"checkpoint_key"`
	PendingTTL         time.Duration `yaml:"pending_ttl"`
}

type WebConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// Timezone applies to drop timestamps the widget sends without an offset.
	Timezone string `yaml:"timezone"`
}

// Location resolves Timezone, defaulting to the host's local zone.
func (w WebConfig) Location() (*time.Location, error) {
	if w.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(w.Timezone)
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type TelegramConfig struct {
	BotToken     string  `yaml:"bot_token"`
	AlertChatIDs []int64 `yaml:"alert_chat_ids"`
	Debug        bool    `yaml:"debug"`
}

// Enabled reports whether sync alerts should go to Telegram.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && len(t.AlertChatIDs) > 0
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// RecordStoreConfig configures the reference record API.
type RecordStoreConfig struct {
	DatabasePath string              `yaml:"database_path"`
	SeedQueue    []models.QueueEntry `yaml:"seed_queue"`
	Backup       BackupConfig        `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key   string `yaml:"key"`
	Extra string `yaml:"extra"`
	Name  string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate checks settings shared by every command.
func (c *Config) Validate() error {
	if c.Sync.FlushInterval < time.Second {
		return errors.New("sync.flush_interval must be at least 1s")
	}
	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return errors.New("api.rate_limit must not be negative")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if c.Telegram.BotToken != "" && len(c.Telegram.AlertChatIDs) == 0 {
		return errors.New("telegram.alert_chat_ids is required when bot_token is set")
	}
	return ValidateQueue(c.RecordStore.SeedQueue)
}

// ValidateClient checks what the scheduler service needs on top of Validate.
func (c *Config) ValidateClient() error {
	if c.Backend.BaseURL == "" {
		return errors.New("backend.base_url is required")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address is required when redis is enabled")
	}
	if _, err := c.Web.Location(); err != nil {
		return fmt.Errorf("web.timezone: %w", err)
	}
	return nil
}

// ValidateRecordStore checks what the record API needs on top of Validate.
func (c *Config) ValidateRecordStore() error {
	if c.RecordStore.DatabasePath == "" {
		return errors.New("record_store.database_path is required")
	}
	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth.api_keys is required when auth is enabled")
	}
	return nil
}

func ValidateQueue(entries []models.QueueEntry) error {
	ids := make(map[int64]bool)
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("seed queue entry '%s': %w", e.Name, err)
		}
		if ids[e.ID] {
			return fmt.Errorf("duplicate queue entry ID found: %d", e.ID)
		}
		ids[e.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "concierge"
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = models.DefaultRequestTimeout
	}

	if c.Sync.FlushInterval == 0 {
		c.Sync.FlushInterval = models.DefaultFlushInterval
	}
	if c.Sync.AlertAfterFailures == 0 {
		c.Sync.AlertAfterFailures = models.DefaultAlertAfterFailures
	}
	if c.Sync.TeardownRetries == 0 {
		c.Sync.TeardownRetries = 3
	}
	if c.Sync.TeardownTimeout == 0 {
		c.Sync.TeardownTimeout = 15 * time.Second
	}
	if c.Sync.CheckpointKey == "" {
		c.Sync.CheckpointKey = c.App.Name
	}
	if c.Sync.PendingTTL == 0 {
		c.Sync.PendingTTL = models.DefaultPendingTTL
	}

	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Redis.CacheTTL == 0 {
		c.Redis.CacheTTL = models.DefaultLoadCacheTTL
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}

	if c.RecordStore.DatabasePath == "" {
		c.RecordStore.DatabasePath = "./data/concierge.db"
	}
	if c.RecordStore.Backup.Enabled && c.RecordStore.Backup.StoragePath == "" {
		c.RecordStore.Backup.StoragePath = "./data/backups"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8090
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8091
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
}
