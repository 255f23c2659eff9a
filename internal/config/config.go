package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"metasync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Sync       SyncConfig       `yaml:"sync"`
	Reconcile  ReconcileConfig  `yaml:"reconcile"`
	API        APIConfig        `yaml:"api"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// CatalogConfig describes the external catalog API endpoint. A missing
// token or catalog id is a configuration error and blocks every sync side
// effect; it is never silently skipped.
type CatalogConfig struct {
	BaseURL        string        `yaml:"base_url"`
	CatalogID      string        `yaml:"catalog_id"`
	AccessToken    string        `yaml:"access_token"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	HourlyBudget   int           `yaml:"hourly_budget"`
	PageSize       int           `yaml:"page_size"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SyncConfig controls the processor and the worker queue.
type SyncConfig struct {
	// Disabled is the global kill-switch: mutating operations become
	// logged no-ops, read endpoints keep working.
	Disabled     bool          `yaml:"disabled"`
	MaxRetries   int           `yaml:"max_retries"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type ReconcileConfig struct {
	Enabled   bool   `yaml:"enabled"`
	RunAt     string `yaml:"run_at"` // "HH:MM", local time
	BatchSize int    `yaml:"batch_size"`
}

type APIConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Port            int                `yaml:"port"`
	AdminSecret     string             `yaml:"admin_secret"`
	SchedulerSecret string             `yaml:"scheduler_secret"`
	RateLimit       APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AlertingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	HealthCheckPort   int  `yaml:"health_check_port"`
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

func Load(configPath string) (*Config, error) {
	// .env не обязателен, но если есть — подхватываем
	_ = godotenv.Load(".env")

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

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Catalog.BaseURL == "" {
		return errors.New("catalog base_url is required")
	}
	if c.Catalog.CatalogID == "" {
		return errors.New("catalog catalog_id is required")
	}
	if c.Catalog.AccessToken == "" || c.Catalog.AccessToken == "YOUR_ACCESS_TOKEN_HERE" {
		return errors.New("catalog access token is required")
	}

	if c.Alerting.Enabled && c.Alerting.BotToken == "" {
		return errors.New("alerting.bot_token is required when alerting is enabled")
	}
	if c.API.Enabled && c.API.AdminSecret == "" {
		return errors.New("api.admin_secret is required when the API is enabled")
	}

	if c.Reconcile.RunAt != "" {
		if _, err := time.Parse("15:04", c.Reconcile.RunAt); err != nil {
			return fmt.Errorf("reconcile.run_at must be HH:MM: %w", err)
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Catalog.RequestTimeout == 0 {
		c.Catalog.RequestTimeout = 30 * time.Second
	}
	if c.Catalog.HourlyBudget == 0 {
		c.Catalog.HourlyBudget = 200
	}
	if c.Catalog.PageSize == 0 {
		c.Catalog.PageSize = models.DefaultPageSize
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.MaxRetries
	}
	if c.Sync.QueueSize == 0 {
		c.Sync.QueueSize = 128
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2 * time.Second
	}

	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = models.DefaultReconcileBatchSize
	}
	if c.Reconcile.RunAt == "" {
		c.Reconcile.RunAt = "03:00"
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 5
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
