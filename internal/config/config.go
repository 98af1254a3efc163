package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Server     ServerConfig     `yaml:"server"`
	Pool       PoolConfig       `yaml:"pool"`
	Retry      RetryConfig      `yaml:"retry"`
	Workers    WorkerConfig     `yaml:"workers"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig represents global application settings.
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ServerConfig identifies the remote file share.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ShareName      string        `yaml:"share_name"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Domain         string        `yaml:"domain"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PoolConfig represents connection pool settings.
type PoolConfig struct {
	Size              int           `yaml:"size"`
	AcquireWaitBudget time.Duration `yaml:"acquire_wait_budget"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// RetryConfig represents retry settings shared by the pool and the executor.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
	Backoff    float64       `yaml:"backoff"`
}

// WorkerConfig represents task scheduler settings.
type WorkerConfig struct {
	MaxThreads      int           `yaml:"max_threads"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// BackupConfig represents local backup settings.
type BackupConfig struct {
	Directory      string        `yaml:"directory"`
	RetentionHours int           `yaml:"retention_hours"`
	CleanupEvery   time.Duration `yaml:"cleanup_every"`
}

// MonitoringConfig represents metrics settings.
type MonitoringConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsPort    int    `yaml:"metrics_port"`
	MetricsPath    string `yaml:"metrics_path"`
}

// NewDefault returns a configuration with sensible defaults. Pool and retry
// defaults mirror the defaults the share driver was tuned against: a small
// pool, three attempts with doubling delay, five workers.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Port:           445,
			ConnectTimeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			Size:              3,
			AcquireWaitBudget: 30 * time.Second,
			MaxIdleTime:       5 * time.Minute,
			KeepaliveInterval: 60 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			Delay:      time.Second,
			Backoff:    2.0,
		},
		Workers: WorkerConfig{
			MaxThreads:      5,
			TaskTimeout:     5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Backup: BackupConfig{
			Directory:      filepath.Join(os.TempDir(), "dateshift_backups"),
			RetentionHours: 24,
			CleanupEvery:   time.Hour,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: false,
			MetricsPort:    9090,
			MetricsPath:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv applies DATESHIFT_* environment variable overrides.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("DATESHIFT_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("DATESHIFT_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("DATESHIFT_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Server.Port = port
		}
	}
	if val := os.Getenv("DATESHIFT_SHARE"); val != "" {
		c.Server.ShareName = val
	}
	if val := os.Getenv("DATESHIFT_USERNAME"); val != "" {
		c.Server.Username = val
	}
	if val := os.Getenv("DATESHIFT_PASSWORD"); val != "" {
		c.Server.Password = val
	}
	if val := os.Getenv("DATESHIFT_POOL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Pool.Size = size
		}
	}
	if val := os.Getenv("DATESHIFT_MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			c.Retry.MaxRetries = retries
		}
	}
	if val := os.Getenv("DATESHIFT_MAX_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			c.Workers.MaxThreads = workers
		}
	}
	if val := os.Getenv("DATESHIFT_BACKUP_DIR"); val != "" {
		c.Backup.Directory = val
	}
	if val := os.Getenv("DATESHIFT_METRICS_ENABLED"); val != "" {
		c.Monitoring.MetricsEnabled = strings.ToLower(val) == "true"
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file. The password is saved
// as-is; secret storage is the caller's concern.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool size must be greater than 0")
	}
	if c.Workers.MaxThreads <= 0 {
		return fmt.Errorf("max worker threads must be greater than 0")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Retry.Backoff < 1.0 {
		return fmt.Errorf("retry backoff must be >= 1.0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Backup.RetentionHours <= 0 {
		return fmt.Errorf("backup retention_hours must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if strings.ToUpper(c.Global.LogLevel) == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
