package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string           `mapstructure:"environment"`
	LogLevel    string           `mapstructure:"log_level"`
	Consensus   ConsensusConfig  `mapstructure:"consensus"`
	Validation  ValidationConfig `mapstructure:"validation"`
	Audit       AuditConfig      `mapstructure:"audit"`
	Monitoring  MonitoringConfig `mapstructure:"monitoring"`
	Security    SecurityConfig   `mapstructure:"security"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Scheduler   SchedConfig      `mapstructure:"scheduler"`
	P2P         P2PConfig        `mapstructure:"p2p"`
}

// ConsensusConfig holds consensus engine settings
type ConsensusConfig struct {
	Threshold   int           `mapstructure:"threshold"`
	Timeout     time.Duration `mapstructure:"timeout"`
	EventBuffer int           `mapstructure:"event_buffer"`
}

// ValidationConfig holds validation engine settings
type ValidationConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	FilePath      string `mapstructure:"file_path"`
	MaxEntries    int    `mapstructure:"max_entries"`
	RetentionDays int    `mapstructure:"retention_days"`
	MaxFileSizeMB int    `mapstructure:"max_file_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups"`
}

// MonitoringConfig holds monitoring engine settings
type MonitoringConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MaxHistorySize int           `mapstructure:"max_history_size"`
	RetentionDays  int           `mapstructure:"retention_days"`
	CPUThreshold   float64       `mapstructure:"cpu_threshold"`
	MemThreshold   float64       `mapstructure:"mem_threshold"`
	DiskThreshold  float64       `mapstructure:"disk_threshold"`
	ResponseTimeMs float64       `mapstructure:"response_time_ms"`
	ErrorRate      float64       `mapstructure:"error_rate"`
}

// SecurityConfig holds cryptographic settings
type SecurityConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry"`
	KeyFile     string        `mapstructure:"key_file"`
}

// DatabaseConfig holds the optional Postgres audit store settings
type DatabaseConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SchedConfig holds maintenance scheduler settings
type SchedConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	CleanupSpec   string        `mapstructure:"cleanup_spec"`
}

// P2PConfig holds the optional vote gateway settings
type P2PConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	Topic          string   `mapstructure:"topic"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
			// Config file not found, rely on defaults and env vars
		}
	}

	v.SetEnvPrefix("AGRISAFE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("consensus.threshold", 3)
	v.SetDefault("consensus.timeout", "30s")
	v.SetDefault("consensus.event_buffer", 256)

	v.SetDefault("validation.history_size", 1000)

	v.SetDefault("audit.file_path", "audit.log")
	v.SetDefault("audit.max_entries", 10000)
	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.max_file_size_mb", 100)
	v.SetDefault("audit.max_backups", 5)

	v.SetDefault("monitoring.interval", "5s")
	v.SetDefault("monitoring.max_history_size", 1000)
	v.SetDefault("monitoring.retention_days", 7)
	v.SetDefault("monitoring.cpu_threshold", 80)
	v.SetDefault("monitoring.mem_threshold", 85)
	v.SetDefault("monitoring.disk_threshold", 90)
	v.SetDefault("monitoring.response_time_ms", 5000)
	v.SetDefault("monitoring.error_rate", 5)

	v.SetDefault("security.token_expiry", "24h")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")

	v.SetDefault("scheduler.max_concurrent", 4)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "1m")
	v.SetDefault("scheduler.cleanup_spec", "0 0 3 * * *")

	v.SetDefault("p2p.enabled", false)
	v.SetDefault("p2p.port", 9000)
	v.SetDefault("p2p.topic", "consensus")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateConsensus(); err != nil {
		return fmt.Errorf("consensus config: %w", err)
	}
	if err := c.validateAudit(); err != nil {
		return fmt.Errorf("audit config: %w", err)
	}
	if err := c.validateMonitoring(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}
	if err := c.validateDatabase(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}
	if err := c.validateP2P(); err != nil {
		return fmt.Errorf("p2p config: %w", err)
	}
	return nil
}

func (c *Config) validateConsensus() error {
	if c.Consensus.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1")
	}
	if c.Consensus.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s")
	}
	if c.Consensus.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if c.Audit.FilePath == "" {
		return fmt.Errorf("file_path cannot be empty")
	}
	if c.Audit.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("retention_days must be positive")
	}
	return nil
}

func (c *Config) validateMonitoring() error {
	if c.Monitoring.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.Monitoring.MaxHistorySize <= 0 {
		return fmt.Errorf("max_history_size must be positive")
	}
	for name, v := range map[string]float64{
		"cpu_threshold":  c.Monitoring.CPUThreshold,
		"mem_threshold":  c.Monitoring.MemThreshold,
		"disk_threshold": c.Monitoring.DiskThreshold,
	} {
		if v <= 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL cannot be empty")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}
	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}
	return nil
}

func (c *Config) validateP2P() error {
	if !c.P2P.Enabled {
		return nil
	}
	if c.P2P.Port <= 0 || c.P2P.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", c.P2P.Port)
	}
	if c.P2P.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
