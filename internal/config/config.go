// Package config provides configuration management for the Payouts
// bulk-operation service.
//
// Configuration is loaded from, in increasing precedence:
// 1. Default values
// 2. config.yaml file (optional)
// 3. A .env file (optional, loaded into the process environment)
// 4. Environment variables (DATABASE_URL, SERVER_PORT, OPERATIONS_MAX_FILE_SIZE_BYTES, ...)
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	River         RiverConfig         `mapstructure:"river"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Operations    OperationsConfig    `mapstructure:"operations"`
	Rollback      RollbackConfig      `mapstructure:"rollback"`
	Collaborators CollaboratorsConfig `mapstructure:"collaborators"`
	Security      SecurityConfig      `mapstructure:"security"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// An empty URL and host select the in-memory stores.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// Pool configuration (shared by repositories and River)
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// Enabled reports whether a PostgreSQL database is configured.
func (c DatabaseConfig) Enabled() bool {
	return c.URL != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	OperationsMaxWorkers        int           `mapstructure:"operations_max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	ExecutionPoolSize int `mapstructure:"execution_pool_size"`
}

// OperationsConfig governs uploads and the approval gate.
type OperationsConfig struct {
	AllowedExtensions []string       `mapstructure:"allowed_extensions"`
	MaxFileSizeBytes  int64          `mapstructure:"max_file_size_bytes"`
	Approval          ApprovalConfig `mapstructure:"approval"`
	// ExecutionTimeout bounds one executor stream.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// ApprovalConfig holds the thresholds above which an operation needs approval.
// MaxMonetaryImpact is a decimal string so large amounts survive env overrides.
type ApprovalConfig struct {
	MaxRecords        int    `mapstructure:"max_records"`
	MaxMonetaryImpact string `mapstructure:"max_monetary_impact"`
}

// MonetaryThreshold parses MaxMonetaryImpact.
func (c ApprovalConfig) MonetaryThreshold() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(c.MaxMonetaryImpact))
}

// RollbackConfig contains rollback window settings.
type RollbackConfig struct {
	Window time.Duration `mapstructure:"window"`
	// SweepSchedule is a standard cron expression (or @every descriptor)
	// for marking overdue records expired.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// CollaboratorsConfig points at the external ingestion, validation,
// execution and impact-analysis services. Empty base URLs use the
// in-process implementations.
type CollaboratorsConfig struct {
	IngestionURL      string        `mapstructure:"ingestion_url"`
	ValidationURL     string        `mapstructure:"validation_url"`
	ExecutionURL      string        `mapstructure:"execution_url"`
	ImpactAnalysisURL string        `mapstructure:"impact_analysis_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	APIToken          string        `mapstructure:"api_token"`

	// Rules of the in-process validator and executor.
	SinglePayoutLimit string   `mapstructure:"single_payout_limit"`
	Tiers             []string `mapstructure:"tiers"`
	BatchSize         int      `mapstructure:"batch_size"`
}

// PayoutLimit parses SinglePayoutLimit. Empty disables the check.
func (c CollaboratorsConfig) PayoutLimit() (decimal.Decimal, error) {
	if strings.TrimSpace(c.SinglePayoutLimit) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(c.SinglePayoutLimit))
}

// SecurityConfig contains token settings.
type SecurityConfig struct {
	JWTSigningKey       string        `mapstructure:"jwt_signing_key"`
	JWTVerificationKeys []string      `mapstructure:"jwt_verification_keys"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	TokenLifetime       time.Duration `mapstructure:"token_lifetime"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// envFile names a dotenv file; empty means ./.env if present.
func Load(envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payouts")

	// No prefix: nested keys map as operations.max_file_size_bytes -> OPERATIONS_MAX_FILE_SIZE_BYTES
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if len(c.Operations.AllowedExtensions) == 0 {
		return fmt.Errorf("operations.allowed_extensions must not be empty")
	}
	if c.Operations.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("operations.max_file_size_bytes must be positive")
	}
	if c.Operations.Approval.MaxRecords < 0 {
		return fmt.Errorf("operations.approval.max_records must not be negative")
	}
	limit, err := c.Operations.Approval.MonetaryThreshold()
	if err != nil {
		return fmt.Errorf("operations.approval.max_monetary_impact: %w", err)
	}
	if limit.IsNegative() {
		return fmt.Errorf("operations.approval.max_monetary_impact must not be negative")
	}
	if _, err := c.Collaborators.PayoutLimit(); err != nil {
		return fmt.Errorf("collaborators.single_payout_limit: %w", err)
	}
	if c.Rollback.Window <= 0 {
		return fmt.Errorf("rollback.window must be positive")
	}
	if _, err := cron.ParseStandard(c.Rollback.SweepSchedule); err != nil {
		return fmt.Errorf("rollback.sweep_schedule: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// ParsedSweepSchedule parses the rollback sweep cron expression.
func (c RollbackConfig) ParsedSweepSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(c.SweepSchedule)
}

// ensureSecrets generates a JWT signing key when none is configured.
// Tokens signed with it do not survive a restart.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = secret
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY for persistence",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

// logBootstrapWarn logs before the global logger exists.
func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "payouts")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "payouts")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", true)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.operations_max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.execution_pool_size", 8)

	// Operations
	v.SetDefault("operations.allowed_extensions", []string{"csv", "xlsx", "xls"})
	v.SetDefault("operations.max_file_size_bytes", 10*1024*1024)
	v.SetDefault("operations.approval.max_records", 1000)
	v.SetDefault("operations.approval.max_monetary_impact", "100000")
	v.SetDefault("operations.execution_timeout", "30m")

	// Rollback
	v.SetDefault("rollback.window", "24h")
	v.SetDefault("rollback.sweep_schedule", "*/5 * * * *")

	// Collaborators
	v.SetDefault("collaborators.ingestion_url", "")
	v.SetDefault("collaborators.validation_url", "")
	v.SetDefault("collaborators.execution_url", "")
	v.SetDefault("collaborators.impact_analysis_url", "")
	v.SetDefault("collaborators.api_token", "")
	v.SetDefault("collaborators.timeout", "30s")
	v.SetDefault("collaborators.retry_count", 3)
	v.SetDefault("collaborators.poll_interval", "2s")
	v.SetDefault("collaborators.single_payout_limit", "50000")
	v.SetDefault("collaborators.tiers", []string{"Bronze", "Silver", "Gold", "Platinum"})
	v.SetDefault("collaborators.batch_size", 100)

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.jwt_verification_keys", []string{})
	v.SetDefault("security.jwt_issuer", "payouts")
	v.SetDefault("security.token_lifetime", "8h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
