package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowops/n8nbak/internal/model"
)

var validate = validator.New()

// Config carries everything one backup or restore run needs. It is built
// once at startup and treated as immutable afterwards.
type Config struct {
	// InstallDir is the n8n Docker Compose installation directory
	// (compose file, Caddyfile, .env live here).
	InstallDir string `yaml:"install_dir" validate:"required"`
	// DataDir is the live n8n data directory (SQLite file, encryption key).
	DataDir string `yaml:"data_dir" validate:"required"`
	// BackupDir holds local archives plus the persistent run log.
	BackupDir string `yaml:"backup_dir" validate:"required"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DatabaseKind string `yaml:"database_kind" validate:"oneof=sqlite postgres"`

	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`

	// AppService is the compose service name of the n8n application.
	AppService string `yaml:"app_service"`

	Retention RetentionConfig `yaml:"retention"`
	Remote    RemoteConfig    `yaml:"remote"`
	S3        S3Config        `yaml:"s3"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Restore   RestoreConfig   `yaml:"restore"`

	// ServiceUID/GID own restored data files. Zero means leave ownership
	// alone (useful in tests and rootless setups).
	ServiceUID int `yaml:"service_uid"`
	ServiceGID int `yaml:"service_gid"`
}

type SQLiteConfig struct {
	// Path to the live database file, relative to DataDir when not absolute.
	Path string `yaml:"path"`
	// KeyPath to the n8n encryption key file, relative to DataDir.
	KeyPath string `yaml:"key_path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// Service is the compose service name of the database container.
	Service string `yaml:"service"`
}

type RetentionConfig struct {
	// LocalCount is the number of newest local archives kept.
	LocalCount int `yaml:"local_count" validate:"min=1"`
	// RemoteMaxAgeDays bounds remote archives by age, not count.
	RemoteMaxAgeDays int `yaml:"remote_max_age_days" validate:"min=1"`
}

type RemoteConfig struct {
	// Kind selects the remote store backend; empty disables the sink.
	Kind string `yaml:"kind" validate:"omitempty,oneof=s3 rclone"`
	// Name is the remote profile (rclone remote name, or a label for S3).
	Name string `yaml:"name"`
	// Folder is the prefix/folder holding archives on the remote.
	Folder string `yaml:"folder"`
}

type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}

type RestoreConfig struct {
	// PollMaxAttempts and PollInterval bound the database readiness wait.
	PollMaxAttempts int           `yaml:"poll_max_attempts" validate:"min=1"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// Load builds a Config from environment variables (prefix N8NBAK_), then
// overlays the YAML file at path when one is given, then validates.
func Load(path string) (*Config, error) {
	cfg := &Config{
		InstallDir:   getEnv("N8NBAK_INSTALL_DIR", "/opt/n8n"),
		DataDir:      getEnv("N8NBAK_DATA_DIR", "/opt/n8n/n8n-data"),
		BackupDir:    getEnv("N8NBAK_BACKUP_DIR", "/opt/n8n/backups"),
		LogLevel:     getEnv("N8NBAK_LOG_LEVEL", "info"),
		LogFile:      getEnv("N8NBAK_LOG_FILE", ""),
		DatabaseKind: getEnv("N8NBAK_DATABASE_KIND", "sqlite"),
		SQLite: SQLiteConfig{
			Path:    getEnv("N8NBAK_SQLITE_PATH", "database.sqlite"),
			KeyPath: getEnv("N8NBAK_SQLITE_KEY_PATH", "encryption.key"),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("N8NBAK_PG_HOST", "localhost"),
			Port:     getEnvInt("N8NBAK_PG_PORT", 5432),
			User:     getEnv("N8NBAK_PG_USER", "n8n"),
			Password: getEnv("N8NBAK_PG_PASSWORD", ""),
			Database: getEnv("N8NBAK_PG_DATABASE", "n8n"),
			Service:  getEnv("N8NBAK_PG_SERVICE", "postgres"),
		},
		AppService: getEnv("N8NBAK_APP_SERVICE", "n8n"),
		Retention: RetentionConfig{
			LocalCount:       getEnvInt("N8NBAK_RETENTION_LOCAL_COUNT", 30),
			RemoteMaxAgeDays: getEnvInt("N8NBAK_RETENTION_REMOTE_MAX_AGE_DAYS", 30),
		},
		Remote: RemoteConfig{
			Kind:   getEnv("N8NBAK_REMOTE_KIND", ""),
			Name:   getEnv("N8NBAK_REMOTE_NAME", ""),
			Folder: getEnv("N8NBAK_REMOTE_FOLDER", "n8n-backups"),
		},
		S3: S3Config{
			Endpoint:  getEnv("N8NBAK_S3_ENDPOINT", ""),
			Region:    getEnv("N8NBAK_S3_REGION", "us-east-1"),
			Bucket:    getEnv("N8NBAK_S3_BUCKET", ""),
			AccessKey: getEnv("N8NBAK_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("N8NBAK_S3_SECRET_KEY", ""),
		},
		Telegram: TelegramConfig{
			Token:  getEnv("N8NBAK_TELEGRAM_TOKEN", ""),
			ChatID: getEnv("N8NBAK_TELEGRAM_CHAT_ID", ""),
		},
		Restore: RestoreConfig{
			PollMaxAttempts: getEnvInt("N8NBAK_RESTORE_POLL_MAX_ATTEMPTS", 24),
			PollInterval:    getEnvDuration("N8NBAK_RESTORE_POLL_INTERVAL", 5*time.Second),
		},
		ServiceUID: getEnvInt("N8NBAK_SERVICE_UID", 0),
		ServiceGID: getEnvInt("N8NBAK_SERVICE_GID", 0),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if cfg.LogFile == "" {
		cfg.LogFile = cfg.BackupDir + "/n8nbak.log"
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Kind returns the configured database kind as a typed variant.
func (c *Config) Kind() model.DatabaseKind {
	kind, _ := model.ParseDatabaseKind(c.DatabaseKind)
	return kind
}

// RemoteMaxAge converts the remote retention age from days to a duration.
func (c *Config) RemoteMaxAge() time.Duration {
	return time.Duration(c.Retention.RemoteMaxAgeDays) * 24 * time.Hour
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
