package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/outreach-core/internal/db"
	"github.com/rpattn/outreach-core/internal/domain"
	"github.com/rpattn/outreach-core/internal/pipeline"
	"github.com/rpattn/outreach-core/pkg/logger"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StorageConfig selects the record store implementation.
type StorageConfig struct {
	Driver string
}

// Config is the full service configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Pipeline pipeline.Config
	Identity domain.IdentityConfig
	Log      logger.Config
	Storage  StorageConfig
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
		},
		Pipeline: pipeline.DefaultConfig(),
		Identity: domain.DefaultIdentityConfig(),
		Log:      logger.Config{Level: "info", Format: "json"},
		Storage:  StorageConfig{Driver: StorageDriverPostgres},
	}
}

var envKeys = []string{
	"database.host",
	"database.port",
	"database.user",
	"database.password",
	"database.dbname",
	"database.sslmode",
	"database.max_conns",
	"server.addr",
	"server.allowed_origins",
	"server.read_timeout",
	"server.write_timeout",
	"server.shutdown_timeout",
	"pipeline.default_batch_size",
	"pipeline.max_batch_size",
	"pipeline.record_timeout",
	"identity.id_format",
	"identity.entity_prefixes.company",
	"identity.entity_prefixes.people",
	"log.level",
	"log.format",
	"storage.driver",
}

// Load reads config.yaml from configPath, if present, and applies OUTREACH_*
// environment overrides (for example OUTREACH_DATABASE_HOST) on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return cfg, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		slog.Debug("no config.yaml found, using defaults and env vars", "path", configPath)
	} else {
		slog.Debug("loaded config file", "file", v.ConfigFileUsed())
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("database.max_conns") {
		cfg.Database.MaxConns = v.GetInt32("database.max_conns")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("server.read_timeout") {
		cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	}
	if v.IsSet("server.write_timeout") {
		cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	}
	if v.IsSet("server.shutdown_timeout") {
		cfg.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")
	}

	if v.IsSet("pipeline.default_batch_size") {
		cfg.Pipeline.DefaultBatchSize = v.GetInt("pipeline.default_batch_size")
	}
	if v.IsSet("pipeline.max_batch_size") {
		cfg.Pipeline.MaxBatchSize = v.GetInt("pipeline.max_batch_size")
	}
	if v.IsSet("pipeline.record_timeout") {
		cfg.Pipeline.RecordTimeout = v.GetDuration("pipeline.record_timeout")
	}

	if v.IsSet("identity.id_format") {
		cfg.Identity.IDFormat = v.GetString("identity.id_format")
	}
	for _, kind := range domain.EntityKinds {
		key := "identity.entity_prefixes." + string(kind)
		if v.IsSet(key) {
			cfg.Identity.EntityPrefixes[kind] = v.GetString(key)
		}
	}

	if v.IsSet("log.level") {
		cfg.Log.Level = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.Log.Format = v.GetString("log.format")
	}
	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = strings.ToLower(v.GetString("storage.driver"))
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var problems []string

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		problems = append(problems, fmt.Sprintf("storage.driver must be %q or %q", StorageDriverPostgres, StorageDriverMemory))
	}
	if c.Pipeline.DefaultBatchSize <= 0 {
		problems = append(problems, "pipeline.default_batch_size must be positive")
	}
	if c.Pipeline.MaxBatchSize < c.Pipeline.DefaultBatchSize {
		problems = append(problems, "pipeline.max_batch_size must be at least the default batch size")
	}
	if c.Pipeline.RecordTimeout < 0 {
		problems = append(problems, "pipeline.record_timeout cannot be negative")
	}
	if _, err := domain.NewIDScheme(c.Identity); err != nil {
		problems = append(problems, err.Error())
	}
	for _, kind := range domain.EntityKinds {
		if strings.TrimSpace(c.Identity.EntityPrefixes[kind]) == "" {
			problems = append(problems, fmt.Sprintf("identity.entity_prefixes.%s is required", kind))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
