// Package config provides configuration management for MintBind.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
//
// The loaded Config is an immutable snapshot. Reload builds a fresh
// snapshot and swaps it atomically; nothing mutates a Config in place.
// Every swap bumps a generation token that retires the pre-reload
// registration daemon at its next abort checkpoint.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Binder   BinderConfig   `mapstructure:"binder"`
	Worker   WorkerConfig   `mapstructure:"worker"`

	// BaseURL is the service's own base URL, used to build
	// self-referential target URLs.
	BaseURL string `mapstructure:"base_url"`

	// Prefixes maps shoulder keys to their registered prefix and
	// minter endpoint.
	Prefixes map[string]PrefixConfig `mapstructure:"prefixes"`

	Profiles ProfilesConfig `mapstructure:"profiles"`

	// AdminUsername is the administrator's local name; the admin may
	// set reserved metadata elements using their stored forms.
	AdminUsername string `mapstructure:"admin_username"`

	// Users maps local user names to agent PIDs for the static
	// identity directory.
	Users map[string]string `mapstructure:"users"`

	// StatusReportingInterval is the period of the status reporter.
	StatusReportingInterval time.Duration `mapstructure:"status_reporting_interval"`

	Crossref CrossrefConfig `mapstructure:"crossref"`
	Datacite DataciteConfig `mapstructure:"datacite"`
	Mail     MailConfig     `mapstructure:"mail"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// DatabaseConfig contains PostgreSQL connection settings for the
// registration queue.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
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

// BinderConfig contains the noid binder connection settings.
type BinderConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	RegistrarPoolSize int `mapstructure:"registrar_pool_size"`
}

// PrefixConfig describes one registered shoulder.
type PrefixConfig struct {
	// Prefix is the qualified prefix, e.g. "doi:10.5060/" or
	// "ark:/13030/fk4".
	Prefix string `mapstructure:"prefix"`

	// Minter is the noid minter URL for the shoulder; empty means no
	// minter is configured.
	Minter string `mapstructure:"minter"`

	MinterUsername string `mapstructure:"minter_username"`
	MinterPassword string `mapstructure:"minter_password"`
}

// ProfilesConfig holds the default metadata profile per scheme.
type ProfilesConfig struct {
	DefaultDoi     string `mapstructure:"default_doi_profile"`
	DefaultArk     string `mapstructure:"default_ark_profile"`
	DefaultUrnUuid string `mapstructure:"default_urn_uuid_profile"`
}

// CrossrefConfig contains the registrar block.
type CrossrefConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	DepositorName  string        `mapstructure:"depositor_name"`
	DepositorEmail string        `mapstructure:"depositor_email"`
	RealServer     string        `mapstructure:"real_server"`
	TestServer     string        `mapstructure:"test_server"`
	DepositURL     string        `mapstructure:"deposit_url"`
	ResultsURL     string        `mapstructure:"results_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DaemonEnabled  bool          `mapstructure:"daemon_enabled"`
	IdleSleep      time.Duration `mapstructure:"idle_sleep"`

	// NotifyEmails maps owner local names to their notification
	// addresses; owners not listed get no registration email.
	NotifyEmails map[string]string `mapstructure:"notify_emails"`
}

// DataciteConfig gates the DataCite registrar.
type DataciteConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MailConfig contains SMTP settings for registrar notifications.
type MailConfig struct {
	SMTPAddr string `mapstructure:"smtp_addr"`
	From     string `mapstructure:"from"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/mintbind")

	// Environment variable override, no prefix: DATABASE_URL,
	// SERVER_PORT, LOG_LEVEL, CROSSREF_USERNAME, ...
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url must not be empty")
	}
	if c.AdminUsername == "" {
		return fmt.Errorf("admin_username must not be empty")
	}
	for k, p := range c.Prefixes {
		if p.Prefix == "" {
			return fmt.Errorf("prefixes.%s.prefix must not be empty", k)
		}
	}
	if c.Crossref.Enabled {
		if c.Crossref.DepositURL == "" || c.Crossref.ResultsURL == "" {
			return fmt.Errorf("crossref.deposit_url and crossref.results_url are required when crossref is enabled")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "mintbind")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "mintbind")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Binder
	v.SetDefault("binder.enabled", true)

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.registrar_pool_size", 4)

	// Service
	v.SetDefault("base_url", "http://localhost:8080")
	v.SetDefault("admin_username", "admin")
	v.SetDefault("status_reporting_interval", "1m")

	// Profiles
	v.SetDefault("profiles.default_doi_profile", "datacite")
	v.SetDefault("profiles.default_ark_profile", "erc")
	v.SetDefault("profiles.default_urn_uuid_profile", "erc")

	// Crossref registrar
	v.SetDefault("crossref.enabled", false)
	v.SetDefault("crossref.daemon_enabled", true)
	v.SetDefault("crossref.idle_sleep", "30s")

	// DataCite registrar
	v.SetDefault("datacite.enabled", false)
}

// Manager holds the current configuration snapshot and the daemon
// generation token.
type Manager struct {
	cur        atomic.Pointer[Config]
	generation atomic.Int64
}

// NewManager creates a manager seeded with the given snapshot.
func NewManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cur.Store(cfg)
	m.generation.Store(1)
	return m
}

// Current returns the current snapshot. Callers must not mutate it.
func (m *Manager) Current() *Config {
	return m.cur.Load()
}

// Generation returns the current daemon generation token.
func (m *Manager) Generation() int64 {
	return m.generation.Load()
}

// Reload re-reads configuration, swaps the snapshot atomically, and
// bumps the generation token, retiring any daemon started under the
// previous generation.
func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	m.cur.Store(cfg)
	m.generation.Add(1)
	return cfg, nil
}

// Swap installs a snapshot directly (tests and bootstrap).
func (m *Manager) Swap(cfg *Config) {
	m.cur.Store(cfg)
	m.generation.Add(1)
}
