package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// KeyScope selects how verification keys are resolved: one key per
// account, or one key per enrolled (account, device) pair.
type KeyScope string

const (
	ScopeAccount KeyScope = "account"
	ScopeDevice  KeyScope = "device"
)

type (
	Config struct {
		Server Server `yaml:"server"`
		Mongo  Mongo  `yaml:"mongo"`
		Redis  Redis  `yaml:"redis"`
		Auth   Auth   `yaml:"auth"`
	}

	Server struct {
		Addr     string `yaml:"addr"`
		TLSCert  string `yaml:"tls_cert"`
		TLSKey   string `yaml:"tls_key"`
		LogLevel string `yaml:"log_level"`
	}

	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	}

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	Auth struct {
		JWTSecret          string        `yaml:"jwt_secret"`
		TokenTTL           time.Duration `yaml:"token_ttl"`
		KeyScope           KeyScope      `yaml:"key_scope"`
		FreshnessWindow    time.Duration `yaml:"freshness_window"`
		EnrollmentTTL      time.Duration `yaml:"enrollment_ttl"`
		AdminUsername      string        `yaml:"admin_username"`
		LoginRatePerMin    int           `yaml:"login_rate_per_min"`
		PasswordIterations int           `yaml:"password_iterations"`
	}
)

func Default() *Config {
	return &Config{
		Server: Server{
			Addr:     ":9090",
			LogLevel: "info",
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "sigchat",
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Auth: Auth{
			TokenTTL:           2 * time.Hour,
			KeyScope:           ScopeAccount,
			FreshnessWindow:    5 * time.Minute,
			EnrollmentTTL:      5 * time.Minute,
			LoginRatePerMin:    30,
			PasswordIterations: 150000,
		},
	}
}

// Load reads the YAML file at path (skipped when empty), then applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SIGCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SIGCHAT_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("SIGCHAT_TLS_CERT"); v != "" {
		c.Server.TLSCert = v
	}
	if v := os.Getenv("SIGCHAT_TLS_KEY"); v != "" {
		c.Server.TLSKey = v
	}
	if v := os.Getenv("SIGCHAT_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("SIGCHAT_MONGO_DB"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("SIGCHAT_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("SIGCHAT_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SIGCHAT_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = n
		}
	}
	if v := os.Getenv("SIGCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SIGCHAT_KEY_SCOPE"); v != "" {
		c.Auth.KeyScope = KeyScope(v)
	}
	if v := os.Getenv("SIGCHAT_ADMIN_USERNAME"); v != "" {
		c.Auth.AdminUsername = v
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (SIGCHAT_JWT_SECRET)")
	}
	switch c.Auth.KeyScope {
	case ScopeAccount, ScopeDevice:
	default:
		return fmt.Errorf("auth.key_scope must be %q or %q", ScopeAccount, ScopeDevice)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("server.tls_cert and server.tls_key must be set together")
	}
	return nil
}
