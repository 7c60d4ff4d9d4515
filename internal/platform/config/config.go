package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/userhub/userhub/internal/platform/database"
)

const envPrefix = "USERHUB_"

// MinSigningKeyLen is the shortest accepted HS256 signing key, in bytes.
const MinSigningKeyLen = 32

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	Audit    AuditConfig    `koanf:"audit"`
}

type ServerConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	CORSOrigins    []string `koanf:"corsorigins"`
	LoginRateLimit int      `koanf:"loginratelimit"` // requests per minute per IP
	Development    bool     `koanf:"development"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	URL                    string `koanf:"url"`
	MigrationsPath         string `koanf:"migrationspath"`
	MaxConns               int    `koanf:"maxconns"`
	MinConns               int    `koanf:"minconns"`
	MaxConnLifetimeMinutes int    `koanf:"maxconnlifetimeminutes"`
	ConnectAttempts        int    `koanf:"connectattempts"`
}

// Pool converts the database settings into pool tuning for database.Connect.
func (d DatabaseConfig) Pool() database.PoolConfig {
	return database.PoolConfig{
		MaxConns:        d.MaxConns,
		MinConns:        d.MinConns,
		MaxConnLifetime: time.Duration(d.MaxConnLifetimeMinutes) * time.Minute,
		ConnectAttempts: d.ConnectAttempts,
		RetryDelay:      time.Second,
	}
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type AuthConfig struct {
	JWT       JWTConfig       `koanf:"jwt"`
	Password  PasswordConfig  `koanf:"password"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
}

type JWTConfig struct {
	SigningKey    string `koanf:"signingkey"`
	Issuer        string `koanf:"issuer"`
	ExpiryMinutes int    `koanf:"expiryminutes"`
}

func (j JWTConfig) TTL() time.Duration {
	return time.Duration(j.ExpiryMinutes) * time.Minute
}

type PasswordConfig struct {
	Scheme string `koanf:"scheme"`
}

// BootstrapConfig names the Admin account created when none exists.
// Leaving Username empty disables bootstrapping.
type BootstrapConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Email    string `koanf:"email"`
}

type AuditConfig struct {
	BufferSize      int `koanf:"buffersize"`
	BatchSize       int `koanf:"batchsize"`
	FlushIntervalMS int `koanf:"flushintervalms"`
}

func (a AuditConfig) FlushInterval() time.Duration {
	return time.Duration(a.FlushIntervalMS) * time.Millisecond
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"server.corsorigins": true,
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.loginratelimit":   10,
		"server.development":      false,
		"database.maxconns":       25,
		"database.migrationspath": "migrations",
		"log.level":               "info",
		"log.format":              "json",
		"auth.jwt.issuer":         "userhub",
		"auth.jwt.expiryminutes":  60,
		"auth.password.scheme":    "sha256",
		"audit.buffersize":        4096,
		"audit.batchsize":         100,
		"audit.flushintervalms":   500,

		"database.maxconnlifetimeminutes": 30,
		"database.connectattempts":        5,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			continue
		}
	}

	// Environment variables override everything
	// USERHUB_AUTH_JWT_SIGNINGKEY -> auth.jwt.signingkey
	_ = k.Load(env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, any) {
		key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".")
		if listKeys[key] {
			return key, splitList(value)
		}
		return key, value
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every setting that would prevent a safe start.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.JWT.SigningKey) < MinSigningKeyLen {
		errs = append(errs, fmt.Errorf("auth.jwt.signingkey must be at least %d bytes", MinSigningKeyLen))
	}
	if c.Auth.JWT.Issuer == "" {
		errs = append(errs, errors.New("auth.jwt.issuer is required"))
	}
	if c.Auth.JWT.ExpiryMinutes <= 0 {
		errs = append(errs, errors.New("auth.jwt.expiryminutes must be positive"))
	}
	switch c.Auth.Password.Scheme {
	case "sha256", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("auth.password.scheme %q is not supported", c.Auth.Password.Scheme))
	}
	if c.Auth.Bootstrap.Username != "" && len(c.Auth.Bootstrap.Password) < 8 {
		errs = append(errs, errors.New("auth.bootstrap.password must be at least 8 characters"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}

	return errors.Join(errs...)
}
