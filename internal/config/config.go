// Package config loads gateway configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/dhawalhost/scimgate/internal/authn"
)

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig  `mapstructure:"server"`
	SCIM         SCIMConfig    `mapstructure:"scim"`
	Auth         AuthConfig    `mapstructure:"auth"`
	Log          LogConfig     `mapstructure:"log"`
	EmailOnError EmailConfig   `mapstructure:"emailOnError"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	RateLimit    RateConfig    `mapstructure:"rateLimit"`
}

// RateConfig bounds per-client request rates. RPS zero disables limiting.
type RateConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Port          int    `mapstructure:"port" validate:"required,min=1,max=65535"`
	LocalhostOnly bool   `mapstructure:"localhostonly"`
	CertFile      string `mapstructure:"certFile"`
	KeyFile       string `mapstructure:"keyFile"`

	ReadTimeout   time.Duration `mapstructure:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout"`
	ShutdownGrace time.Duration `mapstructure:"shutdownGrace"`
}

// Addr returns the listen address, honoring localhostonly.
func (s ServerConfig) Addr() string {
	if s.LocalhostOnly {
		return fmt.Sprintf("127.0.0.1:%d", s.Port)
	}
	return fmt.Sprintf(":%d", s.Port)
}

// SCIMConfig selects the protocol version and an optional custom schema
// extension file.
type SCIMConfig struct {
	Version      string `mapstructure:"version" validate:"oneof=1.1 2.0 2"`
	CustomSchema string `mapstructure:"customSchema"`
}

// AuthConfig carries the rule sets for the authentication chain.
type AuthConfig struct {
	Basic       []authn.BasicRule `mapstructure:"basic"`
	BearerToken []authn.TokenRule `mapstructure:"bearerToken"`
	BearerJWT   []authn.JWTRule   `mapstructure:"bearerJwt"`
	BearerOIDC  *authn.OIDCRule   `mapstructure:"bearerOidc"`
	Cooldown    time.Duration     `mapstructure:"bruteForceCooldown"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error off"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

// EmailConfig configures failure notification mail.
type EmailConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	To       []string      `mapstructure:"to"`
	Throttle time.Duration `mapstructure:"throttle"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from path (or the default search locations) and
// the SCIMGATE_* environment, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scimgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/scimgate")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SCIMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8880)
	v.SetDefault("server.localhostonly", false)
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "3m") // brute-force delay must fit inside
	v.SetDefault("server.shutdownGrace", "10s")

	v.SetDefault("scim.version", "2.0")

	v.SetDefault("auth.bruteForceCooldown", "2m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("emailOnError.enabled", false)
	v.SetDefault("emailOnError.port", 587)
	v.SetDefault("emailOnError.throttle", "24h")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)

	v.SetDefault("rateLimit.rps", 0)
	v.SetDefault("rateLimit.burst", 20)
}
