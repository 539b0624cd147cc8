package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/dialect"
)

const (
	envPrefix                 = "DDLKIT"
	defaultDialect            = "sqlite"
	defaultOut                = "migrations"
	defaultHTTPAddress        = "127.0.0.1:8088"
	defaultLogLevel           = "info"
	defaultLogFormat          = "console"
	defaultIssuer             = "ddlkit"
	defaultTokenTTLMinutes    = 60
	defaultQueryTimeoutSecond = 30
)

// AppConfig captures runtime configuration for the CLI and the HTTP facade.
type AppConfig struct {
	Dialect      dialect.Dialect
	Out          string
	Schema       string
	Breakpoints  bool
	LogLevel     string
	LogFormat    string
	DatabasePath string
	DatabaseURL  string
	DBSchemas    []string
	QueryTimeout time.Duration
	HTTPAddress  string
	Auth         AuthConfig
}

// AuthConfig guards the HTTP API. An empty SigningSecret disables authentication.
type AuthConfig struct {
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

// Enabled reports whether API tokens are required.
func (c AuthConfig) Enabled() bool {
	return strings.TrimSpace(c.SigningSecret) != ""
}

// LoadEnvFile loads KEY=value pairs from path into the process environment without overriding
// variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
	_ = configViper.BindEnv("database.url", envPrefix+"_DATABASE_URL", "DATABASE_URL")

	configViper.SetDefault("dialect", defaultDialect)
	configViper.SetDefault("out", defaultOut)
	configViper.SetDefault("schema", "")
	configViper.SetDefault("breakpoints", true)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("database.path", "")
	configViper.SetDefault("database.schemas", []string{"public"})
	configViper.SetDefault("database.query_timeout_seconds", defaultQueryTimeoutSecond)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// ReadFile reads an explicit config file. Without a path, ddlkit.yaml in the working directory is
// used when present.
func ReadFile(configViper *viper.Viper, path string) error {
	if path != "" {
		configViper.SetConfigFile(path)
		return configViper.ReadInConfig()
	}
	configViper.SetConfigName("ddlkit")
	configViper.AddConfigPath(".")
	if err := configViper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	d, err := dialect.Parse(configViper.GetString("dialect"))
	if err != nil {
		return AppConfig{}, err
	}
	cfg := AppConfig{
		Dialect:      d,
		Out:          configViper.GetString("out"),
		Schema:       configViper.GetString("schema"),
		Breakpoints:  configViper.GetBool("breakpoints"),
		LogLevel:     configViper.GetString("log.level"),
		LogFormat:    strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		DatabasePath: configViper.GetString("database.path"),
		DatabaseURL:  configViper.GetString("database.url"),
		DBSchemas:    configViper.GetStringSlice("database.schemas"),
		QueryTimeout: time.Duration(configViper.GetInt("database.query_timeout_seconds")) * time.Second,
		HTTPAddress:  configViper.GetString("http.address"),
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Out) == "" {
		return fmt.Errorf("out is required")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log.format must be console or json, got %q", c.LogFormat)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("database.query_timeout_seconds must be positive")
	}
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	if c.Auth.Enabled() {
		if strings.TrimSpace(c.Auth.Issuer) == "" {
			return fmt.Errorf("auth.issuer is required")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl_minutes must be positive")
		}
	}
	return nil
}
