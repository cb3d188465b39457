// Package config loads the broker daemon configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration.
type Config struct {
	ListenAddr       string        `yaml:"listen_addr" validate:"required"`
	TLSCertFile      string        `yaml:"tls_cert" validate:"required_with=TLSKeyFile"`
	TLSKeyFile       string        `yaml:"tls_key" validate:"required_with=TLSCertFile"`
	DBUrl            string        `yaml:"db_url" validate:"required_unless=Dev true"`
	Dev              bool          `yaml:"dev"`
	MigrationsDir    string        `yaml:"migrations_dir"`
	LogLevel         string        `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	BaseURL          string        `yaml:"base_url" validate:"required,url"`
	KeysetName       string        `yaml:"keyset_name" validate:"required"`
	AdminToken       string        `yaml:"admin_token"`
	AuthorizationTTL time.Duration `yaml:"authorization_ttl" validate:"gt=0"`
	Vault            VaultConfig   `yaml:"vault"`
	OAuth            OAuthConfig   `yaml:"oauth"`
}

// VaultConfig points at an external KV vault. When Addr is empty the keyset
// is kept in the record store's vault table.
type VaultConfig struct {
	Addr   string `yaml:"addr" validate:"omitempty,url"`
	Token  string `yaml:"token" validate:"required_with=Addr"`
	Mount  string `yaml:"mount"`
	CACert string `yaml:"ca_cert"`
}

// OAuthConfig is the downstream client registration.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret"`
	AuthURL      string   `yaml:"auth_url" validate:"required,url"`
	TokenURL     string   `yaml:"token_url" validate:"required,url"`
	Scopes       []string `yaml:"scopes"`
}

// Defaults returns the configuration used before the file and environment
// are applied.
func Defaults() Config {
	return Config{
		ListenAddr:       ":8300",
		MigrationsDir:    "migrations",
		LogLevel:         "info",
		KeysetName:       "integration-broker/keyset",
		AuthorizationTTL: time.Hour,
	}
}

// Load reads path (if it exists), then a .env file in the working directory
// (if it exists), applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("loading .env: %w", err)
	}
	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"BROKER_LISTEN_ADDR", &cfg.ListenAddr},
		{"DATABASE_URL", &cfg.DBUrl},
		{"BROKER_BASE_URL", &cfg.BaseURL},
		{"BROKER_ADMIN_TOKEN", &cfg.AdminToken},
		{"BROKER_LOG_LEVEL", &cfg.LogLevel},
		{"OAUTH_CLIENT_ID", &cfg.OAuth.ClientID},
		{"OAUTH_CLIENT_SECRET", &cfg.OAuth.ClientSecret},
		{"VAULT_ADDR", &cfg.Vault.Addr},
		{"VAULT_TOKEN", &cfg.Vault.Token},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg and reports every invalid field.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
