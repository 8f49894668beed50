package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "tenantbill/libs/config"
)

// Config defines the reconciliation service configuration.
type Config struct {
	HTTP struct {
		Port string `yaml:"port" env:"TENANTBILL_HTTP_PORT"`
	} `yaml:"http"`
	Backend struct {
		URL            string `yaml:"url" env:"BILLING_BACKEND_URL"`
		Token          string `yaml:"token" env:"BILLING_BACKEND_TOKEN"`
		TimeoutSeconds int    `yaml:"timeoutSeconds" env:"BILLING_BACKEND_TIMEOUT"`
	} `yaml:"backend"`
	CORS struct {
		// Comma-separated list; empty allows any origin.
		AllowedOrigins string `yaml:"allowedOrigins" env:"TENANTBILL_CORS_ORIGINS"`
	} `yaml:"cors"`
	// VATTable maps backend tax codes to VAT percentages.
	VATTable map[string]float64 `yaml:"vatTable" env:"-"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.Backend.TimeoutSeconds = 15

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Backend.URL) == "" {
		return nil, errors.New("config: backend url required")
	}
	if strings.TrimSpace(cfg.Backend.Token) == "" {
		return nil, errors.New("config: backend token required")
	}

	if cfg.VATTable == nil {
		cfg.VATTable = map[string]float64{
			"VAT": 12,
			"ZE":  0,
			"EX":  0,
		}
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// BackendTimeout returns the http client timeout.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// CORSOrigins splits the configured origin list.
func (c *Config) CORSOrigins() []string {
	raw := strings.TrimSpace(c.CORS.AllowedOrigins)
	if raw == "" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
