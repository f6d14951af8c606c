package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                int    `env:"PORT" envDefault:"8080"`
	DatabaseURL         string `env:"DATABASE_URL,required"`
	RedisURL            string `env:"REDIS_URL,required"`
	JWTSecret           string `env:"JWT_SECRET,required"`
	CredentialSecret    string `env:"CREDENTIAL_SECRET,required"`
	MQTTBrokerURL       string `env:"MQTT_BROKER_URL" envDefault:""`
	MQTTClientID        string `env:"MQTT_CLIENT_ID" envDefault:"gatepass"`
	MQTTUsername        string `env:"MQTT_USERNAME"`
	MQTTPassword        string `env:"MQTT_PASSWORD"`
	ScanTimeoutSeconds  int    `env:"SCAN_TIMEOUT_SECONDS" envDefault:"10"`
	ScanRateLimitPerMin int    `env:"SCAN_RATE_LIMIT_PER_MIN" envDefault:"120"`
	QRImageSize         int    `env:"QR_IMAGE_SIZE" envDefault:"512"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	RunMigrations       bool   `env:"RUN_MIGRATIONS" envDefault:"true"`
}

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.ScanTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// GateControlEnabled reports whether open commands should be sent to gate controllers.
func (c *Config) GateControlEnabled() bool {
	return c.MQTTBrokerURL != ""
}

func (c *Config) Validate(isProduction bool) error {
	if c.ScanTimeoutSeconds <= 0 {
		return fmt.Errorf("SCAN_TIMEOUT_SECONDS must be positive")
	}
	if c.QRImageSize < 128 || c.QRImageSize > 2048 {
		return fmt.Errorf("QR_IMAGE_SIZE must be between 128 and 2048")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if err := validateSecret("CREDENTIAL_SECRET", c.CredentialSecret); err != nil {
			return err
		}

		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.MQTTBrokerURL != "" && strings.HasPrefix(c.MQTTBrokerURL, "tcp://") {
			log.Warn().Msg("MQTT_BROKER_URL uses tcp:// (not TLS) in production: consider using ssl://")
		}
		if c.MQTTBrokerURL == "" {
			log.Warn().Msg("MQTT_BROKER_URL is empty in production: gates will not be opened automatically")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
