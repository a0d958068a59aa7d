package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// Config captures process-level configuration.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	JWTSigningKey string
	PIIKeyHex     string
}

// FromEnv builds the config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("DOCFLOW_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Development default, overridden in any real deployment.
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	piiKey := os.Getenv("PII_KEY")
	if piiKey == "" {
		// Development default, overridden in any real deployment.
		piiKey = "6465762d6b65792d6465762d6b65792d6465762d6b65792d6465762d6b657921"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = strings.Split(raw, ",")
	}

	return Config{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  brokers,
		JWTSigningKey: jwtSigningKey,
		PIIKeyHex:     piiKey,
	}
}

// PIIKey decodes the hex-encoded field encryption key.
func (c Config) PIIKey() ([]byte, error) {
	if c.PIIKeyHex == "" {
		return nil, fmt.Errorf("PII_KEY is required")
	}
	key, err := hex.DecodeString(c.PIIKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode PII_KEY: %w", err)
	}
	return key, nil
}
