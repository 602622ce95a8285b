package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultJWTSecret = "change-me-in-production"

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	DatabaseURL    string
	NatsURL        string
	ServiceTimeout time.Duration
	Redis          RedisConfig
	WebSocket      WebSocketConfig
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// WebSocketConfig controls the per-connection pump
type WebSocketConfig struct {
	SendQueue         int
	MaxMessageBytes   int64
	PingInterval      time.Duration
	IdleTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	MessageBurst      int
	ValidateSDP       bool
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	var origins []string
	for _, o := range strings.Split(originsStr, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", defaultJWTSecret),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		NatsURL:        getEnv("NATS_URL", ""),
		ServiceTimeout: getEnvDuration("SERVICE_TIMEOUT", 5*time.Second),
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		WebSocket: WebSocketConfig{
			SendQueue:         getEnvInt("WS_SEND_QUEUE", 64),
			MaxMessageBytes:   int64(getEnvInt("WS_MAX_MESSAGE_BYTES", 64*1024)),
			PingInterval:      getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
			IdleTimeout:       getEnvDuration("WS_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
			MessagesPerSecond: float64(getEnvInt("WS_MESSAGES_PER_SECOND", 50)),
			MessageBurst:      getEnvInt("WS_MESSAGE_BURST", 100),
			ValidateSDP:       getEnvBool("VALIDATE_SDP", true),
		},
	}
}

// Validate rejects settings the server cannot run safely with.
func (c *Config) Validate() error {
	if c.Environment == "production" && c.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.WebSocket.SendQueue <= 0 {
		return errors.New("WS_SEND_QUEUE must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return errors.New("WS_MAX_MESSAGE_BYTES must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.IdleTimeout {
		return errors.Errorf("WS_PING_INTERVAL (%s) must be shorter than WS_IDLE_TIMEOUT (%s)",
			c.WebSocket.PingInterval, c.WebSocket.IdleTimeout)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
