package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	Presence  PresenceConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type JWTConfig struct {
	Secret string
}

type WebSocketConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	MaxMessageSize    int64
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxConnPerSession int
}

type PresenceConfig struct {
	AwayTimeout      time.Duration
	SweepInterval    time.Duration
	SessionRetention time.Duration
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

func Load() (*Config, error) {
	godotenv.Load()

	awayTimeout, err := time.ParseDuration(getEnv("PRESENCE_AWAY_TIMEOUT", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_AWAY_TIMEOUT: %w", err)
	}

	sweepInterval, err := time.ParseDuration(getEnv("PRESENCE_SWEEP_INTERVAL", "30s"))
	if err != nil {
		return nil, fmt.Errorf("invalid PRESENCE_SWEEP_INTERVAL: %w", err)
	}

	retention, err := time.ParseDuration(getEnv("SESSION_RETENTION", "720h"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_RETENTION: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "collab"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "dev-secret-change-in-production"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    getEnvAsInt("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize:   getEnvAsInt("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:    int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 1048576)),
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
			PingPeriod:        54 * time.Second,
			MaxConnPerSession: getEnvAsInt("WS_MAX_CONN_PER_SESSION", 64),
		},
		Presence: PresenceConfig{
			AwayTimeout:      awayTimeout,
			SweepInterval:    sweepInterval,
			SessionRetention: retention,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
