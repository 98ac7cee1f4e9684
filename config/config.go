package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	App     AppConfig
	Store   StoreConfig
	Auth    AuthConfig
	Sync    SyncConfig
	Logging LogConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	CorsAllowedOrigins string
	BridgeTimeout      time.Duration
	SessionTTL         time.Duration
}

type StoreConfig struct {
	Driver      string
	FilePath    string
	DatabaseURL string
	RedisURL    string
	MaxRetries  int
}

type AuthConfig struct {
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

type SyncConfig struct {
	ServerID    string
	Peers       []string
	// PeerToken authenticates outbound peer connections. It defaults to
	// the shared password, so a mesh sharing one password needs no extra
	// setting.
	PeerToken   string
	NatsURL     string
	NatsSubject string
}

type LogConfig struct {
	Level    string
	FilePath string
}

// Load reads .env when present, then the process environment.
func Load() (*Config, bool) {
	dotenv := godotenv.Load() == nil

	cfg := &Config{
		App: AppConfig{
			Port:               getEnv("YTNOTES_PORT", "8080"),
			Environment:        getEnv("YTNOTES_ENV", "development"),
			CorsAllowedOrigins: getEnv("CORS_ORIGINS", "*"),
			BridgeTimeout:      getEnvAsDuration("BRIDGE_TIMEOUT", 5*time.Second),
			SessionTTL:         getEnvAsDuration("SESSION_TTL", time.Hour),
		},
		Store: StoreConfig{
			Driver:      getEnv("YTNOTES_STORE", "file"),
			FilePath:    getEnv("YTNOTES_FILE", "./ytnotes.yaml"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
			RedisURL:    getEnv("REDIS_URL", ""),
			MaxRetries:  getEnvAsInt("STORE_MAX_RETRIES", 5),
		},
		Auth: AuthConfig{
			Password:  getEnv("YTNOTES_PASSWORD", "dev"),
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvAsDuration("TOKEN_TTL", time.Hour),
		},
		Sync: SyncConfig{
			ServerID:    getEnv("YTNOTES_SERVER_ID", ""),
			Peers:       getEnvAsList("YTNOTES_PEERS"),
			PeerToken:   getEnv("YTNOTES_PEER_TOKEN", ""),
			NatsURL:     getEnv("NATS_URL", ""),
			NatsSubject: getEnv("NATS_SUBJECT", "ytnotes.events"),
		},
		Logging: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", ""),
		},
	}

	if cfg.Sync.PeerToken == "" {
		cfg.Sync.PeerToken = cfg.Auth.Password
	}
	if cfg.Sync.ServerID == "" {
		cfg.Sync.ServerID = uuid.NewString()
	}
	if cfg.Auth.JWTSecret == "" {
		// Tokens then only verify against this process.
		cfg.Auth.JWTSecret = uuid.NewString()
	}
	return cfg, dotenv
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
