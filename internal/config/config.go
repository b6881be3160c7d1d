package config

import (
	"os"
)

type Config struct {
	Port        string
	Environment string
	CORSOrigins string
	TablePrefix string
	// Storage backends
	DatabaseURL string // PostgreSQL (chat directory); empty selects the in-memory directory
	MongoURL    string // MongoDB (conversation store); empty selects the in-memory store
	RedisURL    string // chat metadata cache; empty disables caching
	// Auth
	JWTSecret string // HS256 secret shared with the token issuer
	// Completion provider
	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string
	CacheExpire int // chat cache TTL in seconds
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: env,
		CORSOrigins: getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix: TablePrefixFor(env),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoURL:    getEnv("MONGO_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		GroqAPIKey:  getEnv("GROQ_API_KEY", ""),
		GroqBaseURL: getEnv("GROQ_BASE_URL", ""),
		GroqModel:   getEnv("GROQ_MODEL", "llama-3.3-70b-versatile"),
		CacheExpire: 300,
	}
}

// TablePrefixFor returns the table prefix for an environment. Schema scripts
// use it too, so tables land under the same names the server queries.
func TablePrefixFor(env string) string {
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
