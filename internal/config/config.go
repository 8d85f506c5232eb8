package config

import "os"

// Config holds the runtime settings for the service. Every field has a
// working default so a bare binary starts against local files.
type Config struct {
	Port          string
	Env           string
	Debug         bool
	DBDriver      string
	DBDSN         string
	SeriesPath    string
	RedisAddr     string
	RedisPassword string
	JWTSecret     string
	APIKey        string
	APISecret     string
}

// Load reads the configuration from the environment
func Load() Config {
	return Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		Debug:         getEnv("DEBUG", "") == "true",
		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DBDSN:         getEnv("DB_DSN", "refdata.db"),
		SeriesPath:    getEnv("SERIES_DB_PATH", "refdata_series.duckdb"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", "refdata-secret-key"),
		APIKey:        getEnv("API_KEY", "refdata-api-key"),
		APISecret:     getEnv("API_SECRET", "refdata-api-secret"),
	}
}

// Production reports whether the service runs in production mode
func (c Config) Production() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
