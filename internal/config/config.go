package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates the service's configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	CORS     CORSConfig
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Database: DatabaseConfig{Path: getEnvOrDefault("DATABASE_PATH", "supportchat.db")},
		CORS:     loadCORSConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port int
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string
}

// CORSConfig lists browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	raw := strings.TrimSpace(os.Getenv("PORT"))
	if raw == "" {
		return ServerConfig{Port: 8080}, nil
	}

	port, err := strconv.Atoi(raw)
	if err != nil || port < 1 || port > 65535 {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", raw)
	}
	return ServerConfig{Port: port}, nil
}

func loadCORSConfig() CORSConfig {
	raw := getEnvOrDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:4200")
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if origin := strings.TrimSpace(part); origin != "" {
			origins = append(origins, origin)
		}
	}
	return CORSConfig{AllowedOrigins: origins}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
