package database

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds PostgreSQL connection settings, read from the environment.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns int
	MinConns int
}

// NewConfigFromEnv builds a Config from DB_* environment variables with
// development defaults.
func NewConfigFromEnv() *Config {
	return &Config{
		Host:     getEnvOrDefault("DB_HOST", "localhost"),
		Port:     getEnvOrDefault("DB_PORT", "5432"),
		User:     getEnvOrDefault("DB_USER", "topicstreams"),
		Password: getEnvOrDefault("DB_PASSWORD", "topicstreams"),
		DBName:   getEnvOrDefault("DB_NAME", "topicstreams"),
		SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxConns: getEnvIntOrDefault("DB_MAX_CONNS", 10),
		MinConns: getEnvIntOrDefault("DB_MIN_CONNS", 2),
	}
}

// ConnString returns a keyword/value connection string for pgx.
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// PoolConnString returns the connection string with pool tuning parameters,
// for use with pgxpool.
func (c *Config) PoolConnString() string {
	return fmt.Sprintf("%s pool_max_conns=%d pool_min_conns=%d",
		c.ConnString(), c.MaxConns, c.MinConns)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
