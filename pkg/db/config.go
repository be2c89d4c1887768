package db

import (
	"os"
	"strconv"
)

type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

func LoadPostgresConfig() (PostgresConfig, error) {
	port, _ := strconv.Atoi(Getenv("DB_PORT", "5432"))

	// Most requests touch the pool briefly (single member, single date), but
	// the expiry sweep and ensure bursts overlap; the defaults leave headroom
	// without exhausting a small Postgres instance.
	maxOpen, _ := strconv.Atoi(Getenv("DB_MAX_OPEN_CONNS", "20"))
	maxIdle, _ := strconv.Atoi(Getenv("DB_MAX_IDLE_CONNS", "10"))

	return PostgresConfig{
		Host:         Getenv("DB_HOST", "localhost"),
		Port:         port,
		User:         Getenv("DB_USER", "postgres"),
		Password:     os.Getenv("DB_PASSWORD"),
		DBName:       Getenv("DB_NAME", "mealpass"),
		SSLMode:      Getenv("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
	}, nil
}

// Getenv reads an environment variable with a fallback default.
func Getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
