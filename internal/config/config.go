package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=pos port=5432 sslmode=disable"

type Config struct {
	Env            string
	HTTPPort       string
	Storage        string
	DatabaseDSN    string
	JWTSecret      string
	CORSOrigins    string
	ReservationTTL time.Duration
	SweepInterval  time.Duration
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// Load reads .env (if present) and APP_* environment variables. Missing or
// weak secrets stop the process.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] .env not found, using process environment")
	}

	cfg, err := FromViper(newViper())
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	if cfg.Storage == "postgres" && cfg.DatabaseDSN == defaultDSN {
		log.Println("[WARN] APP_DATABASE_DSN uses the default value, set your own Postgres DSN for production.")
	}
	if cfg.CORSOrigins == "http://localhost:5173" {
		log.Println("[WARN] APP_CORS_ORIGINS uses the default value, set your own domain for production.")
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("env", "dev")
	v.SetDefault("http_port", "8080")
	v.SetDefault("storage", "postgres")
	v.SetDefault("database_dsn", defaultDSN)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_origins", "http://localhost:5173")
	v.SetDefault("reservation_ttl", 10*time.Minute)
	v.SetDefault("sweep_interval", 2*time.Minute)
	v.SetDefault("request_timeout", 15*time.Second)
	v.SetDefault("metrics_enabled", true)
	return v
}

// FromViper builds a Config from v and validates it.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Env:            strings.ToLower(v.GetString("env")),
		HTTPPort:       v.GetString("http_port"),
		Storage:        strings.ToLower(v.GetString("storage")),
		DatabaseDSN:    v.GetString("database_dsn"),
		JWTSecret:      v.GetString("jwt_secret"),
		CORSOrigins:    v.GetString("cors_origins"),
		ReservationTTL: v.GetDuration("reservation_ttl"),
		SweepInterval:  v.GetDuration("sweep_interval"),
		RequestTimeout: v.GetDuration("request_timeout"),
		MetricsEnabled: v.GetBool("metrics_enabled"),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("APP_JWT_SECRET is not set")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("APP_JWT_SECRET must be at least 32 characters")
	}
	if cfg.Storage != "postgres" && cfg.Storage != "memory" {
		return nil, errors.New("APP_STORAGE must be postgres or memory")
	}
	if cfg.ReservationTTL <= 0 {
		return nil, errors.New("APP_RESERVATION_TTL must be positive")
	}
	if cfg.SweepInterval <= 0 {
		return nil, errors.New("APP_SWEEP_INTERVAL must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, errors.New("APP_REQUEST_TIMEOUT must be positive")
	}
	return cfg, nil
}
