package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL       string
	Port              string
	APIToken          string
	AdminToken        string
	WebhookSecret     string
	RewardsFile       string
	SweepInterval     time.Duration
	ReconcileInterval time.Duration
	StatementTimeout  time.Duration
}

func Load() (Config, error) {
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		host := getEnvString("DB_HOST", "localhost")
		port := getEnvString("DB_PORT", "5432")
		user := strings.TrimSpace(os.Getenv("DB_USER"))
		password := strings.TrimSpace(os.Getenv("DB_PASSWORD"))
		name := strings.TrimSpace(os.Getenv("DB_NAME"))
		sslmode := getEnvString("DB_SSLMODE", "disable")
		if user == "" || password == "" || name == "" {
			return Config{}, errors.New("DATABASE_URL or DB_USER/DB_PASSWORD/DB_NAME are required")
		}
		dbURL = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, user, password, name, sslmode,
		)
	}

	apiToken := strings.TrimSpace(os.Getenv("API_TOKEN"))
	if apiToken == "" {
		return Config{}, errors.New("API_TOKEN is required")
	}
	adminToken := strings.TrimSpace(os.Getenv("ADMIN_TOKEN"))
	if adminToken == "" {
		return Config{}, errors.New("ADMIN_TOKEN is required")
	}
	webhookSecret := strings.TrimSpace(os.Getenv("WEBHOOK_SECRET"))
	if webhookSecret == "" {
		return Config{}, errors.New("WEBHOOK_SECRET is required")
	}

	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", time.Hour)
	if err != nil {
		return Config{}, err
	}
	statementTimeout, err := getEnvDuration("STATEMENT_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseURL:       dbURL,
		Port:              getEnvString("PORT", "8080"),
		APIToken:          apiToken,
		AdminToken:        adminToken,
		WebhookSecret:     webhookSecret,
		RewardsFile:       getEnvString("REWARDS_FILE", "rewards.yaml"),
		SweepInterval:     sweepInterval,
		ReconcileInterval: reconcileInterval,
		StatementTimeout:  statementTimeout,
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}
