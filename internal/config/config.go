package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string
	DatabaseURL    string
	AccountsURL    string
	AccountsAPIKey string
	InternalToken  string
	AutoMigrate    bool
	Rules          RulesConfig
}

type WorkerConfig struct {
	DatabaseURL    string
	ReconcileEvery time.Duration
	RunOnce        bool
	AutoMigrate    bool
}

type RulesConfig struct {
	MinBet         int64
	MaxBet         int64
	StarterBalance int64
	RecoveryGrant  int64
}

type CLIConfig struct {
	APIBaseURL string
}

// LoadDotEnv seeds the process environment from a .env file in the working
// directory. A missing file is not an error.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("TYPEBET_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:           addr,
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		AccountsURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("TYPEBET_ACCOUNTS_URL")), "/"),
		AccountsAPIKey: strings.TrimSpace(os.Getenv("TYPEBET_ACCOUNTS_API_KEY")),
		InternalToken:  strings.TrimSpace(os.Getenv("TYPEBET_INTERNAL_TOKEN")),
		AutoMigrate:    envBoolDefault("TYPEBET_AUTO_MIGRATE", true),
	}
	rules, err := loadRules()
	if err != nil {
		return cfg, err
	}
	cfg.Rules = rules

	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.AccountsURL == "" {
		return cfg, fmt.Errorf("TYPEBET_ACCOUNTS_URL is required")
	}
	if cfg.AccountsAPIKey == "" {
		return cfg, fmt.Errorf("TYPEBET_ACCOUNTS_API_KEY is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	cfg := WorkerConfig{
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ReconcileEvery: envDurationDefault("TYPEBET_RECONCILE_EVERY", 10*time.Minute),
		RunOnce:        envBoolDefault("TYPEBET_WORKER_RUN_ONCE", false),
		AutoMigrate:    envBoolDefault("TYPEBET_AUTO_MIGRATE", true),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ReconcileEvery <= 0 {
		return cfg, fmt.Errorf("TYPEBET_RECONCILE_EVERY must be positive")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("TB_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadRules() (RulesConfig, error) {
	rules := RulesConfig{
		MinBet:         envInt64Default("TYPEBET_MIN_BET", 100),
		MaxBet:         envInt64Default("TYPEBET_MAX_BET", 700),
		StarterBalance: envInt64Default("TYPEBET_STARTER_BALANCE", 1000),
		RecoveryGrant:  envInt64Default("TYPEBET_RECOVERY_GRANT", 120),
	}
	if rules.MinBet <= 0 {
		return rules, fmt.Errorf("TYPEBET_MIN_BET must be > 0, got %d", rules.MinBet)
	}
	if rules.MaxBet < rules.MinBet {
		return rules, fmt.Errorf("TYPEBET_MAX_BET (%d) must be >= TYPEBET_MIN_BET (%d)", rules.MaxBet, rules.MinBet)
	}
	if rules.StarterBalance < 0 {
		return rules, fmt.Errorf("TYPEBET_STARTER_BALANCE must be >= 0")
	}
	if rules.RecoveryGrant <= 0 {
		return rules, fmt.Errorf("TYPEBET_RECOVERY_GRANT must be > 0")
	}
	return rules, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
