package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds all application configuration.
type Config struct {
	// Server
	Port   string
	DBPath string

	// Ingest
	IngestTokenHash []byte
	InsecureDev     bool

	// Reporting
	ReportBudget    time.Duration
	ReportSchedule  string
	EnableScheduler bool
	RetentionDays   int

	// Cache
	StatsTTL time.Duration

	// Inventory
	EndpointsFile string
}

// Load reads configuration from the environment (and .env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getenv("PORT", "4590"),
		DBPath:          getenv("DB_PATH", "./phonewatch.db"),
		InsecureDev:     envBool("INSECURE_DEV", false),
		ReportBudget:    envDurSecs("REPORT_BUDGET_SECONDS", 30),
		ReportSchedule:  getenv("REPORT_SCHEDULE", "15 0 * * *"),
		EnableScheduler: envBool("ENABLE_SCHEDULER", true),
		RetentionDays:   envInt("RETENTION_DAYS", 365),
		StatsTTL:        envDurSecs("STATS_CACHE_SECONDS", 30),
		EndpointsFile:   getenv("ENDPOINTS_FILE", "./endpoints.yaml"),
	}

	// The ingest token may be supplied pre-hashed or as plaintext to
	// be hashed at boot. Without either, only dev mode accepts writes.
	if h := getenv("INGEST_TOKEN_BCRYPT", ""); h != "" {
		cfg.IngestTokenHash = []byte(h)
	} else if tok := getenv("INGEST_TOKEN", ""); tok != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(tok), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		cfg.IngestTokenHash = h
	} else if !cfg.InsecureDev {
		return nil, errors.New("missing INGEST_TOKEN or INGEST_TOKEN_BCRYPT (or set INSECURE_DEV=true)")
	}

	return cfg, nil
}

// Retention returns the event retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Helper functions
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(getenv(k, ""))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDurSecs(k string, def int) time.Duration {
	return time.Duration(envInt(k, def)) * time.Second
}
