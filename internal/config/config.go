// Package config reads operator settings from the environment, optionally
// seeded from a dotenv file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the operator.
type Config struct {
	MetricsAddr             string
	HealthAddr              string
	StatusAPIAddr           string
	LeaderElect             bool
	LeaderElectionID        string
	MaxConcurrentReconciles int
	ResyncInterval          time.Duration
	StatusGracePeriod       time.Duration
	TeardownTimeout         time.Duration
	RedisAddr               string
	DatabaseURL             string
	OTLPEndpoint            string
	OTLPInsecure            bool
	// StatusAPIRateLimit is requests per minute per client IP.
	StatusAPIRateLimit int
	// StatusAPISigningKey enables HS256 bearer auth on the status API when set.
	StatusAPISigningKey string
	Version             string
	Environment         string
	// PodNamespace and PodName identify the operator pod in traces.
	PodNamespace string
	PodName      string
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		MetricsAddr:             ":8081",
		HealthAddr:              ":8082",
		StatusAPIAddr:           ":8080",
		LeaderElect:             true,
		LeaderElectionID:        "odoonova-operator-leader",
		MaxConcurrentReconciles: 4,
		ResyncInterval:          5 * time.Minute,
		StatusGracePeriod:       10 * time.Minute,
		TeardownTimeout:         15 * time.Minute,
		StatusAPIRateLimit:      120,
		Version:                 "dev",
	}
}

// LoadDotenv reads $ENV_FILE and ./.env if present. Variables already set in
// the process environment are never overridden.
func LoadDotenv() {
	candidates := []string{os.Getenv("ENV_FILE")}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ".env"))
	} else {
		candidates = append(candidates, ".env")
	}
	seen := map[string]bool{}
	for _, f := range candidates {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// FromEnv overlays environment variables on Default. Malformed values are
// reported rather than silently replaced.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("METRICS_ADDR", &cfg.MetricsAddr)
	p.str("HEALTH_ADDR", &cfg.HealthAddr)
	p.str("STATUS_API_ADDR", &cfg.StatusAPIAddr)
	p.boolean("LEADER_ELECT", &cfg.LeaderElect)
	p.str("LEADER_ELECTION_ID", &cfg.LeaderElectionID)
	p.positiveInt("MAX_CONCURRENT_RECONCILES", &cfg.MaxConcurrentReconciles)
	p.duration("RESYNC_INTERVAL", &cfg.ResyncInterval)
	p.duration("STATUS_GRACE_PERIOD", &cfg.StatusGracePeriod)
	p.duration("TEARDOWN_TIMEOUT", &cfg.TeardownTimeout)
	p.str("REDIS_ADDR", &cfg.RedisAddr)
	p.str("DATABASE_URL", &cfg.DatabaseURL)
	p.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	p.boolean("OTEL_EXPORTER_OTLP_INSECURE", &cfg.OTLPInsecure)
	p.positiveInt("STATUS_API_RATE_LIMIT", &cfg.StatusAPIRateLimit)
	p.str("STATUS_API_JWT_KEY", &cfg.StatusAPISigningKey)
	p.str("ODOONOVA_VERSION", &cfg.Version)
	p.str("ODOONOVA_ENV", &cfg.Environment)
	p.str("POD_NAMESPACE", &cfg.PodNamespace)
	p.str("POD_NAME", &cfg.PodName)

	if p.err != nil {
		return Config{}, p.err
	}
	return cfg, nil
}

type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) get(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("config %s=%q: %w", key, value, err)
	}
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.get(key); ok {
		*dst = v
	}
}

func (p *parser) boolean(key string, dst *bool) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		*dst = true
	case "0", "f", "false", "n", "no", "off":
		*dst = false
	default:
		p.fail(key, v, fmt.Errorf("not a boolean"))
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	if n <= 0 {
		p.fail(key, v, fmt.Errorf("must be positive"))
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration) {
	v, ok := p.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return
	}
	if d <= 0 {
		p.fail(key, v, fmt.Errorf("must be positive"))
		return
	}
	*dst = d
}
