package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultsWhenUnset(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestOverrides(t *testing.T) {
	cfg, err := fromLookup(lookupFrom(map[string]string{
		"LEADER_ELECT":                "false",
		"MAX_CONCURRENT_RECONCILES":   "8",
		"RESYNC_INTERVAL":             "90s",
		"TEARDOWN_TIMEOUT":            "20m",
		"REDIS_ADDR":                  " redis:6379 ",
		"STATUS_API_RATE_LIMIT":       "30",
		"STATUS_API_JWT_KEY":          "s3cret",
		"OTEL_EXPORTER_OTLP_INSECURE": "true",
		"POD_NAMESPACE":               "odoonova-system",
		"POD_NAME":                    "odoonova-operator-7c9f",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaderElect || cfg.MaxConcurrentReconciles != 8 || cfg.ResyncInterval != 90*time.Second ||
		cfg.TeardownTimeout != 20*time.Minute || cfg.RedisAddr != "redis:6379" || cfg.StatusAPIRateLimit != 30 ||
		cfg.StatusAPISigningKey != "s3cret" || !cfg.OTLPInsecure ||
		cfg.PodNamespace != "odoonova-system" || cfg.PodName != "odoonova-operator-7c9f" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.StatusGracePeriod != 10*time.Minute {
		t.Fatalf("unset keys must keep defaults, grace = %s", cfg.StatusGracePeriod)
	}
}

func TestMalformedValuesFail(t *testing.T) {
	for key, value := range map[string]string{
		"RESYNC_INTERVAL":           "often",
		"MAX_CONCURRENT_RECONCILES": "0",
		"LEADER_ELECT":              "maybe",
		"STATUS_GRACE_PERIOD":       "-1m",
	} {
		_, err := fromLookup(lookupFrom(map[string]string{key: value}))
		if err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s=%s: expected an error naming the key, got %v", key, value, err)
		}
	}
}

func TestLoadDotenvKeepsProcessEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "operator.env")
	if err := os.WriteFile(file, []byte("ODOONOVA_TEST_A=from-file\nODOONOVA_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", file)
	t.Setenv("ODOONOVA_TEST_A", "from-env")
	os.Unsetenv("ODOONOVA_TEST_B")
	t.Cleanup(func() { os.Unsetenv("ODOONOVA_TEST_B") })

	LoadDotenv()
	if got := os.Getenv("ODOONOVA_TEST_A"); got != "from-env" {
		t.Fatalf("process env overridden: %q", got)
	}
	if got := os.Getenv("ODOONOVA_TEST_B"); got != "from-file" {
		t.Fatalf("dotenv value not loaded: %q", got)
	}
}
