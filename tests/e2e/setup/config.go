package setup

import (
	"os"
	"strconv"
	"time"
)

// Config captures environment options for the E2E suite. The suite runs
// against an existing cluster with the operator and CloudNativePG installed.
type Config struct {
	Kubeconfig   string
	KubeContext  string
	StatusAPIURL string
	StatusToken  string
	// ClusterPrefix names every OdooCluster the suite creates.
	ClusterPrefix string
	SkipCleanup   bool
	SkipSuite     bool
	WaitTimeout   time.Duration
	PollInterval  time.Duration
}

func LoadConfig() Config {
	runSuite, runSet := lookupEnvBool("E2E_RUN")
	skipSuite := true
	if runSet {
		skipSuite = !runSuite
	}
	if skip, ok := lookupEnvBool("E2E_SKIP"); ok {
		skipSuite = skip
	}
	return Config{
		Kubeconfig:    getenvDefault("E2E_KUBECONFIG", os.Getenv("KUBECONFIG")),
		KubeContext:   os.Getenv("E2E_KUBE_CONTEXT"),
		StatusAPIURL:  os.Getenv("E2E_STATUS_API_URL"),
		StatusToken:   os.Getenv("E2E_STATUS_API_TOKEN"),
		ClusterPrefix: getenvDefault("E2E_CLUSTER_PREFIX", "e2e"),
		SkipCleanup:   getenvBool("E2E_SKIP_CLEANUP"),
		SkipSuite:     skipSuite,
		WaitTimeout:   getenvDuration("E2E_WAIT_TIMEOUT", 20*time.Minute),
		PollInterval:  getenvDuration("E2E_POLL_INTERVAL", 5*time.Second),
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string) bool {
	b, _ := lookupEnvBool(key)
	return b
}

func lookupEnvBool(key string) (bool, bool) {
	if v, ok := os.LookupEnv(key); ok {
		if v == "" {
			return false, false
		}
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b, true
		}
		return false, true
	}
	return false, false
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}
