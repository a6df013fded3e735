package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/vaheed/odoonova/pkg/api/v1alpha1"
	statusclient "github.com/vaheed/odoonova/pkg/client"
)

// Environment holds the clients shared by every scenario.
type Environment struct {
	cfg        Config
	logger     *slog.Logger
	restConfig *rest.Config
	kube       client.Client
	status     *statusclient.Client
}

var (
	suiteEnv     *Environment
	suiteEnvOnce sync.Once
	suiteEnvErr  error
)

// ErrSuiteSkipped reports that the target cluster lacks the OdooCluster API.
var ErrSuiteSkipped = errors.New("suite skipped")

// InitSuiteEnvironment connects to the target cluster once per test binary.
func InitSuiteEnvironment(ctx context.Context, cfg Config) (*Environment, error) {
	suiteEnvOnce.Do(func() {
		logger := SuiteLogger()
		env := &Environment{cfg: cfg, logger: logger}
		if err := env.connect(ctx); err != nil {
			suiteEnvErr = err
			return
		}
		if cfg.StatusAPIURL != "" {
			env.status = statusclient.New(cfg.StatusAPIURL, cfg.StatusToken)
		}
		logger.Info("suite.environment_ready", "host", env.restConfig.Host, "status_api", cfg.StatusAPIURL != "")
		suiteEnv = env
	})
	return suiteEnv, suiteEnvErr
}

// SuiteEnvironment returns the environment built by InitSuiteEnvironment.
func SuiteEnvironment() *Environment {
	return suiteEnv
}

func (e *Environment) connect(ctx context.Context) error {
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if e.cfg.Kubeconfig != "" {
		rules.ExplicitPath = e.cfg.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{CurrentContext: e.cfg.KubeContext}
	rc, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return fmt.Errorf("load kubeconfig: %w", err)
	}
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))
	kube, err := client.New(rc, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("build client: %w", err)
	}
	var list v1alpha1.OdooClusterList
	if err := kube.List(ctx, &list, client.Limit(1)); err != nil {
		e.logger.Warn("suite.odoocluster_api_missing", "error", err)
		return ErrSuiteSkipped
	}
	e.restConfig = rc
	e.kube = kube
	return nil
}

func (e *Environment) Config() Config       { return e.cfg }
func (e *Environment) Logger() *slog.Logger { return e.logger }
func (e *Environment) Kube() client.Client  { return e.kube }

// Status returns the status API client, or nil when no URL is configured.
func (e *Environment) Status() *statusclient.Client { return e.status }

// ClusterName prefixes suffix with the configured cluster prefix.
func (e *Environment) ClusterName(suffix string) string {
	return e.cfg.ClusterPrefix + "-" + suffix
}

// Teardown deletes every OdooCluster the suite created unless cleanup is skipped.
func (e *Environment) Teardown(ctx context.Context) {
	if e == nil || e.cfg.SkipCleanup {
		return
	}
	var list v1alpha1.OdooClusterList
	if err := e.kube.List(ctx, &list, client.MatchingLabels{SuiteLabel: "true"}); err != nil {
		e.logger.Warn("suite.teardown_list_failed", "error", err)
		return
	}
	for i := range list.Items {
		if err := client.IgnoreNotFound(e.kube.Delete(ctx, &list.Items[i])); err != nil {
			e.logger.Warn("suite.teardown_delete_failed", "cluster", list.Items[i].Name, "error", err)
		}
	}
}

// SuiteLabel marks OdooClusters created by the suite.
const SuiteLabel = "odoo.simstech.cloud/e2e"
