package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/meridian-iac/deployer/pkg/dispatcher"
	"github.com/meridian-iac/deployer/pkg/engines/script"
	"github.com/meridian-iac/deployer/pkg/objectstore"
	"github.com/meridian-iac/deployer/pkg/orchestrator"
	"github.com/meridian-iac/deployer/pkg/pkgdef"
	"github.com/meridian-iac/deployer/pkg/policy"
	"github.com/meridian-iac/deployer/pkg/schema"
	"github.com/meridian-iac/deployer/pkg/state"
	"github.com/meridian-iac/deployer/pkg/telemetry"
)

// loadPackageDefinition reads path as YAML, rejects unknown properties
// against the closed schema, and unmarshals the result into a
// pkgdef.Document. yaml.v3 does not honor encoding/json struct tags, so
// the decode goes through a generic interface{} and a JSON round trip
// rather than unmarshaling YAML directly into pkgdef.Document.
func loadPackageDefinition(path string) (*pkgdef.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package definition %s: %w", path, err)
	}

	var generic interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse package definition %s as YAML: %w", path, err)
	}
	generic = normalizeYAML(generic)

	sv, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("failed to compile package definition schema: %w", err)
	}
	if err := sv.ValidateJSON(generic); err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode package definition as JSON: %w", err)
	}

	var doc pkgdef.Document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode package definition: %w", err)
	}

	if err := pkgdef.NewValidator().Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// normalizeYAML recursively converts the map[interface{}]interface{}
// nodes yaml.v3 produces for untyped documents into map[string]interface{},
// the only map shape encoding/json and CUE's encoder accept.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[k] = normalizeYAML(vv)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, vv := range val {
			out[i] = normalizeYAML(vv)
		}
		return out
	default:
		return v
	}
}

// runtime bundles a single invocation's fully wired collaborators.
type runtime struct {
	doc     *pkgdef.Document
	orch    *orchestrator.Orchestrator
	store   *state.Store
	ledger  *state.Ledger
	tel     *telemetry.Telemetry
	log     zerolog.Logger
}

// buildRuntime loads the package definition and wires every
// collaborator an orchestrator.Run invocation needs: the object store
// (a local directory standing in for the opaque ObjectStoreLocation),
// the state store and ledger, the engine registry (the embedded script
// engine under the "script" name), a credential provider, the policy
// engine (built-ins plus any --policy-dir additions) and the modules
// filesystem for hashing.
func buildRuntime(ctx context.Context) (*runtime, error) {
	doc, err := loadPackageDefinition(packageFile)
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Tracing.Exporter = "none"
	telCfg.Tracing.Enabled = false
	telCfg.Events.Enabled = false
	telCfg.Logging.Format = "console"
	telCfg.Logging.Output = "stderr"
	if debug {
		telCfg.Logging.Level = "debug"
	}
	telCfg.Metrics.Enabled = metricsAddr != ""
	if metricsAddr != "" {
		telCfg.Metrics.ListenAddress = metricsAddr
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	log := tel.Logger.Raw()

	if metricsAddr != "" {
		if err := tel.StartMetricsServer(); err != nil {
			return nil, fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	objects, err := objectstore.NewLocal(doc.PackageConfiguration.ObjectStoreLocation)
	if err != nil {
		return nil, err
	}
	store := state.New(objects)

	cache := tempDir
	if cache == "" {
		cache, err = os.MkdirTemp("", "deployer-")
		if err != nil {
			return nil, fmt.Errorf("failed to create temp cache directory: %w", err)
		}
	}

	ledgerPath := doc.PackageConfiguration.ObjectStoreLocation + "/ledger.db"
	ledger, err := state.OpenLedger(ledgerPath)
	if err != nil {
		return nil, err
	}

	executablePath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve deployer's own executable path: %w", err)
	}
	registry := dispatcher.NewRegistry()
	registry.Register("script", script.New(executablePath))

	policyEngine, err := policy.NewEngine(log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	if policyDir != "" {
		if err := policyEngine.LoadPolicies(ctx, []string{policyDir}); err != nil {
			return nil, err
		}
	}

	var modulesFS fs.FS
	if modulesDir != "" {
		if _, err := os.Stat(modulesDir); err == nil {
			modulesFS = os.DirFS(modulesDir)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		InventorySource:     &fileInventorySource{path: accountsFile},
		Store:               store,
		Ledger:              ledger,
		Registry:            registry,
		Credentials:         &noopCredentialProvider{},
		PolicyEngine:        policyEngine,
		ModulesFS:           modulesFS,
		CacheRoot:           cache,
		KeepDeploymentCache: keepDeploymentCache,
		HomeAccountID:       homeAccountID,
		ExcludedOUIDs:       excludedOUIDs,
	}, log)

	return &runtime{doc: doc, orch: orch, store: store, ledger: ledger, tel: tel, log: log}, nil
}

func (r *runtime) Close() {
	if r.ledger != nil {
		_ = r.ledger.Close()
	}
	if r.tel != nil {
		_ = r.tel.Shutdown(context.Background())
	}
}
