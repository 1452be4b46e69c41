package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadServicesConfig loads the services configuration from config/services.yaml
func LoadServicesConfig() (*ServicesConfig, error) {
	return LoadServicesConfigFromPath(filepath.Join("config", "services.yaml"))
}

// LoadServicesConfigFromPath loads the services configuration from a specific path
func LoadServicesConfigFromPath(path string) (*ServicesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services config: %w", err)
	}

	var cfg ServicesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse services config: %w", err)
	}

	// Validate that all services have required fields
	for id, settings := range cfg.Services {
		if settings.Port == 0 {
			return nil, fmt.Errorf("service %s: port is required", id)
		}
	}

	return &cfg, nil
}

// LoadServicesConfigOrDefault loads services config or returns default if file not found
func LoadServicesConfigOrDefault() *ServicesConfig {
	cfg, err := LoadServicesConfig()
	if err != nil {
		// Return default configuration with all services enabled
		return DefaultServicesConfig()
	}
	return cfg
}

// DefaultServicesConfig returns the default subsystem configuration. Each
// entry toggles one of the platform's components, all of which run inside
// the same binary but can be disabled independently (e.g. to run a
// pipeline-only worker separate from the sync gateway).
func DefaultServicesConfig() *ServicesConfig {
	return &ServicesConfig{
		Services: map[string]*ServiceSettings{
			"identifierclient": {
				Enabled:     true,
				Port:        8081,
				Description: "Identifier authority client and local caching layer",
			},
			"pipeline": {
				Enabled:     true,
				Port:        8082,
				Description: "Evidence ingestion pipeline orchestrator",
			},
			"capability": {
				Enabled:     true,
				Port:        8083,
				Description: "Sandboxed capability execution framework",
			},
			"sync": {
				Enabled:     true,
				Port:        8084,
				Description: "Multi-session sync and vector-clock merge engine",
			},
			"distribution": {
				Enabled:     true,
				Port:        8085,
				Description: "Export and distribution bus",
			},
			"gateway": {
				Enabled:     true,
				Port:        8080,
				Description: "HTTP/RPC surface for external clients",
			},
		},
	}
}

// SubsystemAliases maps legacy or alternate subsystem names to their
// canonical identifiers used in ServicesConfig.
var SubsystemAliases = map[string]string{
	"ingestion":    "pipeline",
	"capabilities": "capability",
	"sync-engine":  "sync",
	"export":       "distribution",
	"http":         "gateway",
}

// CanonicalSubsystemName resolves a subsystem name through SubsystemAliases.
func CanonicalSubsystemName(name string) string {
	if canonical, ok := SubsystemAliases[name]; ok {
		return canonical
	}
	return name
}
