package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceOverride pins a per-service fetch timeout that differs from the
// gateway-wide FetchTimeout default, for the rare backend that is known to
// be slower (or must be bounded tighter) than the rest of the fleet. The
// timeout is a Go duration string ("10s", "500ms"); yaml.v3 has no native
// time.Duration decoding, so it's parsed by hand below.
type ServiceOverride struct {
	Service string `yaml:"service"`
	Timeout string `yaml:"timeout"`
}

// overridesFile is the on-disk shape of the optional overrides document.
type overridesFile struct {
	Services []ServiceOverride `yaml:"services"`
}

// LoadServiceOverrides reads a YAML file of per-service timeout overrides
// from path and returns a service-name -> timeout map. A missing file is not
// an error: it means no deployment-specific overrides exist, and every
// service uses Config.FetchTimeout. This is a supplementary knob layered on
// top of the env-var configuration in Load; the service registry itself
// always comes from SERVICE_* environment variables (see DESIGN.md).
func LoadServiceOverrides(path string) (map[string]time.Duration, error) {
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read service overrides: %w", err)
	}

	var doc overridesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse service overrides: %w", err)
	}

	overrides := make(map[string]time.Duration, len(doc.Services))
	for _, s := range doc.Services {
		if s.Service == "" || s.Timeout == "" {
			continue
		}
		d, err := time.ParseDuration(s.Timeout)
		if err != nil {
			return nil, fmt.Errorf("parse timeout for service %q: %w", s.Service, err)
		}
		if d <= 0 {
			continue
		}
		overrides[s.Service] = d
	}
	return overrides, nil
}

// TimeoutFor returns the configured timeout for service, falling back to
// defaultTimeout when no override is present.
func TimeoutFor(overrides map[string]time.Duration, service string, defaultTimeout time.Duration) time.Duration {
	if t, ok := overrides[service]; ok {
		return t
	}
	return defaultTimeout
}
