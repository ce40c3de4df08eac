// Package config loads the engine configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/extensions/declarative"
	"github.com/anvil-platform/topology/internal/semver"
)

const (
	DefaultNamespace     = "default"
	DefaultDebounce      = 250 * time.Millisecond
	DefaultEngineVersion = "1.0.0"
)

// Config is the engine configuration. Zero values are replaced by defaults on Load.
type Config struct {
	// Namespace is the initial namespace scope.
	Namespace string `json:"namespace,omitempty"`
	// Debounce is the trailing debounce window applied to resource snapshots.
	Debounce metav1.Duration `json:"debounce,omitempty"`
	// MinExtensions is the number of bound extensions required before composing.
	MinExtensions int `json:"minExtensions,omitempty"`
	// GroupDisplay enables depicter de-duplication.
	GroupDisplay *bool `json:"groupDisplay,omitempty"`
	// EngineVersion is matched against extension compatibility constraints.
	EngineVersion string `json:"engineVersion,omitempty"`

	Extensions []declarative.Config `json:"extensions,omitempty"`
}

func Default() Config {
	c := Config{}
	c.setDefaults()
	return c
}

// Load reads path. An empty path returns the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(raw, &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Debounce.Duration <= 0 {
		c.Debounce.Duration = DefaultDebounce
	}
	if c.MinExtensions <= 0 {
		c.MinExtensions = aggregation.DefaultMinExtensions
	}
	if c.GroupDisplay == nil {
		enabled := true
		c.GroupDisplay = &enabled
	}
	if c.EngineVersion == "" {
		c.EngineVersion = DefaultEngineVersion
	}
}

func (c Config) Validate() error {
	if _, err := semver.ParseVersion(c.EngineVersion); err != nil {
		return fmt.Errorf("engineVersion: %w", err)
	}
	seen := map[string]bool{}
	for i, ext := range c.Extensions {
		if err := ext.Validate(); err != nil {
			return fmt.Errorf("extensions[%d]: %w", i, err)
		}
		if seen[ext.ID] {
			return fmt.Errorf("extensions[%d]: duplicate id %q", i, ext.ID)
		}
		seen[ext.ID] = true
	}
	return nil
}

// GroupDisplayEnabled reports the effective GroupDisplay setting.
func (c Config) GroupDisplayEnabled() bool {
	return c.GroupDisplay == nil || *c.GroupDisplay
}
