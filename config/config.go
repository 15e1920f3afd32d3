// Package config loads and validates the declarative settings file that wires
// a worker application: its compatibility date, model binding, durable object
// class bindings and workflow class bindings.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root of the settings file.
type Config struct {
	// Name identifies the application.
	Name string `yaml:"name"`

	// CompatibilityDate pins the platform behavior the application was
	// written against (YYYY-MM-DD).
	CompatibilityDate string `yaml:"compatibility_date"`

	// AI declares the model invocation binding, if any.
	AI *AIConfig `yaml:"ai,omitempty"`

	// DurableObjects declares durable object class bindings.
	DurableObjects DurableObjectsConfig `yaml:"durable_objects"`

	// Workflows declares workflow class bindings.
	Workflows []WorkflowBinding `yaml:"workflows"`

	// Observability toggles structured logging output.
	Observability ObservabilityConfig `yaml:"observability"`
}

// AIConfig names the model invocation binding.
type AIConfig struct {
	Binding string `yaml:"binding"`
}

// DurableObjectsConfig wraps the durable object binding list.
type DurableObjectsConfig struct {
	Bindings []DurableObjectBinding `yaml:"bindings"`
}

// DurableObjectBinding maps a binding name to a durable object class.
type DurableObjectBinding struct {
	Name      string `yaml:"name"`
	ClassName string `yaml:"class_name"`
}

// WorkflowBinding maps a binding name to a workflow class.
type WorkflowBinding struct {
	Binding   string `yaml:"binding"`
	ClassName string `yaml:"class_name"`
}

// ObservabilityConfig toggles observability features.
type ObservabilityConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the settings file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates a settings document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks binding declarations for missing or duplicate names.
func (c *Config) Validate() error {
	if c.AI != nil && c.AI.Binding == "" {
		return fmt.Errorf("config: ai.binding must not be empty")
	}

	seen := map[string]string{}
	claim := func(name, kind string) error {
		if name == "" {
			return fmt.Errorf("config: %s binding with empty name", kind)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("config: binding name %q declared by both %s and %s", name, prev, kind)
		}
		seen[name] = kind
		return nil
	}

	if c.AI != nil {
		if err := claim(c.AI.Binding, "ai"); err != nil {
			return err
		}
	}
	for _, b := range c.DurableObjects.Bindings {
		if err := claim(b.Name, "durable_objects"); err != nil {
			return err
		}
		if b.ClassName == "" {
			return fmt.Errorf("config: durable object binding %q missing class_name", b.Name)
		}
	}
	for _, w := range c.Workflows {
		if err := claim(w.Binding, "workflows"); err != nil {
			return err
		}
		if w.ClassName == "" {
			return fmt.Errorf("config: workflow binding %q missing class_name", w.Binding)
		}
	}

	return nil
}
