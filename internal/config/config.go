package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models phaseline.yml.
type Config struct {
	Store struct {
		// Path overrides the default .phaseline/phaseline.db location.
		Path string `yaml:"path"`
	} `yaml:"store"`
	Docs struct {
		// Enabled toggles document mirroring as a whole. When false every
		// synchronizer operation is a no-op and the store works alone.
		Enabled bool `yaml:"enabled"`
		// SpecsRoot holds the human-editable specification mirror, one
		// subdirectory per project.
		SpecsRoot string `yaml:"specs_root"`
		// TrackingRoot holds process-owned output: overviews, task progress
		// logs and handoff documents.
		TrackingRoot string `yaml:"tracking_root"`
		// LegacyRoots are additional locations searched (in order) for
		// existing documents before a new one is created under SpecsRoot.
		LegacyRoots []string `yaml:"legacy_roots"`
	} `yaml:"docs"`
	API struct {
		// AuthSecret enables bearer-token auth on the HTTP API when set.
		AuthSecret string `yaml:"auth_secret"`
	} `yaml:"api"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "phaseline.yml")
}

// Default returns the default config rooted at a workspace.
func Default(workspace string) *Config {
	var cfg Config
	cfg.Docs.Enabled = true
	cfg.Docs.SpecsRoot = filepath.Join(workspace, "specs")
	cfg.Docs.TrackingRoot = filepath.Join(workspace, ".phaseline", "tracking")
	return &cfg
}

// Load reads phaseline.yml from the workspace, falling back to defaults when
// the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Docs.SpecsRoot == "" {
		cfg.Docs.SpecsRoot = filepath.Join(workspace, "specs")
	}
	if cfg.Docs.TrackingRoot == "" {
		cfg.Docs.TrackingRoot = filepath.Join(workspace, ".phaseline", "tracking")
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Docs.Enabled {
		if c.Docs.SpecsRoot != "" && c.Docs.SpecsRoot == c.Docs.TrackingRoot {
			return fmt.Errorf("config.docs: specs_root and tracking_root must differ")
		}
	}
	for i, root := range c.Docs.LegacyRoots {
		if root == "" {
			return fmt.Errorf("config.docs.legacy_roots[%d] is empty", i)
		}
	}
	return nil
}

// GenerateDefault returns default config YAML for pl init.
func GenerateDefault(workspace string) string {
	return fmt.Sprintf(`docs:
  enabled: true
  specs_root: %s
  tracking_root: %s
`, filepath.Join(workspace, "specs"), filepath.Join(workspace, ".phaseline", "tracking"))
}
