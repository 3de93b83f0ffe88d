// Package config loads the bridge's configuration, following a
// Parse/Validate split and decoding YAML via goccy/go-yaml.
package config

import (
	"fmt"
	"os"
)

// Config holds the bridge's tunable options: width, height, and whether
// hardware acceleration is enabled. Width/Height of 0 mean "auto": follow
// the decoder's reported video size.
type Config struct {
	Width                      int  `yaml:"width"`
	Height                     int  `yaml:"height"`
	EnableHardwareAcceleration bool `yaml:"enable_hardware_acceleration"`

	// UseLegacySingleBuffer selects lib/legacytexture (one FBO, bounded
	// fence wait) instead of the default triple-buffered
	// bufferpool/frameexchange pair. Defaults to false (the pooled path).
	UseLegacySingleBuffer bool `yaml:"use_legacy_single_buffer"`

	// SoftwareFallbackCompiledIn reflects whether lib/swfallback was
	// linked in (always true in this module, since it is not split
	// behind a build tag). It is not itself a YAML key:
	// if software support is not compiled in, EnableHardwareAcceleration
	// is forced on. Callers set it directly.
	SoftwareFallbackCompiledIn bool `yaml:"-"`
}

// Default returns the zero-value-safe default: auto dimensions, hardware
// acceleration requested, software fallback available.
func Default() *Config {
	return &Config{EnableHardwareAcceleration: true, SoftwareFallbackCompiledIn: true}
}

// Parse reads and validates a YAML config file at filename.
func Parse(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", filename, err)
	}

	cfg := Default()
	if err := yamlUnmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s is invalid: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks that dimensions are non-negative, and if software
// fallback is not available, forces hardware acceleration on rather than
// rejecting the config (coercing to a safe default instead of failing,
// matching FrameCfg.Validate's non-negativity checks).
func (c *Config) Validate() error {
	if c.Width < 0 {
		return fmt.Errorf("width must be >= 0 (0 = auto), got %d", c.Width)
	}
	if c.Height < 0 {
		return fmt.Errorf("height must be >= 0 (0 = auto), got %d", c.Height)
	}
	if !c.SoftwareFallbackCompiledIn {
		c.EnableHardwareAcceleration = true
	}
	return nil
}
