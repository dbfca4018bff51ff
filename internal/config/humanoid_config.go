// File: internal/config/humanoid_config.go
// This file defines the HumanoidConfig struct, which contains the tunable
// parameters for human input simulation: cursor path resolution, pacing
// between path points, and the pause taken before touching each field.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// HumanoidConfig tunes the human behavior simulation.
type HumanoidConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MouseSteps is the number of points sampled along each Bezier path.
	MouseSteps int `mapstructure:"mouse_steps" yaml:"mouse_steps"`
	// Delay between consecutive path points.
	PointDelayMinMs int `mapstructure:"point_delay_min_ms" yaml:"point_delay_min_ms"`
	PointDelayMaxMs int `mapstructure:"point_delay_max_ms" yaml:"point_delay_max_ms"`
	// Pause after scrolling a field into view, before interacting with it.
	FieldPauseMinMs int `mapstructure:"field_pause_min_ms" yaml:"field_pause_min_ms"`
	FieldPauseMaxMs int `mapstructure:"field_pause_max_ms" yaml:"field_pause_max_ms"`
	// ThinkChance is the per-keystroke probability of an extra long pause.
	ThinkChance float64 `mapstructure:"think_chance" yaml:"think_chance"`
}

func setHumanoidDefaults(v *viper.Viper) {
	v.SetDefault("browser.humanoid.enabled", true)
	v.SetDefault("browser.humanoid.mouse_steps", 25)
	v.SetDefault("browser.humanoid.point_delay_min_ms", 10)
	v.SetDefault("browser.humanoid.point_delay_max_ms", 20)
	v.SetDefault("browser.humanoid.field_pause_min_ms", 200)
	v.SetDefault("browser.humanoid.field_pause_max_ms", 400)
	v.SetDefault("browser.humanoid.think_chance", 0.1)
}

// Validate checks the ranges are well formed.
func (h *HumanoidConfig) Validate() error {
	if h.MouseSteps <= 0 {
		return fmt.Errorf("mouse_steps must be positive")
	}
	if h.PointDelayMinMs < 0 || h.PointDelayMaxMs < h.PointDelayMinMs {
		return fmt.Errorf("point delay range is invalid")
	}
	if h.FieldPauseMinMs < 0 || h.FieldPauseMaxMs < h.FieldPauseMinMs {
		return fmt.Errorf("field pause range is invalid")
	}
	if h.ThinkChance < 0 || h.ThinkChance > 1 {
		return fmt.Errorf("think_chance must be between 0.0 and 1.0")
	}
	return nil
}
