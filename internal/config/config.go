// Package config loads the optimizer's tuning file. Every numeric knob the
// decision layers consume — cost weights, commitment hysteresis, cadence,
// batch sizing, the rollout grid — lives here rather than in code, so the
// external tuning harness can sweep them without rebuilds.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Weights are the cost-term ratios applied by the cost evaluator.
type Weights struct {
	Distance  float64 `yaml:"distance"`
	Control   float64 `yaml:"control"`
	Alignment float64 `yaml:"alignment"`
	Type      float64 `yaml:"type"`
}

// Commitment tunes the switching hysteresis.
type Commitment struct {
	MinDwell        time.Duration `yaml:"min_dwell"`
	SwitchThreshold float64       `yaml:"switch_threshold"`
}

// UnmarshalYAML accepts Go duration strings ("400ms") for dwell and keeps
// defaults for keys the file omits.
func (c *Commitment) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		MinDwell        *duration `yaml:"min_dwell"`
		SwitchThreshold *float64  `yaml:"switch_threshold"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.MinDwell != nil {
		c.MinDwell = time.Duration(*raw.MinDwell)
	}
	if raw.SwitchThreshold != nil {
		c.SwitchThreshold = *raw.SwitchThreshold
	}
	return nil
}

// Scheduling tunes the dispatch cadence and admission control.
type Scheduling struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	Workers        int           `yaml:"workers"`

	// Priority boosts recomputed fresh each cycle.
	ProximityBoostRange float64       `yaml:"proximity_boost_range"` // m
	SpawnBoostWindow    time.Duration `yaml:"spawn_boost_window"`
	ManeuverBoostDelta  float64       `yaml:"maneuver_boost_delta"` // m/s change in target velocity
}

// UnmarshalYAML accepts Go duration strings for the cadence fields and keeps
// defaults for keys the file omits.
func (s *Scheduling) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		UpdateInterval      *duration `yaml:"update_interval"`
		MaxBatchSize        *int      `yaml:"max_batch_size"`
		Workers             *int      `yaml:"workers"`
		ProximityBoostRange *float64  `yaml:"proximity_boost_range"`
		SpawnBoostWindow    *duration `yaml:"spawn_boost_window"`
		ManeuverBoostDelta  *float64  `yaml:"maneuver_boost_delta"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.UpdateInterval != nil {
		s.UpdateInterval = time.Duration(*raw.UpdateInterval)
	}
	if raw.MaxBatchSize != nil {
		s.MaxBatchSize = *raw.MaxBatchSize
	}
	if raw.Workers != nil {
		s.Workers = *raw.Workers
	}
	if raw.ProximityBoostRange != nil {
		s.ProximityBoostRange = *raw.ProximityBoostRange
	}
	if raw.SpawnBoostWindow != nil {
		s.SpawnBoostWindow = time.Duration(*raw.SpawnBoostWindow)
	}
	if raw.ManeuverBoostDelta != nil {
		s.ManeuverBoostDelta = *raw.ManeuverBoostDelta
	}
	return nil
}

// duration adds human-readable YAML decoding on top of time.Duration.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	parsed, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", n.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// Rollout tunes the sampler's two-resolution time grid.
type Rollout struct {
	FineStep    float64 `yaml:"fine_step"`
	CoarseStep  float64 `yaml:"coarse_step"`
	FineHorizon float64 `yaml:"fine_horizon"`
	MaxHorizon  float64 `yaml:"max_horizon"`
	MinHorizon  float64 `yaml:"min_horizon"`
}

// Config is the root of the tuning file.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Commitment Commitment `yaml:"commitment"`
	Scheduling Scheduling `yaml:"scheduling"`
	Rollout    Rollout    `yaml:"rollout"`
}

// Default returns the shipped tuning. These are starting points for the
// external parameter search, not contractual values.
func Default() Config {
	return Config{
		Weights: Weights{
			Distance:  1.0,
			Control:   0.05,
			Alignment: 0.5,
			Type:      2.0,
		},
		Commitment: Commitment{
			MinDwell:        400 * time.Millisecond,
			SwitchThreshold: 0.15,
		},
		Scheduling: Scheduling{
			UpdateInterval:      100 * time.Millisecond,
			MaxBatchSize:        64,
			Workers:             8,
			ProximityBoostRange: 150,
			SpawnBoostWindow:    2 * time.Second,
			ManeuverBoostDelta:  20,
		},
		Rollout: Rollout{
			FineStep:    0.1,
			CoarseStep:  1.0,
			FineHorizon: 2.0,
			MaxHorizon:  12.0,
			MinHorizon:  3.0,
		},
	}
}

// Load reads a YAML tuning file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the scheduler cannot run with.
func (c Config) Validate() error {
	if c.Scheduling.UpdateInterval <= 0 {
		return fmt.Errorf("scheduling.update_interval must be positive, got %s", c.Scheduling.UpdateInterval)
	}
	if c.Scheduling.MaxBatchSize < 1 {
		return fmt.Errorf("scheduling.max_batch_size must be at least 1, got %d", c.Scheduling.MaxBatchSize)
	}
	if c.Commitment.MinDwell < 0 {
		return fmt.Errorf("commitment.min_dwell must not be negative, got %s", c.Commitment.MinDwell)
	}
	if c.Commitment.SwitchThreshold < 0 {
		return fmt.Errorf("commitment.switch_threshold must not be negative, got %g", c.Commitment.SwitchThreshold)
	}
	if c.Rollout.FineStep <= 0 || c.Rollout.CoarseStep <= 0 {
		return fmt.Errorf("rollout steps must be positive, got fine=%g coarse=%g", c.Rollout.FineStep, c.Rollout.CoarseStep)
	}
	if c.Rollout.MaxHorizon < c.Rollout.FineHorizon {
		return fmt.Errorf("rollout.max_horizon %g shorter than fine_horizon %g", c.Rollout.MaxHorizon, c.Rollout.FineHorizon)
	}
	return nil
}
