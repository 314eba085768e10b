// Package fleet_config loads the run configuration that glues the MPC
// solver contract, the robot spec, and tick timing together. It reads the
// file through viper, then decodes the same file into a typed struct with
// gopkg.in/yaml.v3: viper's own struct decoding is loose about numeric
// types (ints become float64s through mapstructure in surprising ways), and
// viper lowercases every key it reads, which yaml.v3's case-sensitive
// camelCase field tags would not match.
package fleet_config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// MpcConfiguration is the external MPC solver's contract: sampling time,
// horizon, state/action dimension, max peer count, and the robot's top
// speed. Nothing in this repo computes these; they are solver-compiled
// constants supplied by configuration.
type MpcConfiguration struct {
	Ts        float64 `yaml:"ts"`
	NHor      int     `yaml:"nHorizon"`
	Ns        int     `yaml:"ns"`
	Na        int     `yaml:"na"`
	NOther    int     `yaml:"nOther"`
	LinVelMax float64 `yaml:"linVelMax"`
}

// CircularRobotSpecification describes the robot footprint used for
// clearance checks outside this core (e.g. scenario assertions in tests).
type CircularRobotSpecification struct {
	VehicleWidth float64 `yaml:"vehicleWidth"`
}

// TickConfig bounds the tick barrier and the orchestrator's run length.
type TickConfig struct {
	Deadline     time.Duration `yaml:"-"`
	TimeoutTicks int           `yaml:"timeoutTicks"`
}

// tickConfigYAML mirrors TickConfig with Deadline as the raw duration
// string (e.g. "1s"), since yaml.v3 doesn't know how to decode
// time.Duration directly.
type tickConfigYAML struct {
	Deadline     string `yaml:"deadline"`
	TimeoutTicks int    `yaml:"timeoutTicks"`
}

// UnmarshalYAML decodes the raw duration string into a time.Duration.
func (c *TickConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw tickConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.TimeoutTicks = raw.TimeoutTicks
	if raw.Deadline == "" {
		return nil
	}
	d, err := time.ParseDuration(raw.Deadline)
	if err != nil {
		return fmt.Errorf("tick.deadline: %w", err)
	}
	c.Deadline = d
	return nil
}

// ScheduleConfig makes a schedule's nominal speed an explicit, documented
// config value instead of a hardcoded constant.
type ScheduleConfig struct {
	// NominalSpeed is in m/s. Zero means "unset"; ResolveDefaults fills it
	// in from RobotSpec.VehicleWidth-independent LinVelMax/2, the
	// recommended safety-margin default.
	NominalSpeed float64 `yaml:"nominalSpeed"`
}

// NetworkDelayConfig mirrors robot_protocol.NetworkDelay for YAML decoding.
type NetworkDelayConfig struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// FleetConfig is the complete, typed configuration for one run.
type FleetConfig struct {
	Mpc          MpcConfiguration            `yaml:"mpc"`
	RobotSpec    CircularRobotSpecification  `yaml:"robotSpec"`
	NetworkDelay NetworkDelayConfig          `yaml:"networkDelay"`
	Tick         TickConfig                  `yaml:"tick"`
	Schedule     ScheduleConfig              `yaml:"schedule"`
}

// ResolveDefaults fills in fields left zero by the YAML source with the
// documented recommended defaults.
func (c *FleetConfig) ResolveDefaults() {
	if c.Tick.Deadline <= 0 {
		c.Tick.Deadline = time.Second
	}
	if c.Tick.TimeoutTicks <= 0 {
		c.Tick.TimeoutTicks = 200
	}
	if c.NetworkDelay == (NetworkDelayConfig{}) {
		c.NetworkDelay = NetworkDelayConfig{Mean: 0.1, Std: 0.02, Min: 0.05, Max: 0.2}
	}
	if c.Schedule.NominalSpeed <= 0 {
		if c.Mpc.LinVelMax > 0 {
			c.Schedule.NominalSpeed = c.Mpc.LinVelMax / 2
		} else {
			c.Schedule.NominalSpeed = 0.5
		}
	}
}

// Load reads a YAML file at path via viper and decodes it into a
// FleetConfig, applying documented defaults for anything left unset.
func Load(path string) (*FleetConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("fleet_config: read %s: %w", path, err)
	}

	// Decode the file viper just read with yaml.v3 for strict typed
	// decoding. vp.AllSettings() is not used here: its keys are lowercased
	// ("nhorizon"), so the camelCase yaml tags would match none of them.
	spec, err := os.ReadFile(vp.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("fleet_config: read %s: %w", path, err)
	}

	cfg := &FleetConfig{}
	if err := yaml.Unmarshal(spec, cfg); err != nil {
		return nil, fmt.Errorf("fleet_config: decode: %w", err)
	}

	cfg.ResolveDefaults()
	return cfg, nil
}
