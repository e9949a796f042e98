// Package config defines the pipeline's configuration surface and loads
// it from a YAML file, environment variables, and CLI flags via viper.
package config

import (
	"math"

	"github.com/spf13/viper"
)

// Vehicle holds the vehicle geometry used by threshold auto-computation
// and footprint sizing.
type Vehicle struct {
	RobotHeight float64 `mapstructure:"robot_height"`
	RobotWidth  float64 `mapstructure:"robot_width"`
	RobotLength float64 `mapstructure:"robot_length"`
	RatioCG     float64 `mapstructure:"ratio_cg"`
	RatioMeta   float64 `mapstructure:"ratio_meta"`
	ForceRatio  float64 `mapstructure:"force_ratio"`
}

// Thresholds holds the terrain thresholds that gate landability.
type Thresholds struct {
	HeightThreshold float64 `mapstructure:"height_threshold"`
	SlopeThreshold  float64 `mapstructure:"slope_threshold"`
	GroundThreshold float64 `mapstructure:"ground_threshold"`
	ProtrusionSize  float64 `mapstructure:"protrusion_size"`
	UpdateThreshold bool    `mapstructure:"update_threshold"`
}

// Rotation holds the heading sweep parameters.
type Rotation struct {
	FixRotation  bool    `mapstructure:"fix_rotation"`
	Rotation     float64 `mapstructure:"rotation"`
	RotationMin  float64 `mapstructure:"rotation_min"`
	RotationMax  float64 `mapstructure:"rotation_max"`
	RotationStep float64 `mapstructure:"rotation_step"`
}

// Map holds raster/NoData handling knobs.
type Map struct {
	DefaultNodata    float64 `mapstructure:"default_nodata"`
	UseNodataMask    bool    `mapstructure:"use_nodata_mask"`
	AlphaShapeRadius float64 `mapstructure:"alpha_shape_radius"`
	MaskBorder       int     `mapstructure:"mask_border"`
}

// Scheduling holds worker-pool and export knobs.
type Scheduling struct {
	MaxThreads         int  `mapstructure:"max_threads"`
	ExportIntermediate bool `mapstructure:"export_intermediate"`
	ExportRotated      bool `mapstructure:"export_rotated"`
	Verbosity          int  `mapstructure:"verbosity"`
}

// Config is the complete configuration surface enumerated in the
// external-interfaces design.
type Config struct {
	Vehicle    Vehicle    `mapstructure:"vehicle"`
	Thresholds Thresholds `mapstructure:"thresholds"`
	Rotation   Rotation   `mapstructure:"rotation"`
	Map        Map        `mapstructure:"map"`
	Scheduling Scheduling `mapstructure:"scheduling"`

	InputPath string `mapstructure:"input"`
	OutputDir string `mapstructure:"output_dir"`
	LogLevel  string `mapstructure:"log_level"`
}

// Defaults returns a Config populated with the defaults referenced
// throughout the design (max_threads=12, default_nodata=-9999, etc).
func Defaults() Config {
	return Config{
		Map: Map{
			DefaultNodata: -9999,
			UseNodataMask: true,
		},
		Scheduling: Scheduling{
			MaxThreads: 12,
			Verbosity:  1,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from v (already bound to flags/env/file by
// the caller) into a Config seeded with Defaults().
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Scheduling.MaxThreads < 3 {
		cfg.Scheduling.MaxThreads = 3
	}
	if cfg.Thresholds.UpdateThreshold {
		cfg.ApplyThresholdUpdate()
	}
	return cfg, nil
}

// ApplyThresholdUpdate recomputes SlopeThreshold and HeightThreshold from
// vehicle geometry, per the buoyancy/force-ratio formulas:
//
//	V      = (pi/6) * w * l * h
//	F_b    = V * rho * g * (1 - force_ratio)
//	F_g    = V * rho_vehicle... (approximated here as the neutral-buoyancy
//	         baseline force V*rho*g, per the design's "F_g - F_b" net term)
//	F_r    = F_g - F_b
//	slope_crit = atan((0.5*w*F_r) / (d_m*F_b - d_g*F_r))
//	height_crit = w*sin(slope_crit)
//
// where d_m = ratio_meta*height, d_g = ratio_cg*height, rho=1025 (seawater),
// g=9.81.
func (c *Config) ApplyThresholdUpdate() {
	const rho = 1025.0
	const g = 9.81

	w := c.Vehicle.RobotWidth
	l := c.Vehicle.RobotLength
	h := c.Vehicle.RobotHeight

	volume := (math.Pi / 6) * w * l * h
	fg := volume * rho * g
	fb := fg * (1 - c.Vehicle.ForceRatio)
	fr := fg - fb

	dm := c.Vehicle.RatioMeta * h
	dgCg := c.Vehicle.RatioCG * h

	denom := dm*fb - dgCg*fr
	var slopeCrit float64
	if denom != 0 {
		slopeCrit = math.Atan((0.5 * w * fr) / denom)
	}

	c.Thresholds.SlopeThreshold = slopeCrit * 180 / math.Pi
	c.Thresholds.HeightThreshold = w * math.Sin(slopeCrit)
}
