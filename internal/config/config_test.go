package config

import (
	"math"
	"testing"
)

func TestApplyThresholdUpdateProducesPositiveThresholds(t *testing.T) {
	c := Defaults()
	c.Vehicle = Vehicle{
		RobotHeight: 0.3,
		RobotWidth:  0.5,
		RobotLength: 0.6,
		RatioCG:     0.4,
		RatioMeta:   0.6,
		ForceRatio:  0.1,
	}

	c.ApplyThresholdUpdate()

	if c.Thresholds.SlopeThreshold <= 0 {
		t.Fatalf("expected positive slope_threshold, got %v", c.Thresholds.SlopeThreshold)
	}
	if c.Thresholds.HeightThreshold <= 0 {
		t.Fatalf("expected positive height_threshold, got %v", c.Thresholds.HeightThreshold)
	}
	if math.IsNaN(c.Thresholds.SlopeThreshold) || math.IsNaN(c.Thresholds.HeightThreshold) {
		t.Fatalf("thresholds must not be NaN")
	}
}

func TestDefaultsHasMinimumThreadFloor(t *testing.T) {
	c := Defaults()
	if c.Scheduling.MaxThreads < 3 {
		t.Fatalf("default max_threads must be >= 3, got %d", c.Scheduling.MaxThreads)
	}
}
