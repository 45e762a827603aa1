package main

import (
	"time"

	"ride-tracker/internal/sandbox"
)

// Simulation pacing
const (
	LocationUpdateInterval = 3 * time.Second
	DriverSpeedMps         = 500.0
	MatchDelay             = 2 * time.Second
	StopDelay              = 2 * time.Second
	AuthTimeout            = 5 * time.Second
	ShutdownTimeout        = 5 * time.Second
	DemoTokenTTL           = 24 * time.Hour
)

func simConfig() sandbox.SimConfig {
	return sandbox.SimConfig{
		StepInterval: LocationUpdateInterval,
		SpeedMps:     DriverSpeedMps,
		MatchDelay:   MatchDelay,
		StopDelay:    StopDelay,
	}
}
