package control

import (
	"math"
	"time"
)

// Waypoint is a curvature-center target. StopHeading is the precession
// angle at which the wheel is halted during the waypoint's stop phase.
type Waypoint struct {
	X           float32
	Y           float32
	StopHeading float32
}

// Plan is a fixed, ordered waypoint sequence with the dwell durations of
// the move, hold and stop phases. It is read-only after construction.
type Plan struct {
	Waypoints []Waypoint
	MoveTime  time.Duration
	HoldTime  time.Duration
	StopTime  time.Duration
}

// DefaultPlan traces two passes across the test floor, stopping the wheel
// flat at alternating headings.
func DefaultPlan() Plan {
	return Plan{
		Waypoints: []Waypoint{
			{X: -0.90, Y: 0.75, StopHeading: -math.Pi / 2},
			{X: -0.90, Y: 2.00, StopHeading: math.Pi / 2},
			{X: 0.50, Y: 0.75, StopHeading: -math.Pi / 2},
			{X: 0.50, Y: 2.00, StopHeading: math.Pi / 2},
		},
		MoveTime: 120 * time.Second,
		HoldTime: 50 * time.Second,
		StopTime: 25 * time.Second,
	}
}
