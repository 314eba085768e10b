// Package path_planner implements the local trajectory planner collaborator:
// it interpolates a robot's timed global schedule and, each tick, extracts
// the short window of reference states the controller tracks. Implemented
// concretely (linear interpolation) so the control loop is runnable end to
// end.
package path_planner

import (
	"fmt"
	"math"

	"fleetmpc/robot_protocol"
)

// Planner is the external trajectory-planning contract the robot node
// drives each tick: load a global schedule once, then pull a local
// reference window from it every tick.
type Planner interface {
	// LoadPath loads a global schedule. If times is nil, waypoints are
	// timed by arc length at nominalSpeed (method "linear" is the only
	// method this repo implements; other values are rejected).
	LoadPath(coords []robot_protocol.PathNode, times []float64, nominalSpeed float64, method string) error
	// GetLocalRef returns the local reference window starting at time t
	// from the robot's current position. The caller (the robot's
	// COMPUTE_REQUEST handler) is responsible for padding/truncating the
	// returned matrix to the MPC horizon.
	GetLocalRef(t float64, pos [2]float64) (robot_protocol.TrajectoryResult, error)
	// Idle reports whether the loaded schedule has been fully traversed.
	Idle() bool
}

// LinearPlanner interpolates a polyline schedule linearly in time and
// samples ns=3 (x, y, theta) reference states ts apart, looking ahead
// lookahead steps from the query time.
type LinearPlanner struct {
	ts        float64
	lookahead int

	coords   []robot_protocol.PathNode
	times    []float64 // cumulative time at each waypoint, same length as coords
	duration float64
	idle     bool
}

// NewLinearPlanner builds a planner that samples reference states ts apart,
// lookahead steps into the future, matching the MPC horizon it feeds.
func NewLinearPlanner(ts float64, lookahead int) *LinearPlanner {
	return &LinearPlanner{ts: ts, lookahead: lookahead}
}

// LoadPath implements Planner.
func (p *LinearPlanner) LoadPath(
	coords []robot_protocol.PathNode,
	times []float64,
	nominalSpeed float64,
	method string,
) error {
	if method != "" && method != "linear" {
		return fmt.Errorf("path_planner: unsupported interpolation method %q", method)
	}
	if len(coords) < 2 {
		return fmt.Errorf("path_planner: schedule needs at least two waypoints, got %d", len(coords))
	}
	if nominalSpeed <= 0 {
		return fmt.Errorf("path_planner: nominalSpeed must be positive, got %v", nominalSpeed)
	}

	p.coords = coords
	p.idle = false

	if times != nil {
		if len(times) != len(coords) {
			return fmt.Errorf("path_planner: times length %d does not match coords length %d", len(times), len(coords))
		}
		p.times = times
	} else {
		p.times = make([]float64, len(coords))
		cum := 0.0
		for i := 1; i < len(coords); i++ {
			cum += distance(coords[i-1], coords[i]) / nominalSpeed
			p.times[i] = cum
		}
	}
	p.duration = p.times[len(p.times)-1]
	return nil
}

// GetLocalRef implements Planner.
func (p *LinearPlanner) GetLocalRef(t float64, pos [2]float64) (robot_protocol.TrajectoryResult, error) {
	if len(p.coords) < 2 {
		return robot_protocol.TrajectoryResult{}, fmt.Errorf("path_planner: no schedule loaded")
	}

	isComplete := t >= p.duration
	p.idle = isComplete

	states := make(robot_protocol.Matrix, 0, p.lookahead)
	for step := 0; step < p.lookahead; step++ {
		sampleT := t + float64(step)*p.ts
		x, y, theta := p.poseAt(sampleT)
		states = append(states, []float64{x, y, theta})
	}

	return robot_protocol.TrajectoryResult{
		RefStates:  states,
		RefSpeed:   p.nominalSpeedAt(t),
		IsComplete: isComplete,
	}, nil
}

// Idle implements Planner.
func (p *LinearPlanner) Idle() bool { return p.idle }

// poseAt returns the linearly interpolated (x, y, theta) at time t,
// clamped to the schedule's last waypoint once t exceeds the duration.
func (p *LinearPlanner) poseAt(t float64) (x, y, theta float64) {
	if t <= 0 {
		return p.headingPose(0)
	}
	if t >= p.duration {
		return p.headingPose(len(p.coords) - 1)
	}

	for i := 1; i < len(p.times); i++ {
		if t <= p.times[i] {
			segStart, segEnd := p.times[i-1], p.times[i]
			frac := 0.0
			if segEnd > segStart {
				frac = (t - segStart) / (segEnd - segStart)
			}
			a, b := p.coords[i-1], p.coords[i]
			x = a.X + frac*(b.X-a.X)
			y = a.Y + frac*(b.Y-a.Y)
			theta = math.Atan2(b.Y-a.Y, b.X-a.X)
			return
		}
	}
	return p.headingPose(len(p.coords) - 1)
}

// headingPose returns the pose at waypoint index idx, heading toward the
// next waypoint (or holding the incoming heading at the final waypoint).
func (p *LinearPlanner) headingPose(idx int) (x, y, theta float64) {
	node := p.coords[idx]
	x, y = node.X, node.Y
	switch {
	case idx+1 < len(p.coords):
		theta = math.Atan2(p.coords[idx+1].Y-y, p.coords[idx+1].X-x)
	case idx > 0:
		prev := p.coords[idx-1]
		theta = math.Atan2(y-prev.Y, x-prev.X)
	}
	return
}

// nominalSpeedAt returns the schedule's average speed, used as the
// reference speed for the remainder of the run once loaded.
func (p *LinearPlanner) nominalSpeedAt(t float64) float64 {
	if p.duration <= 0 {
		return 0
	}
	totalDist := 0.0
	for i := 1; i < len(p.coords); i++ {
		totalDist += distance(p.coords[i-1], p.coords[i])
	}
	return totalDist / p.duration
}

func distance(a, b robot_protocol.PathNode) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	return math.Sqrt(dx*dx + dy*dy)
}
