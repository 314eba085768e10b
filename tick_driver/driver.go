// Package tick_driver implements the tick orchestrator: a plain loop that
// drives a RobotManager through its configured tick count, forwarding each
// tick's results to an observer, and stopping early once the fleet reports
// all_complete.
package tick_driver

import (
	"context"
	"log"

	"fleetmpc/fleet_config"
	"fleetmpc/robot_protocol"
)

// Manager is the subset of robot_manager.Manager the orchestrator drives.
type Manager interface {
	Tick(ctx context.Context, k int, cfg fleet_config.MpcConfiguration, staticObstacles [][]robot_protocol.PathNode) ([]robot_protocol.SimulationResult, error)
	AllComplete() bool
}

// Observer receives each tick's results as they're produced. Implementations
// must not block the driver for long; observer/server.go's websocket
// publisher drops events for slow subscribers rather than stalling the loop.
type Observer interface {
	ObserveTick(k int, results []robot_protocol.SimulationResult)
}

// ObserverFunc adapts a plain function to Observer.
type ObserverFunc func(k int, results []robot_protocol.SimulationResult)

// ObserveTick implements Observer.
func (f ObserverFunc) ObserveTick(k int, results []robot_protocol.SimulationResult) {
	f(k, results)
}

// Driver runs the tick loop: no retained state beyond the tick counter.
type Driver struct {
	Manager         Manager
	Cfg             fleet_config.MpcConfiguration
	StaticObstacles [][]robot_protocol.PathNode
	Observer        Observer
	Logger          *log.Logger
}

// Run drives ticks 0..timeoutTicks-1, stopping early once the
// manager reports all_complete.
func (d *Driver) Run(ctx context.Context, timeoutTicks int) (ticksRun int, err error) {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}

	for k := 0; k < timeoutTicks; k++ {
		select {
		case <-ctx.Done():
			return k, ctx.Err()
		default:
		}

		results, tickErr := d.Manager.Tick(ctx, k, d.Cfg, d.StaticObstacles)
		if tickErr != nil {
			return k, tickErr
		}

		if d.Observer != nil {
			d.Observer.ObserveTick(k, results)
		}

		if d.Manager.AllComplete() {
			logger.Printf("tick_driver: fleet reported all_complete at tick %d", k)
			return k + 1, nil
		}
	}
	return timeoutTicks, nil
}
