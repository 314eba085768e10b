// fleetsim runs a simulated fleet of robots against an in-process
// RobotManager, tick by tick, and serves the result as a live websocket
// feed plus Prometheus metrics.
//
// There's no real network here and no real MPC solver either -
// robot_protocol's delayed channels stand in for the wire, and
// mpc_solver.ProportionalSolver stands in for the optimizer. Wiring a real
// solver just means satisfying mpc_solver.Solver and passing it to
// robot.Robot.Initialize instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"

	"fleetmpc/fleet_config"
	"fleetmpc/mpc_solver"
	"fleetmpc/observer"
	"fleetmpc/path_planner"
	"fleetmpc/robot"
	"fleetmpc/robot_manager"
	"fleetmpc/robot_protocol"
	"fleetmpc/schedule"
	"fleetmpc/telemetry"
	"fleetmpc/tick_driver"
)

var (
	cfgPath      *string
	trackPath    *string
	obstaclePath *string
	dbg          *bool
	host         *string
	port         *string
	addr         string
)

// TODO: per 12-factor rules these should come from env/flags uniformly;
// KISS for now.
func init() {
	cfgPath = flag.String("config", "./fleet.yaml", "path to the fleet config YAML")
	trackPath = flag.String("track", "./track.csv", "path to the per-robot waypoint schedule CSV")
	obstaclePath = flag.String("obstacles", "", "optional path to a static obstacle CSV (rows sharing a robot column value form one polygon)")
	dbg = flag.Bool("debug", false, "debug-level logging")
	host = flag.String("host", "", "observer server host")
	port = flag.String("port", "8080", "observer server port")
	flag.Parse()
	addr = *host + ":" + *port
}

func main() {
	if err := runApp(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runApp() error {
	level := telemetry.LevelInfo
	if *dbg {
		level = telemetry.LevelDebug
	}
	logger := telemetry.New("fleetsim", level, nil)

	cfg, err := fleet_config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("fleetsim: %w", err)
	}

	tracks, err := schedule.LoadCSV(*trackPath)
	if err != nil {
		return fmt.Errorf("fleetsim: %w", err)
	}
	if len(tracks) == 0 {
		return fmt.Errorf("fleetsim: %s defines no robots", *trackPath)
	}

	staticObstacles, err := loadObstacles(*obstaclePath)
	if err != nil {
		return fmt.Errorf("fleetsim: %w", err)
	}

	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	mgr := robot_manager.New(cfg.Tick.Deadline, logger.With("manager").Std())
	mgr.SetMetrics(metrics)
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("fleetsim: %w", err)
	}
	defer mgr.Stop()

	delay := robot_protocol.NetworkDelay{
		Mean: cfg.NetworkDelay.Mean,
		Std:  cfg.NetworkDelay.Std,
		Min:  cfg.NetworkDelay.Min,
		Max:  cfg.NetworkDelay.Max,
	}

	robots, err := spawnFleet(appCtx, mgr, cfg, tracks, delay, logger)
	if err != nil {
		return fmt.Errorf("fleetsim: %w", err)
	}
	for _, r := range robots {
		defer r.Stop()
	}

	obs, observerFn := observer.New(appCtx, addr, logger.With("observer"))
	obs.SetMetrics(metrics)
	driver := &tick_driver.Driver{
		Manager:         mgr,
		Cfg:             cfg.Mpc,
		StaticObstacles: staticObstacles,
		Observer:        observerFn,
		Logger:          logger.With("driver").Std(),
	}

	serveErrs := make(chan error, 1)
	go func() {
		serveErrs <- obs.ListenAndServe()
	}()

	driveErrs := make(chan error, 1)
	go func() {
		ticksRun, err := driver.Run(appCtx, cfg.Tick.TimeoutTicks)
		logger.Infof("driver stopped after %d ticks", ticksRun)
		driveErrs <- err
	}()

	select {
	case err := <-driveErrs:
		return err
	case err := <-serveErrs:
		return fmt.Errorf("fleetsim: observer server: %w", err)
	case <-appCtx.Done():
		return nil
	}
}

// spawnFleet builds, initializes, and subscribes one robot.Robot per track,
// in ascending robot id order so the fleet's registration order (and thus
// peer_state.Pack's truncation behavior) is deterministic run to run.
func spawnFleet(
	ctx context.Context,
	mgr *robot_manager.Manager,
	cfg *fleet_config.FleetConfig,
	tracks map[robot_protocol.RobotID]*schedule.Track,
	delay robot_protocol.NetworkDelay,
	logger *telemetry.Logger,
) ([]*robot.Robot, error) {
	ids := make([]robot_protocol.RobotID, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}
	sortRobotIDs(ids)

	robots := make([]*robot.Robot, 0, len(ids))
	for _, id := range ids {
		rlog := logger.With(fmt.Sprintf("robot-%d", id)).Std()
		r := robot.New(id, cfg.Mpc, rlog)
		r.Initialize(
			mpc_solver.NewProportionalSolver(),
			path_planner.NewLinearPlanner(cfg.Mpc.Ts, cfg.Mpc.NHor),
		)

		track := tracks[id]
		if err := r.LoadSchedule(track.Coords, track.Times, cfg.Schedule.NominalSpeed); err != nil {
			return nil, fmt.Errorf("robot %d: %w", id, err)
		}
		if err := r.Subscribe(mgr, delay); err != nil {
			return nil, fmt.Errorf("robot %d: %w", id, err)
		}
		if err := r.Start(ctx); err != nil {
			return nil, fmt.Errorf("robot %d: %w", id, err)
		}
		robots = append(robots, r)
	}
	return robots, nil
}

func sortRobotIDs(ids []robot_protocol.RobotID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// loadObstacles reads an optional CSV of static obstacle waypoints, reusing
// schedule.LoadCSV's parser and flattening every track it finds into one
// polygon list. An empty path means no static obstacles.
func loadObstacles(path string) ([][]robot_protocol.PathNode, error) {
	if path == "" {
		return nil, nil
	}
	tracks, err := schedule.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	out := make([][]robot_protocol.PathNode, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Coords)
	}
	return out, nil
}
