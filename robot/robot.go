// Package robot implements the Robot node: the per-vehicle state machine
// that answers a Manager's tick-synchronous COMPUTE_REQUEST/
// ALL_STATES_UPDATE protocol, expressed as an explicit
// READY -> COMPUTED -> APPLIED state machine rather than a suspension
// buried mid-coroutine.
package robot

import (
	"context"
	"fmt"
	"log"

	"fleetmpc/fleet_config"
	"fleetmpc/motion_model"
	"fleetmpc/mpc_solver"
	"fleetmpc/path_planner"
	"fleetmpc/robot_protocol"
)

// Registrar is the Manager's side of subscribe/unsubscribe, seen by a Robot
// only as this narrow interface. Neither side holds a reference to the
// other's full object: the Robot gets back only a channel pair, an opaque
// handle into the Manager's registry.
type Registrar interface {
	Register(id robot_protocol.RobotID, pair *robot_protocol.ChannelPair) error
	Unregister(id robot_protocol.RobotID) error
}

// phase tracks the per-tick state machine: READY accepts a COMPUTE_REQUEST,
// COMPUTED accepts an ALL_STATES_UPDATE, and APPLIED lasts only until the
// STEP_COMPLETE reply has been sent, after which the robot is READY again.
type phase int

const (
	phaseReady phase = iota
	phaseComputed
	phaseApplied
)

// Robot is one vehicle's local control-loop participant.
type Robot struct {
	id  robot_protocol.RobotID
	cfg fleet_config.MpcConfiguration

	solver  mpc_solver.Solver
	planner path_planner.Planner

	state      motion_model.State
	nextAction robot_protocol.Vector
	isIdle     bool
	phase      phase

	channels  *robot_protocol.ChannelPair
	registrar Registrar

	logger *log.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Robot identified by id, governed by cfg's MPC
// dimensions and timestep.
func New(id robot_protocol.RobotID, cfg fleet_config.MpcConfiguration, logger *log.Logger) *Robot {
	if logger == nil {
		logger = log.Default()
	}
	return &Robot{id: id, cfg: cfg, logger: logger}
}

// ID returns the robot's identity.
func (r *Robot) ID() robot_protocol.RobotID { return r.id }

// State returns the robot's current pose.
func (r *Robot) State() motion_model.State { return r.state }

// IsIdle reports the outcome of the most recently applied tick.
func (r *Robot) IsIdle() bool { return r.isIdle }

// Initialize attaches the MPC solver and planner collaborators. If state
// has already been set via SetState, nothing further is pushed into the
// solver: the solver is a pure function invoked fresh every tick, so there
// is no controller-side state to prime.
func (r *Robot) Initialize(solver mpc_solver.Solver, planner path_planner.Planner) {
	r.solver = solver
	r.planner = planner
}

// SetState replaces the robot's pose.
func (r *Robot) SetState(s motion_model.State) {
	r.state = s
}

// LoadSchedule forwards a global path to the planner, timed by arc length
// at nominalSpeed if times is nil. nominalSpeed is an explicit
// caller-supplied parameter rather than a hardcoded constant; see
// fleet_config.ScheduleConfig for the documented default.
func (r *Robot) LoadSchedule(coords []robot_protocol.PathNode, times []float64, nominalSpeed float64) error {
	if r.planner == nil {
		return fmt.Errorf("robot %d: LoadSchedule called before Initialize", r.id)
	}
	return r.planner.LoadPath(coords, times, nominalSpeed, "linear")
}

// Subscribe registers the robot with a Manager, obtaining a fresh channel
// pair in return. Subscribing twice fails without side effects.
func (r *Robot) Subscribe(reg Registrar, delay robot_protocol.NetworkDelay) error {
	if r.registrar != nil {
		return fmt.Errorf("robot %d: already subscribed", r.id)
	}
	pair := robot_protocol.NewChannelPair(delay)
	if err := reg.Register(r.id, pair); err != nil {
		return err
	}
	r.channels = pair
	r.registrar = reg
	return nil
}

// Unsubscribe tears down the robot's registration. Unsubscribing without a
// prior subscribe fails.
func (r *Robot) Unsubscribe() error {
	if r.registrar == nil {
		return fmt.Errorf("robot %d: unsubscribe without prior subscribe", r.id)
	}
	err := r.registrar.Unregister(r.id)
	r.registrar = nil
	if r.channels != nil {
		r.channels.Close()
		r.channels = nil
	}
	return err
}

// Start launches the robot's message loop. It returns once the loop has
// been scheduled; the loop itself runs until ctx is cancelled or Stop is
// called.
func (r *Robot) Start(ctx context.Context) error {
	if r.channels == nil {
		return fmt.Errorf("robot %d: Start called before Subscribe", r.id)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx)
	return nil
}

// Stop cancels the robot's message loop. An in-flight MPC computation is
// not preempted; it runs to completion but its result is discarded since
// the loop will have already exited.
func (r *Robot) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

func (r *Robot) loop(ctx context.Context) {
	defer close(r.done)
	for {
		msg, err := r.channels.ToRobot.Receive(ctx)
		if err != nil {
			return
		}
		r.handle(ctx, msg)
	}
}

func (r *Robot) handle(ctx context.Context, msg robot_protocol.Message) {
	switch msg.Type {
	case robot_protocol.ComputeRequest:
		r.handleComputeRequest(ctx, msg)
	case robot_protocol.AllStatesUpdate:
		r.handleAllStatesUpdate(ctx, msg)
	default:
		r.logger.Printf("robot %d: ignoring unexpected message %s", r.id, msg.Type)
	}
}

// handleComputeRequest implements the READY -> COMPUTED transition. A
// planner or solver failure is logged and leaves the robot in READY with
// no pending action; the robot sends no STATE_UPDATE in that case, which
// the ALL_STATES_UPDATE handler's no-pending-action branch resolves into a
// STEP_COMPLETE later, so the barrier never stalls on this robot.
func (r *Robot) handleComputeRequest(ctx context.Context, msg robot_protocol.Message) {
	params, ok := msg.Data.(robot_protocol.SimulationParams)
	if !ok {
		r.logger.Printf("robot %d: malformed COMPUTE_REQUEST payload", r.id)
		return
	}

	pos := [2]float64{r.state[0], r.state[1]}
	traj, err := r.planner.GetLocalRef(params.CurrentTime, pos)
	if err != nil {
		r.logger.Printf("robot %d: planner error: %v", r.id, err)
		return
	}
	refStates := padOrTruncate(traj.RefStates, r.cfg.NHor, r.cfg.Ns)

	resp, err := r.solver.Step(mpc_solver.Request{
		Cfg:              r.cfg,
		CurrentState:     r.state,
		RefStates:        refStates,
		RefSpeed:         traj.RefSpeed,
		StaticObstacles:  params.StaticObstacles,
		OtherRobotStates: params.PeerVector,
		MapUpdated:       false,
	})
	if err != nil {
		r.logger.Printf("robot %d: solver error: %v", r.id, err)
		return
	}
	if len(resp.Actions) == 0 {
		r.logger.Printf("robot %d: solver returned no actions", r.id)
		return
	}
	if resp.PredStates.Rows() != r.cfg.NHor {
		r.logger.Printf("robot %d: solver returned %d predicted states, want %d", r.id, resp.PredStates.Rows(), r.cfg.NHor)
		return
	}

	r.nextAction = resp.Actions[len(resp.Actions)-1]
	r.phase = phaseComputed

	result := robot_protocol.SimulationResult{
		RobotID:     r.id,
		State:       robot_protocol.Vector{r.state[0], r.state[1], r.state[2]},
		PredStates:  resp.PredStates,
		DebugInfo:   resp.DebugInfo,
		CurrentRefs: resp.CurrentRefs,
		Actions:     resp.Actions,
		TrajResult:  traj,
		Timestamp:   params.CurrentTime,
	}
	if err := r.channels.ToManager.Send(ctx, robot_protocol.Message{
		Type:      robot_protocol.StateUpdate,
		SenderID:  int(r.id),
		Data:      result,
		Timestamp: params.CurrentTime,
	}); err != nil {
		r.logger.Printf("robot %d: STATE_UPDATE send failed: %v", r.id, err)
	}
}

// handleAllStatesUpdate implements the COMPUTED -> APPLIED transition.
// Receiving it with no pending action (phase != phaseComputed) is a
// protocol violation: the handler is a no-op aside from still replying
// STEP_COMPLETE(is_idle=true), so the barrier never deadlocks on a robot
// whose solver failed this tick.
func (r *Robot) handleAllStatesUpdate(ctx context.Context, msg robot_protocol.Message) {
	if r.phase != phaseComputed {
		r.replyStepComplete(ctx, msg.Timestamp, true)
		return
	}

	r.state = motion_model.Step(r.state, motion_model.Action{r.nextAction[0], r.nextAction[1]}, r.cfg.Ts)
	r.nextAction = nil
	r.isIdle = r.planner.Idle()
	r.phase = phaseApplied

	r.replyStepComplete(ctx, msg.Timestamp, r.isIdle)
	r.phase = phaseReady
}

func (r *Robot) replyStepComplete(ctx context.Context, ts float64, isIdle bool) {
	if err := r.channels.ToManager.Send(ctx, robot_protocol.Message{
		Type:      robot_protocol.StepComplete,
		SenderID:  int(r.id),
		Data:      isIdle,
		Timestamp: ts,
	}); err != nil {
		r.logger.Printf("robot %d: STEP_COMPLETE send failed: %v", r.id, err)
	}
}

// padOrTruncate enforces the Robot's caller-side contract with the solver:
// the planner may return fewer or more than N rows; repeat the last row to
// pad, truncate to N rows if longer.
func padOrTruncate(states robot_protocol.Matrix, n, ns int) robot_protocol.Matrix {
	out := make(robot_protocol.Matrix, n)
	switch {
	case len(states) == 0:
		row := make([]float64, ns)
		for i := range out {
			out[i] = append([]float64(nil), row...)
		}
	case len(states) >= n:
		for i := 0; i < n; i++ {
			out[i] = append([]float64(nil), states[i]...)
		}
	default:
		for i := 0; i < len(states); i++ {
			out[i] = append([]float64(nil), states[i]...)
		}
		last := states[len(states)-1]
		for i := len(states); i < n; i++ {
			out[i] = append([]float64(nil), last...)
		}
	}
	return out
}
