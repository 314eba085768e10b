package robot

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"fleetmpc/fleet_config"
	"fleetmpc/mpc_solver"
	"fleetmpc/path_planner"
	"fleetmpc/robot_protocol"
)

type fakeRegistrar struct {
	registered   map[robot_protocol.RobotID]*robot_protocol.ChannelPair
	unregistered []robot_protocol.RobotID
}

func newFakeRegistrar() *fakeRegistrar {
	return &fakeRegistrar{registered: map[robot_protocol.RobotID]*robot_protocol.ChannelPair{}}
}

func (f *fakeRegistrar) Register(id robot_protocol.RobotID, pair *robot_protocol.ChannelPair) error {
	f.registered[id] = pair
	return nil
}

func (f *fakeRegistrar) Unregister(id robot_protocol.RobotID) error {
	f.unregistered = append(f.unregistered, id)
	delete(f.registered, id)
	return nil
}

func negligibleDelay() robot_protocol.NetworkDelay {
	return robot_protocol.NetworkDelay{Mean: 0, Std: 0, Min: 0, Max: 0}
}

func testCfg() fleet_config.MpcConfiguration {
	return fleet_config.MpcConfiguration{Ts: 0.2, NHor: 3, Ns: 3, Na: 2, NOther: 1, LinVelMax: 1.0}
}

func newTestRobot(t *testing.T) (*Robot, *fakeRegistrar) {
	t.Helper()
	r := New(1, testCfg(), nil)
	r.Initialize(mpc_solver.NewProportionalSolver(), path_planner.NewLinearPlanner(0.2, 3))
	So(r.LoadSchedule([]robot_protocol.PathNode{{X: 0, Y: 0}, {X: 5, Y: 0}}, nil, 0.5), ShouldBeNil)

	reg := newFakeRegistrar()
	So(r.Subscribe(reg, negligibleDelay()), ShouldBeNil)
	ctx := context.Background()
	So(r.Start(ctx), ShouldBeNil)
	return r, reg
}

func TestRobotComputeAndApplyCycle(t *testing.T) {
	Convey("Given a started, subscribed robot with a loaded schedule", t, func() {
		r, reg := newTestRobot(t)
		defer r.Stop()
		pair := reg.registered[1]
		ctx := context.Background()

		Convey("A COMPUTE_REQUEST produces a STATE_UPDATE reply", func() {
			err := pair.ToRobot.Send(ctx, robot_protocol.Message{
				Type: robot_protocol.ComputeRequest,
				Data: robot_protocol.SimulationParams{Kt: 0, Ts: 0.2, CurrentTime: 0},
			})
			So(err, ShouldBeNil)

			reply, err := pair.ToManager.Receive(ctx)
			So(err, ShouldBeNil)
			So(reply.Type, ShouldEqual, robot_protocol.StateUpdate)
			result, ok := reply.Data.(robot_protocol.SimulationResult)
			So(ok, ShouldBeTrue)
			So(result.Actions, ShouldNotBeEmpty)
			So(result.PredStates.Rows(), ShouldEqual, testCfg().NHor)
		})

		Convey("A subsequent ALL_STATES_UPDATE advances state and replies STEP_COMPLETE", func() {
			err := pair.ToRobot.Send(ctx, robot_protocol.Message{
				Type: robot_protocol.ComputeRequest,
				Data: robot_protocol.SimulationParams{Kt: 0, Ts: 0.2, CurrentTime: 0},
			})
			So(err, ShouldBeNil)
			_, err = pair.ToManager.Receive(ctx) // drain STATE_UPDATE
			So(err, ShouldBeNil)

			before := r.State()
			err = pair.ToRobot.Send(ctx, robot_protocol.Message{Type: robot_protocol.AllStatesUpdate, Timestamp: 0})
			So(err, ShouldBeNil)

			reply, err := pair.ToManager.Receive(ctx)
			So(err, ShouldBeNil)
			So(reply.Type, ShouldEqual, robot_protocol.StepComplete)

			// allow the loop goroutine to finish applying state before reading it
			time.Sleep(10 * time.Millisecond)
			So(r.State(), ShouldNotResemble, before)
		})
	})
}

func TestRobotProtocolViolation(t *testing.T) {
	Convey("Given a robot with no pending COMPUTE_REQUEST result", t, func() {
		r, reg := newTestRobot(t)
		defer r.Stop()
		pair := reg.registered[1]
		ctx := context.Background()

		Convey("An ALL_STATES_UPDATE still elicits STEP_COMPLETE(is_idle=true)", func() {
			err := pair.ToRobot.Send(ctx, robot_protocol.Message{Type: robot_protocol.AllStatesUpdate, Timestamp: 1})
			So(err, ShouldBeNil)

			reply, err := pair.ToManager.Receive(ctx)
			So(err, ShouldBeNil)
			So(reply.Type, ShouldEqual, robot_protocol.StepComplete)
			So(reply.Data, ShouldEqual, true)
		})
	})
}

func TestRobotSubscribeLifecycle(t *testing.T) {
	Convey("Given an unsubscribed robot", t, func() {
		r := New(2, testCfg(), nil)

		Convey("Unsubscribe without a prior subscribe fails", func() {
			err := r.Unsubscribe()
			So(err, ShouldNotBeNil)
		})

		Convey("Subscribing twice fails on the second call", func() {
			reg := newFakeRegistrar()
			So(r.Subscribe(reg, negligibleDelay()), ShouldBeNil)
			err := r.Subscribe(reg, negligibleDelay())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestPadOrTruncate(t *testing.T) {
	Convey("Given a ref matrix shorter than the horizon", t, func() {
		states := robot_protocol.Matrix{{1, 1, 0}}
		Convey("padOrTruncate repeats the last row", func() {
			out := padOrTruncate(states, 3, 3)
			So(out.Rows(), ShouldEqual, 3)
			So(out[2], ShouldResemble, []float64{1, 1, 0})
		})
	})

	Convey("Given a ref matrix longer than the horizon", t, func() {
		states := robot_protocol.Matrix{{1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0}}
		Convey("padOrTruncate keeps only the first N rows", func() {
			out := padOrTruncate(states, 2, 3)
			So(out.Rows(), ShouldEqual, 2)
			So(out[1], ShouldResemble, []float64{2, 0, 0})
		})
	})
}
