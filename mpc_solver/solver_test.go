package mpc_solver

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"fleetmpc/fleet_config"
	"fleetmpc/motion_model"
	"fleetmpc/robot_protocol"
)

func sampleCfg() fleet_config.MpcConfiguration {
	return fleet_config.MpcConfiguration{
		Ts:        0.2,
		NHor:      5,
		Ns:        3,
		Na:        2,
		NOther:    2,
		LinVelMax: 1.0,
	}
}

func straightRefs(n int, x0 float64) robot_protocol.Matrix {
	refs := make(robot_protocol.Matrix, n)
	for i := range refs {
		refs[i] = []float64{x0 + float64(i+1), 0, 0}
	}
	return refs
}

func TestProportionalSolverStep(t *testing.T) {
	Convey("Given a solver and a robot facing a straight-line reference ahead", t, func() {
		solver := NewProportionalSolver()
		cfg := sampleCfg()
		req := Request{
			Cfg:          cfg,
			CurrentState: motion_model.State{0, 0, 0},
			RefStates:    straightRefs(cfg.NHor, 0),
			RefSpeed:     0.5,
		}

		Convey("Step returns one action and one predicted state per horizon step", func() {
			resp, err := solver.Step(req)
			So(err, ShouldBeNil)
			So(len(resp.Actions), ShouldEqual, cfg.NHor)
			So(resp.PredStates.Rows(), ShouldEqual, cfg.NHor)
		})

		Convey("Commanded linear velocity never exceeds LinVelMax", func() {
			resp, err := solver.Step(req)
			So(err, ShouldBeNil)
			for _, a := range resp.Actions {
				So(a[0], ShouldBeLessThanOrEqualTo, cfg.LinVelMax)
				So(a[0], ShouldBeGreaterThanOrEqualTo, 0)
			}
		})

		Convey("Predicted trajectory advances toward the reference", func() {
			resp, err := solver.Step(req)
			So(err, ShouldBeNil)
			last := resp.PredStates[cfg.NHor-1]
			So(last[0], ShouldBeGreaterThan, 0)
		})

		Convey("DebugInfo.Cost is non-negative", func() {
			resp, err := solver.Step(req)
			So(err, ShouldBeNil)
			So(resp.DebugInfo.Cost, ShouldBeGreaterThanOrEqualTo, 0)
		})
	})

	Convey("Given a ref_states matrix of the wrong length", t, func() {
		solver := NewProportionalSolver()
		cfg := sampleCfg()
		req := Request{
			Cfg:          cfg,
			CurrentState: motion_model.State{0, 0, 0},
			RefStates:    straightRefs(cfg.NHor-1, 0),
		}

		Convey("Step rejects it", func() {
			_, err := solver.Step(req)
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given a zero horizon configuration", t, func() {
		solver := NewProportionalSolver()
		cfg := sampleCfg()
		cfg.NHor = 0
		req := Request{Cfg: cfg, CurrentState: motion_model.State{0, 0, 0}}

		Convey("Step rejects it", func() {
			_, err := solver.Step(req)
			So(err, ShouldNotBeNil)
		})
	})
}
