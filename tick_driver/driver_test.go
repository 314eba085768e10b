package tick_driver

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"fleetmpc/fleet_config"
	"fleetmpc/robot_protocol"
)

type fakeManager struct {
	ticks       int
	completeAt  int
	callLog     []int
}

func (f *fakeManager) Tick(ctx context.Context, k int, cfg fleet_config.MpcConfiguration, obstacles [][]robot_protocol.PathNode) ([]robot_protocol.SimulationResult, error) {
	f.ticks++
	f.callLog = append(f.callLog, k)
	return []robot_protocol.SimulationResult{{RobotID: 1, Timestamp: float64(k)}}, nil
}

func (f *fakeManager) AllComplete() bool {
	return f.ticks >= f.completeAt
}

func TestDriverRun(t *testing.T) {
	Convey("Given a manager that never reports complete", t, func() {
		mgr := &fakeManager{completeAt: 1000}
		var observed []int
		d := &Driver{
			Manager: mgr,
			Cfg:     fleet_config.MpcConfiguration{Ts: 0.2},
			Observer: ObserverFunc(func(k int, results []robot_protocol.SimulationResult) {
				observed = append(observed, k)
			}),
		}

		Convey("Run executes exactly timeoutTicks ticks", func() {
			ran, err := d.Run(context.Background(), 10)
			So(err, ShouldBeNil)
			So(ran, ShouldEqual, 10)
			So(mgr.ticks, ShouldEqual, 10)
			So(observed, ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9})
		})
	})

	Convey("Given a manager that completes after 3 ticks", t, func() {
		mgr := &fakeManager{completeAt: 3}
		d := &Driver{Manager: mgr, Cfg: fleet_config.MpcConfiguration{Ts: 0.2}}

		Convey("Run stops early", func() {
			ran, err := d.Run(context.Background(), 100)
			So(err, ShouldBeNil)
			So(ran, ShouldEqual, 3)
			So(mgr.ticks, ShouldEqual, 3)
		})
	})

	Convey("Given a cancelled context", t, func() {
		mgr := &fakeManager{completeAt: 1000}
		d := &Driver{Manager: mgr, Cfg: fleet_config.MpcConfiguration{Ts: 0.2}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Run returns immediately with the context error", func() {
			ran, err := d.Run(ctx, 10)
			So(err, ShouldNotBeNil)
			So(ran, ShouldEqual, 0)
		})
	})
}
