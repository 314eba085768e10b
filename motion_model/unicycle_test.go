package motion_model

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStep(t *testing.T) {
	Convey("Given a robot facing along +x at the origin", t, func() {
		state := State{0, 0, 0}

		Convey("Driving straight for 1s at 1 m/s moves it 1m along x", func() {
			next := Step(state, Action{1.0, 0.0}, 1.0)
			So(next[0], ShouldAlmostEqual, 1.0, 1e-9)
			So(next[1], ShouldAlmostEqual, 0.0, 1e-9)
			So(next[2], ShouldAlmostEqual, 0.0, 1e-9)
		})

		Convey("Turning in place changes only theta", func() {
			next := Step(state, Action{0.0, math.Pi / 2}, 1.0)
			So(next[0], ShouldAlmostEqual, 0.0, 1e-9)
			So(next[1], ShouldAlmostEqual, 0.0, 1e-9)
			So(next[2], ShouldAlmostEqual, math.Pi/2, 1e-9)
		})

		Convey("Heading wraps into (-pi, pi]", func() {
			next := Step(State{0, 0, math.Pi - 0.1}, Action{0.0, 0.3}, 1.0)
			So(next[2], ShouldBeLessThanOrEqualTo, math.Pi)
			So(next[2], ShouldBeGreaterThan, -math.Pi)
		})
	})
}
