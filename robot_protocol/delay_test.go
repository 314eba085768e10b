package robot_protocol

import (
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNetworkDelaySample(t *testing.T) {
	Convey("Given a NetworkDelay with mean=0.1, std=0.02, min=0.05, max=0.2", t, func() {
		d := NetworkDelay{Mean: 0.1, Std: 0.02, Min: 0.05, Max: 0.2}
		rng := rand.New(rand.NewSource(42))

		Convey("When 1000 delays are sampled", func() {
			const n = 1000
			sum := 0.0
			samples := make([]float64, n)
			for i := 0; i < n; i++ {
				v := d.Sample(rng)
				samples[i] = v
				sum += v
			}
			mean := sum / n

			Convey("Every sample falls within [min, max]", func() {
				for _, v := range samples {
					So(v, ShouldBeGreaterThanOrEqualTo, d.Min)
					So(v, ShouldBeLessThanOrEqualTo, d.Max)
				}
			})

			Convey("The sample mean is close to the configured mean", func() {
				So(mean, ShouldBeBetween, 0.095, 0.105)
			})
		})
	})
}
