package fleet_config

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

const sampleYAML = `
mpc:
  ts: 0.2
  nHorizon: 20
  ns: 3
  na: 2
  nOther: 2
  linVelMax: 1.0
robotSpec:
  vehicleWidth: 0.5
networkDelay:
  mean: 0.1
  std: 0.02
  min: 0.05
  max: 0.2
tick:
  deadline: 1s
  timeoutTicks: 200
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fleet.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	Convey("Given a complete fleet config file", t, func() {
		path := writeTempConfig(t, sampleYAML)

		Convey("Load decodes every field correctly", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Mpc.Ts, ShouldEqual, 0.2)
			So(cfg.Mpc.NHor, ShouldEqual, 20)
			So(cfg.Mpc.Ns, ShouldEqual, 3)
			So(cfg.Mpc.NOther, ShouldEqual, 2)
			So(cfg.RobotSpec.VehicleWidth, ShouldEqual, 0.5)
			So(cfg.Tick.Deadline.Seconds(), ShouldEqual, 1)
			So(cfg.Tick.TimeoutTicks, ShouldEqual, 200)
		})
	})

	Convey("Given a config file missing schedule.nominalSpeed", t, func() {
		path := writeTempConfig(t, sampleYAML)

		Convey("ResolveDefaults fills nominalSpeed from linVelMax/2", func() {
			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Schedule.NominalSpeed, ShouldEqual, cfg.Mpc.LinVelMax/2)
			So(cfg.Tick.TimeoutTicks, ShouldBeGreaterThan, 0)
		})
	})
}
