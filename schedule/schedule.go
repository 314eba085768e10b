// Package schedule loads per-robot waypoint schedules from a CSV track
// file. encoding/csv is plenty for a few hundred (robot, x, y[, t]) rows,
// so this stays on the standard library rather than reaching for a
// dependency nothing else in the fleet needs.
package schedule

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"fleetmpc/robot_protocol"
)

// Track is one robot's loaded schedule: a waypoint list and, if the CSV
// supplied a time column, the matching cumulative times (nil otherwise,
// which tells path_planner.LoadPath to time waypoints by arc length).
type Track struct {
	Coords []robot_protocol.PathNode
	Times  []float64
}

// LoadCSV reads a track file with columns "robot,x,y" or "robot,x,y,t",
// grouping rows by robot id in file order. A header row is tolerated and
// skipped if its first field doesn't parse as a robot id.
func LoadCSV(path string) (map[robot_protocol.RobotID]*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	tracks := map[robot_protocol.RobotID]*Track{}
	first := true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("schedule: %s: %w", path, err)
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("schedule: %s: row %v has fewer than 3 columns", path, rec)
		}

		idInt, err := strconv.Atoi(rec[0])
		if err != nil {
			if first {
				first = false
				continue // header row
			}
			return nil, fmt.Errorf("schedule: %s: invalid robot id %q: %w", path, rec[0], err)
		}
		first = false

		x, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("schedule: %s: invalid x %q: %w", path, rec[1], err)
		}
		y, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("schedule: %s: invalid y %q: %w", path, rec[2], err)
		}

		id := robot_protocol.RobotID(idInt)
		t, ok := tracks[id]
		if !ok {
			t = &Track{}
			tracks[id] = t
		}
		t.Coords = append(t.Coords, robot_protocol.PathNode{X: x, Y: y})

		if len(rec) >= 4 && rec[3] != "" {
			tv, err := strconv.ParseFloat(rec[3], 64)
			if err != nil {
				return nil, fmt.Errorf("schedule: %s: invalid t %q: %w", path, rec[3], err)
			}
			t.Times = append(t.Times, tv)
		}
	}

	for id, t := range tracks {
		if len(t.Times) != 0 && len(t.Times) != len(t.Coords) {
			return nil, fmt.Errorf("schedule: %s: robot %d has %d time values for %d waypoints", path, id, len(t.Times), len(t.Coords))
		}
	}
	return tracks, nil
}
