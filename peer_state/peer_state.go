// Package peer_state assembles the dense, fixed-size peer-state vector the
// MPC solver expects each tick: a flat sequence of length ns*(N+1)*M built
// from the Manager's cached RobotState snapshots. A naive slice assignment
// would silently overwrite the predicted-state block when fleet size
// exceeds M; Pack enforces truncation at M peers instead.
package peer_state

import "fleetmpc/robot_protocol"

// DefaultSentinel is the fill value for slots no real peer occupies.
const DefaultSentinel = -10.0

// Pack builds the flat peer-state vector for ego, excluding ego's own
// entry, from peers in registration order. order is the Manager's
// registration-ordered robot id list (stable iteration order); states maps
// id -> cached RobotState. ns is the state dimension, horizon is N, and
// maxPeers is M, the MPC-compiled peer-slot count.
//
// Layout (length ns*(horizon+1)*maxPeers):
//  1. First block, length ns*maxPeers: current positions of up to maxPeers
//     peers, each ns entries, in order.
//  2. Second block, length ns*horizon*maxPeers: for the same peers in the
//     same order, their predicted-state matrix flattened row-major,
//     padded by repeating the last state or truncated to ns*horizon.
func Pack(
	ego robot_protocol.RobotID,
	order []robot_protocol.RobotID,
	states map[robot_protocol.RobotID]robot_protocol.RobotState,
	ns, horizon, maxPeers int,
) []float64 {
	total := ns * (horizon + 1) * maxPeers
	out := make([]float64, total)
	for i := range out {
		out[i] = DefaultSentinel
	}

	currentBlockLen := ns * maxPeers
	predBlockLen := ns * horizon

	slot := 0
	for _, id := range order {
		if id == ego {
			continue
		}
		if slot >= maxPeers {
			break // more than M peers: first M in registration order win
		}
		state, ok := states[id]
		if !ok {
			slot++
			continue
		}

		idx := slot * ns
		copyClamped(out[idx:idx+ns], state.Position)

		predStart := currentBlockLen + slot*predBlockLen
		packPredicted(out[predStart:predStart+predBlockLen], state.PredictedStates, ns)

		slot++
	}

	return out
}

// copyClamped copies src into dst, leaving any trailing dst entries at
// their existing sentinel value if src is short, and ignoring any excess
// if src is long.
func copyClamped(dst []float64, src []float64) {
	n := len(dst)
	if len(src) < n {
		n = len(src)
	}
	copy(dst, src[:n])
}

// packPredicted flattens pred row-major into dst (length ns*horizon),
// repeating the last ns-long row to pad a short prediction, or truncating
// a long one. If pred is empty, dst is left at its sentinel fill.
func packPredicted(dst []float64, pred robot_protocol.Matrix, ns int) {
	flat := pred.Flatten()
	if len(flat) == 0 {
		return
	}

	n := len(dst)
	if len(flat) >= n {
		copy(dst, flat[:n])
		return
	}

	copy(dst, flat)
	lastRow := flat[len(flat)-ns:]
	for i := len(flat); i < n; i += ns {
		end := i + ns
		if end > n {
			end = n
		}
		copy(dst[i:end], lastRow[:end-i])
	}
}
