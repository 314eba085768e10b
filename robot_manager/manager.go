// Package robot_manager implements the RobotManager: the fleet-side half
// of the tick barrier, fanning COMPUTE_REQUEST out to every registered
// robot and ALL_STATES_UPDATE back, then releasing the tick once every
// robot has replied STEP_COMPLETE or the per-tick deadline expires. Fan-out
// goes through golang.org/x/sync/errgroup; fan-in runs one receiving
// goroutine per robot feeding a buffered channel, so the polling loop a
// message queue would need becomes direct, deadline-bounded channel
// receives instead.
package robot_manager

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetmpc/fleet_config"
	"fleetmpc/peer_state"
	"fleetmpc/robot_protocol"
	"fleetmpc/telemetry"
)

// Manager is the fleet coordinator. Its channel registry and cache are
// guarded by a mutex rather than confined to a single goroutine:
// registration is off the tick hot path, so a small mutex there is simpler
// than routing REGISTRATION through yet another channel, while the hot
// path (the hand-off inside Tick) still flows entirely through Links,
// never through shared memory.
type Manager struct {
	mu       sync.Mutex
	order    []robot_protocol.RobotID
	channels map[robot_protocol.RobotID]*robot_protocol.ChannelPair
	cache    map[robot_protocol.RobotID]robot_protocol.RobotState

	running      bool
	allComplete  bool
	tickDeadline time.Duration
	logger       *log.Logger
	metrics      *telemetry.Metrics
}

// New constructs an empty Manager with the given per-tick barrier deadline
// (default recommended 1s, see fleet_config.TickConfig).
func New(tickDeadline time.Duration, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	if tickDeadline <= 0 {
		tickDeadline = time.Second
	}
	return &Manager{
		channels:     map[robot_protocol.RobotID]*robot_protocol.ChannelPair{},
		cache:        map[robot_protocol.RobotID]robot_protocol.RobotState{},
		tickDeadline: tickDeadline,
		logger:       logger,
	}
}

// SetMetrics attaches the Prometheus collectors this manager reports
// through. A nil or never-called SetMetrics leaves recording a no-op, so
// tests that don't care about metrics can construct a Manager with New
// alone.
func (m *Manager) SetMetrics(metrics *telemetry.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// Start marks the manager running. Idempotent-unsafe by design: starting
// twice is a lifecycle error, matching the robot side's subscribe lifecycle.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("robot_manager: already running")
	}
	m.running = true
	return nil
}

// Stop closes every registered robot's channel pair, unblocking any
// Receive calls in their message loops so they exit cleanly, then clears
// the registry.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pair := range m.channels {
		pair.Close()
	}
	m.channels = map[robot_protocol.RobotID]*robot_protocol.ChannelPair{}
	m.cache = map[robot_protocol.RobotID]robot_protocol.RobotState{}
	m.order = nil
	m.running = false
}

// Register implements robot.Registrar. Duplicate registration fails
// without mutating the registry.
func (m *Manager) Register(id robot_protocol.RobotID, pair *robot_protocol.ChannelPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[id]; exists {
		return fmt.Errorf("robot_manager: robot %d already registered", id)
	}
	m.channels[id] = pair
	m.order = append(m.order, id)
	m.cache[id] = robot_protocol.RobotState{}
	m.reportRegisteredLocked()
	return nil
}

// Unregister implements robot.Registrar.
func (m *Manager) Unregister(id robot_protocol.RobotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[id]; !exists {
		return fmt.Errorf("robot_manager: robot %d is not registered", id)
	}
	delete(m.channels, id)
	delete(m.cache, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.reportRegisteredLocked()
	return nil
}

// reportRegisteredLocked updates the registered-robot gauge. Callers must
// hold m.mu.
func (m *Manager) reportRegisteredLocked() {
	if m.metrics != nil {
		m.metrics.RegisteredRobots.Set(float64(len(m.order)))
	}
}

// GetRobotState returns the Manager's cached view of id.
func (m *Manager) GetRobotState(id robot_protocol.RobotID) (robot_protocol.RobotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.cache[id]
	if !ok {
		return robot_protocol.RobotState{}, fmt.Errorf("robot_manager: unknown robot %d", id)
	}
	return s, nil
}

// GetPredStates returns id's most recently cached predicted trajectory.
func (m *Manager) GetPredStates(id robot_protocol.RobotID) (robot_protocol.Matrix, error) {
	s, err := m.GetRobotState(id)
	if err != nil {
		return nil, err
	}
	return s.PredictedStates, nil
}

// GetPeerStatesFor delegates to peer_state.Pack over a consistent snapshot
// of the current registry and cache.
func (m *Manager) GetPeerStatesFor(ego robot_protocol.RobotID, cfg fleet_config.MpcConfiguration) []float64 {
	order, cache := m.snapshot()
	v := peer_state.Pack(ego, order, cache, cfg.Ns, cfg.NHor, cfg.NOther)
	m.countPack()
	return v
}

// getMetrics reads the attached metrics collector, if any, under the same
// mutex SetMetrics writes through.
func (m *Manager) getMetrics() *telemetry.Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics
}

func (m *Manager) countPack() {
	if metrics := m.getMetrics(); metrics != nil {
		metrics.PeerVectorPacks.Inc()
	}
}

// AllComplete reports whether the most recently run tick found every
// robot idle.
func (m *Manager) AllComplete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allComplete
}

func (m *Manager) snapshot() ([]robot_protocol.RobotID, map[robot_protocol.RobotID]robot_protocol.RobotState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := append([]robot_protocol.RobotID(nil), m.order...)
	cache := make(map[robot_protocol.RobotID]robot_protocol.RobotState, len(m.cache))
	for id, s := range m.cache {
		cache[id] = s
	}
	return order, cache
}

func (m *Manager) channelsSnapshot() map[robot_protocol.RobotID]*robot_protocol.ChannelPair {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[robot_protocol.RobotID]*robot_protocol.ChannelPair, len(m.channels))
	for id, p := range m.channels {
		out[id] = p
	}
	return out
}

// Tick runs the five-step tick barrier for logical tick k: build per-robot
// params, dispatch COMPUTE_REQUEST to every robot
// concurrently, collect each STATE_UPDATE as it arrives, broadcast one
// consistent ALL_STATES_UPDATE snapshot once every reply is in (or the
// barrier deadline expires), then collect STEP_COMPLETE from the fleet.
// Results are returned in registration order.
func (m *Manager) Tick(
	ctx context.Context,
	k int,
	cfg fleet_config.MpcConfiguration,
	staticObstacles [][]robot_protocol.PathNode,
) ([]robot_protocol.SimulationResult, error) {
	order, cacheSnapshot := m.snapshot()
	channels := m.channelsSnapshot()
	n := len(order)
	if n == 0 {
		return nil, nil
	}

	tickStart := time.Now()
	tickCtx, cancel := context.WithTimeout(ctx, m.tickDeadline)
	defer cancel()

	currentTime := float64(k) * cfg.Ts

	dispatch, dctx := errgroup.WithContext(tickCtx)
	for _, id := range order {
		id := id
		pair := channels[id]
		params := robot_protocol.SimulationParams{
			Kt:              k,
			Ts:              cfg.Ts,
			CurrentTime:     currentTime,
			StaticObstacles: staticObstacles,
			PeerStates:      orderedPeers(id, order, cacheSnapshot, cfg.NOther),
			PeerVector:      peer_state.Pack(id, order, cacheSnapshot, cfg.Ns, cfg.NHor, cfg.NOther),
		}
		m.countPack()
		dispatch.Go(func() error {
			return pair.ToRobot.Send(dctx, robot_protocol.Message{
				Type:      robot_protocol.ComputeRequest,
				SenderID:  robot_protocol.ManagerSenderID,
				Data:      params,
				Timestamp: currentTime,
			})
		})
	}
	if err := dispatch.Wait(); err != nil {
		m.logger.Printf("robot_manager: tick %d: COMPUTE_REQUEST dispatch error: %v", k, err)
	}

	pending := m.collectStateUpdates(tickCtx, k, order, channels)

	m.broadcastAllStatesUpdate(tickCtx, k, order, channels, currentTime)

	completed, allIdle := m.collectStepComplete(tickCtx, order, channels)

	results := make([]robot_protocol.SimulationResult, 0, len(pending))
	for _, id := range order {
		if r, ok := pending[id]; ok {
			results = append(results, r)
		}
	}

	m.mu.Lock()
	m.allComplete = completed == n && allIdle
	m.mu.Unlock()

	if metrics := m.getMetrics(); metrics != nil {
		metrics.RecordTick(time.Since(tickStart).Seconds(), completed < n)
	}

	return results, nil
}

// collectStateUpdates waits (up to ctx's deadline) for a STATE_UPDATE from
// each robot, caching each as it arrives. A robot that never replies is
// simply absent from the returned map, and its cache entry keeps whatever
// it held before this tick. Nothing marks such a robot idle: Tick reports
// AllComplete as false for any tick in which a robot is missing.
func (m *Manager) collectStateUpdates(
	ctx context.Context,
	k int,
	order []robot_protocol.RobotID,
	channels map[robot_protocol.RobotID]*robot_protocol.ChannelPair,
) map[robot_protocol.RobotID]robot_protocol.SimulationResult {
	type arrival struct {
		id     robot_protocol.RobotID
		result robot_protocol.SimulationResult
	}
	arrivals := make(chan arrival, len(order))

	for _, id := range order {
		id := id
		pair := channels[id]
		go func() {
			msg, err := pair.ToManager.Receive(ctx)
			if err != nil {
				return
			}
			if msg.Type != robot_protocol.StateUpdate {
				m.logger.Printf("robot_manager: tick %d: robot %d sent %s instead of STATE_UPDATE", k, id, msg.Type)
				return
			}
			result, ok := msg.Data.(robot_protocol.SimulationResult)
			if !ok {
				return
			}
			select {
			case arrivals <- arrival{id, result}:
			case <-ctx.Done():
			}
		}()
	}

	pending := make(map[robot_protocol.RobotID]robot_protocol.SimulationResult, len(order))
	for len(pending) < len(order) {
		select {
		case a := <-arrivals:
			pending[a.id] = a.result
			m.mu.Lock()
			m.cache[a.id] = toRobotState(a.result)
			m.mu.Unlock()
		case <-ctx.Done():
			return pending
		}
	}
	return pending
}

// broadcastAllStatesUpdate fans a single consistent cache snapshot out to
// every registered robot in parallel and returns once every send has
// finished or failed (a send fails once ctx expires).
func (m *Manager) broadcastAllStatesUpdate(
	ctx context.Context,
	k int,
	order []robot_protocol.RobotID,
	channels map[robot_protocol.RobotID]*robot_protocol.ChannelPair,
	currentTime float64,
) {
	_, cacheNow := m.snapshot()
	broadcast, bctx := errgroup.WithContext(ctx)
	for _, id := range order {
		pair := channels[id]
		broadcast.Go(func() error {
			return pair.ToRobot.Send(bctx, robot_protocol.Message{
				Type:      robot_protocol.AllStatesUpdate,
				SenderID:  robot_protocol.ManagerSenderID,
				Data:      cacheNow,
				Timestamp: currentTime,
			})
		})
	}
	if err := broadcast.Wait(); err != nil {
		m.logger.Printf("robot_manager: tick %d: ALL_STATES_UPDATE broadcast error: %v", k, err)
	}
}

// collectStepComplete waits for every robot's STEP_COMPLETE reply, up to
// ctx's deadline, and reports how many arrived and whether all of them
// reported idle.
func (m *Manager) collectStepComplete(
	ctx context.Context,
	order []robot_protocol.RobotID,
	channels map[robot_protocol.RobotID]*robot_protocol.ChannelPair,
) (completed int, allIdle bool) {
	type arrival struct{ idle bool }
	arrivals := make(chan arrival, len(order))

	for _, id := range order {
		pair := channels[id]
		go func() {
			msg, err := pair.ToManager.Receive(ctx)
			if err != nil {
				return
			}
			if msg.Type != robot_protocol.StepComplete {
				return
			}
			idle, _ := msg.Data.(bool)
			select {
			case arrivals <- arrival{idle}:
			case <-ctx.Done():
			}
		}()
	}

	allIdle = true
	for completed < len(order) {
		select {
		case a := <-arrivals:
			completed++
			allIdle = allIdle && a.idle
		case <-ctx.Done():
			return completed, allIdle
		}
	}
	return completed, allIdle
}

// orderedPeers builds the observability-facing peer list for
// SimulationParams: ego excluded, truncated to maxPeers, registration
// order preserved.
func orderedPeers(
	ego robot_protocol.RobotID,
	order []robot_protocol.RobotID,
	cache map[robot_protocol.RobotID]robot_protocol.RobotState,
	maxPeers int,
) []robot_protocol.RobotState {
	peers := make([]robot_protocol.RobotState, 0, maxPeers)
	for _, id := range order {
		if id == ego {
			continue
		}
		if len(peers) >= maxPeers {
			break
		}
		if s, ok := cache[id]; ok {
			peers = append(peers, s)
		}
	}
	return peers
}

func toRobotState(sr robot_protocol.SimulationResult) robot_protocol.RobotState {
	return robot_protocol.RobotState{
		Position:        sr.State,
		PredictedStates: sr.PredStates,
		RefTraj:         matrixToTrajNodes(sr.TrajResult.RefStates),
		RefSpeed:        sr.TrajResult.RefSpeed,
		Timestamp:       sr.Timestamp,
		IsIdle:          sr.TrajResult.IsComplete,
	}
}

func matrixToTrajNodes(m robot_protocol.Matrix) []robot_protocol.TrajNode {
	nodes := make([]robot_protocol.TrajNode, 0, len(m))
	for _, row := range m {
		if len(row) < 3 {
			continue
		}
		nodes = append(nodes, robot_protocol.TrajNode{X: row[0], Y: row[1], Theta: row[2]})
	}
	return nodes
}
