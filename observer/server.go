// Package observer serves a small websocket+HTTP telemetry view of a
// running fleet: a status page, a live per-tick results feed, a
// lightweight JSON status endpoint, and a Prometheus metrics endpoint.
// Multiple dashboard clients can connect at once; each gets its own
// buffered feed and a dropped connection never stalls the others.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetmpc/robot_protocol"
	"fleetmpc/telemetry"
	"fleetmpc/tick_driver"
)

const (
	writeWait        = 1 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	closeGracePeriod = 10 * time.Second
	clientBuffer     = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TickEvent is what the server republishes to every connected client: one
// tick's worth of SimulationResults.
type TickEvent struct {
	Tick    int                                `json:"tick"`
	Results []robot_protocol.SimulationResult `json:"results"`
}

// Server serves a status page, a /ws feed of TickEvents, a /status summary,
// and /metrics for the Prometheus collectors.
type Server struct {
	addr    string
	hub     *hub
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// New constructs a Server listening on addr and returns the
// tick_driver.Observer that feeds it. Each tick's results are broadcast
// (via channerics.Broadcast, a fixed fan-out to a known number of
// consumers) into the client hub and a second leg reserved for future
// telemetry consumers, so adding one later doesn't touch the hub's path.
func New(ctx context.Context, addr string, logger *telemetry.Logger) (*Server, tick_driver.Observer) {
	if logger == nil {
		logger = telemetry.New("observer", telemetry.LevelInfo, nil)
	}
	h := newHub()

	raw := make(chan TickEvent, 8)
	outs := channerics.Broadcast(ctx.Done(), raw, 2)
	go h.run(ctx, outs[0])
	go drainUnused(ctx, outs[1])

	observerFn := tick_driver.ObserverFunc(func(k int, results []robot_protocol.SimulationResult) {
		select {
		case raw <- TickEvent{Tick: k, Results: results}:
		case <-ctx.Done():
		default:
			logger.Warnf("tick %d: observer channel full, dropping event", k)
		}
	})

	return &Server{addr: addr, hub: h, logger: logger}, observerFn
}

// SetMetrics attaches the collectors /status reports from. Leaving it
// unset makes /status report unavailable rather than panicking.
func (s *Server) SetMetrics(metrics *telemetry.Metrics) {
	s.metrics = metrics
}

// drainUnused keeps the broadcast's second leg read so it never blocks the
// first; nothing currently consumes it.
func drainUnused(ctx context.Context, events <-chan TickEvent) {
	for range channerics.OrDone(ctx.Done(), events) {
	}
}

// Router builds the mux.Router serving the status page, websocket feed,
// JSON status summary, and Prometheus metrics endpoint.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.serveIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWebsocket).Methods(http.MethodGet)
	r.HandleFunc("/status", s.serveStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts the HTTP server. Blocks until the server exits.
func (s *Server) ListenAndServe() error {
	if err := http.ListenAndServe(s.addr, s.Router()); err != nil {
		return fmt.Errorf("observer: serve: %w", err)
	}
	return nil
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_ = indexTemplate.Execute(w, nil)
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>fleet tick observer</title></head>
<body>
<h1>fleet tick observer</h1>
<p>Connect to <code>/ws</code> for the live tick feed, <code>/status</code> for a quick summary, or <code>/metrics</code> for Prometheus metrics.</p>
</body></html>`))

// statusResponse is the /status endpoint's JSON body: a cheap single-value
// summary for scripts that don't want to scrape Prometheus text format.
type statusResponse struct {
	LastTickSeconds float64 `json:"lastTickSeconds"`
}

func (s *Server) serveStatus(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not configured", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statusResponse{LastTickSeconds: s.metrics.LastTickSeconds()})
}

// serveWebsocket upgrades the connection and streams TickEvents to it until
// the client disconnects or a write fails.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		s.logger.Errorf("websocket upgrade: %v", err)
		return
	}
	defer closeWebsocket(ws)

	client := s.hub.register()
	defer s.hub.unregister(client)

	s.publish(r.Context(), ws, client)
}

func (s *Server) publish(ctx context.Context, ws *websocket.Conn, client <-chan TickEvent) {
	pubCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pinger := channerics.NewTicker(pubCtx.Done(), pingPeriod)
	lastPong := time.Now()
	pong := make(chan struct{}, 1)
	ws.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-pubCtx.Done():
			return
		case <-pinger:
			if time.Since(lastPong) > pingPeriod*2 {
				s.logger.Warnf("websocket client unresponsive, closing")
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-pong:
			lastPong = time.Now()
		case event, ok := <-client:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := ws.WriteJSON(event); err != nil {
				return
			}
		}
	}
}

func closeWebsocket(ws *websocket.Conn) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	ws.Close()
}

// hub fans TickEvents out to every currently-connected client, dropping the
// event for any client whose buffer is full rather than blocking the feed.
type hub struct {
	mu      sync.Mutex
	clients map[chan TickEvent]struct{}
}

func newHub() *hub {
	return &hub{clients: map[chan TickEvent]struct{}{}}
}

func (h *hub) register() chan TickEvent {
	c := make(chan TickEvent, clientBuffer)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c chan TickEvent) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c)
}

func (h *hub) run(ctx context.Context, events <-chan TickEvent) {
	for event := range channerics.OrDone(ctx.Done(), events) {
		h.mu.Lock()
		for c := range h.clients {
			select {
			case c <- event:
			default:
			}
		}
		h.mu.Unlock()
	}
}
