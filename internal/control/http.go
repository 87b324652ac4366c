package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/eventbus"
	"github.com/e7canasta/orion-care-sensor/modules/motion-recorder/internal/graph"
)

const (
	wsWriteTimeout    = 2 * time.Second
	wsEventBuffer     = 64
	shutdownGrace     = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Server is the HTTP control API.
type Server struct {
	ctrl     Controller
	exec     *Executor
	events   *eventbus.Bus[graph.Event]
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	clients  atomic.Uint64
}

// NewServer wires the API. events and registry may be nil, which disables
// /events and /metrics.
func NewServer(ctrl Controller, exec *Executor, events *eventbus.Bus[graph.Event], registry *prometheus.Registry) *Server {
	return &Server{
		ctrl:     ctrl,
		exec:     exec,
		events:   events,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.health)
	r.Get("/diagnostics", s.diagnostics)
	r.Get("/stats", s.stats)
	r.Post("/start", s.command(CmdStart))
	r.Post("/stop", s.command(CmdStop))
	r.Post("/commands", s.rawCommand)
	r.Post("/branches", s.addBranch)
	r.Delete("/branches/{port}", s.removeBranch)
	if s.events != nil {
		r.Get("/events", s.eventStream)
	}
	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	slog.Info("control: http api listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.ctrl.State(),
	})
}

func (s *Server) diagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Diagnostics())
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Stats())
}

func (s *Server) command(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.run(w, r, Command{Command: name})
	}
}

func (s *Server) rawCommand(w http.ResponseWriter, r *http.Request) {
	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.run(w, r, cmd)
}

func (s *Server) addBranch(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.run(w, r, Command{Command: CmdActivateTCPClient, Params: params})
}

func (s *Server) removeBranch(w http.ResponseWriter, r *http.Request) {
	s.run(w, r, Command{
		Command: CmdDeactivateTCPClient,
		Params:  map[string]any{"port": chi.URLParam(r, "port")},
	})
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, cmd Command) {
	data, err := s.exec.Do(r.Context(), cmd)
	if err != nil {
		slog.Warn("control: http command failed", "command", cmd.Command, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// statusFor maps a command failure to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, graph.ErrKeyExists), errors.Is(err, graph.ErrAlreadyStarted),
		errors.Is(err, graph.ErrOutletBusy):
		return http.StatusConflict
	case errors.Is(err, graph.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, graph.ErrStateTimeout):
		return http.StatusGatewayTimeout
	}
	kind, ok := graph.KindOf(err)
	if !ok {
		return http.StatusBadRequest
	}
	switch kind {
	case graph.KindConstruction:
		return http.StatusBadRequest
	case graph.KindStateChange, graph.KindRuntime:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// eventStream pushes every controller event to a websocket client as JSON.
// A client that cannot keep up loses events rather than stalling others.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("control: websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	id := fmt.Sprintf("ws-%d", s.clients.Add(1))
	ch := make(chan graph.Event, wsEventBuffer)
	if err := s.events.Subscribe(id, ch); err != nil {
		slog.Warn("control: event subscription failed", "error", err)
		return
	}
	defer func() {
		if err := s.events.Unsubscribe(id); err != nil {
			slog.Debug("control: unsubscribe", "subscriber", id, "error", err)
		}
	}()
	slog.Info("control: websocket client connected", "subscriber", id, "remote", r.RemoteAddr)

	// The read side only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			slog.Info("control: websocket client gone", "subscriber", id)
			return
		case <-r.Context().Done():
			return
		case ev := <-ch:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(NewEventMessage(ev)); err != nil {
				if !isClosedConn(err) {
					slog.Warn("control: websocket write failed", "subscriber", id, "error", err)
				}
				return
			}
		}
	}
}

func isClosedConn(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "broken pipe")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("control: response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if kind, ok := graph.KindOf(err); ok {
		body["kind"] = kind.String()
	}
	writeJSON(w, status, body)
}
