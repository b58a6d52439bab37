package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhubert/agentdesk/logger"
	"github.com/zhubert/agentdesk/manager"
)

// Websocket timing and limits.
const (
	// WriteTimeout bounds a single frame write so a stuck client cannot
	// hold its writer forever.
	WriteTimeout = 10 * time.Second

	// pongWait is how long a client may stay silent before it is dropped.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	maxMessageSize = 8 << 20
	maxBodySize    = 1 << 20
)

// HostInfo answers the request/response endpoints. *manager.SessionManager
// satisfies it.
type HostInfo interface {
	ListRecentCwds(limit int) []string
	GenerateTitle(ctx context.Context, prompt string) string
}

// StaticDataFunc returns the machine description served at /api/static-data.
type StaticDataFunc func(ctx context.Context) (any, error)

// Server exposes the relay and bus over HTTP on a unix socket.
type Server struct {
	relay    *Relay
	bus      *Bus
	host     HostInfo
	static   StaticDataFunc
	log      *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	server *http.Server

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	wg     sync.WaitGroup // websocket handlers, writers and session lanes
}

// NewServer creates a server. static may be nil.
func NewServer(relay *Relay, bus *Bus, host HostInfo, static StaticDataFunc) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		relay:  relay,
		bus:    bus,
		host:   host,
		static: static,
		log:    logger.WithComponent("ipc-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Only local processes can reach the socket
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/static-data", s.handleStaticData)
	mux.HandleFunc("GET /api/recent-cwds", s.handleRecentCwds)
	mux.HandleFunc("POST /api/session-title", s.handleSessionTitle)
	return mux
}

// Listen binds the unix socket at socketPath, replacing a stale socket
// file, and restricts it to the current user.
func (s *Server) Listen(socketPath string) (net.Listener, error) {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return listener, nil
}

// Serve handles connections on listener until Shutdown. It returns nil
// after a clean shutdown.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return http.ErrServerClosed
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Info("listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds socketPath and serves on it.
func (s *Server) ListenAndServe(socketPath string) error {
	listener, err := s.Listen(socketPath)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Shutdown stops accepting connections, closes every websocket and waits
// for their goroutines or ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.server
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.log.Info("shutting down server")
	s.cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

// track registers conn and reserves a slot in wg. It fails once Shutdown
// has started.
func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	defer conn.Close()

	sub := s.bus.Subscribe()
	s.log.Debug("client connected", "subscribers", s.bus.Subscribers())

	s.wg.Go(func() {
		s.writeLoop(conn, sub)
	})
	s.readLoop(conn)
	s.bus.Unsubscribe(sub)
	s.log.Debug("client disconnected")
}

// readLoop feeds client frames to the relay. Events for one session are
// handled in arrival order; a slow stop or delete does not hold up other
// sessions.
func (s *Server) readLoop(conn *websocket.Conn) {
	d := newDispatcher(func(ev ClientEvent) {
		s.relay.Handle(s.ctx, ev)
	}, &s.wg)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev ClientEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			msg := "invalid client event: missing type"
			if err != nil {
				msg = "invalid client event: " + err.Error()
			}
			s.bus.Emit(EventRunnerError, manager.RunnerErrorPayload{Message: msg})
			continue
		}
		d.dispatch(ev)
	}
}

// writeLoop is the only writer on conn. It exits when the subscription
// closes or a write fails.
func (s *Server) writeLoop(conn *websocket.Conn, sub *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				conn.Close()
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug("websocket write failed", "event", ev.Type, "error", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleStaticData(w http.ResponseWriter, r *http.Request) {
	if s.static == nil {
		writeError(w, http.StatusServiceUnavailable, "static data unavailable")
		return
	}
	data, err := s.static(r.Context())
	if err != nil {
		s.log.Warn("failed to collect static data", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleRecentCwds(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.host.ListRecentCwds(limit))
}

type titleRequest struct {
	Prompt *string `json:"prompt"`
}

type titleResponse struct {
	Title string `json:"title"`
}

func (s *Server) handleSessionTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prompt := ""
	if req.Prompt != nil {
		prompt = *req.Prompt
	}
	writeJSON(w, http.StatusOK, titleResponse{Title: s.host.GenerateTitle(r.Context(), prompt)})
}
