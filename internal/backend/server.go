// Package backend serves the desktop app's transport channel and dispatches
// each request to the backend collaborators.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"studiomic/internal/logging"
	"studiomic/internal/protocol"
	"studiomic/internal/workerpool"
)

var log = logging.L("backend")

var errReplyTooLarge = errors.New("reply too large")

const (
	writeWait       = 10 * time.Second
	shutdownTimeout = 10 * time.Second
)

// RequestHandler answers one request. Implementations must be safe for
// concurrent use.
type RequestHandler interface {
	Handle(ctx context.Context, req protocol.Request) protocol.Reply
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	Workers        int
	QueueSize      int
}

type Server struct {
	cfg      Config
	handler  RequestHandler
	pool     *workerpool.Pool
	router   chi.Router
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, handler RequestHandler) *Server {
	s := &Server{
		cfg:     cfg,
		handler: handler,
		pool:    workerpool.New(cfg.Workers, cfg.QueueSize),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	router.Get("/healthz", s.handleHealth)
	router.Get("/ws", s.handleWebSocket)
	s.router = router
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx ends, then shuts down the listener and
// drains the worker pool.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("backend listening", "addr", ln.Addr().String())
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		s.shutdownPool()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.pool.Shutdown(shutdownCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) shutdownPool() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.pool.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	log.Warn("rejected websocket origin", "origin", origin)
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", logging.KeyError, err)
		return
	}
	conn.SetReadLimit(protocol.MaxMessageSize)

	connLog := log.With("remote", r.RemoteAddr, "connId", middleware.GetReqID(r.Context()))
	connLog.Info("client connected")

	ctx, cancel := context.WithCancel(r.Context())
	c := &clientConn{conn: conn, log: connLog, tasks: make(map[string]*task)}
	// Hijacked connections survive http.Server.Shutdown; close them with ctx.
	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	var inflight sync.WaitGroup
	defer func() {
		stopClose()
		cancel()
		inflight.Wait()
		_ = conn.Close()
		connLog.Info("client disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				connLog.Debug("read loop ended", logging.KeyError, err)
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil || req.ID == "" {
			if err == nil {
				err = errors.New("missing id")
			}
			connLog.Warn("malformed request envelope", logging.KeyError, err)
			c.write(protocol.Failure("", "malformed request: "+err.Error()))
			continue
		}

		reqLog := logging.WithRequest(connLog, req.ID, string(req.Kind))
		if req.Kind == protocol.KindCancel {
			if c.cancelTask(req.ID) {
				reqLog.Info("request cancelled by client")
			}
			continue
		}

		taskCtx, taskCancel := context.WithCancel(ctx)
		t := c.track(req.ID, taskCancel)
		inflight.Add(1)
		err = s.pool.Submit(func(poolCtx context.Context) {
			defer inflight.Done()
			defer c.untrack(req.ID, t)
			defer taskCancel()
			stop := context.AfterFunc(poolCtx, taskCancel)
			defer stop()

			reply := s.handler.Handle(logging.NewContext(taskCtx, reqLog), req)
			if taskCtx.Err() != nil {
				reqLog.Debug("dropping reply for abandoned request")
				return
			}
			c.write(reply)
		})
		if err != nil {
			inflight.Done()
			c.untrack(req.ID, t)
			taskCancel()
			reqLog.Warn("request rejected", logging.KeyError, err)
			c.write(protocol.Failure(req.ID, "backend busy: "+err.Error()))
		}
	}
}

type task struct {
	cancel context.CancelFunc
}

// clientConn serializes writes to one websocket connection and tracks the
// requests it has in flight.
type clientConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *slog.Logger

	tasksMu sync.Mutex
	tasks   map[string]*task
}

func (c *clientConn) track(id string, cancel context.CancelFunc) *task {
	t := &task{cancel: cancel}
	c.tasksMu.Lock()
	c.tasks[id] = t
	c.tasksMu.Unlock()
	return t
}

// untrack forgets id only while it still refers to t, so a reused id is not
// dropped by the earlier request finishing.
func (c *clientConn) untrack(id string, t *task) {
	c.tasksMu.Lock()
	if c.tasks[id] == t {
		delete(c.tasks, id)
	}
	c.tasksMu.Unlock()
}

func (c *clientConn) cancelTask(id string) bool {
	c.tasksMu.Lock()
	t, ok := c.tasks[id]
	delete(c.tasks, id)
	c.tasksMu.Unlock()
	if ok {
		t.cancel()
	}
	return ok
}

// write sends reply. A reply the client could not read is replaced by a
// failure for the same id so the shared connection survives it.
func (c *clientConn) write(reply protocol.Reply) {
	data, err := json.Marshal(reply)
	if err == nil && len(data) > protocol.MaxMessageSize {
		c.log.Warn("reply exceeds message limit", logging.KeyCorrelationID, reply.ID, "bytes", len(data), "limit", protocol.MaxMessageSize)
		data, err = json.Marshal(protocol.Failure(reply.ID, errReplyTooLarge.Error()))
	}
	if err != nil {
		c.log.Error("failed to encode reply", logging.KeyError, err, logging.KeyCorrelationID, reply.ID)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("failed to write reply", logging.KeyError, err, logging.KeyCorrelationID, reply.ID)
	}
}
