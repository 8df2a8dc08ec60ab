// Package ws serves the daemon's persistent WebSocket protocol: state
// sync via pushed snapshots plus folder mutations. Every connected
// client sees the same snapshot stream; every mutation is re-validated
// server-side regardless of what the client already checked.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/custodia-labs/folderd/internal/core/domain"
	"github.com/custodia-labs/folderd/internal/core/ports/driving"
	"github.com/custodia-labs/folderd/internal/logger"
)

const (
	writeTimeout   = 10 * time.Second
	maxMessageSize = 1 << 20 // 1 MiB
)

// Server is the WebSocket protocol endpoint.
type Server struct {
	fmdm      driving.FMDMService
	daemon    driving.DaemonService
	heartbeat time.Duration

	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu    sync.Mutex
	conns map[string]*connection
}

// NewServer creates a protocol server. heartbeat is the ping interval
// used to detect dead connections.
func NewServer(fmdm driving.FMDMService, daemon driving.DaemonService, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = domain.DefaultHeartbeat
	}
	return &Server{
		fmdm:      fmdm,
		daemon:    daemon,
		heartbeat: heartbeat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The daemon binds to loopback; cross-origin browser pages
			// have no business here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*connection),
	}
}

// ListenAndServe serves the protocol on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	logger.Info("protocol listening on %s", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		s.closeAll()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := make([]*connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed: %v", err)
		return
	}

	conn := &connection{
		id:     uuid.New().String(),
		server: s,
		socket: socket,
		send:   make(chan Envelope, 64),
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[conn.id] = conn
	s.mu.Unlock()

	logger.Info("client connected: %s", conn.id)
	go conn.writeLoop()
	conn.readLoop(r.Context())
}

// connection is one connected protocol client.
type connection struct {
	id     string
	server *Server
	socket *websocket.Conn
	send   chan Envelope

	closeOnce sync.Once
	done      chan struct{}

	// initialised is set once connection.init succeeds; acts before then
	// are rejected.
	initialised bool
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.socket.Close()

		c.server.mu.Lock()
		delete(c.server.conns, c.id)
		c.server.mu.Unlock()

		if c.initialised {
			c.server.fmdm.RemoveConnection(c.id)
		}
		logger.Info("client disconnected: %s", c.id)
	})
}

// writeLoop owns all writes to the socket: queued envelopes and
// heartbeat pings. A client that misses a full heartbeat round is dead.
func (c *connection) writeLoop() {
	ticker := time.NewTicker(c.server.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case env := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.socket.WriteJSON(env); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	resetDeadline := func() {
		_ = c.socket.SetReadDeadline(time.Now().Add(2 * c.server.heartbeat))
	}
	resetDeadline()
	c.socket.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		var env Envelope
		if err := c.socket.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("read error on %s: %v", c.id, err)
			}
			return
		}
		resetDeadline()
		c.dispatch(ctx, env)
	}
}

func (c *connection) dispatch(ctx context.Context, env Envelope) {
	switch env.Type {
	case TypeConnectionInit:
		c.handleInit(env)
	case TypePing:
		c.reply(Envelope{ID: env.ID, Type: TypePong})
	case TypeFolderValidate:
		c.handleValidate(ctx, env)
	case TypeFolderAdd:
		c.handleAdd(ctx, env)
	case TypeFolderRemove:
		c.handleRemove(ctx, env)
	case TypeFolderList:
		c.handleList(env)
	default:
		c.respondError(env.ID, fmt.Sprintf("unknown message type %q", env.Type))
	}
}

func (c *connection) handleInit(env Envelope) {
	if c.initialised {
		c.respondError(env.ID, "connection already initialised")
		return
	}

	var payload InitPayload
	if env.Payload != nil {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			c.respondError(env.ID, "malformed payload")
			return
		}
	}
	if payload.ClientType == "" {
		payload.ClientType = "unknown"
	}

	c.initialised = true
	c.server.fmdm.AddConnection(domain.ConnectionInfo{
		ID:          c.id,
		ClientType:  payload.ClientType,
		ConnectedAt: time.Now().UTC(),
	})

	c.respondData(env.ID, InitResult{ConnectionID: c.id})

	// Snapshot stream starts after the init ack: first the full current
	// snapshot, then every newer one.
	go c.forwardSnapshots()
}

func (c *connection) forwardSnapshots() {
	sub := c.server.fmdm.Subscribe(c.id)
	defer sub.Cancel()

	for {
		select {
		case <-c.done:
			return
		case snapshot, ok := <-sub.Updates:
			if !ok {
				return
			}
			payload, err := json.Marshal(snapshot)
			if err != nil {
				logger.Warn("marshalling snapshot: %v", err)
				continue
			}
			select {
			case c.send <- Envelope{Type: TypeFMDMUpdate, Payload: payload}:
			case <-c.done:
				return
			}
		}
	}
}

func (c *connection) handleValidate(ctx context.Context, env Envelope) {
	payload, ok := c.folderPayload(env)
	if !ok {
		return
	}

	result := c.server.daemon.ValidateFolder(ctx, payload.Path)
	c.respondData(env.ID, result)
}

func (c *connection) handleAdd(ctx context.Context, env Envelope) {
	payload, ok := c.folderPayload(env)
	if !ok {
		return
	}

	if err := c.server.daemon.AddFolder(ctx, payload.Path, payload.Model); err != nil {
		c.respondError(env.ID, clientMessage(err))
		return
	}
	c.respondData(env.ID, nil)
}

func (c *connection) handleRemove(ctx context.Context, env Envelope) {
	payload, ok := c.folderPayload(env)
	if !ok {
		return
	}

	if err := c.server.daemon.RemoveFolder(ctx, payload.Path); err != nil {
		c.respondError(env.ID, clientMessage(err))
		return
	}
	c.respondData(env.ID, nil)
}

func (c *connection) handleList(env Envelope) {
	snapshot := c.server.fmdm.Snapshot()
	c.respondData(env.ID, FolderListResult{Folders: snapshot.Folders})
}

func (c *connection) folderPayload(env Envelope) (FolderPayload, bool) {
	if !c.initialised {
		c.respondError(env.ID, "connection not initialised")
		return FolderPayload{}, false
	}

	var payload FolderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		c.respondError(env.ID, "malformed payload")
		return FolderPayload{}, false
	}
	if payload.Path == "" {
		c.respondError(env.ID, "path is required")
		return FolderPayload{}, false
	}
	return payload, true
}

func (c *connection) respondData(id string, data any) {
	resp := Response{Success: true}
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			c.respondError(id, "internal error")
			return
		}
		resp.Data = encoded
	}
	c.sendResponse(id, resp)
}

func (c *connection) respondError(id, msg string) {
	c.sendResponse(id, Response{Success: false, Error: msg})
}

func (c *connection) sendResponse(id string, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("marshalling response: %v", err)
		return
	}
	c.reply(Envelope{ID: id, Type: TypeResponse, Payload: payload})
}

func (c *connection) reply(env Envelope) {
	select {
	case c.send <- env:
	case <-c.done:
	}
}

// clientMessage maps internal errors to client-safe text. Domain errors
// read well as-is; anything else collapses to a generic message with the
// detail kept in the daemon log.
func clientMessage(err error) string {
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrInvalidInput,
		domain.ErrFolderExists,
		domain.ErrFolderNotConfigured,
		domain.ErrDimensionMismatch,
		domain.ErrUnknownModel,
		domain.ErrModelNotReady,
	} {
		if errors.Is(err, known) {
			return err.Error()
		}
	}
	logger.Error("internal error: %v", err)
	return "internal error"
}
