// Package bridge runs the WebSocket endpoint the companion app connects
// to. One frame schema carries everything: user utterances inbound,
// assistant output outbound, listening/foreground events, and the RPC
// channel that lets this process drive the device's UI and speaker.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/conversation"
	"github.com/hibiki-ai/hibiki/pkg/device"
	"github.com/hibiki-ai/hibiki/pkg/logger"
	"github.com/hibiki-ai/hibiki/pkg/outbox"
	"github.com/hibiki-ai/hibiki/pkg/tools"
)

// ErrNotConnected means no companion app is currently attached.
var ErrNotConnected = errors.New("companion app is not connected")

const (
	readDeadline    = 60 * time.Second
	pingInterval    = 30 * time.Second
	controlDeadline = 10 * time.Second
)

// frame is the single message schema on the wire, in both directions.
// Type is one of "utterance", "assistant", "event", "rpc_request",
// "rpc_response", "error".
type frame struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     string          `json:"event,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   string          `json:"content,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type rpcReply struct {
	result json.RawMessage
	err    string
}

// Server accepts a single companion connection; a newer connection
// supersedes the previous one. It is the foreground consumer of the
// pending-output queue: the queue is drained on connect and on every
// foreground event.
type Server struct {
	cfg      config.BridgeConfig
	pipeline *conversation.Pipeline
	outbox   *outbox.Outbox

	httpServer *http.Server
	upgrader   websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan rpcReply

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the server and attaches itself to the pipeline as its reply,
// tool-output and speech surface. pipe may be nil when the process has no
// interactive pipeline (utterance frames are then rejected).
func New(cfg config.BridgeConfig, pipe *conversation.Pipeline, box *outbox.Outbox) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 18794
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	s := &Server{
		cfg:      cfg,
		pipeline: pipe,
		outbox:   box,
		pending:  make(map[string]chan rpcReply),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The endpoint binds to loopback/LAN and is token-gated;
				// browser origin checks do not apply to the companion app.
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	if pipe != nil {
		pipe.OnReply = func(text string) { s.pushAssistant(text) }
		pipe.OnToolResult = func(res *tools.ToolResult) {
			if res != nil && res.ForUser != "" {
				s.pushAssistant(res.ForUser)
			}
		}
		pipe.Synthesizer = s.Synthesizer()
	}
	return s
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start brings the HTTP listener up and returns once it is accepting.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)

	s.httpServer = &http.Server{
		Addr:    s.Addr(),
		Handler: mux,
	}

	logger.InfoCF("bridge", "Bridge starting", map[string]any{
		"address": s.Addr(),
		"path":    s.cfg.Path,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start bridge: %w", err)
	case <-time.After(100 * time.Millisecond):
		logger.InfoCF("bridge", "Bridge started", map[string]any{"address": s.Addr()})
		return nil
	}
}

// Stop closes the companion connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	logger.InfoC("bridge", "Stopping bridge")

	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()
	s.failPending("bridge shutting down")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorCF("bridge", "Error shutting down bridge", map[string]any{
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Connected reports whether a companion app is attached right now.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.cfg.Token {
		return true
	}
	return r.URL.Query().Get("token") == s.cfg.Token
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		logger.WarnCF("bridge", "Rejected unauthorized connection", map[string]any{
			"remote": r.RemoteAddr,
		})
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("bridge", "Failed to upgrade connection", map[string]any{
			"error": err.Error(),
		})
		return
	}

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	s.failPending("superseded by a new connection")

	logger.InfoCF("bridge", "Companion app connected", map[string]any{
		"remote": r.RemoteAddr,
	})

	// Connecting is a foreground transition: hand over whatever background
	// runs queued while the app was away.
	go s.DrainOutbox()

	go s.handleConn(conn, r.RemoteAddr)
}

func (s *Server) handleConn(conn *websocket.Conn, remote string) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		current := s.conn == conn
		if current {
			s.conn = nil
		}
		s.mu.Unlock()
		if current {
			s.failPending("companion app disconnected")
		}
		logger.InfoCF("bridge", "Companion app disconnected", map[string]any{
			"remote": remote,
		})
	}()

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	frames := make(chan frame, 16)
	go func() {
		defer close(frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logger.ErrorCF("bridge", "Read failed", map[string]any{
						"remote": remote,
						"error":  err.Error(),
					})
				}
				return
			}
			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				logger.WarnCF("bridge", "Malformed frame", map[string]any{
					"error": err.Error(),
				})
				continue
			}
			frames <- f
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(controlDeadline)); err != nil {
				logger.WarnCF("bridge", "Ping failed", map[string]any{"error": err.Error()})
				return
			}
		case f, ok := <-frames:
			if !ok {
				return
			}
			s.dispatch(f)
		}
	}
}

func (s *Server) dispatch(f frame) {
	switch f.Type {
	case "utterance":
		if strings.TrimSpace(f.Content) == "" {
			return
		}
		// Turns run off the read loop so pings and RPC responses keep
		// flowing while the agent works.
		go s.handleUtterance(f.Content)
	case "rpc_response":
		s.deliver(f.ID, f.Result, f.Error)
	case "event":
		s.handleEvent(f.Event)
	default:
		logger.WarnCF("bridge", "Unknown frame type", map[string]any{"type": f.Type})
	}
}

func (s *Server) handleUtterance(content string) {
	if s.pipeline == nil {
		s.pushError("no conversation pipeline is running in this mode")
		return
	}
	_, err := s.pipeline.ProcessUtterance(s.ctx, content)
	if err != nil {
		if errors.Is(err, conversation.ErrBusy) {
			s.pushError("a turn is already in flight")
			return
		}
		s.pushError(err.Error())
	}
	// The reply itself reaches the app through the pipeline's OnReply hook.
}

func (s *Server) handleEvent(event string) {
	switch event {
	case "foreground":
		go s.DrainOutbox()
	case "listening_start":
		if s.pipeline != nil {
			s.pipeline.StartListening()
		}
	case "listening_stop":
		if s.pipeline != nil {
			s.pipeline.StopListening()
		}
	default:
		logger.DebugCF("bridge", "Ignoring event", map[string]any{"event": event})
	}
}

// DrainOutbox empties the pending-output queue into the connection. Runs
// on connect and on every foreground event from the companion app.
func (s *Server) DrainOutbox() {
	if s.outbox == nil {
		return
	}
	entries, err := s.outbox.Drain()
	if err != nil {
		logger.ErrorCF("bridge", "Failed to drain pending output", map[string]any{
			"error": err.Error(),
		})
		return
	}
	for _, e := range entries {
		if err := s.push(frame{Type: "assistant", Role: e.Role, Content: e.Content, Timestamp: e.CreatedAt}); err != nil {
			logger.WarnCF("bridge", "Failed to deliver queued entry", map[string]any{
				"error": err.Error(),
			})
			return
		}
	}
	if len(entries) > 0 {
		logger.InfoCF("bridge", "Delivered queued output", map[string]any{"count": len(entries)})
	}
}

// PushAssistant sends an assistant-authored message to the companion app.
func (s *Server) PushAssistant(content string) error {
	return s.push(frame{Type: "assistant", Role: "assistant", Content: content})
}

func (s *Server) pushAssistant(content string) {
	if err := s.PushAssistant(content); err != nil {
		logger.WarnCF("bridge", "Failed to push assistant message", map[string]any{
			"error": err.Error(),
		})
	}
}

func (s *Server) pushError(message string) {
	if err := s.push(frame{Type: "error", Content: message}); err != nil {
		logger.WarnCF("bridge", "Failed to push error frame", map[string]any{
			"error": err.Error(),
		})
	}
}

func (s *Server) push(f frame) error {
	if f.Timestamp == 0 {
		f.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// call sends one RPC frame and blocks until the companion answers, the
// context ends, or the connection drops. There is no per-call timeout;
// a dead connection fails all outstanding calls through failPending.
func (s *Server) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan rpcReply, 1)

	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	f := frame{Type: "rpc_request", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		f.Params = raw
	}
	if err := s.push(f); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case reply := <-ch:
		if reply.err != "" {
			return nil, mapDeviceError(method, reply.err)
		}
		return reply.result, nil
	}
}

func (s *Server) deliver(id string, result json.RawMessage, errMsg string) {
	s.pendingMu.Lock()
	ch, ok := s.pending[id]
	s.pendingMu.Unlock()
	if !ok {
		logger.WarnCF("bridge", "RPC response with unknown id", map[string]any{"id": id})
		return
	}
	select {
	case ch <- rpcReply{result: result, err: errMsg}:
	default:
	}
}

func (s *Server) failPending(reason string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for id, ch := range s.pending {
		select {
		case ch <- rpcReply{err: reason}:
		default:
		}
		delete(s.pending, id)
	}
}

// mapDeviceError lifts well-known error codes from the companion app into
// the sentinels the automation loop branches on.
func mapDeviceError(method, msg string) error {
	switch {
	case strings.Contains(msg, "element_not_found"):
		return fmt.Errorf("%w: %s", device.ErrElementNotFound, msg)
	case strings.Contains(msg, "introspection_disabled"):
		return device.ErrIntrospectionDisabled
	default:
		return fmt.Errorf("%s failed: %s", method, msg)
	}
}
