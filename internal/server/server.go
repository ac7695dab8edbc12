// Package server exposes the runner over a websocket endpoint.
//
// A client opens /api, sends one Request, and receives every logbook entry
// of the call as a "log" message followed by a single "result" or "error"
// message. The server then closes the connection. Remote plugin modules
// are always rejected.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/webis-de/GenIRSim/internal/application"
	"github.com/webis-de/GenIRSim/internal/domain"
	"github.com/webis-de/GenIRSim/internal/logbook"
	"github.com/webis-de/GenIRSim/internal/ports"
)

// Calls a Request can make.
const (
	CallRun      = "run"
	CallSimulate = "simulate"
	CallEvaluate = "evaluate"
)

// Message types sent to the client.
const (
	TypeLog    = "log"
	TypeResult = "result"
	TypeError  = "error"
)

const (
	maxRequestSize = 4 << 20
	sendBuffer     = 256
	writeWait      = 10 * time.Second
)

// Request is the single message a client sends after connecting.
// Configuration is either a JSON object or a string holding JSON or YAML.
type Request struct {
	Call          string             `json:"call"`
	Configuration json.RawMessage    `json:"configuration"`
	Simulation    *domain.Simulation `json:"simulation,omitempty"`
	Replacements  map[string]any     `json:"replacements,omitempty"`
}

// Message is one server-to-client message.
type Message struct {
	Type  string         `json:"type"`
	Entry *logbook.Entry `json:"entry,omitempty"`
	Data  any            `json:"data,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Server handles websocket sessions.
type Server struct {
	registry *application.Registry
	attempts int
	logger   *zap.Logger
	metrics  ports.MetricsCollector
	upgrader websocket.Upgrader
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry sets the plugin registry used for every call.
func WithRegistry(registry *application.Registry) Option {
	return func(s *Server) { s.registry = registry }
}

// WithAttempts sets the attempts per run call.
func WithAttempts(attempts int) Option {
	return func(s *Server) { s.attempts = attempts }
}

// WithLogger sets the operator logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics sets the metrics collector handed to every runner.
func WithMetrics(metrics ports.MetricsCollector) Option {
	return func(s *Server) { s.metrics = metrics }
}

// New creates a server.
func New(opts ...Option) *Server {
	s := &Server{
		attempts: 1,
		logger:   zap.NewNop(),
		metrics:  ports.NopMetrics{},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = application.NewRegistry()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = ports.NopMetrics{}
	}
	return s
}

// Handler returns a mux serving the websocket endpoint at /api.
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api", s)
	return mux
}

// ServeHTTP upgrades the connection and serves one call on it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.NewString()
	logger := s.logger.With(zap.String("session_id", sessionID))
	c := newClient(conn, logger)
	go c.writePump()
	defer c.close()

	conn.SetReadLimit(maxRequestSize)
	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		logger.Info("invalid request", zap.Error(err))
		c.send(Message{Type: TypeError, Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	logger.Info("call started", zap.String("call", req.Call))

	data, err := s.serve(r.Context(), req, c.logSink())
	if err != nil {
		logger.Info("call failed", zap.String("call", req.Call), zap.Error(err))
		c.send(Message{Type: TypeError, Error: err.Error()})
		return
	}
	c.send(Message{Type: TypeResult, Data: data})
	logger.Info("call finished", zap.String("call", req.Call))
}

func (s *Server) serve(ctx context.Context, req Request, sink logbook.Sink) (any, error) {
	runner, err := application.NewRunner(
		application.WithRegistry(s.registry),
		application.WithRestricted(true),
		application.WithAttempts(s.attempts),
		application.WithSink(sink),
		application.WithLogger(s.logger),
		application.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, err
	}

	configuration, err := decodeConfiguration(req.Configuration)
	if err != nil {
		return nil, err
	}

	switch req.Call {
	case CallRun:
		return runner.RunE(ctx, configuration, req.Replacements)
	case CallSimulate:
		return runner.Simulate(ctx, configuration)
	case CallEvaluate:
		if req.Simulation == nil {
			return nil, domain.NewConfigurationError("simulation", "missing", nil)
		}
		m, err := runner.Loader().Parse(configuration)
		if err != nil {
			return nil, err
		}
		config, err := runner.Loader().DecodeEvaluation(m)
		if err != nil {
			return nil, err
		}
		return runner.Evaluate(ctx, req.Simulation, config)
	default:
		return nil, fmt.Errorf("unknown call %q", req.Call)
	}
}

// decodeConfiguration unwraps a configuration sent as a JSON string.
func decodeConfiguration(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, domain.NewConfigurationError("configuration", "missing", nil)
	}
	if raw[0] != '"' {
		return []byte(raw), nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, domain.NewConfigurationError("configuration", "invalid string", err)
	}
	return text, nil
}

// client owns the write side of one connection. All messages pass through
// the outbox and are written by writePump alone.
type client struct {
	conn   *websocket.Conn
	logger *zap.Logger
	outbox chan Message
	done   chan struct{}
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *client {
	return &client{
		conn:   conn,
		logger: logger,
		outbox: make(chan Message, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) send(msg Message) { c.outbox <- msg }

func (c *client) logSink() logbook.Sink {
	return func(e logbook.Entry) {
		c.send(Message{Type: TypeLog, Entry: &e})
	}
}

// writePump writes queued messages until the outbox is closed. After a
// write error it keeps draining so senders never block.
func (c *client) writePump() {
	defer close(c.done)
	var failed bool
	for msg := range c.outbox {
		if failed {
			continue
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Debug("websocket write failed", zap.Error(err))
			failed = true
		}
	}
	if !failed {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.logger.Debug("websocket close failed", zap.Error(err))
		}
	}
}

func (c *client) close() {
	close(c.outbox)
	<-c.done
	_ = c.conn.Close()
}
