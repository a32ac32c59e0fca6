package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by Reconfigure after Close
var ErrSessionClosed = errors.New("session is closed")

// Session holds the process-wide client id together with the client and sideband socket
// for the currently configured backend. The client id never changes; the client and
// socket are replaced whenever the endpoint does.
type Session struct {
	mu       sync.RWMutex
	clientID string
	client   *ComfyClient
	socket   *WebSocketConnection
	closed   bool

	requestTimeout time.Duration
	noSocket       bool
	log            *slog.Logger
}

type SessionOption func(*Session)

// WithRequestTimeout sets the per-request timeout of every client the session creates
func WithRequestTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.requestTimeout = d
	}
}

// WithoutSocket disables the sideband websocket, for one-shot command line use and tests
func WithoutSocket() SessionOption {
	return func(s *Session) {
		s.noSocket = true
	}
}

func WithLogger(log *slog.Logger) SessionOption {
	return func(s *Session) {
		s.log = log
	}
}

func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		clientID: uuid.New().String(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ClientID() string {
	return s.clientID
}

// Client returns the client for the current endpoint, or nil before the first Reconfigure
func (s *Session) Client() *ComfyClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Endpoint returns the current backend url, or "" before the first Reconfigure
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.client == nil {
		return ""
	}
	return s.client.Endpoint()
}

// SocketConnected reports whether the sideband socket is open
func (s *Session) SocketConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socket != nil && s.socket.IsConnected()
}

// Reconfigure points the session at a new backend. The old socket is torn down and a
// new one is opened in the background. An invalid endpoint leaves the session unchanged.
func (s *Session) Reconfigure(endpoint string) error {
	c, err := NewComfyClientWithTimeout(endpoint, s.clientID, s.requestTimeout)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if s.client != nil && s.client.Endpoint() == c.Endpoint() && (s.socket != nil || s.noSocket) {
		return nil
	}

	if s.socket != nil {
		_ = s.socket.Close()
		s.socket = nil
	}
	s.client = c

	if !s.noSocket {
		s.socket = NewWebSocketConnection(c.WebSocketURL(), s.log)
		_ = s.socket.ConnectWithManager(0)
	}
	s.log.Info("backend configured", "endpoint", c.Endpoint(), "client_id", s.clientID)
	return nil
}

// Close tears down the socket. The session cannot be reconfigured afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.socket == nil {
		return nil
	}
	err := s.socket.Close()
	s.socket = nil
	return err
}
