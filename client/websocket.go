package client

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConnection keeps the backend's sideband channel open for one client id.
// ComfyUI ties queued prompts to a connected client id; the panel does not act on the
// messages, so they are only handed to OnMessage when it is set.
type WebSocketConnection struct {
	WebSocketURL string
	MaxRetry     int // 0 retries forever
	OnMessage    func(message string)

	// Exponential backoff configuration
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Dialer    websocket.Dialer

	conn        *websocket.Conn
	mu          sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	isConnected atomic.Bool
	retryCount  int
	log         *slog.Logger
}

func NewWebSocketConnection(wsURL string, log *slog.Logger) *WebSocketConnection {
	if log == nil {
		log = slog.Default()
	}
	return &WebSocketConnection{
		WebSocketURL: wsURL,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		Dialer:       *websocket.DefaultDialer,
		done:         make(chan struct{}),
		log:          log.With("url", wsURL),
	}
}

// ConnectWithManager starts the connection manager and waits up to timeout for the first
// successful connection. With timeout 0 it returns immediately and the manager keeps
// trying in the background; a negative timeout waits indefinitely.
func (w *WebSocketConnection) ConnectWithManager(timeout time.Duration) error {
	// Channel to signal successful connection
	connected := make(chan struct{})
	var connectedOnce sync.Once

	go func() {
		for {
			err := w.connect()
			if err != nil {
				w.log.Warn("websocket connection attempt failed", "error", err)
				w.isConnected.Store(false)

				w.retryCount++
				if w.MaxRetry > 0 && w.retryCount > w.MaxRetry {
					w.log.Error(fmt.Sprintf("Maximum number of retries reached (%d)", w.MaxRetry))
					return
				}

				select {
				case <-time.After(w.getReconnectDelay()):
					continue
				case <-w.done:
					return
				}
			}

			w.retryCount = 0
			w.isConnected.Store(true)
			connectedOnce.Do(func() { close(connected) })
			w.handleMessages()
			w.isConnected.Store(false)

			select {
			case <-w.done:
				return
			default:
				// the backend went away; reconnect
			}
		}
	}()

	if timeout == 0 {
		return nil
	}
	if timeout < 0 {
		select {
		case <-connected:
		case <-w.done:
		}
		return nil
	}

	select {
	case <-connected:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("connection timeout after %v", timeout)
	}
}

func (w *WebSocketConnection) connect() error {
	conn, _, err := w.Dialer.Dial(w.WebSocketURL, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		// closed while dialing
		conn.Close()
		return fmt.Errorf("websocket closed")
	default:
	}
	w.conn = conn
	return nil
}

// Handle incoming WebSocket messages until the connection drops
func (w *WebSocketConnection) handleMessages() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.log.Warn(fmt.Sprintf("Read error: %v", err))
			}
			return
		}
		if w.OnMessage != nil {
			w.OnMessage(string(message))
		}
	}
}

// exponential backoff calculation
func (w *WebSocketConnection) getReconnectDelay() time.Duration {
	// BaseDelay * 2^(retryCount-1), capped at MaxDelay
	delay := w.BaseDelay * time.Duration(math.Pow(2, float64(w.retryCount-1)))
	if delay > w.MaxDelay || delay <= 0 {
		delay = w.MaxDelay
	}
	return delay
}

// IsConnected reports whether the socket is currently open
func (w *WebSocketConnection) IsConnected() bool {
	return w.isConnected.Load()
}

// Close stops the connection manager and closes the socket. It is safe to call more than once.
func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.conn != nil {
			_ = w.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = w.conn.Close()
		}
		w.isConnected.Store(false)
	})
	return err
}
