// Package listener subscribes to the ledger service's push channel, a
// Socket.IO endpoint spoken over a plain WebSocket.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mordris/ledgerwatch/internal/notify"
)

// InitialReason is sent with the request_update emitted on every connect.
const InitialReason = "Client initial connection"

const requestUpdateEvent = "request_update"

var errNotConnected = errors.New("not connected to server")

// Config configures the WebSocket listener.
type Config struct {
	URL            string        // Service base URL (e.g., "http://localhost:5000")
	MaxRetries     int           // Max reconnection attempts (default: 25)
	ReconnectDelay time.Duration // Base delay between reconnects (default: 1s)
}

// EventHandler is called for every event pushed by the service.
type EventHandler func(ctx context.Context, name string, payload json.RawMessage) error

// Listener keeps a Socket.IO session with the service open, reconnecting as needed.
type Listener struct {
	config   Config
	onEvent  EventHandler
	notifier notify.Notifier

	conn      *websocket.Conn
	connected bool // Socket.IO handshake completed
	mu        sync.RWMutex
	writeMu   sync.Mutex

	// Stats (protected by mu)
	connectedAt   time.Time
	messageCount  uint64
	lastMessageAt time.Time
}

// New creates a new WebSocket listener.
func New(config Config, onEvent EventHandler, notifier notify.Notifier) *Listener {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 25
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = time.Second
	}
	if notifier == nil {
		notifier = notify.Log{}
	}
	if onEvent == nil {
		onEvent = func(context.Context, string, json.RawMessage) error { return nil }
	}
	return &Listener{
		config:   config,
		onEvent:  onEvent,
		notifier: notifier,
	}
}

// Run starts the listener. It blocks until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	wsURL, err := l.buildURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	for attempt := 0; attempt < l.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		slog.Info("connecting to ledger service",
			"attempt", attempt+1,
			"max_retries", l.config.MaxRetries,
			"url", wsURL,
		)

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			l.mu.Lock()
			l.conn = conn
			l.connectedAt = time.Now()
			l.messageCount = 0
			l.mu.Unlock()

			slog.Info("websocket connected", "url", wsURL)

			err = l.listen(ctx)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				_ = l.Close()
				return ctx.Err()
			}

			l.mu.Lock()
			uptime := time.Since(l.connectedAt)
			msgCount := l.messageCount
			wasConnected := l.connected
			l.connected = false
			if l.conn != nil {
				_ = l.conn.Close()
				l.conn = nil
			}
			l.mu.Unlock()

			slog.Warn("websocket disconnected",
				"err", err,
				"uptime", uptime.Round(time.Second),
				"messages_received", msgCount,
			)
			if wasConnected {
				l.notifier.Notify(fmt.Sprintf("Disconnected from server: %v. Will attempt to reconnect.", err), true)
				// Reset attempt counter after an established session; the loop increments it
				attempt = -1
				continue
			}
			// Upgraded but never joined the namespace: a failed attempt
		}

		slog.Warn("failed to connect to ledger service",
			"attempt", attempt+1,
			"err", err,
		)
		if attempt == 0 {
			l.notifier.Notify(fmt.Sprintf("Connection error: %v. Is the server running? Please refresh.", err), true)
		}

		// Linear backoff
		delay := time.Duration(attempt+1) * l.config.ReconnectDelay
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retries (%d) reached", l.config.MaxRetries)
}

// buildURL constructs the Socket.IO WebSocket URL.
func (l *Listener) buildURL() (string, error) {
	parsed, err := url.Parse(l.config.URL)
	if err != nil {
		return "", err
	}

	host := parsed.Host
	basePath := parsed.Path
	if host == "" {
		host, basePath = parsed.Path, ""
	}
	if host == "" {
		return "", fmt.Errorf("no host in %q", l.config.URL)
	}

	wsScheme := "ws"
	if parsed.Scheme == "https" || parsed.Scheme == "wss" {
		wsScheme = "wss"
	}

	wsURL := url.URL{
		Scheme:   wsScheme,
		Host:     host,
		Path:     strings.TrimRight(basePath, "/") + "/socket.io/",
		RawQuery: "EIO=4&transport=websocket",
	}

	return wsURL.String(), nil
}

// listen reads frames from the WebSocket connection until it fails.
func (l *Listener) listen(ctx context.Context) error {
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message: %w", err)
		}

		p, err := decodePacket(data)
		if err != nil {
			slog.Warn("websocket packet decode failed",
				"err", err,
				"data_len", len(data),
			)
			continue
		}

		switch p.eio {
		case eioOpen:
			// join the default namespace
			if err := l.write(conn, []byte{eioMessage, sioConnect}); err != nil {
				return err
			}
		case eioPing:
			if err := l.write(conn, []byte{eioPong}); err != nil {
				return err
			}
		case eioClose:
			return errors.New("server closed the session")
		case eioMessage:
			if err := l.handleMessage(ctx, p); err != nil {
				return err
			}
		default:
			slog.Debug("ignoring engine.io packet", "type", string(p.eio))
		}
	}
}

func (l *Listener) handleMessage(ctx context.Context, p packet) error {
	switch p.sio {
	case sioConnect:
		l.mu.Lock()
		l.connected = true
		l.mu.Unlock()
		slog.Info("socket.io session established")
		l.notifier.Notify("Live connection to blockchain server established!", false)
		if err := l.Emit(requestUpdateEvent, map[string]string{"reason": InitialReason}); err != nil {
			return fmt.Errorf("request initial state: %w", err)
		}
	case sioConnectError:
		return fmt.Errorf("namespace connect refused: %s", string(p.data))
	case sioDisconnect:
		return errors.New("server disconnected the client")
	case sioEvent:
		l.mu.Lock()
		l.messageCount++
		l.lastMessageAt = time.Now()
		msgNum := l.messageCount
		l.mu.Unlock()

		slog.Info("websocket event received",
			"event", p.name,
			"msg_num", msgNum,
		)

		if err := l.onEvent(ctx, p.name, p.data); err != nil {
			slog.Warn("event handler failed", "event", p.name, "err", err)
		}
	}
	return nil
}

func (l *Listener) write(conn *websocket.Conn, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Emit sends an event to the service. It fails while not connected.
func (l *Listener) Emit(event string, payload any) error {
	l.mu.RLock()
	conn, ok := l.conn, l.connected
	l.mu.RUnlock()
	if conn == nil || !ok {
		return errNotConnected
	}
	frame, err := encodeEvent(event, payload)
	if err != nil {
		return err
	}
	return l.write(conn, frame)
}

// Close gracefully closes the WebSocket connection.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connected = false
	if l.conn != nil {
		err := l.conn.Close()
		l.conn = nil
		return err
	}
	return nil
}

// Connected returns whether the Socket.IO session is established.
func (l *Listener) Connected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.conn != nil && l.connected
}

// Stats returns current connection statistics.
func (l *Listener) Stats() (connected bool, uptime time.Duration, messageCount uint64, lastMessage time.Time) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	connected = l.conn != nil && l.connected
	if connected {
		uptime = time.Since(l.connectedAt)
	}
	messageCount = l.messageCount
	lastMessage = l.lastMessageAt
	return
}
