// Package pubsub implements the engine's inter-instance event bus on top
// of PostgreSQL's NOTIFY/LISTEN, using a dedicated listener connection
// separate from the query pool used for publishing.
package pubsub

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxPayloadBytes  = 8 * 1024
	listenerMinRetry = 10 * time.Second
	listenerMaxRetry = 5 * time.Second
	reconnectDelay   = 5 * time.Second
)

// Handler receives the raw JSON payload notified on a channel.
type Handler func(payload []byte)

// Bus maintains one dedicated *pq.Listener connection for subscriptions
// plus a pooled *sql.DB for publishing via pg_notify.
type Bus struct {
	db       *sql.DB
	listener *pq.Listener
	log      *zap.SugaredLogger

	mu       sync.Mutex
	handlers map[string][]Handler

	closed chan struct{}
}

// New creates a Bus. connStr is used to open the dedicated listener
// connection; db is the pool used for NOTIFY publishes.
func New(connStr string, db *sql.DB, log *zap.SugaredLogger) *Bus {
	b := &Bus{
		db:       db,
		log:      log,
		handlers: make(map[string][]Handler),
		closed:   make(chan struct{}),
	}
	b.listener = pq.NewListener(connStr, listenerMaxRetry, listenerMinRetry, b.onEvent)
	go b.dispatchLoop()
	return b
}

func (b *Bus) onEvent(ev pq.ListenerEventType, err error) {
	if err != nil && b.log != nil {
		b.log.Warnw("pubsub listener event", "event", ev, "error", err)
	}
	if ev == pq.ListenerEventDisconnected {
		go b.reconnectAndRelisten()
	}
}

func (b *Bus) reconnectAndRelisten() {
	time.Sleep(reconnectDelay)
	b.mu.Lock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		if err := b.listener.Listen(ch); err != nil && b.log != nil {
			b.log.Warnw("pubsub re-listen failed", "channel", ch, "error", err)
		}
	}
}

// SanitizeChannel lowercases name and rejects it if any character
// outside [a-z0-9_] remains, matching the DB NOTIFY channel-name rule this bus enforces.
func SanitizeChannel(name string) (string, error) {
	lower := strings.ToLower(name)
	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	sanitized := b.String()
	if sanitized == "" || sanitized != lower {
		return "", fmt.Errorf("invalid channel name %q: must be lowercase [a-z0-9_]", name)
	}
	return sanitized, nil
}

// Subscribe registers handler for channel, issuing LISTEN only on the
// first subscription to that channel.
func (b *Bus) Subscribe(channel string, handler Handler) error {
	clean, err := SanitizeChannel(channel)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, existed := b.handlers[clean]
	b.handlers[clean] = append(b.handlers[clean], handler)

	if !existed {
		if err := b.listener.Listen(clean); err != nil {
			return fmt.Errorf("listen %s: %w", clean, err)
		}
	}
	return nil
}

// Unsubscribe removes all handlers for channel and issues UNLISTEN.
func (b *Bus) Unsubscribe(channel string) error {
	clean, err := SanitizeChannel(channel)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.handlers[clean]; !ok {
		return nil
	}
	delete(b.handlers, clean)
	return b.listener.Unlisten(clean)
}

// Publish JSON-encodes payload and issues pg_notify on channel.
func (b *Bus) Publish(channel string, payload interface{}) error {
	clean, err := SanitizeChannel(channel)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if len(data) > maxPayloadBytes {
		return fmt.Errorf("pubsub payload for %s exceeds %d bytes", clean, maxPayloadBytes)
	}

	_, err = b.db.Exec(`SELECT pg_notify($1, $2)`, clean, string(data))
	return err
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case <-b.closed:
			return
		case n, ok := <-b.listener.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				continue
			}
			b.mu.Lock()
			handlers := append([]Handler(nil), b.handlers[n.Channel]...)
			b.mu.Unlock()

			for _, h := range handlers {
				h([]byte(n.Extra))
			}
		}
	}
}

// Close releases the dedicated listener connection.
func (b *Bus) Close() error {
	select {
	case <-b.closed:
		return nil
	default:
		close(b.closed)
	}
	return b.listener.Close()
}

var ErrClosed = errors.New("pubsub: bus is closed")
