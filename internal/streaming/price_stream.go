// Package streaming implements PriceStream, the single-leader websocket
// fan-in that turns raw exchange ticker frames into PriceUpdate events,
// mirrored into the distributed cache and the pub-sub bus.
//
// PriceStream itself speaks no exchange wire protocol; the caller
// supplies a MessageParser and a SubscriptionBuilder for whichever
// exchange it is wired to, keeping this package exchange-agnostic.
package streaming

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradeengine/internal/cache"
	"tradeengine/internal/metrics"
	"tradeengine/internal/models"
	"tradeengine/internal/pubsub"
)

// State is PriceStream's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	initialBackoff   = 1 * time.Second
	maxBackoff       = 60 * time.Second
	breakerThreshold = 5
	breakerTimeout   = 60 * time.Second
	subscriberBuffer = 64
)

// Conn is the subset of *websocket.Conn PriceStream depends on, so tests
// can substitute a fake transport.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteJSON(v interface{}) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn to url. The real implementation wraps
// gorilla/websocket; tests substitute an in-memory fake.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// GorillaDialer dials with gorilla/websocket's default dialer.
type GorillaDialer struct{}

func (GorillaDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// MessageParser turns one raw websocket frame into a PriceUpdate. ok is
// false for frames that don't carry a price (acks, heartbeats).
type MessageParser func(raw []byte) (update models.PriceUpdate, ok bool, err error)

// SubscriptionBuilder builds the wire messages to send after a (re)connect
// to subscribe to pairs.
type SubscriptionBuilder func(pairs []models.Pair) []interface{}

// PriceStream is a single-leader websocket client. Only the process that
// currently holds the leader lease should call Connect; followers read
// the same PriceUpdate stream from the distributed cache/pub-sub
// channels PriceStream publishes to.
type PriceStream struct {
	url        string
	dialer     Dialer
	parse      MessageParser
	buildSubs  SubscriptionBuilder
	mdCache    *cache.MarketDataCache
	bus        *pubsub.Bus
	log        *zap.SugaredLogger

	state   int32 // atomic State
	breaker *circuitBreaker

	mu          sync.Mutex
	conn        Conn
	pairs       []models.Pair
	subscribers []chan models.PriceUpdate
	intentional int32 // atomic bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

func NewPriceStream(url string, dialer Dialer, parse MessageParser, buildSubs SubscriptionBuilder, mdCache *cache.MarketDataCache, bus *pubsub.Bus, log *zap.SugaredLogger) *PriceStream {
	return &PriceStream{
		url:       url,
		dialer:    dialer,
		parse:     parse,
		buildSubs: buildSubs,
		mdCache:   mdCache,
		bus:       bus,
		log:       log,
		breaker:   newCircuitBreaker(breakerThreshold, breakerTimeout),
		closeCh:   make(chan struct{}),
	}
}

func (p *PriceStream) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *PriceStream) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

// Subscribe registers a local fan-out channel. Deliveries are
// best-effort: a full channel drops the update rather than blocking the
// read loop.
func (p *PriceStream) Subscribe() <-chan models.PriceUpdate {
	ch := make(chan models.PriceUpdate, subscriberBuffer)
	p.mu.Lock()
	p.subscribers = append(p.subscribers, ch)
	count := len(p.subscribers)
	p.mu.Unlock()
	metrics.StreamSubscribers.Set(float64(count))
	return ch
}

// Connect dials the exchange stream and subscribes to pairs. Subsequent
// calls replace the subscribed pair set; reconnects reuse the most
// recently requested set so subscriber registrations persist across
// disconnects.
func (p *PriceStream) Connect(ctx context.Context, pairs []models.Pair) error {
	select {
	case <-p.closeCh:
		return fmt.Errorf("streaming: stream is closed")
	default:
	}

	atomic.StoreInt32(&p.intentional, 0)
	p.mu.Lock()
	p.pairs = pairs
	p.mu.Unlock()

	p.setState(StateConnecting)

	conn, err := p.dial(ctx)
	if err != nil {
		p.setState(StateFailed)
		p.breaker.RecordFailure()
		go p.reconnectLoop()
		return err
	}

	p.breaker.RecordSuccess()
	p.setState(StateConnected)
	go p.readPump(conn)
	return nil
}

func (p *PriceStream) dial(ctx context.Context) (Conn, error) {
	conn, err := p.dialer.Dial(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("streaming: dial: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	pairs := append([]models.Pair(nil), p.pairs...)
	p.mu.Unlock()

	if p.buildSubs != nil {
		for _, msg := range p.buildSubs(pairs) {
			if err := conn.WriteJSON(msg); err != nil {
				conn.Close()
				return nil, fmt.Errorf("streaming: subscribe: %w", err)
			}
		}
	}
	return conn, nil
}

func (p *PriceStream) readPump(conn Conn) {
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			p.handleDisconnect(err)
			return
		}

		update, ok, err := p.parse(raw)
		if err != nil {
			if p.log != nil {
				p.log.Warnw("streaming: frame parse error", "error", err)
			}
			continue
		}
		if !ok {
			continue
		}
		p.fanOut(update)
	}
}

func (p *PriceStream) fanOut(update models.PriceUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if p.mdCache != nil {
		if err := p.mdCache.SetPriceUpdate(ctx, update); err != nil && p.log != nil {
			p.log.Warnw("streaming: distributed cache write failed", "pair", update.Pair, "error", err)
		}
	}
	if p.bus != nil {
		if err := p.bus.Publish(update.Pair.ChannelName(), update); err != nil && p.log != nil {
			p.log.Warnw("streaming: pub-sub publish failed", "pair", update.Pair, "error", err)
		}
	}

	p.mu.Lock()
	subs := append([]chan models.PriceUpdate(nil), p.subscribers...)
	p.mu.Unlock()

	metrics.PriceUpdatesPublished.WithLabelValues(string(update.Pair)).Inc()
	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			metrics.StreamBufferDrops.WithLabelValues(string(update.Pair)).Inc()
			if p.log != nil {
				p.log.Warnw("streaming: subscriber channel full, dropping update", "pair", update.Pair)
			}
		}
	}
}

// handleDisconnect is invoked from the read loop on any read error. An
// intentional disconnect (explicit Disconnect call, or loss of
// leadership) suppresses the reconnect loop entirely.
func (p *PriceStream) handleDisconnect(err error) {
	select {
	case <-p.closeCh:
		return
	default:
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	if atomic.LoadInt32(&p.intentional) == 1 {
		p.setState(StateDisconnected)
		return
	}

	if p.log != nil {
		p.log.Warnw("streaming: connection lost", "error", err)
	}
	p.setState(StateReconnecting)
	p.breaker.RecordFailure()
	go p.reconnectLoop()
}

// reconnectLoop retries with exponential backoff (1s -> 60s), gated by
// the circuit breaker so a persistently unreachable endpoint doesn't
// spin hot.
func (p *PriceStream) reconnectLoop() {
	delay := initialBackoff

	for {
		select {
		case <-p.closeCh:
			return
		default:
		}
		if atomic.LoadInt32(&p.intentional) == 1 {
			p.setState(StateDisconnected)
			return
		}

		if !p.breaker.Allow() {
			select {
			case <-p.closeCh:
				return
			case <-time.After(breakerTimeout):
			}
			continue
		}

		select {
		case <-p.closeCh:
			return
		case <-time.After(delay):
		}

		p.setState(StateConnecting)
		conn, err := p.dial(context.Background())
		if err != nil {
			p.breaker.RecordFailure()
			p.setState(StateFailed)
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
			continue
		}

		p.breaker.RecordSuccess()
		p.setState(StateConnected)
		go p.readPump(conn)
		return
	}
}

// Disconnect closes the current connection and marks it intentional, so
// the read loop will not trigger a reconnect. Used both for a clean
// shutdown and to stop streaming on loss of leadership.
func (p *PriceStream) Disconnect() {
	atomic.StoreInt32(&p.intentional, 1)

	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	p.setState(StateDisconnected)
}

// Close stops the stream permanently; Connect after Close returns an
// error.
func (p *PriceStream) Close() {
	p.closeOnce.Do(func() {
		p.Disconnect()
		close(p.closeCh)
	})
}
