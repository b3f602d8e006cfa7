// Package broadcast fans counter updates out to observer connections.
//
// Delivery is best effort and at most once: every subscriber has a small
// send buffer drained by its own goroutine, a full buffer drops the message,
// and a failed write closes the subscriber. Publish never waits on a slow
// connection.
package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/developingchet/click-counter/internal/metrics"
)

const defaultBuffer = 16

// Conn is an observer connection. Send must not be called concurrently; the
// hub guarantees a single writer per connection.
type Conn interface {
	Send(msg []byte) error
	Close() error
}

// Pinger is implemented by connections that need keepalive frames.
type Pinger interface {
	Ping() error
}

// Message is the payload every observer receives.
type Message struct {
	Count int64 `json:"count"`
}

// Encode renders the wire form of a count.
func Encode(count int64) []byte {
	b, _ := json.Marshal(Message{Count: count})
	return b
}

// Subscriber is one registered connection.
type Subscriber struct {
	hub  *Hub
	conn Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Done is closed once the subscriber has been unregistered.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) writeLoop(pingEvery time.Duration) {
	var tick <-chan time.Time
	if _, ok := s.conn.(Pinger); ok && pingEvery > 0 {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			if err := s.conn.Send(msg); err != nil {
				log.Debug().Err(err).Msg("observer send failed")
				s.hub.Unregister(s)
				return
			}
		case <-tick:
			if err := s.conn.(Pinger).Ping(); err != nil {
				s.hub.Unregister(s)
				return
			}
		}
	}
}

// Hub tracks live subscribers. The zero value is not usable; call NewHub.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	last    int64
	current func() int64
	buffer  int
	ping    time.Duration
	closed  bool
}

// NewHub creates a hub. current supplies the value a new subscriber is
// seeded with; ping is the keepalive period for connections implementing
// Pinger (zero disables).
func NewHub(current func() int64, ping time.Duration) *Hub {
	return &Hub{
		subs:    make(map[*Subscriber]struct{}),
		current: current,
		buffer:  defaultBuffer,
		ping:    ping,
	}
}

// Register adds conn and queues the current count as its first message. The
// seed counts as published, so a later Publish of a lower value is dropped
// for every subscriber. It returns nil if the hub is closed.
func (h *Hub) Register(conn Conn) *Subscriber {
	s := &Subscriber{
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.buffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	seed := h.current()
	if seed < h.last {
		seed = h.last
	}
	h.last = seed
	s.send <- Encode(seed)
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(n))
	go s.writeLoop(h.ping)
	return s
}

// Unregister removes s and closes its connection. Safe to call more than
// once and from any goroutine.
func (h *Hub) Unregister(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()

	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	if ok {
		metrics.Subscribers.Set(float64(n))
	}
}

// Publish queues count for every subscriber. A value lower than one already
// published is dropped so observers never see the counter move backwards.
func (h *Hub) Publish(count int64) {
	msg := Encode(count)

	h.mu.Lock()
	defer h.mu.Unlock()
	if count < h.last {
		return
	}
	h.last = count
	for s := range h.subs {
		select {
		case s.send <- msg:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close unregisters every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscriber, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		h.Unregister(s)
	}
}
