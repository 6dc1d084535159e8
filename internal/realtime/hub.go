// Package realtime delivers row-level change events to subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ActionInsert = "insert"
	ActionUpdate = "update"
)

// Event is a single row change.
type Event struct {
	Table  string          `json:"table"`
	Action string          `json:"action"`
	Row    json.RawMessage `json:"row"`
	UserID uuid.UUID       `json:"user_id"`
	Public bool            `json:"public,omitempty"`
	At     time.Time       `json:"at"`
}

// NewEvent builds an event for a row owned by userID. Public rows are
// visible to every subscriber of the table.
func NewEvent(table, action string, userID uuid.UUID, public bool, row any) Event {
	raw, err := json.Marshal(row)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Event{Table: table, Action: action, Row: raw, UserID: userID, Public: public, At: time.Now().UTC()}
}

// Publisher is implemented by anything that can fan an event out.
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}

// Filter selects the events a subscriber receives.
type Filter struct {
	Table  string
	UserID uuid.UUID
	// All bypasses the ownership check.
	All bool
}

func (f Filter) Matches(e Event) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	return f.All || e.Public || (f.UserID != uuid.Nil && e.UserID == f.UserID)
}

// Subscription receives matching events until Close is called.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	filter Filter
	hub    *Hub
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an in-process broadcaster. Publishing never blocks: a subscriber
// whose buffer is full misses the event.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}

	logMu  sync.Mutex
	recent []Event
	next   int

	origins map[string]bool
}

var _ Publisher = (*Hub)(nil)

// activityCapacity bounds the recent-activity log.
const activityCapacity = 100

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// AllowOrigins restricts websocket handshakes to the given browser origins.
// With none configured, or with "*", any origin is accepted.
func (h *Hub) AllowOrigins(origins ...string) {
	if len(origins) == 0 {
		h.origins = nil
		return
	}
	h.origins = make(map[string]bool, len(origins))
	for _, o := range origins {
		h.origins[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if h.origins == nil || h.origins["*"] {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients send no Origin.
		return true
	}
	return h.origins[strings.ToLower(strings.TrimRight(origin, "/"))]
}

// Recent returns up to n of the latest published events, newest first.
func (h *Hub) Recent(n int) []Event {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	if n <= 0 || n > len(h.recent) {
		n = len(h.recent)
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.recent)) % len(h.recent)
		out = append(out, h.recent[idx])
	}
	return out
}

func (h *Hub) record(events []Event) {
	h.logMu.Lock()
	defer h.logMu.Unlock()
	for _, e := range events {
		if len(h.recent) < activityCapacity {
			h.recent = append(h.recent, e)
			h.next = len(h.recent) % activityCapacity
			continue
		}
		h.recent[h.next] = e
		h.next = (h.next + 1) % activityCapacity
	}
}

func (h *Hub) Subscribe(f Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, filter: f, hub: h}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	subscribers.Inc()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
		subscribers.Dec()
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(_ context.Context, events ...Event) {
	h.record(events)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range events {
		for s := range h.subs {
			if !s.filter.Matches(e) {
				continue
			}
			select {
			case s.ch <- e:
				delivered.WithLabelValues(e.Table).Inc()
			default:
				dropped.WithLabelValues(e.Table).Inc()
			}
		}
	}
}

var (
	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vault",
		Subsystem: "realtime",
		Name:      "subscribers",
		Help:      "Open change subscriptions.",
	})
	delivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Subsystem: "realtime",
		Name:      "events_delivered_total",
		Help:      "Change events queued to subscribers.",
	}, []string{"table"})
	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault",
		Subsystem: "realtime",
		Name:      "events_dropped_total",
		Help:      "Change events dropped for slow subscribers.",
	}, []string{"table"})
)

// Collectors exposes the hub's metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{subscribers, delivered, dropped}
}
