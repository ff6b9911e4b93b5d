package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itechmeat/kembridge/internal/auth"
)

// Hub is the event bus's connection registry: it accepts new connections,
// authenticates them, and routes orchestrator-produced events to every
// matching subscriber. One connection carries both a broadcast-subscription
// role (filtered by EventType) and a user-scoped-delivery role (filtered by
// authenticated identity), so the registry tracks connections both
// flat and keyed by user.
type Hub struct {
	Authenticator *auth.Authenticator
	IdleTimeout   time.Duration

	mu     sync.RWMutex
	all    map[uuid.UUID]*Connection
	byUser map[uuid.UUID]map[uuid.UUID]*Connection
}

// NewHub constructs an empty registry backed by the given authenticator.
func NewHub(authenticator *auth.Authenticator, idleTimeout time.Duration) *Hub {
	return &Hub{
		Authenticator: authenticator,
		IdleTimeout:   idleTimeout,
		all:           make(map[uuid.UUID]*Connection),
		byUser:        make(map[uuid.UUID]map[uuid.UUID]*Connection),
	}
}

// Accept wraps a freshly-upgraded socket, registers it unauthenticated,
// and starts its read/write pumps. It returns immediately; the
// connection's lifecycle runs in its own goroutines.
func (h *Hub) Accept(conn wireConn) *Connection {
	c := newConnection(conn, h, h.IdleTimeout)

	h.mu.Lock()
	h.all[c.id] = c
	h.mu.Unlock()

	go c.writeLoop()
	go c.readLoop()

	return c
}

func (h *Hub) authenticate(token string) (*auth.Claims, error) {
	return h.Authenticator.ParseToken(token)
}

func (h *Hub) registerAuthenticated(c *Connection, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byUser[userID] == nil {
		h.byUser[userID] = make(map[uuid.UUID]*Connection)
	}
	h.byUser[userID][c.id] = c
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.all, c.id)
	if uid := c.UserID(); uid != nil {
		if m, ok := h.byUser[*uid]; ok {
			delete(m, c.id)
			if len(m) == 0 {
				delete(h.byUser, *uid)
			}
		}
	}
	close(c.send)
}

// Broadcast delivers an event to every connection subscribed to et. Use
// for non-user-scoped event types (price updates, system notifications).
func (h *Hub) Broadcast(et EventType, payload any) error {
	frame, err := encodeEvent(et, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.all {
		if c.subscribedTo(et) {
			c.enqueue(frame)
		}
	}
	return nil
}

// PushToUser delivers an event only to userID's subscribed connections.
// Use for user-scoped event types (transaction status, bridge operations,
// quantum keys, user profile).
func (h *Hub) PushToUser(userID uuid.UUID, et EventType, payload any) error {
	frame, err := encodeEvent(et, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byUser[userID] {
		if c.subscribedTo(et) {
			c.enqueue(frame)
		}
	}
	return nil
}

// Publish routes payload to the correct audience based on et's
// user-scoping, resolving the subject from userID.
func (h *Hub) Publish(userID uuid.UUID, et EventType, payload any) error {
	if et.IsUserScoped() {
		return h.PushToUser(userID, et, payload)
	}
	return h.Broadcast(et, payload)
}

// ConnectionCount reports the number of currently-registered connections
// (authenticated or not), for metrics/diagnostics.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func encodeEvent(et EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: KindEvent, EventType: et, Payload: raw})
}
