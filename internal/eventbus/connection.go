package eventbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// wireConn is the narrow slice of *websocket.Conn's API the connection
// pump depends on — satisfied by gorilla/websocket in production and by
// an in-memory fake in tests, so the routing/backpressure logic can be
// exercised without a real HTTP upgrade (the upgrade itself is out of
// scope here).
type wireConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// outboundQueueSize is the default bounded outbound queue per connection.
const outboundQueueSize = 256

// textMessage mirrors gorilla/websocket.TextMessage without importing the
// package here, keeping wireConn satisfiable by a plain test fake.
const textMessage = 1

// userNamespace scopes the wallet-address-to-user-id derivation used for
// hub routing (handleAuth), so the same wallet always maps to the same id.
var userNamespace = uuid.MustParse("6f6e7562-7269-4467-ae5f-757365726964")

// Connection is one client's session on the event bus: an unauthenticated
// socket until Auth succeeds, then a set of EventType subscriptions.
type Connection struct {
	id   uuid.UUID
	conn wireConn
	hub  *Hub

	mu            sync.Mutex
	userID        *uuid.UUID
	subscriptions map[EventType]bool
	closed        bool

	send        chan []byte
	idleTimeout time.Duration
	lastActive  time.Time
}

func newConnection(conn wireConn, hub *Hub, idleTimeout time.Duration) *Connection {
	return &Connection{
		id:            uuid.New(),
		conn:          conn,
		hub:           hub,
		subscriptions: make(map[EventType]bool),
		send:          make(chan []byte, outboundQueueSize),
		idleTimeout:   idleTimeout,
		lastActive:    time.Now(),
	}
}

// IsAuthenticated reports whether Auth has succeeded on this connection.
func (c *Connection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID != nil
}

// UserID returns the authenticated user id, or nil if unauthenticated.
func (c *Connection) UserID() *uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Connection) subscribedTo(et EventType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions[et]
}

// enqueue pushes a frame onto the bounded outbound queue. A full queue
// closes the connection rather than blocking the hub or silently dropping
// frames. The Close{reason="backpressure"} frame is queued only
// best-effort, and the queue is full at that moment, so it is normally not
// delivered.
func (c *Connection) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		c.closeWithReason("backpressure")
	}
}

func (c *Connection) closeWithReason(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	closeMsg, _ := json.Marshal(Message{Type: KindClose, Reason: reason})
	// Best-effort: the write pump may already have exited.
	select {
	case c.send <- closeMsg:
	default:
	}
	c.conn.Close()
	// unregister takes the hub's write lock, and this method can be reached
	// from Broadcast/PushToUser while they hold its read lock, so it runs on
	// its own goroutine.
	go c.hub.unregister(c)
}

// readLoop handles inbound frames: Auth, Subscribe, Unsubscribe, Ping.
// It runs until the connection errors, is closed, or goes idle.
func (c *Connection) readLoop() {
	defer c.closeWithReason("closed")

	for {
		if c.idleTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.lastActive = time.Now()
		c.mu.Unlock()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message", "BAD_REQUEST")
			continue
		}

		c.handle(msg)
	}
}

func (c *Connection) handle(msg Message) {
	switch msg.Type {
	case KindAuth:
		c.handleAuth(msg)
	case KindSubscribe:
		c.mu.Lock()
		c.subscriptions[msg.EventType] = true
		c.mu.Unlock()
		c.sendJSON(Message{Type: KindSubscribed, EventType: msg.EventType})
	case KindUnsubscribe:
		c.mu.Lock()
		delete(c.subscriptions, msg.EventType)
		c.mu.Unlock()
	case KindPing:
		c.sendJSON(Message{Type: KindPong})
	default:
		c.sendError("unknown message type", "BAD_REQUEST")
	}
}

func (c *Connection) handleAuth(msg Message) {
	claims, err := c.hub.authenticate(msg.Token)
	if err != nil {
		c.sendJSON(Message{Type: KindAuthFailed, Error: err.Error()})
		return
	}
	// claims.Subject carries the wallet address, not a user id — derive a
	// stable identity for hub routing the same way across every session
	// from the same wallet.
	userID := uuid.NewSHA1(userNamespace, []byte(claims.Subject))

	c.mu.Lock()
	c.userID = &userID
	c.mu.Unlock()

	c.hub.registerAuthenticated(c, userID)
	c.sendJSON(Message{Type: KindAuthSuccess, UserID: userID.String()})
}

func (c *Connection) sendError(message, code string) {
	c.sendJSON(Message{Type: KindError, Error: message, Code: code})
}

func (c *Connection) sendJSON(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// writeLoop drains the outbound queue to the wire. It exits when send is
// closed by the hub during unregister.
func (c *Connection) writeLoop() {
	for data := range c.send {
		if err := c.conn.WriteMessage(textMessage, data); err != nil {
			return
		}
	}
}
