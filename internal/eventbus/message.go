// Package eventbus implements the real-time event fan-out: a
// bidirectional session channel that authenticates a connection, accepts
// subscription filters, and routes orchestrator-produced events to
// matching connections.
package eventbus

import "encoding/json"

// Kind tags the message union carried over the session channel.
type Kind string

const (
	KindAuth         Kind = "auth"
	KindAuthSuccess  Kind = "auth_success"
	KindAuthFailed   Kind = "auth_failed"
	KindSubscribe    Kind = "subscribe"
	KindUnsubscribe  Kind = "unsubscribe"
	KindSubscribed   Kind = "subscribed"
	KindEvent        Kind = "event"
	KindPing         Kind = "ping"
	KindPong         Kind = "pong"
	KindError        Kind = "error"
	KindClose        Kind = "close"
)

// EventType is a subscription filter.
type EventType string

const (
	EventTransactionStatus   EventType = "transaction_status"
	EventRiskAlerts          EventType = "risk_alerts"
	EventPriceUpdates        EventType = "price_updates"
	EventSystemNotifications EventType = "system_notifications"
	EventBridgeOperations    EventType = "bridge_operations"
	EventQuantumKeys         EventType = "quantum_keys"
	EventUserProfile         EventType = "user_profile"
	EventCryptoService       EventType = "crypto_service"
)

// userScoped reports whether events of this type must only be delivered
// to the connection whose authenticated user_id matches the event's
// subject; false means broadcast-to-all-subscribers.
var userScoped = map[EventType]bool{
	EventTransactionStatus: true,
	EventBridgeOperations:  true,
	EventQuantumKeys:       true,
	EventUserProfile:       true,
	EventRiskAlerts:        true,
	EventPriceUpdates:        false,
	EventSystemNotifications: false,
	EventCryptoService:       false,
}

// IsUserScoped reports whether et must be routed only to its subject's
// connections rather than broadcast to every subscriber.
func (et EventType) IsUserScoped() bool { return userScoped[et] }

// Message is the wire envelope for every frame on the session channel.
// Only the fields relevant to Kind are populated; the rest are omitted.
type Message struct {
	Type      Kind            `json:"type"`
	Token     string          `json:"token,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	EventType EventType       `json:"event_type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}
