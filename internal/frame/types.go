package frame

import "time"

// Class is the top-level classification of an inbound frame.
type Class int

const (
	// ClassKeepalive is a bare "ping" sentinel. The transport must answer
	// with PongPayload without touching the JSON path.
	ClassKeepalive Class = iota

	// ClassKeepaliveReply is a bare "pong" sentinel. Consumed silently.
	ClassKeepaliveReply

	// ClassControl is protocol bookkeeping: subscribe acks and the legacy
	// JSON ping.
	ClassControl

	// ClassDomain carries application data (presence, gauge, chat).
	ClassDomain

	// ClassMalformed is a frame matching the known truncated-JSON server
	// bug. Dropped silently.
	ClassMalformed

	// ClassUnknown is parseable JSON with an unrecognized discriminator.
	// Dropped with a logged warning at the call site.
	ClassUnknown
)

// ControlKind identifies a control frame.
type ControlKind string

const (
	ControlSubscribed   ControlKind = "subscribed"
	ControlUnsubscribed ControlKind = "unsubscribed"
	ControlPing         ControlKind = "ping"
)

// ChatKind identifies a chat-domain frame. These are the only kinds the
// message store persists.
type ChatKind string

const (
	ChatMessage ChatKind = "message"
	ChatSystem  ChatKind = "system"
	ChatJoin    ChatKind = "join"
	ChatLeave   ChatKind = "leave"
)

// Valid reports whether k is a persistable chat kind.
func (k ChatKind) Valid() bool {
	switch k {
	case ChatMessage, ChatSystem, ChatJoin, ChatLeave:
		return true
	}
	return false
}

// Frame is the decoded classification of one inbound message.
type Frame struct {
	Class Class

	// Control fields
	Control ControlKind
	Topic   string // subscribe ack correlation, by topic name only

	// Domain fields
	Event *DomainEvent
}

// EventKind names a dispatchable event.
type EventKind string

const (
	EventPresenceChanged EventKind = "presence-changed"
	EventGaugeChanged    EventKind = "gauge-changed"
	EventMessageReceived EventKind = "message-received"
	EventConnectionState EventKind = "connection-state"
)

// DomainEvent is the stable shape handed to the dispatcher and mirrored
// across sibling contexts.
type DomainEvent struct {
	Kind      EventKind `json:"kind"`
	Subject   string    `json:"subject"` // identity the event concerns
	Payload   string    `json:"payload"`
	ChatKind  ChatKind  `json:"chatKind,omitempty"` // chat events only
	Timestamp time.Time `json:"timestamp"`
	IsOwn     bool      `json:"isOwn"`
}

// wireFrame is the compact inbound wire format.
type wireFrame struct {
	T string `json:"t"`
	U string `json:"u"`
	C string `json:"c"`
	D int64  `json:"d"` // unix seconds, chat frames only
}

// controlFrame is the outbound control wire format.
type controlFrame struct {
	Type        string `json:"type"`
	MessageType string `json:"messageType"`
}
