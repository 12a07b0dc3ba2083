package frame

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Keepalive sentinels. These are bare literals on the wire, not JSON.
var (
	PingPayload = []byte("ping")
	PongPayload = []byte("pong")
)

// Classify decodes one raw inbound frame. It never returns an error:
// undecodable input classifies as malformed or unknown and the caller
// drops it.
func Classify(raw []byte) Frame {
	// Keepalive fast path: byte compare only, no allocation, no JSON.
	if bytes.Equal(raw, PingPayload) {
		return Frame{Class: ClassKeepalive}
	}
	if bytes.Equal(raw, PongPayload) {
		return Frame{Class: ClassKeepaliveReply}
	}

	// Known server bug: truncated JSON frames arrive with a leading brace
	// but never parse. Drop without noise.
	if len(raw) > 0 && raw[0] == '{' && !gjson.ValidBytes(raw) {
		return Frame{Class: ClassMalformed}
	}

	t := gjson.GetBytes(raw, "t")
	if !t.Exists() {
		return Frame{Class: ClassUnknown}
	}

	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{Class: ClassMalformed}
	}

	switch w.T {
	case "ping":
		return Frame{Class: ClassControl, Control: ControlPing}
	case "subscribed":
		return Frame{Class: ClassControl, Control: ControlSubscribed, Topic: w.C}
	case "unsubscribed":
		return Frame{Class: ClassControl, Control: ControlUnsubscribed, Topic: w.C}
	case "user_status":
		return Frame{Class: ClassDomain, Event: &DomainEvent{
			Kind:    EventPresenceChanged,
			Subject: w.U,
			Payload: w.C,
		}}
	case "cpu", "cpu_status":
		return Frame{Class: ClassDomain, Event: &DomainEvent{
			Kind:    EventGaugeChanged,
			Subject: w.U,
			Payload: w.C,
		}}
	case "message", "system", "join", "leave":
		return Frame{Class: ClassDomain, Event: &DomainEvent{
			Kind:      EventMessageReceived,
			Subject:   w.U,
			Payload:   w.C,
			ChatKind:  ChatKind(w.T),
			Timestamp: time.Unix(w.D, 0),
		}}
	}

	return Frame{Class: ClassUnknown}
}

// MarkOwnership sets IsOwn on a chat event. Only actual messages can be
// own; system/join/leave frames carry the subject identity but are never
// authored content.
func MarkOwnership(ev *DomainEvent, self string) {
	if ev == nil {
		return
	}
	ev.IsOwn = ev.ChatKind == ChatMessage && self != "" && ev.Subject == self
}

// EncodeSubscribe builds the outbound subscribe control frame for a topic.
func EncodeSubscribe(topic string) ([]byte, error) {
	return json.Marshal(controlFrame{Type: "subscribe", MessageType: topic})
}

// EncodeUnsubscribe builds the outbound unsubscribe control frame.
func EncodeUnsubscribe(topic string) ([]byte, error) {
	return json.Marshal(controlFrame{Type: "unsubscribe", MessageType: topic})
}
