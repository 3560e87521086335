// Package stream implements a single-topic WebSocket broadcast hub that lets
// admin dashboards tail delivery log entries live, instead of polling
// GET /notifications/logs. It is a collapsed form of a general pub/sub
// hub: this system has exactly one durable log, not one topic per job or
// agent, so there is exactly one topic — "deliveries".
package stream

// MessageType identifies the kind of event carried by a Message.
type MessageType string

const (
	// MsgDelivery is sent for every LogEntry the dispatcher appends,
	// successful or not.
	MsgDelivery MessageType = "delivery"

	// MsgPing names an application-level keepalive frame. The hub never
	// sends it: connections are kept alive with WebSocket ping frames from
	// Client.writePump.
	MsgPing MessageType = "ping"
)

// Message is the envelope for every frame pushed to a connected dashboard.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}
