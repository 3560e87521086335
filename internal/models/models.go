// Package models holds the data model shared by the store, formatter,
// relevance predicate, and dispatcher: the Client registry entry, the
// normalized Notification envelope, its Mentions routing key, and the
// delivery LogEntry.
package models

import "time"

// EventType is one of the event-type tags a Client can subscribe to, and the
// tag stamped on every Notification the formatter produces (except "all",
// which only ever appears in a subscription set, never on a Notification).
type EventType string

const (
	EventPR       EventType = "pr"
	EventWorkItem EventType = "workitem"
	EventPipeline EventType = "pipeline"
	EventManual   EventType = "manual"
	EventAll      EventType = "all"
)

// Mentions is the routing envelope attached to every Notification: the set
// of ADO identities and group names the notification concerns. Order is
// insertion order, not sorted — callers doing set membership checks should
// not rely on ordering.
type Mentions struct {
	UserIDs []string `json:"user_ids"`
	Names   []string `json:"names"`
}

// Empty reports whether the mentions envelope carries no routing
// information at all, in which case the notification is a broadcast.
func (m Mentions) Empty() bool {
	return len(m.UserIDs) == 0 && len(m.Names) == 0
}

// HasUserID reports whether id appears among the mentioned user ids.
func (m Mentions) HasUserID(id string) bool {
	for _, u := range m.UserIDs {
		if u == id {
			return true
		}
	}
	return false
}

// Client is a registered notification endpoint — a desktop daemon that
// receives POSTed notifications on CallbackURL.
type Client struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	CallbackURL   string      `json:"callback_url"`
	ADOUserID     string      `json:"ado_user_id"`
	DisplayName   string      `json:"display_name"`
	Subscriptions []EventType `json:"subscriptions"`
	Active        bool        `json:"active"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastSeen      time.Time   `json:"last_seen"`
}

// Subscribes reports whether the client is subscribed to evt, either
// directly or via the "all" wildcard.
func (c Client) Subscribes(evt EventType) bool {
	for _, s := range c.Subscriptions {
		if s == evt || s == EventAll {
			return true
		}
	}
	return false
}

// Notification is the normalized envelope the formatter produces from a raw
// ADO payload and the dispatcher both routes and POSTs to clients verbatim.
type Notification struct {
	EventType    EventType      `json:"event_type"`
	Heading      string         `json:"heading"`
	Body         string         `json:"body"`
	URL          string         `json:"url"`
	Project      string         `json:"project"`
	AvatarB64    string         `json:"avatar_b64"`
	StatusImage  string         `json:"status_image"`
	Actor        string         `json:"actor"`
	ActorID      string         `json:"actor_id"`
	Mentions     Mentions       `json:"mentions"`
	Meta         map[string]any `json:"meta"`
}

// LogEntry records one delivery attempt, successful or not. Entries are
// append-only and ordered by append time within the store's rotating log.
type LogEntry struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"client_id"`
	EventType EventType    `json:"event_type"`
	Payload   Notification `json:"payload"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	SentAt    time.Time    `json:"sent_at"`
}
