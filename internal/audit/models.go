package audit

import "time"

// Event is an immutable, append-only call journal record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - journaling is best-effort; a failed append never blocks the phone.
//
// Storage (Postgres): table softphone_call_events with an INSERT-only policy.
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Type EventType `json:"type" db:"type"`

	// Identity is the agent whose phone produced the event.
	Identity string `json:"identity" db:"identity"`
	// Status is the phone status after the event.
	Status string `json:"status" db:"status"`

	CallSID    string `json:"call_sid,omitempty" db:"call_sid"`
	FromNumber string `json:"from,omitempty" db:"from_number"`
	ToNumber   string `json:"to,omitempty" db:"to_number"`

	// Message is a short human-readable description, e.g. the device error.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventDeviceMounted    EventType = "device_mounted"
	EventDeviceUnmounted  EventType = "device_unmounted"
	EventDeviceReady      EventType = "device_ready"
	EventDeviceError      EventType = "device_error"
	EventCallIncoming     EventType = "call_incoming"
	EventCallAnswered     EventType = "call_answered"
	EventCallRejected     EventType = "call_rejected"
	EventCallCanceled     EventType = "call_canceled"
	EventCallPlaced       EventType = "call_placed"
	EventCallConnected    EventType = "call_connected"
	EventCallHangUp       EventType = "call_hangup"
	EventCallDisconnected EventType = "call_disconnected"
)

// Query filters journal reads. Identity is optional; Limit defaults to 50.
// Since and Until bound CreatedAt as [Since, Until) when set.
type Query struct {
	WorkspaceID string
	Identity    string
	Since       time.Time
	Until       time.Time
	Limit       int
}

func (q Query) covers(t time.Time) bool {
	if !q.Since.IsZero() && t.Before(q.Since) {
		return false
	}
	return q.Until.IsZero() || t.Before(q.Until)
}

const (
	defaultLimit = 50
	maxLimit     = 500

	// MaxLimit is the largest page a single read returns.
	MaxLimit = maxLimit
)

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	default:
		return q.Limit
	}
}
