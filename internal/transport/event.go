package transport

import "time"

// SlotID identifies one live server connection. Freed ids are reused, lowest first.
type SlotID uint32

type EventKind int

const (
	EventNewConnection EventKind = iota
	EventData
	EventConnectionDrop
)

func (k EventKind) String() string {
	switch k {
	case EventNewConnection:
		return "new_connection"
	case EventData:
		return "data"
	case EventConnectionDrop:
		return "connection_drop"
	default:
		return "unknown"
	}
}

// Event is what the application observes from a server. Value is set only for EventData.
type Event[T any] struct {
	Kind  EventKind
	ID    SlotID
	Value T
}

// ConnectionInfo is a point-in-time view of one table slot.
type ConnectionInfo struct {
	ID          SlotID    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	Pending     int       `json:"pending"`
}
