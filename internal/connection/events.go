package connection

import (
	"fmt"
	"time"
)

// EventKind identifies an external trigger fed to the Monitor.
type EventKind int

const (
	// EventNetworkChanged signals that network availability changed.
	EventNetworkChanged EventKind = iota + 1

	// EventScreenUnlocked signals that the user is back (device unlock,
	// app foregrounded).
	EventScreenUnlocked

	// EventTick asks for an immediate periodic check.
	EventTick
)

// String returns the event name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventNetworkChanged:
		return "network_changed"
	case EventScreenUnlocked:
		return "screen_unlocked"
	case EventTick:
		return "tick"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one external trigger.
type Event struct {
	Kind EventKind
	At   time.Time

	// Detail is free text for logs (e.g. which interface changed).
	Detail string
}
