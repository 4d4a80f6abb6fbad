package bridge

import (
	"time"

	"github.com/tedee/lock-command/pkg/lock"
)

// EventKind identifies the type of a HostEvent.
type EventKind string

const (
	KindConnection    EventKind = "connection"
	KindNotification  EventKind = "notification"
	KindStatus        EventKind = "status"
	KindError         EventKind = "error"
	KindResetRequired EventKind = "reset_required"
)

// Host-facing descriptions of connection states.
const (
	DescriptionConnecting    = "Connecting..."
	DescriptionConnected     = "Secure session established"
	DescriptionDisconnected  = "Disconnected"
	DescriptionResetRequired = "Device needs factory reset"
)

// Diagnostics accompany notifications that could not be decoded.
type Diagnostics struct {
	FirstByte  *byte  `json:"firstByte,omitempty"`
	SecondByte *byte  `json:"secondByte,omitempty"`
	Hex        string `json:"hex"`
	Length     int    `json:"length"`
}

// HostEvent is pushed to hosts whenever the lock session reports something.
type HostEvent struct {
	Kind        EventKind            `json:"kind"`
	State       lock.ConnectionState `json:"-"`
	StateName   string               `json:"state"`
	Description string               `json:"description"`
	Raw         []byte               `json:"raw,omitempty"`

	// Usable is set when entering Connected: lock commands may be sent.
	Usable bool `json:"usable,omitempty"`
	// Reset is set when entering Disconnected: connection-scoped host state should be cleared.
	Reset bool `json:"reset,omitempty"`

	LockState   *byte        `json:"lockState,omitempty"`
	LockStatus  *byte        `json:"lockStatus,omitempty"`
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
	Time        time.Time    `json:"time"`
}

// Sink receives HostEvents. All sinks of a bridge are called from the bridge's host loop, one
// event at a time, in the order the events occurred.
type Sink interface {
	HandleEvent(event HostEvent)
}

type SinkFunc func(HostEvent)

func (f SinkFunc) HandleEvent(event HostEvent) {
	f(event)
}
