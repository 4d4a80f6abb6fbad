// Package connector defines the boundary between this module and a lock session.
//
// A lock session owns the BLE link and the cryptographic handshake with one lock. This module
// never implements either; it drives a Connector and consumes the events the Connector reports
// through a Listener.
package connector

import (
	"context"

	"github.com/tedee/lock-command/pkg/lock"
)

// EventKind tags an Event.
type EventKind int

const (
	EventConnectionChanged EventKind = iota
	EventNotification
	EventLockStatusChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionChanged:
		return "connection"
	case EventNotification:
		return "notification"
	case EventLockStatusChanged:
		return "status"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is a single callback from a lock session. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind

	// EventConnectionChanged
	Connecting bool
	Connected  bool

	// EventNotification
	Message []byte

	// EventLockStatusChanged
	CurrentState byte
	Status       byte

	// EventError
	Err error
}

// Listener receives callbacks from a lock session. Implementations must be thread safe; sessions
// invoke callbacks from their own goroutines.
type Listener interface {
	OnConnectionChanged(connecting, connected bool)
	OnNotification(message []byte)
	OnLockStatusChanged(currentState, status byte)
	OnError(err error)
}

// ListenerFunc adapts a single event handler into a Listener by tagging each callback.
type ListenerFunc func(Event)

func (f ListenerFunc) OnConnectionChanged(connecting, connected bool) {
	f(Event{Kind: EventConnectionChanged, Connecting: connecting, Connected: connected})
}

func (f ListenerFunc) OnNotification(message []byte) {
	f(Event{Kind: EventNotification, Message: message})
}

func (f ListenerFunc) OnLockStatusChanged(currentState, status byte) {
	f(Event{Kind: EventLockStatusChanged, CurrentState: currentState, Status: status})
}

func (f ListenerFunc) OnError(err error) {
	f(Event{Kind: EventError, Err: err})
}

// SignedTimeProvider supplies remote-signed clock values. Sessions ask for one when the lock
// reports that its clock is unset.
type SignedTimeProvider interface {
	SignedTime(ctx context.Context) (*lock.SignedTime, error)
}

// Connector drives one lock session.
type Connector interface {
	// Connect starts a session with the lock. It returns once the attempt has been started;
	// progress and failures are reported to listener. If keepConnection is true the session
	// reconnects on its own after a lost link.
	Connect(ctx context.Context, identity lock.Identity, credential *lock.Credential, keepConnection bool, listener Listener) error

	// Disconnect ends the current session, if any. The resulting disconnection is reported to
	// the listener.
	Disconnect()

	// SendCommand sends opcode followed by params and returns the lock's response, or nil if the
	// lock did not respond.
	//
	// Depending on the error, the lock may have received and even acted on the command. Errors
	// implementing MayHaveSucceeded() report when this is possible.
	SendCommand(ctx context.Context, opcode byte, params []byte) ([]byte, error)

	GetLockState(ctx context.Context) ([]byte, error)
	GetDeviceSettings(ctx context.Context) (*lock.DeviceSettings, error)
	GetFirmwareVersion(ctx context.Context) (*lock.FirmwareVersion, error)

	SetSignedTimeProvider(provider SignedTimeProvider)

	// Close releases the session.
	//
	// Repeated calls to Close() must be idempotent, but the behavior of the interface is otherwise
	// undefined after calling this method.
	Close()
}
