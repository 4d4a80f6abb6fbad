package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/connector"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// StateMachine turns lock session callbacks into a consistent stream of HostEvents.
//
// Connection state only moves Disconnected -> Connecting -> Connected -> Disconnected. If the
// session skips a step, the missing transition is emitted first, so hosts never see Connected
// without a preceding Connecting. Repeated reports of the current state emit nothing.
type StateMachine struct {
	mu    sync.Mutex
	state lock.ConnectionState
	emit  func(HostEvent)
	now   func() time.Time

	// disconnected is called whenever the session reports it is disconnected, even if the
	// machine already was.
	disconnected func()
}

// NewStateMachine returns a machine in the Disconnected state. emit is called with the machine's
// lock held, so events are emitted in order; it must not call back into the machine.
func NewStateMachine(emit func(HostEvent)) *StateMachine {
	return &StateMachine{state: lock.Disconnected, emit: emit, now: time.Now}
}

// OnSessionDisconnected registers f to be called, with the machine locked, every time the
// session reports Disconnected. No host event is emitted for a repeated report.
func (m *StateMachine) OnSessionDisconnected(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = f
}

// Listener returns a connector.Listener that feeds the machine.
func (m *StateMachine) Listener() connector.Listener {
	return connector.ListenerFunc(m.Handle)
}

func (m *StateMachine) State() lock.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Handle processes one session callback.
func (m *StateMachine) Handle(event connector.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Kind {
	case connector.EventConnectionChanged:
		m.onConnectionChanged(event.Connecting, event.Connected)
	case connector.EventNotification:
		m.onNotification(event.Message)
	case connector.EventLockStatusChanged:
		m.onLockStatusChanged(event.CurrentState, event.Status)
	case connector.EventError:
		m.onError(event.Err)
	default:
		log.Warning("Ignoring unknown session event %v", event.Kind)
	}
}

func (m *StateMachine) send(event HostEvent) {
	event.State = m.state
	event.StateName = m.state.String()
	event.Time = m.now()
	m.emit(event)
}

func (m *StateMachine) onConnectionChanged(connecting, connected bool) {
	target := lock.Disconnected
	if connecting {
		target = lock.Connecting
	} else if connected {
		target = lock.Connected
	}
	if target == lock.Disconnected && m.disconnected != nil {
		m.disconnected()
	}
	if target == m.state {
		return
	}
	switch {
	case target == lock.Connected && m.state == lock.Disconnected:
		m.enter(lock.Connecting)
	case target == lock.Connecting && m.state == lock.Connected:
		m.enter(lock.Disconnected)
	}
	m.enter(target)
}

func (m *StateMachine) enter(state lock.ConnectionState) {
	log.Debug("Connection state %s -> %s", m.state, state)
	m.state = state
	event := HostEvent{Kind: KindConnection}
	switch state {
	case lock.Connecting:
		event.Description = DescriptionConnecting
	case lock.Connected:
		event.Description = DescriptionConnected
		event.Usable = true
	case lock.Disconnected:
		event.Description = DescriptionDisconnected
		event.Reset = true
	}
	m.send(event)
}

func (m *StateMachine) onNotification(message []byte) {
	if len(message) == 0 {
		return
	}
	raw := append([]byte(nil), message...)
	description := protocol.DescribeNotification(raw)
	event := HostEvent{
		Kind:        KindNotification,
		Description: "Notification: " + description,
		Raw:         raw,
	}
	if protocol.IsUnknown(description) {
		diag := &Diagnostics{Hex: protocol.HexDump(raw), Length: len(raw)}
		first := raw[0]
		diag.FirstByte = &first
		if len(raw) > 1 {
			second := raw[1]
			diag.SecondByte = &second
		}
		log.Debug("Unrecognized notification: %s", diag.Hex)
		event.Diagnostics = diag
	}
	m.send(event)
}

func (m *StateMachine) onLockStatusChanged(currentState, status byte) {
	m.send(HostEvent{
		Kind:        KindStatus,
		Description: protocol.DescribeLockStatus(currentState, status),
		Raw:         []byte{currentState, status},
		LockState:   &currentState,
		LockStatus:  &status,
	})
}

// onError leaves the machine Disconnected and emits exactly one event: reset_required for
// protocol.ErrDeviceResetRequired, error for anything else. Nothing is retried.
func (m *StateMachine) onError(err error) {
	if err == nil {
		err = errors.New("unknown session error")
	}
	m.state = lock.Disconnected
	if errors.Is(err, protocol.ErrDeviceResetRequired) {
		log.Warning("Lock requires factory reset: %s", err)
		m.send(HostEvent{Kind: KindResetRequired, Description: DescriptionResetRequired, Reset: true})
		return
	}
	log.Warning("Session error: %s", err)
	m.send(HostEvent{Kind: KindError, Description: "Error: " + err.Error(), Reset: true})
}
