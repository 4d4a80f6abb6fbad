// Package sim implements a simulated lock session. It is registered as the "sim" connector
// backend and behaves like a lock that accepts every well-formed credential.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/connector"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// Name is the backend name used with connector.New.
const Name = "sim"

const eventBufferSize = 32

var ErrIncompleteCredential = errors.New("credential is incomplete")

func init() {
	connector.Register(Name, func() (connector.Connector, error) {
		return New(), nil
	})
}

type Option func(*Lock)

// WithResetRequired makes every connection attempt fail with protocol.ErrDeviceResetRequired.
func WithResetRequired() Option {
	return func(l *Lock) { l.resetRequired = true }
}

// WithLatency delays the connected callback.
func WithLatency(d time.Duration) Option {
	return func(l *Lock) { l.latency = d }
}

// WithState sets the initial lock state.
func WithState(state byte) Option {
	return func(l *Lock) { l.state = state }
}

// Lock is a simulated lock session.
type Lock struct {
	mu            sync.Mutex
	listener      connector.Listener
	timeProvider  connector.SignedTimeProvider
	connected     bool
	state         byte
	resetRequired bool
	latency       time.Duration
	sent          []byte
	connects      int
	closed        bool

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a simulated lock that starts out locked.
func New(options ...Option) *Lock {
	l := &Lock{
		state:  0x06,
		events: make(chan func(), eventBufferSize),
		done:   make(chan struct{}),
	}
	for _, option := range options {
		option(l)
	}
	go l.pump()
	return l
}

// pump delivers listener callbacks in order on a goroutine owned by the session.
func (l *Lock) pump() {
	for {
		select {
		case <-l.done:
			return
		case f := <-l.events:
			f()
		}
	}
}

func (l *Lock) emit(f func()) {
	select {
	case <-l.done:
	case l.events <- f:
	}
}

func (l *Lock) Connect(ctx context.Context, identity lock.Identity, credential *lock.Credential, keepConnection bool, listener connector.Listener) error {
	if !credential.Complete() {
		return ErrIncompleteCredential
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return protocol.SessionError(errors.New("session closed"))
	}
	l.listener = listener
	l.connects++
	reset := l.resetRequired
	latency := l.latency
	provider := l.timeProvider
	l.mu.Unlock()

	log.Info("[sim] Connecting to %s (keepConnection=%t)", identity, keepConnection)
	l.emit(func() { listener.OnConnectionChanged(true, false) })
	l.emit(func() {
		if latency > 0 {
			time.Sleep(latency)
		}
		if reset {
			listener.OnError(protocol.DeviceResetRequiredError(errors.New("lock rejected certificate")))
			return
		}
		if provider != nil {
			if _, err := provider.SignedTime(context.Background()); err != nil {
				listener.OnError(err)
				return
			}
		}
		l.mu.Lock()
		if l.listener != listener {
			l.mu.Unlock()
			return
		}
		l.connected = true
		l.mu.Unlock()
		listener.OnConnectionChanged(false, true)
	})
	return nil
}

func (l *Lock) Disconnect() {
	l.mu.Lock()
	listener := l.listener
	l.listener = nil
	l.connected = false
	l.mu.Unlock()
	if listener != nil {
		l.emit(func() { listener.OnConnectionChanged(false, false) })
	}
}

func (l *Lock) session() (connector.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return nil, protocol.ErrNotConnected
	}
	return l.listener, nil
}

func (l *Lock) SendCommand(ctx context.Context, opcode byte, params []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, protocol.Timeout(err)
	}
	listener, err := l.session()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.sent = append(l.sent, opcode)
	l.mu.Unlock()

	var next byte
	switch opcode {
	case protocol.OpcodeLock:
		next = 0x06
	case protocol.OpcodeUnlock:
		next = 0x02
	case protocol.OpcodePullSpring:
		next = 0x07
	case protocol.OpcodeGetState:
		return l.GetLockState(ctx)
	default:
		return []byte{opcode, 0x01}, nil
	}
	l.mu.Lock()
	l.state = next
	l.mu.Unlock()
	l.emit(func() {
		listener.OnNotification([]byte{protocol.NotificationLockStatusChange, next, 0x00})
		listener.OnLockStatusChanged(next, 0x00)
	})
	return []byte{opcode, 0x00}, nil
}

func (l *Lock) GetLockState(ctx context.Context) ([]byte, error) {
	if _, err := l.session(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return []byte{protocol.OpcodeGetState, 0x00, l.state, 0x00}, nil
}

func (l *Lock) GetDeviceSettings(ctx context.Context) (*lock.DeviceSettings, error) {
	if _, err := l.session(); err != nil {
		return nil, err
	}
	return &lock.DeviceSettings{AutoLockEnabled: true, AutoLockDelay: 60, PullSpringEnabled: true, PullSpringDuration: 2}, nil
}

func (l *Lock) GetFirmwareVersion(ctx context.Context) (*lock.FirmwareVersion, error) {
	if _, err := l.session(); err != nil {
		return nil, err
	}
	return &lock.FirmwareVersion{SoftwareVersion: "2.4.0", HardwareVersion: "sim"}, nil
}

func (l *Lock) SetSignedTimeProvider(provider connector.SignedTimeProvider) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeProvider = provider
}

// Close ends the session and stops event delivery. It is safe to call repeatedly.
func (l *Lock) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.connected = false
		l.listener = nil
		l.mu.Unlock()
		close(l.done)
	})
}

// Sent returns the opcodes received by the lock, in order.
func (l *Lock) Sent() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.sent...)
}

// Connects returns the number of accepted connection attempts.
func (l *Lock) Connects() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connects
}

func (l *Lock) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
