package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tedee/lock-command/pkg/connector"
	"github.com/tedee/lock-command/pkg/lock"
)

// fakeConnector records calls and lets tests drive listener callbacks directly.
type fakeConnector struct {
	mu           sync.Mutex
	listener     connector.Listener
	connectCalls []lock.Identity
	keepFlags    []bool
	sent         []byte
	disconnects  int
	closes       int
	timeProvider connector.SignedTimeProvider

	connectErr error
	sendErr    error
	sendPanic  interface{}
	response   []byte
	block      chan struct{}
}

func (f *fakeConnector) Connect(ctx context.Context, identity lock.Identity, credential *lock.Credential, keepConnection bool, listener connector.Listener) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connectCalls = append(f.connectCalls, identity)
	f.keepFlags = append(f.keepFlags, keepConnection)
	f.listener = listener
	return nil
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeConnector) SendCommand(ctx context.Context, opcode byte, params []byte) ([]byte, error) {
	f.mu.Lock()
	block := f.block
	f.sent = append(f.sent, opcode)
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendPanic != nil {
		panic(f.sendPanic)
	}
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.response != nil {
		return f.response, nil
	}
	return []byte{opcode, 0x00}, nil
}

func (f *fakeConnector) GetLockState(ctx context.Context) ([]byte, error) {
	return []byte{0x5A, 0x00, 0x06, 0x00}, nil
}

func (f *fakeConnector) GetDeviceSettings(ctx context.Context) (*lock.DeviceSettings, error) {
	return &lock.DeviceSettings{AutoLockEnabled: true}, nil
}

func (f *fakeConnector) GetFirmwareVersion(ctx context.Context) (*lock.FirmwareVersion, error) {
	return nil, nil
}

func (f *fakeConnector) SetSignedTimeProvider(provider connector.SignedTimeProvider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeProvider = provider
}

func (f *fakeConnector) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
}

func (f *fakeConnector) emit(t *testing.T, fn func(connector.Listener)) {
	t.Helper()
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	if l == nil {
		t.Fatal("no listener registered")
	}
	fn(l)
}

func (f *fakeConnector) sentOpcodes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.sent...)
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProvisioner) ObtainCredential(ctx context.Context, identity lock.Identity) (*lock.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &lock.Credential{Certificate: []byte("c"), DevicePublicKey: []byte("d"), MobilePublicKey: []byte("m")}, nil
}

type fakeSignedTime struct{}

func (fakeSignedTime) SignedTime(ctx context.Context) (*lock.SignedTime, error) {
	return &lock.SignedTime{Datetime: "2024-01-01T00:00:00Z", Signature: "sig"}, nil
}

// eventRecorder is a Sink that lets tests wait for events.
type eventRecorder struct {
	events chan HostEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan HostEvent, 64)}
}

func (r *eventRecorder) HandleEvent(event HostEvent) {
	r.events <- event
}

func (r *eventRecorder) next(t *testing.T) HostEvent {
	t.Helper()
	select {
	case e := <-r.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for host event")
	}
	return HostEvent{}
}

func (r *eventRecorder) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-r.events:
		t.Fatalf("unexpected host event %+v", e)
	case <-time.After(20 * time.Millisecond):
	}
}
