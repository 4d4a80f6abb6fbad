// Package bridge turns named host commands into calls on a lock session and turns the session's
// callbacks into host events.
//
// A Bridge owns exactly one connector.Connector. Commands run one at a time on a worker
// goroutine, so connect, disconnect and lock commands never race each other on the session.
// Command results and session events are delivered to the host from a single host loop
// goroutine, in order. Dispatch never blocks; every dispatched command resolves its Future
// exactly once.
//
// Nothing is retried automatically. Callers may use protocol.ShouldRetry to decide whether a
// failed command is worth repeating.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/connector"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

const (
	DefaultQueueSize      = 16
	DefaultCommandTimeout = 30 * time.Second
	hostQueueSize         = 256
)

// Provisioner supplies credentials for connect.
type Provisioner interface {
	ObtainCredential(ctx context.Context, identity lock.Identity) (*lock.Credential, error)
}

type Option func(*Bridge)

// WithQueueSize sets how many commands may wait for the worker before Dispatch reports BUSY.
func WithQueueSize(n int) Option {
	return func(b *Bridge) { b.queueSize = n }
}

// WithCommandTimeout bounds how long each command may run on the session.
func WithCommandTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// WithSink registers a sink for host events.
func WithSink(sink Sink) Option {
	return func(b *Bridge) { b.sinks = append(b.sinks, &sinkEntry{sink: sink}) }
}

// WithSignedTimeProvider enables getSignedTime and hands provider to the session, which needs
// signed time to set the lock's clock.
func WithSignedTimeProvider(provider connector.SignedTimeProvider) Option {
	return func(b *Bridge) { b.signedTime = provider }
}

// sinkEntry gives each registered sink an identity, since Sink values such as SinkFunc are not
// comparable.
type sinkEntry struct {
	sink Sink
}

type job struct {
	future *Future
	run    action
	code   string
	ctx    context.Context
}

// Bridge dispatches commands to one lock session.
type Bridge struct {
	conn        connector.Connector
	provisioner Provisioner
	signedTime  connector.SignedTimeProvider
	machine     *StateMachine
	queueSize   int
	timeout     time.Duration

	jobs       chan job
	stop       chan struct{}
	workerDone chan struct{}

	mu     sync.RWMutex
	closed bool

	// pending is set from the moment a connect is accepted until the session reports
	// Disconnected or the attempt fails.
	attemptLock sync.Mutex
	pending     bool

	sinksLock sync.RWMutex
	sinks     []*sinkEntry

	hostLock   sync.RWMutex
	hostClosed bool
	hostQueue  chan func()
	hostDone   chan struct{}

	closeOnce sync.Once
}

// New creates a Bridge that owns conn. Call Close to release it.
func New(conn connector.Connector, provisioner Provisioner, options ...Option) *Bridge {
	b := &Bridge{
		conn:        conn,
		provisioner: provisioner,
		queueSize:   DefaultQueueSize,
		timeout:     DefaultCommandTimeout,
		stop:        make(chan struct{}),
		workerDone:  make(chan struct{}),
		hostQueue:   make(chan func(), hostQueueSize),
		hostDone:    make(chan struct{}),
	}
	for _, option := range options {
		option(b)
	}
	if b.queueSize < 1 {
		b.queueSize = 1
	}
	b.jobs = make(chan job, b.queueSize)
	b.machine = NewStateMachine(b.onStateEvent)
	b.machine.OnSessionDisconnected(b.endAttempt)
	if b.signedTime != nil {
		conn.SetSignedTimeProvider(b.signedTime)
	}
	go b.hostLoop()
	go b.worker()
	return b
}

// AddSink registers an additional event sink. It returns a function that removes it.
func (b *Bridge) AddSink(sink Sink) (remove func()) {
	entry := &sinkEntry{sink: sink}
	b.sinksLock.Lock()
	defer b.sinksLock.Unlock()
	b.sinks = append(b.sinks, entry)
	return func() {
		b.sinksLock.Lock()
		defer b.sinksLock.Unlock()
		for i, s := range b.sinks {
			if s == entry {
				b.sinks = append(b.sinks[:i:i], b.sinks[i+1:]...)
				return
			}
		}
	}
}

// State returns the current connection state.
func (b *Bridge) State() lock.ConnectionState {
	return b.machine.State()
}

// Dispatch queues command for execution and returns immediately. Commands rejected before
// reaching the session (bad arguments, unknown command, full queue, closed bridge, connect while
// already connected) resolve before Dispatch returns.
func (b *Bridge) Dispatch(ctx context.Context, command string, args Arguments) *Future {
	future := newFuture(uuid.NewString(), command)
	log.Debug("[%s] Dispatching %s", future.ID, command)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		future.resolve(nil, protocol.NewFailure(protocol.CodeClosed, "bridge is closed"))
		return future
	}

	code, ok := failureCodes[command]
	if !ok {
		code = protocol.CodeNotImplemented
	}
	run, err := b.extractAction(command, args)
	if err != nil {
		log.Debug("[%s] Rejected %s: %s", future.ID, command, err)
		future.resolve(nil, protocol.ToFailure(err, code))
		return future
	}

	select {
	case b.jobs <- job{future: future, run: run, code: code, ctx: ctx}:
	default:
		if command == CommandConnect {
			b.endAttempt()
		}
		future.resolve(nil, protocol.NewFailure(protocol.CodeBusy, "too many commands in progress"))
	}
	return future
}

// beginAttempt reserves the session for a connect.
func (b *Bridge) beginAttempt() error {
	if state := b.machine.State(); state != lock.Disconnected {
		return protocol.NewFailure(protocol.CodeAlreadyConnected, "lock is %s", state)
	}
	b.attemptLock.Lock()
	defer b.attemptLock.Unlock()
	if b.pending {
		return protocol.NewFailure(protocol.CodeAlreadyConnected, "connection attempt already in progress")
	}
	b.pending = true
	return nil
}

func (b *Bridge) endAttempt() {
	b.attemptLock.Lock()
	b.pending = false
	b.attemptLock.Unlock()
}

func (b *Bridge) worker() {
	defer close(b.workerDone)
	for {
		select {
		case <-b.stop:
			return
		case j := <-b.jobs:
			// Prefer stopping over starting queued work.
			select {
			case <-b.stop:
				b.reject(j)
				return
			default:
			}
			value, failure := b.execute(j)
			b.post(func() { j.future.resolve(value, failure) })
		}
	}
}

func (b *Bridge) execute(j job) (value interface{}, failure *protocol.Failure) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("[%s] %s panicked: %v\n%s", j.future.ID, j.future.Command, r, debug.Stack())
			value = nil
			failure = protocol.NewFailure(protocol.CodeInternal, "%s failed: %v", j.future.Command, r)
			if j.future.Command == CommandConnect {
				b.endAttempt()
			}
		}
	}()

	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		if j.future.Command == CommandConnect {
			b.endAttempt()
		}
		return nil, protocol.ToFailure(fmt.Errorf("%s abandoned: %w", j.future.Command, err), j.code)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	value, err := j.run(ctx)
	if err != nil {
		failure = protocol.ToFailure(err, j.code)
		log.Info("[%s] %s failed after %s: %s", j.future.ID, j.future.Command, time.Since(start), failure)
		return nil, failure
	}
	log.Debug("[%s] %s completed in %s", j.future.ID, j.future.Command, time.Since(start))
	return value, nil
}

func (b *Bridge) reject(j job) {
	if j.future.Command == CommandConnect {
		b.endAttempt()
	}
	j.future.resolve(nil, protocol.NewFailure(protocol.CodeClosed, "bridge closed before %s ran", j.future.Command))
}

// onStateEvent runs with the state machine locked, so it must not wait for the host loop: a
// sink may be calling State.
func (b *Bridge) onStateEvent(event HostEvent) {
	if event.Reset {
		b.endAttempt()
	}
	deliver := func() {
		b.sinksLock.RLock()
		sinks := append([]*sinkEntry(nil), b.sinks...)
		b.sinksLock.RUnlock()
		for _, entry := range sinks {
			entry.sink.HandleEvent(event)
		}
	}
	if !b.tryPost(deliver) {
		log.Warning("Host event queue full, dropped %s event: %s", event.Kind, event.Description)
	}
}

// tryPost is post without blocking. It returns false if f was dropped because the queue is full.
func (b *Bridge) tryPost(f func()) bool {
	b.hostLock.RLock()
	defer b.hostLock.RUnlock()
	if b.hostClosed {
		return true
	}
	select {
	case b.hostQueue <- f:
		return true
	default:
		return false
	}
}

// post schedules f on the host loop. After Close, f is dropped.
func (b *Bridge) post(f func()) {
	b.hostLock.RLock()
	defer b.hostLock.RUnlock()
	if b.hostClosed {
		return
	}
	b.hostQueue <- f
}

func (b *Bridge) hostLoop() {
	defer close(b.hostDone)
	for f := range b.hostQueue {
		b.deliver(f)
	}
}

func (b *Bridge) deliver(f func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Host callback panicked: %v", r)
		}
	}()
	f()
}

// Close stops the worker, fails queued commands with BRIDGE_CLOSED, closes the session and
// waits for pending host deliveries. It is safe to call repeatedly and from any goroutine
// other than a sink or Future callback.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.stop)
		<-b.workerDone
		for drained := false; !drained; {
			select {
			case j := <-b.jobs:
				b.reject(j)
			default:
				drained = true
			}
		}

		b.conn.Close()

		b.hostLock.Lock()
		b.hostClosed = true
		close(b.hostQueue)
		b.hostLock.Unlock()
		<-b.hostDone
		log.Debug("Bridge closed")
	})
}
