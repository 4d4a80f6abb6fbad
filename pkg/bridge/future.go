package bridge

import (
	"context"
	"sync"

	"github.com/tedee/lock-command/pkg/protocol"
)

// Future holds the eventual outcome of one dispatched command. It resolves exactly once, with
// either a value or a *protocol.Failure.
type Future struct {
	ID      string
	Command string

	done      chan struct{}
	once      sync.Once
	mu        sync.Mutex
	value     interface{}
	failure   *protocol.Failure
	callbacks []func(interface{}, *protocol.Failure)
}

func newFuture(id, command string) *Future {
	return &Future{ID: id, Command: command, done: make(chan struct{})}
}

// resolve completes the future. Only the first call has any effect; it reports whether it won.
func (f *Future) resolve(value interface{}, failure *protocol.Failure) bool {
	resolved := false
	f.once.Do(func() {
		f.mu.Lock()
		f.value = value
		f.failure = failure
		callbacks := f.callbacks
		f.callbacks = nil
		close(f.done)
		f.mu.Unlock()
		for _, cb := range callbacks {
			cb(value, failure)
		}
		resolved = true
	})
	return resolved
}

// Done returns a channel that is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx expires. A failed command is returned as a
// *protocol.Failure error.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	value, failure := f.Result()
	if failure != nil {
		return nil, failure
	}
	return value, nil
}

// Result returns the outcome without blocking. Both values are nil until the future resolves.
func (f *Future) Result() (interface{}, *protocol.Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.failure
}

// OnComplete registers cb to run once the future resolves. Callbacks registered before
// resolution run on the goroutine that resolves the future; the bridge resolves asynchronous
// commands on its host loop. If the future is already resolved cb runs immediately.
func (f *Future) OnComplete(cb func(value interface{}, failure *protocol.Failure)) {
	f.mu.Lock()
	select {
	case <-f.done:
		value, failure := f.value, f.failure
		f.mu.Unlock()
		cb(value, failure)
		return
	default:
	}
	f.callbacks = append(f.callbacks, cb)
	f.mu.Unlock()
}
