package main

import (
	"context"
	"fmt"

	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// session pairs a bridge with the lock it talks to.
type session struct {
	bridge         *bridge.Bridge
	identity       lock.Identity
	keepConnection bool
	printEvents    bool
}

func (s *session) HandleEvent(event bridge.HostEvent) {
	if s.printEvents {
		fmt.Fprintf(output, "[%s] %s\n", event.Kind, event.Description)
	}
}

// connect dispatches a connect and waits until the session is usable or the lock reports a
// failure.
func (s *session) connect(ctx context.Context) error {
	outcome := make(chan bridge.HostEvent, 1)
	remove := s.bridge.AddSink(bridge.SinkFunc(func(event bridge.HostEvent) {
		if event.Usable || event.Reset {
			select {
			case outcome <- event:
			default:
			}
		}
	}))
	defer remove()

	args := bridge.Arguments{
		"serialNumber":   s.identity.SerialNumber,
		"deviceId":       s.identity.DeviceID,
		"name":           s.identity.Name,
		"keepConnection": s.keepConnection,
	}
	if _, err := s.bridge.Dispatch(ctx, bridge.CommandConnect, args).Wait(ctx); err != nil {
		return err
	}
	select {
	case event := <-outcome:
		if event.Usable {
			return nil
		}
		if event.Kind == bridge.KindResetRequired {
			return protocol.DeviceResetRequiredError(nil)
		}
		return protocol.SessionError(fmt.Errorf("connection failed: %s", event.Description))
	case <-ctx.Done():
		return protocol.Timeout(ctx.Err())
	}
}
