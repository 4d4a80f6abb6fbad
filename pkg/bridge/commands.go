package bridge

import (
	"context"

	"github.com/tedee/lock-command/pkg/lock"
	"github.com/tedee/lock-command/pkg/protocol"
)

// Command names accepted by Dispatch.
const (
	CommandConnect            = "connect"
	CommandDisconnect         = "disconnect"
	CommandOpenLock           = "openLock"
	CommandCloseLock          = "closeLock"
	CommandPullSpring         = "pullSpring"
	CommandGetLockState       = "getLockState"
	CommandGetDeviceSettings  = "getDeviceSettings"
	CommandGetFirmwareVersion = "getFirmwareVersion"
	CommandGetSignedTime      = "getSignedTime"
	CommandSendCustomCommand  = "sendCustomCommand"
)

// Failure codes for generic session errors, per command.
var failureCodes = map[string]string{
	CommandConnect:            "CONNECT_FAILED",
	CommandDisconnect:         "DISCONNECT_FAILED",
	CommandOpenLock:           "OPEN_FAILED",
	CommandCloseLock:          "CLOSE_FAILED",
	CommandPullSpring:         "PULL_FAILED",
	CommandGetLockState:       "GET_STATE_FAILED",
	CommandGetDeviceSettings:  "GET_SETTINGS_FAILED",
	CommandGetFirmwareVersion: "GET_FIRMWARE_FAILED",
	CommandGetSignedTime:      "GET_SIGNED_TIME_FAILED",
	CommandSendCustomCommand:  "SEND_COMMAND_FAILED",
}

// Commands lists every supported command name.
func Commands() []string {
	return []string{
		CommandConnect, CommandDisconnect, CommandOpenLock, CommandCloseLock, CommandPullSpring,
		CommandGetLockState, CommandGetDeviceSettings, CommandGetFirmwareVersion,
		CommandGetSignedTime, CommandSendCustomCommand,
	}
}

// action runs on the bridge's worker goroutine.
type action func(ctx context.Context) (interface{}, error)

// extractAction validates args and returns the work for command. Validation failures are
// returned immediately so they never reach the worker.
func (b *Bridge) extractAction(command string, args Arguments) (action, error) {
	switch command {
	case CommandConnect:
		return b.connectAction(args)
	case CommandDisconnect:
		return func(ctx context.Context) (interface{}, error) {
			b.conn.Disconnect()
			// An attempt the session gave up on silently must not block the next connect.
			b.endAttempt()
			return nil, nil
		}, nil
	case CommandOpenLock:
		return b.rawCommand(protocol.OpcodeUnlock), nil
	case CommandCloseLock:
		return b.rawCommand(protocol.OpcodeLock), nil
	case CommandPullSpring:
		return b.rawCommand(protocol.OpcodePullSpring), nil
	case CommandGetLockState:
		return func(ctx context.Context) (interface{}, error) {
			rsp, err := b.conn.GetLockState(ctx)
			if err != nil {
				return nil, err
			}
			return describe(rsp), nil
		}, nil
	case CommandGetDeviceSettings:
		return func(ctx context.Context) (interface{}, error) {
			settings, err := b.conn.GetDeviceSettings(ctx)
			if err != nil {
				return nil, err
			}
			if settings == nil {
				return noResponse, nil
			}
			return settings.String(), nil
		}, nil
	case CommandGetFirmwareVersion:
		return func(ctx context.Context) (interface{}, error) {
			version, err := b.conn.GetFirmwareVersion(ctx)
			if err != nil {
				return nil, err
			}
			if version == nil {
				return noResponse, nil
			}
			return version.String(), nil
		}, nil
	case CommandGetSignedTime:
		if b.signedTime == nil {
			return nil, protocol.NewFailure(protocol.CodeNotImplemented, "no signed time provider configured")
		}
		return func(ctx context.Context) (interface{}, error) {
			st, err := b.signedTime.SignedTime(ctx)
			if err != nil {
				return nil, err
			}
			return st.String(), nil
		}, nil
	case CommandSendCustomCommand:
		hex, err := args.getString("hexCommand", true)
		if err != nil {
			return nil, err
		}
		opcode, err := protocol.ParseOpcode(hex)
		if err != nil {
			return nil, err
		}
		return b.rawCommand(opcode), nil
	}
	return nil, protocol.NewFailure(protocol.CodeNotImplemented, "command %s not implemented", command)
}

const noResponse = "No response"

func describe(rsp []byte) lock.CommandResult {
	return lock.CommandResult{Raw: rsp, Description: protocol.DescribeResult(rsp)}
}

// rawCommand sends opcode as a single-byte command. Arguments are ignored.
func (b *Bridge) rawCommand(opcode byte) action {
	return func(ctx context.Context) (interface{}, error) {
		rsp, err := b.conn.SendCommand(ctx, opcode, nil)
		if err != nil {
			return nil, protocol.Timeout(err)
		}
		return describe(rsp), nil
	}
}

func (b *Bridge) connectAction(args Arguments) (action, error) {
	var identity lock.Identity
	var err error
	if identity.SerialNumber, err = args.getString("serialNumber", true); err != nil {
		return nil, err
	}
	if identity.DeviceID, err = args.getString("deviceId", true); err != nil {
		return nil, err
	}
	if identity.Name, err = args.getString("name", true); err != nil {
		return nil, err
	}
	if err = identity.Validate(); err != nil {
		return nil, protocol.InvalidArgument("%w", err)
	}
	keepConnection, err := args.getBool("keepConnection", true)
	if err != nil {
		return nil, err
	}
	if err := b.beginAttempt(); err != nil {
		return nil, err
	}
	return func(ctx context.Context) (interface{}, error) {
		credential, err := b.provisioner.ObtainCredential(ctx, identity)
		if err != nil {
			b.endAttempt()
			return nil, err
		}
		if err := b.conn.Connect(ctx, identity, credential, keepConnection, b.machine.Listener()); err != nil {
			b.endAttempt()
			return nil, err
		}
		return true, nil
	}, nil
}
