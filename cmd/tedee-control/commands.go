package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/lock"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrRequiresSession = errors.New("command requires a connected lock")

	output io.Writer = os.Stdout
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, s *session, args map[string]string) error

type Command struct {
	help string
	// requiresSession is true if the lock must be connected before the handler runs.
	requiresSession bool
	args            []Argument
	optional        []Argument
	handler         Handler
}

// ParseBool accepts the spellings people actually type at a shell prompt.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: expected true or false, got '%s'", ErrCommandLineArgs, value)
	}
	return b, nil
}

// dispatchCommand sends command through the bridge and prints its result.
func dispatchCommand(ctx context.Context, s *session, command string, args bridge.Arguments) error {
	value, err := s.bridge.Dispatch(ctx, command, args).Wait(ctx)
	if err != nil {
		return err
	}
	switch v := value.(type) {
	case nil:
	case lock.CommandResult:
		fmt.Fprintln(output, v.Description)
	case fmt.Stringer:
		fmt.Fprintln(output, v.String())
	default:
		fmt.Fprintln(output, v)
	}
	return nil
}

func simpleCommand(help, command string) *Command {
	return &Command{
		help:            help,
		requiresSession: true,
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			return dispatchCommand(ctx, s, command, nil)
		},
	}
}

func execute(ctx context.Context, s *session, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		if info.requiresSession && s.bridge.State() != lock.Connected {
			err = s.connect(ctx)
		}
		if err == nil {
			err = info.handler(ctx, s, keywords)
		}
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Fprintf(output, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(output, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(output, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(output, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(output, " ]")
	}
	fmt.Fprintf(output, "\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Fprintf(output, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Fprintf(output, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"connect": &Command{
		help: "Open a secure session with the lock, provisioning a certificate if needed",
		optional: []Argument{
			Argument{name: "KEEP", help: "Keep the session open after commands complete (default true)"},
		},
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			if keep, ok := args["KEEP"]; ok {
				v, err := ParseBool(keep)
				if err != nil {
					return err
				}
				s.keepConnection = v
			}
			if s.bridge.State() != lock.Disconnected {
				fmt.Fprintf(output, "Already %s\n", s.bridge.State())
				return nil
			}
			return s.connect(ctx)
		},
	},
	"disconnect": &Command{
		help: "Close the session with the lock",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			return dispatchCommand(ctx, s, bridge.CommandDisconnect, nil)
		},
	},
	"unlock":   simpleCommand("Unlock the door", bridge.CommandOpenLock),
	"lock":     simpleCommand("Lock the door", bridge.CommandCloseLock),
	"pull":     simpleCommand("Pull the spring to open an unlocked door", bridge.CommandPullSpring),
	"state":    simpleCommand("Fetch the lock state", bridge.CommandGetLockState),
	"settings": simpleCommand("Fetch device settings", bridge.CommandGetDeviceSettings),
	"firmware": simpleCommand("Fetch firmware version", bridge.CommandGetFirmwareVersion),
	"signed-time": &Command{
		help: "Fetch a signed timestamp from the API",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			return dispatchCommand(ctx, s, bridge.CommandGetSignedTime, nil)
		},
	},
	"send": &Command{
		help:            "Send a raw single-byte command to the lock",
		requiresSession: true,
		args: []Argument{
			Argument{name: "OPCODE", help: "Command byte in hex, e.g. 0x52"},
		},
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			return dispatchCommand(ctx, s, bridge.CommandSendCustomCommand, bridge.Arguments{"hexCommand": args["OPCODE"]})
		},
	},
	"status": &Command{
		help: "Print the connection state",
		handler: func(ctx context.Context, s *session, args map[string]string) error {
			fmt.Fprintln(output, s.bridge.State())
			return nil
		},
	},
}
