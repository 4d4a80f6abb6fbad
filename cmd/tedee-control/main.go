package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/bridge"
	"github.com/tedee/lock-command/pkg/cli"
	"github.com/tedee/lock-command/pkg/protocol"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Lock commands require the lock's serial number, device ID and name.
 * The first connection to a lock requires a mobile key and an API token to provision a
   certificate. Later connections use the credential cache.
 * Without a COMMAND, an interactive shell is started.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(s *session, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, s, args); err != nil {
		var failure *protocol.Failure
		isFailure := errors.As(err, &failure)
		if protocol.MayHaveSucceeded(err) {
			writeErr("Couldn't verify success: %s", err)
		} else if errors.Is(err, protocol.ErrDeviceResetRequired) || (isFailure && failure.Code == protocol.CodeDeviceResetRequired) {
			writeErr("The lock must be factory reset before it accepts new sessions")
		} else if isFailure && failure.Code == protocol.CodeProvisioning {
			writeErr("Could not provision a certificate: %s\nCheck -token-file/-token-name and -key-file/-key-name.", failure.Message)
		} else {
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(s *session, timeout time.Duration) int {
	s.printEvents = true
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			if len(args) > 1 {
				if info, ok := commands[args[1]]; ok {
					info.Usage(args[1])
					continue
				}
			}
			Usage()
			continue
		}
		runCommand(s, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		debug          bool
		keepConnection bool
		commandTimeout time.Duration
		connTimeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAll)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}
	flag.Usage = Usage
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.BoolVar(&keepConnection, "keep-connection", true, "Ask the lock to keep the session open between commands")
	flag.DurationVar(&commandTimeout, "command-timeout", 10*time.Second, "Set timeout for commands sent to the lock.")
	flag.DurationVar(&connTimeout, "connect-timeout", 30*time.Second, "Set timeout for establishing a session, including provisioning.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	if err := config.LoadConfigFile(); err != nil {
		writeErr("%s", err)
		return
	}
	if err := config.ApplyLogLevel(); err != nil {
		writeErr("%s", err)
		return
	}
	if debug {
		log.SetLevel(log.LevelDebug)
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "help" {
		if len(args) == 1 {
			Usage()
			status = 0
			return
		}
		info, ok := commands[args[1]]
		if !ok {
			writeErr("Unrecognized command: %s", args[1])
			return
		}
		info.Usage(args[1])
		status = 0
		return
	}

	identity, err := config.Identity()
	if err != nil {
		writeErr("Missing lock identity: %s (use -serial, -device-id and -lock-name)", err)
		return
	}

	s := &session{identity: identity, keepConnection: keepConnection}
	b, closer, err := config.Bridge(bridge.WithCommandTimeout(connTimeout), bridge.WithSink(s))
	if err != nil {
		writeErr("Error: %s", err)
		return
	}
	defer closer()
	s.bridge = b

	if len(args) > 0 {
		timeout := commandTimeout
		if commands[args[0]] != nil && (commands[args[0]].requiresSession || args[0] == "connect") {
			timeout += connTimeout
		}
		status = runCommand(s, args, timeout)
	} else {
		status = runInteractiveShell(s, commandTimeout+connTimeout)
	}
}
