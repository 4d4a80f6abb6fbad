// Utility for provisioning lock certificates and managing the API token

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/cli"
	"github.com/tedee/lock-command/pkg/lock"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Commands:
  obtain          Print the certificate for the configured lock, registering the mobile key and
                  fetching a new certificate if none is cached.
  show            Print the cached certificate without contacting the API.
  save-token      Read an API token from stdin (or FILE) and save it in the system keyring under
                  -token-name.`

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [OPTION...] obtain|show|save-token [FILE]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

type credentialReport struct {
	Lock       lock.Identity    `json:"lock"`
	Credential *lock.Credential `json:"credential"`
	Expired    bool             `json:"expired"`
}

func printCredential(w io.Writer, identity lock.Identity, credential *lock.Credential, now time.Time) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(credentialReport{
		Lock:       identity,
		Credential: credential,
		Expired:    credential.Expired(now),
	})
}

// readToken returns the token in r with surrounding whitespace removed.
func readToken(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}
	return token, nil
}

func saveToken(config *cli.Config, args []string) error {
	if config.KeyringTokenName == "" {
		return fmt.Errorf("must provide system keyring name to save token under using -token-name or $%s", cli.EnvTedeeTokenName)
	}
	var r io.Reader = os.Stdin
	switch len(args) {
	case 0:
	case 1:
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	default:
		return fmt.Errorf("too many command-line arguments")
	}
	token, err := readToken(r)
	if err != nil {
		return fmt.Errorf("error reading token: %w", err)
	}
	return config.SaveTokenToKeyring(token)
}

func main() {
	var (
		renew   bool
		timeout time.Duration
	)
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagLock | cli.FlagAccount | cli.FlagPrivateKey | cli.FlagCache)
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	flag.Usage = usage
	flag.BoolVar(&renew, "renew", false, "Provision a new certificate if the cached one has expired")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Timeout for API requests")
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
	if config.Debug {
		log.SetLevel(log.LevelDebug)
	}

	if flag.NArg() < 1 {
		usage()
		return
	}
	command := flag.Arg(0)
	if command == "save-token" {
		if err := saveToken(config, flag.Args()[1:]); err != nil {
			writeErr("Error saving token to keyring: %s", err)
			return
		}
		status = 0
		return
	}
	if flag.NArg() != 1 {
		usage()
		return
	}

	identity, err := config.Identity()
	if err != nil {
		writeErr("Missing lock identity: %s", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var credential *lock.Credential
	switch command {
	case "obtain":
		service, closer, err := config.Provisioner()
		if err != nil {
			writeErr("Error: %s", err)
			return
		}
		defer closer()
		service.RenewExpired = renew
		if credential, err = service.ObtainCredential(ctx, identity); err != nil {
			writeErr("Failed to obtain certificate: %s", err)
			return
		}
	case "show":
		store, closer, err := config.CredentialStore()
		if err != nil {
			writeErr("Error: %s", err)
			return
		}
		defer closer()
		if credential, err = store.Get(ctx, identity); err != nil {
			writeErr("Failed to read cache: %s", err)
			return
		}
		if credential == nil {
			writeErr("No certificate cached for %s", identity)
			return
		}
	default:
		writeErr("Unrecognized command: %s", command)
		usage()
		return
	}

	if err := printCredential(os.Stdout, identity, credential, time.Now()); err != nil {
		writeErr("Error: %s", err)
		return
	}
	status = 0
}
