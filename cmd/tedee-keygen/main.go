// Utility for generating, exporting, and migrating the mobile key

package main

import (
	"context"
	"crypto/ecdh"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tedee/lock-command/internal/log"
	"github.com/tedee/lock-command/pkg/cli"
	"github.com/tedee/lock-command/pkg/keys"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usageText = `
Creates, exports, or deletes the mobile key used to register with the Tedee API, or migrates a
key from a plaintext file into the system keyring.

The program writes the public key to stdout (except when deleting or exporting a key). The create
option prints the existing public key unless invoked with -f, in which case a new key replaces it.

The key location is controlled by the command-line options below, or through the corresponding
environment variables.`

func cliUsage() {
	usage(flag.CommandLine.Output())
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "usage: %s [OPTION...] create|delete|export|migrate\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, usageText)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "OPTIONS:")
	flag.PrintDefaults()
}

func printPublicKey(w io.Writer, key cli.MobileKey) error {
	der, err := key.MobilePublicKey(context.Background())
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

type keySaver interface {
	Save(skey *ecdh.PrivateKey) error
}

// migrate copies the key in filename into key.
func migrate(filename string, key cli.MobileKey) error {
	saver, ok := key.(keySaver)
	if !ok {
		return errors.New("destination does not accept imported keys")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	skey, err := keys.DecodePEM(data)
	if err != nil {
		return err
	}
	return saver.Save(skey)
}

func main() {
	var overwrite bool
	status := 1
	defer func() {
		os.Exit(status)
	}()

	config, err := cli.NewConfig(cli.FlagPrivateKey)
	if err != nil {
		writeErr("Failed to load credential configuration: %s", err)
		return
	}
	config.RegisterCommandLineFlags()
	flag.Usage = cliUsage
	flag.BoolVar(&overwrite, "f", false, "Overwrite existing key if it exists")
	flag.Parse()
	config.ReadFromEnvironment()
	if config.Debug {
		log.SetLevel(log.LevelDebug)
	}

	if flag.NArg() != 1 {
		usage(os.Stderr)
		return
	}

	var key cli.MobileKey
	switch flag.Arg(0) {
	case "migrate":
		if config.KeyFilename == "" || config.KeyringKeyName == "" {
			writeErr("Must provide path of existing key (-key-file) and name of new key (-key-name)")
			return
		}
		filename := config.KeyFilename
		config.KeyFilename = "" // Select the keyring as the destination
		if key, err = config.MobileKey(); err == nil {
			err = migrate(filename, key)
		}
		if err != nil {
			writeErr("Failed to migrate key: %s", err)
			return
		}
	case "delete":
		if key, err = config.MobileKey(); err == nil {
			err = key.Delete()
		}
		if err != nil {
			writeErr("Failed to delete key: %s", err)
		} else {
			status = 0
		}
		return
	case "create":
		if key, err = config.MobileKey(); err != nil {
			writeErr("Failed to load key: %s", err)
			return
		}
		if overwrite {
			if err = key.Delete(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				log.Debug("Could not remove old key: %s", err)
			}
		}
	case "export":
		var encoded []byte
		if key, err = config.MobileKey(); err == nil {
			encoded, err = key.PrivateKeyPEM()
		}
		if err != nil {
			writeErr("Failed to export private key: %s", err)
			return
		}
		os.Stdout.Write(encoded)
		status = 0
		return
	default:
		writeErr("Unrecognized command-line argument.")
		writeErr("")
		usage(os.Stderr)
		return
	}

	if err := printPublicKey(os.Stdout, key); err != nil {
		writeErr("Failed to extract public key. Run with -f to generate new key pair: %s", err)
		return
	}
	status = 0
}
