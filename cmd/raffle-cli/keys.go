package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"strings"

	"rafflenet/cmd/internal/passphrase"
	"rafflenet/crypto"
)

const passphraseEnvVar = "RAFFLE_CLI_PASSPHRASE"

func runKeysCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, keysUsage())
		return 1
	}

	switch args[0] {
	case "new":
		return runKeysNew(args[1:], stdout, stderr)
	case "import":
		return runKeysImport(args[1:], stdout, stderr)
	case "show":
		return runKeysShow(args[1:], stdout, stderr)
	case "list":
		return runKeysList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown keys subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, keysUsage())
		return 1
	}
}

func runKeysNew(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys new", stderr)
	var out string
	fs.StringVar(&out, "out", "raffle.keystore", "path for the new keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}

	secret, err := passphrase.NewSource(passphraseEnvVar).GetConfirmed()
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("generate key: %v", err))
	}
	if err := crypto.SaveToKeystore(out, key, secret); err != nil {
		return printCommandError(stderr, fmt.Sprintf("save keystore: %v", err))
	}
	printKeyDetails(stdout, out, key)
	fmt.Fprintln(stdout, "Store this file and its passphrase securely; the key cannot be recovered without both.")
	return 0
}

func runKeysImport(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys import", stderr)
	var (
		keyHex string
		out    string
	)
	fs.StringVar(&keyHex, "hex", "", "raw private key as hex")
	fs.StringVar(&out, "out", "raffle.keystore", "path for the keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if strings.TrimSpace(keyHex) == "" {
		return printCommandError(stderr, "--hex is required")
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("decode key hex: %v", err))
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("parse key: %v", err))
	}
	secret, err := passphrase.NewSource(passphraseEnvVar).GetConfirmed()
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	if err := crypto.SaveToKeystore(out, key, secret); err != nil {
		return printCommandError(stderr, fmt.Sprintf("save keystore: %v", err))
	}
	printKeyDetails(stdout, out, key)
	return 0
}

func runKeysShow(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys show", stderr)
	var file string
	fs.StringVar(&file, "file", "raffle.keystore", "keystore file to inspect")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}

	key, err := loadKeystoreKey(file)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printKeyDetails(stdout, file, key)
	return 0
}

func runKeysList(args []string, stdout, stderr io.Writer) int {
	fs := newKeysFlagSet("keys list", stderr)
	var dir string
	fs.StringVar(&dir, "dir", ".", "directory to scan for keystore files")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}

	names, err := crypto.ListKeystore(dir)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("list keystores: %v", err))
	}
	if len(names) == 0 {
		fmt.Fprintln(stdout, "No keystore files found.")
		return 0
	}
	for _, name := range names {
		fmt.Fprintln(stdout, name)
	}
	return 0
}

// loadKeystoreKey decrypts a keystore file with the shared passphrase source.
func loadKeystoreKey(path string) (*crypto.PrivateKey, error) {
	secret, err := passphrase.NewSource(passphraseEnvVar).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, secret)
	if err != nil {
		return nil, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, nil
}

func printKeyDetails(w io.Writer, path string, key *crypto.PrivateKey) {
	account := key.PubKey().Address()
	signer := crypto.NewAddress(crypto.SignerPrefix, account.Bytes())
	fmt.Fprintf(w, "Keystore: %s\n", path)
	fmt.Fprintf(w, "Account:  %s\n", account.String())
	fmt.Fprintf(w, "Signer:   %s\n", signer.String())
}

func newKeysFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, keysUsage())
	}
	return fs
}

func keysUsage() string {
	return strings.TrimSpace(`Usage:
  raffle-cli keys <command> [flags]

Commands:
  new     Generate a key into a passphrase-encrypted keystore (--out)
  import  Import a raw hex key into a keystore (--hex, --out)
  show    Decrypt a keystore and print its addresses (--file)
  list    List keystore files in a directory (--dir)`)
}
