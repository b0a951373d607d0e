package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"rafflenet/crypto"
)

func runRaffleCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, raffleUsage())
		return 1
	}

	switch args[0] {
	case "get":
		return runRaffleGet(args[1:], stdout, stderr)
	case "winner":
		return runRaffleWinner(args[1:], stdout, stderr)
	case "participant":
		return runRaffleParticipant(args[1:], stdout, stderr)
	case "buy":
		return runRaffleBuy(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown raffle subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, raffleUsage())
		return 1
	}
}

func runRaffleGet(args []string, stdout, stderr io.Writer) int {
	fs := newInspectFlagSet("raffle get", raffleUsage(), stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "raffle identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCommandError(stderr, "--id is required")
	}
	result, err := getJSON(fmt.Sprintf("/api/v1/raffles/%d", id))
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runRaffleWinner(args []string, stdout, stderr io.Writer) int {
	fs := newInspectFlagSet("raffle winner", raffleUsage(), stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "raffle identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCommandError(stderr, "--id is required")
	}
	result, err := getJSON(fmt.Sprintf("/api/v1/raffles/%d/winner", id))
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runRaffleParticipant(args []string, stdout, stderr io.Writer) int {
	fs := newInspectFlagSet("raffle participant", raffleUsage(), stderr)
	var (
		id      uint64
		address string
	)
	fs.Uint64Var(&id, "id", 0, "raffle identifier")
	fs.StringVar(&address, "address", "", "player bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCommandError(stderr, "--id is required")
	}
	player, err := crypto.DecodeAddress(address)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("invalid player address: %v", err))
	}
	result, err := getJSON(fmt.Sprintf("/api/v1/raffles/%d/participants/%s", id, player.String()))
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

// runRaffleBuy submits a signed coupon to the node's public purchase
// endpoint. The coupon file is the JSON emitted by `coupon sign`.
func runRaffleBuy(args []string, stdout, stderr io.Writer) int {
	fs := newInspectFlagSet("raffle buy", raffleUsage(), stderr)
	var couponFile string
	fs.StringVar(&couponFile, "coupon", "", "signed coupon file from `raffle-cli coupon sign`")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(couponFile) == "" {
		return printCommandError(stderr, "--coupon is required")
	}

	raw, err := os.ReadFile(couponFile)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("read coupon file: %v", err))
	}
	var coupon signedCoupon
	if err := json.Unmarshal(raw, &coupon); err != nil {
		return printCommandError(stderr, fmt.Sprintf("parse coupon file: %v", err))
	}
	if coupon.Signature == "" {
		return printCommandError(stderr, "coupon file is missing a signature")
	}

	result, err := postJSON("/api/v1/tickets/buy", map[string]any{
		"buyer":     coupon.Buyer,
		"raffle_id": coupon.RaffleID,
		"count":     coupon.Count,
		"value":     coupon.Value,
		"expiry":    coupon.Expiry,
		"signature": coupon.Signature,
	})
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runPrizeCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, prizeUsage())
		return 1
	}
	if args[0] != "get" {
		fmt.Fprintf(stderr, "Unknown prize subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, prizeUsage())
		return 1
	}

	fs := newInspectFlagSet("prize get", prizeUsage(), stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "raffle identifier")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if id == 0 {
		return printCommandError(stderr, "--id is required")
	}
	result, err := getJSON(fmt.Sprintf("/api/v1/prizes/%d", id))
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runNonceCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return printCommandError(stderr, "usage: raffle-cli nonce <address>")
	}
	buyer, err := crypto.DecodeAddress(args[0])
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("invalid address: %v", err))
	}
	result, err := getJSON("/api/v1/nonces/" + buyer.String())
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runFeesCommand(stdout, stderr io.Writer) int {
	result, err := getJSON("/api/v1/fees")
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func runSignersCommand(stdout, stderr io.Writer) int {
	result, err := getJSON("/api/v1/signers")
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	printJSON(stdout, result)
	return 0
}

func newInspectFlagSet(name, usage string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage)
	}
	return fs
}

func raffleUsage() string {
	return strings.TrimSpace(`Usage:
  raffle-cli raffle <command> [flags]

Commands:
  get          Fetch raffle state by id (--id)
  winner       Fetch the drawn winner (--id)
  participant  Fetch a player's participation (--id, --address)
  buy          Submit a signed coupon to the node (--coupon <file>)`)
}

func prizeUsage() string {
	return strings.TrimSpace(`Usage:
  raffle-cli prize get --id <raffleId>`)
}
