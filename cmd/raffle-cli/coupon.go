package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"rafflenet/crypto"
	"rafflenet/native/ticket"
)

var couponNow = time.Now

// signedCoupon is the sign output. Its field names line up with the node's
// ticket purchase payload so the JSON can be posted back unchanged.
type signedCoupon struct {
	Buyer     string `json:"buyer"`
	RaffleID  uint64 `json:"raffle_id"`
	Nonce     uint64 `json:"nonce"`
	Count     uint32 `json:"count"`
	Value     string `json:"value"`
	Expiry    int64  `json:"expiry"`
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

func runCouponCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, couponUsage())
		return 1
	}

	switch args[0] {
	case "sign":
		return runCouponSign(args[1:], stdout, stderr)
	case "verify":
		return runCouponVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown coupon subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, couponUsage())
		return 1
	}
}

func runCouponSign(args []string, stdout, stderr io.Writer) int {
	fs := newCouponFlagSet("coupon sign", stderr)
	var (
		keyFile  string
		buyer    string
		raffleID uint64
		count    uint
		value    string
		expiry   string
		nonceRaw string
	)
	fs.StringVar(&keyFile, "key", "raffle.keystore", "signer keystore file")
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.Uint64Var(&raffleID, "raffle", 0, "raffle identifier")
	fs.UintVar(&count, "count", 0, "ticket count the coupon prices")
	fs.StringVar(&value, "value", "", "total price in wei")
	fs.StringVar(&expiry, "expiry", "+10m", "expiry as +duration, RFC3339 timestamp or unix seconds")
	fs.StringVar(&nonceRaw, "nonce", "", "coupon nonce (fetched from the node when omitted)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if buyer == "" {
		return printCommandError(stderr, "--buyer is required")
	}
	buyerAddr, err := crypto.DecodeAddress(buyer)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("invalid buyer address: %v", err))
	}
	if raffleID == 0 {
		return printCommandError(stderr, "--raffle is required")
	}
	if count == 0 || count > uint(^uint32(0)) {
		return printCommandError(stderr, "--count must be between 1 and 4294967295")
	}
	if strings.TrimSpace(value) == "" {
		return printCommandError(stderr, "--value is required")
	}
	valueWei, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return printCommandError(stderr, "--value must be a decimal wei amount")
	}
	expiryUnix, err := parseExpiry(expiry, couponNow())
	if err != nil {
		return printCommandError(stderr, err.Error())
	}

	var nonce uint64
	if strings.TrimSpace(nonceRaw) != "" {
		nonce, err = strconv.ParseUint(strings.TrimSpace(nonceRaw), 10, 64)
		if err != nil {
			return printCommandError(stderr, "--nonce must be an unsigned integer")
		}
	} else {
		nonce, err = fetchBuyerNonce(buyerAddr.String())
		if err != nil {
			return printCommandError(stderr, err.Error())
		}
	}

	key, err := loadKeystoreKey(keyFile)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}

	coupon := ticket.Coupon{
		Buyer:    buyerAddr.Bytes20(),
		Nonce:    nonce,
		RaffleID: raffleID,
		Count:    uint32(count),
		Expiry:   expiryUnix,
		Value:    valueWei,
	}
	sig, err := coupon.Sign(key)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("sign coupon: %v", err))
	}

	out := signedCoupon{
		Buyer:     buyerAddr.String(),
		RaffleID:  raffleID,
		Nonce:     nonce,
		Count:     uint32(count),
		Value:     strconv.FormatUint(valueWei, 10),
		Expiry:    expiryUnix,
		Signature: "0x" + hex.EncodeToString(sig),
		Signer:    key.PubKey().Address().String(),
	}
	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("encode coupon: %v", err))
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}

func runCouponVerify(args []string, stdout, stderr io.Writer) int {
	fs := newCouponFlagSet("coupon verify", stderr)
	var (
		buyer     string
		raffleID  uint64
		nonce     uint64
		count     uint
		value     string
		expiry    int64
		signature string
	)
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.Uint64Var(&raffleID, "raffle", 0, "raffle identifier")
	fs.Uint64Var(&nonce, "nonce", 0, "coupon nonce")
	fs.UintVar(&count, "count", 0, "ticket count the coupon prices")
	fs.StringVar(&value, "value", "", "total price in wei")
	fs.Int64Var(&expiry, "expiry", 0, "expiry in unix seconds")
	fs.StringVar(&signature, "signature", "", "65-byte signature as 0x hex")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	if buyer == "" {
		return printCommandError(stderr, "--buyer is required")
	}
	buyerAddr, err := crypto.DecodeAddress(buyer)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("invalid buyer address: %v", err))
	}
	if raffleID == 0 {
		return printCommandError(stderr, "--raffle is required")
	}
	if count == 0 || count > uint(^uint32(0)) {
		return printCommandError(stderr, "--count must be between 1 and 4294967295")
	}
	valueWei, err := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return printCommandError(stderr, "--value must be a decimal wei amount")
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil {
		return printCommandError(stderr, "--signature must be hex")
	}

	coupon := ticket.Coupon{
		Buyer:    buyerAddr.Bytes20(),
		Nonce:    nonce,
		RaffleID: raffleID,
		Count:    uint32(count),
		Expiry:   expiry,
		Value:    valueWei,
	}
	recovered, err := coupon.RecoverSigner(sig)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("recover signer: %v", err))
	}
	digest := coupon.Digest()
	fmt.Fprintf(stdout, "Digest: %s\n", hex.EncodeToString(digest[:]))
	fmt.Fprintf(stdout, "Signer: %s\n", crypto.NewAddress(crypto.RafflePrefix, recovered[:]).String())
	return 0
}

// fetchBuyerNonce reads the next coupon nonce the ticket controller expects
// for the buyer.
func fetchBuyerNonce(buyer string) (uint64, error) {
	result, err := getJSON("/api/v1/nonces/" + buyer)
	if err != nil {
		return 0, err
	}
	var view struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &view); err != nil {
		return 0, fmt.Errorf("failed to decode nonce response: %w", err)
	}
	return view.Nonce, nil
}

// parseExpiry accepts +duration offsets, RFC3339 timestamps or raw unix
// seconds.
func parseExpiry(raw string, now time.Time) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("--expiry is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		d, err := time.ParseDuration(strings.TrimPrefix(trimmed, "+"))
		if err != nil {
			return 0, fmt.Errorf("invalid expiry duration: %v", err)
		}
		if d <= 0 {
			return 0, fmt.Errorf("expiry duration must be positive")
		}
		return now.Add(d).Unix(), nil
	}
	if unix, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return unix, nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return 0, fmt.Errorf("expiry must be +duration, RFC3339 or unix seconds")
	}
	return ts.Unix(), nil
}

func newCouponFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, couponUsage())
	}
	return fs
}

func couponUsage() string {
	return strings.TrimSpace(`Usage:
  raffle-cli coupon <command> [flags]

Commands:
  sign    Sign a price coupon offline (--key, --buyer, --raffle, --count,
          --value, --expiry, optional --nonce; the nonce is fetched from the
          node when omitted)
  verify  Recover and print the signer of a coupon tuple`)
}
