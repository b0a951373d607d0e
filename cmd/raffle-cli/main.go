package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	nodeEndpoint = defaultNodeEndpoint() // Defaults to localhost, can be overridden via RAFFLE_NODE_URL or --node flag
	httpClient   = &http.Client{Timeout: 10 * time.Second}
)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var code int
	switch args[0] {
	case "keys":
		code = runKeysCommand(args[1:], os.Stdout, os.Stderr)
	case "coupon":
		code = runCouponCommand(args[1:], os.Stdout, os.Stderr)
	case "raffle":
		code = runRaffleCommand(args[1:], os.Stdout, os.Stderr)
	case "prize":
		code = runPrizeCommand(args[1:], os.Stdout, os.Stderr)
	case "nonce":
		code = runNonceCommand(args[1:], os.Stdout, os.Stderr)
	case "fees":
		code = runFeesCommand(os.Stdout, os.Stderr)
	case "signers":
		code = runSignersCommand(os.Stdout, os.Stderr)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage(os.Stderr)
		code = 1
	}
	if code != 0 {
		os.Exit(code)
	}
}

func defaultNodeEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RAFFLE_NODE_URL")); v != "" {
		return v
	}
	return "http://localhost:8418"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--node" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --node")
			}
			nodeEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--node=") {
			nodeEndpoint = strings.TrimPrefix(arg, "--node=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

// --- NODE HTTP HELPERS ---

func getJSON(path string) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodGet, nodeEndpoint+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	return doNodeRequest(req)
}

func postJSON(path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, nodeEndpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return doNodeRequest(req)
}

func doNodeRequest(req *http.Request) (json.RawMessage, error) {
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from node: %w", err)
	}
	if resp.StatusCode >= 400 {
		detail := strings.TrimSpace(string(body))
		if detail == "" {
			detail = resp.Status
		}
		return nil, fmt.Errorf("node error (%d): %s", resp.StatusCode, detail)
	}
	return json.RawMessage(body), nil
}

func printJSON(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Fprintln(w, strings.TrimSpace(string(result)))
		return
	}
	fmt.Fprintln(w, buf.String())
}

func printCommandError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, strings.TrimSpace(`Usage:
  raffle-cli [--node <url>] <command> [arguments]

The node URL defaults to http://localhost:8418 and can also be set via
RAFFLE_NODE_URL. Keystore passphrases are read from RAFFLE_CLI_PASSPHRASE
when set, otherwise prompted on the terminal.

Commands:
  keys     Keystore management (new, import, show, list)
  coupon   Offline price coupon signing and verification
  raffle   Raffle inspection and ticket purchases (get, winner, participant, buy)
  prize    Prize custody inspection (get)
  nonce    Show a buyer's next coupon nonce: nonce <address>
  fees     Show controller fee balances and the pot
  signers  List trusted coupon signers`))
}
