package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func withStubNode(t *testing.T, handler http.Handler) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	originalEndpoint := nodeEndpoint
	nodeEndpoint = srv.URL
	t.Cleanup(func() { nodeEndpoint = originalEndpoint })
}

func TestRaffleGetPrintsNodeView(t *testing.T) {
	withStubNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/raffles/7" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"raffle_id":7,"status":"idle","ticket_supply":12}`)
	}))

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runRaffleCommand([]string{"get", "--id", "7"}, stdout, stderr); code != 0 {
		t.Fatalf("raffle get failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"status": "idle"`) {
		t.Fatalf("expected indented raffle view, got %s", stdout.String())
	}
}

func TestRaffleGetSurfacesNodeError(t *testing.T) {
	withStubNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ticket: raffle does not exist", http.StatusNotFound)
	}))

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runRaffleCommand([]string{"get", "--id", "99"}, stdout, stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "node error (404): ticket: raffle does not exist") {
		t.Fatalf("unexpected error output: %s", stderr.String())
	}
}

func TestRaffleBuyPostsCouponFile(t *testing.T) {
	buyer := testBuyerAddress(0xAA)
	var gotBody map[string]any
	withStubNode(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/tickets/buy" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"raffle_id":7,"holdings":3,"next_nonce":5}`)
	}))

	couponPath := filepath.Join(t.TempDir(), "coupon.json")
	coupon := signedCoupon{
		Buyer:     buyer,
		RaffleID:  7,
		Nonce:     4,
		Count:     3,
		Value:     "120",
		Expiry:    1_700_003_600,
		Signature: "0x" + strings.Repeat("ab", 65),
		Signer:    testBuyerAddress(0x01),
	}
	raw, err := json.Marshal(coupon)
	if err != nil {
		t.Fatalf("encode coupon fixture: %v", err)
	}
	if err := os.WriteFile(couponPath, raw, 0o600); err != nil {
		t.Fatalf("write coupon fixture: %v", err)
	}

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runRaffleCommand([]string{"buy", "--coupon", couponPath}, stdout, stderr); code != 0 {
		t.Fatalf("raffle buy failed (%d): %s", code, stderr.String())
	}
	if gotBody["buyer"] != buyer || gotBody["value"] != "120" {
		t.Fatalf("unexpected request body: %v", gotBody)
	}
	if gotBody["signature"] != coupon.Signature {
		t.Fatalf("signature not forwarded: %v", gotBody["signature"])
	}
	if !strings.Contains(stdout.String(), `"holdings": 3`) {
		t.Fatalf("expected purchase summary, got %s", stdout.String())
	}
}

func TestRaffleBuyRequiresSignature(t *testing.T) {
	couponPath := filepath.Join(t.TempDir(), "unsigned.json")
	if err := os.WriteFile(couponPath, []byte(`{"buyer":"rfl1","raffle_id":7}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	stderr := &bytes.Buffer{}
	if code := runRaffleCommand([]string{"buy", "--coupon", couponPath}, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "missing a signature") {
		t.Fatalf("unexpected error: %s", stderr.String())
	}
}

func TestViewCommands(t *testing.T) {
	buyer := testBuyerAddress(0xDD)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/nonces/"+buyer, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"address":%q,"nonce":6}`, buyer)
	})
	mux.HandleFunc("/api/v1/fees", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"prize_fees":"500","ticket_fees":"250","pot":"120"}`)
	})
	mux.HandleFunc("/api/v1/signers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"signers":[%q]}`, testBuyerAddress(0x01))
	})
	mux.HandleFunc("/api/v1/prizes/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"raffle_id":7,"kind":"eth","amount":"400","claimed":false}`)
	})
	withStubNode(t, mux)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	if code := runNonceCommand([]string{buyer}, stdout, stderr); code != 0 {
		t.Fatalf("nonce failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"nonce": 6`) {
		t.Fatalf("unexpected nonce output: %s", stdout.String())
	}

	stdout.Reset()
	if code := runFeesCommand(stdout, stderr); code != 0 {
		t.Fatalf("fees failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"pot": "120"`) {
		t.Fatalf("unexpected fees output: %s", stdout.String())
	}

	stdout.Reset()
	if code := runSignersCommand(stdout, stderr); code != 0 {
		t.Fatalf("signers failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "signers") {
		t.Fatalf("unexpected signers output: %s", stdout.String())
	}

	stdout.Reset()
	if code := runPrizeCommand([]string{"get", "--id", "7"}, stdout, stderr); code != 0 {
		t.Fatalf("prize get failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `"kind": "eth"`) {
		t.Fatalf("unexpected prize output: %s", stdout.String())
	}
}

func TestNonceCommandRejectsBadAddress(t *testing.T) {
	stderr := &bytes.Buffer{}
	if code := runNonceCommand([]string{"not-bech32"}, &bytes.Buffer{}, stderr); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr.String(), "invalid address") {
		t.Fatalf("unexpected error: %s", stderr.String())
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	originalEndpoint := nodeEndpoint
	defer func() { nodeEndpoint = originalEndpoint }()

	args, err := applyGlobalFlags([]string{"--node", "http://example:9000", "fees"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodeEndpoint != "http://example:9000" {
		t.Fatalf("endpoint not applied: %s", nodeEndpoint)
	}
	if len(args) != 1 || args[0] != "fees" {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	args, err = applyGlobalFlags([]string{"--node=http://other:1234", "raffle", "get"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodeEndpoint != "http://other:1234" {
		t.Fatalf("endpoint not applied: %s", nodeEndpoint)
	}
	if len(args) != 2 {
		t.Fatalf("unexpected remaining args: %v", args)
	}

	if _, err := applyGlobalFlags([]string{"--node"}); err == nil {
		t.Fatal("expected error for missing --node value")
	}
}
