package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rafflenet/crypto"
	"rafflenet/native/ticket"
)

func writeTestKeystore(t *testing.T, passphrase string) (string, *crypto.PrivateKey) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "signer.keystore")
	if err := crypto.SaveToKeystore(path, key, passphrase); err != nil {
		t.Fatalf("save keystore: %v", err)
	}
	return path, key
}

func testBuyerAddress(fill byte) string {
	return crypto.NewAddress(crypto.RafflePrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func TestCouponSignVerifyRoundTrip(t *testing.T) {
	t.Setenv(passphraseEnvVar, "sign-pass")
	keyPath, key := writeTestKeystore(t, "sign-pass")
	buyer := testBuyerAddress(0xAA)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"sign",
		"--key", keyPath,
		"--buyer", buyer,
		"--raffle", "7",
		"--count", "3",
		"--value", "120",
		"--expiry", "1700003600",
		"--nonce", "4",
	}
	if code := runCouponCommand(args, stdout, stderr); code != 0 {
		t.Fatalf("coupon sign failed (%d): %s", code, stderr.String())
	}

	var out signedCoupon
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode sign output: %v\n%s", err, stdout.String())
	}
	if out.Buyer != buyer || out.RaffleID != 7 || out.Nonce != 4 || out.Count != 3 {
		t.Fatalf("unexpected coupon tuple: %+v", out)
	}
	if out.Value != "120" || out.Expiry != 1700003600 {
		t.Fatalf("unexpected value/expiry: %+v", out)
	}
	if out.Signer != key.PubKey().Address().String() {
		t.Fatalf("unexpected signer: %s", out.Signer)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.Signature, "0x"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	coupon := ticket.Coupon{
		Buyer:    crypto.MustParseAddress(buyer).Bytes20(),
		Nonce:    4,
		RaffleID: 7,
		Count:    3,
		Expiry:   1700003600,
		Value:    120,
	}
	recovered, err := coupon.RecoverSigner(sig)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if recovered != key.PubKey().Address().Bytes20() {
		t.Fatal("signature does not recover the keystore account")
	}

	verifyOut := &bytes.Buffer{}
	vargs := []string{
		"verify",
		"--buyer", buyer,
		"--raffle", "7",
		"--nonce", "4",
		"--count", "3",
		"--value", "120",
		"--expiry", "1700003600",
		"--signature", out.Signature,
	}
	if code := runCouponCommand(vargs, verifyOut, stderr); code != 0 {
		t.Fatalf("coupon verify failed (%d): %s", code, stderr.String())
	}
	if !strings.Contains(verifyOut.String(), key.PubKey().Address().String()) {
		t.Fatalf("verify output missing signer account: %s", verifyOut.String())
	}
}

func TestCouponSignFetchesNonceFromNode(t *testing.T) {
	t.Setenv(passphraseEnvVar, "fetch-pass")
	keyPath, _ := writeTestKeystore(t, "fetch-pass")
	buyer := testBuyerAddress(0xBB)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/api/v1/nonces/" + buyer
		if r.URL.Path != wantPath {
			t.Errorf("unexpected path: got %s, want %s", r.URL.Path, wantPath)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"address":%q,"nonce":9}`, buyer)
	}))
	defer srv.Close()

	originalEndpoint := nodeEndpoint
	nodeEndpoint = srv.URL
	defer func() { nodeEndpoint = originalEndpoint }()

	originalNow := couponNow
	couponNow = func() time.Time { return time.Unix(1_700_000_000, 0) }
	defer func() { couponNow = originalNow }()

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	args := []string{
		"sign",
		"--key", keyPath,
		"--buyer", buyer,
		"--raffle", "7",
		"--count", "1",
		"--value", "40",
		"--expiry", "+10m",
	}
	if code := runCouponCommand(args, stdout, stderr); code != 0 {
		t.Fatalf("coupon sign failed (%d): %s", code, stderr.String())
	}

	var out signedCoupon
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode sign output: %v", err)
	}
	if out.Nonce != 9 {
		t.Fatalf("expected nonce 9 from node, got %d", out.Nonce)
	}
	if out.Expiry != 1_700_000_600 {
		t.Fatalf("expected expiry now+10m, got %d", out.Expiry)
	}
}

func TestParseExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"relative", "+1h", 1_700_003_600, false},
		{"unix seconds", "1700009999", 1_700_009_999, false},
		{"rfc3339", "2023-11-14T22:13:20Z", 1_700_000_000, false},
		{"empty", "   ", 0, true},
		{"negative duration", "+-5m", 0, true},
		{"garbage", "tomorrow", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseExpiry(tc.raw, now)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestCouponSignValidation(t *testing.T) {
	t.Setenv(passphraseEnvVar, "validation-pass")
	buyer := testBuyerAddress(0xCC)
	cases := []struct {
		name string
		args []string
	}{
		{"missing buyer", []string{"sign", "--raffle", "7", "--count", "1", "--value", "40"}},
		{"bad buyer", []string{"sign", "--buyer", "0xABCD", "--raffle", "7", "--count", "1", "--value", "40"}},
		{"missing raffle", []string{"sign", "--buyer", buyer, "--count", "1", "--value", "40"}},
		{"zero count", []string{"sign", "--buyer", buyer, "--raffle", "7", "--value", "40"}},
		{"missing value", []string{"sign", "--buyer", buyer, "--raffle", "7", "--count", "1"}},
		{"bad value", []string{"sign", "--buyer", buyer, "--raffle", "7", "--count", "1", "--value", "lots"}},
		{"bad expiry", []string{"sign", "--buyer", buyer, "--raffle", "7", "--count", "1", "--value", "40", "--expiry", "tomorrow"}},
		{"bad nonce", []string{"sign", "--buyer", buyer, "--raffle", "7", "--count", "1", "--value", "40", "--nonce", "soon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stdout := &bytes.Buffer{}
			stderr := &bytes.Buffer{}
			if code := runCouponCommand(tc.args, stdout, stderr); code != 1 {
				t.Fatalf("expected exit 1, got %d (stderr %q)", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), "Error:") {
				t.Fatalf("expected validation error, got %q", stderr.String())
			}
		})
	}
}
