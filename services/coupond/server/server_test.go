package server

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"rafflenet/crypto"
	"rafflenet/native/common"
	"rafflenet/native/ticket"
	"rafflenet/services/coupond/signer"
	"rafflenet/services/coupond/storage"
)

const (
	testSecret   = "coupond-issue-secret"
	testIssuer   = "coupond"
	testAudience = "coupond-clients"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type couponRig struct {
	t      *testing.T
	srv    *Server
	signer *signer.Signer
	clock  *testClock
	token  string
}

func newCouponRig(t *testing.T, quota common.Quota, maxCount uint32) *couponRig {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := storage.New(db)
	require.NoError(t, err)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	sig, err := signer.New(key)
	require.NoError(t, err)

	srv, err := New(Options{
		ListenAddress: "127.0.0.1:0",
		Store:         store,
		Signer:        sig,
		Secret:        testSecret,
		Issuer:        testIssuer,
		Audience:      testAudience,
		Quota:         quota,
		MaxCount:      maxCount,
		CouponTTL:     10 * time.Minute,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	clock := newTestClock()
	srv.SetNowFunc(clock.Now)

	return &couponRig{
		t:      t,
		srv:    srv,
		signer: sig,
		clock:  clock,
		token:  mintTestToken(t, "pricing-bot", clock.Now()),
	}
}

func mintTestToken(t *testing.T, subject string, now time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iss": testIssuer,
		"aud": testAudience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (rig *couponRig) request(method, path, token string, body any) *httptest.ResponseRecorder {
	rig.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(rig.t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	rig.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func buyerAddress(fill byte) string {
	return crypto.NewAddress(crypto.RafflePrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func issueBody(handle, buyer string, raffleID uint64, count uint32, value string) map[string]any {
	return map[string]any{
		"handle":    handle,
		"buyer":     buyer,
		"raffle_id": raffleID,
		"count":     count,
		"value":     value,
	}
}

func TestServerRequiresDependencies(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	sig, err := signer.New(key)
	require.NoError(t, err)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := storage.New(db)
	require.NoError(t, err)

	_, err = New(Options{Signer: sig, Secret: testSecret})
	require.Error(t, err)
	_, err = New(Options{Store: store, Secret: testSecret})
	require.Error(t, err)
	_, err = New(Options{Store: store, Signer: sig})
	require.Error(t, err)
}

func TestIssueRequiresAuth(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 0)
	body := issueBody("alice", buyerAddress(0xAA), 7, 3, "120")

	rec := rig.request(http.MethodPost, "/api/v1/coupons", "", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = rig.request(http.MethodPost, "/api/v1/coupons", "bogus", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = rig.request(http.MethodGet, "/api/v1/signer", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIssueCouponLifecycle(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 0)
	buyer := buyerAddress(0xAA)

	rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("Alice", buyer, 7, 3, "120"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var issued struct {
		CouponID  string `json:"coupon_id"`
		Handle    string `json:"handle"`
		Buyer     string `json:"buyer"`
		RaffleID  uint64 `json:"raffle_id"`
		Nonce     uint64 `json:"nonce"`
		Count     uint32 `json:"count"`
		Value     string `json:"value"`
		Expiry    int64  `json:"expiry"`
		Signature string `json:"signature"`
		Signer    string `json:"signer"`
	}
	decodeBody(t, rec, &issued)
	require.NotEmpty(t, issued.CouponID)
	require.Equal(t, "alice", issued.Handle)
	require.Equal(t, buyer, issued.Buyer)
	require.Equal(t, uint64(0), issued.Nonce)
	require.Equal(t, "120", issued.Value)
	require.Equal(t, rig.clock.Now().Add(10*time.Minute).Unix(), issued.Expiry)
	require.Equal(t, rig.signer.Address().String(), issued.Signer)

	// The signature must recover the daemon's signing account for the exact
	// tuple the ticket engine will rebuild at purchase time.
	sig, err := hex.DecodeString(strings.TrimPrefix(issued.Signature, "0x"))
	require.NoError(t, err)
	coupon := ticket.Coupon{
		Buyer:    crypto.MustParseAddress(buyer).Bytes20(),
		Nonce:    issued.Nonce,
		RaffleID: issued.RaffleID,
		Count:    issued.Count,
		Expiry:   issued.Expiry,
		Value:    120,
	}
	recovered, err := coupon.RecoverSigner(sig)
	require.NoError(t, err)
	require.Equal(t, rig.signer.Account().Bytes20(), recovered)

	// The nonce advances automatically on the next issue.
	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "40"))
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeBody(t, rec, &issued)
	require.Equal(t, uint64(1), issued.Nonce)

	// An explicit nonce resynchronizes the registry.
	body := issueBody("alice", buyer, 7, 1, "40")
	body["nonce"] = 9
	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	decodeBody(t, rec, &issued)
	require.Equal(t, uint64(9), issued.Nonce)

	rec = rig.request(http.MethodGet, "/api/v1/nonces/alice", rig.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var nonceView struct {
		Handle    string `json:"handle"`
		Buyer     string `json:"buyer"`
		NextNonce uint64 `json:"next_nonce"`
	}
	decodeBody(t, rec, &nonceView)
	require.Equal(t, "alice", nonceView.Handle)
	require.Equal(t, buyer, nonceView.Buyer)
	require.Equal(t, uint64(10), nonceView.NextNonce)

	rec = rig.request(http.MethodGet, "/api/v1/coupons?handle=ALICE&limit=10", rig.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Coupons []storage.IssuedCoupon `json:"coupons"`
	}
	decodeBody(t, rec, &listing)
	require.Len(t, listing.Coupons, 3)

	rec = rig.request(http.MethodGet, "/api/v1/signer", rig.token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var signerView struct {
		Signer string `json:"signer"`
	}
	decodeBody(t, rec, &signerView)
	require.Equal(t, rig.signer.Address().String(), signerView.Signer)
}

func TestIssueCouponValidationErrors(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 5)
	buyer := buyerAddress(0xAA)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing handle", issueBody("   ", buyer, 7, 3, "120")},
		{"oversized handle", issueBody(strings.Repeat("a", 65), buyer, 7, 3, "120")},
		{"handle with spaces", issueBody("not a handle", buyer, 7, 3, "120")},
		{"invalid buyer", issueBody("alice", "0xABCD", 7, 3, "120")},
		{"zero buyer", issueBody("alice", buyerAddress(0x00), 7, 3, "120")},
		{"missing raffle", issueBody("alice", buyer, 0, 3, "120")},
		{"zero count", issueBody("alice", buyer, 7, 0, "120")},
		{"count over limit", issueBody("alice", buyer, 7, 6, "120")},
		{"bad value", issueBody("alice", buyer, 7, 3, "lots")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	expired := issueBody("alice", buyer, 7, 3, "120")
	expired["expiry"] = rig.clock.Now().Unix() - 1
	rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, expired)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIssueCouponBindingConflicts(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 0)

	rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyerAddress(0xAA), 7, 1, "40"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyerAddress(0xBB), 7, 1, "40"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "handle bound")

	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("mallory", buyerAddress(0xAA), 7, 1, "40"))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "buyer bound")
}

func TestIssueCouponQuota(t *testing.T) {
	rig := newCouponRig(t, common.Quota{MaxRequestsPerMin: 2, EpochSeconds: 60}, 0)
	buyer := buyerAddress(0xAA)

	for nonce := 0; nonce < 2; nonce++ {
		rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "40"))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "40"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other handles keep their own budget.
	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("bob", buyerAddress(0xBB), 7, 1, "40"))
	require.Equal(t, http.StatusCreated, rec.Code)

	// A fresh epoch resets the counter.
	rig.clock.Advance(61 * time.Second)
	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "40"))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestIssueCouponValueQuota(t *testing.T) {
	rig := newCouponRig(t, common.Quota{MaxValuePerEpoch: 100, EpochSeconds: 60}, 0)
	buyer := buyerAddress(0xAA)

	rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "90"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "20"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "value cap")

	// The denied call must not have charged usage.
	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyer, 7, 1, "10"))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleNormalizationKeysRegistry(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 0)
	buyer := buyerAddress(0xAA)

	variants := []string{"Alice", "  alice  ", "ALICE", "Ａlice"}
	for i, variant := range variants {
		rec := rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody(variant, buyer, 7, 1, "40"))
		require.Equal(t, http.StatusCreated, rec.Code, "variant %q: %s", variant, rec.Body.String())
		var issued struct {
			Handle string `json:"handle"`
			Nonce  uint64 `json:"nonce"`
		}
		decodeBody(t, rec, &issued)
		require.Equal(t, "alice", issued.Handle, "variant %q", variant)
		require.Equal(t, uint64(i), issued.Nonce, "variant %q", variant)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	rig := newCouponRig(t, common.Quota{}, 0)

	rec := rig.request(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = rig.request(http.MethodPost, "/api/v1/coupons", rig.token, issueBody("alice", buyerAddress(0xAA), 7, 1, "40"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = rig.request(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "raffle_coupon_issued_total")
}
