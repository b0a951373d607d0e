package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "raffled-admin-secret"
	testIssuer   = "raffled"
	testAudience = "raffled-admin"
)

func testAuthenticator(t *testing.T, leeway time.Duration, now time.Time) *Authenticator {
	t.Helper()
	auth, err := NewAuthenticator(testSecret, testIssuer, testAudience, leeway)
	require.NoError(t, err)
	auth.SetNowFunc(func() time.Time { return now })
	return auth
}

func TestMintAndVerifyToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := testAuthenticator(t, 0, now)

	token, err := MintToken(testSecret, testIssuer, testAudience, "ops", 15*time.Minute, now)
	require.NoError(t, err)

	subject, err := auth.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ops", subject)
}

func TestVerifyRejectsForgedTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := testAuthenticator(t, 0, now)

	wrongSecret, err := MintToken("other-secret", testIssuer, testAudience, "ops", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Verify(wrongSecret)
	require.Error(t, err)

	wrongIssuer, err := MintToken(testSecret, "someone-else", testAudience, "ops", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Verify(wrongIssuer)
	require.Error(t, err)

	wrongAudience, err := MintToken(testSecret, testIssuer, "other-service", "ops", time.Minute, now)
	require.NoError(t, err)
	_, err = auth.Verify(wrongAudience)
	require.Error(t, err)
}

func TestVerifyRejectsUnsignedAlgorithm(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := testAuthenticator(t, 0, now)

	claims := jwt.MapClaims{
		"sub": "ops",
		"iss": testIssuer,
		"aud": testAudience,
		"exp": now.Add(time.Minute).Unix(),
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Verify(unsigned)
	require.Error(t, err)
}

func TestVerifyExpiryAndLeeway(t *testing.T) {
	minted := time.Unix(1_700_000_000, 0)
	token, err := MintToken(testSecret, testIssuer, testAudience, "ops", 15*time.Minute, minted)
	require.NoError(t, err)

	late := minted.Add(20 * time.Minute)
	strict := testAuthenticator(t, 0, late)
	_, err = strict.Verify(token)
	require.Error(t, err)

	tolerant := testAuthenticator(t, 10*time.Minute, late)
	subject, err := tolerant.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "ops", subject)
}

func TestVerifyRequiresSubject(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := testAuthenticator(t, 0, now)

	claims := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testAudience,
		"exp": now.Add(time.Minute).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Verify(token)
	require.Error(t, err)
	require.Contains(t, err.Error(), "subject")

	_, err = MintToken(testSecret, testIssuer, testAudience, "   ", time.Minute, now)
	require.Error(t, err)
}

func TestNewAuthenticatorRequiresSecret(t *testing.T) {
	_, err := NewAuthenticator("   ", testIssuer, testAudience, 0)
	require.Error(t, err)

	_, err = MintToken("  ", testIssuer, testAudience, "ops", time.Minute, time.Now())
	require.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	auth := testAuthenticator(t, 0, now)
	token, err := MintToken(testSecret, testIssuer, testAudience, "ops", 15*time.Minute, now)
	require.NoError(t, err)

	var gotSubject string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := SubjectFromContext(r.Context())
		require.NoError(t, err)
		gotSubject = subject
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer   ", status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not.a.jwt", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + token, status: http.StatusNoContent},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotSubject = ""
			req := httptest.NewRequest(http.MethodPost, "/api/v1/raffles", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusNoContent {
				require.Equal(t, "ops", gotSubject)
			}
		})
	}
}

func TestSubjectFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := SubjectFromContext(req.Context())
	require.Error(t, err)
}
