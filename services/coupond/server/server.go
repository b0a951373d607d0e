package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/text/unicode/norm"

	"rafflenet/native/common"
	"rafflenet/observability"
	"rafflenet/services/coupond/signer"
	"rafflenet/services/coupond/storage"
)

const maxHandleLength = 64

// Options captures the dependencies required to construct the server.
type Options struct {
	ListenAddress string
	Store         *storage.Store
	Signer        *signer.Signer

	Secret      string
	Issuer      string
	Audience    string
	TokenLeeway time.Duration

	Quota     common.Quota
	MaxCount  uint32
	CouponTTL time.Duration

	Logger *slog.Logger
}

// Server hosts the coupon issue and inspection surface.
type Server struct {
	listen    string
	store     *storage.Store
	signer    *signer.Signer
	auth      *verifier
	quota     *issueQuota
	maxCount  uint32
	couponTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router.
func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("signer required")
	}
	auth, err := newVerifier(opts.Secret, opts.Issuer, opts.Audience, opts.TokenLeeway)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := opts.CouponTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	srv := &Server{
		listen:    opts.ListenAddress,
		store:     opts.Store,
		signer:    opts.Signer,
		auth:      auth,
		quota:     newIssueQuota(opts.Quota),
		maxCount:  opts.MaxCount,
		couponTTL: ttl,
		logger:    logger,
		now:       time.Now,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// SetNowFunc pins the clock used for expiry defaults, quota epochs and token
// validation. Intended for tests.
func (s *Server) SetNowFunc(now func() time.Time) {
	if now == nil {
		return
	}
	s.now = now
	s.quota.now = now
	s.auth.now = now
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	httpSrv := &http.Server{
		Addr:    s.listen,
		Handler: otelhttp.NewHandler(s.router, "coupond.http"),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.listen, "signer", s.signer.Address().String())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(s.auth.middleware)
		api.Post("/coupons", s.handleIssueCoupon)
		api.Get("/coupons", s.handleListCoupons)
		api.Get("/nonces/{handle}", s.handleGetNonce)
		api.Get("/signer", s.handleSignerInfo)
	})

	return r
}

// normalizeHandle canonicalizes a buyer handle so visually equivalent inputs
// key the same registry row: NFKC fold, lowercase, surrounding space dropped.
func normalizeHandle(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("handle required")
	}
	normalized := norm.NFKC.String(strings.ToLower(trimmed))
	if len([]rune(normalized)) > maxHandleLength {
		return "", fmt.Errorf("handle exceeds %d characters", maxHandleLength)
	}
	for _, r := range normalized {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", errors.New("handle must not contain whitespace")
		}
	}
	return normalized, nil
}

// issueQuota bounds how often and for how much value one handle may request
// coupons per epoch. Denied requests never charge usage.
type issueQuota struct {
	mu    sync.Mutex
	quota common.Quota
	usage map[string]common.QuotaNow
	now   func() time.Time
}

func newIssueQuota(quota common.Quota) *issueQuota {
	return &issueQuota{
		quota: quota,
		usage: make(map[string]common.QuotaNow),
		now:   time.Now,
	}
}

func (q *issueQuota) check(handle string, value uint64) error {
	if q.quota.MaxRequestsPerMin == 0 && q.quota.MaxValuePerEpoch == 0 {
		return nil
	}
	epochSeconds := uint64(q.quota.EpochSeconds)
	if epochSeconds == 0 {
		epochSeconds = 60
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	epoch := uint64(q.now().Unix()) / epochSeconds
	next, err := common.CheckQuota(q.quota, epoch, q.usage[handle], 1, value)
	if err != nil {
		return err
	}
	q.usage[handle] = next
	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
