package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"rafflenet/crypto"
	"rafflenet/native/common"
	"rafflenet/native/prize"
	"rafflenet/native/ticket"
	"rafflenet/observability"
	"rafflenet/services/raffled/recon"
	"rafflenet/services/raffled/storage"
)

// Options captures the dependencies required to construct the server.
type Options struct {
	ListenAddress string
	Node          *Node
	Auth          *Authenticator
	Limits        *RateLimiter
	Receipts      *storage.Storage
	Recon         *recon.Reconciler
	Logger        *slog.Logger
}

// Server hosts the admin and public HTTP surface over one node.
type Server struct {
	listen   string
	node     *Node
	auth     *Authenticator
	limits   *RateLimiter
	receipts *storage.Storage
	recon    *recon.Reconciler
	logger   *slog.Logger

	router http.Handler
}

// New constructs a configured HTTP router. The reconciler may be nil, which
// disables on-demand exports.
func New(opts Options) (*Server, error) {
	if opts.Node == nil {
		return nil, fmt.Errorf("node required")
	}
	if opts.Auth == nil {
		return nil, fmt.Errorf("admin authenticator required")
	}
	if opts.Receipts == nil {
		return nil, fmt.Errorf("receipt storage required")
	}
	limits := opts.Limits
	if limits == nil {
		limits = NewRateLimiter(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		listen:   opts.ListenAddress,
		node:     opts.Node,
		auth:     opts.Auth,
		limits:   limits,
		receipts: opts.Receipts,
		recon:    opts.Recon,
		logger:   logger,
	}
	srv.router = srv.buildRouter()
	return srv, nil
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
		Handler: otelhttp.NewHandler(s.router, "raffled.http"),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.listen)
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

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	r.Get("/ws/events", s.handleEventsWS)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware)
			admin.Post("/vault/deposits", s.handleVaultDeposit)
			admin.Post("/prizes/lock", s.handleLockPrize)
			admin.Post("/withdrawals", s.handleWithdraw)
			admin.Post("/fees/fund", s.handleFundFees)
			admin.Post("/raffles", s.handleCreateRaffle)
			admin.Post("/raffles/{id}/draw", s.handleDrawWinner)
			admin.Post("/raffles/{id}/propagate", s.handlePropagateWinner)
			admin.Post("/raffles/{id}/cancel", s.handleCancelRaffle)
			admin.Post("/signers", s.handleAddSigner)
			admin.Delete("/signers/{address}", s.handleRemoveSigner)
			admin.Post("/counterparts", s.handleAllowCounterpart)
			admin.Post("/counterparts/revoke", s.handleRevokeCounterpart)
			admin.Post("/pauses", s.handleSetPause)
			admin.Get("/receipts", s.handleListReceipts)
			admin.Post("/recon/export", s.handleReconExport)
		})

		api.Group(func(public chi.Router) {
			public.With(s.limits.Middleware("ticket")).Post("/tickets/buy", s.handleBuyTickets)
			public.With(s.limits.Middleware("claim")).Post("/prizes/{id}/claim", s.handleClaimPrize)
			public.With(s.limits.Middleware("refund")).Post("/raffles/{id}/refunds", s.handleRefundPlayers)
		})

		api.Group(func(views chi.Router) {
			views.Use(s.limits.Middleware("view"))
			views.Get("/raffles/{id}", s.handleGetRaffle)
			views.Get("/raffles/{id}/winner", s.handleGetWinner)
			views.Get("/raffles/{id}/participants/{address}", s.handleGetParticipation)
			views.Get("/prizes/{id}", s.handleGetPrize)
			views.Get("/fees", s.handleGetFees)
			views.Get("/nonces/{address}", s.handleGetNonce)
			views.Get("/signers", s.handleListSigners)
			views.Get("/counterparts", s.handleListCounterparts)
			views.Get("/pauses", s.handleGetPauses)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// record journals one mutating API call. The write survives a client
// disconnect so the journal stays aligned with applied state.
func (s *Server) record(ctx context.Context, operation string, raffleID uint64, actor string, callErr error) {
	receipt := storage.Receipt{
		ID:        uuid.New().String(),
		Operation: operation,
		RaffleID:  raffleID,
		Actor:     actor,
		Status:    storage.StatusOK,
	}
	if callErr != nil {
		receipt.Status = storage.StatusFailed
		receipt.Detail = callErr.Error()
	}
	if err := s.receipts.InsertReceipt(context.WithoutCancel(ctx), receipt); err != nil {
		s.logger.Error("record receipt", "operation", operation, "error", err)
	}
}

// adminActor resolves the verified token subject, falling back to a marker
// that should never appear behind the auth middleware.
func adminActor(r *http.Request) string {
	subject, err := SubjectFromContext(r.Context())
	if err != nil {
		return "unknown"
	}
	return subject
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusForError(err))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaValueCapExceeded),
		errors.Is(err, common.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, prize.ErrUnauthorizedToClaim),
		errors.Is(err, ticket.ErrUnauthorized),
		errors.Is(err, common.ErrRoleUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, prize.ErrInvalidRaffle),
		errors.Is(err, prize.ErrNoWinner):
		return http.StatusNotFound
	case errors.Is(err, ticket.ErrRaffleNeedsStartTime),
		errors.Is(err, ticket.ErrRaffleClosingTooSoon),
		errors.Is(err, ticket.ErrInvalidTicketCount),
		errors.Is(err, ticket.ErrExpiredCoupon),
		errors.Is(err, ticket.ErrTicketIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, prize.ErrInvalidRaffleID),
		errors.Is(err, prize.ErrInvalidPrize),
		errors.Is(err, prize.ErrAlreadyClaimed),
		errors.Is(err, prize.ErrInsufficientBalance),
		errors.Is(err, prize.ErrNFTLocked),
		errors.Is(err, ticket.ErrInvalidRaffle),
		errors.Is(err, ticket.ErrPrizeNotLocked),
		errors.Is(err, ticket.ErrRaffleHasNotStarted),
		errors.Is(err, ticket.ErrRaffleHasEnded),
		errors.Is(err, ticket.ErrTooManyTickets),
		errors.Is(err, ticket.ErrNoParticipants),
		errors.Is(err, ticket.ErrRaffleIsStillOpen),
		errors.Is(err, ticket.ErrTargetTicketsNotReached),
		errors.Is(err, ticket.ErrTargetTicketsReached),
		errors.Is(err, ticket.ErrInvalidRaffleStatus),
		errors.Is(err, ticket.ErrRaffleNotFulfilled),
		errors.Is(err, ticket.ErrPlayerAlreadyRefunded),
		errors.Is(err, ticket.ErrNothingToSend):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func raffleIDParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	if raw == "" {
		return 0, fmt.Errorf("raffle id required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid raffle id")
	}
	return id, nil
}

func parseAddress(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes20(), nil
}

func encodeAddress(b [20]byte) string {
	if b == ([20]byte{}) {
		return ""
	}
	return crypto.NewAddress(crypto.RafflePrefix, b[:]).String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseSignature(raw string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("signature required")
	}
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}
	return sig, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
