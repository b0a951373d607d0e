package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"rafflenet/crypto"
	"rafflenet/native/common"
	"rafflenet/native/ticket"
	"rafflenet/observability"
	"rafflenet/services/coupond/storage"
)

func (s *Server) handleIssueCoupon(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Handle   string  `json:"handle"`
		Buyer    string  `json:"buyer"`
		RaffleID uint64  `json:"raffle_id"`
		Count    uint32  `json:"count"`
		Value    string  `json:"value"`
		Expiry   int64   `json:"expiry"`
		Nonce    *uint64 `json:"nonce"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	handle, err := normalizeHandle(req.Handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	buyer, err := parseBuyer(req.Buyer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RaffleID == 0 {
		http.Error(w, "raffle id required", http.StatusBadRequest)
		return
	}
	if req.Count == 0 {
		http.Error(w, "count must be positive", http.StatusBadRequest)
		return
	}
	if s.maxCount > 0 && req.Count > s.maxCount {
		http.Error(w, "count exceeds per-coupon limit", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseUint(strings.TrimSpace(req.Value), 10, 64)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}

	now := s.now()
	expiry := req.Expiry
	if expiry == 0 {
		expiry = now.Add(s.couponTTL).Unix()
	}
	if expiry <= now.Unix() {
		http.Error(w, "expiry must be in the future", http.StatusBadRequest)
		return
	}

	if err := s.quota.check(handle, value); err != nil {
		observability.Coupon().RecordThrottle(throttleReason(err))
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	}

	binding, err := s.store.Binding(r.Context(), handle)
	if err != nil {
		s.logger.Error("load binding", "handle", handle, "error", err)
		http.Error(w, "registry unavailable", http.StatusInternalServerError)
		return
	}
	buyerStr := encodeBuyer(buyer)
	if binding != nil && binding.Buyer != buyerStr {
		observability.Coupon().RecordIssue(storage.ErrHandleBound)
		http.Error(w, storage.ErrHandleBound.Error(), http.StatusConflict)
		return
	}
	nonce := uint64(0)
	if binding != nil {
		nonce = binding.NextNonce
	}
	if req.Nonce != nil {
		nonce = *req.Nonce
	}

	coupon := ticket.Coupon{
		Buyer:    buyer,
		Nonce:    nonce,
		RaffleID: req.RaffleID,
		Count:    req.Count,
		Expiry:   expiry,
		Value:    value,
	}
	sig, err := s.signer.Sign(coupon)
	if err != nil {
		observability.Coupon().RecordIssue(err)
		s.logger.Error("sign coupon", "handle", handle, "raffle_id", req.RaffleID, "error", err)
		http.Error(w, "signing failed", http.StatusInternalServerError)
		return
	}

	record := &storage.IssuedCoupon{
		ID:        uuid.New(),
		Handle:    handle,
		Buyer:     buyerStr,
		RaffleID:  req.RaffleID,
		Nonce:     nonce,
		Count:     req.Count,
		Value:     value,
		Expiry:    expiry,
		Signature: "0x" + hex.EncodeToString(sig),
		Signer:    s.signer.Address().String(),
		CreatedAt: now.UTC(),
	}
	recordErr := s.store.RecordIssue(r.Context(), record)
	observability.Coupon().RecordIssue(recordErr)
	if recordErr != nil {
		if errors.Is(recordErr, storage.ErrHandleBound) || errors.Is(recordErr, storage.ErrBuyerBound) {
			http.Error(w, recordErr.Error(), http.StatusConflict)
			return
		}
		s.logger.Error("journal coupon", "handle", handle, "raffle_id", req.RaffleID, "error", recordErr)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}

	s.logger.Info("coupon issued",
		"client", clientFromContext(r.Context()),
		"handle", handle,
		"raffle_id", req.RaffleID,
		"nonce", nonce,
		"count", req.Count,
	)
	respondJSON(w, http.StatusCreated, map[string]any{
		"coupon_id": record.ID.String(),
		"handle":    handle,
		"buyer":     buyerStr,
		"raffle_id": req.RaffleID,
		"nonce":     nonce,
		"count":     req.Count,
		"value":     strconv.FormatUint(value, 10),
		"expiry":    expiry,
		"signature": record.Signature,
		"signer":    record.Signer,
	})
}

func (s *Server) handleListCoupons(w http.ResponseWriter, r *http.Request) {
	handle := ""
	if raw := strings.TrimSpace(r.URL.Query().Get("handle")); raw != "" {
		normalized, err := normalizeHandle(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		handle = normalized
	}
	var raffleID uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("raffle_id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid raffle id", http.StatusBadRequest)
			return
		}
		raffleID = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	coupons, err := s.store.Coupons(r.Context(), handle, raffleID, limit)
	if err != nil {
		s.logger.Error("list coupons", "error", err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"coupons": coupons})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	handle, err := normalizeHandle(chi.URLParam(r, "handle"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	binding, err := s.store.Binding(r.Context(), handle)
	if err != nil {
		s.logger.Error("load binding", "handle", handle, "error", err)
		http.Error(w, "registry unavailable", http.StatusInternalServerError)
		return
	}
	payload := map[string]any{"handle": handle, "next_nonce": uint64(0)}
	if binding != nil {
		payload["buyer"] = binding.Buyer
		payload["next_nonce"] = binding.NextNonce
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSignerInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"signer": s.signer.Address().String(),
	})
}

func throttleReason(err error) string {
	switch {
	case errors.Is(err, common.ErrQuotaRequestsExceeded):
		return "requests"
	case errors.Is(err, common.ErrQuotaValueCapExceeded):
		return "value"
	case errors.Is(err, common.ErrQuotaCounterOverflow):
		return "overflow"
	default:
		return "unspecified"
	}
}

func parseBuyer(raw string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, errors.New("invalid buyer address")
	}
	if addr.IsZero() {
		return [20]byte{}, errors.New("buyer must not be the zero account")
	}
	return addr.Bytes20(), nil
}

func encodeBuyer(b [20]byte) string {
	return crypto.NewAddress(crypto.RafflePrefix, b[:]).String()
}
