package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rafflenet/channel"
	"rafflenet/native/common"
	"rafflenet/services/raffled/storage"
)

var (
	errUnknownSide  = errors.New("unknown side")
	errInvalidChain = errors.New("invalid chain selector")
)

func (s *Server) handleVaultDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset      string `json:"asset"`
		Amount     string `json:"amount"`
		Token      string `json:"token"`
		Collection string `json:"collection"`
		TokenID    string `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Asset)) {
	case "eth":
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.DepositETH(amount)
	case "token":
		token, parseErr := parseAddress(req.Token)
		if parseErr != nil {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.DepositToken(token, amount)
	case "nft":
		collection, parseErr := parseAddress(req.Collection)
		if parseErr != nil {
			http.Error(w, "invalid collection address", http.StatusBadRequest)
			return
		}
		tokenID, parseErr := parseAmount(req.TokenID)
		if parseErr != nil {
			http.Error(w, "invalid token id", http.StatusBadRequest)
			return
		}
		err = s.node.DepositNFT(collection, tokenID)
	default:
		http.Error(w, "unknown asset", http.StatusBadRequest)
		return
	}
	s.record(r.Context(), "vault.deposit", 0, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"asset": strings.ToLower(strings.TrimSpace(req.Asset))})
}

func (s *Server) handleLockPrize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RaffleID   uint64 `json:"raffle_id"`
		Kind       string `json:"kind"`
		Amount     string `json:"amount"`
		Token      string `json:"token"`
		Collection string `json:"collection"`
		TokenID    string `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	var err error
	switch kind {
	case "eth":
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.LockETH(req.RaffleID, amount)
	case "token":
		token, parseErr := parseAddress(req.Token)
		if parseErr != nil {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.LockTokens(req.RaffleID, token, amount)
	case "nft":
		collection, parseErr := parseAddress(req.Collection)
		if parseErr != nil {
			http.Error(w, "invalid collection address", http.StatusBadRequest)
			return
		}
		tokenID, parseErr := parseAmount(req.TokenID)
		if parseErr != nil {
			http.Error(w, "invalid token id", http.StatusBadRequest)
			return
		}
		err = s.node.LockNFT(req.RaffleID, collection, tokenID)
	default:
		http.Error(w, "unknown prize kind", http.StatusBadRequest)
		return
	}
	s.record(r.Context(), "prize.lock", req.RaffleID, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"raffle_id": req.RaffleID, "kind": kind})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset      string `json:"asset"`
		To         string `json:"to"`
		Amount     string `json:"amount"`
		Token      string `json:"token"`
		Collection string `json:"collection"`
		TokenID    string `json:"token_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	to, parseErr := parseAddress(req.To)
	if parseErr != nil {
		http.Error(w, "invalid destination address", http.StatusBadRequest)
		return
	}
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Asset)) {
	case "eth":
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.WithdrawETH(to, amount)
	case "token":
		token, parseErr := parseAddress(req.Token)
		if parseErr != nil {
			http.Error(w, "invalid token address", http.StatusBadRequest)
			return
		}
		amount, parseErr := parseAmount(req.Amount)
		if parseErr != nil {
			http.Error(w, parseErr.Error(), http.StatusBadRequest)
			return
		}
		err = s.node.WithdrawTokens(token, to, amount)
	case "nft":
		collection, parseErr := parseAddress(req.Collection)
		if parseErr != nil {
			http.Error(w, "invalid collection address", http.StatusBadRequest)
			return
		}
		tokenID, parseErr := parseAmount(req.TokenID)
		if parseErr != nil {
			http.Error(w, "invalid token id", http.StatusBadRequest)
			return
		}
		err = s.node.WithdrawNFT(collection, tokenID, to)
	default:
		http.Error(w, "unknown asset", http.StatusBadRequest)
		return
	}
	s.record(r.Context(), "vault.withdraw", 0, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFundFees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side   string `json:"side"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	amount, parseErr := parseAmount(req.Amount)
	if parseErr != nil {
		http.Error(w, parseErr.Error(), http.StatusBadRequest)
		return
	}
	var err error
	side := strings.ToLower(strings.TrimSpace(req.Side))
	switch side {
	case "prize":
		err = s.node.FundPrizeFees(amount)
	case "ticket":
		err = s.node.FundTicketFees(amount)
	default:
		http.Error(w, "unknown side", http.StatusBadRequest)
		return
	}
	s.record(r.Context(), "fees.fund", 0, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"side": side, "amount": amount.String()})
}

func (s *Server) handleCreateRaffle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RaffleID    uint64 `json:"raffle_id"`
		StartsAt    int64  `json:"starts_at"`
		EndsAt      int64  `json:"ends_at"`
		MinTickets  uint32 `json:"min_tickets"`
		MaxTickets  uint32 `json:"max_tickets"`
		MaxHoldings uint32 `json:"max_holdings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	err := s.node.CreateRaffle(req.RaffleID, req.StartsAt, req.EndsAt, req.MinTickets, req.MaxTickets, req.MaxHoldings)
	s.record(r.Context(), "raffle.create", req.RaffleID, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"raffle_id": req.RaffleID})
}

func (s *Server) handleDrawWinner(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.node.DrawWinner(id)
	s.record(r.Context(), "raffle.draw", id, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"raffle_id": id})
}

func (s *Server) handlePropagateWinner(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.node.PropagateWinner(id)
	s.record(r.Context(), "raffle.propagate", id, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"raffle_id": id})
}

func (s *Server) handleCancelRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.node.CancelRaffle(id)
	s.record(r.Context(), "raffle.cancel", id, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"raffle_id": id})
}

func (s *Server) handleAddSigner(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	signer, err := parseAddress(req.Address)
	if err != nil {
		http.Error(w, "invalid signer address", http.StatusBadRequest)
		return
	}
	err = s.node.AddSigner(signer)
	s.record(r.Context(), "signer.add", 0, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"address": encodeAddress(signer)})
}

func (s *Server) handleRemoveSigner(w http.ResponseWriter, r *http.Request) {
	signer, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid signer address", http.StatusBadRequest)
		return
	}
	err = s.node.RemoveSigner(signer)
	s.record(r.Context(), "signer.remove", 0, adminActor(r), err)
	if err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeRemote(side, rawChain, rawAddress string) (string, channel.Remote, error) {
	normalized := strings.ToLower(strings.TrimSpace(side))
	if normalized != "prize" && normalized != "ticket" {
		return "", channel.Remote{}, errUnknownSide
	}
	chain, err := strconv.ParseUint(strings.TrimSpace(rawChain), 10, 64)
	if err != nil {
		return "", channel.Remote{}, errInvalidChain
	}
	addr, err := parseAddress(rawAddress)
	if err != nil {
		return "", channel.Remote{}, err
	}
	return normalized, channel.Remote{Chain: channel.Selector(chain), Address: addr}, nil
}

func (s *Server) handleAllowCounterpart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side    string `json:"side"`
		Chain   string `json:"chain"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	side, remote, err := decodeRemote(req.Side, req.Chain, req.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if side == "prize" {
		s.node.AllowPrizeCounterpart(remote)
	} else {
		s.node.AllowTicketCounterpart(remote)
	}
	s.record(r.Context(), "counterpart.allow", 0, adminActor(r), nil)
	respondJSON(w, http.StatusCreated, remoteView(remote))
}

func (s *Server) handleRevokeCounterpart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Side    string `json:"side"`
		Chain   string `json:"chain"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	side, remote, err := decodeRemote(req.Side, req.Chain, req.Address)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if side == "prize" {
		s.node.RevokePrizeCounterpart(remote)
	} else {
		s.node.RevokeTicketCounterpart(remote)
	}
	s.record(r.Context(), "counterpart.revoke", 0, adminActor(r), nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Module string `json:"module"`
		Paused bool   `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	switch module {
	case common.ModulePrize, common.ModuleTicket, common.ModuleChannel:
	default:
		http.Error(w, "unknown module", http.StatusBadRequest)
		return
	}
	if req.Paused {
		s.node.Pauses().Pause(module)
	} else {
		s.node.Pauses().Resume(module)
	}
	s.record(r.Context(), "pause.update", 0, adminActor(r), nil)
	respondJSON(w, http.StatusOK, map[string]any{"module": module, "paused": req.Paused})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	var (
		receipts []storage.Receipt
		err      error
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("raffle_id")); raw != "" {
		raffleID, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr != nil {
			http.Error(w, "invalid raffle id", http.StatusBadRequest)
			return
		}
		receipts, err = s.receipts.ReceiptsByRaffle(r.Context(), raffleID, limit)
	} else {
		receipts, err = s.receipts.Receipts(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("list receipts", "error", err)
		http.Error(w, "failed to list receipts", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (s *Server) handleReconExport(w http.ResponseWriter, r *http.Request) {
	if s.recon == nil {
		http.Error(w, "ledger exports disabled", http.StatusConflict)
		return
	}
	summary, err := s.recon.Snapshot(r.Context())
	s.record(r.Context(), "recon.export", 0, adminActor(r), err)
	if err != nil {
		s.logger.Error("ledger export", "error", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, summary)
}
