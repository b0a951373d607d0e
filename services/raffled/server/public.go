package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"rafflenet/channel"
	"rafflenet/native/common"
	"rafflenet/native/prize"
	"rafflenet/native/ticket"
)

func (s *Server) handleBuyTickets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Buyer     string `json:"buyer"`
		RaffleID  uint64 `json:"raffle_id"`
		Count     uint32 `json:"count"`
		Value     string `json:"value"`
		Expiry    int64  `json:"expiry"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	buyer, err := parseAddress(req.Buyer)
	if err != nil {
		http.Error(w, "invalid buyer address", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseUint(strings.TrimSpace(req.Value), 10, 64)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}
	sig, err := parseSignature(req.Signature)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	callErr := s.node.BuyTickets(buyer, req.RaffleID, req.Count, value, req.Expiry, sig)
	s.record(r.Context(), "ticket.buy", req.RaffleID, encodeAddress(buyer), callErr)
	if callErr != nil {
		s.fail(w, callErr)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"raffle_id":  req.RaffleID,
		"buyer":      encodeAddress(buyer),
		"holdings":   s.node.Holdings(req.RaffleID, buyer),
		"next_nonce": s.node.BuyerNonce(buyer),
	})
}

func (s *Server) handleClaimPrize(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		http.Error(w, "invalid caller address", http.StatusBadRequest)
		return
	}
	callErr := s.node.ClaimPrize(caller, id)
	s.record(r.Context(), "prize.claim", id, encodeAddress(caller), callErr)
	if callErr != nil {
		s.fail(w, callErr)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"raffle_id": id, "claimed": true})
}

func (s *Server) handleRefundPlayers(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req struct {
		Players []string `json:"players"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.Players) == 0 {
		http.Error(w, "players required", http.StatusBadRequest)
		return
	}
	players := make([][20]byte, 0, len(req.Players))
	for _, raw := range req.Players {
		player, parseErr := parseAddress(raw)
		if parseErr != nil {
			http.Error(w, "invalid player address", http.StatusBadRequest)
			return
		}
		players = append(players, player)
	}
	callErr := s.node.RefundPlayers(id, players)
	s.record(r.Context(), "raffle.refund", id, encodeAddress(players[0]), callErr)
	if callErr != nil {
		s.fail(w, callErr)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"raffle_id": id, "refunded": len(players)})
}

// failView renders read errors, treating an unknown raffle as a missing
// resource rather than a state conflict.
func (s *Server) failView(w http.ResponseWriter, err error) {
	if errors.Is(err, ticket.ErrInvalidRaffle) || errors.Is(err, ticket.ErrRaffleNotFulfilled) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.fail(w, err)
}

func (s *Server) handleGetRaffle(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raffle, err := s.node.Raffle(id)
	if err != nil {
		s.failView(w, err)
		return
	}
	payload := map[string]any{
		"raffle_id":     raffle.ID,
		"status":        raffle.Status.String(),
		"starts_at":     raffle.StartsAt,
		"ends_at":       raffle.EndsAt,
		"min_tickets":   raffle.MinTickets,
		"max_tickets":   raffle.MaxTickets,
		"max_holdings":  raffle.MaxHoldings,
		"total_raised":  amountString(raffle.TotalRaised),
		"ticket_supply": s.node.TicketSupply(id),
		"created_at":    raffle.CreatedAt,
	}
	if raffle.RequestID != ([32]byte{}) {
		payload["request_id"] = hex.EncodeToString(raffle.RequestID[:])
	}
	if raffle.RandomWord != nil {
		payload["random_word"] = raffle.RandomWord.String()
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetWinner(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	winner, err := s.node.GetWinner(id)
	if err != nil {
		s.failView(w, err)
		return
	}
	payload := map[string]any{
		"raffle_id": id,
		"winner":    encodeAddress(winner),
	}
	if recorded, err := s.node.PrizeWinner(id); err == nil {
		payload["prize_winner"] = encodeAddress(recorded)
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetParticipation(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	player, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid player address", http.StatusBadRequest)
		return
	}
	part, err := s.node.Participation(id, player)
	if err != nil {
		s.failView(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"raffle_id": id,
		"player":    encodeAddress(player),
		"spent":     strconv.FormatUint(part.Spent, 10),
		"purchased": part.Purchased,
		"refunded":  part.Refunded,
		"holdings":  s.node.Holdings(id, player),
	})
}

func (s *Server) handleGetPrize(w http.ResponseWriter, r *http.Request) {
	id, err := raffleIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	record, err := s.node.PrizeRecord(id)
	if err != nil {
		s.failView(w, err)
		return
	}
	payload := map[string]any{
		"raffle_id": record.RaffleID,
		"kind":      record.Kind.String(),
		"claimed":   record.Claimed,
		"locked_at": record.LockedAt,
	}
	switch record.Kind {
	case prize.KindNFT:
		payload["collection"] = encodeAddress(record.Collection)
		if record.TokenID != nil {
			payload["token_id"] = record.TokenID.String()
		}
	case prize.KindToken:
		payload["token"] = encodeAddress(record.Token)
		payload["amount"] = amountString(record.Amount)
	case prize.KindETH:
		payload["amount"] = amountString(record.Amount)
	}
	if winner, winnerErr := s.node.PrizeWinner(id); winnerErr == nil {
		payload["winner"] = encodeAddress(winner)
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetFees(w http.ResponseWriter, r *http.Request) {
	prizeFees, ticketFees := s.node.FeeBalances()
	respondJSON(w, http.StatusOK, map[string]string{
		"prize_fees":  amountString(prizeFees),
		"ticket_fees": amountString(ticketFees),
		"pot":         amountString(s.node.PotBalance()),
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	buyer, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"address": encodeAddress(buyer),
		"nonce":   s.node.BuyerNonce(buyer),
	})
}

func (s *Server) handleListSigners(w http.ResponseWriter, r *http.Request) {
	signers := s.node.Signers()
	encoded := make([]string, 0, len(signers))
	for _, signer := range signers {
		encoded = append(encoded, encodeAddress(signer))
	}
	respondJSON(w, http.StatusOK, map[string]any{"signers": encoded})
}

type remotePayload struct {
	Chain   uint64 `json:"chain"`
	Address string `json:"address"`
}

func remoteView(remote channel.Remote) remotePayload {
	return remotePayload{Chain: uint64(remote.Chain), Address: encodeAddress(remote.Address)}
}

func remoteViews(remotes []channel.Remote) []remotePayload {
	views := make([]remotePayload, 0, len(remotes))
	for _, remote := range remotes {
		views = append(views, remoteView(remote))
	}
	return views
}

func (s *Server) handleListCounterparts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"prize":  remoteViews(s.node.PrizeCounterparts()),
		"ticket": remoteViews(s.node.TicketCounterparts()),
	})
}

func (s *Server) handleGetPauses(w http.ResponseWriter, r *http.Request) {
	pauses := s.node.Pauses()
	respondJSON(w, http.StatusOK, map[string]bool{
		"prize":   pauses.IsPaused(common.ModulePrize),
		"ticket":  pauses.IsPaused(common.ModuleTicket),
		"channel": pauses.IsPaused(common.ModuleChannel),
	})
}
