package storage

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"math/big"
	"strconv"
)

func amountToString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ExportCSV renders every prize custody record as a deterministic CSV
// document ordered by raffle id. The CSV is returned as a base64 encoded
// string alongside the row count and the summed fungible amounts in base
// units.
func (l *PrizeLedger) ExportCSV() (string, int, *big.Int, error) {
	records, err := l.PrizeRecords()
	if err != nil {
		return "", 0, nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"raffleId", "kind", "collection", "tokenId", "token", "amount", "claimed", "lockedAt", "winner"}
	if err := writer.Write(header); err != nil {
		return "", 0, nil, err
	}
	total := big.NewInt(0)
	for _, record := range records {
		if record.Amount != nil {
			total = new(big.Int).Add(total, record.Amount)
		}
		winner := ""
		if w, ok := l.WinnerGet(record.RaffleID); ok {
			winner = hex.EncodeToString(w[:])
		}
		tokenID := ""
		if record.TokenID != nil {
			tokenID = record.TokenID.String()
		}
		row := []string{
			strconv.FormatUint(record.RaffleID, 10),
			record.Kind.String(),
			hex.EncodeToString(record.Collection[:]),
			tokenID,
			hex.EncodeToString(record.Token[:]),
			amountToString(record.Amount),
			strconv.FormatBool(record.Claimed),
			strconv.FormatInt(record.LockedAt, 10),
			winner,
		}
		if err := writer.Write(row); err != nil {
			return "", 0, nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", 0, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return encoded, len(records), total, nil
}

// ExportParticipationsCSV renders the participation table across every known
// raffle, ordered by raffle id then player address. The CSV is returned as a
// base64 encoded string alongside the row count and the summed spend.
func (l *TicketLedger) ExportParticipationsCSV() (string, int, *big.Int, error) {
	raffles, err := l.Raffles()
	if err != nil {
		return "", 0, nil, err
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	header := []string{"raffleId", "player", "spent", "purchased", "refunded", "raffleStatus"}
	if err := writer.Write(header); err != nil {
		return "", 0, nil, err
	}
	rows := 0
	total := big.NewInt(0)
	for _, raffle := range raffles {
		players, err := l.Participants(raffle.ID)
		if err != nil {
			return "", 0, nil, err
		}
		for _, player := range players {
			part, ok := l.ParticipationGet(raffle.ID, player)
			if !ok {
				continue
			}
			total = new(big.Int).Add(total, new(big.Int).SetUint64(part.Spent))
			row := []string{
				strconv.FormatUint(raffle.ID, 10),
				hex.EncodeToString(player[:]),
				strconv.FormatUint(part.Spent, 10),
				strconv.FormatUint(uint64(part.Purchased), 10),
				strconv.FormatBool(part.Refunded),
				raffle.Status.String(),
			}
			if err := writer.Write(row); err != nil {
				return "", 0, nil, err
			}
			rows++
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", 0, nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	return encoded, rows, total, nil
}
