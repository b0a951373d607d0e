package storage

import (
	"encoding/base64"
	"encoding/csv"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rafflenet/native/prize"
	"rafflenet/native/ticket"
)

func decodeCSV(t *testing.T, encoded string) [][]string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(raw))).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestPrizeLedgerExportCSV(t *testing.T) {
	ledger := NewPrizeLedger(NewMemDB())

	require.NoError(t, ledger.PrizePut(&prize.Record{
		RaffleID: 7,
		Kind:     prize.KindETH,
		Amount:   big.NewInt(2500),
		LockedAt: 1_700_000_100,
	}))
	collection := testAddr(0xC0)
	require.NoError(t, ledger.PrizePut(&prize.Record{
		RaffleID:   3,
		Kind:       prize.KindNFT,
		Collection: collection,
		TokenID:    big.NewInt(99),
		Amount:     big.NewInt(0),
		Claimed:    true,
		LockedAt:   1_700_000_000,
	}))
	winner := testAddr(0xAA)
	require.NoError(t, ledger.WinnerPut(3, winner))

	encoded, count, total, err := ledger.ExportCSV()
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Zero(t, total.Cmp(big.NewInt(2500)))

	rows := decodeCSV(t, encoded)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"raffleId", "kind", "collection", "tokenId", "token", "amount", "claimed", "lockedAt", "winner"}, rows[0])

	nftRow := rows[1]
	require.Equal(t, "3", nftRow[0])
	require.Equal(t, "nft", nftRow[1])
	require.Equal(t, hex.EncodeToString(collection[:]), nftRow[2])
	require.Equal(t, "99", nftRow[3])
	require.Equal(t, "0", nftRow[5])
	require.Equal(t, "true", nftRow[6])
	require.Equal(t, hex.EncodeToString(winner[:]), nftRow[8])

	ethRow := rows[2]
	require.Equal(t, "7", ethRow[0])
	require.Equal(t, "eth", ethRow[1])
	require.Equal(t, "2500", ethRow[5])
	require.Equal(t, "false", ethRow[6])
	require.Equal(t, "1700000100", ethRow[7])
	require.Equal(t, "", ethRow[8])
}

func TestTicketLedgerExportParticipationsCSV(t *testing.T) {
	ledger := NewTicketLedger(NewMemDB())

	require.NoError(t, ledger.RafflePut(&ticket.Raffle{
		ID:          1,
		Status:      ticket.StatusIdle,
		TotalRaised: big.NewInt(350),
	}))
	require.NoError(t, ledger.RafflePut(&ticket.Raffle{
		ID:          4,
		Status:      ticket.StatusCanceled,
		TotalRaised: big.NewInt(50),
	}))

	alice := testAddr(0x01)
	bob := testAddr(0x02)
	require.NoError(t, ledger.ParticipationPut(1, bob, ticket.Participation{Spent: 150, Purchased: 3}))
	require.NoError(t, ledger.ParticipationPut(1, alice, ticket.Participation{Spent: 200, Purchased: 2}))
	require.NoError(t, ledger.ParticipationPut(4, alice, ticket.Participation{Spent: 50, Purchased: 1, Refunded: true}))

	encoded, count, total, err := ledger.ExportParticipationsCSV()
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.Zero(t, total.Cmp(big.NewInt(400)))

	rows := decodeCSV(t, encoded)
	require.Len(t, rows, 4)
	require.Equal(t, []string{"raffleId", "player", "spent", "purchased", "refunded", "raffleStatus"}, rows[0])

	require.Equal(t, []string{"1", hex.EncodeToString(alice[:]), "200", "2", "false", "idle"}, rows[1])
	require.Equal(t, []string{"1", hex.EncodeToString(bob[:]), "150", "3", "false", "idle"}, rows[2])
	require.Equal(t, []string{"4", hex.EncodeToString(alice[:]), "50", "1", "true", "canceled"}, rows[3])
}

func TestExportsOnEmptyLedgers(t *testing.T) {
	db := NewMemDB()

	encoded, count, total, err := NewPrizeLedger(db).ExportCSV()
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Zero(t, total.Sign())
	require.Len(t, decodeCSV(t, encoded), 1)

	encoded, count, total, err = NewTicketLedger(db).ExportParticipationsCSV()
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.Zero(t, total.Sign())
	require.Len(t, decodeCSV(t, encoded), 1)
}
