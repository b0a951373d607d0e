package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Storage {
	t.Helper()
	store, err := Open("file:raffled_test_" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestInsertAndListReceipts(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	first := Receipt{
		ID:        uuid.NewString(),
		Operation: "raffle.create",
		RaffleID:  7,
		Actor:     "raffle1admin",
		Status:    StatusOK,
		CreatedAt: base,
	}
	second := Receipt{
		ID:        uuid.NewString(),
		Operation: "tickets.buy",
		RaffleID:  7,
		Actor:     "raffle1alice",
		Status:    StatusFailed,
		Detail:    "raffle has ended",
		CreatedAt: base.Add(time.Minute),
	}
	third := Receipt{
		ID:        uuid.NewString(),
		Operation: "prize.lock",
		RaffleID:  9,
		Actor:     "raffle1admin",
		Status:    StatusOK,
		CreatedAt: base.Add(2 * time.Minute),
	}
	require.NoError(t, store.InsertReceipt(ctx, first))
	require.NoError(t, store.InsertReceipt(ctx, second))
	require.NoError(t, store.InsertReceipt(ctx, third))

	all, err := store.Receipts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, third.ID, all[0].ID)
	require.Equal(t, second.ID, all[1].ID)
	require.Equal(t, first.ID, all[2].ID)
	require.Equal(t, "raffle has ended", all[1].Detail)
	require.Equal(t, uint64(9), all[0].RaffleID)

	scoped, err := store.ReceiptsByRaffle(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	require.Equal(t, second.ID, scoped[0].ID)
	require.Equal(t, first.ID, scoped[1].ID)

	limited, err := store.Receipts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, third.ID, limited[0].ID)
}

func TestInsertReceiptValidation(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	err := store.InsertReceipt(ctx, Receipt{Operation: "raffle.create", Status: StatusOK})
	require.Error(t, err)
	require.Contains(t, err.Error(), "id required")

	err = store.InsertReceipt(ctx, Receipt{ID: uuid.NewString(), Status: StatusOK})
	require.Error(t, err)
	require.Contains(t, err.Error(), "operation required")

	err = store.InsertReceipt(ctx, Receipt{ID: uuid.NewString(), Operation: "raffle.create", Status: "partial"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid")
}

func TestInsertReceiptRejectsDuplicateID(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	rec := Receipt{ID: uuid.NewString(), Operation: "raffle.cancel", RaffleID: 3, Status: StatusOK}
	require.NoError(t, store.InsertReceipt(ctx, rec))
	err := store.InsertReceipt(ctx, rec)
	require.Error(t, err)
}

func TestFileDSN(t *testing.T) {
	dsn, err := FileDSN("  ./receipts.sqlite ")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dsn, "file:/"))
	require.Contains(t, dsn, "_journal_mode=WAL")

	_, err = FileDSN("   ")
	require.ErrorIs(t, err, ErrPathRequired)
}
