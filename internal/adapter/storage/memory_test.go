package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/port"
)

var (
	_ port.ListingRepository     = (*MemoryRepository[*domain.Listing])(nil)
	_ port.TransactionRepository = (*MemoryRepository[*domain.Transaction])(nil)
	_ port.ListingRepository     = (*MySQLRepository[*domain.Listing])(nil)
	_ port.TransactionRepository = (*MySQLRepository[*domain.Transaction])(nil)
	_ port.ListingRepository     = (*RedisRepository[*domain.Listing])(nil)
	_ port.TransactionRepository = (*RedisRepository[*domain.Transaction])(nil)
	_ port.Locker                = (*RedisLocker)(nil)
)

func testListing(id string) *domain.Listing {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	return &domain.Listing{
		ID:             id,
		SellerID:       "seller-1",
		EventID:        "event-1",
		EventDateID:    "date-1",
		SeatingType:    domain.SeatingTypeNumbered,
		TicketType:     domain.TicketTypeDigitalTransferable,
		Units:          []domain.TicketUnit{{ID: id + "-u1", Status: domain.UnitStatusAvailable, Seat: &domain.Seat{Row: "A", SeatNumber: "1"}}},
		PricePerTicket: domain.NewMoney(5000, "USD"),
		Status:         domain.ListingStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestMemoryRepository_VersionedSet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryListingRepository()

	l := testListing("l1")
	require.NoError(t, repo.Set(ctx, l))
	assert.Equal(t, 1, l.Version)

	stale := testListing("l1")
	assert.ErrorIs(t, repo.Set(ctx, stale), domain.ErrVersionConflict)

	got, err := repo.Get(ctx, "l1")
	require.NoError(t, err)
	got.Units[0].Status = domain.UnitStatusReserved
	require.NoError(t, repo.Set(ctx, got))
	assert.Equal(t, 2, got.Version)

	assert.ErrorIs(t, repo.Set(ctx, l), domain.ErrVersionConflict)
}

func TestMemoryRepository_CopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryListingRepository()

	l := testListing("l1")
	require.NoError(t, repo.Set(ctx, l))
	l.Units[0].Status = domain.UnitStatusSold

	got, err := repo.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitStatusAvailable, got.Units[0].Status)

	got.Units[0].Seat.Row = "Z"
	again, err := repo.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Units[0].Seat.Row)
}

func TestMemoryRepository_Reads(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTransactionRepository()

	missing, err := repo.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	for _, id := range []string{"t2", "t1", "t3"} {
		require.NoError(t, repo.Set(ctx, &domain.Transaction{ID: id, Status: domain.TransactionStatusPendingPayment}))
	}

	many, err := repo.GetMany(ctx, []string{"t3", "unknown", "t1"})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, "t3", many[0].ID)
	assert.Equal(t, "t1", many[1].ID)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t1", all[0].ID)
}

func TestCBORRoundTripKeepsTimestamps(t *testing.T) {
	l := testListing("l1")
	at := l.CreatedAt.Add(time.Hour)
	txn := &domain.Transaction{ID: "t1", AutoReleaseAt: &at, TicketUnitIDs: []string{"u1"}, CreatedAt: l.CreatedAt}

	data, err := encMode.Marshal(txn)
	require.NoError(t, err)
	var decoded *domain.Transaction
	require.NoError(t, decMode.Unmarshal(data, &decoded))

	assert.True(t, decoded.CreatedAt.Equal(l.CreatedAt))
	require.NotNil(t, decoded.AutoReleaseAt)
	assert.True(t, decoded.AutoReleaseAt.Equal(at))
	assert.Equal(t, []string{"u1"}, decoded.TicketUnitIDs)
}
