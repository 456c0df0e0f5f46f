package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/adapter/storage"
	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/config"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
)

var eventStart = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent(id string) *domain.Event {
	return &domain.Event{
		ID:     id,
		Status: domain.ApprovalStatusApproved,
		Dates:  []domain.EventDate{{ID: id + "-date", StartsAt: eventStart, Status: domain.ApprovalStatusApproved}},
	}
}

// setupApp builds the server for the given backend. Live backends are
// skipped when unreachable. Events are seeded into whichever catalog the
// backend uses.
func setupApp(t *testing.T, storageBackend, lockBackend string, clk clock.Clock, events ...*domain.Event) *app {
	t.Helper()

	cfg := config.Default()
	cfg.Storage = storageBackend
	cfg.Lock.Backend = lockBackend
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := buildApp(ctx, cfg, clk, testLogger())
	if err != nil {
		if storageBackend != config.StorageMemory || lockBackend != config.LockLocal {
			t.Skipf("%s/%s backend not available: %v", storageBackend, lockBackend, err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(a.Close)

	if a.memCatalog != nil {
		for _, ev := range events {
			a.memCatalog.Put(ev)
		}
		return a
	}
	seedMySQLCatalog(t, cfg, events)
	return a
}

func seedMySQLCatalog(t *testing.T, cfg config.Config, events []*domain.Event) {
	t.Helper()
	db, err := storage.OpenMySQL(cfg.MySQL.DSN, 2, 2)
	require.NoError(t, err)
	defer db.Close()
	cat := catalog.NewMySQL(db)
	for _, ev := range events {
		require.NoError(t, cat.Save(context.Background(), ev))
	}
}

func TestIntegration_FullEscrowFlow(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(eventStart.Add(-24 * time.Hour))
	a := setupApp(t, config.StorageMemory, config.LockLocal, clk, testEvent("flow"))

	l, err := a.listings.CreateListing(ctx, service.CreateListingRequest{
		SellerID:       "seller-1",
		EventID:        "flow",
		EventDateID:    "flow-date",
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     domain.TicketTypeDigitalNonTransferable,
		Quantity:       2,
		PricePerTicket: domain.NewMoney(10000, "USD"),
	})
	require.NoError(t, err)

	txn, err := a.escrow.InitiatePurchase(ctx, "buyer-1", l.ID, l.AvailableUnitIDs())
	require.NoError(t, err)
	assert.Equal(t, int64(22000), txn.TotalPaid.Amount)
	assert.Equal(t, int64(19000), txn.SellerReceives.Amount)

	_, err = a.escrow.HandlePaymentReceived(ctx, txn.ID)
	require.NoError(t, err)
	_, err = a.escrow.ConfirmTransfer(ctx, txn.ID, "seller-1")
	require.NoError(t, err)

	clk.Set(eventStart.Add(2 * time.Hour))
	report, err := a.escrow.ProcessAutoReleases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Released)

	done, err := a.escrow.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, done.Status)

	sold, err := a.listings.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, sold.Status)
}

func TestIntegration_ApprovalThroughRecordingCatalog(t *testing.T) {
	ctx := context.Background()
	ev := testEvent("later")
	ev.Status = domain.ApprovalStatusPending
	a := setupApp(t, config.StorageMemory, config.LockLocal, clock.Fake(eventStart.Add(-time.Hour)), ev)

	l, err := a.listings.CreateListing(ctx, service.CreateListingRequest{
		SellerID:       "seller-1",
		EventID:        "later",
		EventDateID:    "later-date",
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     domain.TicketTypeDigitalTransferable,
		Quantity:       1,
		PricePerTicket: domain.NewMoney(5000, "USD"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.ListingStatusPending, l.Status)

	n, err := a.approvals.HandleApproval(ctx, domain.ApprovalNotice{
		Kind:    domain.ApprovalKindEvent,
		EventID: "later",
		Status:  domain.ApprovalStatusApproved,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// Many buyers race for the units of one listing; each unit must be sold
// at most once.
func runNoOversell(t *testing.T, a *app, eventID string) {
	ctx := context.Background()
	const units, buyers = 10, 40

	l, err := a.listings.CreateListing(ctx, service.CreateListingRequest{
		SellerID:       "seller-" + eventID,
		EventID:        eventID,
		EventDateID:    eventID + "-date",
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     domain.TicketTypeDigitalTransferable,
		Quantity:       units,
		PricePerTicket: domain.NewMoney(2500, "USD"),
	})
	require.NoError(t, err)

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  atomic.Int32
		unexpected []error
	)
	owners := make(map[string]string)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := l.Units[i%units].ID
			buyer := fmt.Sprintf("buyer-%d", i)
			txn, err := a.escrow.InitiatePurchase(ctx, buyer, l.ID, []string{unit})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !errors.Is(err, domain.ErrUnitUnavailable) && !errors.Is(err, domain.ErrConflict) {
					unexpected = append(unexpected, err)
				}
				return
			}
			succeeded.Add(1)
			if prev, ok := owners[unit]; ok {
				t.Errorf("unit %s sold to %s and %s", unit, prev, txn.BuyerID)
			}
			owners[unit] = txn.BuyerID
		}(i)
	}
	wg.Wait()

	assert.Empty(t, unexpected)
	assert.Equal(t, int32(units), succeeded.Load())

	final, err := a.listings.GetListing(ctx, l.ID)
	require.NoError(t, err)
	counts := final.Counts()
	assert.Equal(t, units, counts.Reserved)
	assert.Equal(t, 0, counts.Available)
}

func TestIntegration_NoOversell_Memory(t *testing.T) {
	a := setupApp(t, config.StorageMemory, config.LockLocal, clock.Real(), testEvent("race-mem"))
	runNoOversell(t, a, "race-mem")
}

func TestIntegration_NoOversell_Redis(t *testing.T) {
	id := "race-redis-" + fmt.Sprint(time.Now().UnixNano())
	a := setupApp(t, config.StorageRedis, config.LockRedis, clock.Real(), testEvent(id))
	runNoOversell(t, a, id)
}

func TestIntegration_NoOversell_MySQL(t *testing.T) {
	id := "race-mysql-" + fmt.Sprint(time.Now().UnixNano())
	a := setupApp(t, config.StorageMySQL, config.LockLocal, clock.Real(), testEvent(id))
	runNoOversell(t, a, id)
}
