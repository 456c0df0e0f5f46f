package handler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/adapter/payment"
	"github.com/rl1809/ticket-escrow/internal/adapter/storage"
	"github.com/rl1809/ticket-escrow/internal/adapter/wallet"
	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/config"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
)

var eventStart = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

type fixture struct {
	clock    *clock.FakeClock
	catalog  *catalog.Memory
	listings *service.ListingService
	escrow   *service.EscrowService
	logger   *slog.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.Fake(eventStart.Add(-72 * time.Hour))
	cat := catalog.NewMemory(
		&domain.Event{
			ID:     "event-1",
			Status: domain.ApprovalStatusApproved,
			Dates:  []domain.EventDate{{ID: "date-1", StartsAt: eventStart, Status: domain.ApprovalStatusApproved}},
		},
		&domain.Event{
			ID:     "event-2",
			Status: domain.ApprovalStatusPending,
			Dates:  []domain.EventDate{{ID: "date-2", StartsAt: eventStart, Status: domain.ApprovalStatusApproved}},
		},
	)
	locker := service.NewKeyedMutex()
	listings := service.NewListingService(storage.NewMemoryListingRepository(), cat, locker, clk, logger)
	escrow := service.NewEscrowService(service.EscrowDeps{
		Transactions: storage.NewMemoryTransactionRepository(),
		Inventory:    listings,
		Catalog:      cat,
		Wallet:       wallet.NewMemory(),
		Payments:     payment.NewMemory(),
		Fees:         config.Default(),
		Locker:       locker,
		Clock:        clk,
		Logger:       logger,
	})

	return &fixture{clock: clk, catalog: cat, listings: listings, escrow: escrow, logger: logger}
}

func (f *fixture) listing(t *testing.T, ticketType domain.TicketType, qty int) *domain.Listing {
	t.Helper()
	l, err := f.listings.CreateListing(context.Background(), service.CreateListingRequest{
		SellerID:       "seller-1",
		EventID:        "event-1",
		EventDateID:    "date-1",
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     ticketType,
		Quantity:       qty,
		PricePerTicket: domain.NewMoney(10000, "USD"),
	})
	require.NoError(t, err)
	return l
}
