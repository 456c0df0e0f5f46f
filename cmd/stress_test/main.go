package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/adapter/payment"
	"github.com/rl1809/ticket-escrow/internal/adapter/storage"
	"github.com/rl1809/ticket-escrow/internal/adapter/wallet"
	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/config"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/core/service"
	"github.com/rl1809/ticket-escrow/internal/port"
)

const (
	eventID = "stress-event"
	dateID  = "stress-date"
)

func main() {
	units := pflag.Int("units", 20, "ticket units on the listing")
	buyers := pflag.Int("buyers", 50, "concurrent buyers, each wanting one unit")
	backend := pflag.String("storage", config.StorageMemory, "memory or redis")
	redisAddr := pflag.String("redis-addr", "localhost:6379", "Redis address for --storage=redis")
	pflag.Parse()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var (
		listingRepo port.ListingRepository     = storage.NewMemoryListingRepository()
		txnRepo     port.TransactionRepository = storage.NewMemoryTransactionRepository()
		locker      port.Locker                = service.NewKeyedMutex()
	)
	if *backend == config.StorageRedis {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		listingRepo = storage.NewRedisListingRepository(rdb)
		txnRepo = storage.NewRedisTransactionRepository(rdb)
		locker = storage.NewRedisLocker(rdb, 10*time.Second)
	}

	cat := catalog.NewMemory(&domain.Event{
		ID:     eventID,
		Status: domain.ApprovalStatusApproved,
		Dates: []domain.EventDate{{
			ID:       dateID,
			StartsAt: time.Now().Add(48 * time.Hour),
			Status:   domain.ApprovalStatusApproved,
		}},
	})
	clk := clock.Real()
	listings := service.NewListingService(listingRepo, cat, locker, clk, logger)
	escrow := service.NewEscrowService(service.EscrowDeps{
		Transactions: txnRepo,
		Inventory:    listings,
		Catalog:      cat,
		Wallet:       wallet.NewMemory(),
		Payments:     payment.NewMemory(),
		Fees:         config.Default(),
		Locker:       locker,
		Clock:        clk,
		Logger:       logger,
	})

	listing, err := listings.CreateListing(ctx, service.CreateListingRequest{
		SellerID:       "stress-seller",
		EventID:        eventID,
		EventDateID:    dateID,
		SeatingType:    domain.SeatingTypeUnnumbered,
		TicketType:     domain.TicketTypeDigitalTransferable,
		Quantity:       *units,
		PricePerTicket: domain.NewMoney(5000, "USD"),
	})
	if err != nil {
		logger.Error("failed to create listing", "error", err)
		os.Exit(1)
	}

	var (
		successCount atomic.Int32
		rejectCount  atomic.Int32
		errorCount   atomic.Int32
		wg           sync.WaitGroup
	)
	start := time.Now()

	// Every buyer asks for a unit by index so several buyers contend for each unit.
	for i := 0; i < *buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := listing.Units[i%len(listing.Units)].ID
			_, err := escrow.InitiatePurchase(ctx, fmt.Sprintf("buyer-%d", i), listing.ID, []string{unit})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrUnitUnavailable):
				rejectCount.Add(1)
			default:
				errorCount.Add(1)
				logger.Error("purchase failed", "buyer", i, "error", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := listings.GetListing(ctx, listing.ID)
	if err != nil {
		logger.Error("failed to reload listing", "error", err)
		os.Exit(1)
	}
	counts := final.Counts()

	success := int(successCount.Load())
	expected := min(*units, *buyers)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Storage:          %s\n", *backend)
	fmt.Printf("Units:            %d\n", *units)
	fmt.Printf("Buyers:           %d\n", *buyers)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Rejected:         %d\n", rejectCount.Load())
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == expected && errorCount.Load() == 0 {
		fmt.Printf("PASS: exactly %d purchases succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d purchases, got %d (%d errors)\n", expected, success, errorCount.Load())
		failed = true
	}

	if counts.Reserved == success && counts.Available == *units-success && counts.Sold == 0 {
		fmt.Printf("PASS: units reserved=%d available=%d\n", counts.Reserved, counts.Available)
	} else {
		fmt.Printf("FAIL: unit counts %+v do not match %d purchases\n", counts, success)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}
