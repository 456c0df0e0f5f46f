package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/ticket-escrow/internal/adapter/catalog"
	"github.com/rl1809/ticket-escrow/internal/adapter/messaging"
	"github.com/rl1809/ticket-escrow/internal/adapter/payment"
	"github.com/rl1809/ticket-escrow/internal/adapter/storage"
	"github.com/rl1809/ticket-escrow/internal/adapter/wallet"
	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/config"
	"github.com/rl1809/ticket-escrow/internal/core/service"
	"github.com/rl1809/ticket-escrow/internal/port"
)

// app holds the wired services and everything that must be closed on exit.
type app struct {
	listings  *service.ListingService
	escrow    *service.EscrowService
	approvals catalog.ApprovalHandler
	consumer  *messaging.ApprovalConsumer

	// set when the catalog lives in memory
	memCatalog *catalog.Memory

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg config.Config, clk clock.Clock, logger *slog.Logger) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var db *sql.DB
	if cfg.Storage == config.StorageMySQL {
		db, err = storage.OpenMySQL(cfg.MySQL.DSN, cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		if err := storage.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		logger.Info("connected to mysql")
	}

	var rdb redis.UniversalClient
	if cfg.Storage == config.StorageRedis || cfg.Lock.Backend == config.LockRedis {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	var (
		listingRepo port.ListingRepository
		txnRepo     port.TransactionRepository
	)
	switch cfg.Storage {
	case config.StorageMySQL:
		listingRepo = storage.NewMySQLListingRepository(db)
		txnRepo = storage.NewMySQLTransactionRepository(db)
	case config.StorageRedis:
		listingRepo = storage.NewRedisListingRepository(rdb)
		txnRepo = storage.NewRedisTransactionRepository(rdb)
	default:
		listingRepo = storage.NewMemoryListingRepository()
		txnRepo = storage.NewMemoryTransactionRepository()
	}

	var (
		events  port.EventCatalog
		ledger  port.WalletLedger
		locker  port.Locker = service.NewKeyedMutex()
		sweeper port.Locker
	)
	if db != nil {
		events = catalog.NewMySQL(db)
		ledger = wallet.NewMySQL(db)
	} else {
		a.memCatalog = catalog.NewMemory()
		events = a.memCatalog
		ledger = wallet.NewMemory()
	}
	if rdb != nil {
		sweeper = storage.NewRedisLocker(rdb, cfg.Sweep.Timeout)
	}
	if cfg.Lock.Backend == config.LockRedis {
		locker = storage.NewRedisLocker(rdb, cfg.Lock.TTL)
	}

	var publisher port.EventPublisher
	if cfg.AMQP.Enabled {
		conn, err := amqp.Dial(cfg.AMQP.URL)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		pub, err := messaging.NewPublisher(conn, cfg.AMQP.Exchange)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		publisher = pub
		logger.Info("connected to rabbitmq", "exchange", cfg.AMQP.Exchange)
	}

	a.listings = service.NewListingService(listingRepo, events, locker, clk, logger)
	a.escrow = service.NewEscrowService(service.EscrowDeps{
		Transactions: txnRepo,
		Inventory:    a.listings,
		Catalog:      events,
		Wallet:       ledger,
		Payments:     payment.NewMemory(),
		Fees:         cfg,
		Locker:       locker,
		Clock:        clk,
		Logger:       logger,
		Publisher:    publisher,
		SweepLocker:  sweeper,
		SweepTimeout: cfg.Sweep.Timeout,
	})

	a.approvals = a.listings
	if a.memCatalog != nil {
		a.approvals = a.memCatalog.Recording(a.listings)
	}
	if cfg.AMQP.Enabled {
		a.consumer = messaging.NewApprovalConsumer(cfg.AMQP.URL, cfg.AMQP.ApprovalQueue, a.approvals, logger)
	}

	return a, nil
}
