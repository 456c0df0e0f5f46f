package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/ticket-escrow/internal/clock"
	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/metrics"
	"github.com/rl1809/ticket-escrow/internal/port"
)

const (
	sweepLockKey        = "sweep:auto-release"
	defaultSweepTimeout = 30 * time.Second
)

// unitInventory is the part of ListingService the engine depends on.
type unitInventory interface {
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	ReserveUnits(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error)
	RestoreUnits(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error)
	MarkUnitsSold(ctx context.Context, listingID string, unitIDs []string) (*domain.Listing, error)
}

type EscrowDeps struct {
	Transactions port.TransactionRepository
	Inventory    unitInventory
	Catalog      port.EventCatalog
	Wallet       port.WalletLedger
	Payments     port.PaymentGateway
	Fees         port.FeeConfig
	Locker       port.Locker
	Clock        clock.Clock
	Logger       *slog.Logger

	// Optional
	Publisher    port.EventPublisher
	SweepLocker  port.Locker
	SweepTimeout time.Duration
}

// EscrowService drives the purchase lifecycle of a transaction from
// reservation to payout or refund.
type EscrowService struct {
	txns      port.TransactionRepository
	inventory unitInventory
	catalog   port.EventCatalog
	wallet    port.WalletLedger
	payments  port.PaymentGateway
	fees      port.FeeConfig
	locker    port.Locker
	clock     clock.Clock
	logger    *slog.Logger
	publisher port.EventPublisher

	sweepLocker  port.Locker
	sweepTimeout time.Duration
	sweeping     atomic.Bool

	newID func() string
}

func NewEscrowService(d EscrowDeps) *EscrowService {
	timeout := d.SweepTimeout
	if timeout <= 0 {
		timeout = defaultSweepTimeout
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{
		txns:         d.Transactions,
		inventory:    d.Inventory,
		catalog:      d.Catalog,
		wallet:       d.Wallet,
		payments:     d.Payments,
		fees:         d.Fees,
		locker:       d.Locker,
		clock:        d.Clock,
		logger:       logger,
		publisher:    d.Publisher,
		sweepLocker:  d.SweepLocker,
		sweepTimeout: timeout,
		newID:        uuid.NewString,
	}
}

func txnLockKey(id string) string { return "txn:" + id }

// InitiatePurchase reserves the requested units and opens a transaction
// awaiting payment. Units are reserved before the record is written; a
// failed write gives the units back.
func (s *EscrowService) InitiatePurchase(ctx context.Context, buyerID, listingID string, unitIDs []string) (*domain.Transaction, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer is required", domain.ErrValidation)
	}
	if len(unitIDs) == 0 {
		return nil, domain.ErrEmptySelection
	}

	listing, err := s.inventory.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.SellerID == buyerID {
		return nil, domain.ErrSelfPurchase
	}
	autoReleaseAt, err := s.autoReleaseAt(ctx, listing)
	if err != nil {
		return nil, err
	}

	reserved, err := s.inventory.ReserveUnits(ctx, listingID, unitIDs)
	if err != nil {
		return nil, err
	}

	fees, err := CalculateFees(reserved.PricePerTicket, len(unitIDs), s.fees.BuyerFeePercentage(), s.fees.SellerFeePercentage())
	if err != nil {
		s.restoreAfterFailure(ctx, listingID, unitIDs, "")
		return nil, err
	}

	txn := domain.NewTransaction(domain.NewTransactionParams{
		ID:            s.newID(),
		Listing:       reserved,
		BuyerID:       buyerID,
		UnitIDs:       unitIDs,
		Fees:          fees,
		AutoReleaseAt: autoReleaseAt,
		Now:           s.clock.Now(),
	})

	release, err := s.locker.Lock(ctx, txnLockKey(txn.ID))
	if err != nil {
		s.restoreAfterFailure(ctx, listingID, unitIDs, txn.ID)
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	defer release()

	if err := s.txns.Set(ctx, txn); err != nil {
		s.restoreAfterFailure(ctx, listingID, unitIDs, txn.ID)
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	s.emit(ctx, txn, "")

	intent, err := s.payments.CreatePaymentIntent(ctx, txn.ID, txn.TotalPaid, map[string]string{
		"transaction_id": txn.ID,
		"listing_id":     txn.ListingID,
		"buyer_id":       txn.BuyerID,
		"seller_id":      txn.SellerID,
	})
	if err != nil {
		s.abandon(ctx, txn)
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	txn.PaymentIntentID = intent.ID
	txn.UpdatedAt = s.clock.Now()
	if err := s.txns.Set(ctx, txn); err != nil {
		// The intent still carries the transaction id in its metadata.
		s.logger.Warn("failed to record payment intent",
			"transaction_id", txn.ID,
			"payment_intent_id", intent.ID,
			"error", err,
		)
	}
	return txn, nil
}

func (s *EscrowService) autoReleaseAt(ctx context.Context, listing *domain.Listing) (*time.Time, error) {
	policy, err := domain.PolicyFor(listing.TicketType)
	if err != nil {
		return nil, err
	}
	if !policy.AutoRelease {
		return nil, nil
	}
	event, err := s.catalog.GetEventByID(ctx, listing.EventID)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	date, ok := event.Date(listing.EventDateID)
	if !ok {
		return nil, domain.ErrUnknownEventDate
	}
	after := time.Duration(s.fees.DigitalNonTransferableReleaseMinutes()) * time.Minute
	return policy.AutoReleaseAt(date.StartsAt, after), nil
}

func (s *EscrowService) restoreAfterFailure(ctx context.Context, listingID string, unitIDs []string, txnID string) {
	if _, err := s.inventory.RestoreUnits(ctx, listingID, unitIDs); err != nil {
		s.logger.Error("CRITICAL: reserved units not restored",
			"listing_id", listingID,
			"transaction_id", txnID,
			"unit_ids", unitIDs,
			"error", err,
		)
	}
}

// abandon cancels a transaction that never got a payment intent. Units go
// back only once the cancellation is saved.
func (s *EscrowService) abandon(ctx context.Context, txn *domain.Transaction) {
	if err := txn.Transition(domain.TransactionStatusCancelled, s.clock.Now()); err != nil {
		return
	}
	if err := s.txns.Set(ctx, txn); err != nil {
		s.logger.Error("CRITICAL: transaction without payment intent not cancelled, units stay reserved",
			"transaction_id", txn.ID,
			"error", err,
		)
		return
	}
	s.emit(ctx, txn, domain.TransactionStatusPendingPayment)
	s.restoreAfterFailure(ctx, txn.ListingID, txn.TicketUnitIDs, txn.ID)
}

// step describes one state transition. authorize and effect run under the
// transaction lock before the state changes; effect is where money moves.
// after runs once the new state is saved, still under the lock.
type step struct {
	to        domain.TransactionStatus
	authorize func(t *domain.Transaction) error
	effect    func(ctx context.Context, t *domain.Transaction) error
	stamp     func(t *domain.Transaction, now time.Time)
	after     func(ctx context.Context, t *domain.Transaction)
}

func (s *EscrowService) apply(ctx context.Context, id string, st step) (*domain.Transaction, error) {
	release, err := s.locker.Lock(ctx, txnLockKey(id))
	if err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	defer release()

	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.authorize != nil {
		if err := st.authorize(t); err != nil {
			return nil, err
		}
	}
	if !t.CanTransition(st.to) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, t.Status, st.to)
	}
	if st.effect != nil {
		if err := st.effect(ctx, t); err != nil {
			return nil, err
		}
		// The effect is applied; the caller's deadline must not stop the save.
		ctx = context.WithoutCancel(ctx)
	}

	from := t.Status
	now := s.clock.Now()
	if err := t.Transition(st.to, now); err != nil {
		return nil, err
	}
	if st.stamp != nil {
		st.stamp(t, now)
	}
	if err := s.txns.Set(ctx, t); err != nil {
		if st.effect != nil {
			s.logger.Error("CRITICAL: side effects applied but transaction not saved",
				"transaction_id", t.ID,
				"from", from,
				"to", st.to,
				"error", err,
			)
		}
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	s.emit(ctx, t, from)
	if st.after != nil {
		st.after(context.WithoutCancel(ctx), t)
	}
	return t, nil
}

func (s *EscrowService) emit(ctx context.Context, t *domain.Transaction, from domain.TransactionStatus) {
	label := string(from)
	if label == "" {
		label = "none"
	}
	metrics.TrackTransition(label, string(t.Status))
	s.logger.Info("transaction transitioned",
		"transaction_id", t.ID,
		"listing_id", t.ListingID,
		"from", label,
		"to", t.Status,
	)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.NewTransactionEvent(t, s.clock.Now())); err != nil {
		s.logger.Warn("failed to publish transaction event", "transaction_id", t.ID, "error", err)
	}
}

func memo(action string, t *domain.Transaction) string {
	return fmt.Sprintf("%s for transaction %s", action, t.ID)
}

// HandlePaymentReceived holds the seller's proceeds in escrow and commits
// the reserved units as sold. It fails without moving money when the units
// are no longer reserved.
func (s *EscrowService) HandlePaymentReceived(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.apply(ctx, id, step{
		to:     domain.TransactionStatusPaymentReceived,
		effect: s.holdAndSell,
	})
}

func (s *EscrowService) holdAndSell(ctx context.Context, t *domain.Transaction) error {
	listing, err := s.inventory.GetListing(ctx, t.ListingID)
	if err != nil {
		return err
	}
	if err := listing.CheckReserved(t.TicketUnitIDs); err != nil {
		return err
	}
	if err := s.wallet.HoldFunds(ctx, t.SellerID, t.SellerReceives, t.ID, memo("escrow hold", t)); err != nil {
		return fmt.Errorf("hold funds: %w", err)
	}
	if _, err := s.inventory.MarkUnitsSold(ctx, t.ListingID, t.TicketUnitIDs); err != nil {
		undo := context.WithoutCancel(ctx)
		if rerr := s.wallet.RefundHeldFunds(undo, t.SellerID, t.SellerReceives, t.ID, memo("escrow hold reversal", t)); rerr != nil {
			s.logger.Error("CRITICAL: funds held but units not sold",
				"transaction_id", t.ID,
				"listing_id", t.ListingID,
				"error", rerr,
			)
		}
		return fmt.Errorf("mark units sold: %w", err)
	}
	return nil
}

func (s *EscrowService) ConfirmTransfer(ctx context.Context, id, sellerID string) (*domain.Transaction, error) {
	return s.apply(ctx, id, step{
		to: domain.TransactionStatusTicketTransferred,
		authorize: func(t *domain.Transaction) error {
			if t.SellerID != sellerID {
				return domain.ErrNotSeller
			}
			return nil
		},
	})
}

func (s *EscrowService) ConfirmReceipt(ctx context.Context, id, buyerID string) (*domain.Transaction, error) {
	return s.apply(ctx, id, step{
		to: domain.TransactionStatusCompleted,
		authorize: func(t *domain.Transaction) error {
			if t.BuyerID != buyerID {
				return domain.ErrNotBuyer
			}
			return nil
		},
		effect: s.releaseFunds,
		stamp: func(t *domain.Transaction, now time.Time) {
			at := now
			t.BuyerConfirmedAt = &at
		},
	})
}

func (s *EscrowService) releaseFunds(ctx context.Context, t *domain.Transaction) error {
	if err := s.wallet.ReleaseFunds(ctx, t.SellerID, t.SellerReceives, t.ID, memo("escrow release", t)); err != nil {
		return fmt.Errorf("release funds: %w", err)
	}
	return nil
}

// CancelTransaction gives the exact units recorded on the transaction back
// to the listing. Only unpaid transactions can be cancelled. The units are
// restored after the cancellation is saved; a failed save leaves them
// reserved.
func (s *EscrowService) CancelTransaction(ctx context.Context, id, buyerID string) (*domain.Transaction, error) {
	return s.apply(ctx, id, step{
		to: domain.TransactionStatusCancelled,
		authorize: func(t *domain.Transaction) error {
			if t.BuyerID != buyerID {
				return domain.ErrNotBuyer
			}
			return nil
		},
		after: func(ctx context.Context, t *domain.Transaction) {
			if _, err := s.inventory.RestoreUnits(ctx, t.ListingID, t.TicketUnitIDs); err != nil {
				s.logger.Error("CRITICAL: transaction cancelled but units not restored",
					"transaction_id", t.ID,
					"listing_id", t.ListingID,
					"unit_ids", t.TicketUnitIDs,
					"error", err,
				)
			}
		},
	})
}

func (s *EscrowService) MarkDisputed(ctx context.Context, id, disputeID string) (*domain.Transaction, error) {
	if disputeID == "" {
		return nil, fmt.Errorf("%w: dispute id is required", domain.ErrValidation)
	}
	return s.apply(ctx, id, step{
		to: domain.TransactionStatusDisputed,
		stamp: func(t *domain.Transaction, _ time.Time) {
			t.DisputeID = disputeID
		},
	})
}

// RefundTransaction resolves a dispute in the buyer's favour. Units stay
// sold.
func (s *EscrowService) RefundTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.apply(ctx, id, step{
		to: domain.TransactionStatusRefunded,
		effect: func(ctx context.Context, t *domain.Transaction) error {
			payment, err := s.payments.GetPaymentByTransactionID(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("get payment: %w", err)
			}
			if payment == nil {
				return domain.ErrPaymentNotFound
			}
			if err := s.wallet.RefundHeldFunds(ctx, t.SellerID, t.SellerReceives, t.ID, memo("escrow refund", t)); err != nil {
				return fmt.Errorf("refund held funds: %w", err)
			}
			if err := s.payments.RefundPayment(ctx, payment.ID); err != nil {
				if herr := s.wallet.HoldFunds(ctx, t.SellerID, t.SellerReceives, t.ID, memo("escrow re-hold", t)); herr != nil {
					s.logger.Error("CRITICAL: held funds refunded but payment refund failed",
						"transaction_id", t.ID,
						"payment_id", payment.ID,
						"error", herr,
					)
				}
				return fmt.Errorf("refund payment: %w", err)
			}
			return nil
		},
	})
}

func (s *EscrowService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	t, err := s.txns.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	if t == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return t, nil
}

// ListTransactionsByUser returns transactions where the user is buyer or
// seller, oldest first.
func (s *EscrowService) ListTransactionsByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	all, err := s.txns.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	res := make([]*domain.Transaction, 0)
	for _, t := range all {
		if t.BuyerID == userID || t.SellerID == userID {
			res = append(res, t)
		}
	}
	slices.SortFunc(res, func(a, b *domain.Transaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return res, nil
}

// SweepReport summarizes one auto-release pass. Deferred counts due
// transactions left for the next pass after the sweep timed out.
type SweepReport struct {
	Released int `json:"released"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
}

var errNotDue = errors.New("transaction not due for auto-release")

// ProcessAutoReleases completes every transferred transaction whose release
// time has passed. Only one pass runs at a time; a failing item is logged and
// the pass moves on.
func (s *EscrowService) ProcessAutoReleases(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	if !s.sweeping.CompareAndSwap(false, true) {
		return report, domain.ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	if s.sweepLocker != nil {
		release, err := s.sweepLocker.TryLock(ctx, sweepLockKey)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return report, domain.ErrSweepInProgress
		}
		if err != nil {
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, s.sweepTimeout)
	defer cancel()
	start := time.Now()

	all, err := s.txns.GetAll(ctx)
	if err != nil {
		return report, fmt.Errorf("list transactions: %w", err)
	}
	now := s.clock.Now()
	due := make([]string, 0)
	for _, t := range all {
		if t.DueForAutoRelease(now) {
			due = append(due, t.ID)
		}
	}

	for i, id := range due {
		if ctx.Err() != nil {
			report.Deferred = len(due) - i
			s.logger.Warn("auto-release sweep timed out", "deferred", report.Deferred)
			break
		}
		_, err := s.apply(ctx, id, step{
			to: domain.TransactionStatusCompleted,
			authorize: func(t *domain.Transaction) error {
				if !t.DueForAutoRelease(s.clock.Now()) {
					return errNotDue
				}
				return nil
			},
			effect: s.releaseFunds,
		})
		switch {
		case errors.Is(err, errNotDue):
			report.Skipped++
		case err != nil:
			report.Failed++
			s.logger.Error("auto-release failed", "transaction_id", id, "error", err)
		default:
			report.Released++
		}
	}

	metrics.TrackSweep(report.Released, report.Skipped, report.Failed, time.Since(start))
	if report.Released+report.Failed > 0 {
		s.logger.Info("auto-release sweep finished",
			"released", report.Released,
			"skipped", report.Skipped,
			"failed", report.Failed,
			"deferred", report.Deferred,
		)
	}
	return report, nil
}
