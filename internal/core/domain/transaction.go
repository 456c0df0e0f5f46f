package domain

import (
	"fmt"
	"time"
)

type TransactionStatus string

const (
	TransactionStatusPendingPayment    TransactionStatus = "pending_payment"
	TransactionStatusPaymentReceived   TransactionStatus = "payment_received"
	TransactionStatusTicketTransferred TransactionStatus = "ticket_transferred"
	TransactionStatusCompleted         TransactionStatus = "completed"
	TransactionStatusDisputed          TransactionStatus = "disputed"
	TransactionStatusRefunded          TransactionStatus = "refunded"
	TransactionStatusCancelled         TransactionStatus = "cancelled"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPendingPayment:    {TransactionStatusPaymentReceived, TransactionStatusCancelled},
	TransactionStatusPaymentReceived:   {TransactionStatusTicketTransferred, TransactionStatusDisputed},
	TransactionStatusTicketTransferred: {TransactionStatusCompleted, TransactionStatusDisputed},
	TransactionStatusDisputed:          {TransactionStatusRefunded},
}

// FeeBreakdown is the price split of one purchase. TotalPaid is
// TicketPrice+BuyerFee and SellerReceives is TicketPrice-SellerFee.
type FeeBreakdown struct {
	TicketPrice    Money `json:"ticket_price"`
	BuyerFee       Money `json:"buyer_fee"`
	SellerFee      Money `json:"seller_fee"`
	TotalPaid      Money `json:"total_paid"`
	SellerReceives Money `json:"seller_receives"`
}

type Transaction struct {
	ID              string            `json:"id"`
	ListingID       string            `json:"listing_id"`
	BuyerID         string            `json:"buyer_id"`
	SellerID        string            `json:"seller_id"`
	TicketUnitIDs   []string          `json:"ticket_unit_ids"`
	Quantity        int               `json:"quantity"`
	TicketType      TicketType        `json:"ticket_type"`
	TicketPrice     Money             `json:"ticket_price"`
	BuyerFee        Money             `json:"buyer_fee"`
	SellerFee       Money             `json:"seller_fee"`
	TotalPaid       Money             `json:"total_paid"`
	SellerReceives  Money             `json:"seller_receives"`
	Status          TransactionStatus `json:"status"`
	PaymentIntentID string            `json:"payment_intent_id,omitempty"`
	DisputeID       string            `json:"dispute_id,omitempty"`
	AutoReleaseAt   *time.Time        `json:"auto_release_at,omitempty"`
	Version         int               `json:"version"` // optimistic locking

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	PaymentReceivedAt   *time.Time `json:"payment_received_at,omitempty"`
	TicketTransferredAt *time.Time `json:"ticket_transferred_at,omitempty"`
	BuyerConfirmedAt    *time.Time `json:"buyer_confirmed_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	DisputedAt          *time.Time `json:"disputed_at,omitempty"`
	RefundedAt          *time.Time `json:"refunded_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`
}

type NewTransactionParams struct {
	ID            string
	Listing       *Listing
	BuyerID       string
	UnitIDs       []string
	Fees          FeeBreakdown
	AutoReleaseAt *time.Time
	Now           time.Time
}

func NewTransaction(p NewTransactionParams) *Transaction {
	ids := make([]string, len(p.UnitIDs))
	copy(ids, p.UnitIDs)
	return &Transaction{
		ID:             p.ID,
		ListingID:      p.Listing.ID,
		BuyerID:        p.BuyerID,
		SellerID:       p.Listing.SellerID,
		TicketUnitIDs:  ids,
		Quantity:       len(ids),
		TicketType:     p.Listing.TicketType,
		TicketPrice:    p.Fees.TicketPrice,
		BuyerFee:       p.Fees.BuyerFee,
		SellerFee:      p.Fees.SellerFee,
		TotalPaid:      p.Fees.TotalPaid,
		SellerReceives: p.Fees.SellerReceives,
		Status:         TransactionStatusPendingPayment,
		AutoReleaseAt:  p.AutoReleaseAt,
		CreatedAt:      p.Now,
		UpdatedAt:      p.Now,
	}
}

func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusCancelled, TransactionStatusRefunded:
		return true
	}
	return false
}

func (t *Transaction) CanTransition(to TransactionStatus) bool {
	for _, s := range transactionTransitions[t.Status] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the transaction along the state graph and stamps the
// timestamp that belongs to the target state. Out-of-order calls fail
// without changing the transaction.
func (t *Transaction) Transition(to TransactionStatus, now time.Time) error {
	if !t.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	at := now
	switch to {
	case TransactionStatusPaymentReceived:
		t.PaymentReceivedAt = &at
	case TransactionStatusTicketTransferred:
		t.TicketTransferredAt = &at
	case TransactionStatusCompleted:
		t.CompletedAt = &at
	case TransactionStatusDisputed:
		t.DisputedAt = &at
	case TransactionStatusRefunded:
		t.RefundedAt = &at
	case TransactionStatusCancelled:
		t.CancelledAt = &at
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

// DueForAutoRelease reports whether a time-based release applies at now.
func (t *Transaction) DueForAutoRelease(now time.Time) bool {
	return t.Status == TransactionStatusTicketTransferred &&
		t.AutoReleaseAt != nil &&
		!t.AutoReleaseAt.After(now)
}

func (t *Transaction) Clone() *Transaction {
	c := *t
	c.TicketUnitIDs = append([]string(nil), t.TicketUnitIDs...)
	for _, p := range []**time.Time{
		&c.AutoReleaseAt, &c.PaymentReceivedAt, &c.TicketTransferredAt, &c.BuyerConfirmedAt,
		&c.CompletedAt, &c.DisputedAt, &c.RefundedAt, &c.CancelledAt,
	} {
		if *p != nil {
			v := **p
			*p = &v
		}
	}
	return &c
}
