package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// WalletLedger moves seller funds in and out of escrow. Entries are keyed by
// refID: repeating the latest entry kind for a ref is a no-op.
type WalletLedger interface {
	HoldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error
	ReleaseFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error
	RefundHeldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error
}

type PaymentIntent struct {
	ID            string
	TransactionID string
	Amount        domain.Money
	Status        string
}

// PaymentGateway is the payment provider as seen by the engine.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, transactionID string, amount domain.Money, metadata map[string]string) (*PaymentIntent, error)

	// GetPaymentByTransactionID returns nil, nil when no payment exists
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*PaymentIntent, error)

	RefundPayment(ctx context.Context, paymentID string) error
}

// EventCatalog is the read side of the external event-approval subsystem.
type EventCatalog interface {
	// GetEventByID returns nil, nil when the event does not exist
	GetEventByID(ctx context.Context, id string) (*domain.Event, error)
}

// FeeConfig supplies marketplace fee settings.
type FeeConfig interface {
	BuyerFeePercentage() decimal.Decimal
	SellerFeePercentage() decimal.Decimal
	DigitalNonTransferableReleaseMinutes() int
}

// EventPublisher emits transaction events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.TransactionEvent) error
}
