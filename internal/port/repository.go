package port

import (
	"context"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// ListingRepository stores listings. It gives no atomicity across calls;
// the core serializes read-modify-write itself.
type ListingRepository interface {
	// Get returns nil, nil when the listing does not exist
	Get(ctx context.Context, id string) (*domain.Listing, error)

	// GetMany returns the listings that exist, skipping unknown ids
	GetMany(ctx context.Context, ids []string) ([]*domain.Listing, error)

	// GetAll returns every stored listing
	GetAll(ctx context.Context) ([]*domain.Listing, error)

	// Set stores the listing if its Version matches the stored one and bumps Version
	Set(ctx context.Context, listing *domain.Listing) error
}

// TransactionRepository stores escrow transactions with the same contract as ListingRepository.
type TransactionRepository interface {
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Transaction, error)
	GetAll(ctx context.Context) ([]*domain.Transaction, error)
	Set(ctx context.Context, txn *domain.Transaction) error
}
