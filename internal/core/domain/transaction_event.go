package domain

import "time"

// TransactionEvent is published after every transaction state change.
type TransactionEvent struct {
	Type          string            `json:"type"`
	TransactionID string            `json:"transaction_id"`
	ListingID     string            `json:"listing_id"`
	BuyerID       string            `json:"buyer_id"`
	SellerID      string            `json:"seller_id"`
	Status        TransactionStatus `json:"status"`
	Amount        Money             `json:"amount"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

func NewTransactionEvent(t *Transaction, now time.Time) TransactionEvent {
	return TransactionEvent{
		Type:          "transaction." + string(t.Status),
		TransactionID: t.ID,
		ListingID:     t.ListingID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Status:        t.Status,
		Amount:        t.TotalPaid,
		OccurredAt:    now,
	}
}
