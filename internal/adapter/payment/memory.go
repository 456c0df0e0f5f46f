// Package payment holds a development stand-in for the payment provider.
package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
	"github.com/rl1809/ticket-escrow/internal/port"
)

const (
	StatusRequiresPayment = "requires_payment"
	StatusRefunded        = "refunded"
)

// Memory creates payment intents without talking to a provider.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]*port.PaymentIntent
	byTxn   map[string]string
	newID   func() string
	history map[string]map[string]string // intent id -> metadata
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]*port.PaymentIntent),
		byTxn:   make(map[string]string),
		history: make(map[string]map[string]string),
		newID:   func() string { return "pi_" + uuid.NewString() },
	}
}

func (m *Memory) CreatePaymentIntent(ctx context.Context, transactionID string, amount domain.Money, metadata map[string]string) (*port.PaymentIntent, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", domain.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byTxn[transactionID]; ok {
		c := *m.byID[id]
		return &c, nil
	}

	pi := &port.PaymentIntent{
		ID:            m.newID(),
		TransactionID: transactionID,
		Amount:        amount,
		Status:        StatusRequiresPayment,
	}
	m.byID[pi.ID] = pi
	m.byTxn[transactionID] = pi.ID

	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	m.history[pi.ID] = meta

	c := *pi
	return &c, nil
}

func (m *Memory) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*port.PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byTxn[transactionID]
	if !ok {
		return nil, nil
	}
	c := *m.byID[id]
	return &c, nil
}

func (m *Memory) RefundPayment(ctx context.Context, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pi, ok := m.byID[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	if pi.Status == StatusRefunded {
		return fmt.Errorf("%w: payment already refunded", domain.ErrConflict)
	}
	pi.Status = StatusRefunded
	return nil
}

// Metadata returns the metadata an intent was created with.
func (m *Memory) Metadata(paymentID string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[paymentID]
}
