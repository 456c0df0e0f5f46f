// Package wallet implements the seller wallet ledger. Held funds are
// escrowed proceeds; released funds become available to the seller.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

var ErrInsufficientHeld = fmt.Errorf("%w: insufficient held funds", domain.ErrConflict)

type EntryKind string

const (
	EntryHold    EntryKind = "hold"
	EntryRelease EntryKind = "release"
	EntryRefund  EntryKind = "refund"
)

type Balance struct {
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

// apply returns the balance after an entry of kind and amount.
func (b Balance) apply(kind EntryKind, amount int64) (Balance, error) {
	if amount <= 0 {
		return b, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	switch kind {
	case EntryHold:
		b.Held += amount
	case EntryRelease:
		if b.Held < amount {
			return b, ErrInsufficientHeld
		}
		b.Held -= amount
		b.Available += amount
	case EntryRefund:
		if b.Held < amount {
			return b, ErrInsufficientHeld
		}
		b.Held -= amount
	default:
		return b, errors.New("unknown wallet entry kind " + string(kind))
	}
	return b, nil
}

type balanceKey struct {
	userID   string
	currency string
}

type refKey struct {
	userID string
	refID  string
}

// repeats reports whether kind is the same as the latest entry for a ref.
// A ref may move hold, refund, hold again, but never applies the same step
// twice in a row.
func repeats(last, kind EntryKind) bool {
	return last != "" && last == kind
}

// Memory is an in-process ledger.
type Memory struct {
	mu       sync.Mutex
	balances map[balanceKey]Balance
	last     map[refKey]EntryKind
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[balanceKey]Balance), last: make(map[refKey]EntryKind)}
}

func (m *Memory) HoldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.apply(userID, amount, EntryHold, refID)
}

func (m *Memory) ReleaseFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.apply(userID, amount, EntryRelease, refID)
}

func (m *Memory) RefundHeldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.apply(userID, amount, EntryRefund, refID)
}

func (m *Memory) Balance(ctx context.Context, userID, currency string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{userID, currency}], nil
}

func (m *Memory) apply(userID string, amount domain.Money, kind EntryKind, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := refKey{userID, refID}
	if refID != "" && repeats(m.last[ref], kind) {
		return nil
	}
	k := balanceKey{userID, amount.Currency}
	next, err := m.balances[k].apply(kind, amount.Amount)
	if err != nil {
		return err
	}
	m.balances[k] = next
	if refID != "" {
		m.last[ref] = kind
	}
	return nil
}
