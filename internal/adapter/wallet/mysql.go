package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// MySQL is an append-only ledger. Balances are sums over wallet_entries.
// The latest entry per ref is read under the same row locks as the balance,
// so a retried step is not recorded twice.
type MySQL struct {
	db  *sql.DB
	now func() time.Time
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (m *MySQL) HoldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.append(ctx, userID, amount, EntryHold, refID, memo)
}

func (m *MySQL) ReleaseFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.append(ctx, userID, amount, EntryRelease, refID, memo)
}

func (m *MySQL) RefundHeldFunds(ctx context.Context, userID string, amount domain.Money, refID, memo string) error {
	return m.append(ctx, userID, amount, EntryRefund, refID, memo)
}

func (m *MySQL) Balance(ctx context.Context, userID, currency string) (Balance, error) {
	return balance(ctx, m.db, userID, currency, false)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func balance(ctx context.Context, q querier, userID, currency string, forUpdate bool) (Balance, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE kind WHEN 'hold' THEN amount WHEN 'release' THEN -amount WHEN 'refund' THEN -amount END), 0),
			COALESCE(SUM(CASE kind WHEN 'release' THEN amount ELSE 0 END), 0)
		FROM wallet_entries WHERE user_id = ? AND currency = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var b Balance
	if err := q.QueryRowContext(ctx, query, userID, currency).Scan(&b.Held, &b.Available); err != nil {
		return Balance{}, fmt.Errorf("query balance: %w", err)
	}
	return b, nil
}

func lastKind(ctx context.Context, q querier, userID, refID string) (EntryKind, error) {
	var kind EntryKind
	err := q.QueryRowContext(ctx, `
		SELECT kind FROM wallet_entries
		WHERE user_id = ? AND ref_id = ?
		ORDER BY id DESC LIMIT 1 FOR UPDATE`,
		userID, refID,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query last entry: %w", err)
	}
	return kind, nil
}

func (m *MySQL) append(ctx context.Context, userID string, amount domain.Money, kind EntryKind, refID, memo string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, err := balance(ctx, tx, userID, amount.Currency, true)
	if err != nil {
		return err
	}
	if refID != "" {
		last, err := lastKind(ctx, tx, userID, refID)
		if err != nil {
			return err
		}
		if repeats(last, kind) {
			return nil
		}
	}
	if _, err := cur.apply(kind, amount.Amount); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wallet_entries (user_id, kind, amount, currency, ref_id, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, kind, amount.Amount, amount.Currency, refID, memo, m.now(),
	)
	if err != nil {
		return fmt.Errorf("insert wallet entry: %w", err)
	}

	return tx.Commit()
}
