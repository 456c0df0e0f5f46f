package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// MySQL reads events from the approval subsystem's tables.
type MySQL struct {
	db *sql.DB
}

func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	e := domain.Event{ID: id}
	err := m.db.QueryRowContext(ctx,
		`SELECT status FROM events WHERE id = ?`, id,
	).Scan(&e.Status)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, starts_at, status
		FROM event_dates WHERE event_id = ?
		ORDER BY starts_at`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query event dates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.EventDate
		if err := rows.Scan(&d.ID, &d.StartsAt, &d.Status); err != nil {
			return nil, fmt.Errorf("scan event date: %w", err)
		}
		d.StartsAt = d.StartsAt.UTC()
		e.Dates = append(e.Dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event dates: %w", err)
	}
	return &e, nil
}

// Save upserts an event and its dates. It is used to seed development
// databases; production rows are owned by the approval subsystem.
func (m *MySQL) Save(ctx context.Context, e *domain.Event) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, status) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status)`,
		e.ID, e.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}

	for _, d := range e.Dates {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_dates (id, event_id, starts_at, status) VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE starts_at = VALUES(starts_at), status = VALUES(status)`,
			d.ID, e.ID, d.StartsAt, d.Status,
		)
		if err != nil {
			return fmt.Errorf("upsert event date: %w", err)
		}
	}

	return tx.Commit()
}
