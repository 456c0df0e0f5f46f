package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

//go:embed schema.sql
var schema string

const mysqlDuplicateEntry = 1062

// EnsureSchema creates the tables used by the MySQL adapters.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// MySQLRepository stores an entity as a JSON body next to a few indexed
// columns. The version column guards every update.
type MySQLRepository[T any] struct {
	db      *sql.DB
	info    entityInfo[T]
	table   string
	columns []string
	values  func(T) []any
}

func NewMySQLListingRepository(db *sql.DB) *MySQLRepository[*domain.Listing] {
	return &MySQLRepository[*domain.Listing]{
		db:      db,
		info:    listingInfo,
		table:   "listings",
		columns: []string{"seller_id", "event_id", "event_date_id", "status", "created_at", "updated_at"},
		values: func(l *domain.Listing) []any {
			return []any{l.SellerID, l.EventID, l.EventDateID, l.Status, l.CreatedAt, l.UpdatedAt}
		},
	}
}

func NewMySQLTransactionRepository(db *sql.DB) *MySQLRepository[*domain.Transaction] {
	return &MySQLRepository[*domain.Transaction]{
		db:      db,
		info:    transactionInfo,
		table:   "transactions",
		columns: []string{"listing_id", "buyer_id", "seller_id", "status", "auto_release_at", "created_at", "updated_at"},
		values: func(t *domain.Transaction) []any {
			var releaseAt sql.NullTime
			if t.AutoReleaseAt != nil {
				releaseAt = sql.NullTime{Time: *t.AutoReleaseAt, Valid: true}
			}
			return []any{t.ListingID, t.BuyerID, t.SellerID, t.Status, releaseAt, t.CreatedAt, t.UpdatedAt}
		},
	}
}

func (m *MySQLRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	var body []byte
	var version int
	err := m.db.QueryRowContext(ctx,
		"SELECT body, version FROM "+m.table+" WHERE id = ?", id,
	).Scan(&body, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("query %s: %w", m.info.name, err)
	}
	return m.decode(body, version)
}

func (m *MySQLRepository[T]) GetMany(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	return m.query(ctx, "SELECT body, version FROM "+m.table+" WHERE id IN ("+placeholders+")", args...)
}

func (m *MySQLRepository[T]) GetAll(ctx context.Context) ([]T, error) {
	return m.query(ctx, "SELECT body, version FROM "+m.table+" ORDER BY created_at, id")
}

func (m *MySQLRepository[T]) query(ctx context.Context, q string, args ...any) ([]T, error) {
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m.table, err)
	}
	defer rows.Close()

	var res []T
	for rows.Next() {
		var body []byte
		var version int
		if err := rows.Scan(&body, &version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", m.info.name, err)
		}
		v, err := m.decode(body, version)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (m *MySQLRepository[T]) decode(body []byte, version int) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", m.info.name, err)
	}
	*m.info.version(v) = version
	return v, nil
}

// Set inserts entities at version 0 and otherwise updates the row only if
// its version is unchanged.
func (m *MySQLRepository[T]) Set(ctx context.Context, v T) error {
	version := m.info.version(v)
	next := *version + 1

	body, err := m.encode(v, next)
	if err != nil {
		return err
	}
	values := m.values(v)

	if *version == 0 {
		cols := append([]string{"id"}, m.columns...)
		cols = append(cols, "body", "version")
		args := append([]any{m.info.id(v)}, values...)
		args = append(args, body, next)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")

		_, err := m.db.ExecContext(ctx,
			"INSERT INTO "+m.table+" ("+strings.Join(cols, ", ")+") VALUES ("+placeholders+")", args...)
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert %s: %w", m.info.name, err)
		}
		*version = next
		return nil
	}

	sets := make([]string, 0, len(m.columns)+2)
	for _, c := range m.columns {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "body = ?", "version = version + 1")
	args := append(values, body, m.info.id(v), *version)

	result, err := m.db.ExecContext(ctx,
		"UPDATE "+m.table+" SET "+strings.Join(sets, ", ")+" WHERE id = ? AND version = ?", args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.info.name, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrVersionConflict
	}
	*version = next
	return nil
}

func (m *MySQLRepository[T]) encode(v T, version int) ([]byte, error) {
	c := m.info.clone(v)
	*m.info.version(c) = version
	body, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.info.name, err)
	}
	return body, nil
}

// OpenMySQL opens a pool with the driver's parseTime and UTC settings
// forced on.
func OpenMySQL(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
