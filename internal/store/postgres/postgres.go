package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"kasirduo/backend/internal/domain"
	"kasirduo/backend/internal/store"
)

// Store implements store.Repository on PostgreSQL.
//
// Expected layout: store_products (prd_id, code, name, price,
// stock_quantity), headquarters_products (code, name, std_price,
// ec_stock_quantity), sales_transactions (transaction_id, total_amount,
// payment_method, cash_received, change_amount, is_pending, is_cancelled,
// finalized_at, cancelled_at, created_at) and sales_details
// (transaction_id, line_no, prd_id, code, name, unit_price, quantity,
// subtotal).
type Store struct {
	db *sql.DB
	q  querier
	tx bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, q: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic opens a serializable transaction and runs fn against a
// tx-scoped Store. Locking reads inside the unit of work plus the
// serializable isolation level make concurrent finalizes of the same
// transaction mutually exclusive in effect.
func (s *Store) Atomic(ctx context.Context, fn func(store.Repository) error) error {
	if s.tx {
		return fn(s)
	}

	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = dbTx.Rollback() }()

	child := &Store{db: s.db, q: dbTx, tx: true}
	if err := fn(child); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (s *Store) GetProductByCode(ctx context.Context, code string) (*domain.Product, error) {
	var p domain.Product
	err := s.q.QueryRowContext(ctx, `
		SELECT prd_id, code, name, price, stock_quantity
		FROM store_products
		WHERE code = $1
	`, code).Scan(&p.ID, &p.Code, &p.Name, &p.Price, &p.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetECStockByCode(ctx context.Context, code string) (*domain.ECStock, error) {
	var ec domain.ECStock
	err := s.q.QueryRowContext(ctx, `
		SELECT code, name, std_price, ec_stock_quantity
		FROM headquarters_products
		WHERE code = $1
	`, code).Scan(&ec.Code, &ec.Name, &ec.StdPrice, &ec.ECStockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ec, nil
}

func (s *Store) CreatePending(ctx context.Context, totalAmount int64, items []domain.CartItem) (int64, error) {
	if len(items) == 0 || totalAmount < 0 {
		return 0, store.ErrInvalidInput
	}

	var id int64
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO sales_transactions (total_amount, payment_method, is_pending, is_cancelled, created_at)
		VALUES ($1, $2, TRUE, FALSE, now())
		RETURNING transaction_id
	`, totalAmount, domain.PaymentPending).Scan(&id)
	if err != nil {
		return 0, err
	}

	for i, item := range items {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO sales_details (transaction_id, line_no, prd_id, code, name, unit_price, quantity, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, id, i+1, item.ProductID, item.Code, item.Name, item.UnitPrice, item.Quantity, item.Subtotal)
		if err != nil {
			return 0, err
		}
	}

	return id, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error) {
	query := `
		SELECT transaction_id, total_amount, payment_method, cash_received, change_amount,
			is_pending, is_cancelled, finalized_at, cancelled_at, created_at
		FROM sales_transactions
		WHERE transaction_id = $1
	`
	// Inside a unit of work the row is locked so concurrent lifecycle
	// transitions on the same transaction serialize.
	if s.tx {
		query += ` FOR UPDATE`
	}

	var tx domain.Transaction
	var cashReceived, changeAmount sql.NullInt64
	var finalizedAt, cancelledAt sql.NullTime
	err := s.q.QueryRowContext(ctx, query, id).Scan(
		&tx.ID,
		&tx.TotalAmount,
		&tx.PaymentMethod,
		&cashReceived,
		&changeAmount,
		&tx.Pending,
		&tx.Cancelled,
		&finalizedAt,
		&cancelledAt,
		&tx.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if cashReceived.Valid {
		v := cashReceived.Int64
		tx.CashReceived = &v
	}
	if changeAmount.Valid {
		v := changeAmount.Int64
		tx.ChangeAmount = &v
	}
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		tx.FinalizedAt = &at
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time.UTC()
		tx.CancelledAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()

	return &tx, nil
}

func (s *Store) ListLineItems(ctx context.Context, id int64) ([]domain.LineItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT transaction_id, line_no, prd_id, code, name, unit_price, quantity, subtotal
		FROM sales_details
		WHERE transaction_id = $1
		ORDER BY line_no ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0, 8)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.TransactionID, &item.LineNo, &item.ProductID, &item.Code, &item.Name, &item.UnitPrice, &item.Quantity, &item.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.ErrNotFound
	}
	return items, nil
}

func (s *Store) MarkFinalized(ctx context.Context, id int64, paymentMethod string, cashReceived *int64, changeAmount *int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sales_transactions
		SET payment_method = $2, cash_received = $3, change_amount = $4,
			is_pending = FALSE, finalized_at = $5
		WHERE transaction_id = $1 AND is_pending = TRUE
	`, id, paymentMethod, nullInt64(cashReceived), nullInt64(changeAmount), at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if exists, err := s.transactionExists(ctx, id); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: transaction already finalized", store.ErrConflict)
		}
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) MarkCancelled(ctx context.Context, id int64, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE sales_transactions
		SET is_cancelled = TRUE, cancelled_at = $2
		WHERE transaction_id = $1 AND is_cancelled = FALSE AND is_pending = FALSE
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx.Cancelled {
			return fmt.Errorf("%w: transaction already cancelled", store.ErrConflict)
		}
		return fmt.Errorf("%w: pending transaction cannot be marked cancelled", store.ErrConflict)
	}
	return nil
}

func (s *Store) DeletePending(ctx context.Context, id int64) error {
	_, err := s.q.ExecContext(ctx, `
		DELETE FROM sales_details
		WHERE transaction_id = $1
			AND EXISTS (
				SELECT 1 FROM sales_transactions
				WHERE transaction_id = $1 AND is_pending = TRUE
			)
	`, id)
	if err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		DELETE FROM sales_transactions
		WHERE transaction_id = $1 AND is_pending = TRUE
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AdjustStock(ctx context.Context, productID int64, delta int) (int, error) {
	// Conditional write: the guard keeps a negative quantity from ever
	// reaching the row, so concurrent decrements cannot race past zero.
	var newQuantity int
	err := s.q.QueryRowContext(ctx, `
		UPDATE store_products
		SET stock_quantity = stock_quantity + $2
		WHERE prd_id = $1 AND stock_quantity + $2 >= 0
		RETURNING stock_quantity
	`, productID, delta).Scan(&newQuantity)
	if err == nil {
		return newQuantity, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var exists bool
	if err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM store_products WHERE prd_id = $1)
	`, productID).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}
	return 0, fmt.Errorf("%w: product %d", store.ErrInsufficientStock, productID)
}

func (s *Store) SalesHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT t.transaction_id, t.total_amount, t.payment_method, t.cash_received,
			t.change_amount, t.is_pending, t.is_cancelled, t.finalized_at, t.cancelled_at,
			t.created_at,
			COALESCE(STRING_AGG(d.name || ' x' || d.quantity, ', ' ORDER BY d.line_no), '')
		FROM sales_transactions t
		LEFT JOIN sales_details d ON d.transaction_id = t.transaction_id
		WHERE t.is_pending = FALSE AND t.finalized_at >= $1
		GROUP BY t.transaction_id
		ORDER BY t.finalized_at DESC, t.transaction_id DESC
	`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.HistoryEntry, 0, 64)
	for rows.Next() {
		var entry domain.HistoryEntry
		var cashReceived, changeAmount sql.NullInt64
		var finalizedAt, cancelledAt sql.NullTime
		if err := rows.Scan(
			&entry.Transaction.ID,
			&entry.Transaction.TotalAmount,
			&entry.Transaction.PaymentMethod,
			&cashReceived,
			&changeAmount,
			&entry.Transaction.Pending,
			&entry.Transaction.Cancelled,
			&finalizedAt,
			&cancelledAt,
			&entry.Transaction.CreatedAt,
			&entry.ItemsSummary,
		); err != nil {
			return nil, err
		}
		if cashReceived.Valid {
			v := cashReceived.Int64
			entry.Transaction.CashReceived = &v
		}
		if changeAmount.Valid {
			v := changeAmount.Int64
			entry.Transaction.ChangeAmount = &v
		}
		if finalizedAt.Valid {
			at := finalizedAt.Time.UTC()
			entry.Transaction.FinalizedAt = &at
		}
		if cancelledAt.Valid {
			at := cancelledAt.Time.UTC()
			entry.Transaction.CancelledAt = &at
		}
		entry.Transaction.CreatedAt = entry.Transaction.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) transactionExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sales_transactions WHERE transaction_id = $1)
	`, id).Scan(&exists)
	return exists, err
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
