package store

import (
	"context"
	"errors"
	"time"

	"kasirduo/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInsufficientFunds = errors.New("insufficient cash received")
	ErrInvalidInput      = errors.New("invalid input")
)

// Repository is the durable home of products, transactions and stock.
// Multi-step lifecycle transitions run inside Atomic: the callback either
// commits every write it performed or none of them.
type Repository interface {
	// Atomic runs fn against a transactional view of the repository.
	// Nested calls join the enclosing unit of work.
	Atomic(ctx context.Context, fn func(Repository) error) error

	GetProductByCode(ctx context.Context, code string) (*domain.Product, error)
	GetECStockByCode(ctx context.Context, code string) (*domain.ECStock, error)

	CreatePending(ctx context.Context, totalAmount int64, items []domain.CartItem) (int64, error)
	GetTransaction(ctx context.Context, id int64) (*domain.Transaction, error)
	ListLineItems(ctx context.Context, id int64) ([]domain.LineItem, error)
	MarkFinalized(ctx context.Context, id int64, paymentMethod string, cashReceived *int64, changeAmount *int64, at time.Time) error
	MarkCancelled(ctx context.Context, id int64, at time.Time) error
	DeletePending(ctx context.Context, id int64) error

	// AdjustStock applies delta (negative for a sale, positive for a
	// restock) to the product's stock quantity and returns the new value.
	// The write is conditional: a delta that would drive the quantity
	// negative fails with ErrInsufficientStock and writes nothing.
	AdjustStock(ctx context.Context, productID int64, delta int) (int, error)

	SalesHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error)
}
