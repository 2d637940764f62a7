package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"kasirduo/backend/internal/domain"
	"kasirduo/backend/internal/store"
)

// Store is an in-memory Repository used for tests and for running the
// backend without DATABASE_URL. A single mutex serializes access;
// Atomic snapshots the data and restores it when the callback fails, so
// rollback semantics match the Postgres implementation at the commit
// boundary.
type Store struct {
	mu sync.Mutex
	d  *data
	tx bool
}

type data struct {
	products     map[int64]domain.Product
	codeIndex    map[string]int64
	ecStock      map[string]domain.ECStock
	transactions map[int64]domain.Transaction
	lineItems    map[int64][]domain.LineItem
	nextTxID     int64
}

func NewSeeded() *Store {
	products := []domain.Product{
		{ID: 1, Code: "4901234567894", Name: "Green Tea 500ml", Price: 150, StockQuantity: 120},
		{ID: 2, Code: "4902102072618", Name: "Onigiri Salmon", Price: 180, StockQuantity: 60},
		{ID: 3, Code: "4901777018888", Name: "Melon Pan", Price: 160, StockQuantity: 40},
		{ID: 4, Code: "4902220770199", Name: "Black Coffee Can", Price: 130, StockQuantity: 90},
		{ID: 5, Code: "4903333072446", Name: "Chocolate Bar", Price: 220, StockQuantity: 75},
		{ID: 6, Code: "4904444016185", Name: "Cup Ramen Shoyu", Price: 210, StockQuantity: 50},
		{ID: 7, Code: "4905555128733", Name: "Mineral Water 2L", Price: 110, StockQuantity: 200},
	}

	productMap := make(map[int64]domain.Product, len(products))
	codeIndex := make(map[string]int64, len(products))
	ecStock := make(map[string]domain.ECStock, len(products))
	for _, p := range products {
		productMap[p.ID] = p
		codeIndex[p.Code] = p.ID
		ecStock[p.Code] = domain.ECStock{
			Code:            p.Code,
			Name:            p.Name,
			StdPrice:        p.Price,
			ECStockQuantity: p.StockQuantity * 4,
		}
	}
	// Headquarters carries items the store shelf does not.
	ecStock["4906666099120"] = domain.ECStock{
		Code:            "4906666099120",
		Name:            "Gift Box Assortment",
		StdPrice:        2400,
		ECStockQuantity: 35,
	}

	return &Store{d: &data{
		products:     productMap,
		codeIndex:    codeIndex,
		ecStock:      ecStock,
		transactions: make(map[int64]domain.Transaction),
		lineItems:    make(map[int64][]domain.LineItem),
		nextTxID:     1,
	}}
}

func (s *Store) lock() func() {
	if s.tx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Atomic(_ context.Context, fn func(store.Repository) error) error {
	if s.tx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	child := &Store{d: s.d, tx: true}
	if err := fn(child); err != nil {
		*s.d = *snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := &data{
		products:     make(map[int64]domain.Product, len(d.products)),
		codeIndex:    make(map[string]int64, len(d.codeIndex)),
		ecStock:      make(map[string]domain.ECStock, len(d.ecStock)),
		transactions: make(map[int64]domain.Transaction, len(d.transactions)),
		lineItems:    make(map[int64][]domain.LineItem, len(d.lineItems)),
		nextTxID:     d.nextTxID,
	}
	for id, p := range d.products {
		c.products[id] = p
	}
	for code, id := range d.codeIndex {
		c.codeIndex[code] = id
	}
	for code, ec := range d.ecStock {
		c.ecStock[code] = ec
	}
	for id, tx := range d.transactions {
		c.transactions[id] = tx
	}
	for id, items := range d.lineItems {
		c.lineItems[id] = slices.Clone(items)
	}
	return c
}

func (s *Store) GetProductByCode(_ context.Context, code string) (*domain.Product, error) {
	defer s.lock()()

	id, ok := s.d.codeIndex[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := s.d.products[id]
	return &p, nil
}

func (s *Store) GetECStockByCode(_ context.Context, code string) (*domain.ECStock, error) {
	defer s.lock()()

	ec, ok := s.d.ecStock[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ec, nil
}

func (s *Store) CreatePending(_ context.Context, totalAmount int64, items []domain.CartItem) (int64, error) {
	defer s.lock()()

	if len(items) == 0 || totalAmount < 0 {
		return 0, store.ErrInvalidInput
	}

	id := s.d.nextTxID
	s.d.nextTxID++

	s.d.transactions[id] = domain.Transaction{
		ID:            id,
		TotalAmount:   totalAmount,
		PaymentMethod: domain.PaymentPending,
		Pending:       true,
		CreatedAt:     time.Now().UTC(),
	}

	lines := make([]domain.LineItem, 0, len(items))
	for i, item := range items {
		lines = append(lines, domain.LineItem{
			TransactionID: id,
			LineNo:        i + 1,
			ProductID:     item.ProductID,
			Code:          item.Code,
			Name:          item.Name,
			UnitPrice:     item.UnitPrice,
			Quantity:      item.Quantity,
			Subtotal:      item.Subtotal,
		})
	}
	s.d.lineItems[id] = lines

	return id, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (*domain.Transaction, error) {
	defer s.lock()()

	tx, ok := s.d.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tx, nil
}

func (s *Store) ListLineItems(_ context.Context, id int64) ([]domain.LineItem, error) {
	defer s.lock()()

	items, ok := s.d.lineItems[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(items), nil
}

func (s *Store) MarkFinalized(_ context.Context, id int64, paymentMethod string, cashReceived *int64, changeAmount *int64, at time.Time) error {
	defer s.lock()()

	tx, ok := s.d.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if !tx.Pending {
		return fmt.Errorf("%w: transaction already finalized", store.ErrConflict)
	}

	tx.Pending = false
	tx.PaymentMethod = paymentMethod
	tx.CashReceived = cashReceived
	tx.ChangeAmount = changeAmount
	finalizedAt := at.UTC()
	tx.FinalizedAt = &finalizedAt
	s.d.transactions[id] = tx
	return nil
}

func (s *Store) MarkCancelled(_ context.Context, id int64, at time.Time) error {
	defer s.lock()()

	tx, ok := s.d.transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	if tx.Cancelled {
		return fmt.Errorf("%w: transaction already cancelled", store.ErrConflict)
	}
	if tx.Pending {
		return fmt.Errorf("%w: pending transaction cannot be marked cancelled", store.ErrConflict)
	}

	tx.Cancelled = true
	cancelledAt := at.UTC()
	tx.CancelledAt = &cancelledAt
	s.d.transactions[id] = tx
	return nil
}

func (s *Store) DeletePending(_ context.Context, id int64) error {
	defer s.lock()()

	tx, ok := s.d.transactions[id]
	if !ok || !tx.Pending {
		return store.ErrNotFound
	}

	delete(s.d.transactions, id)
	delete(s.d.lineItems, id)
	return nil
}

func (s *Store) AdjustStock(_ context.Context, productID int64, delta int) (int, error) {
	defer s.lock()()

	p, ok := s.d.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := p.StockQuantity + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: product %d", store.ErrInsufficientStock, productID)
	}
	p.StockQuantity = next
	s.d.products[productID] = p
	return next, nil
}

func (s *Store) SalesHistory(_ context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	defer s.lock()()

	entries := make([]domain.HistoryEntry, 0, len(s.d.transactions))
	for id, tx := range s.d.transactions {
		if tx.Pending {
			continue
		}
		if tx.FinalizedAt == nil || tx.FinalizedAt.Before(since) {
			continue
		}

		parts := make([]string, 0, len(s.d.lineItems[id]))
		for _, item := range s.d.lineItems[id] {
			parts = append(parts, fmt.Sprintf("%s x%d", item.Name, item.Quantity))
		}
		entries = append(entries, domain.HistoryEntry{
			Transaction:  tx,
			ItemsSummary: strings.Join(parts, ", "),
		})
	}

	slices.SortFunc(entries, func(a, b domain.HistoryEntry) int {
		if a.Transaction.FinalizedAt.Equal(*b.Transaction.FinalizedAt) {
			return int(b.Transaction.ID - a.Transaction.ID)
		}
		if a.Transaction.FinalizedAt.After(*b.Transaction.FinalizedAt) {
			return -1
		}
		return 1
	})

	return entries, nil
}
