package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"kasirduo/backend/internal/domain"
	"kasirduo/backend/internal/store"
)

func TestAtomicRollsBackOnError(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	before, err := s.GetProductByCode(ctx, "4901234567894")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}

	sentinel := errors.New("boom")
	err = s.Atomic(ctx, func(r store.Repository) error {
		if _, err := r.AdjustStock(ctx, 1, -5); err != nil {
			return err
		}
		if _, err := r.CreatePending(ctx, 150, []domain.CartItem{
			{ProductID: 1, Code: "4901234567894", Name: "Green Tea 500ml", UnitPrice: 150, Quantity: 1, Subtotal: 150},
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected the callback error back, got %v", err)
	}

	after, err := s.GetProductByCode(ctx, "4901234567894")
	if err != nil {
		t.Fatalf("lookup after rollback failed: %v", err)
	}
	if after.StockQuantity != before.StockQuantity {
		t.Fatalf("stock change leaked past rollback: before %d, after %d", before.StockQuantity, after.StockQuantity)
	}
	if _, err := s.GetTransaction(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending transaction leaked past rollback: %v", err)
	}
}

func TestAtomicCommitKeepsChanges(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	var id int64
	err := s.Atomic(ctx, func(r store.Repository) error {
		created, err := r.CreatePending(ctx, 150, []domain.CartItem{
			{ProductID: 1, Code: "4901234567894", Name: "Green Tea 500ml", UnitPrice: 150, Quantity: 1, Subtotal: 150},
		})
		if err != nil {
			return err
		}
		id = created
		return nil
	})
	if err != nil {
		t.Fatalf("atomic failed: %v", err)
	}

	tx, err := s.GetTransaction(ctx, id)
	if err != nil {
		t.Fatalf("committed transaction missing: %v", err)
	}
	if !tx.Pending || tx.TotalAmount != 150 {
		t.Fatalf("unexpected committed transaction: %+v", tx)
	}
}

func TestNestedAtomicJoinsEnclosingUnit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	sentinel := errors.New("outer failure")
	err := s.Atomic(ctx, func(r store.Repository) error {
		// The inner unit succeeds on its own but the outer one fails;
		// nothing from either may survive.
		if err := r.Atomic(ctx, func(inner store.Repository) error {
			_, err := inner.AdjustStock(ctx, 1, -10)
			return err
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected outer error, got %v", err)
	}

	p, err := s.GetProductByCode(ctx, "4901234567894")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if p.StockQuantity != 120 {
		t.Fatalf("inner unit leaked past outer rollback: got stock %d", p.StockQuantity)
	}
}

func TestAdjustStockRefusesNegativeResult(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	if _, err := s.AdjustStock(ctx, 3, -41); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	p, err := s.GetProductByCode(ctx, "4901777018888")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if p.StockQuantity != 40 {
		t.Fatalf("refused adjustment must not change stock, got %d", p.StockQuantity)
	}

	remaining, err := s.AdjustStock(ctx, 3, -40)
	if err != nil {
		t.Fatalf("draining to zero should be allowed: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected zero stock, got %d", remaining)
	}
}

func TestDeletePendingOnlyRemovesPending(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	id, err := s.CreatePending(ctx, 150, []domain.CartItem{
		{ProductID: 1, Code: "4901234567894", Name: "Green Tea 500ml", UnitPrice: 150, Quantity: 1, Subtotal: 150},
	})
	if err != nil {
		t.Fatalf("create pending failed: %v", err)
	}
	if err := s.MarkFinalized(ctx, id, domain.PaymentQR, nil, nil, time.Now().UTC()); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if err := s.DeletePending(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting a finalized sale, got %v", err)
	}
	if _, err := s.ListLineItems(ctx, id); err != nil {
		t.Fatalf("line items of finalized sale must survive: %v", err)
	}
}
