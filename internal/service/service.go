package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"kasirduo/backend/internal/cache"
	"kasirduo/backend/internal/domain"
	"kasirduo/backend/internal/store"
	"kasirduo/backend/internal/token"
)

// Service drives the sale lifecycle: a cart reserved at the register
// becomes a pending transaction and a handoff token, the token is
// redeemed exactly once at the payment terminal, and either kind of
// cancellation unwinds its own side effects. Every transition runs in a
// single atomic unit of work against the repository.
type Service struct {
	repo           store.Repository
	productCache   cache.ProductCache
	cacheTTL       time.Duration
	historyMaxDays int
}

func New(repo store.Repository, productCache cache.ProductCache, cacheTTL time.Duration, historyMaxDays int) *Service {
	if productCache == nil {
		productCache = cache.NoopProductCache{}
	}
	if historyMaxDays < 1 {
		historyMaxDays = 60
	}

	return &Service{
		repo:           repo,
		productCache:   productCache,
		cacheTTL:       cacheTTL,
		historyMaxDays: historyMaxDays,
	}
}

func (s *Service) SearchProduct(ctx context.Context, code string) (domain.Product, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, fmt.Errorf("%w: product code required", store.ErrInvalidInput)
	}

	if cached, ok, err := s.productCache.Get(ctx, code); err != nil {
		log.Printf("[service] WARN: product cache get code=%s: %v", code, err)
	} else if ok {
		return *cached, nil
	}

	product, err := s.repo.GetProductByCode(ctx, code)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.productCache.Set(ctx, code, product, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: product cache set code=%s: %v", code, err)
	}

	return *product, nil
}

func (s *Service) ECStock(ctx context.Context, code string) (domain.ECStock, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ECStock{}, fmt.Errorf("%w: product code required", store.ErrInvalidInput)
	}

	ec, err := s.repo.GetECStockByCode(ctx, code)
	if err != nil {
		return domain.ECStock{}, err
	}
	return *ec, nil
}

// Reserve creates a pending transaction for the register's cart and
// encodes the handoff token. The cart is trusted input from the register
// UI; only structural shape and the line-item arithmetic are checked.
// Stock is not touched until finalization.
func (s *Service) Reserve(ctx context.Context, req domain.HandoffRequest) (domain.HandoffResponse, error) {
	if len(req.Items) == 0 {
		return domain.HandoffResponse{}, fmt.Errorf("%w: empty cart", store.ErrInvalidInput)
	}

	sum := int64(0)
	for _, item := range req.Items {
		if item.ProductID < 1 || strings.TrimSpace(item.Code) == "" || strings.TrimSpace(item.Name) == "" {
			return domain.HandoffResponse{}, fmt.Errorf("%w: incomplete cart item", store.ErrInvalidInput)
		}
		if item.Quantity < 1 || item.UnitPrice < 0 {
			return domain.HandoffResponse{}, fmt.Errorf("%w: invalid quantity or price for %s", store.ErrInvalidInput, item.Code)
		}
		if item.Subtotal != item.UnitPrice*int64(item.Quantity) {
			return domain.HandoffResponse{}, fmt.Errorf("%w: subtotal mismatch for %s", store.ErrInvalidInput, item.Code)
		}
		sum += item.Subtotal
	}
	if req.TotalAmount != sum {
		return domain.HandoffResponse{}, fmt.Errorf("%w: total does not match line items", store.ErrInvalidInput)
	}

	var transactionID int64
	err := s.repo.Atomic(ctx, func(r store.Repository) error {
		id, err := r.CreatePending(ctx, req.TotalAmount, req.Items)
		if err != nil {
			return err
		}
		transactionID = id
		return nil
	})
	if err != nil {
		return domain.HandoffResponse{}, err
	}

	qrData, err := token.Encode(token.Payload{
		TransactionID: transactionID,
		TotalAmount:   req.TotalAmount,
		Items:         req.Items,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		return domain.HandoffResponse{}, err
	}

	return domain.HandoffResponse{
		QRData:               qrData,
		PendingTransactionID: transactionID,
	}, nil
}

// Finalize redeems a handoff token: it records payment and decrements
// stock in one unit of work. The decoded payload is only trusted as a
// lookup key; totals are verified against the stored transaction and
// stock moves from the stored line items, so a tampered token cannot
// change what is charged or shipped.
func (s *Service) Finalize(ctx context.Context, req domain.PaymentRequest) (domain.Receipt, error) {
	payload, err := token.Decode(req.QRData)
	if err != nil {
		return domain.Receipt{}, err
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return domain.Receipt{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidInput, req.PaymentMethod)
	}

	var receipt domain.Receipt
	err = s.repo.Atomic(ctx, func(r store.Repository) error {
		tx, err := r.GetTransaction(ctx, payload.TransactionID)
		if err != nil {
			return err
		}
		if !tx.Pending {
			return fmt.Errorf("%w: transaction already processed", store.ErrConflict)
		}
		if tx.TotalAmount != payload.TotalAmount {
			return fmt.Errorf("%w: token total does not match reserved transaction", store.ErrInvalidInput)
		}

		items, err := r.ListLineItems(ctx, tx.ID)
		if err != nil {
			return err
		}

		var cashReceived, changeAmount *int64
		if req.PaymentMethod == domain.PaymentCash {
			if req.CashReceived == nil {
				return fmt.Errorf("%w: cash received required for cash payment", store.ErrInvalidInput)
			}
			if *req.CashReceived < tx.TotalAmount {
				return store.ErrInsufficientFunds
			}
			received := *req.CashReceived
			change := received - tx.TotalAmount
			cashReceived = &received
			changeAmount = &change
		}

		if err := r.MarkFinalized(ctx, tx.ID, req.PaymentMethod, cashReceived, changeAmount, time.Now().UTC()); err != nil {
			return err
		}

		for _, item := range items {
			if _, err := r.AdjustStock(ctx, item.ProductID, -item.Quantity); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return fmt.Errorf("%w for %s", store.ErrInsufficientStock, item.Name)
				}
				return err
			}
		}

		receipt = domain.Receipt{
			TransactionID: tx.ID,
			TotalAmount:   tx.TotalAmount,
			ChangeAmount:  changeAmount,
			PaymentMethod: req.PaymentMethod,
			Items:         items,
		}
		return nil
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.invalidateProducts(ctx, receipt.Items)

	return receipt, nil
}

// CancelPending discards an abandoned reservation. The reservation never
// moved stock, so only the transaction and its line items are removed.
func (s *Service) CancelPending(ctx context.Context, transactionID int64) (domain.CancelResponse, error) {
	if transactionID < 1 {
		return domain.CancelResponse{}, fmt.Errorf("%w: transaction id required", store.ErrInvalidInput)
	}

	err := s.repo.Atomic(ctx, func(r store.Repository) error {
		return r.DeletePending(ctx, transactionID)
	})
	if err != nil {
		return domain.CancelResponse{}, err
	}

	return domain.CancelResponse{
		TransactionID: transactionID,
		Message:       "Pending transaction cancelled",
	}, nil
}

// CancelFinalized reverses a paid sale: stock is restored from the
// stored line items and the transaction is flagged cancelled. Sale
// history is kept; nothing is deleted. Restocking cannot go negative,
// so unlike Finalize this transition has no stock failure path.
func (s *Service) CancelFinalized(ctx context.Context, transactionID int64) (domain.CancelResponse, error) {
	if transactionID < 1 {
		return domain.CancelResponse{}, fmt.Errorf("%w: transaction id required", store.ErrInvalidInput)
	}

	var restocked []domain.LineItem
	err := s.repo.Atomic(ctx, func(r store.Repository) error {
		tx, err := r.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx.Cancelled {
			return fmt.Errorf("%w: transaction already cancelled", store.ErrConflict)
		}
		if tx.Pending {
			return fmt.Errorf("%w: pending transaction must be cancelled at the register", store.ErrConflict)
		}

		items, err := r.ListLineItems(ctx, tx.ID)
		if err != nil {
			return err
		}

		for _, item := range items {
			if _, err := r.AdjustStock(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		if err := r.MarkCancelled(ctx, tx.ID, time.Now().UTC()); err != nil {
			return err
		}

		restocked = items
		return nil
	})
	if err != nil {
		return domain.CancelResponse{}, err
	}

	s.invalidateProducts(ctx, restocked)

	return domain.CancelResponse{
		TransactionID: transactionID,
		Message:       "Sale cancelled successfully",
	}, nil
}

func (s *Service) SalesHistory(ctx context.Context, days int) (domain.HistoryResponse, error) {
	if days < 1 {
		days = 7
	}
	if days > s.historyMaxDays {
		days = s.historyMaxDays
	}

	since := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	entries, err := s.repo.SalesHistory(ctx, since)
	if err != nil {
		return domain.HistoryResponse{}, err
	}

	return domain.HistoryResponse{
		Transactions: entries,
		Count:        len(entries),
	}, nil
}

// invalidateProducts drops cached product entries whose stock just
// moved. Best effort: the cache entry would expire on its own anyway.
func (s *Service) invalidateProducts(ctx context.Context, items []domain.LineItem) {
	if len(items) == 0 {
		return
	}
	codes := make([]string, 0, len(items))
	for _, item := range items {
		codes = append(codes, item.Code)
	}
	if err := s.productCache.Delete(ctx, codes...); err != nil {
		log.Printf("[service] WARN: product cache invalidate: %v", err)
	}
}
