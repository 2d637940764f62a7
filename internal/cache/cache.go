package cache

import (
	"context"
	"time"

	"kasirduo/backend/internal/domain"
)

// ProductCache fronts the product-by-scan-code lookup, the hottest read
// path on the register. Entries are short-lived because the cached value
// carries a stock quantity; lifecycle transitions that move stock also
// delete the affected codes.
type ProductCache interface {
	Get(ctx context.Context, code string) (*domain.Product, bool, error)
	Set(ctx context.Context, code string, product *domain.Product, ttl time.Duration) error
	Delete(ctx context.Context, codes ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
