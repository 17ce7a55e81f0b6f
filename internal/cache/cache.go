// Package cache provides read-through caches in front of the repository for
// hot list reads. Entries are replaced wholesale on write (last write wins)
// and expire on TTL.
package cache

import (
	"context"
	"time"

	"boutika/backend/internal/domain"
)

type ProductCache interface {
	Get(ctx context.Context, companyID string) ([]domain.Product, bool, error)
	Set(ctx context.Context, companyID string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, companyID string) error
}

type SaleCache interface {
	Get(ctx context.Context, companyID string, day string) ([]domain.Sale, bool, error)
	Set(ctx context.Context, companyID string, day string, sales []domain.Sale, ttl time.Duration) error
	Invalidate(ctx context.Context, companyID string, day string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

type NoopSaleCache struct{}

func (NoopSaleCache) Get(_ context.Context, _ string, _ string) ([]domain.Sale, bool, error) {
	return nil, false, nil
}

func (NoopSaleCache) Set(_ context.Context, _ string, _ string, _ []domain.Sale, _ time.Duration) error {
	return nil
}

func (NoopSaleCache) Invalidate(_ context.Context, _ string, _ string) error {
	return nil
}
