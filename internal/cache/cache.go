package cache

import (
	"context"
	"time"

	"kasirsync/backend/internal/domain"
)

// SummaryCache holds the denormalised product stock/price summary so that
// terminals can read it without touching the batch collection.
type SummaryCache interface {
	Get(ctx context.Context, productID string) (*domain.Product, bool, error)
	Set(ctx context.Context, product domain.Product, ttl time.Duration) error
	Delete(ctx context.Context, productID string) error
}

type NoopSummaryCache struct{}

func (NoopSummaryCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopSummaryCache) Set(_ context.Context, _ domain.Product, _ time.Duration) error {
	return nil
}

func (NoopSummaryCache) Delete(_ context.Context, _ string) error {
	return nil
}
