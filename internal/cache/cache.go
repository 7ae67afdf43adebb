package cache

import (
	"context"
	"time"

	"portcaisse/internal/domain"
)

type InvoiceCache interface {
	Get(ctx context.Context, key string) (*domain.InvoiceRecord, bool, error)
	Set(ctx context.Context, key string, value *domain.InvoiceRecord, ttl time.Duration) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Get(_ context.Context, _ string) (*domain.InvoiceRecord, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Set(_ context.Context, _ string, _ *domain.InvoiceRecord, _ time.Duration) error {
	return nil
}

// InvoiceKey namespaces a lookup so categories sharing a business key do
// not collide.
func InvoiceKey(invoiceType domain.InvoiceType, key string) string {
	return "facture:" + string(invoiceType) + ":" + key
}
