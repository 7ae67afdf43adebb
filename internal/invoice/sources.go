package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"portcaisse/internal/cache"
	"portcaisse/internal/domain"
	"portcaisse/internal/logging"
	"portcaisse/internal/store"
)

var ErrUnavailable = errors.New("invoice service unavailable")

// Finder is the slice of the repository the store-backed source needs.
type Finder interface {
	FindInvoice(ctx context.Context, invoiceType domain.InvoiceType, key string) (*domain.Invoice, error)
}

// StoreSource resolves invoices from the local repository, fronted by a
// cache. Cache failures are logged and bypassed.
type StoreSource struct {
	finder Finder
	cache  cache.InvoiceCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewStoreSource(finder Finder, invoiceCache cache.InvoiceCache, ttl time.Duration, logger *zap.Logger) *StoreSource {
	if invoiceCache == nil {
		invoiceCache = cache.NoopInvoiceCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StoreSource{
		finder: finder,
		cache:  invoiceCache,
		ttl:    ttl,
		logger: logging.OrNop(logger).Named("invoice"),
	}
}

func (s *StoreSource) Lookup(ctx context.Context, invoiceType domain.InvoiceType, key string) (domain.InvoiceRecord, error) {
	if err := CheckType(invoiceType); err != nil {
		return domain.InvoiceRecord{}, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.InvoiceRecord{}, ErrKeyRequired
	}

	cacheKey := cache.InvoiceKey(invoiceType, strings.ToUpper(key))
	cached, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		s.logger.Warn("invoice cache read failed", zap.String("key", cacheKey), zap.Error(err))
	} else if ok && cached != nil {
		return *cached, nil
	}

	inv, err := s.finder.FindInvoice(ctx, invoiceType, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InvoiceRecord{}, fmt.Errorf("%w: %s %s", ErrNotFound, invoiceType, key)
		}
		return domain.InvoiceRecord{}, err
	}

	record := RecordFromInvoice(*inv)
	if err := s.cache.Set(ctx, cacheKey, &record, s.ttl); err != nil {
		s.logger.Warn("invoice cache write failed", zap.String("key", cacheKey), zap.Error(err))
	}
	return record, nil
}

type BreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	ConsecutiveFails uint32
}

// BreakerSource guards a remote source with a circuit breaker. Not-found
// answers count as successes; only transport and server failures trip it.
type BreakerSource struct {
	inner   Source
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewBreakerSource(inner Source, cfg BreakerConfig, logger *zap.Logger) *BreakerSource {
	logger = logging.OrNop(logger).Named("invoice")
	if cfg.Name == "" {
		cfg.Name = "invoice-upstream"
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ConsecutiveFails == 0 {
		cfg.ConsecutiveFails = 5
	}
	threshold := cfg.ConsecutiveFails

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	}

	return &BreakerSource{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (b *BreakerSource) Lookup(ctx context.Context, invoiceType domain.InvoiceType, key string) (domain.InvoiceRecord, error) {
	if err := CheckType(invoiceType); err != nil {
		return domain.InvoiceRecord{}, err
	}

	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Lookup(ctx, invoiceType, key)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.InvoiceRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return domain.InvoiceRecord{}, err
	}
	return result.(domain.InvoiceRecord), nil
}

func (b *BreakerSource) State() gobreaker.State {
	return b.breaker.State()
}
