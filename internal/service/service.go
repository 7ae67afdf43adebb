package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portcaisse/internal/domain"
	"portcaisse/internal/form"
	"portcaisse/internal/invoice"
	"portcaisse/internal/logging"
	"portcaisse/internal/store"
	"portcaisse/internal/xid"
)

var ErrNoActor = errors.New("authenticated operator required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	repo     store.Repository
	invoices invoice.Source
	clock    clockwork.Clock
	logger   *zap.Logger
}

func New(repo store.Repository, invoices invoice.Source, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		invoices: invoices,
		clock:    clockwork.NewRealClock(),
		logger:   logging.OrNop(logger).Named("service"),
	}
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", store.ErrInvalidPayment, reason)
}

// buildEntry validates a write request and derives the stored entry. The
// excedent is always recomputed from the amounts in the request.
func (s *Service) buildEntry(ctx context.Context, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	switch {
	case !req.Type.Valid():
		return domain.PaymentEntry{}, invalid("unsupported invoice type")
	case !req.ModePaiement.Valid():
		return domain.PaymentEntry{}, invalid("unsupported payment mode")
	case req.ClientID <= 0:
		return domain.PaymentEntry{}, invalid("clientId is required")
	case !req.MontantPaye.IsPositive():
		return domain.PaymentEntry{}, invalid("montantPaye must be greater than zero")
	case req.MontantFacture.IsNegative():
		return domain.PaymentEntry{}, invalid("montantFacture must not be negative")
	}

	if err := s.checkBank(ctx, req.BanqueID, req.CompteID); err != nil {
		return domain.PaymentEntry{}, err
	}

	date := s.today()
	if req.DatePaiement != nil && !req.DatePaiement.IsZero() {
		y, m, d := req.DatePaiement.Date()
		date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	return domain.PaymentEntry{
		FactureID:       req.FactureID,
		Type:            req.Type,
		ModePaiement:    req.ModePaiement,
		MontantPaye:     req.MontantPaye,
		MontantExcedent: form.Excedent(req.MontantPaye, req.MontantFacture),
		Reference:       strings.TrimSpace(req.Reference),
		Credit:          req.Credit,
		ClientID:        req.ClientID,
		ClientNom:       strings.TrimSpace(req.ClientNom),
		RSP:             strings.TrimSpace(req.RSP),
		BanqueID:        req.BanqueID,
		CompteID:        req.CompteID,
		DatePaiement:    date,
	}, nil
}

func (s *Service) checkBank(ctx context.Context, banqueID int64, compteID int64) error {
	if banqueID == 0 && compteID == 0 {
		return nil
	}
	if banqueID > 0 {
		if _, err := s.repo.GetBank(ctx, banqueID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("unknown banqueId")
			}
			return err
		}
	}
	if compteID > 0 {
		account, err := s.repo.GetAccount(ctx, compteID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return invalid("unknown compteId")
			}
			return err
		}
		if banqueID > 0 && account.BanqueID != banqueID {
			return invalid("compteId does not belong to banqueId")
		}
	}
	return nil
}

func (s *Service) today() time.Time {
	now := s.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// CreatePayment persists a new entry. Creation attribution comes from the
// authenticated actor, never from the request body.
func (s *Service) CreatePayment(ctx context.Context, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PaymentEntry{}, ErrNoActor
	}

	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return domain.PaymentEntry{}, err
	}
	if req.UserCreation != "" && req.UserCreation != actor.Username {
		s.logger.Warn("request attribution differs from session",
			zap.String("request_user", req.UserCreation),
			zap.String("session_user", actor.Username),
		)
	}
	entry.CaissierID = actor.UserID
	entry.UserCreation = actor.Username
	entry.CreatedAt = s.clock.Now().UTC()

	created, err := s.repo.CreatePayment(ctx, entry)
	if err != nil {
		return domain.PaymentEntry{}, err
	}

	s.logAudit(ctx, "payment_create", "paiement", strconv.FormatInt(created.PaiementID, 10),
		fmt.Sprintf("reference=%s,type=%s,mode=%s,montant=%s,excedent=%s",
			created.Reference, created.Type, created.ModePaiement, created.MontantPaye, created.MontantExcedent))
	s.logger.Info("payment created",
		zap.Int64("paiement_id", created.PaiementID),
		zap.String("reference", created.Reference),
		zap.String("operator", actor.Username),
	)
	return *created, nil
}

func (s *Service) UpdatePayment(ctx context.Context, id int64, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PaymentEntry{}, ErrNoActor
	}
	if id <= 0 {
		return domain.PaymentEntry{}, store.ErrNotFound
	}
	existing, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.PaymentEntry{}, err
	}

	entry, err := s.buildEntry(ctx, req)
	if err != nil {
		return domain.PaymentEntry{}, err
	}
	if req.DatePaiement == nil {
		entry.DatePaiement = existing.DatePaiement
	}
	entry.PaiementID = id
	entry.UserModification = actor.Username
	now := s.clock.Now().UTC()
	entry.UpdatedAt = &now

	updated, err := s.repo.UpdatePayment(ctx, entry)
	if err != nil {
		return domain.PaymentEntry{}, err
	}

	s.logAudit(ctx, "payment_update", "paiement", strconv.FormatInt(id, 10),
		fmt.Sprintf("reference=%s->%s,montant=%s->%s",
			existing.Reference, updated.Reference, existing.MontantPaye, updated.MontantPaye))
	return *updated, nil
}

func (s *Service) GetPayment(ctx context.Context, id int64) (domain.PaymentEntry, error) {
	entry, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.PaymentEntry{}, err
	}
	return *entry, nil
}

func (s *Service) ListPayments(ctx context.Context) ([]domain.PaymentEntry, error) {
	return s.repo.ListPayments(ctx)
}

// SearchPayments returns one page of payments. Pages start at 1; size is
// clamped to a sane range.
func (s *Service) SearchPayments(ctx context.Context, query domain.PaymentQuery) (domain.PaymentPage, error) {
	page := max(query.Page, 1)
	size := query.Size
	if size < 1 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	payments, total, err := s.repo.SearchPayments(ctx, store.PaymentFilter{
		Search: strings.TrimSpace(query.Search),
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return domain.PaymentPage{}, err
	}
	if payments == nil {
		payments = []domain.PaymentEntry{}
	}
	return domain.PaymentPage{Paiements: payments, Page: page, Size: size, Total: total}, nil
}

func (s *Service) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil
	}
	return s.repo.ReferenceExists(ctx, reference)
}

func (s *Service) LookupInvoice(ctx context.Context, invoiceType domain.InvoiceType, key string) (domain.InvoiceRecord, error) {
	if s.invoices == nil {
		return domain.InvoiceRecord{}, invoice.ErrUnavailable
	}
	return s.invoices.Lookup(ctx, invoiceType, key)
}

func (s *Service) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	return s.repo.ListBanks(ctx)
}

func (s *Service) ListAccounts(ctx context.Context, banqueID int64) ([]domain.BankAccount, error) {
	return s.repo.ListAccounts(ctx, banqueID)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	if strings.TrimSpace(date) == "" {
		now := s.clock.Now().UTC()
		return s.repo.ListAuditLogs(ctx, now.Add(-24*time.Hour), now.Add(time.Second), limit)
	}

	from, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, invalid("date must be YYYY-MM-DD")
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.clock.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
