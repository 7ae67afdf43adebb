package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"portcaisse/internal/domain"
	"portcaisse/internal/invoice"
	"portcaisse/internal/logging"
	"portcaisse/internal/store"
	"portcaisse/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	payments        map[int64]domain.PaymentEntry
	nextPaymentID   int64
	invoices        []domain.Invoice
	banks           map[int64]domain.Bank
	accounts        map[int64]domain.BankAccount
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	nextUserID      int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with
// dev defaults and a warning when unset.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for i, u := range []struct {
		username    string
		displayName string
		password    string
		role        string
	}{
		{"admin", "Chef de caisse", adminPwd, domain.RoleAdmin},
		{"cashier", "Caissier principal", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			ID:          int64(i + 1),
			Username:    u.username,
			DisplayName: u.displayName,
			Password:    string(hash),
			Role:        u.role,
			Active:      true,
			CreatedAt:   now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func amount(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func amountPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func seedInvoices() []domain.Invoice {
	return []domain.Invoice{
		{ID: 1001, Type: domain.InvoiceManutention, Numero: "FM-2026-0001", RSP: "RSP-26-0412", ClientID: 501, ClientNom: "SOCOPAO", MontantFacture: amount(45000), Redevance: amountPtr(50000), MontantHT: amount(38136), MontantTVA: amount(6864)},
		{ID: 1002, Type: domain.InvoiceManutention, Numero: "FM-2026-0002", RSP: "RSP-26-0413", ClientID: 502, ClientNom: "MAERSK SENEGAL", MontantFacture: amount(128500), MontantPaye: amountPtr(100000), MontantHT: amount(108898), MontantTVA: amount(19602)},
		{ID: 2001, Type: domain.InvoiceMagasinage, Numero: "FG-2026-0107", RSP: "RSP-26-0398", ClientID: 503, ClientNom: "BOLLORE LOGISTICS", MontantFacture: amount(76000), MontantHT: amount(64407), MontantTVA: amount(11593)},
		{ID: 3001, Type: domain.InvoicePesage, Numero: "FP-2026-0033", RSP: "RSP-26-0420", ClientID: 501, ClientNom: "SOCOPAO", MontantFacture: amount(12000), Redevance: amountPtr(12000), MontantHT: amount(10169), MontantTVA: amount(1831)},
		{ID: 4001, Type: domain.InvoiceEscale, Numero: "FE-2026-0009", ClientID: 504, ClientNom: "GRIMALDI LINES", MontantFacture: amount(910000), MontantHT: amount(771186), MontantTVA: amount(138814)},
	}
}

// NewSeeded returns a store holding demo invoices, banks and users.
func NewSeeded(logger *zap.Logger) *Store {
	logger = logging.OrNop(logger).Named("memory-store")

	banks := map[int64]domain.Bank{
		1: {ID: 1, Code: "CBAO", Nom: "CBAO Groupe Attijariwafa"},
		2: {ID: 2, Code: "SGBS", Nom: "Societe Generale Senegal"},
		3: {ID: 3, Code: "BHS", Nom: "Banque de l'Habitat du Senegal"},
	}
	accounts := map[int64]domain.BankAccount{
		11: {ID: 11, BanqueID: 1, Numero: "SN012 01001 012345678901 45", Libelle: "Recettes portuaires"},
		12: {ID: 12, BanqueID: 1, Numero: "SN012 01001 012345678902 18", Libelle: "Cautions"},
		21: {ID: 21, BanqueID: 2, Numero: "SN011 01010 100200300400 77", Libelle: "Recettes portuaires"},
		31: {ID: 31, BanqueID: 3, Numero: "SN048 01001 500600700800 02", Libelle: "Compte courant"},
	}

	return &Store{
		payments:        make(map[int64]domain.PaymentEntry),
		nextPaymentID:   1,
		invoices:        seedInvoices(),
		banks:           banks,
		accounts:        accounts,
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(logger),
		nextUserID:      3,
	}
}

func normalizeReference(reference string) string {
	return strings.TrimSpace(reference)
}

func validatePayment(entry domain.PaymentEntry) error {
	if !entry.Type.Valid() || !entry.ModePaiement.Valid() {
		return store.ErrInvalidPayment
	}
	if entry.ClientID <= 0 || !entry.MontantPaye.IsPositive() {
		return store.ErrInvalidPayment
	}
	return nil
}

// referenceTakenLocked reports whether another payment than exceptID uses
// reference. Blank references never collide.
func (s *Store) referenceTakenLocked(reference string, exceptID int64) bool {
	if reference == "" {
		return false
	}
	for id, p := range s.payments {
		if id != exceptID && p.Reference == reference {
			return true
		}
	}
	return false
}

func (s *Store) CreatePayment(_ context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error) {
	entry.Reference = normalizeReference(entry.Reference)
	if err := validatePayment(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.referenceTakenLocked(entry.Reference, 0) {
		return nil, store.ErrDuplicateReference
	}
	entry.PaiementID = s.nextPaymentID
	s.nextPaymentID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.UpdatedAt = nil
	entry.UserModification = ""
	s.payments[entry.PaiementID] = entry

	created := entry
	return &created, nil
}

// UpdatePayment replaces the mutable fields of an existing payment. Creation
// attribution is kept from the stored row.
func (s *Store) UpdatePayment(_ context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error) {
	entry.Reference = normalizeReference(entry.Reference)
	if err := validatePayment(entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.payments[entry.PaiementID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if s.referenceTakenLocked(entry.Reference, entry.PaiementID) {
		return nil, store.ErrDuplicateReference
	}

	entry.CaissierID = existing.CaissierID
	entry.UserCreation = existing.UserCreation
	entry.CreatedAt = existing.CreatedAt
	if entry.UpdatedAt == nil {
		now := time.Now().UTC()
		entry.UpdatedAt = &now
	}
	s.payments[entry.PaiementID] = entry

	updated := entry
	return &updated, nil
}

func (s *Store) GetPayment(_ context.Context, id int64) (*domain.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) sortedPaymentsLocked() []domain.PaymentEntry {
	result := make([]domain.PaymentEntry, 0, len(s.payments))
	for _, p := range s.payments {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.PaymentEntry) int {
		switch {
		case a.PaiementID > b.PaiementID:
			return -1
		case a.PaiementID < b.PaiementID:
			return 1
		}
		return 0
	})
	return result
}

func (s *Store) ListPayments(_ context.Context) ([]domain.PaymentEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPaymentsLocked(), nil
}

func (s *Store) SearchPayments(_ context.Context, filter store.PaymentFilter) ([]domain.PaymentEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.PaymentEntry, 0, len(s.payments))
	for _, p := range s.sortedPaymentsLocked() {
		if term != "" &&
			!strings.Contains(strings.ToLower(p.Reference), term) &&
			!strings.Contains(strings.ToLower(p.ClientNom), term) &&
			!strings.Contains(strings.ToLower(p.RSP), term) {
			continue
		}
		matched = append(matched, p)
	}

	total := len(matched)
	offset := max(filter.Offset, 0)
	if offset >= total {
		return []domain.PaymentEntry{}, total, nil
	}
	end := total
	if filter.Limit > 0 && offset+filter.Limit < end {
		end = offset + filter.Limit
	}
	return matched[offset:end], total, nil
}

func (s *Store) ReferenceExists(_ context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.referenceTakenLocked(normalizeReference(reference), 0), nil
}

func (s *Store) FindInvoice(_ context.Context, invoiceType domain.InvoiceType, key string) (*domain.Invoice, error) {
	key = strings.TrimSpace(key)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Type == invoiceType && key != "" && strings.EqualFold(invoice.KeyOf(inv), key) {
			found := inv
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

// AddInvoice registers an invoice, replacing one with the same id.
func (s *Store) AddInvoice(inv domain.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.invoices {
		if s.invoices[i].ID == inv.ID {
			s.invoices[i] = inv
			return
		}
	}
	s.invoices = append(s.invoices, inv)
}

func (s *Store) ListBanks(_ context.Context) ([]domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Bank, 0, len(s.banks))
	for _, b := range s.banks {
		result = append(result, b)
	}
	slices.SortFunc(result, func(a, b domain.Bank) int { return strings.Compare(a.Code, b.Code) })
	return result, nil
}

func (s *Store) GetBank(_ context.Context, id int64) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.banks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *Store) ListAccounts(_ context.Context, banqueID int64) ([]domain.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.BankAccount, 0, len(s.accounts))
	for _, a := range s.accounts {
		if banqueID > 0 && a.BanqueID != banqueID {
			continue
		}
		result = append(result, a)
	}
	slices.SortFunc(result, func(a, b domain.BankAccount) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return result, nil
}

func (s *Store) GetAccount(_ context.Context, id int64) (*domain.BankAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidUser
	}
	user.Username = username
	if user.ID == 0 {
		user.ID = s.nextUserID
		s.nextUserID++
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
