package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portcaisse/internal/domain"
	"portcaisse/internal/store"
)

func newPayment(ref string) domain.PaymentEntry {
	return domain.PaymentEntry{
		Type:         domain.InvoiceManutention,
		ModePaiement: domain.ModeEspeces,
		MontantPaye:  decimal.NewFromInt(50000),
		Reference:    ref,
		ClientID:     501,
		ClientNom:    "SOCOPAO",
		RSP:          "RSP-26-0412",
	}
}

func TestCreatePaymentEnforcesUniqueReference(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	first, err := s.CreatePayment(ctx, newPayment(" BOR-001 "))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.PaiementID)
	assert.Equal(t, "BOR-001", first.Reference)

	_, err = s.CreatePayment(ctx, newPayment("BOR-001"))
	assert.ErrorIs(t, err, store.ErrDuplicateReference)

	// blank references never collide
	_, err = s.CreatePayment(ctx, newPayment(""))
	require.NoError(t, err)
	_, err = s.CreatePayment(ctx, newPayment(""))
	require.NoError(t, err)

	exists, err := s.ReferenceExists(ctx, "BOR-001")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.ReferenceExists(ctx, "")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreatePaymentRejectsInvalid(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	bad := newPayment("X")
	bad.MontantPaye = decimal.Zero
	_, err := s.CreatePayment(ctx, bad)
	assert.ErrorIs(t, err, store.ErrInvalidPayment)

	bad = newPayment("X")
	bad.Type = "VRAC"
	_, err = s.CreatePayment(ctx, bad)
	assert.ErrorIs(t, err, store.ErrInvalidPayment)
}

func TestUpdatePaymentKeepsAttribution(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	entry := newPayment("BOR-010")
	entry.CaissierID = 2
	entry.UserCreation = "cashier"
	created, err := s.CreatePayment(ctx, entry)
	require.NoError(t, err)
	_, err = s.CreatePayment(ctx, newPayment("BOR-011"))
	require.NoError(t, err)

	change := *created
	change.CaissierID = 99
	change.UserCreation = "intruder"
	change.UserModification = "admin"
	change.MontantPaye = decimal.NewFromInt(45000)
	updated, err := s.UpdatePayment(ctx, change)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.CaissierID)
	assert.Equal(t, "cashier", updated.UserCreation)
	assert.NotNil(t, updated.UpdatedAt)

	// own reference is not a conflict, another payment's is
	change.Reference = "BOR-011"
	_, err = s.UpdatePayment(ctx, change)
	assert.ErrorIs(t, err, store.ErrDuplicateReference)

	change.PaiementID = 404
	change.Reference = "BOR-404"
	_, err = s.UpdatePayment(ctx, change)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchPaymentsPaginates(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()
	for i := 1; i <= 7; i++ {
		_, err := s.CreatePayment(ctx, newPayment(fmt.Sprintf("BOR-%03d", i)))
		require.NoError(t, err)
	}
	other := newPayment("CHQ-1")
	other.ClientNom = "GRIMALDI LINES"
	_, err := s.CreatePayment(ctx, other)
	require.NoError(t, err)

	page, total, err := s.SearchPayments(ctx, store.PaymentFilter{Search: "bor", Offset: 5, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, page, 2)
	assert.Equal(t, "BOR-002", page[0].Reference)
	assert.Equal(t, "BOR-001", page[1].Reference)

	page, total, err = s.SearchPayments(ctx, store.PaymentFilter{Search: "grimaldi", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "CHQ-1", page[0].Reference)

	page, total, err = s.SearchPayments(ctx, store.PaymentFilter{Offset: 50, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 8, total)
	assert.Empty(t, page)
}

func TestFindInvoiceByCategoryKey(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	inv, err := s.FindInvoice(ctx, domain.InvoiceManutention, "rsp-26-0412")
	require.NoError(t, err)
	assert.Equal(t, int64(1001), inv.ID)

	inv, err = s.FindInvoice(ctx, domain.InvoiceMagasinage, "FG-2026-0107")
	require.NoError(t, err)
	assert.Equal(t, int64(2001), inv.ID)

	_, err = s.FindInvoice(ctx, domain.InvoiceMagasinage, "RSP-26-0398")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBanksAndAccounts(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	banks, err := s.ListBanks(ctx)
	require.NoError(t, err)
	assert.Len(t, banks, 3)

	accounts, err := s.ListAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	_, err = s.GetAccount(ctx, 999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuditLogsNewestFirst(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()
	base := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{Action: "payment.create", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	logs, err := s.ListAuditLogs(ctx, base, base.Add(time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))
	assert.NotEmpty(t, logs[0].ID)
}

func TestSeedUsersAreHashed(t *testing.T) {
	s := NewSeeded(nil)
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, "admin123", u.Password)
		assert.NotZero(t, u.ID)
	}
	assert.ErrorIs(t, s.CreateUser(context.Background(), domain.UserAccount{Username: "admin", Password: "x"}), store.ErrInvalidUser)
}
