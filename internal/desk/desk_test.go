package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portcaisse/internal/domain"
	"portcaisse/internal/form"
	"portcaisse/internal/invoice"
	"portcaisse/internal/session"
)

type fakePayments struct {
	mu        sync.Mutex
	existing  []domain.PaymentEntry
	existsErr error
	listErr   error
	createErr error
	checks    []string
	created   []domain.PaymentWriteRequest
	updated   []domain.PaymentWriteRequest
	searches  []domain.PaymentQuery
	nextID    int64
}

func (f *fakePayments) ReferenceExists(_ context.Context, reference string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, reference)
	if f.existsErr != nil {
		return false, f.existsErr
	}
	for _, p := range f.existing {
		if p.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePayments) ListPayments(context.Context) ([]domain.PaymentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.PaymentEntry(nil), f.existing...), nil
}

func (f *fakePayments) SearchPayments(_ context.Context, q domain.PaymentQuery) (domain.PaymentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	return domain.PaymentPage{Paiements: f.existing, Page: q.Page, Size: q.Size, Total: len(f.existing)}, nil
}

func (f *fakePayments) GetPayment(_ context.Context, id int64) (domain.PaymentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.existing {
		if p.PaiementID == id {
			return p, nil
		}
	}
	return domain.PaymentEntry{}, errors.New("not found")
}

func (f *fakePayments) CreatePayment(_ context.Context, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return domain.PaymentEntry{}, f.createErr
	}
	f.nextID++
	return entryFrom(f.nextID, req), nil
}

func (f *fakePayments) UpdatePayment(_ context.Context, id int64, req domain.PaymentWriteRequest) (domain.PaymentEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, req)
	return entryFrom(id, req), nil
}

func (f *fakePayments) Receipt(_ context.Context, id int64) (domain.ReceiptResponse, error) {
	return domain.ReceiptResponse{PaiementID: id, FileName: "recu.bin"}, nil
}

func (f *fakePayments) checkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.checks)
}

func entryFrom(id int64, req domain.PaymentWriteRequest) domain.PaymentEntry {
	return domain.PaymentEntry{
		PaiementID:      id,
		FactureID:       req.FactureID,
		Type:            req.Type,
		ModePaiement:    req.ModePaiement,
		MontantPaye:     req.MontantPaye,
		MontantExcedent: req.MontantPaye.Sub(req.MontantFacture),
		Reference:       req.Reference,
		ClientID:        req.ClientID,
		ClientNom:       req.ClientNom,
		CaissierID:      req.CaissierID,
		UserCreation:    req.UserCreation,
	}
}

type fakeInvoices struct {
	mu      sync.Mutex
	records map[string]domain.InvoiceRecord
	calls   int
}

func (f *fakeInvoices) Lookup(_ context.Context, _ domain.InvoiceType, key string) (domain.InvoiceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	rec, ok := f.records[key]
	if !ok {
		return domain.InvoiceRecord{}, invoice.ErrNotFound
	}
	return rec, nil
}

type fakeSession struct {
	actor domain.Actor
	ok    bool
}

func (s fakeSession) Current() (domain.Actor, bool) { return s.actor, s.ok }

func ptr[T any](v T) *T { return &v }

func cashier() fakeSession {
	return fakeSession{actor: domain.Actor{UserID: 7, Username: "awa", Role: domain.RoleCashier}, ok: true}
}

func newTestDesk(t *testing.T, payments *fakePayments, cfg Config) (*Desk, *fakeInvoices, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC))
	invoices := &fakeInvoices{records: map[string]domain.InvoiceRecord{
		"F-100": {
			IDFacture:      ptr(int64(100)),
			NumeroFacture:  ptr("F-100"),
			RSP:            ptr("RSP-9"),
			ClientID:       ptr(int64(42)),
			ClientNom:      ptr("SOCOPAO"),
			MontantFacture: ptr(decimal.NewFromInt(45000)),
			Redevance:      ptr(decimal.NewFromInt(50000)),
		},
	}}
	d := New(Deps{Payments: payments, Invoices: invoices, Session: cashier(), Clock: clock}, cfg)
	t.Cleanup(d.Close)
	return d, invoices, clock
}

func fillValid(t *testing.T, d *Desk) {
	t.Helper()
	d.SetType(domain.InvoiceManutention)
	d.SetMode(domain.ModeEspeces)
	d.SetInvoiceKey("F-100")
	require.NoError(t, d.LookupInvoice(context.Background()))
}

func TestDuplicateReferenceBlocksSubmit(t *testing.T) {
	payments := &fakePayments{existing: []domain.PaymentEntry{{PaiementID: 3, Reference: "BOR-001", ClientNom: "MAERSK"}}}
	d, _, clock := newTestDesk(t, payments, Config{})
	fillValid(t, d)

	d.SetReference("BOR-001")
	clock.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool { return d.Snapshot().Form.Duplicate }, 2*time.Second, 5*time.Millisecond)

	snap := d.Snapshot()
	assert.False(t, snap.CanSubmit)
	assert.Equal(t, form.ErrDuplicateReference.Error(), snap.Blocked)
	conflict := d.Conflict()
	require.NotNil(t, conflict)
	assert.Equal(t, int64(3), conflict.PaiementID)

	_, err := d.Submit(context.Background())
	assert.ErrorIs(t, err, form.ErrDuplicateReference)
	assert.Empty(t, payments.created)
}

func TestReferenceCheckedOnceAfterTypingSettles(t *testing.T) {
	payments := &fakePayments{}
	d, _, clock := newTestDesk(t, payments, Config{ReferenceDelay: 500 * time.Millisecond})

	for _, ref := range []string{"B", "BO", "BOR", "BOR-0", "BOR-002"} {
		d.SetReference(ref)
		clock.Advance(100 * time.Millisecond)
	}
	assert.Zero(t, payments.checkCount())

	clock.Advance(500 * time.Millisecond)
	require.Eventually(t, func() bool { return payments.checkCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"BOR-002"}, payments.checks)
}

func TestClearingReferenceCancelsCheck(t *testing.T) {
	payments := &fakePayments{}
	d, _, clock := newTestDesk(t, payments, Config{})

	d.SetReference("BOR-003")
	d.SetReference("  ")
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, payments.checkCount())
	assert.False(t, d.Snapshot().Checking)
}

func TestReferenceCheckFailureFailsOpenByDefault(t *testing.T) {
	payments := &fakePayments{existsErr: errors.New("timeout")}
	d, _, _ := newTestDesk(t, payments, Config{})
	fillValid(t, d)

	d.SetReference("BOR-004")
	d.CheckReferenceNow(context.Background())

	snap := d.Snapshot()
	assert.False(t, snap.Form.Duplicate)
	assert.True(t, snap.CanSubmit)
	require.NotEmpty(t, snap.Notices)
	assert.Equal(t, LevelWarning, snap.Notices[len(snap.Notices)-1].Level)
}

func TestReferenceCheckFailureCanFailClosed(t *testing.T) {
	payments := &fakePayments{existsErr: errors.New("timeout")}
	d, _, _ := newTestDesk(t, payments, Config{FailClosed: true})

	d.SetReference("BOR-004")
	d.CheckReferenceNow(context.Background())

	snap := d.Snapshot()
	assert.True(t, snap.Form.Duplicate)
	assert.Nil(t, d.Conflict())
}

func TestConflictFetchFailureStillFlags(t *testing.T) {
	payments := &fakePayments{
		existing: []domain.PaymentEntry{{PaiementID: 3, Reference: "BOR-001"}},
		listErr:  errors.New("boom"),
	}
	d, _, _ := newTestDesk(t, payments, Config{})

	d.SetReference("BOR-001")
	d.CheckReferenceNow(context.Background())

	assert.True(t, d.Snapshot().Form.Duplicate)
	assert.Nil(t, d.Conflict())
}

func TestLookupRejectsMissingTypeWithoutRequest(t *testing.T) {
	d, invoices, _ := newTestDesk(t, &fakePayments{}, Config{})
	d.SetInvoiceKey("F-100")

	err := d.LookupInvoice(context.Background())
	assert.ErrorIs(t, err, invoice.ErrTypeRequired)

	d.SetType("VRAC")
	err = d.LookupInvoice(context.Background())
	assert.ErrorIs(t, err, invoice.ErrUnsupportedType)
	assert.Zero(t, invoices.calls)
}

func TestLookupFillsAndClearsInvoiceFields(t *testing.T) {
	d, _, _ := newTestDesk(t, &fakePayments{}, Config{})
	fillValid(t, d)

	snap := d.Snapshot()
	assert.Equal(t, int64(100), snap.Form.Entry.FactureID)
	assert.Equal(t, int64(42), snap.Form.Entry.ClientID)
	assert.True(t, decimal.NewFromInt(50000).Equal(snap.Form.Entry.MontantPaye))
	assert.True(t, decimal.NewFromInt(5000).Equal(snap.Form.Entry.MontantExcedent))
	assert.Equal(t, form.TonePositive, snap.Tone)

	d.SetInvoiceKey("F-404")
	err := d.LookupInvoice(context.Background())
	assert.ErrorIs(t, err, invoice.ErrNotFound)

	snap = d.Snapshot()
	assert.Zero(t, snap.Form.Entry.FactureID)
	assert.Zero(t, snap.Form.Entry.ClientID)
	assert.Empty(t, snap.Form.Entry.ClientNom)
	assert.True(t, snap.Form.Entry.MontantExcedent.IsZero())
}

func TestSubmitCreateResetsFormAndStampsOperator(t *testing.T) {
	payments := &fakePayments{}
	d, _, _ := newTestDesk(t, payments, Config{})
	fillValid(t, d)
	d.SetReference("BOR-010")

	saved, err := d.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.PaiementID)

	require.Len(t, payments.created, 1)
	assert.Equal(t, int64(7), payments.created[0].CaissierID)
	assert.Equal(t, "awa", payments.created[0].UserCreation)
	assert.True(t, decimal.NewFromInt(45000).Equal(payments.created[0].MontantFacture))

	snap := d.Snapshot()
	assert.Equal(t, form.PhaseSuccess, snap.Form.Phase)
	assert.Equal(t, "BOR-010", snap.Form.Entry.Reference)
	assert.Zero(t, snap.Form.Entry.ClientID)
	assert.True(t, snap.Form.ReceiptReady)

	receipt, err := d.Receipt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), receipt.PaiementID)
}

func TestSubmitFailureKeepsValues(t *testing.T) {
	payments := &fakePayments{createErr: errors.New("server said no")}
	d, _, _ := newTestDesk(t, payments, Config{})
	fillValid(t, d)
	d.SetReference("BOR-011")

	_, err := d.Submit(context.Background())
	require.Error(t, err)

	snap := d.Snapshot()
	assert.Equal(t, form.PhaseFailed, snap.Form.Phase)
	assert.Equal(t, int64(42), snap.Form.Entry.ClientID)
	assert.Equal(t, "BOR-011", snap.Form.Entry.Reference)
	assert.True(t, snap.CanSubmit)

	_, err = d.Receipt(context.Background())
	assert.ErrorIs(t, err, ErrReceiptNotReady)
}

func TestSubmitWithoutSession(t *testing.T) {
	payments := &fakePayments{}
	clock := clockwork.NewFakeClock()
	d := New(Deps{Payments: payments, Invoices: &fakeInvoices{}, Session: fakeSession{}, Clock: clock}, Config{})
	defer d.Close()

	_, err := d.Submit(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
	assert.Empty(t, payments.created)
}

func TestEditFormUpdatesAndIgnoresOwnReference(t *testing.T) {
	payments := &fakePayments{existing: []domain.PaymentEntry{{
		PaiementID:      9,
		FactureID:       100,
		Type:            domain.InvoiceMagasinage,
		ModePaiement:    domain.ModeCheque,
		MontantPaye:     decimal.NewFromInt(30000),
		MontantExcedent: decimal.NewFromInt(-2000),
		Reference:       "CHQ-77",
		ClientID:        42,
	}}}
	clock := clockwork.NewFakeClock()
	d, err := OpenEdit(context.Background(), Deps{Payments: payments, Invoices: &fakeInvoices{}, Session: cashier(), Clock: clock}, Config{}, 9)
	require.NoError(t, err)
	defer d.Close()

	assert.True(t, decimal.NewFromInt(32000).Equal(d.Snapshot().Form.MontantFacture))

	d.CheckReferenceNow(context.Background())
	assert.False(t, d.Snapshot().Form.Duplicate)

	d.SetAmount(decimal.NewFromInt(32000))
	saved, err := d.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), saved.PaiementID)
	assert.Len(t, payments.updated, 1)
	assert.Empty(t, payments.created)
	assert.True(t, d.Snapshot().Form.Entry.MontantExcedent.IsZero())
}

func TestSubmitPublishesValidatingBeforeSubmitting(t *testing.T) {
	payments := &fakePayments{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC))
	invoices := &fakeInvoices{records: map[string]domain.InvoiceRecord{
		"F-100": {IDFacture: ptr(int64(100)), ClientID: ptr(int64(42)), MontantFacture: ptr(decimal.NewFromInt(45000))},
	}}

	var mu sync.Mutex
	var phases []form.Phase
	d := New(Deps{Payments: payments, Invoices: invoices, Session: cashier(), Clock: clock, OnChange: func(s Snapshot) {
		mu.Lock()
		phases = append(phases, s.Form.Phase)
		mu.Unlock()
	}}, Config{})
	t.Cleanup(d.Close)

	d.SetType(domain.InvoiceManutention)
	d.SetMode(domain.ModeEspeces)
	d.SetInvoiceKey("F-100")
	require.NoError(t, d.LookupInvoice(context.Background()))
	d.SetAmount(decimal.NewFromInt(50000))

	mu.Lock()
	phases = nil
	mu.Unlock()
	_, err := d.Submit(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(phases), 3)
	assert.Equal(t, []form.Phase{form.PhaseValidating, form.PhaseSubmitting, form.PhaseSuccess}, phases[:3])
}

func TestCloseStopsPendingTimers(t *testing.T) {
	payments := &fakePayments{}
	d, _, clock := newTestDesk(t, payments, Config{ReferenceDelay: 500 * time.Millisecond, SearchDelay: 300 * time.Millisecond})

	d.SetReference("BOR-020")
	d.SetSearch("BOR")
	d.Close()

	clock.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, payments.checkCount())
	payments.mu.Lock()
	defer payments.mu.Unlock()
	assert.Empty(t, payments.searches)

	_, err := d.Submit(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSearchIsDebounced(t *testing.T) {
	payments := &fakePayments{existing: []domain.PaymentEntry{{PaiementID: 1, Reference: "BOR-001"}}}
	d, _, clock := newTestDesk(t, payments, Config{SearchDelay: 300 * time.Millisecond, PageSize: 10})

	d.SetSearch("BO")
	d.SetSearch("BOR")
	clock.Advance(300 * time.Millisecond)

	require.Eventually(t, func() bool { return d.Snapshot().Listing.Total == 1 }, 2*time.Second, 5*time.Millisecond)
	payments.mu.Lock()
	defer payments.mu.Unlock()
	require.Len(t, payments.searches, 1)
	assert.Equal(t, domain.PaymentQuery{Search: "BOR", Page: 1, Size: 10}, payments.searches[0])
}

func TestNoticesAreBounded(t *testing.T) {
	var log noticeLog
	for i := 0; i < maxNotices+5; i++ {
		log.add(Notice{Message: string(rune('a' + i))})
	}
	items := log.list()
	assert.Len(t, items, maxNotices)
	assert.Equal(t, string(rune('a'+5)), items[0].Message)
}
