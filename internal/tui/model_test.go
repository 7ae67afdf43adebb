package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portcaisse/internal/desk"
	"portcaisse/internal/domain"
	"portcaisse/internal/form"
)

type fakeDesk struct {
	snap      desk.Snapshot
	amounts   []decimal.Decimal
	keys      []string
	refs      []string
	banks     [][2]int64
	lookups   int
	submits   int
	pages     int
	lookupFn  func(*fakeDesk) error
	submitErr error
	receipt   domain.ReceiptResponse
}

func newFakeDesk() *fakeDesk {
	return &fakeDesk{snap: desk.Snapshot{Form: form.New(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))}}
}

func (f *fakeDesk) Snapshot() desk.Snapshot { return f.snap }
func (f *fakeDesk) SetType(t domain.InvoiceType) {
	f.snap.Form.Entry.Type = t
}
func (f *fakeDesk) SetMode(m domain.PaymentMode) {
	f.snap.Form.Entry.ModePaiement = m
}
func (f *fakeDesk) SetAmount(paid decimal.Decimal) {
	f.amounts = append(f.amounts, paid)
	f.snap.Form = form.SetAmount(f.snap.Form, paid)
	f.snap.Tone = form.ToneOf(f.snap.Form.Entry.MontantExcedent)
}
func (f *fakeDesk) SetCredit(credit bool) { f.snap.Form.Entry.Credit = credit }
func (f *fakeDesk) SetBank(b, c int64) {
	f.banks = append(f.banks, [2]int64{b, c})
}
func (f *fakeDesk) SetDate(date time.Time) { f.snap.Form.Entry.DatePaiement = date }
func (f *fakeDesk) SetInvoiceKey(k string) { f.keys = append(f.keys, k); f.snap.Form.InvoiceKey = k }
func (f *fakeDesk) SetReference(r string) { f.refs = append(f.refs, r); f.snap.Form.Entry.Reference = r }
func (f *fakeDesk) SetSearch(term string) { f.snap.Search = term }
func (f *fakeDesk) NextPage(context.Context) error { f.pages++; return nil }
func (f *fakeDesk) PrevPage(context.Context) error { f.pages--; return nil }

func (f *fakeDesk) LookupInvoice(context.Context) error {
	f.lookups++
	if f.lookupFn != nil {
		return f.lookupFn(f)
	}
	return nil
}

func (f *fakeDesk) Submit(context.Context) (domain.PaymentEntry, error) {
	f.submits++
	if f.submitErr != nil {
		return domain.PaymentEntry{}, f.submitErr
	}
	saved := f.snap.Form.Entry
	saved.PaiementID = 41
	f.snap.Form = form.New(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC))
	f.snap.Form.Entry.Reference = saved.Reference
	return saved, nil
}

func (f *fakeDesk) Receipt(context.Context) (domain.ReceiptResponse, error) {
	if f.receipt.PaiementID == 0 {
		return domain.ReceiptResponse{}, desk.ErrReceiptNotReady
	}
	return f.receipt, nil
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model, cmd
}

func focusField(t *testing.T, m Model, field int) Model {
	t.Helper()
	for m.focus != field {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	}
	return m
}

func TestTypingPushesValuesIntoDesk(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})

	m = focusField(t, m, fieldAmount)
	m, _ = press(t, m, runes("5"))
	m, _ = press(t, m, runes("0"))

	require.NotEmpty(t, fake.amounts)
	assert.True(t, fake.amounts[len(fake.amounts)-1].Equal(decimal.NewFromInt(50)))
	assert.Empty(t, m.inputErr)

	m, _ = press(t, m, runes("x"))
	assert.Equal(t, "montant invalide", m.fieldErrs[fieldAmount])
	assert.True(t, fake.amounts[len(fake.amounts)-1].IsZero())

	m = focusField(t, m, fieldBank)
	m, _ = press(t, m, runes("2"))
	require.NotEmpty(t, fake.banks)
	assert.Equal(t, [2]int64{2, 0}, fake.banks[len(fake.banks)-1])
}

func TestUnparsableAmountIsNotSaved(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})
	m = focusField(t, m, fieldAmount)
	m, _ = press(t, m, runes("5000x"))

	assert.True(t, fake.snap.Form.Entry.MontantPaye.IsZero())
	assert.Contains(t, m.View(), "montant invalide")

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
	assert.Zero(t, fake.submits)
	assert.Empty(t, m.busy)
	assert.Contains(t, m.inputErr, "Montant paye")

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Empty(t, m.fieldErrs[fieldAmount])
	assert.True(t, fake.snap.Form.Entry.MontantPaye.Equal(decimal.NewFromInt(5000)))

	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)
}

func TestAmountAcceptsCommaDecimal(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})
	m = focusField(t, m, fieldAmount)
	m, _ = press(t, m, runes("1 250,50"))

	assert.Empty(t, m.fieldErrs[fieldAmount])
	assert.True(t, fake.snap.Form.Entry.MontantPaye.Equal(decimal.RequireFromString("1250.50")))
}

func TestInvalidBankAndDateBlockSaving(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})

	m = focusField(t, m, fieldAccount)
	m, _ = press(t, m, runes("1a"))
	assert.Equal(t, [2]int64{0, 0}, fake.banks[len(fake.banks)-1])
	_, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	assert.Equal(t, -1, m.invalidField())

	m = focusField(t, m, fieldDate)
	m, _ = press(t, m, runes("x"))
	assert.NotEmpty(t, m.fieldErrs[fieldDate])
	_, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, cmd)
	assert.Zero(t, fake.submits)
}

func TestEnterOnKeyRunsLookupAndSyncsInputs(t *testing.T) {
	fake := newFakeDesk()
	fake.lookupFn = func(f *fakeDesk) error {
		f.snap.Form.Entry.ClientID = 9
		f.snap.Form.Entry.ClientNom = "Transit Sud"
		f.snap.Form.Entry.MontantPaye = decimal.NewFromInt(45000)
		return nil
	}
	m := New(fake, domain.Actor{Username: "cashier"})
	m = focusField(t, m, fieldKey)
	m, _ = press(t, m, runes("F-1"))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "recherche facture", m.busy)

	m, _ = press(t, m, cmd())
	assert.Equal(t, 1, fake.lookups)
	assert.Empty(t, m.busy)
	assert.Equal(t, "45000", m.inputs[fieldAmount].Value())
	assert.Contains(t, m.View(), "Transit Sud")
}

func TestSubmitResetsInputsOnSuccess(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})
	m = focusField(t, m, fieldReference)
	m, _ = press(t, m, runes("CHQ-1"))
	m = focusField(t, m, fieldAmount)
	m, _ = press(t, m, runes("10"))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	require.NotNil(t, cmd)

	// a second ctrl+s while busy is ignored
	_, again := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.Nil(t, again)

	m, _ = press(t, m, cmd())
	assert.Equal(t, 1, fake.submits)
	assert.Empty(t, m.inputs[fieldAmount].Value())
	assert.Equal(t, "CHQ-1", m.inputs[fieldReference].Value())
}

func TestSubmitFailureKeepsInputs(t *testing.T) {
	fake := newFakeDesk()
	fake.submitErr = errors.New("boom")
	m := New(fake, domain.Actor{Username: "cashier"})
	m = focusField(t, m, fieldAmount)
	m, _ = press(t, m, runes("10"))

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	m, _ = press(t, m, cmd())
	assert.Equal(t, "10", m.inputs[fieldAmount].Value())
}

func TestCreditToggleAndPaging(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})

	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlT})
	assert.True(t, fake.snap.Form.Entry.Credit)
	assert.True(t, m.snap.Form.Entry.Credit)

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyPgDown})
	require.NotNil(t, cmd)
	_, _ = press(t, m, cmd())
	assert.Equal(t, 1, fake.pages)
}

func TestRefreshPullsSnapshotAndShowsDuplicate(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})

	fake.snap.Form.Duplicate = true
	fake.snap.Form.Conflict = &domain.PaymentEntry{
		PaiementID:   7,
		MontantPaye:  decimal.NewFromInt(1200),
		DatePaiement: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UserCreation: "admin",
	}
	fake.snap.Blocked = "reference deja utilisee"

	m, _ = press(t, m, refreshMsg{})
	view := m.View()
	assert.Contains(t, view, "Reference deja utilisee")
	assert.Contains(t, view, "paiement 7")
	assert.Contains(t, view, "01/03/2026")
}

func TestReceiptViewAndEscape(t *testing.T) {
	fake := newFakeDesk()
	m := New(fake, domain.Actor{Username: "cashier"})

	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	m, _ = press(t, m, cmd())
	assert.Nil(t, m.receipt)
	assert.Equal(t, desk.ErrReceiptNotReady.Error(), m.inputErr)

	fake.receipt = domain.ReceiptResponse{PaiementID: 41, FileName: "recu-41.bin", PreviewText: "PORT AUTONOME - CAISSE"}
	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyCtrlP})
	m, _ = press(t, m, cmd())
	require.NotNil(t, m.receipt)
	assert.Contains(t, m.View(), "recu-41.bin")

	m, cmd = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Nil(t, cmd)
	assert.Nil(t, m.receipt)
}

func TestLoginModel(t *testing.T) {
	var gotUser, gotPass string
	m := NewLogin(func(_ context.Context, u, p string) (domain.Actor, error) {
		gotUser, gotPass = u, p
		if p != "cashier123" {
			return domain.Actor{}, errors.New("invalid credentials")
		}
		return domain.Actor{UserID: 2, Username: u}, nil
	})

	step := func(msg tea.Msg) tea.Cmd {
		next, cmd := m.Update(msg)
		m = next.(LoginModel)
		return cmd
	}

	step(tea.KeyMsg{Type: tea.KeyTab})
	step(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, "utilisateur et mot de passe requis", m.err)

	step(tea.KeyMsg{Type: tea.KeyTab})
	step(runes("cashier"))
	step(tea.KeyMsg{Type: tea.KeyEnter})
	step(runes("wrong"))
	cmd := step(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	step(cmd())
	assert.Equal(t, "invalid credentials", m.err)
	assert.Empty(t, m.password.Value())

	step(runes("cashier123"))
	cmd = step(tea.KeyMsg{Type: tea.KeyEnter})
	step(cmd())
	actor, ok := m.Actor()
	require.True(t, ok)
	assert.Equal(t, int64(2), actor.UserID)
	assert.Equal(t, "cashier", gotUser)
	assert.Equal(t, "cashier123", gotPass)
}

func TestBridgeOnChangeNeverBlocks(t *testing.T) {
	b := NewBridge()
	defer b.Stop()

	done := make(chan struct{})
	go func() {
		for range 10 {
			b.OnChange(desk.Snapshot{})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnChange blocked without an attached program")
	}
}
