// Package form holds the payment entry form as an immutable value. Every
// operator action is a pure function from one State to the next.
package form

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"portcaisse/internal/domain"
	"portcaisse/internal/invoice"
)

var (
	ErrDuplicateReference = errors.New("reference already used by another payment")
	ErrTypeRequired       = errors.New("invoice type is required")
	ErrModeRequired       = errors.New("payment mode is required")
	ErrClientRequired     = errors.New("client is required")
	ErrAmountNotPositive  = errors.New("paid amount must be greater than zero")
	ErrBusy               = errors.New("submission already in progress")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseSubmitting
	PhaseSuccess
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseValidating:
		return "validating"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSuccess:
		return "success"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Settled reports whether a new submission may start. Success and Failed
// behave as Idle for the next attempt.
func (p Phase) Settled() bool {
	return p == PhaseIdle || p == PhaseSuccess || p == PhaseFailed
}

type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

type State struct {
	Mode           Mode
	Entry          domain.PaymentEntry
	MontantFacture decimal.Decimal
	InvoiceKey     string
	Duplicate      bool
	Conflict       *domain.PaymentEntry
	Phase          Phase
	ReceiptReady   bool
	LastSaved      *domain.PaymentEntry
}

// New returns an empty create-mode form dated on the day of now.
func New(now time.Time) State {
	return State{
		Mode: ModeCreate,
		Entry: domain.PaymentEntry{
			MontantPaye:     decimal.Zero,
			MontantExcedent: decimal.Zero,
			DatePaiement:    today(now),
		},
		MontantFacture: decimal.Zero,
	}
}

// Load opens a persisted entry for modification. The owed amount is not
// stored, so it is recovered from paid minus excedent.
func Load(entry domain.PaymentEntry) State {
	return State{
		Mode:           ModeEdit,
		Entry:          entry,
		MontantFacture: entry.MontantPaye.Sub(entry.MontantExcedent),
	}
}

func SetAmount(s State, paid decimal.Decimal) State {
	s.Entry.MontantPaye = paid
	return recompute(s)
}

func SetOwed(s State, owed decimal.Decimal) State {
	s.MontantFacture = owed
	return recompute(s)
}

func SetType(s State, invoiceType domain.InvoiceType) State {
	s.Entry.Type = invoiceType
	return s
}

func SetMode(s State, mode domain.PaymentMode) State {
	s.Entry.ModePaiement = mode
	if !mode.NeedsBank() {
		s.Entry.BanqueID = 0
		s.Entry.CompteID = 0
	}
	return s
}

func SetBank(s State, banqueID int64, compteID int64) State {
	s.Entry.BanqueID = banqueID
	s.Entry.CompteID = compteID
	return s
}

func SetCredit(s State, credit bool) State {
	s.Entry.Credit = credit
	return s
}

func SetDate(s State, date time.Time) State {
	s.Entry.DatePaiement = today(date)
	return s
}

func SetInvoiceKey(s State, key string) State {
	s.InvoiceKey = key
	return s
}

// SetReference changes the settlement reference. Clearing it also clears
// any duplicate flag; otherwise the flag stands until the next check result.
func SetReference(s State, reference string) State {
	s.Entry.Reference = reference
	if strings.TrimSpace(reference) == "" {
		return ClearDuplicate(s)
	}
	return s
}

// FlagDuplicate marks the reference as already used. conflict may be nil
// when the colliding entry could not be fetched.
func FlagDuplicate(s State, conflict *domain.PaymentEntry) State {
	s.Duplicate = true
	s.Conflict = nil
	if conflict != nil {
		copied := *conflict
		s.Conflict = &copied
	}
	return s
}

func ClearDuplicate(s State) State {
	s.Duplicate = false
	s.Conflict = nil
	return s
}

// ApplyInvoice overwrites the invoice-derived fields with a lookup result.
func ApplyInvoice(s State, res invoice.Resolution) State {
	s.Entry.FactureID = res.FactureID
	s.Entry.RSP = res.RSP
	s.Entry.ClientID = res.ClientID
	s.Entry.ClientNom = res.ClientNom
	s.Entry.MontantPaye = res.MontantPaye
	s.MontantFacture = res.MontantFacture
	return recompute(s)
}

// ClearInvoice drops every field a lookup would have filled so that nothing
// stale survives a failed or empty lookup.
func ClearInvoice(s State) State {
	s.Entry.FactureID = 0
	s.Entry.RSP = ""
	s.Entry.ClientID = 0
	s.Entry.ClientNom = ""
	s.Entry.MontantPaye = decimal.Zero
	s.MontantFacture = decimal.Zero
	return recompute(s)
}

// Validate runs the submission guards in their fixed order and returns the
// first one that fails.
func Validate(s State) error {
	switch {
	case s.Duplicate:
		return ErrDuplicateReference
	case strings.TrimSpace(string(s.Entry.Type)) == "":
		return ErrTypeRequired
	case strings.TrimSpace(string(s.Entry.ModePaiement)) == "":
		return ErrModeRequired
	case s.Entry.ClientID == 0:
		return ErrClientRequired
	case !s.Entry.MontantPaye.IsPositive():
		return ErrAmountNotPositive
	}
	return nil
}

// CanSubmit mirrors the state of the submit button.
func CanSubmit(s State) bool {
	return s.Phase.Settled() && !s.Duplicate
}

// BeginValidation claims a settled form for a submission attempt.
func BeginValidation(s State) (State, error) {
	if !s.Phase.Settled() {
		return s, ErrBusy
	}
	s.Phase = PhaseValidating
	return s, nil
}

// BeginSubmit runs the guards on a form in Validating, entering that phase
// first when the form is still settled. A valid form moves to Submitting
// with the write request stamped with the operator. On a guard failure the
// form goes back to Idle with its values untouched.
func BeginSubmit(s State, actor domain.Actor) (State, domain.PaymentWriteRequest, error) {
	if s.Phase != PhaseValidating {
		var err error
		if s, err = BeginValidation(s); err != nil {
			return s, domain.PaymentWriteRequest{}, err
		}
	}
	if err := Validate(s); err != nil {
		s.Phase = PhaseIdle
		return s, domain.PaymentWriteRequest{}, err
	}

	date := s.Entry.DatePaiement
	req := domain.PaymentWriteRequest{
		FactureID:      s.Entry.FactureID,
		Type:           s.Entry.Type,
		ModePaiement:   s.Entry.ModePaiement,
		MontantPaye:    s.Entry.MontantPaye,
		MontantFacture: s.MontantFacture,
		Reference:      strings.TrimSpace(s.Entry.Reference),
		Credit:         s.Entry.Credit,
		ClientID:       s.Entry.ClientID,
		ClientNom:      s.Entry.ClientNom,
		RSP:            s.Entry.RSP,
		BanqueID:       s.Entry.BanqueID,
		CompteID:       s.Entry.CompteID,
		CaissierID:     actor.UserID,
		UserCreation:   actor.Username,
	}
	if !date.IsZero() {
		req.DatePaiement = &date
	}

	s.Phase = PhaseSubmitting
	s.ReceiptReady = false
	return s, req, nil
}

// Succeeded settles an accepted submission. A create form starts over,
// keeping only the reference; an edit form shows the saved entry.
func Succeeded(s State, saved domain.PaymentEntry, now time.Time) State {
	copied := saved
	if s.Mode == ModeEdit {
		next := Load(saved)
		next.Phase = PhaseSuccess
		next.ReceiptReady = true
		next.LastSaved = &copied
		return next
	}

	next := New(now)
	next.Entry.Reference = s.Entry.Reference
	next.Phase = PhaseSuccess
	next.ReceiptReady = true
	next.LastSaved = &copied
	return next
}

// Failed settles a rejected submission. Entered values stay as they were.
func Failed(s State) State {
	s.Phase = PhaseFailed
	s.ReceiptReady = false
	return s
}

func recompute(s State) State {
	s.Entry.MontantExcedent = Excedent(s.Entry.MontantPaye, s.MontantFacture)
	return s
}

func today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
