// Package desk drives one payment entry form against the backend: invoice
// lookup, the debounced reference uniqueness check, the debounced payment
// search and submission.
package desk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"portcaisse/internal/debounce"
	"portcaisse/internal/domain"
	"portcaisse/internal/form"
	"portcaisse/internal/invoice"
	"portcaisse/internal/logging"
	"portcaisse/internal/session"
)

var (
	ErrClosed          = errors.New("desk is closed")
	ErrReceiptNotReady = errors.New("no saved payment to print")
)

type PaymentService interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	ListPayments(ctx context.Context) ([]domain.PaymentEntry, error)
	SearchPayments(ctx context.Context, query domain.PaymentQuery) (domain.PaymentPage, error)
	GetPayment(ctx context.Context, id int64) (domain.PaymentEntry, error)
	CreatePayment(ctx context.Context, req domain.PaymentWriteRequest) (domain.PaymentEntry, error)
	UpdatePayment(ctx context.Context, id int64, req domain.PaymentWriteRequest) (domain.PaymentEntry, error)
	Receipt(ctx context.Context, id int64) (domain.ReceiptResponse, error)
}

type Session interface {
	Current() (domain.Actor, bool)
}

type Config struct {
	ReferenceDelay time.Duration
	SearchDelay    time.Duration
	RequestTimeout time.Duration
	PageSize       int
	// FailClosed flags the reference as duplicate when the uniqueness check
	// itself fails. The default keeps the form usable.
	FailClosed bool
}

func (c Config) withDefaults() Config {
	if c.ReferenceDelay <= 0 {
		c.ReferenceDelay = 500 * time.Millisecond
	}
	if c.SearchDelay <= 0 {
		c.SearchDelay = 300 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.PageSize < 1 {
		c.PageSize = 20
	}
	return c
}

type Deps struct {
	Payments PaymentService
	Invoices invoice.Source
	Session  Session
	Clock    clockwork.Clock
	Logger   *zap.Logger
	// OnChange, when set, receives a snapshot after every state change,
	// including those made by background checks.
	OnChange func(Snapshot)
}

type Snapshot struct {
	Form      form.State
	Tone      form.Tone
	CanSubmit bool
	Blocked   string
	Checking  bool
	Search    string
	Listing   domain.PaymentPage
	Notices   []Notice
}

type Desk struct {
	mu       sync.Mutex
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	clock    clockwork.Clock
	state    form.State
	search   string
	page     int
	listing  domain.PaymentPage
	notices  noticeLog
	refTimer *debounce.Timer
	srchTime *debounce.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

// New opens a create form.
func New(deps Deps, cfg Config) *Desk {
	d := newDesk(deps, cfg)
	d.state = form.New(d.clock.Now())
	return d
}

// OpenEdit loads a persisted payment into a separate form instance that
// submits through update.
func OpenEdit(ctx context.Context, deps Deps, cfg Config, paiementID int64) (*Desk, error) {
	d := newDesk(deps, cfg)
	entry, err := d.deps.Payments.GetPayment(ctx, paiementID)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load payment %d: %w", paiementID, err)
	}
	d.state = form.Load(entry)
	return d, nil
}

func newDesk(deps Deps, cfg Config) *Desk {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Desk{
		deps:     deps,
		cfg:      cfg,
		logger:   logging.OrNop(deps.Logger).Named("desk"),
		clock:    deps.Clock,
		page:     1,
		refTimer: debounce.New(deps.Clock, cfg.ReferenceDelay),
		srchTime: debounce.New(deps.Clock, cfg.SearchDelay),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops both timers and cancels in-flight background checks.
func (d *Desk) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.refTimer.Close()
	d.srchTime.Close()
	d.cancel()
}

func (d *Desk) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Desk) snapshotLocked() Snapshot {
	snap := Snapshot{
		Form:      d.state,
		Tone:      form.ToneOf(d.state.Entry.MontantExcedent),
		CanSubmit: form.CanSubmit(d.state),
		Checking:  d.refTimer.Pending(),
		Search:    d.search,
		Listing:   d.listing,
		Notices:   d.notices.list(),
	}
	if d.state.Duplicate {
		snap.Blocked = form.ErrDuplicateReference.Error()
	} else if !d.state.Phase.Settled() {
		snap.Blocked = form.ErrBusy.Error()
	}
	return snap
}

// update applies fn to the form state and publishes the change.
func (d *Desk) update(fn func(form.State) form.State) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.state = fn(d.state)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)
}

func (d *Desk) publish(snap Snapshot) {
	if d.deps.OnChange != nil {
		d.deps.OnChange(snap)
	}
}

func (d *Desk) notify(level Level, msg string) {
	d.mu.Lock()
	d.notices.add(Notice{Level: level, Message: msg, At: d.clock.Now()})
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)
}

func (d *Desk) SetType(invoiceType domain.InvoiceType) {
	d.update(func(s form.State) form.State { return form.SetType(s, invoiceType) })
}

func (d *Desk) SetMode(mode domain.PaymentMode) {
	d.update(func(s form.State) form.State { return form.SetMode(s, mode) })
}

func (d *Desk) SetAmount(paid decimal.Decimal) {
	d.update(func(s form.State) form.State { return form.SetAmount(s, paid) })
}

func (d *Desk) SetCredit(credit bool) {
	d.update(func(s form.State) form.State { return form.SetCredit(s, credit) })
}

func (d *Desk) SetBank(banqueID int64, compteID int64) {
	d.update(func(s form.State) form.State { return form.SetBank(s, banqueID, compteID) })
}

func (d *Desk) SetDate(date time.Time) {
	d.update(func(s form.State) form.State { return form.SetDate(s, date) })
}

func (d *Desk) SetInvoiceKey(key string) {
	d.update(func(s form.State) form.State { return form.SetInvoiceKey(s, key) })
}

// Conflict returns the entry that already uses the current reference, if
// the check could fetch it.
func (d *Desk) Conflict() *domain.PaymentEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Conflict == nil {
		return nil
	}
	copied := *d.state.Conflict
	return &copied
}

func (d *Desk) Notices() []Notice {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notices.list()
}

func (d *Desk) requestContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = d.ctx
	}
	return context.WithTimeout(parent, d.cfg.RequestTimeout)
}

// LookupInvoice resolves the current invoice key for the selected type and
// fills the dependent fields. An unset or unknown type is rejected before
// any request is made.
func (d *Desk) LookupInvoice(ctx context.Context) error {
	d.mu.Lock()
	invoiceType := d.state.Entry.Type
	key := strings.TrimSpace(d.state.InvoiceKey)
	d.mu.Unlock()

	if err := invoice.CheckType(invoiceType); err != nil {
		d.notify(LevelWarning, err.Error())
		return err
	}
	if key == "" {
		d.notify(LevelWarning, invoice.ErrKeyRequired.Error())
		return invoice.ErrKeyRequired
	}

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()

	record, err := d.deps.Invoices.Lookup(reqCtx, invoiceType, key)
	if err == nil {
		var res invoice.Resolution
		res, err = invoice.Resolve(record)
		if err == nil {
			applied := d.applyLookup(invoiceType, key, func(s form.State) form.State {
				return form.ApplyInvoice(s, res)
			})
			if applied {
				d.notify(LevelSuccess, fmt.Sprintf("invoice %s loaded for %s", key, res.ClientNom))
			}
			return nil
		}
	}

	d.applyLookup(invoiceType, key, form.ClearInvoice)
	if errors.Is(err, invoice.ErrNotFound) {
		d.notify(LevelWarning, fmt.Sprintf("no %s invoice matches %s", strings.ToLower(string(invoiceType)), key))
		return err
	}
	d.logger.Warn("invoice lookup failed",
		zap.String("type", string(invoiceType)),
		zap.String("key", key),
		zap.Error(err),
	)
	d.notify(LevelError, "invoice lookup failed, try again")
	return err
}

// applyLookup applies fn unless the operator changed the type or key while
// the lookup was in flight.
func (d *Desk) applyLookup(invoiceType domain.InvoiceType, key string, fn func(form.State) form.State) bool {
	d.mu.Lock()
	if d.closed || d.state.Entry.Type != invoiceType || strings.TrimSpace(d.state.InvoiceKey) != key {
		d.mu.Unlock()
		return false
	}
	d.state = fn(d.state)
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)
	return true
}

// Submit validates and persists the form: create for a new entry, update
// for an edit form. There is no retry; a failed submit leaves the form as
// it was.
func (d *Desk) Submit(ctx context.Context) (domain.PaymentEntry, error) {
	actor, ok := d.deps.Session.Current()
	if !ok {
		d.notify(LevelError, session.ErrNoSession.Error())
		return domain.PaymentEntry{}, session.ErrNoSession
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.PaymentEntry{}, ErrClosed
	}
	validating, err := form.BeginValidation(d.state)
	if err != nil {
		d.mu.Unlock()
		d.notify(LevelWarning, err.Error())
		return domain.PaymentEntry{}, err
	}
	d.state = validating
	snap := d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.PaymentEntry{}, ErrClosed
	}
	next, req, err := form.BeginSubmit(d.state, actor)
	d.state = next
	if err != nil {
		snap = d.snapshotLocked()
		d.mu.Unlock()
		d.publish(snap)
		d.notify(LevelWarning, err.Error())
		return domain.PaymentEntry{}, err
	}
	mode := next.Mode
	paiementID := next.Entry.PaiementID
	snap = d.snapshotLocked()
	d.mu.Unlock()
	d.publish(snap)

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()

	var saved domain.PaymentEntry
	if mode == form.ModeEdit {
		saved, err = d.deps.Payments.UpdatePayment(reqCtx, paiementID, req)
	} else {
		saved, err = d.deps.Payments.CreatePayment(reqCtx, req)
	}

	if err != nil {
		d.update(form.Failed)
		d.logger.Warn("payment submit failed",
			zap.String("reference", req.Reference),
			zap.Int64("paiement_id", paiementID),
			zap.Error(err),
		)
		d.notify(LevelError, "payment not saved: "+err.Error())
		return domain.PaymentEntry{}, err
	}

	now := d.clock.Now()
	d.update(func(s form.State) form.State { return form.Succeeded(s, saved, now) })
	d.logger.Info("payment saved",
		zap.Int64("paiement_id", saved.PaiementID),
		zap.String("reference", saved.Reference),
		zap.String("operator", actor.Username),
	)
	d.notify(LevelSuccess, fmt.Sprintf("payment %d saved", saved.PaiementID))
	return saved, nil
}

// Receipt fetches the printable receipt of the last saved payment.
func (d *Desk) Receipt(ctx context.Context) (domain.ReceiptResponse, error) {
	d.mu.Lock()
	ready := d.state.ReceiptReady && d.state.LastSaved != nil
	var id int64
	if ready {
		id = d.state.LastSaved.PaiementID
	}
	d.mu.Unlock()
	if !ready {
		return domain.ReceiptResponse{}, ErrReceiptNotReady
	}

	reqCtx, cancel := d.requestContext(ctx)
	defer cancel()
	return d.deps.Payments.Receipt(reqCtx, id)
}
