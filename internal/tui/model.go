// Package tui is the terminal front end of the payment desk.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"portcaisse/internal/desk"
	"portcaisse/internal/domain"
	"portcaisse/internal/form"
)

// Desk is the part of *desk.Desk the screen drives.
type Desk interface {
	Snapshot() desk.Snapshot
	SetType(invoiceType domain.InvoiceType)
	SetMode(mode domain.PaymentMode)
	SetAmount(paid decimal.Decimal)
	SetCredit(credit bool)
	SetBank(banqueID int64, compteID int64)
	SetDate(date time.Time)
	SetInvoiceKey(key string)
	SetReference(reference string)
	SetSearch(term string)
	LookupInvoice(ctx context.Context) error
	Submit(ctx context.Context) (domain.PaymentEntry, error)
	Receipt(ctx context.Context) (domain.ReceiptResponse, error)
	NextPage(ctx context.Context) error
	PrevPage(ctx context.Context) error
}

const (
	fieldType = iota
	fieldKey
	fieldMode
	fieldAmount
	fieldReference
	fieldBank
	fieldAccount
	fieldDate
	fieldSearch
	fieldCount
)

var fieldLabels = [fieldCount]string{
	"Type facture", "N. / RSP", "Mode", "Montant paye", "Reference",
	"Banque", "Compte", "Date", "Recherche",
}

const dateLayout = "2006-01-02"

type (
	lookupDoneMsg struct{ err error }
	submitDoneMsg struct {
		saved domain.PaymentEntry
		err   error
	}
	receiptMsg struct {
		receipt domain.ReceiptResponse
		err     error
	}
	pageDoneMsg struct{ err error }
)

type Model struct {
	desk     Desk
	operator domain.Actor
	inputs   []textinput.Model
	focus    int
	snap     desk.Snapshot
	inputErr string
	busy     string
	receipt  *domain.ReceiptResponse
	width    int

	// fieldErrs holds the inputs whose text the desk could not take. The
	// desk value of such a field is reset, and saving is refused.
	fieldErrs [fieldCount]string
}

func New(d Desk, operator domain.Actor) Model {
	inputs := make([]textinput.Model, fieldCount)
	placeholders := [fieldCount]string{
		"MANUTENTION | MAGASINAGE | PESAGE | ESCALE",
		"entree pour rechercher",
		"ESPECES | CHEQUE | VIREMENT | CARTE",
		"0",
		"bordereau / cheque",
		"id",
		"id",
		dateLayout,
		"reference, client, RSP",
	}
	for i := range inputs {
		inputs[i] = textinput.New()
		inputs[i].Placeholder = placeholders[i]
		inputs[i].CharLimit = 64
	}
	inputs[fieldType].Focus()

	m := Model{desk: d, operator: operator, inputs: inputs}
	m.snap = d.Snapshot()
	m.syncInputs()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case refreshMsg:
		m.snap = m.desk.Snapshot()
		return m, nil
	case lookupDoneMsg:
		m.busy = ""
		m.snap = m.desk.Snapshot()
		m.syncInputs()
		return m, nil
	case submitDoneMsg:
		m.busy = ""
		m.snap = m.desk.Snapshot()
		if msg.err == nil {
			m.syncInputs()
		}
		return m, nil
	case receiptMsg:
		m.busy = ""
		if msg.err == nil {
			r := msg.receipt
			m.receipt = &r
		} else {
			m.inputErr = msg.err.Error()
		}
		return m, nil
	case pageDoneMsg:
		m.snap = m.desk.Snapshot()
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.receipt != nil {
			m.receipt = nil
			return m, nil
		}
		return m, tea.Quit
	case "tab", "down":
		return m.moveFocus(1), textinput.Blink
	case "shift+tab", "up":
		return m.moveFocus(-1), textinput.Blink
	case "enter":
		if m.focus == fieldKey {
			m.busy = "recherche facture"
			return m, m.lookupCmd()
		}
		return m.moveFocus(1), textinput.Blink
	case "ctrl+s":
		if m.busy != "" {
			return m, nil
		}
		if i := m.invalidField(); i >= 0 {
			m.inputErr = "corriger " + fieldLabels[i] + " avant d'enregistrer"
			return m, nil
		}
		m.busy = "enregistrement"
		return m, m.submitCmd()
	case "ctrl+p":
		m.busy = "recu"
		return m, m.receiptCmd()
	case "ctrl+t":
		m.desk.SetCredit(!m.snap.Form.Entry.Credit)
		m.snap = m.desk.Snapshot()
		return m, nil
	case "pgdown":
		return m, m.pageCmd(m.desk.NextPage)
	case "pgup":
		return m, m.pageCmd(m.desk.PrevPage)
	}

	var cmd tea.Cmd
	before := m.inputs[m.focus].Value()
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	if m.inputs[m.focus].Value() != before {
		m.applyField(m.focus)
	}
	return m, cmd
}

func (m Model) moveFocus(delta int) Model {
	m.inputs[m.focus].Blur()
	m.focus = (m.focus + delta + fieldCount) % fieldCount
	m.inputs[m.focus].Focus()
	return m
}

// applyField pushes the edited input into the desk.
func (m *Model) applyField(i int) {
	value := strings.TrimSpace(m.inputs[i].Value())
	m.inputErr = ""
	m.fieldErrs[i] = ""

	switch i {
	case fieldType:
		m.desk.SetType(domain.InvoiceType(strings.ToUpper(value)))
	case fieldKey:
		m.desk.SetInvoiceKey(value)
	case fieldMode:
		m.desk.SetMode(domain.PaymentMode(strings.ToUpper(value)))
	case fieldAmount:
		if value == "" {
			m.desk.SetAmount(decimal.Zero)
			break
		}
		amount, err := parseAmount(value)
		if err != nil {
			m.fieldErrs[i] = "montant invalide"
			m.desk.SetAmount(decimal.Zero)
			break
		}
		m.desk.SetAmount(amount)
	case fieldReference:
		m.desk.SetReference(value)
	case fieldBank, fieldAccount:
		m.fieldErrs[fieldBank], m.fieldErrs[fieldAccount] = "", ""
		banqueID, errB := parseID(m.inputs[fieldBank].Value())
		compteID, errC := parseID(m.inputs[fieldAccount].Value())
		if errB != nil {
			m.fieldErrs[fieldBank] = "identifiant invalide"
		}
		if errC != nil {
			m.fieldErrs[fieldAccount] = "identifiant invalide"
		}
		if errB != nil || errC != nil {
			m.desk.SetBank(0, 0)
			break
		}
		m.desk.SetBank(banqueID, compteID)
	case fieldDate:
		if value == "" {
			m.desk.SetDate(time.Time{})
			break
		}
		date, err := time.ParseInLocation(dateLayout, value, time.Local)
		if err != nil {
			m.fieldErrs[i] = "date invalide (AAAA-MM-JJ)"
			break
		}
		m.desk.SetDate(date)
	case fieldSearch:
		m.desk.SetSearch(value)
	}
	m.snap = m.desk.Snapshot()
}

// parseAmount accepts a comma or a dot as decimal separator and ignores
// digit grouping spaces.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		case ',':
			return '.'
		}
		return r
	}, raw)
	return decimal.NewFromString(raw)
}

func (m Model) invalidField() int {
	for i, msg := range m.fieldErrs {
		if msg != "" {
			return i
		}
	}
	return -1
}

func parseID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// syncInputs copies the form back into the inputs after the desk changed
// it on its own: a lookup, or the reset that follows a saved payment.
func (m *Model) syncInputs() {
	entry := m.snap.Form.Entry
	m.fieldErrs = [fieldCount]string{}
	set := func(i int, v string) { m.inputs[i].SetValue(v) }

	set(fieldType, string(entry.Type))
	set(fieldKey, m.snap.Form.InvoiceKey)
	set(fieldMode, string(entry.ModePaiement))
	if entry.MontantPaye.IsZero() {
		set(fieldAmount, "")
	} else {
		set(fieldAmount, entry.MontantPaye.String())
	}
	set(fieldReference, entry.Reference)
	set(fieldBank, idText(entry.BanqueID))
	set(fieldAccount, idText(entry.CompteID))
	if !entry.DatePaiement.IsZero() {
		set(fieldDate, entry.DatePaiement.Format(dateLayout))
	}
}

func idText(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func (m Model) lookupCmd() tea.Cmd {
	d := m.desk
	return func() tea.Msg {
		return lookupDoneMsg{err: d.LookupInvoice(context.Background())}
	}
}

func (m Model) submitCmd() tea.Cmd {
	d := m.desk
	return func() tea.Msg {
		saved, err := d.Submit(context.Background())
		return submitDoneMsg{saved: saved, err: err}
	}
}

func (m Model) receiptCmd() tea.Cmd {
	d := m.desk
	return func() tea.Msg {
		r, err := d.Receipt(context.Background())
		return receiptMsg{receipt: r, err: err}
	}
}

func (m Model) pageCmd(fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return pageDoneMsg{err: fn(context.Background())}
	}
}

func (m Model) View() string {
	if m.receipt != nil {
		return titleStyle.Render(" Recu "+m.receipt.FileName+" ") + "\n\n" +
			boxStyle.Render(m.receipt.PreviewText) + "\n" +
			helpStyle.Render("  esc: retour")
	}

	var b strings.Builder
	operator := m.operator.DisplayName
	if operator == "" {
		operator = m.operator.Username
	}
	modeLabel := "Nouveau paiement"
	if m.snap.Form.Mode == form.ModeEdit {
		modeLabel = fmt.Sprintf("Paiement %d", m.snap.Form.Entry.PaiementID)
	}
	b.WriteString(titleStyle.Render(" "+modeLabel+" ") + "  " + mutedStyle.Render(operator) + "\n\n")

	for i := range m.inputs {
		if i == fieldSearch {
			break
		}
		b.WriteString(m.renderField(i))
	}
	b.WriteString(m.renderInvoice())
	b.WriteString(m.renderStatus())
	b.WriteString("\n" + m.renderField(fieldSearch))
	b.WriteString(m.renderListing())
	b.WriteString(m.renderNotices())
	b.WriteString(helpStyle.Render("  tab: champ suivant  entree: rechercher facture  ctrl+s: enregistrer  ctrl+t: credit  ctrl+p: recu  pgup/pgdown: pages  esc: quitter"))
	return b.String()
}

func (m Model) renderField(i int) string {
	label := labelStyle.Render(fieldLabels[i])
	if i == m.focus {
		label = focusStyle.Render(fieldLabels[i])
	}
	line := "  " + label + " " + m.inputs[i].View()
	if m.fieldErrs[i] != "" {
		line += "  " + warnStyle.Render(m.fieldErrs[i])
	}
	return line + "\n"
}

func (m Model) renderInvoice() string {
	f := m.snap.Form
	var b strings.Builder
	b.WriteString("\n")
	if f.Entry.ClientNom != "" || f.Entry.ClientID != 0 {
		b.WriteString(fmt.Sprintf("  Client        %s (#%d)\n", f.Entry.ClientNom, f.Entry.ClientID))
	}
	if f.Entry.RSP != "" {
		b.WriteString("  RSP           " + f.Entry.RSP + "\n")
	}
	b.WriteString("  Montant du    " + f.MontantFacture.StringFixed(2) + "\n")
	b.WriteString("  Excedent      " + toneStyle(m.snap.Tone).Render(f.Entry.MontantExcedent.StringFixed(2)) + "\n")
	credit := "non"
	if f.Entry.Credit {
		credit = "oui"
	}
	b.WriteString("  Credit client " + credit + "\n")
	return b.String()
}

func (m Model) renderStatus() string {
	var b strings.Builder
	b.WriteString("\n")
	if m.snap.Form.Duplicate {
		b.WriteString("  " + errorStyle.Render("Reference deja utilisee"))
		if c := m.snap.Form.Conflict; c != nil {
			b.WriteString(mutedStyle.Render(fmt.Sprintf(" par le paiement %d du %s (%s, %s)",
				c.PaiementID, c.DatePaiement.Format("02/01/2006"), c.MontantPaye.StringFixed(2), c.UserCreation)))
		}
		b.WriteString("\n")
	} else if m.snap.Checking {
		b.WriteString("  " + mutedStyle.Render("verification de la reference...") + "\n")
	}
	if m.inputErr != "" {
		b.WriteString("  " + warnStyle.Render(m.inputErr) + "\n")
	}
	if m.busy != "" {
		b.WriteString("  " + mutedStyle.Render(m.busy+"...") + "\n")
	}
	if i := m.invalidField(); i >= 0 {
		b.WriteString("  " + mutedStyle.Render("[ctrl+s] indisponible: "+fieldLabels[i]+" "+m.fieldErrs[i]) + "\n")
	} else if m.snap.CanSubmit {
		b.WriteString("  " + successStyle.Render("[ctrl+s] Enregistrer") + "\n")
	} else if m.snap.Blocked != "" {
		b.WriteString("  " + mutedStyle.Render("[ctrl+s] indisponible: "+m.snap.Blocked) + "\n")
	}
	return b.String()
}

func (m Model) renderListing() string {
	page := m.snap.Listing
	if len(page.Paiements) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range page.Paiements {
		b.WriteString(fmt.Sprintf("  %6d  %-12s %-10s %-18s %14s  %s\n",
			p.PaiementID, p.Type, p.ModePaiement, p.Reference, p.MontantPaye.StringFixed(2), p.ClientNom))
	}
	pages := 1
	if page.Size > 0 {
		pages = max((page.Total+page.Size-1)/page.Size, 1)
	}
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  page %d/%d, %d paiements", page.Page, pages, page.Total)))
	return boxStyle.Render(b.String()) + "\n"
}

func (m Model) renderNotices() string {
	notices := m.snap.Notices
	if len(notices) > 4 {
		notices = notices[len(notices)-4:]
	}
	var b strings.Builder
	for _, n := range notices {
		b.WriteString("  " + noticeStyle(n.Level).Render(n.At.Format("15:04:05")+" "+n.Message) + "\n")
	}
	return b.String()
}
