package invoice

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"portcaisse/internal/domain"
)

var (
	ErrTypeRequired    = errors.New("invoice type is required")
	ErrUnsupportedType = errors.New("unsupported invoice type")
	ErrKeyRequired     = errors.New("invoice key is required")
	ErrNotFound        = errors.New("invoice not found")
)

// Source looks up an invoice by category and business key.
type Source interface {
	Lookup(ctx context.Context, invoiceType domain.InvoiceType, key string) (domain.InvoiceRecord, error)
}

var lookupSegments = map[domain.InvoiceType]string{
	domain.InvoiceManutention: "manutention",
	domain.InvoiceMagasinage:  "magasinage",
	domain.InvoicePesage:      "pesage",
	domain.InvoiceEscale:      "escale",
}

// rspKeyed lists the categories looked up by shipment reference; the
// others are looked up by invoice number.
var rspKeyed = map[domain.InvoiceType]bool{
	domain.InvoiceManutention: true,
	domain.InvoicePesage:      true,
}

// KeyedByRSP reports whether a category's business key is the RSP.
func KeyedByRSP(invoiceType domain.InvoiceType) bool {
	return rspKeyed[invoiceType]
}

// KeyOf returns the business key a stored invoice is looked up by.
func KeyOf(inv domain.Invoice) string {
	if KeyedByRSP(inv.Type) {
		return inv.RSP
	}
	return inv.Numero
}

// CheckType rejects empty or unknown categories. Callers run it before any
// request leaves the process.
func CheckType(invoiceType domain.InvoiceType) error {
	if strings.TrimSpace(string(invoiceType)) == "" {
		return ErrTypeRequired
	}
	if _, ok := lookupSegments[invoiceType]; !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, invoiceType)
	}
	return nil
}

// Segment returns the URL segment serving the given category.
func Segment(invoiceType domain.InvoiceType) (string, error) {
	if err := CheckType(invoiceType); err != nil {
		return "", err
	}
	return lookupSegments[invoiceType], nil
}

// TypeForSegment is the inverse of Segment.
func TypeForSegment(segment string) (domain.InvoiceType, error) {
	segment = strings.ToLower(strings.TrimSpace(segment))
	for invoiceType, known := range lookupSegments {
		if known == segment {
			return invoiceType, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, segment)
}

// LookupPath builds the REST path of the lookup endpoint for a category.
func LookupPath(invoiceType domain.InvoiceType, key string) (string, error) {
	segment, err := Segment(invoiceType)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	return "/api/v1/factures/" + segment + "/" + url.PathEscape(key), nil
}

// Resolution is what a successful lookup contributes to a payment form.
type Resolution struct {
	FactureID      int64
	Numero         string
	RSP            string
	ClientID       int64
	ClientNom      string
	MontantFacture decimal.Decimal
	MontantPaye    decimal.Decimal
}

// Resolve maps a lookup payload onto form fields. A payload without any
// identifying field counts as not found.
func Resolve(record domain.InvoiceRecord) (Resolution, error) {
	if record.IDFacture == nil && record.NumeroFacture == nil && record.RSP == nil {
		return Resolution{}, ErrNotFound
	}

	res := Resolution{
		FactureID:      deref(record.IDFacture),
		Numero:         deref(record.NumeroFacture),
		RSP:            deref(record.RSP),
		ClientID:       deref(record.ClientID),
		ClientNom:      deref(record.ClientNom),
		MontantFacture: decimal.Zero,
		MontantPaye:    decimal.Zero,
	}
	if record.MontantFacture != nil {
		res.MontantFacture = *record.MontantFacture
	}

	switch {
	case record.MontantPaye != nil:
		res.MontantPaye = *record.MontantPaye
	case record.Redevance != nil:
		res.MontantPaye = *record.Redevance
	}
	return res, nil
}

// RecordFromInvoice renders a stored invoice as a lookup payload.
func RecordFromInvoice(inv domain.Invoice) domain.InvoiceRecord {
	record := domain.InvoiceRecord{
		IDFacture:      &inv.ID,
		ClientID:       &inv.ClientID,
		MontantFacture: &inv.MontantFacture,
		MontantPaye:    inv.MontantPaye,
		Redevance:      inv.Redevance,
		MontantHT:      &inv.MontantHT,
		MontantTVA:     &inv.MontantTVA,
	}
	if inv.Numero != "" {
		record.NumeroFacture = &inv.Numero
	}
	if inv.RSP != "" {
		record.RSP = &inv.RSP
	}
	if inv.ClientNom != "" {
		record.ClientNom = &inv.ClientNom
	}
	return record
}

func deref[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}
