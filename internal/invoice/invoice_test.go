package invoice

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portcaisse/internal/domain"
)

func ptr[T any](v T) *T {
	return &v
}

func TestCheckTypeRejectsUnknownAndEmpty(t *testing.T) {
	assert.ErrorIs(t, CheckType(""), ErrTypeRequired)
	assert.ErrorIs(t, CheckType("PAYROLL"), ErrUnsupportedType)
	for _, known := range domain.InvoiceTypes {
		assert.NoError(t, CheckType(known))
	}
}

func TestLookupPath(t *testing.T) {
	path, err := LookupPath(domain.InvoiceManutention, " RSP 12/A ")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/factures/manutention/RSP%2012%2FA", path)

	_, err = LookupPath(domain.InvoiceEscale, "  ")
	assert.ErrorIs(t, err, ErrKeyRequired)

	_, err = LookupPath("UNKNOWN", "x")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTypeForSegmentRoundTrip(t *testing.T) {
	for _, known := range domain.InvoiceTypes {
		segment, err := Segment(known)
		require.NoError(t, err)
		back, err := TypeForSegment(segment)
		require.NoError(t, err)
		assert.Equal(t, known, back)
	}
	_, err := TypeForSegment("paie")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestResolveWithoutIdentifyingFieldsIsNotFound(t *testing.T) {
	_, err := Resolve(domain.InvoiceRecord{
		ClientID:       ptr(int64(3)),
		MontantFacture: ptr(decimal.NewFromInt(100)),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvePaidAmountFallbackChain(t *testing.T) {
	paid := decimal.NewFromInt(45000)
	fee := decimal.NewFromInt(12000)

	res, err := Resolve(domain.InvoiceRecord{IDFacture: ptr(int64(1)), MontantPaye: &paid, Redevance: &fee})
	require.NoError(t, err)
	assert.True(t, res.MontantPaye.Equal(paid))

	res, err = Resolve(domain.InvoiceRecord{RSP: ptr("RSP-9"), Redevance: &fee})
	require.NoError(t, err)
	assert.True(t, res.MontantPaye.Equal(fee))
	assert.Equal(t, "RSP-9", res.RSP)

	res, err = Resolve(domain.InvoiceRecord{NumeroFacture: ptr("F-77")})
	require.NoError(t, err)
	assert.True(t, res.MontantPaye.IsZero())
	assert.True(t, res.MontantFacture.IsZero())
	assert.Equal(t, "F-77", res.Numero)
}

func TestRecordFromInvoiceResolves(t *testing.T) {
	fee := decimal.NewFromInt(8000)
	record := RecordFromInvoice(domain.Invoice{
		ID:             10,
		Type:           domain.InvoicePesage,
		RSP:            "RSP-10",
		ClientID:       4,
		ClientNom:      "Bolloré",
		MontantFacture: decimal.NewFromInt(8000),
		Redevance:      &fee,
	})
	assert.Nil(t, record.NumeroFacture)

	res, err := Resolve(record)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.FactureID)
	assert.Equal(t, int64(4), res.ClientID)
	assert.Equal(t, "Bolloré", res.ClientNom)
	assert.True(t, res.MontantPaye.Equal(fee))
}
