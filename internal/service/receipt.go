package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"portcaisse/internal/domain"
	"portcaisse/internal/store"
)

const receiptRule = "================================"

// BuildReceipt renders a saved payment as an ESC/POS byte stream plus a
// plain preview of the same lines.
func (s *Service) BuildReceipt(ctx context.Context, id int64) (domain.ReceiptResponse, error) {
	if id <= 0 {
		return domain.ReceiptResponse{}, store.ErrNotFound
	}
	entry, err := s.repo.GetPayment(ctx, id)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	lines := []string{
		"PORT AUTONOME - CAISSE",
		receiptRule,
		"Recu N. " + strconv.FormatInt(entry.PaiementID, 10),
		"Date    : " + entry.DatePaiement.Format("02/01/2006"),
		"Facture : " + string(entry.Type),
	}
	if entry.RSP != "" {
		lines = append(lines, "RSP     : "+entry.RSP)
	}
	if entry.ClientNom != "" {
		lines = append(lines, "Client  : "+entry.ClientNom)
	} else {
		lines = append(lines, fmt.Sprintf("Client  : #%d", entry.ClientID))
	}
	lines = append(lines,
		"--------------------------------",
		"Mode    : "+string(entry.ModePaiement),
	)
	if entry.Reference != "" {
		lines = append(lines, "Ref.    : "+entry.Reference)
	}
	if entry.ModePaiement.NeedsBank() {
		lines = append(lines, s.bankLines(ctx, entry.BanqueID, entry.CompteID)...)
	}
	lines = append(lines,
		"--------------------------------",
		"Paye    : "+formatAmount(entry.MontantPaye),
		"Excedent: "+formatAmount(entry.MontantExcedent),
	)
	if entry.Credit {
		lines = append(lines, "Excedent porte au credit client")
	}
	lines = append(lines,
		receiptRule,
		"Caissier: "+entry.UserCreation,
		"",
	)

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		PaiementID:   entry.PaiementID,
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("recu-%d.bin", entry.PaiementID),
	}, nil
}

// bankLines prints whatever bank details can be resolved; a missing bank
// never blocks the receipt.
func (s *Service) bankLines(ctx context.Context, banqueID int64, compteID int64) []string {
	var lines []string
	if banqueID > 0 {
		bank, err := s.repo.GetBank(ctx, banqueID)
		switch {
		case err == nil:
			lines = append(lines, "Banque  : "+bank.Nom)
		case errors.Is(err, store.ErrNotFound):
			lines = append(lines, fmt.Sprintf("Banque  : #%d", banqueID))
		default:
			s.logger.Sugar().Warnw("receipt bank lookup failed", "banque_id", banqueID, "error", err)
		}
	}
	if compteID > 0 {
		account, err := s.repo.GetAccount(ctx, compteID)
		if err == nil {
			lines = append(lines, "Compte  : "+account.Numero)
		} else {
			lines = append(lines, fmt.Sprintf("Compte  : #%d", compteID))
		}
	}
	return lines
}
