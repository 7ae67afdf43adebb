package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"portcaisse/internal/domain"
	"portcaisse/internal/invoice"
	"portcaisse/internal/store"
)

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		if !q.Has("page") && !q.Has("size") && !q.Has("search") {
			payments, err := a.service.ListPayments(r.Context())
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			if payments == nil {
				payments = []domain.PaymentEntry{}
			}
			writeJSON(w, http.StatusOK, domain.PaymentListResponse{Paiements: payments})
			return
		}

		page, err := a.service.SearchPayments(r.Context(), domain.PaymentQuery{
			Search: q.Get("search"),
			Page:   parsePositiveLimit(q.Get("page"), 1, 0),
			Size:   parsePositiveLimit(q.Get("size"), 20, 100),
		})
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPost:
		var req domain.PaymentWriteRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := a.service.CreatePayment(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, domain.PaymentResponse{Paiement: saved})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handlePaymentExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	exists, err := a.service.ReferenceExists(r.Context(), reference)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ReferenceExistsResponse{Reference: reference, Exists: exists})
}

// handlePaymentActions serves /api/v1/paiements/{id} and
// /api/v1/paiements/{id}/recu.
func (a *API) handlePaymentActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/paiements/"), "/")
	rawID, action, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		entry, err := a.service.GetPayment(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.PaymentResponse{Paiement: entry})
	case action == "" && r.Method == http.MethodPut:
		var req domain.PaymentWriteRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		saved, err := a.service.UpdatePayment(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.PaymentResponse{Paiement: saved})
	case action == "recu" && r.Method == http.MethodGet:
		receipt, err := a.service.BuildReceipt(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	case action == "" || action == "recu":
		a.writeMethodNotAllowed(w)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown payment action"))
	}
}

// handleInvoiceLookup serves /api/v1/factures/{type}/{key}.
func (a *API) handleInvoiceLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/factures/")
	segment, key, _ := strings.Cut(rest, "/")

	invoiceType, err := invoice.TypeForSegment(segment)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	record, err := a.service.LookupInvoice(r.Context(), invoiceType, key)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (a *API) handleBanks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	banks, err := a.service.ListBanks(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banques": banks})
}

func (a *API) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	var banqueID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("banqueId")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			a.writeError(w, http.StatusBadRequest, errors.New("banqueId must be a positive integer"))
			return
		}
		banqueID = parsed
	}
	accounts, err := a.service.ListAccounts(r.Context(), banqueID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comptes": accounts})
}
