package store

import (
	"context"
	"errors"
	"time"

	"portcaisse/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidPayment     = errors.New("invalid payment")
	ErrDuplicateReference = errors.New("reference already used by another payment")
	ErrInvalidUser        = errors.New("invalid user")
)

// PaymentFilter selects one page of payments. Search matches reference,
// client name and RSP, case-insensitively.
type PaymentFilter struct {
	Search string
	Offset int
	Limit  int
}

type Repository interface {
	CreatePayment(ctx context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error)
	UpdatePayment(ctx context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error)
	GetPayment(ctx context.Context, id int64) (*domain.PaymentEntry, error)
	ListPayments(ctx context.Context) ([]domain.PaymentEntry, error)
	SearchPayments(ctx context.Context, filter PaymentFilter) ([]domain.PaymentEntry, int, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	FindInvoice(ctx context.Context, invoiceType domain.InvoiceType, key string) (*domain.Invoice, error)
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	GetBank(ctx context.Context, id int64) (*domain.Bank, error)
	ListAccounts(ctx context.Context, banqueID int64) ([]domain.BankAccount, error)
	GetAccount(ctx context.Context, id int64) (*domain.BankAccount, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
