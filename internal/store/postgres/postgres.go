package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"portcaisse/internal/domain"
	"portcaisse/internal/invoice"
	"portcaisse/internal/store"
	"portcaisse/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const paymentColumns = `
	id, facture_id, type, mode_paiement, montant_paye, montant_excedent, reference, credit,
	client_id, client_nom, rsp, banque_id, compte_id, date_paiement, caissier_id,
	user_creation, user_modification, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (domain.PaymentEntry, error) {
	var p domain.PaymentEntry
	var updatedAt sql.NullTime
	err := row.Scan(
		&p.PaiementID, &p.FactureID, &p.Type, &p.ModePaiement, &p.MontantPaye, &p.MontantExcedent,
		&p.Reference, &p.Credit, &p.ClientID, &p.ClientNom, &p.RSP, &p.BanqueID, &p.CompteID,
		&p.DatePaiement, &p.CaissierID, &p.UserCreation, &p.UserModification, &p.CreatedAt, &updatedAt,
	)
	if err != nil {
		return domain.PaymentEntry{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	if updatedAt.Valid {
		at := updatedAt.Time.UTC()
		p.UpdatedAt = &at
	}
	return p, nil
}

func validatePayment(entry domain.PaymentEntry) error {
	if !entry.Type.Valid() || !entry.ModePaiement.Valid() {
		return store.ErrInvalidPayment
	}
	if entry.ClientID <= 0 || !entry.MontantPaye.IsPositive() {
		return store.ErrInvalidPayment
	}
	return nil
}

func (s *Store) CreatePayment(ctx context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error) {
	entry.Reference = strings.TrimSpace(entry.Reference)
	if err := validatePayment(entry); err != nil {
		return nil, err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.DatePaiement.IsZero() {
		entry.DatePaiement = entry.CreatedAt
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO paiements (
			facture_id, type, mode_paiement, montant_paye, montant_excedent, reference, credit,
			client_id, client_nom, rsp, banque_id, compte_id, date_paiement, caissier_id,
			user_creation, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING `+paymentColumns,
		entry.FactureID, entry.Type, entry.ModePaiement, entry.MontantPaye, entry.MontantExcedent,
		entry.Reference, entry.Credit, entry.ClientID, entry.ClientNom, entry.RSP, entry.BanqueID,
		entry.CompteID, entry.DatePaiement, entry.CaissierID, entry.UserCreation, entry.CreatedAt,
	)
	created, err := scanPayment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReference
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdatePayment(ctx context.Context, entry domain.PaymentEntry) (*domain.PaymentEntry, error) {
	entry.Reference = strings.TrimSpace(entry.Reference)
	if err := validatePayment(entry); err != nil {
		return nil, err
	}
	updatedAt := time.Now().UTC()
	if entry.UpdatedAt != nil {
		updatedAt = entry.UpdatedAt.UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE paiements
		SET facture_id = $2, type = $3, mode_paiement = $4, montant_paye = $5, montant_excedent = $6,
			reference = $7, credit = $8, client_id = $9, client_nom = $10, rsp = $11,
			banque_id = $12, compte_id = $13, date_paiement = $14, user_modification = $15,
			updated_at = $16
		WHERE id = $1
		RETURNING `+paymentColumns,
		entry.PaiementID, entry.FactureID, entry.Type, entry.ModePaiement, entry.MontantPaye,
		entry.MontantExcedent, entry.Reference, entry.Credit, entry.ClientID, entry.ClientNom,
		entry.RSP, entry.BanqueID, entry.CompteID, entry.DatePaiement, entry.UserModification, updatedAt,
	)
	updated, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateReference
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*domain.PaymentEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM paiements WHERE id = $1`, id)
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) queryPayments(ctx context.Context, query string, args ...any) ([]domain.PaymentEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.PaymentEntry, 0, 64)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) ListPayments(ctx context.Context) ([]domain.PaymentEntry, error) {
	return s.queryPayments(ctx, `SELECT `+paymentColumns+` FROM paiements ORDER BY id DESC`)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *Store) SearchPayments(ctx context.Context, filter store.PaymentFilter) ([]domain.PaymentEntry, int, error) {
	term := strings.TrimSpace(filter.Search)
	pattern := "%" + likeEscaper.Replace(term) + "%"
	limit := filter.Limit
	if limit < 1 {
		limit = 20
	}
	offset := max(filter.Offset, 0)

	const where = `WHERE $1 = '' OR reference ILIKE $2 OR client_nom ILIKE $2 OR rsp ILIKE $2`

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM paiements `+where, term, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	payments, err := s.queryPayments(ctx, `
		SELECT `+paymentColumns+`
		FROM paiements `+where+`
		ORDER BY id DESC
		LIMIT $3 OFFSET $4
	`, term, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (s *Store) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM paiements WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

func (s *Store) FindInvoice(ctx context.Context, invoiceType domain.InvoiceType, key string) (*domain.Invoice, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, store.ErrNotFound
	}
	column := "numero"
	if invoice.KeyedByRSP(invoiceType) {
		column = "rsp"
	}

	var inv domain.Invoice
	var paid, redevance decimal.NullDecimal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, numero, rsp, client_id, client_nom, montant_facture, montant_paye,
			redevance, montant_ht, montant_tva
		FROM factures
		WHERE type = $1 AND upper(`+column+`) = upper($2)
		ORDER BY id DESC
		LIMIT 1
	`, invoiceType, key).Scan(
		&inv.ID, &inv.Type, &inv.Numero, &inv.RSP, &inv.ClientID, &inv.ClientNom,
		&inv.MontantFacture, &paid, &redevance, &inv.MontantHT, &inv.MontantTVA,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if paid.Valid {
		inv.MontantPaye = &paid.Decimal
	}
	if redevance.Valid {
		inv.Redevance = &redevance.Decimal
	}
	return &inv, nil
}

func (s *Store) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, code, nom FROM banques ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	banks := make([]domain.Bank, 0, 16)
	for rows.Next() {
		var b domain.Bank
		if err := rows.Scan(&b.ID, &b.Code, &b.Nom); err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, rows.Err()
}

func (s *Store) GetBank(ctx context.Context, id int64) (*domain.Bank, error) {
	var b domain.Bank
	err := s.db.QueryRowContext(ctx, `SELECT id, code, nom FROM banques WHERE id = $1`, id).Scan(&b.ID, &b.Code, &b.Nom)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListAccounts(ctx context.Context, banqueID int64) ([]domain.BankAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, banque_id, numero, libelle
		FROM comptes
		WHERE $1 = 0 OR banque_id = $1
		ORDER BY id
	`, banqueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.BankAccount, 0, 16)
	for rows.Next() {
		var a domain.BankAccount
		if err := rows.Scan(&a.ID, &a.BanqueID, &a.Numero, &a.Libelle); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.BankAccount, error) {
	var a domain.BankAccount
	err := s.db.QueryRowContext(ctx, `SELECT id, banque_id, numero, libelle FROM comptes WHERE id = $1`, id).
		Scan(&a.ID, &a.BanqueID, &a.Numero, &a.Libelle)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidUser
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, display_name, password_hash, role, active, created_at)
		VALUES ($1,$2,$3,$4,true,$5)
	`, username, user.DisplayName, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidUser
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, password_hash, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidUser
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
