package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceType string

const (
	InvoiceManutention InvoiceType = "MANUTENTION"
	InvoiceMagasinage  InvoiceType = "MAGASINAGE"
	InvoicePesage      InvoiceType = "PESAGE"
	InvoiceEscale      InvoiceType = "ESCALE"
)

var InvoiceTypes = []InvoiceType{
	InvoiceManutention,
	InvoiceMagasinage,
	InvoicePesage,
	InvoiceEscale,
}

func (t InvoiceType) Valid() bool {
	for _, known := range InvoiceTypes {
		if t == known {
			return true
		}
	}
	return false
}

type PaymentMode string

const (
	ModeEspeces  PaymentMode = "ESPECES"
	ModeCheque   PaymentMode = "CHEQUE"
	ModeVirement PaymentMode = "VIREMENT"
	ModeCarte    PaymentMode = "CARTE"
)

var PaymentModes = []PaymentMode{ModeEspeces, ModeCheque, ModeVirement, ModeCarte}

func (m PaymentMode) Valid() bool {
	for _, known := range PaymentModes {
		if m == known {
			return true
		}
	}
	return false
}

// NeedsBank reports whether receipts for this mode carry bank details.
func (m PaymentMode) NeedsBank() bool {
	return m == ModeCheque || m == ModeVirement
}

// PaymentEntry is a persisted settlement against an invoice. MontantFacture
// is deliberately absent: the owed amount lives only in form state.
type PaymentEntry struct {
	PaiementID       int64           `json:"paiementId"`
	FactureID        int64           `json:"factureId"`
	Type             InvoiceType     `json:"type"`
	ModePaiement     PaymentMode     `json:"modePaiement"`
	MontantPaye      decimal.Decimal `json:"montantPaye"`
	MontantExcedent  decimal.Decimal `json:"montantExcedent"`
	Reference        string          `json:"reference"`
	Credit           bool            `json:"credit"`
	ClientID         int64           `json:"clientId"`
	ClientNom        string          `json:"clientNom,omitempty"`
	RSP              string          `json:"rsp,omitempty"`
	BanqueID         int64           `json:"banqueId,omitempty"`
	CompteID         int64           `json:"compteId,omitempty"`
	DatePaiement     time.Time       `json:"datePaiement"`
	CaissierID       int64           `json:"caissierId"`
	UserCreation     string          `json:"userCreation"`
	UserModification string          `json:"userModification,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        *time.Time      `json:"updatedAt,omitempty"`
}

// PaymentWriteRequest is the body of create and update calls. MontantFacture
// travels with the request so the server can recompute the excedent; it is
// not stored.
type PaymentWriteRequest struct {
	FactureID      int64           `json:"factureId"`
	Type           InvoiceType     `json:"type"`
	ModePaiement   PaymentMode     `json:"modePaiement"`
	MontantPaye    decimal.Decimal `json:"montantPaye"`
	MontantFacture decimal.Decimal `json:"montantFacture"`
	Reference      string          `json:"reference"`
	Credit         bool            `json:"credit"`
	ClientID       int64           `json:"clientId"`
	ClientNom      string          `json:"clientNom,omitempty"`
	RSP            string          `json:"rsp,omitempty"`
	BanqueID       int64           `json:"banqueId,omitempty"`
	CompteID       int64           `json:"compteId,omitempty"`
	DatePaiement   *time.Time      `json:"datePaiement,omitempty"`
	CaissierID     int64           `json:"caissierId,omitempty"`
	UserCreation   string          `json:"userCreation,omitempty"`
}

type PaymentResponse struct {
	Paiement PaymentEntry `json:"paiement"`
}

type PaymentListResponse struct {
	Paiements []PaymentEntry `json:"paiements"`
}

type PaymentPage struct {
	Paiements []PaymentEntry `json:"paiements"`
	Page      int            `json:"page"`
	Size      int            `json:"size"`
	Total     int            `json:"total"`
}

type PaymentQuery struct {
	Search string
	Page   int
	Size   int
}

type ReferenceExistsResponse struct {
	Reference string `json:"reference"`
	Exists    bool   `json:"exists"`
}

// InvoiceRecord is the invoice payload returned by the lookup service. Every
// field is optional so that absence can be told apart from zero.
type InvoiceRecord struct {
	IDFacture      *int64           `json:"idFacture,omitempty"`
	NumeroFacture  *string          `json:"numeroFacture,omitempty"`
	RSP            *string          `json:"rsp,omitempty"`
	ClientID       *int64           `json:"clientId,omitempty"`
	ClientNom      *string          `json:"clientNom,omitempty"`
	MontantFacture *decimal.Decimal `json:"montantFacture,omitempty"`
	MontantPaye    *decimal.Decimal `json:"montantPaye,omitempty"`
	Redevance      *decimal.Decimal `json:"redevance,omitempty"`
	MontantHT      *decimal.Decimal `json:"montantHt,omitempty"`
	MontantTVA     *decimal.Decimal `json:"montantTva,omitempty"`
}

// Invoice is the stored form of an invoice used by the local lookup source.
type Invoice struct {
	ID             int64
	Type           InvoiceType
	Numero         string
	RSP            string
	ClientID       int64
	ClientNom      string
	MontantFacture decimal.Decimal
	MontantPaye    *decimal.Decimal
	Redevance      *decimal.Decimal
	MontantHT      decimal.Decimal
	MontantTVA     decimal.Decimal
}

type Bank struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Nom  string `json:"nom"`
}

type BankAccount struct {
	ID       int64  `json:"id"`
	BanqueID int64  `json:"banqueId"`
	Numero   string `json:"numero"`
	Libelle  string `json:"libelle"`
}

type ReceiptResponse struct {
	PaiementID   int64  `json:"paiementId"`
	EscposBase64 string `json:"escposBase64"`
	PreviewText  string `json:"previewText"`
	FileName     string `json:"fileName"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
	Actor       Actor  `json:"actor"`
}

// Actor is the authenticated operator.
type Actor struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type UserAccount struct {
	ID          int64
	Username    string
	DisplayName string
	Password    string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleCashier = "cashier"
	RoleAdmin   = "admin"
)
