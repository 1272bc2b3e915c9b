package invoice

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FiscalStatus tracks where an invoice stands in the fingerprinting flow.
// An invoice is authoritative regardless of this status; a failed or pending
// status only means the compliance ledger has no committed entry yet.
type FiscalStatus string

const (
	FiscalPending       FiscalStatus = "pending"
	FiscalFingerprinted FiscalStatus = "fingerprinted"
	FiscalFailed        FiscalStatus = "failed"
)

// Line is a single invoice line item.
type Line struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"` // percentage, e.g. 21
}

// Invoice is the business record. The Fingerprint / VerificationCode fields
// are a denormalized display cache written once after a successful ledger
// append; the ledger itself is the source of truth for the chain.
type Invoice struct {
	ID        uuid.UUID `json:"id"`
	Series    string    `json:"series"`
	Number    string    `json:"number"`
	IssueDate time.Time `json:"issue_date"`
	TypeCode  string    `json:"type_code"` // invoice-type code, e.g. "F1"

	IssuerTaxID string `json:"issuer_tax_id"`
	IssuerName  string `json:"issuer_name"`
	BuyerTaxID  string `json:"buyer_tax_id"`
	BuyerName   string `json:"buyer_name"`

	Lines           []Line          `json:"lines"`
	WithholdingRate decimal.Decimal `json:"withholding_rate"` // percentage of total base, subtracted
	Reimbursable    decimal.Decimal `json:"reimbursable"`     // added to the total after tax

	Fingerprint       string       `json:"fingerprint,omitempty"`
	VerificationCode  string       `json:"verification_code,omitempty"`
	VerificationImage []byte       `json:"-"`
	FiscalStatus      FiscalStatus `json:"fiscal_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ComposedNumber returns the externally visible invoice number, series
// prefix included when one is set.
func (i *Invoice) ComposedNumber() string {
	if i.Series == "" {
		return i.Number
	}
	return i.Series + "-" + i.Number
}
