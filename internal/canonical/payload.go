package canonical

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/facturo/facturo/internal/invoice"
)

// ErrMissingField is returned when the invoice lacks a fiscal field required
// by the canonical payload. Fingerprinting cannot proceed; the invoice
// itself is unaffected.
var ErrMissingField = errors.New("canonical: required fiscal field missing")

// Profile fixes the key names and time layouts of one canonical field set.
// The invoice-registration ledger and the secondary-authority submission
// ledger follow the identical chain pattern with different profiles.
type Profile struct {
	Name       string
	Keys       [8]string // issuer, number, issue date, type, tax, amount, prev, timestamp
	DateLayout string
	TimeLayout string
}

// Registration is the canonical field set for the invoice-registration
// chain. The freeze timestamp keeps nanosecond precision: re-fingerprinting
// unchanged content within the same second must still produce a distinct
// payload, or the chain would collect duplicate fingerprints.
var Registration = Profile{
	Name:       "registration",
	Keys:       [8]string{"issuerTaxId", "invoiceNumber", "issueDate", "invoiceType", "taxTotal", "totalAmount", "previousFingerprint", "fingerprintedAt"},
	DateLayout: "2006-01-02",
	TimeLayout: time.RFC3339Nano,
}

// Submission is the canonical field set for the secondary-authority
// submission chain. Key names and layouts follow that authority's record
// schema, second-resolution timestamp included; callers building repeated
// submission payloads must keep the generation timestamp strictly
// increasing per invoice.
var Submission = Profile{
	Name:       "submission",
	Keys:       [8]string{"IDEmisorFactura", "NumSerieFactura", "FechaExpedicionFactura", "TipoFactura", "CuotaTotal", "ImporteTotal", "Huella", "FechaHoraHusoGenRegistro"},
	DateLayout: "02-01-2006",
	TimeLayout: time.RFC3339,
}

// Payload is the frozen hash input for one registration. Building a Payload
// snapshots every value the fingerprint depends on; re-building with the
// same invoice content, previous fingerprint, and freeze timestamp yields
// byte-identical serializations.
type Payload struct {
	Profile             Profile
	IssuerTaxID         string
	InvoiceNumber       string
	IssueDate           time.Time
	TypeCode            string
	Breakdown           []RateGroup
	Totals              Totals
	PreviousFingerprint string
	FingerprintedAt     time.Time
}

// Build constructs the canonical payload for an invoice.
// fingerprintedAt is the moment the hash inputs are frozen; it is part of
// the hash and must not be confused with the later ledger append time.
func Build(inv *invoice.Invoice, previousFingerprint string, fingerprintedAt time.Time, p Profile) (*Payload, error) {
	if strings.TrimSpace(inv.IssuerTaxID) == "" {
		return nil, fmt.Errorf("%w: issuer tax id", ErrMissingField)
	}
	if strings.TrimSpace(inv.Number) == "" {
		return nil, fmt.Errorf("%w: invoice number", ErrMissingField)
	}

	groups := Breakdown(inv.Lines)
	totals := ComputeTotals(groups, inv.WithholdingRate, inv.Reimbursable)

	typeCode := inv.TypeCode
	if typeCode == "" {
		typeCode = "F1"
	}

	return &Payload{
		Profile:             p,
		IssuerTaxID:         strings.TrimSpace(inv.IssuerTaxID),
		InvoiceNumber:       inv.ComposedNumber(),
		IssueDate:           inv.IssueDate,
		TypeCode:            typeCode,
		Breakdown:           groups,
		Totals:              totals,
		PreviousFingerprint: previousFingerprint,
		FingerprintedAt:     fingerprintedAt.UTC(),
	}, nil
}

// KeyValue serializes the payload as the ordered key=value sequence joined
// by '&' used by the legacy hash and the secondary-authority wire format.
func (p *Payload) KeyValue() string {
	vals := [8]string{
		p.IssuerTaxID,
		p.InvoiceNumber,
		p.IssueDate.Format(p.Profile.DateLayout),
		p.TypeCode,
		p.Totals.Tax.StringFixed(2),
		p.Totals.Amount.StringFixed(2),
		p.PreviousFingerprint,
		p.FingerprintedAt.Format(p.Profile.TimeLayout),
	}

	var b strings.Builder
	for i, k := range p.Profile.Keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(vals[i])
	}
	return b.String()
}

// RecordGroup is one breakdown group inside the structured record.
type RecordGroup struct {
	Rate string `json:"rate"`
	Base string `json:"base"`
	Tax  string `json:"tax"`
}

// Record is the structured registration record whose canonical bytes are
// produced by the primary (JCS) hash path. All amounts are fixed-point
// strings: no floats cross this boundary.
type Record struct {
	Profile       string        `json:"profile"`
	IssuerTaxID   string        `json:"issuer_tax_id"`
	InvoiceNumber string        `json:"invoice_number"`
	IssueDate     string        `json:"issue_date"`
	TypeCode      string        `json:"type_code"`
	Breakdown     []RecordGroup `json:"breakdown"`
	TaxTotal      string        `json:"tax_total"`
	TotalAmount   string        `json:"total_amount"`
	Previous      string        `json:"previous_fingerprint"`
	GeneratedAt   string        `json:"generated_at"`
}

// Record returns the structured form of the payload.
func (p *Payload) Record() Record {
	groups := make([]RecordGroup, 0, len(p.Breakdown))
	for _, g := range p.Breakdown {
		groups = append(groups, RecordGroup{
			Rate: g.Rate.StringFixed(2),
			Base: g.Base.StringFixed(2),
			Tax:  g.Tax.StringFixed(2),
		})
	}
	return Record{
		Profile:       p.Profile.Name,
		IssuerTaxID:   p.IssuerTaxID,
		InvoiceNumber: p.InvoiceNumber,
		IssueDate:     p.IssueDate.Format(p.Profile.DateLayout),
		TypeCode:      p.TypeCode,
		Breakdown:     groups,
		TaxTotal:      p.Totals.Tax.StringFixed(2),
		TotalAmount:   p.Totals.Amount.StringFixed(2),
		Previous:      p.PreviousFingerprint,
		GeneratedAt:   p.FingerprintedAt.Format(p.Profile.TimeLayout),
	}
}
