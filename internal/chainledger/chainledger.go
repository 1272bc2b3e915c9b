// Package chainledger implements the append-only fiscal proof trail.
//
// Every committed entry's fingerprint chains from the fingerprint of the
// previous entry for the same issuer; the first entry chains from a
// well-known all-zero sentinel. Entries are never mutated or deleted:
// corrections append a new entry for the same invoice id, and lookups treat
// the latest entry per invoice id as authoritative while history stays
// physically present.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - FileLedger: durable, one XML document per issuer chain, guarded by an
//     advisory file lock and committed via write-temp + fsync + rename.
package chainledger

import (
	"context"
	"errors"
	"time"
)

// Genesis is the sentinel previous-fingerprint of the first entry in a
// chain: 64 zero characters, the trust anchor every chain hangs from.
const Genesis = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrNotFound is returned by lookups that match no entry. An empty
	// ledger is a valid state, not an error.
	ErrNotFound = errors.New("chainledger: entry not found")

	// ErrLedgerIO covers lock acquisition and read/write failures. The
	// fingerprint may have been computed; the commit did not happen.
	ErrLedgerIO = errors.New("chainledger: ledger i/o failure")

	// ErrLedgerCorrupt means the ledger resource exists but cannot be
	// parsed. Appends are refused until the file is repaired by hand;
	// reinitializing would silently erase chain history.
	ErrLedgerCorrupt = errors.New("chainledger: ledger resource corrupt")
)

// Entry is one committed registration record.
//
// FingerprintedAt is the moment the hash inputs were frozen and is part of
// the fingerprint; CommittedAt is the moment of ledger append and is not.
type Entry struct {
	InvoiceID           string    `xml:"invoiceId" json:"invoice_id"`
	CommittedAt         time.Time `xml:"committedAt" json:"committed_at"`
	FingerprintedAt     time.Time `xml:"fingerprintedAt" json:"fingerprinted_at"`
	IssuerTaxID         string    `xml:"issuerTaxId" json:"issuer_tax_id"`
	BuyerTaxID          string    `xml:"buyerTaxId,omitempty" json:"buyer_tax_id,omitempty"`
	Series              string    `xml:"series,omitempty" json:"series,omitempty"`
	Number              string    `xml:"number" json:"number"`
	TotalAmount         string    `xml:"totalAmount" json:"total_amount"`
	PreviousFingerprint string    `xml:"previousFingerprint" json:"previous_fingerprint"`
	Fingerprint         string    `xml:"fingerprint" json:"fingerprint"`
	VerificationCode    string    `xml:"verificationCode,omitempty" json:"verification_code,omitempty"`
	Mode                string    `xml:"mode,omitempty" json:"mode,omitempty"`
}

// BuildFunc constructs the entry to commit, given the fingerprint of the
// current chain head. It runs while the ledger holds its exclusive lock, so
// the previous fingerprint it sees cannot be stale by the time the entry is
// written. Returning an error aborts the append and releases the lock.
type BuildFunc func(previousFingerprint string) (*Entry, error)

// Ledger is one issuer-scoped fiscal chain. Append is the single writer
// path; everything else is a lock-free read.
type Ledger interface {
	// Bootstrap creates the ledger resource with an empty root structure if
	// it does not exist, migrating a legacy-location resource verbatim when
	// one is found.
	Bootstrap(ctx context.Context) error

	// Append commits one entry. The previous fingerprint passed to build
	// excludes entries whose invoice id equals excludeInvoiceID, so a
	// re-fingerprinted invoice never chains to its own prior entry.
	Append(ctx context.Context, excludeInvoiceID string, build BuildFunc) (*Entry, error)

	// Len returns the number of committed entries.
	Len(ctx context.Context) (int, error)

	// Entry returns the entry at the given zero-based index.
	Entry(ctx context.Context, index int) (*Entry, error)

	// Entries returns a snapshot of the whole chain in append order.
	Entries(ctx context.Context) ([]Entry, error)

	// LastFingerprint returns the chain head fingerprint, or Genesis for an
	// empty ledger.
	LastFingerprint(ctx context.Context) (string, error)

	// FindByInvoiceIDExcluding scans from the end for the latest entry
	// whose invoice id differs from excludeID.
	FindByInvoiceIDExcluding(ctx context.Context, invoiceID, excludeID string) (*Entry, error)

	// FindSuccessorOf returns the entry whose previous fingerprint equals
	// the given value.
	FindSuccessorOf(ctx context.Context, fp string) (*Entry, error)

	// Verify walks the whole chain and checks every link.
	Verify(ctx context.Context) error
}
