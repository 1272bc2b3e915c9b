package invoice

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an invoice does not exist in the store.
var ErrNotFound = errors.New("invoice not found")

// Store is the persistence interface for invoices.
// *PostgresStore and *MemoryStore both satisfy it.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, limit, offset int) ([]*Invoice, error)

	// EmbedFingerprintAndCode writes the committed fingerprint and derived
	// verification artifacts onto the invoice record. Calling it twice with
	// the same values is an observable no-op.
	EmbedFingerprintAndCode(ctx context.Context, id uuid.UUID, fingerprint, code string, image []byte) error

	// MarkFiscalStatus records the outcome of the last fingerprinting attempt.
	MarkFiscalStatus(ctx context.Context, id uuid.UUID, status FiscalStatus) error
}
