// Package fiscalizer orchestrates invoice fingerprinting: canonical payload
// → chain fingerprint → ledger append → verification code → write-back.
//
// The ledger is best-effort by policy: the invoice business record is
// authoritative and is never rolled back because the compliance ledger had
// an I/O problem. A failed append degrades to a logged warning carried on
// the Result; the operation is retryable out of band.
package fiscalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/canonical"
	"github.com/facturo/facturo/internal/chainledger"
	"github.com/facturo/facturo/internal/config"
	"github.com/facturo/facturo/internal/fingerprint"
	"github.com/facturo/facturo/internal/invoice"
	"github.com/facturo/facturo/internal/verifycode"
)

// ErrAlreadyFingerprinted is returned by Finalize when the invoice already
// carries a committed fingerprint; corrections go through Refingerprint.
var ErrAlreadyFingerprinted = errors.New("fiscalizer: invoice already fingerprinted")

// Ledgers groups the independent chains this deployment maintains.
type Ledgers struct {
	Registration chainledger.Ledger
	Submission   chainledger.Ledger
}

// Result reports one fingerprinting operation.
type Result struct {
	Invoice *invoice.Invoice
	Entry   *chainledger.Entry
	Mode    fingerprint.Mode
	Notice  string

	// LedgerErr is the degraded-path outcome: the invoice stands, the chain
	// entry was not committed, and the operation may be retried.
	LedgerErr error
}

// Fingerprinted reports whether a chain entry was committed.
func (r *Result) Fingerprinted() bool { return r.Entry != nil }

// Service runs the fingerprinting pipeline.
type Service struct {
	store   invoice.Store
	ledgers Ledgers
	engine  *fingerprint.Engine
	logger  *zap.Logger
}

// New creates a Service.
func New(store invoice.Store, ledgers Ledgers, engine *fingerprint.Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ledgers: ledgers, engine: engine, logger: logger}
}

// Finalize fingerprints an invoice for the first time. snap is the
// configuration frozen for the duration of this operation.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, snap *config.Snapshot) (*Result, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.FiscalStatus == invoice.FiscalFingerprinted {
		return nil, ErrAlreadyFingerprinted
	}
	return s.fingerprintInvoice(ctx, inv, snap)
}

// Refingerprint re-runs the pipeline for a corrected invoice. The new entry
// never chains to the invoice's own prior entry; the prior entry stays in
// the ledger and the invoice cache is overwritten with the new values.
func (s *Service) Refingerprint(ctx context.Context, id uuid.UUID, snap *config.Snapshot) (*Result, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.fingerprintInvoice(ctx, inv, snap)
}

func (s *Service) fingerprintInvoice(ctx context.Context, inv *invoice.Invoice, snap *config.Snapshot) (*Result, error) {
	res := &Result{Invoice: inv}
	fingerprintedAt := time.Now().UTC()

	entry, err := s.ledgers.Registration.Append(ctx, inv.ID.String(), func(prev string) (*chainledger.Entry, error) {
		payload, err := canonical.Build(inv, prev, fingerprintedAt, canonical.Registration)
		if err != nil {
			return nil, err
		}
		fp, err := s.engine.Compute(payload)
		if err != nil {
			return nil, err
		}
		res.Mode = fp.Mode
		res.Notice = fp.Notice

		e := &chainledger.Entry{
			InvoiceID:           inv.ID.String(),
			FingerprintedAt:     fingerprintedAt,
			IssuerTaxID:         payload.IssuerTaxID,
			BuyerTaxID:          inv.BuyerTaxID,
			Series:              inv.Series,
			Number:              inv.Number,
			TotalAmount:         payload.Totals.Amount.StringFixed(2),
			PreviousFingerprint: prev,
			Fingerprint:         fp.Fingerprint,
			Mode:                string(fp.Mode),
		}
		e.VerificationCode = verifycode.Derive(verifycode.Input{
			IssuerTaxID: e.IssuerTaxID,
			Series:      e.Series,
			Number:      e.Number,
			InvoiceID:   e.InvoiceID,
			IssueDate:   inv.IssueDate,
			Amount:      e.TotalAmount,
			Fingerprint: e.Fingerprint,
		}, snap.Verification)
		return e, nil
	})
	if err != nil {
		return s.recover(ctx, res, err)
	}
	res.Entry = entry

	if res.Notice != "" {
		s.logger.Warn("fingerprint degraded to legacy mode",
			zap.String("invoice_id", entry.InvoiceID),
			zap.String("notice", res.Notice),
		)
	}

	var image []byte
	if img, err := verifycode.Render(entry.VerificationCode, snap.Verification); err != nil {
		// Non-fatal: the textual payload is committed and usable.
		s.logger.Warn("verification code render failed",
			zap.String("invoice_id", entry.InvoiceID),
			zap.Error(err),
		)
	} else {
		image = img
	}

	if err := s.store.EmbedFingerprintAndCode(ctx, inv.ID, entry.Fingerprint, entry.VerificationCode, image); err != nil {
		// The invoice copy is a display cache; the chain entry is already
		// durable, so this too degrades to a warning.
		s.logger.Warn("embed fingerprint onto invoice failed",
			zap.String("invoice_id", entry.InvoiceID),
			zap.Error(err),
		)
	} else {
		inv.Fingerprint = entry.Fingerprint
		inv.VerificationCode = entry.VerificationCode
		inv.VerificationImage = image
		inv.FiscalStatus = invoice.FiscalFingerprinted
	}

	s.logger.Info("invoice fingerprinted",
		zap.String("invoice_id", entry.InvoiceID),
		zap.String("number", entry.Number),
		zap.String("fingerprint", entry.Fingerprint),
		zap.String("mode", entry.Mode),
	)
	return res, nil
}

// recover applies the failure policy: validation failures surface to the
// caller, ledger failures degrade to a warning on the result. In both cases
// the invoice record itself is untouched apart from its fiscal status.
func (s *Service) recover(ctx context.Context, res *Result, err error) (*Result, error) {
	if markErr := s.store.MarkFiscalStatus(ctx, res.Invoice.ID, invoice.FiscalFailed); markErr != nil {
		s.logger.Warn("mark fiscal status failed", zap.Error(markErr))
	}

	if errors.Is(err, canonical.ErrMissingField) || errors.Is(err, fingerprint.ErrComputation) {
		return nil, err
	}

	s.logger.Warn("ledger append failed, invoice kept without fingerprint",
		zap.String("invoice_id", res.Invoice.ID.String()),
		zap.Error(err),
	)
	res.LedgerErr = err
	return res, nil
}

// Submit appends the invoice's registration to the secondary-authority
// submission chain. The chain is independent of the registration chain,
// uses that authority's canonical field set, and hashes the authority's
// wire bytes directly rather than the structured record.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, snap *config.Snapshot) (*chainledger.Entry, error) {
	inv, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// The wire format carries a second-resolution timestamp. A resubmission
	// inside the same second must still produce a distinct record, so the
	// generation timestamp advances past the invoice's previous submission.
	generatedAt := time.Now().UTC().Truncate(time.Second)
	if last, err := s.ledgers.Submission.FindByInvoiceIDExcluding(ctx, inv.ID.String(), ""); err == nil {
		if floor := last.FingerprintedAt.Truncate(time.Second); !generatedAt.After(floor) {
			generatedAt = floor.Add(time.Second)
		}
	}

	entry, err := s.ledgers.Submission.Append(ctx, inv.ID.String(), func(prev string) (*chainledger.Entry, error) {
		payload, err := canonical.Build(inv, prev, generatedAt, canonical.Submission)
		if err != nil {
			return nil, err
		}
		fp, err := s.engine.ComputeWire(payload)
		if err != nil {
			return nil, err
		}
		return &chainledger.Entry{
			InvoiceID:           inv.ID.String(),
			FingerprintedAt:     generatedAt,
			IssuerTaxID:         payload.IssuerTaxID,
			Series:              inv.Series,
			Number:              inv.Number,
			TotalAmount:         payload.Totals.Amount.StringFixed(2),
			PreviousFingerprint: prev,
			Fingerprint:         fp.Fingerprint,
			Mode:                string(fp.Mode),
		}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("submission chain append: %w", err)
	}

	s.logger.Info("submission record chained",
		zap.String("invoice_id", entry.InvoiceID),
		zap.String("fingerprint", entry.Fingerprint),
	)
	return entry, nil
}
