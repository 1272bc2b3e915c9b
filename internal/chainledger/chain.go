package chainledger

import "fmt"

// Shared chain navigation over an entry snapshot. FileLedger and
// MemoryLedger both delegate here so the two backends cannot drift.

func lastFingerprint(entries []Entry) string {
	if len(entries) == 0 {
		return Genesis
	}
	return entries[len(entries)-1].Fingerprint
}

// headExcluding returns the fingerprint the next entry must chain from when
// the entry for excludeID is being superseded: the latest entry whose
// invoice id differs from excludeID, or Genesis when none exists.
func headExcluding(entries []Entry, excludeID string) string {
	for i := len(entries) - 1; i >= 0; i-- {
		if excludeID == "" || entries[i].InvoiceID != excludeID {
			return entries[i].Fingerprint
		}
	}
	return Genesis
}

func findByInvoiceIDExcluding(entries []Entry, invoiceID, excludeID string) (*Entry, error) {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.InvoiceID == excludeID {
			continue
		}
		if invoiceID != "" && invoiceID != excludeID && e.InvoiceID != invoiceID {
			continue
		}
		cp := e
		return &cp, nil
	}
	return nil, ErrNotFound
}

func findSuccessorOf(entries []Entry, fp string) (*Entry, error) {
	for i := range entries {
		if entries[i].PreviousFingerprint == fp {
			cp := entries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// verifyChain replays the chaining rule used at append time: every entry
// must chain from the latest earlier entry whose invoice id differs from
// its own (a superseding entry skips the entry it replaces), and the first
// link hangs from Genesis.
func verifyChain(entries []Entry) error {
	for i := range entries {
		want := headExcluding(entries[:i], entries[i].InvoiceID)
		if entries[i].PreviousFingerprint != want {
			return fmt.Errorf("%w: chain broken at index %d (invoice %s): previous fingerprint %s, expected %s",
				ErrLedgerCorrupt, i, entries[i].InvoiceID, entries[i].PreviousFingerprint, want)
		}
		if len(entries[i].Fingerprint) != 64 {
			return fmt.Errorf("%w: entry %d has malformed fingerprint %q",
				ErrLedgerCorrupt, i, entries[i].Fingerprint)
		}
	}
	return nil
}
