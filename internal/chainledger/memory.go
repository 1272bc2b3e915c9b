package chainledger

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryLedger creates an empty in-memory chain.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Bootstrap implements Ledger. There is no durable resource to create.
func (l *MemoryLedger) Bootstrap(context.Context) error { return nil }

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, excludeInvoiceID string, build BuildFunc) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := headExcluding(l.entries, excludeInvoiceID)
	entry, err := build(prev)
	if err != nil {
		return nil, err
	}
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, *entry)
	cp := *entry
	return &cp, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Entry implements Ledger.
func (l *MemoryLedger) Entry(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, ErrNotFound
	}
	cp := l.entries[index]
	return &cp, nil
}

// Entries implements Ledger.
func (l *MemoryLedger) Entries(context.Context) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out, nil
}

// LastFingerprint implements Ledger.
func (l *MemoryLedger) LastFingerprint(context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lastFingerprint(l.entries), nil
}

// FindByInvoiceIDExcluding implements Ledger.
func (l *MemoryLedger) FindByInvoiceIDExcluding(_ context.Context, invoiceID, excludeID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return findByInvoiceIDExcluding(l.entries, invoiceID, excludeID)
}

// FindSuccessorOf implements Ledger.
func (l *MemoryLedger) FindSuccessorOf(_ context.Context, fp string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return findSuccessorOf(l.entries, fp)
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}
