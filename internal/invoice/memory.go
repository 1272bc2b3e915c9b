package invoice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and single-process development.
type MemoryStore struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]*Invoice
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{invoices: make(map[uuid.UUID]*Invoice)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, inv *Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if inv.FiscalStatus == "" {
		inv.FiscalStatus = FiscalPending
	}

	cp := *inv
	s.invoices[inv.ID] = &cp
	return nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		cp := *inv
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// EmbedFingerprintAndCode implements Store.
func (s *MemoryStore) EmbedFingerprintAndCode(_ context.Context, id uuid.UUID, fingerprint, code string, image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	if inv.Fingerprint == fingerprint && inv.VerificationCode == code {
		return nil
	}
	inv.Fingerprint = fingerprint
	inv.VerificationCode = code
	inv.VerificationImage = image
	inv.FiscalStatus = FiscalFingerprinted
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkFiscalStatus implements Store.
func (s *MemoryStore) MarkFiscalStatus(_ context.Context, id uuid.UUID, status FiscalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok {
		return ErrNotFound
	}
	inv.FiscalStatus = status
	inv.UpdatedAt = time.Now().UTC()
	return nil
}
