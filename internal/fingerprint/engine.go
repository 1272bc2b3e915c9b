// Package fingerprint computes chain fingerprints from canonical payloads.
//
// The primary path hashes the RFC 8785 (JCS) canonicalization of the
// structured registration record. When the canonicalizer is unavailable or
// rejects a record, the engine silently degrades to the legacy path, which
// hashes the previous fingerprint concatenated with the key=value payload.
// Both paths emit 64-character uppercase hex; the fallback changes the byte
// value of the fingerprint but never breaks the chain invariant.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"github.com/facturo/facturo/internal/canonical"
)

// ErrComputation is returned when neither hashing mode can produce a
// fingerprint. The invoice must not be marked as fingerprinted; the
// operation is retryable.
var ErrComputation = errors.New("fingerprint: computation failed")

// Mode identifies which algorithm produced a fingerprint.
type Mode string

const (
	ModePrimary Mode = "primary"
	ModeLegacy  Mode = "legacy"

	// ModeWire is the external authority's mandated algorithm: SHA-256
	// over the key=value payload bytes themselves. Never subject to the
	// primary/legacy selection.
	ModeWire Mode = "wire"
)

// Result is a computed fingerprint plus its provenance. Notice is a
// human-readable diagnostic (why a fallback happened); it never affects the
// fingerprint value.
type Result struct {
	Fingerprint string
	Mode        Mode
	Notice      string
}

// Canonicalizer turns a structured record into canonical bytes. It is the
// optional capability behind the primary mode; a nil Canonicalizer on the
// engine means every computation uses the legacy path.
type Canonicalizer interface {
	Canonicalize(v any) ([]byte, error)
}

// JCSCanonicalizer canonicalizes records per RFC 8785.
type JCSCanonicalizer struct{}

// Canonicalize implements Canonicalizer.
func (JCSCanonicalizer) Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Engine computes chain fingerprints. The canonicalizer is selected once at
// construction and injected; call sites never branch on its availability.
type Engine struct {
	canon  Canonicalizer
	logger *zap.Logger
}

// New creates an Engine with an explicit canonicalizer. canon may be nil to
// force legacy-only operation.
func New(canon Canonicalizer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{canon: canon, logger: logger}
}

// Detect probes the JCS canonicalizer against a fixed record and returns an
// engine wired to it, or a legacy-only engine if the probe fails. The probe
// runs once at startup; the outcome is immutable for the engine's lifetime.
func Detect(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	probe := canonical.Record{Profile: "probe", IssuerTaxID: "probe", InvoiceNumber: "0"}
	if _, err := (JCSCanonicalizer{}).Canonicalize(probe); err != nil {
		logger.Warn("structured canonicalizer unavailable, legacy fingerprints only", zap.Error(err))
		return New(nil, logger)
	}
	return New(JCSCanonicalizer{}, logger)
}

// Compute produces the fingerprint for a frozen canonical payload.
func (e *Engine) Compute(p *canonical.Payload) (*Result, error) {
	if err := validatePrevious(p.PreviousFingerprint); err != nil {
		return nil, err
	}

	if e.canon != nil {
		b, err := e.canon.Canonicalize(p.Record())
		if err == nil {
			return &Result{Fingerprint: sumHex(b), Mode: ModePrimary}, nil
		}
		// A rejected record degrades to the legacy algorithm, it is not a
		// failure of the whole operation.
		notice := fmt.Sprintf("primary canonicalization rejected record: %v", err)
		e.logger.Warn("falling back to legacy fingerprint", zap.Error(err))
		res := e.legacy(p)
		res.Notice = notice
		return res, nil
	}

	res := e.legacy(p)
	res.Notice = "structured canonicalizer not available"
	return res, nil
}

// ComputeWire produces the fingerprint an external authority's wire format
// mandates: SHA-256 over the key=value payload, nothing more. The previous
// fingerprint travels as a field inside that payload, so unlike the legacy
// mode it is not prepended. Canonicalizer availability is irrelevant here;
// the byte layout is fixed by the authority.
func (e *Engine) ComputeWire(p *canonical.Payload) (*Result, error) {
	if err := validatePrevious(p.PreviousFingerprint); err != nil {
		return nil, err
	}
	return &Result{Fingerprint: sumHex([]byte(p.KeyValue())), Mode: ModeWire}, nil
}

func (e *Engine) legacy(p *canonical.Payload) *Result {
	input := p.PreviousFingerprint + "|" + p.KeyValue()
	return &Result{Fingerprint: sumHex([]byte(input)), Mode: ModeLegacy}
}

// sumHex is SHA-256 rendered as uppercase hex. Uppercase is the one
// canonical casing used by every path in this codebase; the secondary
// authority's wire format already mandates it.
func sumHex(b []byte) string {
	h := sha256.Sum256(b)
	return strings.ToUpper(hex.EncodeToString(h[:]))
}

func validatePrevious(prev string) error {
	if len(prev) != 64 {
		return fmt.Errorf("%w: previous fingerprint must be 64 hex chars, got %d", ErrComputation, len(prev))
	}
	if _, err := hex.DecodeString(prev); err != nil {
		return fmt.Errorf("%w: previous fingerprint is not hex: %v", ErrComputation, err)
	}
	return nil
}
