package chainledger

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ledgerDocument is the on-disk shape: a root collection of entry elements.
// The whole document is the unit of read and write.
type ledgerDocument struct {
	XMLName xml.Name `xml:"ledger"`
	Issuer  string   `xml:"issuer,attr"`
	Profile string   `xml:"profile,attr"`
	Entries []Entry  `xml:"entry"`
}

// FileLedger is the durable Ledger: one XML document per issuer chain.
//
// Appends hold an exclusive advisory file lock for the whole
// read-modify-write cycle, then commit by writing a temp file, fsyncing it,
// and renaming it over the document. Readers never lock: the rename makes
// every read see either the old or the new document, never a torn one.
type FileLedger struct {
	path       string
	legacyPath string
	issuer     string
	profile    string
	logger     *zap.Logger

	// The advisory lock excludes other processes; the mutex excludes other
	// goroutines sharing this instance (flock is reentrant in-process).
	flk *flock.Flock
	mu  sync.Mutex
}

// NewFileLedger creates a FileLedger for the document at path.
// legacyPath may be empty; when set, Bootstrap migrates a document found
// there verbatim.
func NewFileLedger(path, legacyPath, issuer, profile string, logger *zap.Logger) *FileLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLedger{
		path:       path,
		legacyPath: legacyPath,
		issuer:     issuer,
		profile:    profile,
		logger:     logger,
		flk:        flock.New(path + ".lock"),
	}
}

// Path returns the ledger document location.
func (l *FileLedger) Path() string { return l.path }

// Bootstrap implements Ledger.
func (l *FileLedger) Bootstrap(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	// The lock file lives next to the document, so the directory must exist
	// before the lock can be acquired.
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: create ledger dir: %v", ErrLedgerIO, err)
	}

	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	if _, err := os.Stat(l.path); err == nil {
		// Existing document: nothing to create, but fail loudly now if it
		// cannot be parsed rather than on the first append.
		_, err := l.load()
		return err
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: stat %s: %v", ErrLedgerIO, l.path, err)
	}

	if l.legacyPath != "" {
		if _, err := os.Stat(l.legacyPath); err == nil {
			if err := copyFile(l.legacyPath, l.path); err != nil {
				return fmt.Errorf("%w: migrate legacy ledger: %v", ErrLedgerIO, err)
			}
			l.logger.Info("migrated legacy ledger",
				zap.String("from", l.legacyPath),
				zap.String("to", l.path),
			)
			// Entries must survive the migration verbatim and parseable.
			_, err := l.load()
			return err
		}
	}

	doc := &ledgerDocument{Issuer: l.issuer, Profile: l.profile}
	if err := l.write(doc); err != nil {
		return err
	}
	l.logger.Info("initialized empty ledger", zap.String("path", l.path))
	return nil
}

// Append implements Ledger.
func (l *FileLedger) Append(ctx context.Context, excludeInvoiceID string, build BuildFunc) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.lock(ctx); err != nil {
		return nil, err
	}
	defer l.unlock()

	doc, err := l.load()
	if err != nil {
		return nil, err
	}

	prev := headExcluding(doc.Entries, excludeInvoiceID)
	entry, err := build(prev)
	if err != nil {
		return nil, err
	}
	if entry.CommittedAt.IsZero() {
		entry.CommittedAt = time.Now().UTC()
	}

	doc.Entries = append(doc.Entries, *entry)
	if err := l.write(doc); err != nil {
		return nil, err
	}

	cp := *entry
	return &cp, nil
}

// Len implements Ledger.
func (l *FileLedger) Len(ctx context.Context) (int, error) {
	doc, err := l.load()
	if err != nil {
		return 0, err
	}
	return len(doc.Entries), nil
}

// Entry implements Ledger.
func (l *FileLedger) Entry(ctx context.Context, index int) (*Entry, error) {
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(doc.Entries) {
		return nil, ErrNotFound
	}
	cp := doc.Entries[index]
	return &cp, nil
}

// Entries implements Ledger.
func (l *FileLedger) Entries(ctx context.Context) ([]Entry, error) {
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

// LastFingerprint implements Ledger.
func (l *FileLedger) LastFingerprint(ctx context.Context) (string, error) {
	doc, err := l.load()
	if err != nil {
		return "", err
	}
	return lastFingerprint(doc.Entries), nil
}

// FindByInvoiceIDExcluding implements Ledger.
func (l *FileLedger) FindByInvoiceIDExcluding(ctx context.Context, invoiceID, excludeID string) (*Entry, error) {
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return findByInvoiceIDExcluding(doc.Entries, invoiceID, excludeID)
}

// FindSuccessorOf implements Ledger.
func (l *FileLedger) FindSuccessorOf(ctx context.Context, fp string) (*Entry, error) {
	doc, err := l.load()
	if err != nil {
		return nil, err
	}
	return findSuccessorOf(doc.Entries, fp)
}

// Verify implements Ledger.
func (l *FileLedger) Verify(ctx context.Context) error {
	doc, err := l.load()
	if err != nil {
		return err
	}
	return verifyChain(doc.Entries)
}

func (l *FileLedger) lock(ctx context.Context) error {
	ok, err := l.flk.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("%w: acquire lock: %v", ErrLedgerIO, err)
	}
	if !ok {
		return fmt.Errorf("%w: lock not granted", ErrLedgerIO)
	}
	return nil
}

func (l *FileLedger) unlock() {
	if err := l.flk.Unlock(); err != nil {
		l.logger.Warn("release ledger lock", zap.Error(err))
	}
}

// load reads and parses the whole document. A missing file reads as an
// empty chain; an unparseable file is corruption and refuses service.
func (l *FileLedger) load() (*ledgerDocument, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ledgerDocument{Issuer: l.issuer, Profile: l.profile}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrLedgerIO, l.path, err)
	}

	var doc ledgerDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLedgerCorrupt, l.path, err)
	}
	return &doc, nil
}

// write commits the document: temp file in the same directory, fsync,
// atomic rename. A crash at any point leaves either the old document or
// the new one, never a truncated mix.
func (l *FileLedger) write(doc *ledgerDocument) error {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal ledger: %v", ErrLedgerIO, err)
	}
	out = append([]byte(xml.Header), out...)
	out = append(out, '\n')

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.xml")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrLedgerIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write temp: %v", ErrLedgerIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: fsync temp: %v", ErrLedgerIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close temp: %v", ErrLedgerIO, err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: commit rename: %v", ErrLedgerIO, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
