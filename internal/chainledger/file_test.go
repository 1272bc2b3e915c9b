package chainledger_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/facturo/facturo/internal/chainledger"
)

func newFileLedger(t *testing.T) *chainledger.FileLedger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registration.xml")
	l := chainledger.NewFileLedger(path, "", "B12345678", "registration", nil)
	if err := l.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	return l
}

func TestFileLedger_bootstrapCreatesEmptyDocument(t *testing.T) {
	l := newFileLedger(t)

	raw, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "<ledger") {
		t.Errorf("bootstrap did not write a root element: %s", raw)
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("fresh ledger should be empty, got %d entries", n)
	}
}

func TestFileLedger_bootstrapCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "registration.xml")
	l := chainledger.NewFileLedger(path, "", "B12345678", "registration", nil)

	if err := l.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap into a fresh directory: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("document not created: %v", err)
	}
	if _, err := l.Append(ctx, "inv-1", buildEntry("inv-1")); err != nil {
		t.Errorf("append after fresh bootstrap: %v", err)
	}
}

func TestFileLedger_bootstrapMigratesLegacyLocation(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "old", "chain.xml")

	// Build a chain at the legacy location first.
	if err := os.MkdirAll(filepath.Dir(legacy), 0o755); err != nil {
		t.Fatal(err)
	}
	old := chainledger.NewFileLedger(legacy, "", "B12345678", "registration", nil)
	if err := old.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}
	e1, err := old.Append(ctx, "inv-1", buildEntry("inv-1"))
	if err != nil {
		t.Fatal(err)
	}

	// New location migrates it verbatim.
	path := filepath.Join(dir, "new", "registration.xml")
	l := chainledger.NewFileLedger(path, legacy, "B12345678", "registration", nil)
	if err := l.Bootstrap(ctx); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Entries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Fingerprint != e1.Fingerprint {
		t.Errorf("migration lost or altered entries: %+v", entries)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("migrated chain must verify: %v", err)
	}
}

func TestFileLedger_appendPersistsAcrossReopen(t *testing.T) {
	l := newFileLedger(t)

	e1, err := l.Append(ctx, "inv-1", buildEntry("inv-1"))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, "inv-2", buildEntry("inv-2"))
	if err != nil {
		t.Fatal(err)
	}
	if e2.PreviousFingerprint != e1.Fingerprint {
		t.Errorf("chain broken on disk: %q vs %q", e2.PreviousFingerprint, e1.Fingerprint)
	}

	reopened := chainledger.NewFileLedger(l.Path(), "", "B12345678", "registration", nil)
	head, err := reopened.LastFingerprint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head != e2.Fingerprint {
		t.Errorf("reopened head: got %q, want %q", head, e2.Fingerprint)
	}
	if err := reopened.Verify(ctx); err != nil {
		t.Errorf("reopened chain must verify: %v", err)
	}
}

func TestFileLedger_corruptDocumentRefusesAppends(t *testing.T) {
	l := newFileLedger(t)
	if _, err := l.Append(ctx, "inv-1", buildEntry("inv-1")); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(l.Path(), []byte("<ledger><entry>truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := l.Append(ctx, "inv-2", buildEntry("inv-2"))
	if !errors.Is(err, chainledger.ErrLedgerCorrupt) {
		t.Fatalf("corrupt ledger must refuse appends with ErrLedgerCorrupt, got %v", err)
	}

	if _, err := l.LastFingerprint(ctx); !errors.Is(err, chainledger.ErrLedgerCorrupt) {
		t.Errorf("reads must also report corruption, got %v", err)
	}

	// The corrupt document must still be on disk, not reinitialized.
	raw, _ := os.ReadFile(l.Path())
	if !strings.Contains(string(raw), "truncated") {
		t.Error("corrupt ledger was overwritten; history silently discarded")
	}
}

func TestFileLedger_bootstrapFailsOnCorruptExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registration.xml")
	if err := os.WriteFile(path, []byte("not xml at all"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := chainledger.NewFileLedger(path, "", "B12345678", "registration", nil)
	if err := l.Bootstrap(ctx); !errors.Is(err, chainledger.ErrLedgerCorrupt) {
		t.Fatalf("expected ErrLedgerCorrupt at bootstrap, got %v", err)
	}
}

func TestFileLedger_concurrentAppends(t *testing.T) {
	l := newFileLedger(t)

	const k = 16
	errc := make(chan error, k)
	for i := 0; i < k; i++ {
		go func(i int) {
			_, err := l.Append(ctx, fmt.Sprintf("inv-%d", i), buildEntry(fmt.Sprintf("inv-%d", i)))
			errc <- err
		}(i)
	}
	for i := 0; i < k; i++ {
		if err := <-errc; err != nil {
			t.Fatal(err)
		}
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != k {
		t.Errorf("lost updates: expected %d entries, got %d", k, n)
	}
	if err := l.Verify(ctx); err != nil {
		t.Errorf("concurrent appends corrupted the chain: %v", err)
	}
}

func TestFileLedger_genesisAndScenario(t *testing.T) {
	l := newFileLedger(t)

	h0, err := l.LastFingerprint(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h0 != chainledger.Genesis {
		t.Fatalf("empty ledger head must be the genesis sentinel, got %q", h0)
	}

	e1, err := l.Append(ctx, "INV-2024-0001", buildEntry("INV-2024-0001"))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := l.Append(ctx, "INV-2024-0002", buildEntry("INV-2024-0002"))
	if err != nil {
		t.Fatal(err)
	}

	if e1.Fingerprint == e2.Fingerprint {
		t.Error("H2 must differ from H1")
	}
	if e2.PreviousFingerprint != e1.Fingerprint {
		t.Error("second entry must chain from H1")
	}
	head, _ := l.LastFingerprint(ctx)
	if head != e2.Fingerprint {
		t.Errorf("lastFingerprint after both appends: got %q, want H2", head)
	}
}
