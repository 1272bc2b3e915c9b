package canonical_test

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/facturo/facturo/internal/canonical"
	"github.com/facturo/facturo/internal/invoice"
)

const genesis = "0000000000000000000000000000000000000000000000000000000000000000"

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleInvoice() *invoice.Invoice {
	return &invoice.Invoice{
		Series:      "INV",
		Number:      "2024-0001",
		IssueDate:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TypeCode:    "F1",
		IssuerTaxID: "B12345678",
		BuyerTaxID:  "X9999999Z",
		Lines: []invoice.Line{
			{Description: "consulting", Quantity: dec("10"), UnitPrice: dec("10"), TaxRate: dec("21")},
		},
	}
}

func TestBreakdown_groupsAndSortsByRate(t *testing.T) {
	lines := []invoice.Line{
		{Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: dec("21")},
		{Quantity: dec("2"), UnitPrice: dec("10"), TaxRate: dec("10")},
		{Quantity: dec("1"), UnitPrice: dec("25"), TaxRate: dec("21")},
	}

	groups := canonical.Breakdown(lines)
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if !groups[0].Rate.Equal(dec("10")) || !groups[1].Rate.Equal(dec("21")) {
		t.Errorf("groups not sorted by rate ascending: %v, %v", groups[0].Rate, groups[1].Rate)
	}
	if !groups[0].Base.Equal(dec("20")) {
		t.Errorf("10%% base: got %s, want 20", groups[0].Base)
	}
	if !groups[1].Base.Equal(dec("75")) {
		t.Errorf("21%% base: got %s, want 75", groups[1].Base)
	}
	if !groups[1].Tax.Equal(dec("15.75")) {
		t.Errorf("21%% tax: got %s, want 15.75", groups[1].Tax)
	}
}

func TestBreakdown_zeroLinesYieldsZeroRateGroup(t *testing.T) {
	groups := canonical.Breakdown(nil)
	if len(groups) != 1 {
		t.Fatalf("expected a single degenerate group, got %d", len(groups))
	}
	if !groups[0].Rate.IsZero() || !groups[0].Base.IsZero() || !groups[0].Tax.IsZero() {
		t.Errorf("degenerate group should be all zero: %+v", groups[0])
	}
}

// 3 × 10.005 = 30.015, which must round half away from zero to 30.02,
// and the tax must be computed from the rounded base.
func TestBreakdown_roundingHalfAwayFromZero(t *testing.T) {
	lines := []invoice.Line{
		{Quantity: dec("3"), UnitPrice: dec("10.005"), TaxRate: dec("21")},
	}

	groups := canonical.Breakdown(lines)
	if got := groups[0].Base.StringFixed(2); got != "30.02" {
		t.Errorf("base: got %s, want 30.02", got)
	}
	// 30.02 * 21 / 100 = 6.3042 -> 6.30
	if got := groups[0].Tax.StringFixed(2); got != "6.30" {
		t.Errorf("tax: got %s, want 6.30", got)
	}
}

func TestComputeTotals_withholdingAndReimbursable(t *testing.T) {
	groups := canonical.Breakdown([]invoice.Line{
		{Quantity: dec("1"), UnitPrice: dec("100"), TaxRate: dec("21")},
	})
	totals := canonical.ComputeTotals(groups, dec("15"), dec("30.50"))

	if got := totals.Base.StringFixed(2); got != "100.00" {
		t.Errorf("base: got %s", got)
	}
	if got := totals.Tax.StringFixed(2); got != "21.00" {
		t.Errorf("tax: got %s", got)
	}
	// 100 + 21 - 15 + 30.50
	if got := totals.Amount.StringFixed(2); got != "136.50" {
		t.Errorf("amount: got %s, want 136.50", got)
	}
}

func TestBuild_missingIssuerTaxID(t *testing.T) {
	inv := sampleInvoice()
	inv.IssuerTaxID = "  "

	_, err := canonical.Build(inv, genesis, time.Now(), canonical.Registration)
	if err == nil {
		t.Fatal("expected error for blank issuer tax id")
	}
	if !strings.Contains(err.Error(), "issuer tax id") {
		t.Errorf("error should name the field: %v", err)
	}
}

func TestKeyValue_deterministic(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

	p1, err := canonical.Build(sampleInvoice(), genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := canonical.Build(sampleInvoice(), genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}

	if p1.KeyValue() != p2.KeyValue() {
		t.Errorf("KeyValue not deterministic:\n%s\n%s", p1.KeyValue(), p2.KeyValue())
	}
}

func TestKeyValue_orderIndependentOfLineOrder(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

	a := sampleInvoice()
	a.Lines = []invoice.Line{
		{Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: dec("21")},
		{Quantity: dec("2"), UnitPrice: dec("10"), TaxRate: dec("10")},
	}
	b := sampleInvoice()
	b.Lines = []invoice.Line{
		{Quantity: dec("2"), UnitPrice: dec("10"), TaxRate: dec("10")},
		{Quantity: dec("1"), UnitPrice: dec("50"), TaxRate: dec("21")},
	}

	pa, err := canonical.Build(a, genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}
	pb, err := canonical.Build(b, genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}

	if pa.KeyValue() != pb.KeyValue() {
		t.Errorf("line order leaked into canonical output:\n%s\n%s", pa.KeyValue(), pb.KeyValue())
	}
}

// Two freezes of unchanged content inside the same second must not
// serialize identically, or both would hash to the same fingerprint.
func TestKeyValue_subSecondFreezesStayDistinct(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)

	p1, err := canonical.Build(sampleInvoice(), genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := canonical.Build(sampleInvoice(), genesis, at.Add(time.Nanosecond), canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}

	if p1.KeyValue() == p2.KeyValue() {
		t.Error("nanosecond-apart freezes serialized identically")
	}
}

func TestKeyValue_registrationFieldOrder(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	p, err := canonical.Build(sampleInvoice(), genesis, at, canonical.Registration)
	if err != nil {
		t.Fatal(err)
	}

	want := "issuerTaxId=B12345678" +
		"&invoiceNumber=INV-2024-0001" +
		"&issueDate=2024-03-15" +
		"&invoiceType=F1" +
		"&taxTotal=21.00" +
		"&totalAmount=121.00" +
		"&previousFingerprint=" + genesis +
		"&fingerprintedAt=2024-03-15T12:30:00Z"
	if got := p.KeyValue(); got != want {
		t.Errorf("key=value payload:\ngot  %s\nwant %s", got, want)
	}
}

func TestRecord_usesFixedPointStrings(t *testing.T) {
	at := time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC)
	p, err := canonical.Build(sampleInvoice(), genesis, at, canonical.Submission)
	if err != nil {
		t.Fatal(err)
	}

	rec := p.Record()
	if rec.Profile != "submission" {
		t.Errorf("profile: got %q", rec.Profile)
	}
	if rec.TaxTotal != "21.00" || rec.TotalAmount != "121.00" {
		t.Errorf("totals: got tax=%q amount=%q", rec.TaxTotal, rec.TotalAmount)
	}
	if rec.IssueDate != "15-03-2024" {
		t.Errorf("submission profile date layout: got %q", rec.IssueDate)
	}
	if len(rec.Breakdown) != 1 || rec.Breakdown[0].Base != "100.00" {
		t.Errorf("breakdown: %+v", rec.Breakdown)
	}
}
