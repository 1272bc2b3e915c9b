package canonical

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/facturo/facturo/internal/invoice"
)

// RateGroup is the per-tax-rate aggregation of line items.
type RateGroup struct {
	Rate decimal.Decimal
	Base decimal.Decimal
	Tax  decimal.Decimal
}

// Totals holds the invoice-level sums derived from the breakdown.
type Totals struct {
	Base   decimal.Decimal
	Tax    decimal.Decimal
	Amount decimal.Decimal
}

// round2 rounds to 2 decimal places, half away from zero.
// decimal.Round implements exactly that policy; it is the single rounding
// rule used everywhere in this package.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Breakdown groups line items by tax rate, computes per-group base and tax,
// and returns the groups sorted by rate ascending.
//
// An invoice with zero line items yields a single 0% group with zero
// amounts: downstream schemas require at least one group.
func Breakdown(lines []invoice.Line) []RateGroup {
	if len(lines) == 0 {
		return []RateGroup{{Rate: decimal.Zero, Base: decimal.Zero, Tax: decimal.Zero}}
	}

	byRate := make(map[string]*RateGroup)
	for _, l := range lines {
		key := l.TaxRate.String()
		g, ok := byRate[key]
		if !ok {
			g = &RateGroup{Rate: l.TaxRate}
			byRate[key] = g
		}
		g.Base = g.Base.Add(l.Quantity.Mul(l.UnitPrice))
	}

	groups := make([]RateGroup, 0, len(byRate))
	for _, g := range byRate {
		g.Base = round2(g.Base)
		g.Tax = round2(g.Base.Mul(g.Rate).Div(decimal.NewFromInt(100)))
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Rate.LessThan(groups[j].Rate) })
	return groups
}

// ComputeTotals sums the breakdown and applies withholding and reimbursable
// amounts to obtain the final invoice total.
func ComputeTotals(groups []RateGroup, withholdingRate, reimbursable decimal.Decimal) Totals {
	var base, tax decimal.Decimal
	for _, g := range groups {
		base = base.Add(g.Base)
		tax = tax.Add(g.Tax)
	}

	withheld := round2(base.Mul(withholdingRate).Div(decimal.NewFromInt(100)))
	amount := round2(base.Add(tax).Sub(withheld).Add(reimbursable))

	return Totals{Base: base, Tax: tax, Amount: amount}
}
