package service

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Whyzkell/ADP-AltavistaColors-sub000/internal/domain"
)

// normalizedItem is a line item after alias resolution, before catalog
// enrichment. hasPrice distinguishes an explicit zero price from an absent
// one so the catalog price can fill the gap.
type normalizedItem struct {
	productID string
	name      string
	qty       int
	unitPrice decimal.Decimal
	hasPrice  bool
}

// normalizeItems folds the legacy client's alternate field spellings into
// one shape and drops entries that cannot become a valid line: missing,
// non-positive, or out-of-range quantity, negative price, or no way to name
// the line.
// Fractional quantities are floored to whole units.
func normalizeItems(items []domain.ItemInput) []normalizedItem {
	out := make([]normalizedItem, 0, len(items))
	for _, in := range items {
		qty, ok := numberToQty(firstNumber(in.Qty, in.Quantity))
		if !ok || qty < 1 {
			continue
		}

		price, hasPrice, ok := numberToPrice(firstNumber(in.Price, in.UnitPrice))
		if !ok {
			continue
		}

		productID := strings.TrimSpace(in.ProductID)
		name := strings.TrimSpace(in.Name)
		if name == "" {
			name = strings.TrimSpace(in.Description)
		}
		if name == "" && productID == "" {
			continue
		}

		out = append(out, normalizedItem{
			productID: productID,
			name:      name,
			qty:       qty,
			unitPrice: price,
			hasPrice:  hasPrice,
		})
	}
	return out
}

func firstNumber(candidates ...json.Number) json.Number {
	for _, n := range candidates {
		if n.String() != "" {
			return n
		}
	}
	return ""
}

// maxLineQty bounds a single line's quantity. Anything larger is treated as
// malformed input rather than handed to the storage layer, where it would
// overflow the integer quantity columns.
const maxLineQty = 1_000_000

func numberToQty(n json.Number) (int, bool) {
	if n.String() == "" {
		return 0, false
	}
	if v, err := n.Int64(); err == nil {
		if v > maxLineQty {
			return 0, false
		}
		return int(v), true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > maxLineQty {
		return 0, false
	}
	return int(math.Floor(f)), true
}

func numberToPrice(n json.Number) (decimal.Decimal, bool, bool) {
	if n.String() == "" {
		return decimal.Zero, false, true
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil || d.IsNegative() {
		return decimal.Zero, false, false
	}
	return d, true, true
}
