package execution

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPlaces is the quantity precision for symbols missing from the table.
const DefaultPlaces int32 = 3

// Precision is the per-symbol quantity precision table. A zero Default means DefaultPlaces.
type Precision struct {
	Default   int32
	PerSymbol map[string]int32
}

func (p Precision) Places(symbol string) int32 {
	if n, ok := p.PerSymbol[strings.ToUpper(symbol)]; ok {
		return n
	}
	if p.Default > 0 {
		return p.Default
	}
	return DefaultPlaces
}

// Round truncates qty to the symbol's precision so the order never risks
// more than the sized amount.
func (p Precision) Round(symbol string, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	return decimal.NewFromFloat(qty).Truncate(p.Places(symbol)).InexactFloat64()
}
