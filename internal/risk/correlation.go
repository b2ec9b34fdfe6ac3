package risk

import (
	"strings"
	"sync"

	"futures-bot/internal/ta"
)

// DefaultCorrelationThreshold marks two symbols as moving together.
const DefaultCorrelationThreshold = 0.7

// Correlator estimates how closely two symbols move, in [-1, 1].
type Correlator interface {
	Correlation(a, b string) float64
}

var quoteSuffixes = []string{"USDT", "USDC", "BUSD", "FDUSD", "USD"}

// BaseAsset strips the quote currency: "ETHUSDT" -> "ETH".
func BaseAsset(symbol string) string {
	s := strings.ToUpper(symbol)
	for _, q := range quoteSuffixes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q)
		}
	}
	return s
}

// BaseAssetCorrelator groups base assets that usually trade together. Symbols
// sharing a base correlate fully, symbols in one group at InGroup, anything else at Default.
type BaseAssetCorrelator struct {
	Groups  [][]string
	InGroup float64
	Default float64
}

func NewBaseAssetCorrelator() *BaseAssetCorrelator {
	return &BaseAssetCorrelator{
		Groups: [][]string{
			{"BTC", "ETH"},
			{"SOL", "AVAX", "ADA", "DOT", "NEAR", "APT", "SUI"},
			{"DOGE", "SHIB", "PEPE", "FLOKI", "WIF"},
			{"UNI", "AAVE", "LINK", "MKR", "CRV"},
			{"ARB", "OP", "MATIC", "POL"},
		},
		InGroup: 0.8,
		Default: 0.3,
	}
}

func (c *BaseAssetCorrelator) Correlation(a, b string) float64 {
	ba, bb := BaseAsset(a), BaseAsset(b)
	if ba == bb {
		return 1
	}
	for _, g := range c.Groups {
		var hasA, hasB bool
		for _, s := range g {
			hasA = hasA || s == ba
			hasB = hasB || s == bb
		}
		if hasA && hasB {
			return c.InGroup
		}
	}
	return c.Default
}

// ReturnsCorrelator computes the Pearson correlation of close-to-close returns
// from the latest close series it was given. Unknown symbols fall back to Fallback.
type ReturnsCorrelator struct {
	mu       sync.RWMutex
	closes   map[string][]float64
	Fallback Correlator
}

func NewReturnsCorrelator(fallback Correlator) *ReturnsCorrelator {
	return &ReturnsCorrelator{closes: make(map[string][]float64), Fallback: fallback}
}

// Update replaces the close series used for symbol.
func (c *ReturnsCorrelator) Update(symbol string, closes []float64) {
	cp := append([]float64(nil), closes...)
	c.mu.Lock()
	c.closes[strings.ToUpper(symbol)] = cp
	c.mu.Unlock()
}

func (c *ReturnsCorrelator) Correlation(a, b string) float64 {
	a, b = strings.ToUpper(a), strings.ToUpper(b)
	if a == b {
		return 1
	}
	c.mu.RLock()
	sa, okA := c.closes[a]
	sb, okB := c.closes[b]
	c.mu.RUnlock()
	if !okA || !okB || len(sa) < 3 || len(sb) < 3 {
		if c.Fallback != nil {
			return c.Fallback.Correlation(a, b)
		}
		return 0
	}
	return ta.Correlation(ta.Returns(sa), ta.Returns(sb))
}
