package strategy

import (
	"sort"
	"strings"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

var registry = map[string]func() Strategy{
	TrendFollowingName: func() Strategy { return NewTrendFollowing() },
	MeanReversionName:  func() Strategy { return NewMeanReversion() },
	BreakoutName:       func() Strategy { return NewBreakout() },
	ScalpingName:       func() Strategy { return NewScalping() },
	MarketMakingName:   func() Strategy { return NewMarketMaking() },
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// New builds the strategy registered under name.
func New(name string) (Strategy, error) {
	ctor, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errs.Newf(errs.KindValidation, "strategy.New", "unknown strategy %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// FromNames builds strategies in order. An empty list means all of them.
func FromNames(names []string) ([]Strategy, error) {
	if len(names) == 0 {
		names = Names()
	}
	out := make([]Strategy, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		s, err := New(n)
		if err != nil {
			return nil, err
		}
		if seen[s.Name()] {
			continue
		}
		seen[s.Name()] = true
		out = append(out, s)
	}
	return out, nil
}

// RequiredTimeframes is the union of the extra timeframes the strategies need.
func RequiredTimeframes(strategies []Strategy) []types.Timeframe {
	seen := map[types.Timeframe]bool{}
	var out []types.Timeframe
	for _, s := range strategies {
		for _, tf := range s.RequiredTimeframes() {
			if !seen[tf] {
				seen[tf] = true
				out = append(out, tf)
			}
		}
	}
	return out
}
