package ta

import "futures-bot/internal/types"

type IchimokuResult struct {
	Tenkan  float64 `json:"tenkan"`
	Kijun   float64 `json:"kijun"`
	SenkouA float64 `json:"senkou_a"`
	SenkouB float64 `json:"senkou_b"`
	Chikou  float64 `json:"chikou"`
}

// Ichimoku with the classic 9/26/52 periods. Fallback below 52 bars: every line at the last close.
func Ichimoku(bars []types.Bar) IchimokuResult {
	if len(bars) < 52 {
		c := 0.0
		if len(bars) > 0 {
			c = bars[len(bars)-1].Close
		}
		return IchimokuResult{Tenkan: c, Kijun: c, SenkouA: c, SenkouB: c, Chikou: c}
	}
	mid := func(n int) float64 { return (HighestHigh(bars, n) + LowestLow(bars, n)) / 2 }
	r := IchimokuResult{Tenkan: mid(9), Kijun: mid(26), SenkouB: mid(52), Chikou: bars[len(bars)-1].Close}
	r.SenkouA = (r.Tenkan + r.Kijun) / 2
	return r
}

type FibLevel struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

type FibLevels struct {
	Retracements []FibLevel `json:"retracements"`
	Extensions   []FibLevel `json:"extensions"`
}

var (
	fibRetracementRatios = []float64{0.236, 0.382, 0.5, 0.618, 0.786}
	fibExtensionRatios   = []float64{1.272, 1.618, 2.618}
)

// Fibonacci levels for a swing. For an uptrend retracements hang below the high
// and extensions project above it; a downtrend mirrors both. high == low gives nil levels.
func Fibonacci(high, low float64, uptrend bool) FibLevels {
	rng := high - low
	if rng <= 0 {
		return FibLevels{}
	}
	var out FibLevels
	for _, r := range fibRetracementRatios {
		p := high - rng*r
		if !uptrend {
			p = low + rng*r
		}
		out.Retracements = append(out.Retracements, FibLevel{Ratio: r, Price: p})
	}
	for _, r := range fibExtensionRatios {
		p := low + rng*r
		if !uptrend {
			p = high - rng*r
		}
		out.Extensions = append(out.Extensions, FibLevel{Ratio: r, Price: p})
	}
	return out
}

type PivotMethod string

const (
	PivotStandard  PivotMethod = "standard"
	PivotFibonacci PivotMethod = "fibonacci"
	PivotCamarilla PivotMethod = "camarilla"
	PivotWoodie    PivotMethod = "woodie"
)

type PivotLevels struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	R2    float64 `json:"r2"`
	R3    float64 `json:"r3"`
	S1    float64 `json:"s1"`
	S2    float64 `json:"s2"`
	S3    float64 `json:"s3"`
}

// PivotPoints derives floor levels from the previous period's bar.
func PivotPoints(prev types.Bar, method PivotMethod) PivotLevels {
	h, l, c := prev.High, prev.Low, prev.Close
	rng := h - l
	var lv PivotLevels
	switch method {
	case PivotFibonacci:
		p := (h + l + c) / 3
		lv.Pivot = p
		lv.R1, lv.R2, lv.R3 = p+0.382*rng, p+0.618*rng, p+rng
		lv.S1, lv.S2, lv.S3 = p-0.382*rng, p-0.618*rng, p-rng
	case PivotCamarilla:
		lv.Pivot = (h + l + c) / 3
		lv.R1, lv.R2, lv.R3 = c+rng*1.1/12, c+rng*1.1/6, c+rng*1.1/4
		lv.S1, lv.S2, lv.S3 = c-rng*1.1/12, c-rng*1.1/6, c-rng*1.1/4
	case PivotWoodie:
		p := (h + l + 2*c) / 4
		lv.Pivot = p
		lv.R1, lv.R2, lv.R3 = 2*p-l, p+rng, h+2*(p-l)
		lv.S1, lv.S2, lv.S3 = 2*p-h, p-rng, l-2*(h-p)
	default:
		p := (h + l + c) / 3
		lv.Pivot = p
		lv.R1, lv.R2, lv.R3 = 2*p-l, p+rng, h+2*(p-l)
		lv.S1, lv.S2, lv.S3 = 2*p-h, p-rng, l-2*(h-p)
	}
	return lv
}
