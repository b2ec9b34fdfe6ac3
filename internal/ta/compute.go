package ta

import "futures-bot/internal/types"

// Default periods used by Compute.
const (
	EMAFastPeriod   = 9
	EMASlowPeriod   = 21
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	BollingerPeriod = 20
	BollingerK      = 2.0
	ATRPeriod       = 14
	ADXPeriod       = 14
	StochK          = 14
	StochD          = 3
	WilliamsPeriod  = 14
	CMFPeriod       = 20
	ZScorePeriod    = 20
	SlopePeriod     = 20
	VolumeAvgPeriod = 20
	SARStep         = 0.02
	SARMaxAF        = 0.2
)

// Compute evaluates the standard indicator set for one timeframe.
func Compute(bars []types.Bar) types.IndicatorSet {
	closes := Closes(bars)
	vols := Volumes(bars)

	macd := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	bb := Bollinger(closes, BollingerPeriod, BollingerK)
	adx := ADX(bars, ADXPeriod)
	stoch := Stochastic(bars, StochK, StochD)
	sar := ParabolicSAR(bars, SARStep, SARMaxAF)

	set := types.IndicatorSet{
		"close":        last(closes),
		"ema_fast":     EMA(closes, EMAFastPeriod),
		"ema_slow":     EMA(closes, EMASlowPeriod),
		"ema_50":       EMA(closes, 50),
		"sma_20":       SMA(closes, 20),
		"rsi":          RSI(closes, RSIPeriod),
		"macd":         macd.MACD,
		"macd_signal":  macd.Signal,
		"macd_hist":    macd.Histogram,
		"bb_upper":     bb.Upper,
		"bb_middle":    bb.Middle,
		"bb_lower":     bb.Lower,
		"bb_width":     bb.Width,
		"bb_percent_b": bb.PercentB,
		"atr":          ATR(bars, ATRPeriod),
		"adx":          adx.ADX,
		"plus_di":      adx.PlusDI,
		"minus_di":     adx.MinusDI,
		"stoch_k":      stoch.K,
		"stoch_d":      stoch.D,
		"williams_r":   WilliamsR(bars, WilliamsPeriod),
		"cmf":          CMF(bars, CMFPeriod),
		"obv":          OBV(bars),
		"ad":           AD(bars),
		"sar":          sar.SAR,
		"zscore":       ZScore(closes, ZScorePeriod),
		"slope_pct":    LinRegSlopePct(closes, SlopePeriod),
		"volume_avg":   SMA(vols, VolumeAvgPeriod),
	}
	if sar.Uptrend {
		set["sar_uptrend"] = 1
	} else {
		set["sar_uptrend"] = 0
	}
	return set
}
