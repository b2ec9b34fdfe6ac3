package types

import "time"

// Timeframe is an exchange interval label such as "1m", "15m", "1h", "4h", "1d".
type Timeframe string

// Bar is one OHLCV interval. Ts is the open time in unix milliseconds.
type Bar struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// IndicatorSet holds named indicator values for one timeframe.
type IndicatorSet map[string]float64

type Direction string

const (
	Buy   Direction = "BUY"
	Sell  Direction = "SELL"
	Hold  Direction = "HOLD"
	Close Direction = "CLOSE"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// SideFor maps an opening direction to the position side it creates.
func SideFor(d Direction) Side {
	if d == Sell {
		return Short
	}
	return Long
}

type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

type CloseReason string

const (
	StopLossHit   CloseReason = "StopLossHit"
	TakeProfitHit CloseReason = "TakeProfitHit"
	DecisionClose CloseReason = "DecisionClose"
	ExternalClose CloseReason = "ExternalCancel"
)

type RiskConfig struct {
	MaxPositions             int     `yaml:"max_positions" json:"max_positions"`
	RiskPerTradePct          float64 `yaml:"risk_per_trade_pct" json:"risk_per_trade_pct"`
	DailyLossLimitPct        float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"`
	MaxPortfolioRiskPct      float64 `yaml:"max_portfolio_risk_pct" json:"max_portfolio_risk_pct"`
	MaxSinglePairExposurePct float64 `yaml:"max_single_pair_exposure_pct" json:"max_single_pair_exposure_pct"`
	MaxCorrelatedExposurePct float64 `yaml:"max_correlated_exposure_pct" json:"max_correlated_exposure_pct"`
	MaxDrawdownPct           float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MinConfidence            float64 `yaml:"min_confidence" json:"min_confidence"`
	MinRiskReward            float64 `yaml:"min_risk_reward" json:"min_risk_reward"`
	MaxLeverage              int     `yaml:"max_leverage" json:"max_leverage"`
}

// MarketSnapshot is the read-only input of one analysis cycle.
type MarketSnapshot struct {
	Symbol         string                     `json:"symbol"`
	Timeframes     []Timeframe                `json:"timeframes"`
	Bars           map[Timeframe][]Bar        `json:"-"`
	Indicators     map[Timeframe]IndicatorSet `json:"indicators"`
	OpenPositions  []Trade                    `json:"open_positions"`
	AccountBalance float64                    `json:"account_balance"`
	Risk           RiskConfig                 `json:"risk"`
}

// Primary is the first configured timeframe, or "" for an empty snapshot.
func (s *MarketSnapshot) Primary() Timeframe {
	if len(s.Timeframes) == 0 {
		return ""
	}
	return s.Timeframes[0]
}

// BarsFor returns the bar sequence for tf (nil when absent).
func (s *MarketSnapshot) BarsFor(tf Timeframe) []Bar {
	return s.Bars[tf]
}

// Indicator looks up a named indicator for a timeframe.
func (s *MarketSnapshot) Indicator(tf Timeframe, name string) (float64, bool) {
	set, ok := s.Indicators[tf]
	if !ok {
		return 0, false
	}
	v, ok := set[name]
	return v, ok
}

// LastClose is the close of the most recent primary bar, 0 if none.
func (s *MarketSnapshot) LastClose() float64 {
	bars := s.Bars[s.Primary()]
	if len(bars) == 0 {
		return 0
	}
	return bars[len(bars)-1].Close
}

type Signal struct {
	Strategy            string         `json:"strategy"`
	Symbol              string         `json:"symbol"`
	Direction           Direction      `json:"direction"`
	Strength            float64        `json:"strength"`
	Confidence          float64        `json:"confidence"`
	Reasons             []string       `json:"reasons"`
	EntryPrice          float64        `json:"entry_price,omitempty"`
	StopLoss            float64        `json:"stop_loss,omitempty"`
	TakeProfit          float64        `json:"take_profit,omitempty"`
	RecommendedLeverage int            `json:"recommended_leverage,omitempty"`
	PositionSize        float64        `json:"position_size,omitempty"`
	RiskRewardRatio     float64        `json:"risk_reward_ratio,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

type Decision struct {
	ID                    string         `json:"id"`
	Symbol                string         `json:"symbol"`
	TimeframesAnalyzed    []Timeframe    `json:"timeframes_analyzed"`
	MarketConditions      map[string]any `json:"market_conditions"`
	Direction             Direction      `json:"direction"`
	Confidence            float64        `json:"confidence"`
	Reasoning             string         `json:"reasoning"`
	RiskAssessment        string         `json:"risk_assessment"`
	RecommendedLeverage   int            `json:"recommended_leverage"`
	RecommendedStopLoss   float64        `json:"recommended_stop_loss"`
	RecommendedTakeProfit float64        `json:"recommended_take_profit"`
	EntryPrice            float64        `json:"entry_price"`
	Source                string         `json:"source"`
	Executed              bool           `json:"executed"`
	ExecutionError        string         `json:"execution_error,omitempty"`
	AnalyzedAt            time.Time      `json:"analyzed_at"`
}

type Trade struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Side            Side        `json:"side"`
	EntryPrice      float64     `json:"entry_price"`
	Quantity        float64     `json:"quantity"`
	Leverage        int         `json:"leverage"`
	StopLoss        float64     `json:"stop_loss"`
	TakeProfit      float64     `json:"take_profit"`
	Status          TradeStatus `json:"status"`
	ExchangeOrderID string      `json:"exchange_order_id"`
	DecisionID      string      `json:"decision_id,omitempty"`
	ExitPrice       float64     `json:"exit_price,omitempty"`
	PnL             float64     `json:"pnl,omitempty"`
	PnLPercentage   float64     `json:"pnl_percentage,omitempty"`
	CloseReason     CloseReason `json:"close_reason,omitempty"`
	OpenedAt        time.Time   `json:"opened_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}

// OrderResult is what an exchange returns for an accepted market order.
type OrderResult struct {
	OrderID   string  `json:"order_id"`
	AvgPrice  float64 `json:"avg_price"`
	FilledQty float64 `json:"filled_qty"`
}

// OracleResult is the decision-shaped answer of an external AI oracle.
type OracleResult struct {
	Direction           Direction `json:"direction"`
	Confidence          float64   `json:"confidence"`
	Reasoning           string    `json:"reasoning"`
	RiskAssessment      string    `json:"risk_assessment"`
	RecommendedLeverage int       `json:"recommended_leverage"`
	StopLoss            float64   `json:"stop_loss"`
	TakeProfit          float64   `json:"take_profit"`
	EntryPrice          float64   `json:"entry_price"`
	Fallback            bool      `json:"fallback,omitempty"`
}

// CycleResult summarises one analysis cycle for a symbol.
type CycleResult struct {
	Symbol     string    `json:"symbol"`
	Decision   *Decision `json:"decision,omitempty"`
	Signals    []Signal  `json:"signals,omitempty"`
	Approved   bool      `json:"approved"`
	GateReason string    `json:"gate_reason,omitempty"`
	Deferred   bool      `json:"deferred,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// EquitySnapshot records account equity at a point in time; the running peak
// feeds the drawdown check.
type EquitySnapshot struct {
	ID      string    `json:"id"`
	Ts      time.Time `json:"ts"`
	Balance float64   `json:"balance"`
	Equity  float64   `json:"equity"`
}

// DecisionFilter narrows a decision listing. Zero values match everything.
type DecisionFilter struct {
	Symbol string
	Limit  int
}

// TradeFilter narrows a trade listing. Zero values match everything.
type TradeFilter struct {
	Symbol string
	Status TradeStatus
	Limit  int
}
