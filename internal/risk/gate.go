package risk

import (
	"context"
	"fmt"
	"strings"

	"futures-bot/internal/errs"
	"futures-bot/internal/logger"
	"futures-bot/internal/types"
)

// Check names, in evaluation order.
const (
	CheckActionable         = "actionable"
	CheckBotEnabled         = "bot_enabled"
	CheckDailyLossLimit     = "daily_loss_limit"
	CheckMaxPositions       = "max_positions"
	CheckSinglePairExposure = "single_pair_exposure"
	CheckCorrelatedExposure = "correlated_exposure"
	CheckPortfolioRisk      = "portfolio_risk"
	CheckDrawdown           = "drawdown"
	CheckMinConfidence      = "min_confidence"
	CheckValidation         = "validation"
	CheckRiskReward         = "risk_reward"
)

// Account is the balance state the gate needs.
type Account struct {
	Balance          float64
	Equity           float64 // falls back to Balance when 0
	PeakEquity       float64
	RealizedPnLToday float64
}

// Input is one gate evaluation request.
type Input struct {
	Decision      *types.Decision
	Account       Account
	OpenPositions []types.Trade
	BotEnabled    bool
}

type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// Result lists every check that ran. Evaluation stops at the first failure,
// so a failed Result's last check is the one that blocked the decision.
type Result struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Failed returns the blocking check, or nil when the gate passed.
func (r Result) Failed() *Check {
	if r.Passed || len(r.Checks) == 0 {
		return nil
	}
	return &r.Checks[len(r.Checks)-1]
}

// Summary renders the outcome for Decision.RiskAssessment.
func (r Result) Summary() string {
	if f := r.Failed(); f != nil {
		return fmt.Sprintf("REJECTED by %s: %s", f.Name, f.Reason)
	}
	names := make([]string, 0, len(r.Checks))
	for _, c := range r.Checks {
		names = append(names, c.Name)
	}
	return "APPROVED: " + strings.Join(names, ", ")
}

// Err converts a failed result into a typed error. Validation and risk/reward
// failures are ValidationFailure; every other check is RiskLimitExceeded.
func (r Result) Err(op string) error {
	f := r.Failed()
	if f == nil {
		return nil
	}
	kind := errs.KindRiskLimitExceeded
	if f.Name == CheckValidation || f.Name == CheckRiskReward {
		kind = errs.KindValidation
	}
	return errs.Newf(kind, op, "%s: %s", f.Name, f.Reason)
}

// Gate runs the ordered portfolio and risk checks. A limit of zero disables its check.
type Gate struct {
	cfg        types.RiskConfig
	correlator Correlator
	threshold  float64
}

func NewGate(cfg types.RiskConfig, correlator Correlator) *Gate {
	if correlator == nil {
		correlator = NewBaseAssetCorrelator()
	}
	if cfg.MinRiskReward <= 0 {
		cfg.MinRiskReward = 1.5
	}
	if cfg.MaxLeverage <= 0 {
		cfg.MaxLeverage = 10
	}
	return &Gate{cfg: cfg, correlator: correlator, threshold: DefaultCorrelationThreshold}
}

func (g *Gate) Config() types.RiskConfig { return g.cfg }

type checkFunc func(*evaluation) (bool, string)

type namedCheck struct {
	name string
	fn   checkFunc
}

// evaluation carries the prospective position sized from the decision.
type evaluation struct {
	g        *Gate
	in       Input
	qty      float64
	margin   float64
	leverage int
}

func (g *Gate) openingChecks() []namedCheck {
	return []namedCheck{
		{CheckActionable, checkActionable},
		{CheckBotEnabled, checkBotEnabled},
		{CheckDailyLossLimit, checkDailyLoss},
		{CheckMaxPositions, checkMaxPositions},
		{CheckSinglePairExposure, checkSinglePair},
		{CheckCorrelatedExposure, checkCorrelated},
		{CheckPortfolioRisk, checkPortfolioRisk},
		{CheckDrawdown, checkDrawdown},
		{CheckMinConfidence, checkMinConfidence},
		{CheckValidation, checkValidation},
		{CheckRiskReward, checkRiskReward},
	}
}

// Evaluate runs the full ordered gate for a fresh decision.
func (g *Gate) Evaluate(ctx context.Context, in Input) Result {
	if in.Decision != nil && in.Decision.Direction == types.Close {
		return g.run(ctx, in, []namedCheck{
			{CheckBotEnabled, checkBotEnabled},
			{CheckMinConfidence, checkMinConfidence},
		})
	}
	return g.run(ctx, in, g.openingChecks())
}

// Recheck runs only the checks whose inputs move between analysis and
// execution: positions, realised losses, exposure and equity.
func (g *Gate) Recheck(ctx context.Context, in Input) Result {
	if in.Decision != nil && in.Decision.Direction == types.Close {
		return g.run(ctx, in, []namedCheck{{CheckBotEnabled, checkBotEnabled}})
	}
	return g.run(ctx, in, []namedCheck{
		{CheckBotEnabled, checkBotEnabled},
		{CheckDailyLossLimit, checkDailyLoss},
		{CheckMaxPositions, checkMaxPositions},
		{CheckSinglePairExposure, checkSinglePair},
		{CheckCorrelatedExposure, checkCorrelated},
		{CheckPortfolioRisk, checkPortfolioRisk},
		{CheckDrawdown, checkDrawdown},
	})
}

func (g *Gate) run(ctx context.Context, in Input, checks []namedCheck) Result {
	if in.Decision == nil {
		return Result{Checks: []Check{{Name: CheckActionable, Reason: "no decision"}}}
	}
	ev := &evaluation{g: g, in: in}
	if in.Account.Equity == 0 {
		ev.in.Account.Equity = in.Account.Balance
	}
	d := in.Decision
	ev.leverage = d.RecommendedLeverage
	if ev.leverage < 1 {
		ev.leverage = 1
	}
	ev.qty = PositionSize(in.Account.Balance, g.cfg.RiskPerTradePct, d.EntryPrice, d.RecommendedStopLoss)
	ev.margin = MarginPct(d.EntryPrice, ev.qty, ev.leverage, in.Account.Balance)

	res := Result{Passed: true}
	for _, c := range checks {
		ok, reason := c.fn(ev)
		res.Checks = append(res.Checks, Check{Name: c.name, Passed: ok, Reason: reason})
		if !ok {
			res.Passed = false
			logger.Risk(ctx, d.Symbol, c.name, "reason", reason)
			break
		}
	}
	return res
}

func checkActionable(ev *evaluation) (bool, string) {
	d := ev.in.Decision
	if d.Direction != types.Buy && d.Direction != types.Sell {
		return false, fmt.Sprintf("%s decisions are not actionable", d.Direction)
	}
	return true, string(d.Direction)
}

func checkBotEnabled(ev *evaluation) (bool, string) {
	if !ev.in.BotEnabled {
		return false, "bot is disabled"
	}
	return true, "bot is enabled"
}

func checkDailyLoss(ev *evaluation) (bool, string) {
	limit := ev.g.cfg.DailyLossLimitPct
	if limit <= 0 {
		return true, "daily loss limit disabled"
	}
	bal := ev.in.Account.Balance
	loss := -ev.in.Account.RealizedPnLToday
	maxLoss := bal * limit / 100
	if loss > 0 && loss >= maxLoss {
		return false, fmt.Sprintf("realized loss today %.2f reached limit %.2f (%.2f%% of %.2f)", loss, maxLoss, limit, bal)
	}
	return true, fmt.Sprintf("realized PnL today %.2f within limit %.2f", ev.in.Account.RealizedPnLToday, maxLoss)
}

func checkMaxPositions(ev *evaluation) (bool, string) {
	max := ev.g.cfg.MaxPositions
	n := len(ev.in.OpenPositions)
	if max <= 0 {
		return true, "max positions disabled"
	}
	if n >= max {
		return false, fmt.Sprintf("%d open positions, limit %d", n, max)
	}
	return true, fmt.Sprintf("%d of %d positions open", n, max)
}

func checkSinglePair(ev *evaluation) (bool, string) {
	limit := ev.g.cfg.MaxSinglePairExposurePct
	if limit <= 0 {
		return true, "single pair exposure disabled"
	}
	sym := ev.in.Decision.Symbol
	exp := ev.margin
	for _, t := range ev.in.OpenPositions {
		if strings.EqualFold(t.Symbol, sym) {
			exp += tradeMarginPct(t, ev.in.Account.Balance)
		}
	}
	if exp > limit {
		return false, fmt.Sprintf("%s exposure %.2f%% exceeds %.2f%%", sym, exp, limit)
	}
	return true, fmt.Sprintf("%s exposure %.2f%% of %.2f%%", sym, exp, limit)
}

func checkCorrelated(ev *evaluation) (bool, string) {
	limit := ev.g.cfg.MaxCorrelatedExposurePct
	if limit <= 0 {
		return true, "correlated exposure disabled"
	}
	sym := ev.in.Decision.Symbol
	exp := ev.margin
	var peers []string
	for _, t := range ev.in.OpenPositions {
		if strings.EqualFold(t.Symbol, sym) {
			continue
		}
		if ev.g.correlator.Correlation(sym, t.Symbol) >= ev.g.threshold {
			exp += tradeMarginPct(t, ev.in.Account.Balance)
			peers = append(peers, t.Symbol)
		}
	}
	if len(peers) == 0 {
		return true, "no correlated open positions"
	}
	if exp > limit {
		return false, fmt.Sprintf("exposure correlated with %s (%s) %.2f%% exceeds %.2f%%", sym, strings.Join(peers, ","), exp, limit)
	}
	return true, fmt.Sprintf("correlated exposure %.2f%% of %.2f%%", exp, limit)
}

func checkPortfolioRisk(ev *evaluation) (bool, string) {
	limit := ev.g.cfg.MaxPortfolioRiskPct
	if limit <= 0 {
		return true, "portfolio risk disabled"
	}
	bal := ev.in.Account.Balance
	total := 0.0
	for _, t := range ev.in.OpenPositions {
		total += tradeRiskPct(t, bal)
	}
	d := ev.in.Decision
	total += RiskPct(d.EntryPrice, d.RecommendedStopLoss, ev.qty, bal)
	if total > limit {
		return false, fmt.Sprintf("portfolio risk %.2f%% exceeds %.2f%%", total, limit)
	}
	return true, fmt.Sprintf("portfolio risk %.2f%% of %.2f%%", total, limit)
}

func checkDrawdown(ev *evaluation) (bool, string) {
	limit := ev.g.cfg.MaxDrawdownPct
	peak := ev.in.Account.PeakEquity
	if limit <= 0 || peak <= 0 {
		return true, "drawdown check skipped"
	}
	dd := (peak - ev.in.Account.Equity) / peak * 100
	if dd >= limit {
		return false, fmt.Sprintf("drawdown %.2f%% from peak %.2f reached %.2f%%", dd, peak, limit)
	}
	return true, fmt.Sprintf("drawdown %.2f%% of %.2f%%", dd, limit)
}

func checkMinConfidence(ev *evaluation) (bool, string) {
	c := ev.in.Decision.Confidence
	if c < ev.g.cfg.MinConfidence {
		return false, fmt.Sprintf("confidence %.1f below %.1f", c, ev.g.cfg.MinConfidence)
	}
	return true, fmt.Sprintf("confidence %.1f", c)
}

func checkValidation(ev *evaluation) (bool, string) {
	d := ev.in.Decision
	entry, stop, tp := d.EntryPrice, d.RecommendedStopLoss, d.RecommendedTakeProfit
	switch {
	case entry <= 0:
		return false, "missing entry price"
	case stop <= 0:
		return false, "missing stop loss"
	case tp <= 0:
		return false, "missing take profit"
	}
	if d.Direction == types.Buy && !(stop < entry && tp > entry) {
		return false, fmt.Sprintf("BUY needs stop %.4f < entry %.4f < target %.4f", stop, entry, tp)
	}
	if d.Direction == types.Sell && !(stop > entry && tp < entry) {
		return false, fmt.Sprintf("SELL needs target %.4f < entry %.4f < stop %.4f", tp, entry, stop)
	}
	lev := d.RecommendedLeverage
	if lev < 1 || lev > ev.g.cfg.MaxLeverage {
		return false, fmt.Sprintf("leverage %d outside [1,%d]", lev, ev.g.cfg.MaxLeverage)
	}
	if ev.qty <= 0 {
		return false, "position size is zero"
	}
	return true, fmt.Sprintf("qty %.6f at %dx", ev.qty, lev)
}

func checkRiskReward(ev *evaluation) (bool, string) {
	d := ev.in.Decision
	rr := RiskReward(d.EntryPrice, d.RecommendedStopLoss, d.RecommendedTakeProfit)
	if rr < ev.g.cfg.MinRiskReward {
		return false, fmt.Sprintf("risk/reward %.2f below %.2f", rr, ev.g.cfg.MinRiskReward)
	}
	return true, fmt.Sprintf("risk/reward %.2f", rr)
}
