// Package binance is a USDⓈ-M perpetual futures client over the Binance REST API.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"futures-bot/internal/errs"
	"futures-bot/internal/interfaces"
	"futures-bot/internal/types"
)

const (
	DefaultBaseURL    = "https://fapi.binance.com"
	DefaultQuoteAsset = "USDT"
	defaultRecvWindow = 5000
	defaultTimeout    = 10 * time.Second
	apiKeyHeader      = "X-MBX-APIKEY"
)

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	QuoteAsset string
	RecvWindow int64
	Timeout    time.Duration
}

type Client struct {
	http       *resty.Client
	key        string
	secret     string
	quote      string
	recvWindow int64
	now        func() time.Time

	mu       sync.Mutex
	leverage map[string]int
}

var _ interfaces.Exchange = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = DefaultQuoteAsset
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = defaultRecvWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{
		http:       http,
		key:        cfg.APIKey,
		secret:     cfg.APISecret,
		quote:      strings.ToUpper(cfg.QuoteAsset),
		recvWindow: cfg.RecvWindow,
		now:        time.Now,
		leverage:   make(map[string]int),
	}
}

// apiError is the body Binance returns on a rejected request.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type balanceEntry struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

type orderResponse struct {
	OrderID     int64  `json:"orderId"`
	Symbol      string `json:"symbol"`
	Status      string `json:"status"`
	AvgPrice    string `json:"avgPrice"`
	ExecutedQty string `json:"executedQty"`
}

// sign appends timestamp, recvWindow and the HMAC-SHA256 signature.
func (c *Client) sign(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	qs := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(qs))
	return qs + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	req := c.http.R().SetContext(ctx).SetError(&apiError{})
	qs := params.Encode()
	if signed {
		if c.key == "" || c.secret == "" {
			return errs.New(errs.KindValidation, op, "binance api key and secret are required")
		}
		req.SetHeader(apiKeyHeader, c.key)
		qs = c.sign(params)
	}
	// the raw query keeps the signature last, as signed
	target := path
	if qs != "" {
		target += "?" + qs
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return errs.E(errs.KindExchange, op, err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Msg != "" {
			return errs.Newf(errs.KindExchange, op, "binance %d: code %d: %s", resp.StatusCode(), e.Code, e.Msg)
		}
		return errs.Newf(errs.KindExchange, op, "binance %d: %s", resp.StatusCode(), resp.String())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errs.E(errs.KindExchange, op, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	const op = "binance.CurrentPrice"
	var tp tickerPrice
	if err := c.do(ctx, op, resty.MethodGet, "/fapi/v1/ticker/price", url.Values{"symbol": {symbol}}, false, &tp); err != nil {
		return 0, err
	}
	p, err := strconv.ParseFloat(tp.Price, 64)
	if err != nil {
		return 0, errs.E(errs.KindExchange, op, fmt.Errorf("price %q: %w", tp.Price, err))
	}
	return p, nil
}

// OHLCV returns up to limit klines, oldest first. Binance rows are
// [openTime, open, high, low, close, volume, closeTime, ...] with prices as strings.
func (c *Client) OHLCV(ctx context.Context, symbol string, tf types.Timeframe, limit int) ([]types.Bar, error) {
	const op = "binance.OHLCV"
	params := url.Values{"symbol": {symbol}, "interval": {string(tf)}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var rows [][]json.RawMessage
	if err := c.do(ctx, op, resty.MethodGet, "/fapi/v1/klines", params, false, &rows); err != nil {
		return nil, err
	}
	bars := make([]types.Bar, 0, len(rows))
	for i, row := range rows {
		b, err := parseKline(row)
		if err != nil {
			return nil, errs.E(errs.KindExchange, op, fmt.Errorf("kline %d: %w", i, err))
		}
		bars = append(bars, b)
	}
	return bars, nil
}

func parseKline(row []json.RawMessage) (types.Bar, error) {
	if len(row) < 6 {
		return types.Bar{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var b types.Bar
	if err := json.Unmarshal(row[0], &b.Ts); err != nil {
		return types.Bar{}, fmt.Errorf("open time: %w", err)
	}
	fields := []*float64{&b.Open, &b.High, &b.Low, &b.Close, &b.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return types.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Bar{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = v
	}
	return b, nil
}

// AccountBalance is the wallet balance of the quote asset.
func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	const op = "binance.AccountBalance"
	var entries []balanceEntry
	if err := c.do(ctx, op, resty.MethodGet, "/fapi/v2/balance", nil, true, &entries); err != nil {
		return 0, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Asset, c.quote) {
			v, err := strconv.ParseFloat(e.Balance, 64)
			if err != nil {
				return 0, errs.E(errs.KindExchange, op, fmt.Errorf("balance %q: %w", e.Balance, err))
			}
			return v, nil
		}
	}
	return 0, errs.Newf(errs.KindExchange, op, "no %s balance on account", c.quote)
}

// setLeverage updates the symbol's leverage when it differs from the last
// value this client set.
func (c *Client) setLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	cur := c.leverage[symbol]
	c.mu.Unlock()
	if cur == leverage {
		return nil
	}
	params := url.Values{"symbol": {symbol}, "leverage": {strconv.Itoa(leverage)}}
	if err := c.do(ctx, "binance.setLeverage", resty.MethodPost, "/fapi/v1/leverage", params, true, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.leverage[symbol] = leverage
	c.mu.Unlock()
	return nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, qty float64, leverage int) (types.OrderResult, error) {
	const op = "binance.PlaceMarketOrder"
	if qty <= 0 {
		return types.OrderResult{}, errs.Newf(errs.KindValidation, op, "quantity %v is not positive", qty)
	}
	if leverage < 1 {
		leverage = 1
	}
	if err := c.setLeverage(ctx, symbol, leverage); err != nil {
		return types.OrderResult{}, err
	}
	return c.marketOrder(ctx, op, symbol, orderSide(side, false), qty, false)
}

// ClosePosition sends a reduce-only market order against the position side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side types.Side, qty float64) (types.OrderResult, error) {
	const op = "binance.ClosePosition"
	if qty <= 0 {
		return types.OrderResult{}, errs.Newf(errs.KindValidation, op, "quantity %v is not positive", qty)
	}
	return c.marketOrder(ctx, op, symbol, orderSide(side, true), qty, true)
}

func orderSide(side types.Side, closing bool) string {
	buy := side == types.Long
	if closing {
		buy = !buy
	}
	if buy {
		return "BUY"
	}
	return "SELL"
}

func (c *Client) marketOrder(ctx context.Context, op, symbol, side string, qty float64, reduceOnly bool) (types.OrderResult, error) {
	params := url.Values{
		"symbol":           {symbol},
		"side":             {side},
		"type":             {"MARKET"},
		"quantity":         {strconv.FormatFloat(qty, 'f', -1, 64)},
		"newOrderRespType": {"RESULT"},
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}
	var or orderResponse
	if err := c.do(ctx, op, resty.MethodPost, "/fapi/v1/order", params, true, &or); err != nil {
		return types.OrderResult{}, err
	}
	res := types.OrderResult{OrderID: strconv.FormatInt(or.OrderID, 10)}
	res.AvgPrice, _ = strconv.ParseFloat(or.AvgPrice, 64)
	res.FilledQty, _ = strconv.ParseFloat(or.ExecutedQty, 64)
	return res, nil
}
