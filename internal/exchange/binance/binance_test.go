package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"futures-bot/internal/errs"
	"futures-bot/internal/types"
)

const (
	testKey    = "key-123"
	testSecret = "secret-456"
)

type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
}

func (r *recorder) add(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.requests))
	for i, req := range r.requests {
		out[i] = req.URL.Path
	}
	return out
}

func verifySignature(t *testing.T, req *http.Request) {
	t.Helper()
	if req.Header.Get(apiKeyHeader) != testKey {
		t.Errorf("Expected api key header, got %q", req.Header.Get(apiKeyHeader))
	}
	raw := req.URL.RawQuery
	i := strings.LastIndex(raw, "&signature=")
	if i < 0 {
		t.Errorf("Expected signature in %q", raw)
		return
	}
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(raw[:i]))
	if want := hex.EncodeToString(mac.Sum(nil)); raw[i+len("&signature="):] != want {
		t.Errorf("Expected signature %s, got %s", want, raw[i+len("&signature="):])
	}
}

func newServer(t *testing.T, rec *recorder) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/ticker/price", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"` + r.URL.Query().Get("symbol") + `","price":"50123.40","time":1}`))
	})
	mux.HandleFunc("/fapi/v1/klines", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[[1700000000000,"100.0","101.5","99.5","101.0","12.5",1700000059999,"0",3,"0","0","0"],
			[1700000060000,"101.0","102.0","100.5","101.8","8.0",1700000119999,"0",2,"0","0","0"]]`))
	})
	mux.HandleFunc("/fapi/v2/balance", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		verifySignature(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"asset":"BNB","balance":"1.0","availableBalance":"1.0"},
			{"asset":"USDT","balance":"10000.50","availableBalance":"9000.00"}]`))
	})
	mux.HandleFunc("/fapi/v1/leverage", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		verifySignature(t, r)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"leverage":` + r.URL.Query().Get("leverage") + `,"symbol":"BTCUSDT"}`))
	})
	mux.HandleFunc("/fapi/v1/order", func(w http.ResponseWriter, r *http.Request) {
		rec.add(r)
		verifySignature(t, r)
		q := r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		if q.Get("symbol") == "FAILUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-2019,"msg":"Margin is insufficient."}`))
			return
		}
		if q.Get("type") != "MARKET" {
			t.Errorf("Expected MARKET order, got %s", q.Get("type"))
		}
		w.Write([]byte(`{"orderId":42,"symbol":"` + q.Get("symbol") + `","status":"FILLED","avgPrice":"50010.0","executedQty":"` + q.Get("quantity") + `"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := New(Config{BaseURL: srv.URL, APIKey: testKey, APISecret: testSecret, Timeout: 2 * time.Second})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestPublicEndpoints(t *testing.T) {
	rec := &recorder{}
	c := newServer(t, rec)
	ctx := context.Background()

	price, err := c.CurrentPrice(ctx, "BTCUSDT")
	if err != nil || price != 50123.4 {
		t.Errorf("Expected 50123.4, got %f (%v)", price, err)
	}

	bars, err := c.OHLCV(ctx, "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("ohlcv: %v", err)
	}
	want := types.Bar{Ts: 1700000000000, Open: 100, High: 101.5, Low: 99.5, Close: 101, Volume: 12.5}
	if len(bars) != 2 || bars[0] != want || bars[1].Close != 101.8 {
		t.Errorf("Expected parsed klines, got %+v", bars)
	}
	q := rec.requests[1].URL.Query()
	if q.Get("interval") != "1m" || q.Get("limit") != "2" {
		t.Errorf("Expected interval and limit params, got %v", q)
	}
}

func TestSignedBalance(t *testing.T) {
	c := newServer(t, &recorder{})
	bal, err := c.AccountBalance(context.Background())
	if err != nil || bal != 10000.5 {
		t.Errorf("Expected USDT balance 10000.5, got %f (%v)", bal, err)
	}

	c.quote = "BUSD"
	if _, err := c.AccountBalance(context.Background()); !errs.Is(err, errs.KindExchange) {
		t.Errorf("Expected ExchangeError for missing asset, got %v", err)
	}
}

func TestPlaceAndCloseOrders(t *testing.T) {
	rec := &recorder{}
	c := newServer(t, rec)
	ctx := context.Background()

	res, err := c.PlaceMarketOrder(ctx, "BTCUSDT", types.Long, 0.2, 3)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if res.OrderID != "42" || res.AvgPrice != 50010 || res.FilledQty != 0.2 {
		t.Errorf("Expected filled order 42, got %+v", res)
	}
	// leverage is cached per symbol
	if _, err := c.PlaceMarketOrder(ctx, "BTCUSDT", types.Short, 0.1, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ClosePosition(ctx, "BTCUSDT", types.Short, 0.1); err != nil {
		t.Fatal(err)
	}

	paths := rec.paths()
	wantPaths := []string{"/fapi/v1/leverage", "/fapi/v1/order", "/fapi/v1/order", "/fapi/v1/order"}
	if strings.Join(paths, ",") != strings.Join(wantPaths, ",") {
		t.Errorf("Expected %v, got %v", wantPaths, paths)
	}
	open := rec.requests[1].URL.Query()
	if open.Get("side") != "BUY" || open.Get("quantity") != "0.2" || open.Get("reduceOnly") != "" {
		t.Errorf("Expected opening BUY 0.2, got %v", open)
	}
	short := rec.requests[2].URL.Query()
	if short.Get("side") != "SELL" {
		t.Errorf("Expected SELL for short, got %s", short.Get("side"))
	}
	closing := rec.requests[3].URL.Query()
	if closing.Get("side") != "BUY" || closing.Get("reduceOnly") != "true" {
		t.Errorf("Expected reduce-only BUY to close short, got %v", closing)
	}
}

func TestOrderRejection(t *testing.T) {
	c := newServer(t, &recorder{})
	c.leverage["FAILUSDT"] = 2

	_, err := c.PlaceMarketOrder(context.Background(), "FAILUSDT", types.Long, 1, 2)
	if !errs.Is(err, errs.KindExchange) || !errs.Retryable(err) {
		t.Fatalf("Expected retryable ExchangeError, got %v", err)
	}
	if !strings.Contains(err.Error(), "-2019") || !strings.Contains(err.Error(), "Margin is insufficient") {
		t.Errorf("Expected binance code and message, got %v", err)
	}
}

func TestSignedCallsNeedCredentials(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.AccountBalance(context.Background()); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected ValidationFailure without keys, got %v", err)
	}
	if _, err := c.PlaceMarketOrder(context.Background(), "BTCUSDT", types.Long, 0, 1); !errs.Is(err, errs.KindValidation) {
		t.Errorf("Expected ValidationFailure for zero qty, got %v", err)
	}
}
