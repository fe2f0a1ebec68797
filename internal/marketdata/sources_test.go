package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"solana-backtest-lab/internal/domain"
)

func TestDexScreener_Discover(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	oldMs := strconv.FormatInt(now.Add(-10*24*time.Hour).UnixMilli(), 10)
	youngMs := strconv.FormatInt(now.Add(-time.Hour).UnixMilli(), 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest/dex/search" || r.URL.Query().Get("q") != "SOL" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.Write([]byte(`{"pairs":[
			{"chainId":"solana","pairAddress":"p1","baseToken":{"address":"m1","symbol":"AAA"},"liquidity":{"usd":1000},"pairCreatedAt":` + oldMs + `},
			{"chainId":"solana","pairAddress":"p2","baseToken":{"address":"m1","symbol":"AAA"},"liquidity":{"usd":5000},"pairCreatedAt":` + oldMs + `},
			{"chainId":"solana","pairAddress":"p3","baseToken":{"address":"m2","symbol":"BBB"},"liquidity":{"usd":3000},"pairCreatedAt":` + oldMs + `},
			{"chainId":"solana","pairAddress":"p4","baseToken":{"address":"m3","symbol":"NEW"},"liquidity":{"usd":9000},"pairCreatedAt":` + youngMs + `},
			{"chainId":"ethereum","pairAddress":"p5","baseToken":{"address":"m4","symbol":"ETHX"},"liquidity":{"usd":99000},"pairCreatedAt":` + oldMs + `}
		]}`))
	}))
	defer server.Close()

	d := NewDexScreener(testClient(server.URL), "")
	assets, err := d.Discover(context.Background(), DiscoveryQuery{MinPoolAge: 72 * time.Hour, Now: now})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d: %+v", len(assets), assets)
	}
	if assets[0].Address != "m1" || assets[0].PoolAddress != "p2" {
		t.Errorf("expected most liquid pair p2 for m1 first, got %+v", assets[0])
	}
	if assets[1].Address != "m2" {
		t.Errorf("expected m2 second, got %+v", assets[1])
	}
}

func TestDexScreener_ResolvePool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token-pairs/v1/solana/m1":
			w.Write([]byte(`[
				{"chainId":"solana","pairAddress":"small","baseToken":{"address":"m1","symbol":"AAA"},"liquidity":{"usd":10}},
				{"chainId":"solana","pairAddress":"big","baseToken":{"address":"m1","symbol":"AAA"},"liquidity":{"usd":"2500.5"}},
				{"chainId":"solana","pairAddress":"quote","baseToken":{"address":"other","symbol":"X"},"liquidity":{"usd":99999}}
			]`))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	d := NewDexScreener(testClient(server.URL), "")

	got, err := d.ResolvePool(context.Background(), domain.Asset{Address: "m1"})
	if err != nil {
		t.Fatalf("ResolvePool: %v", err)
	}
	if got.PoolAddress != "big" || got.LiquidityUSD != 2500.5 || got.Symbol != "AAA" {
		t.Errorf("unexpected resolution: %+v", got)
	}

	_, err = d.ResolvePool(context.Background(), domain.Asset{Address: "unknown"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMintList_Discover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"address":"m1","symbol":"AAA","created_at":"2025-01-01T00:00:00Z"},
			{"id":"m2","symbol":"BBB"},
			{"address":"m1","symbol":"AAA"},
			{"address":"m3","symbol":"CCC"}
		]`))
	}))
	defer server.Close()

	m := NewMintList(testClient(server.URL))
	assets, err := m.Discover(context.Background(), DiscoveryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(assets))
	}
	if assets[0].Address != "m1" || assets[1].Address != "m2" {
		t.Errorf("unexpected order: %+v", assets)
	}
	for _, a := range assets {
		if a.PoolAddress != "" {
			t.Errorf("mint list must not set pools, got %q", a.PoolAddress)
		}
	}
}

func TestBirdeye_FetchCandles(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("address") != "m1" || q.Get("type") != "1H" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Get("time_to") != strconv.FormatInt(end.Unix(), 10) {
			t.Errorf("unexpected time_to %s", q.Get("time_to"))
		}
		t1 := end.Add(-2 * time.Hour).Unix()
		t2 := end.Add(-time.Hour).Unix()
		w.Write([]byte(`{"success":true,"data":{"items":[
			{"unixTime":` + strconv.FormatInt(t2, 10) + `,"o":2,"h":3,"l":1.5,"c":2.5,"v":100},
			{"unixTime":` + strconv.FormatInt(t1, 10) + `,"o":1,"h":2.1,"l":0.9,"c":2,"v":50}
		]}}`))
	}))
	defer server.Close()

	b := NewBirdeye(testClient(server.URL))
	if b.Tier() != domain.TierB {
		t.Errorf("expected tier-B, got %s", b.Tier())
	}

	candles, err := b.FetchCandles(context.Background(), domain.Asset{Address: "m1"}, CandleQuery{Limit: 24, End: end})
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[0].Close != 2 || candles[1].Close != 2.5 {
		t.Errorf("expected ascending order, got %+v", candles)
	}
}

func TestBirdeye_Unsuccessful(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"token not supported"}`))
	}))
	defer server.Close()

	_, err := NewBirdeye(testClient(server.URL)).FetchCandles(context.Background(),
		domain.Asset{Address: "m1"}, CandleQuery{Limit: 24, End: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type fakeBars struct {
	bars   []marketdata.Bar
	err    error
	symbol string
	req    marketdata.GetBarsRequest
}

func (f *fakeBars) GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error) {
	f.symbol = symbol
	f.req = req
	return f.bars, f.err
}

func TestAlpaca_FetchCandles(t *testing.T) {
	end := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	fake := &fakeBars{bars: []marketdata.Bar{
		{Timestamp: end.Add(-2 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1200},
		{Timestamp: end.Add(-time.Hour), Open: 100.5, High: 102, Low: 100, Close: 101.5, Volume: 900},
	}}
	a := &Alpaca{client: fake}

	candles, err := a.FetchCandles(context.Background(), domain.Asset{Symbol: "SPY", Address: "spy"}, CandleQuery{Limit: 720, End: end})
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	if fake.symbol != "SPY" {
		t.Errorf("expected upper-cased symbol SPY, got %q", fake.symbol)
	}
	if !fake.req.Start.Equal(end.Add(-720 * time.Hour)) {
		t.Errorf("unexpected window start %v", fake.req.Start)
	}
	if len(candles) != 2 || candles[1].Volume != 900 {
		t.Errorf("unexpected candles %+v", candles)
	}
}

func TestAlpaca_FetchCandlesError(t *testing.T) {
	a := &Alpaca{client: &fakeBars{err: errors.New("forbidden")}}
	_, err := a.FetchCandles(context.Background(), domain.Asset{Address: "SPY"}, CandleQuery{Limit: 10, End: time.Now()})
	if err == nil {
		t.Fatal("expected error")
	}

	a = &Alpaca{client: &fakeBars{}}
	_, err = a.FetchCandles(context.Background(), domain.Asset{Address: "SPY"}, CandleQuery{Limit: 10, End: time.Now()})
	if !errors.Is(err, ErrNoCandles) {
		t.Errorf("expected ErrNoCandles, got %v", err)
	}
}

func TestSynthetic_Deterministic(t *testing.T) {
	s := NewSynthetic()
	end := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	q := CandleQuery{Limit: 200, End: end}

	a, err := s.FetchCandles(context.Background(), domain.Asset{Address: "m1"}, q)
	if err != nil {
		t.Fatalf("FetchCandles: %v", err)
	}
	b, _ := s.FetchCandles(context.Background(), domain.Asset{Address: "m1"}, q)
	c, _ := s.FetchCandles(context.Background(), domain.Asset{Address: "m2"}, q)

	if len(a) != 200 {
		t.Fatalf("expected 200 candles, got %d", len(a))
	}
	if err := domain.ValidateSeries(a); err != nil {
		t.Errorf("synthetic series invalid: %v", err)
	}
	if !a[len(a)-1].Timestamp.Equal(end.Truncate(time.Hour)) {
		t.Errorf("expected last candle at %v, got %v", end.Truncate(time.Hour), a[len(a)-1].Timestamp)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("candle %d differs between identical calls", i)
		}
	}
	if a[len(a)-1].Close == c[len(c)-1].Close {
		t.Error("expected different assets to produce different series")
	}
}

func TestStatic_Discover(t *testing.T) {
	s := NewStatic("catalog", []domain.Asset{{Address: "a"}, {Address: "b"}, {Address: "c"}})
	got, err := s.Discover(context.Background(), DiscoveryQuery{Limit: 2})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 2 || got[0].Address != "a" {
		t.Errorf("unexpected assets %+v", got)
	}
}
