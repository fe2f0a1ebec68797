package acquisition

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/marketdata"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type fakeDiscoverer struct {
	name   string
	assets []domain.Asset
	err    error
	calls  atomic.Int32
}

func (f *fakeDiscoverer) Name() string { return f.name }

func (f *fakeDiscoverer) Discover(_ context.Context, q marketdata.DiscoveryQuery) ([]domain.Asset, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := append([]domain.Asset(nil), f.assets...)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

type fakeResolver struct {
	pools map[string]domain.Asset // mint -> resolved pool fields
	calls atomic.Int32
}

func (f *fakeResolver) ResolvePool(_ context.Context, a domain.Asset) (domain.Asset, error) {
	f.calls.Add(1)
	r, ok := f.pools[a.Address]
	if !ok {
		return a, marketdata.ErrNotFound
	}
	a.PoolAddress = r.PoolAddress
	a.CreatedAt = r.CreatedAt
	return a, nil
}

// fakeCandles serves series[address] candles per asset. Assets listed in
// slow block until ctx is done or delay passes.
type fakeCandles struct {
	name        string
	tier        domain.SourceTier
	series      map[string]int
	requirePool bool
	slow        map[string]time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newFakeCandles(name string, tier domain.SourceTier, series map[string]int) *fakeCandles {
	return &fakeCandles{name: name, tier: tier, series: series, calls: make(map[string]int)}
}

func (f *fakeCandles) Name() string             { return f.name }
func (f *fakeCandles) Tier() domain.SourceTier { return f.tier }

func (f *fakeCandles) FetchCandles(ctx context.Context, a domain.Asset, q marketdata.CandleQuery) ([]domain.Candle, error) {
	f.mu.Lock()
	f.calls[a.Address]++
	delay := f.slow[a.Address]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if f.requirePool && a.PoolAddress == "" {
		return nil, marketdata.ErrPoolRequired
	}
	n, ok := f.series[a.Address]
	if !ok {
		return nil, marketdata.ErrNotFound
	}
	return makeSeries(min(n, q.Limit), q.End), nil
}

func (f *fakeCandles) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func makeSeries(n int, end time.Time) []domain.Candle {
	out := make([]domain.Candle, n)
	for i := range out {
		p := 1 + float64(i)*0.01
		out[i] = domain.Candle{
			Timestamp: end.Add(-time.Duration(n-i) * time.Hour),
			Open:      p,
			High:      p * 1.02,
			Low:       p * 0.98,
			Close:     p * 1.01,
			Volume:    100,
		}
	}
	return out
}

type fakeObserver struct {
	attempted  atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64
	heartbeats atomic.Int64
}

func (f *fakeObserver) BatchSettled(attempted, succeeded, failed int) {
	f.attempted.Add(int64(attempted))
	f.succeeded.Add(int64(succeeded))
	f.failed.Add(int64(failed))
}

func (f *fakeObserver) Heartbeat() { f.heartbeats.Add(1) }

func assets(addrs ...string) []domain.Asset {
	out := make([]domain.Asset, len(addrs))
	for i, a := range addrs {
		out[i] = domain.Asset{Symbol: "T" + a, Address: a, PoolAddress: "pool-" + a}
	}
	return out
}

func testPolicy() *Policy {
	p := DefaultPolicy()
	p.HeartbeatInterval = 0
	p.BaseTimeout = time.Second
	p.PerCandleTimeout = 0
	return &p
}
