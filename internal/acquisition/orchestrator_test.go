package acquisition

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/marketdata"
	"solana-backtest-lab/internal/storage/memory"
)

var testConstraints = Constraints{MinCandles: 100, MaxCandles: 200, FetchBatchSize: 2}

func newTestOrchestrator(store *memory.KVStore, policy *Policy, src Sources) *Orchestrator {
	families := map[domain.Family]Sources{domain.FamilyMemecoin: src}
	opts := Options{Families: families, Policy: policy, Logger: zerolog.Nop(), Clock: fixedClock}
	if store != nil {
		opts.Store = store
	}
	return New(opts)
}

func memecoinRequest() FamilyRequest {
	return FamilyRequest{
		Family:            domain.FamilyMemecoin,
		UniverseSize:      4,
		LookbackHours:     720,
		Scale:             domain.ScaleFast,
		Policy:            domain.PolicyPrimaryOnly,
		StrictNoSynthetic: true,
		Constraints:       testConstraints,
	}
}

func TestAcquire_PrimaryDiscovery(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("d", "b", "a", "c")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200, "c": 200, "d": 200})
	obs := &fakeObserver{}

	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.Observer = obs

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if len(out.Datasets) != 4 {
		t.Fatalf("expected 4 datasets, got %d", len(out.Datasets))
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if out.Datasets[i].AssetAddress != want {
			t.Errorf("dataset %d: expected %s, got %s", i, want, out.Datasets[i].AssetAddress)
		}
	}
	ds := out.Datasets[0]
	if ds.Tier != domain.TierA || ds.Source != "tier-a" || ds.PoolAddress != "pool-a" || len(ds.Candles) != 200 {
		t.Errorf("unexpected dataset provenance: %+v", ds)
	}
	if !ds.FetchedAt.Equal(testNow) {
		t.Errorf("expected FetchedAt %v, got %v", testNow, ds.FetchedAt)
	}
	if out.DiscoveryTier != "primary-src" || out.FromCache || out.Recovered {
		t.Errorf("unexpected outcome flags: %+v", out)
	}
	if out.Attempted != 4 || out.Succeeded != 4 || out.Failed != 0 {
		t.Errorf("expected 4/4/0, got %d/%d/%d", out.Attempted, out.Succeeded, out.Failed)
	}
	if obs.attempted.Load() != 4 || obs.succeeded.Load() != 4 {
		t.Errorf("observer saw attempted=%d succeeded=%d", obs.attempted.Load(), obs.succeeded.Load())
	}
	if !strings.HasPrefix(out.ManifestKey, "manifest:") {
		t.Errorf("expected derived manifest key, got %q", out.ManifestKey)
	}
}

func TestAcquire_FallbackInvokedOnceThenCoverageError(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src"}
	secondary := &fakeDiscoverer{name: "secondary-src"}
	candles := newFakeCandles("tier-a", domain.TierA, nil)

	o := newTestOrchestrator(memory.NewKVStore(), testPolicy(), Sources{
		Primary:   primary,
		Secondary: secondary,
		Candles:   candles,
		Synthetic: marketdata.NewSynthetic(),
	})
	req := memecoinRequest()
	req.UniverseSize = 50

	out, err := o.Acquire(context.Background(), req)
	if out != nil {
		t.Fatalf("expected no outcome, got %+v", out)
	}
	if !errors.Is(err, ErrCoverageGate) {
		t.Fatalf("expected ErrCoverageGate, got %v", err)
	}
	var covErr *CoverageError
	if !errors.As(err, &covErr) {
		t.Fatalf("expected *CoverageError, got %T", err)
	}
	if primary.calls.Load() != 1 || secondary.calls.Load() != 1 {
		t.Errorf("expected each tier once, got primary=%d secondary=%d", primary.calls.Load(), secondary.calls.Load())
	}
	if covErr.Stats.Required != 25 || covErr.Stats.Succeeded != 0 {
		t.Errorf("unexpected stats %+v", covErr.Stats)
	}
	if len(covErr.DisallowedSources) != 1 || covErr.DisallowedSources[0] != "synthetic" {
		t.Errorf("expected synthetic to be disallowed, got %v", covErr.DisallowedSources)
	}
}

func TestAcquire_SecondaryWhenPrimaryEmpty(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src"}
	secondary := &fakeDiscoverer{name: "secondary-src", assets: assets("x", "y", "z")}
	tertiary := &fakeDiscoverer{name: "tertiary-src", assets: assets("q")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"x": 150, "y": 150, "z": 150})

	o := newTestOrchestrator(nil, testPolicy(), Sources{
		Primary: primary, Secondary: secondary, Tertiary: tertiary, Candles: candles,
	})

	out, err := o.Acquire(context.Background(), memecoinRequest())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out.DiscoveryTier != "secondary-src" {
		t.Errorf("expected secondary tier, got %s", out.DiscoveryTier)
	}
	if len(out.Datasets) != 3 {
		t.Errorf("expected 3 datasets, got %d", len(out.Datasets))
	}
	if tertiary.calls.Load() != 0 {
		t.Errorf("tertiary must not run when secondary yields candidates, got %d calls", tertiary.calls.Load())
	}
}

func TestAcquire_TertiaryResolvesPoolsAndFiltersAge(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", err: errors.New("upstream down")}
	tertiary := &fakeDiscoverer{name: "mint-list", assets: []domain.Asset{
		{Symbol: "OLD1", Address: "m1"},
		{Symbol: "OLD2", Address: "m2"},
		{Symbol: "NEW", Address: "m3"},
		{Symbol: "LOST", Address: "m4"},
	}}
	resolver := &fakeResolver{pools: map[string]domain.Asset{
		"m1": {PoolAddress: "p1", CreatedAt: testNow.Add(-30 * 24 * time.Hour)},
		"m2": {PoolAddress: "p2", CreatedAt: testNow.Add(-10 * 24 * time.Hour)},
		"m3": {PoolAddress: "p3", CreatedAt: testNow.Add(-time.Hour)},
	}}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"m1": 200, "m2": 200, "m3": 200})
	candles.requirePool = true

	o := newTestOrchestrator(nil, testPolicy(), Sources{
		Primary: primary, Tertiary: tertiary, Resolver: resolver, Candles: candles,
	})
	req := memecoinRequest()
	req.MinPoolAge = 72 * time.Hour
	req.MinDatasets = 2

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if resolver.calls.Load() != 4 {
		t.Errorf("expected 4 pool lookups, got %d", resolver.calls.Load())
	}
	if len(out.Datasets) != 2 {
		t.Fatalf("expected 2 aged datasets, got %d", len(out.Datasets))
	}
	if out.Datasets[0].PoolAddress != "p1" || out.Datasets[1].PoolAddress != "p2" {
		t.Errorf("expected resolved pools p1, p2, got %s, %s", out.Datasets[0].PoolAddress, out.Datasets[1].PoolAddress)
	}
	if candles.calls["m3"] != 0 {
		t.Error("young pool must not be fetched")
	}
}

func TestAcquire_RelaxedRecoveryPass(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b", "c", "d")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200, "c": 80})
	fallback := newFakeCandles("tier-b", domain.TierB, map[string]int{"d": 120})

	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: primary, Candles: candles, Fallback: fallback})
	req := memecoinRequest()
	req.MinDatasets = 4

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !out.Recovered {
		t.Error("expected relaxed recovery pass")
	}
	if len(out.Datasets) != 4 {
		t.Fatalf("expected 4 datasets after recovery, got %d", len(out.Datasets))
	}
	byAddr := map[string]domain.Dataset{}
	for _, d := range out.Datasets {
		byAddr[d.AssetAddress] = d
	}
	if len(byAddr["c"].Candles) != 80 {
		t.Errorf("expected c recovered at relaxed depth, got %d candles", len(byAddr["c"].Candles))
	}
	if byAddr["d"].Tier != domain.TierB {
		t.Errorf("expected d from forced fallback, got %s", byAddr["d"].Tier)
	}
	if out.Attempted != 4 || out.Succeeded != 4 || out.Failed != 0 {
		t.Errorf("expected counters over 4 distinct candidates, got %d/%d/%d", out.Attempted, out.Succeeded, out.Failed)
	}
}

func TestAcquire_PrimaryOnlySkipsFallback(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b", "c")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200})
	fallback := newFakeCandles("tier-b", domain.TierB, map[string]int{"c": 200})

	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: primary, Candles: candles, Fallback: fallback})
	req := memecoinRequest()
	req.MinDatasets = 2

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(out.Datasets) != 2 || fallback.total() != 0 {
		t.Errorf("expected 2 tier-A datasets and no fallback calls, got %d datasets, %d calls", len(out.Datasets), fallback.total())
	}

	req.Policy = domain.PolicyAllowFallback
	req.ManifestID = "manifest:allow"
	out, err = o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(out.Datasets) != 3 {
		t.Errorf("expected fallback to fill c, got %d datasets", len(out.Datasets))
	}
}

func TestAcquire_CacheIdempotent(t *testing.T) {
	store := memory.NewKVStore()
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200})

	o := newTestOrchestrator(store, testPolicy(), Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.UniverseSize = 2

	first, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	fetchesAfterFirst := candles.total()

	second, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}

	if !second.FromCache {
		t.Error("expected cached outcome")
	}
	if candles.total() != fetchesAfterFirst || primary.calls.Load() != 1 {
		t.Errorf("cache hit must not refetch: fetches %d -> %d, discovery calls %d",
			fetchesAfterFirst, candles.total(), primary.calls.Load())
	}

	a, _ := json.Marshal(first.Datasets)
	b, _ := json.Marshal(second.Datasets)
	if string(a) != string(b) {
		t.Error("cached datasets differ from the original acquisition")
	}
	if second.ManifestKey != first.ManifestKey {
		t.Errorf("manifest key changed: %s vs %s", first.ManifestKey, second.ManifestKey)
	}
}

func TestAcquire_UnhealthyManifestRefetches(t *testing.T) {
	store := memory.NewKVStore()
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200})

	o := newTestOrchestrator(store, testPolicy(), Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.UniverseSize = 2
	req.ManifestID = "manifest:stale"

	stale := &Manifest{Key: req.ManifestID, Family: domain.FamilyMemecoin, Attempted: 10, Succeeded: 1,
		Datasets: []domain.Dataset{{AssetAddress: "a"}}}
	if err := saveManifest(context.Background(), store, stale, time.Hour); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out.FromCache {
		t.Error("unhealthy manifest must not be served")
	}
	if len(out.Datasets) != 2 {
		t.Errorf("expected refetched datasets, got %d", len(out.Datasets))
	}

	m, err := LoadManifest(context.Background(), store, req.ManifestID, domain.FamilyMemecoin)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Succeeded != 2 || len(m.Datasets) != 2 {
		t.Errorf("expected manifest overwritten, got %+v", m)
	}
}

func TestAcquire_SyntheticTopUp(t *testing.T) {
	store := memory.NewKVStore()
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b", "c", "d")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200})

	o := newTestOrchestrator(store, testPolicy(), Sources{
		Primary: primary, Candles: candles, Synthetic: marketdata.NewSynthetic(),
	})
	req := memecoinRequest()
	req.StrictNoSynthetic = false
	req.MinDatasets = 3

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out.Synthetic != 2 || len(out.Datasets) != 3 {
		t.Fatalf("expected 1 real + 2 synthetic, got %d datasets (%d synthetic)", len(out.Datasets), out.Synthetic)
	}
	synthetic := 0
	for _, d := range out.Datasets {
		if d.Tier == domain.TierSynthetic {
			synthetic++
			if d.Source != "synthetic" {
				t.Errorf("synthetic dataset must carry its source, got %q", d.Source)
			}
		}
	}
	if synthetic != 2 {
		t.Errorf("expected 2 synthetic-tier datasets, got %d", synthetic)
	}
	if store.Len() != 0 {
		t.Error("topped-up outcomes must not be cached")
	}
}

func TestAcquire_PerCandidateTimeout(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("fast", "slow")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"fast": 200, "slow": 200})
	candles.slow = map[string]time.Duration{"slow": 5 * time.Second}

	policy := testPolicy()
	policy.BaseTimeout = 30 * time.Millisecond
	policy.RelaxedDepthFactor = 1

	o := newTestOrchestrator(nil, policy, Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.MinDatasets = 1

	started := time.Now()
	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if time.Since(started) > 2*time.Second {
		t.Error("stalled candidate blocked the batch")
	}
	if len(out.Datasets) != 1 || out.Datasets[0].AssetAddress != "fast" {
		t.Errorf("expected only the fast dataset, got %+v", out.Datasets)
	}
	if len(out.Failures) != 1 || !strings.Contains(out.Failures[0], "timed out") {
		t.Errorf("expected one timeout diagnostic, got %v", out.Failures)
	}
}

func TestAcquire_HeartbeatWhileBatchInFlight(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200})
	candles.slow = map[string]time.Duration{"a": 80 * time.Millisecond}
	obs := &fakeObserver{}

	policy := testPolicy()
	policy.HeartbeatInterval = 10 * time.Millisecond

	o := newTestOrchestrator(nil, policy, Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.MinDatasets = 1
	req.Observer = obs

	if _, err := o.Acquire(context.Background(), req); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	beats := obs.heartbeats.Load()
	if beats == 0 {
		t.Error("expected heartbeats while the batch was in flight")
	}

	time.Sleep(30 * time.Millisecond)
	if obs.heartbeats.Load() != beats {
		t.Error("heartbeat kept firing after the batch settled")
	}
}

func TestAcquire_DeclaredAssets(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("zzz")}
	resolver := &fakeResolver{pools: map[string]domain.Asset{
		"SOLmint": {PoolAddress: "sol-pool"},
		"JUPmint": {PoolAddress: "jup-pool"},
	}}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"SOLmint": 200, "JUPmint": 200})
	candles.requirePool = true

	o := New(Options{
		Families: map[domain.Family]Sources{
			domain.FamilyBluechip: {Primary: primary, Resolver: resolver, Candles: candles},
		},
		Policy: testPolicy(),
		Logger: zerolog.Nop(),
		Clock:  fixedClock,
	})

	out, err := o.Acquire(context.Background(), FamilyRequest{
		Family:            domain.FamilyBluechip,
		Assets:            []domain.Asset{{Symbol: "SOL", Address: "SOLmint"}, {Symbol: "JUP", Address: "JUPmint"}},
		StrictNoSynthetic: true,
		Constraints:       testConstraints,
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if primary.calls.Load() != 0 {
		t.Error("declared universes must not run discovery")
	}
	if out.DiscoveryTier != "catalog" || len(out.Datasets) != 2 {
		t.Errorf("unexpected outcome tier=%s datasets=%d", out.DiscoveryTier, len(out.Datasets))
	}
}

func TestAcquire_TokenSymbolFilter(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: []domain.Asset{
		{Symbol: "BONK", Address: "m1", PoolAddress: "p1"},
		{Symbol: "WIF", Address: "m2", PoolAddress: "p2"},
	}}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"m1": 200, "m2": 200})

	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.TokenSymbol = "wif"

	out, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if len(out.Datasets) != 1 || out.Datasets[0].TokenSymbol != "WIF" {
		t.Errorf("expected only WIF, got %+v", out.Datasets)
	}
}

func TestAcquire_InvalidRequests(t *testing.T) {
	candles := newFakeCandles("tier-a", domain.TierA, nil)
	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: &fakeDiscoverer{name: "p"}, Candles: candles})

	tests := []struct {
		name string
		req  FamilyRequest
		want error
	}{
		{"unknown family", FamilyRequest{Family: "forex"}, ErrInvalidRequest},
		{"unconfigured family", FamilyRequest{Family: domain.FamilyEquity}, ErrUnknownFamily},
		{"min above max", FamilyRequest{
			Family:      domain.FamilyMemecoin,
			Constraints: Constraints{MinCandles: 300, MaxCandles: 200},
		}, ErrInvalidRequest},
		{"bad scale", FamilyRequest{Family: domain.FamilyMemecoin, Scale: "huge"}, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Acquire(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAcquire_ScaleCapsDepth(t *testing.T) {
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 5000})

	o := newTestOrchestrator(nil, testPolicy(), Sources{Primary: primary, Candles: candles})

	for _, tc := range []struct {
		scale domain.DataScale
		want  int
	}{
		{domain.ScaleFast, 720},
		{domain.ScaleThorough, 2160},
	} {
		req := FamilyRequest{
			Family:            domain.FamilyMemecoin,
			UniverseSize:      1,
			LookbackHours:     2160,
			Scale:             tc.scale,
			StrictNoSynthetic: true,
		}
		out, err := o.Acquire(context.Background(), req)
		if err != nil {
			t.Fatalf("%s: Acquire: %v", tc.scale, err)
		}
		if got := len(out.Datasets[0].Candles); got != tc.want {
			t.Errorf("%s: expected %d candles, got %d", tc.scale, tc.want, got)
		}
	}
}

func TestAcquire_CacheServedAfterRecoveryPass(t *testing.T) {
	store := memory.NewKVStore()
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b", "c", "d", "e", "f")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 80, "c": 80})

	o := newTestOrchestrator(store, testPolicy(), Sources{Primary: primary, Candles: candles})
	req := memecoinRequest()
	req.UniverseSize = 6
	req.MinDatasets = 3

	first, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	if !first.Recovered || len(first.Datasets) != 3 {
		t.Fatalf("expected 3 datasets after recovery, got %d (recovered=%t)", len(first.Datasets), first.Recovered)
	}
	if first.Attempted != 6 || first.Succeeded != 3 || first.Failed != 3 {
		t.Errorf("expected 6/3/3, got %d/%d/%d", first.Attempted, first.Succeeded, first.Failed)
	}
	fetches := candles.total()

	second, err := o.Acquire(context.Background(), req)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if !second.FromCache {
		t.Error("manifest that passed the coverage gate must be served from cache")
	}
	if candles.total() != fetches || primary.calls.Load() != 1 {
		t.Errorf("cache hit must not refetch: fetches %d -> %d, discovery calls %d",
			fetches, candles.total(), primary.calls.Load())
	}
}

func TestAcquire_ManifestIDOutsideNamespace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	if err := store.Put(ctx, "run:victim", []byte(`{"runId":"victim"}`), time.Hour); err != nil {
		t.Fatalf("seed: %v", err)
	}
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200})
	o := newTestOrchestrator(store, testPolicy(), Sources{Primary: primary, Candles: candles})

	tests := []string{"run:victim", "artifact:victim:csv", "manifest:", "manifest:a b", "manifest:../x"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			req := memecoinRequest()
			req.UniverseSize = 2
			req.ManifestID = id
			if _, err := o.Acquire(ctx, req); !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	raw, err := store.Get(ctx, "run:victim")
	if err != nil || string(raw) != `{"runId":"victim"}` {
		t.Errorf("run snapshot must be untouched, got %q (err=%v)", raw, err)
	}
	if candles.total() != 0 {
		t.Errorf("rejected requests must not fetch, got %d calls", candles.total())
	}
}

func TestAcquire_ManifestOfOtherFamilyNotServed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	primary := &fakeDiscoverer{name: "primary-src", assets: assets("a", "b")}
	candles := newFakeCandles("tier-a", domain.TierA, map[string]int{"a": 200, "b": 200})
	o := newTestOrchestrator(store, testPolicy(), Sources{Primary: primary, Candles: candles})

	req := memecoinRequest()
	req.UniverseSize = 2
	req.ManifestID = "manifest:shared"
	foreign := &Manifest{Key: req.ManifestID, Family: domain.FamilyBluechip, Attempted: 2, Succeeded: 2,
		Datasets: []domain.Dataset{{AssetAddress: "x"}, {AssetAddress: "y"}}}
	if err := saveManifest(ctx, store, foreign, time.Hour); err != nil {
		t.Fatalf("seed manifest: %v", err)
	}

	if _, err := LoadManifest(ctx, store, req.ManifestID, domain.FamilyMemecoin); !errors.Is(err, ErrManifestMismatch) {
		t.Errorf("expected ErrManifestMismatch, got %v", err)
	}

	out, err := o.Acquire(ctx, req)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if out.FromCache {
		t.Error("manifest of another family must not be served")
	}
	if len(out.Datasets) != 2 || out.Datasets[0].AssetAddress != "a" {
		t.Errorf("expected refetched memecoin datasets, got %+v", out.Datasets)
	}
}

func TestValidateManifestID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"manifest:0123abcd", true},
		{"manifest:sol-trend_v2.1", true},
		{"manifest:", false},
		{"run:abc", false},
		{"abc", false},
		{"manifest:a:b", false},
		{"manifest:" + strings.Repeat("a", 97), false},
	}
	for _, tt := range tests {
		err := ValidateManifestID(tt.id)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateManifestID(%q) = %v, want valid=%t", tt.id, err, tt.valid)
		}
	}
}
