package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"solana-backtest-lab/internal/deadline"
	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/idhash"
	"solana-backtest-lab/internal/marketdata"
	"solana-backtest-lab/internal/observability"
	"solana-backtest-lab/internal/storage"
)

// Orchestrator fills the dataset needs of strategy families.
type Orchestrator struct {
	store    storage.KVStore
	families map[domain.Family]Sources
	policy   Policy
	logger   zerolog.Logger
	clock    func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	Store    storage.KVStore // manifest cache
	Families map[domain.Family]Sources
	Policy   *Policy // nil uses DefaultPolicy
	Logger   zerolog.Logger
	Clock    func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	policy := DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	families := make(map[domain.Family]Sources, len(opts.Families))
	for f, s := range opts.Families {
		families[f] = s
	}
	return &Orchestrator{
		store:    opts.Store,
		families: families,
		policy:   policy,
		logger:   opts.Logger.With().Str("component", "acquisition").Logger(),
		clock:    clock,
	}
}

// plan is a validated request with every default applied.
type plan struct {
	req        FamilyRequest
	src        Sources
	key        string
	policyKey  string
	lookback   int
	target     int
	required   int
	minCandles int
	maxCandles int
	batchSize  int
	fallback   bool
	timeout    time.Duration
	now        time.Time
	end        time.Time
}

// fetchResult is the slot one candidate task owns.
type fetchResult struct {
	asset   domain.Asset
	dataset *domain.Dataset
	err     error
}

// Acquire returns a coverage-gated dataset set for req.Family.
//
// Flow: manifest cache → discovery ladder (each tier at most once) → batched
// fetch → one relaxed recovery pass → coverage gate → manifest persist.
// A family that stays below its minimum fails with *CoverageError unless the
// caller allowed synthetic top-up.
func (o *Orchestrator) Acquire(ctx context.Context, req FamilyRequest) (*Outcome, error) {
	p, err := o.plan(req)
	if err != nil {
		return nil, err
	}
	log := o.logger.With().Str("family", string(req.Family)).Str("manifest", p.key).Logger()

	if out, ok := o.fromCache(ctx, p, log); ok {
		return out, nil
	}

	universe, tier := o.discover(ctx, p, log)
	out := &Outcome{ManifestKey: p.key, DiscoveryTier: tier}
	log.Info().Int("universe", len(universe)).Str("tier", tier).Int("required", p.required).Msg("universe resolved")

	fetched := make(map[string]domain.Dataset)
	failed := o.fetchPass(ctx, p, universe, p.minCandles, p.fallback, fetched, out, log)

	if len(fetched) < p.required && len(failed) > 0 && ctx.Err() == nil {
		relaxedMin := max(1, int(float64(p.minCandles)*o.policy.RelaxedDepthFactor))
		log.Warn().
			Int("succeeded", len(fetched)).
			Int("retrying", len(failed)).
			Int("min_candles", relaxedMin).
			Msg("coverage below minimum, running relaxed recovery pass")
		out.Recovered = true
		failed = o.fetchPass(ctx, p, failed, relaxedMin, true, fetched, out, log)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire %s: %w", req.Family, err)
	}

	// Counters cover distinct candidates, not per-pass attempts.
	out.Attempted = len(universe)
	out.Succeeded = len(fetched)
	out.Failed = len(universe) - len(fetched)

	out.Checks = checkCoverage(len(fetched), p.required)
	if !allPass(out.Checks) {
		if req.StrictNoSynthetic || p.src.Synthetic == nil {
			return nil, o.coverageError(p, out, len(fetched))
		}
		out.Datasets = sortedDatasets(fetched)
		topUp := o.topUp(ctx, p, failed, p.required-len(fetched))
		out.Datasets = append(out.Datasets, topUp...)
		out.Synthetic = len(topUp)
		log.Warn().Int("fetched", len(fetched)).Int("synthetic", len(topUp)).Msg("coverage topped up with synthetic datasets")
		return out, nil
	}

	out.Datasets = sortedDatasets(fetched)
	o.persist(ctx, p, out, log)
	return out, nil
}

func (o *Orchestrator) plan(req FamilyRequest) (*plan, error) {
	if !req.Family.IsValid() {
		return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidRequest, req.Family)
	}
	src, ok := o.families[req.Family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, req.Family)
	}
	if src.Candles == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoCandleSource, req.Family)
	}
	if len(req.Assets) == 0 && src.Primary == nil && src.Secondary == nil && src.Tertiary == nil {
		return nil, fmt.Errorf("%w: %s has neither declared assets nor discoverers", ErrInvalidRequest, req.Family)
	}

	if req.Scale == "" {
		req.Scale = domain.ScaleFast
	}
	if req.Policy == "" {
		req.Policy = domain.PolicyPrimaryOnly
	}
	if !req.Scale.IsValid() || !req.Policy.IsValid() {
		return nil, fmt.Errorf("%w: scale %q policy %q", ErrInvalidRequest, req.Scale, req.Policy)
	}

	p := &plan{
		req:      req,
		src:      src,
		lookback: domain.ClampLookbackHours(req.LookbackHours),
		fallback: req.Constraints.AllowFallbackSource || req.Policy.AllowsFallback(),
		now:      o.clock(),
	}
	p.end = p.now.Truncate(marketdata.CandleInterval)

	p.maxCandles = req.Constraints.MaxCandles
	if p.maxCandles <= 0 {
		p.maxCandles = p.lookback
	}
	if req.Scale == domain.ScaleFast && o.policy.FastMaxCandles > 0 && p.maxCandles > o.policy.FastMaxCandles {
		p.maxCandles = o.policy.FastMaxCandles
	}
	p.minCandles = req.Constraints.MinCandles
	if p.minCandles <= 0 {
		p.minCandles = min(o.policy.DefaultMinCandles, p.maxCandles)
	}
	if p.minCandles > p.maxCandles {
		return nil, fmt.Errorf("%w: min candles %d exceeds max candles %d", ErrInvalidRequest, p.minCandles, p.maxCandles)
	}
	p.batchSize = req.Constraints.FetchBatchSize
	if p.batchSize <= 0 {
		p.batchSize = o.policy.DefaultBatchSize
	}
	p.timeout = o.policy.BaseTimeout + o.policy.PerCandleTimeout*time.Duration(p.maxCandles)

	switch {
	case req.TokenSymbol != "":
		p.target = 1
	case req.UniverseSize > 0:
		p.target = req.UniverseSize
	case len(req.Assets) > 0:
		p.target = len(req.Assets)
	default:
		p.target = o.policy.DefaultUniverse
	}
	p.required = req.MinDatasets
	if p.required <= 0 {
		p.required = max(1, int(math.Ceil(o.policy.MinCoverageRatio*float64(p.target))))
	}

	p.policyKey = fmt.Sprintf("%s|strict=%t", req.Policy, req.StrictNoSynthetic)
	if req.ManifestID != "" {
		if err := ValidateManifestID(req.ManifestID); err != nil {
			return nil, err
		}
	}
	p.key = req.ManifestID
	if p.key == "" {
		p.key = idhash.ManifestKey(cohortOf(req), p.lookback, string(req.Scale), p.policyKey)
	}
	return p, nil
}

// cohortOf derives a stable universe identity when the caller gives none.
func cohortOf(req FamilyRequest) string {
	if req.Cohort != "" {
		return req.Cohort
	}
	addrs := make([]string, 0, len(req.Assets))
	for _, a := range req.Assets {
		addrs = append(addrs, a.Address)
	}
	sort.Strings(addrs)
	return fmt.Sprintf("%s:%s:%s:%d:%s",
		req.Family, strings.Join(addrs, ","), strings.ToUpper(req.TokenSymbol), req.UniverseSize, req.MinPoolAge)
}

// fromCache serves a healthy cached manifest.
func (o *Orchestrator) fromCache(ctx context.Context, p *plan, log zerolog.Logger) (*Outcome, bool) {
	if o.store == nil {
		return nil, false
	}
	m, err := LoadManifest(ctx, o.store, p.key, p.req.Family)
	if errors.Is(err, ErrManifestNotFound) {
		observability.RecordManifestLookup("miss")
		return nil, false
	}
	if errors.Is(err, ErrManifestMismatch) {
		observability.RecordManifestLookup("mismatch")
		log.Warn().Err(err).Msg("cached manifest belongs to another request, fetching")
		return nil, false
	}
	if err != nil {
		observability.RecordManifestLookup("error")
		log.Warn().Err(err).Msg("manifest cache unreadable, fetching")
		return nil, false
	}

	checks := checkManifestHealth(m, p.required, o.policy.MinCacheHitRate)
	if !allPass(checks) {
		observability.RecordManifestLookup("unhealthy")
		log.Info().Int("datasets", len(m.Datasets)).Float64("hit_rate", m.HitRate()).Msg("cached manifest below health threshold, refetching")
		return nil, false
	}

	observability.RecordManifestLookup("hit")
	log.Info().Int("datasets", len(m.Datasets)).Msg("serving cached manifest")
	if obs := p.req.Observer; obs != nil {
		obs.BatchSettled(len(m.Datasets), len(m.Datasets), 0)
	}
	return &Outcome{
		ManifestKey:   p.key,
		Datasets:      m.Datasets,
		Attempted:     m.Attempted,
		Succeeded:     m.Succeeded,
		Failed:        m.Attempted - m.Succeeded,
		FromCache:     true,
		DiscoveryTier: m.DiscoveryTier,
		Checks:        checks,
	}, true
}

type discoveryTier struct {
	name string
	d    marketdata.Discoverer
	// mint-only tiers have no pool age until their pools are resolved
	filterAfterResolve bool
}

// discover walks the ladder and returns the first non-empty universe.
func (o *Orchestrator) discover(ctx context.Context, p *plan, log zerolog.Logger) ([]domain.Asset, string) {
	var tiers []discoveryTier
	if len(p.req.Assets) > 0 {
		tiers = []discoveryTier{{name: "catalog", d: marketdata.NewStatic("catalog", p.req.Assets)}}
	} else {
		for _, t := range []discoveryTier{
			{name: "primary", d: p.src.Primary},
			{name: "secondary", d: p.src.Secondary},
			{name: "tertiary", d: p.src.Tertiary, filterAfterResolve: true},
		} {
			if t.d != nil {
				tiers = append(tiers, t)
			}
		}
	}

	query := marketdata.DiscoveryQuery{
		Limit:      p.target,
		MinPoolAge: p.req.MinPoolAge,
		Now:        p.now,
	}
	if p.req.TokenSymbol != "" {
		query.Limit = 0
	}

	last := ""
	for _, t := range tiers {
		last = t.d.Name()
		observability.RecordDiscovery(t.name)

		assets, err := deadline.Run(ctx, "discover "+t.d.Name(), o.policy.DiscoveryTimeout,
			func(ctx context.Context) ([]domain.Asset, error) {
				return t.d.Discover(ctx, query)
			})
		if err != nil {
			log.Warn().Err(err).Str("tier", t.name).Str("source", t.d.Name()).Msg("discovery failed")
			continue
		}

		assets = filterSymbol(assets, p.req.TokenSymbol)
		assets = o.resolvePools(ctx, p, assets, log)
		if t.filterAfterResolve {
			assets = filterAge(assets, p.req.MinPoolAge, p.now)
		}
		if len(assets) > p.target {
			assets = assets[:p.target]
		}
		if len(assets) > 0 {
			return assets, t.d.Name()
		}
		log.Warn().Str("tier", t.name).Str("source", t.d.Name()).Msg("discovery returned no usable candidates")
	}
	return nil, last
}

// resolvePools fills missing pool addresses with bounded concurrency.
// Assets whose lookup fails keep an empty pool.
func (o *Orchestrator) resolvePools(ctx context.Context, p *plan, assets []domain.Asset, log zerolog.Logger) []domain.Asset {
	if p.src.Resolver == nil {
		return assets
	}
	out := append([]domain.Asset(nil), assets...)

	var g errgroup.Group
	g.SetLimit(max(1, o.policy.ResolveConcurrency))
	for i, a := range out {
		if a.PoolAddress != "" {
			continue
		}
		i, a := i, a
		g.Go(func() error {
			resolved, err := deadline.Run(ctx, "resolve "+a.Address, o.policy.BaseTimeout,
				func(ctx context.Context) (domain.Asset, error) {
					return p.src.Resolver.ResolvePool(ctx, a)
				})
			if err != nil {
				log.Debug().Err(err).Str("asset", a.Address).Msg("pool resolution failed")
				return nil
			}
			out[i] = resolved
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fetchPass fetches assets in batches, merges successes into fetched and
// returns the assets that failed.
func (o *Orchestrator) fetchPass(
	ctx context.Context,
	p *plan,
	assets []domain.Asset,
	minCandles int,
	allowFallback bool,
	fetched map[string]domain.Dataset,
	out *Outcome,
	log zerolog.Logger,
) []domain.Asset {
	var failed []domain.Asset

	for start := 0; start < len(assets); start += p.batchSize {
		if ctx.Err() != nil {
			break
		}
		batch := assets[start:min(start+p.batchSize, len(assets))]
		slots := make([]fetchResult, len(batch))

		stop := o.startHeartbeat(p.req.Observer)
		var g errgroup.Group
		for i, a := range batch {
			i, a := i, a
			g.Go(func() error {
				slots[i] = o.fetchOne(ctx, p, a, minCandles, allowFallback)
				return nil
			})
		}
		_ = g.Wait()
		stop()

		succeeded := 0
		for _, r := range slots {
			if r.err != nil {
				failed = append(failed, r.asset)
				out.Failures = append(out.Failures, fmt.Sprintf("%s (%s): %v", r.asset.Symbol, r.asset.Address, r.err))
				continue
			}
			fetched[r.asset.Address] = *r.dataset
			succeeded++
		}
		if obs := p.req.Observer; obs != nil {
			obs.BatchSettled(len(batch), succeeded, len(batch)-succeeded)
		}
		log.Debug().Int("batch", len(batch)).Int("succeeded", succeeded).Int("total_real", len(fetched)).Msg("batch settled")
	}
	return failed
}

// fetchOne tries the tier-A source, then the fallback when allowed.
func (o *Orchestrator) fetchOne(ctx context.Context, p *plan, asset domain.Asset, minCandles int, allowFallback bool) fetchResult {
	sources := []marketdata.CandleSource{p.src.Candles}
	if allowFallback && p.src.Fallback != nil {
		sources = append(sources, p.src.Fallback)
	}
	q := marketdata.CandleQuery{Limit: p.maxCandles, End: p.end}

	var lastErr error
	for _, src := range sources {
		started := time.Now()
		candles, err := deadline.Run(ctx, fmt.Sprintf("fetch %s from %s", asset.Address, src.Name()), p.timeout,
			func(ctx context.Context) ([]domain.Candle, error) {
				return src.FetchCandles(ctx, asset, q)
			})
		if err == nil && len(candles) < minCandles {
			err = fmt.Errorf("%w: %d < %d", ErrTooFewCandles, len(candles), minCandles)
		}
		if err == nil {
			err = domain.ValidateSeries(candles)
		}
		observability.RecordDatasetFetch(src.Name(), string(src.Tier()), fetchOutcome(err), time.Since(started).Seconds())

		if err != nil {
			lastErr = fmt.Errorf("%s: %w", src.Name(), err)
			continue
		}
		return fetchResult{
			asset: asset,
			dataset: &domain.Dataset{
				TokenSymbol:  asset.Symbol,
				AssetAddress: asset.Address,
				PoolAddress:  asset.PoolAddress,
				LiquidityUSD: asset.LiquidityUSD,
				Candles:      candles,
				Source:       src.Name(),
				Tier:         src.Tier(),
				FetchedAt:    p.now,
			},
		}
	}
	return fetchResult{asset: asset, err: lastErr}
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, deadline.ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTooFewCandles):
		return "short"
	default:
		return "error"
	}
}

// startHeartbeat emits obs.Heartbeat on the policy cadence until stop is called.
// stop waits for the ticker goroutine, so no heartbeat fires after it returns.
func (o *Orchestrator) startHeartbeat(obs Observer) (stop func()) {
	if obs == nil || o.policy.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(o.policy.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				obs.Heartbeat()
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

// topUp generates up to need synthetic datasets, reusing failed assets first.
func (o *Orchestrator) topUp(ctx context.Context, p *plan, failed []domain.Asset, need int) []domain.Dataset {
	pool := append([]domain.Asset(nil), failed...)
	sort.Slice(pool, func(i, j int) bool { return pool[i].Address < pool[j].Address })

	var out []domain.Dataset
	q := marketdata.CandleQuery{Limit: p.maxCandles, End: p.end}
	for i := 0; len(out) < need && i < need+len(pool); i++ {
		var a domain.Asset
		if i < len(pool) {
			a = pool[i]
		} else {
			a = domain.Asset{
				Symbol:  fmt.Sprintf("SYN%d", i),
				Address: fmt.Sprintf("synthetic-%s-%d", p.req.Family, i),
			}
		}
		candles, err := p.src.Synthetic.FetchCandles(ctx, a, q)
		if err != nil {
			break
		}
		out = append(out, domain.Dataset{
			TokenSymbol:  a.Symbol,
			AssetAddress: a.Address,
			PoolAddress:  a.PoolAddress,
			Candles:      candles,
			Source:       p.src.Synthetic.Name(),
			Tier:         domain.TierSynthetic,
			FetchedAt:    p.now,
		})
	}
	return out
}

func (o *Orchestrator) coverageError(p *plan, out *Outcome, fetched int) *CoverageError {
	observability.RecordCoverageGateFailed(string(p.req.Family))
	e := &CoverageError{
		Family: p.req.Family,
		Stats: CoverageStats{
			Family:        p.req.Family,
			Required:      p.required,
			Succeeded:     fetched,
			Attempted:     out.Attempted,
			Failed:        out.Failed,
			DiscoveryTier: out.DiscoveryTier,
			Recovered:     out.Recovered,
		},
		Checks: out.Checks,
	}
	if p.req.StrictNoSynthetic {
		e.DisallowedSources = []string{string(domain.TierSynthetic)}
	}
	o.logger.Warn().Str("family", string(p.req.Family)).Err(e).Msg("coverage gate failed")
	return e
}

// persist writes the manifest back. Failures are logged, not returned: the
// datasets are already in hand.
func (o *Orchestrator) persist(ctx context.Context, p *plan, out *Outcome, log zerolog.Logger) {
	if o.store == nil {
		return
	}
	m := &Manifest{
		Key:           p.key,
		Family:        p.req.Family,
		Cohort:        cohortOf(p.req),
		LookbackHours: p.lookback,
		Scale:         p.req.Scale,
		Policy:        p.policyKey,
		Attempted:     out.Attempted,
		Succeeded:     out.Succeeded,
		DiscoveryTier: out.DiscoveryTier,
		Datasets:      out.Datasets,
		CreatedAt:     p.now,
	}
	if err := saveManifest(ctx, o.store, m, o.policy.CacheTTL); err != nil {
		log.Warn().Err(err).Msg("manifest persist failed")
		return
	}
	log.Info().Int("datasets", len(out.Datasets)).Dur("ttl", o.policy.CacheTTL).Msg("manifest persisted")
}

func sortedDatasets(m map[string]domain.Dataset) []domain.Dataset {
	out := make([]domain.Dataset, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetAddress < out[j].AssetAddress })
	return out
}

func filterSymbol(assets []domain.Asset, symbol string) []domain.Asset {
	if symbol == "" {
		return assets
	}
	var out []domain.Asset
	for _, a := range assets {
		if strings.EqualFold(a.Symbol, symbol) || a.Address == symbol {
			out = append(out, a)
		}
	}
	return out
}

func filterAge(assets []domain.Asset, minAge time.Duration, now time.Time) []domain.Asset {
	if minAge <= 0 {
		return assets
	}
	var out []domain.Asset
	for _, a := range assets {
		if !a.CreatedAt.IsZero() && now.Sub(a.CreatedAt) >= minAge {
			out = append(out, a)
		}
	}
	return out
}
