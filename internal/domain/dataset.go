package domain

import "time"

// SourceTier ranks upstream price-history providers.
type SourceTier string

// Source tiers
const (
	TierA         SourceTier = "tier-A"
	TierB         SourceTier = "tier-B"
	TierSynthetic SourceTier = "synthetic"
)

// Asset is one universe member before candles are fetched.
type Asset struct {
	Symbol       string    `json:"symbol"`
	Address      string    `json:"address"`               // mint address or ticker
	PoolAddress  string    `json:"poolAddress,omitempty"` // empty until resolved
	LiquidityUSD float64   `json:"liquidityUsd,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"` // pool creation time when known
}

// Dataset is one asset's candle series with its provenance.
type Dataset struct {
	TokenSymbol  string     `json:"tokenSymbol"`
	AssetAddress string     `json:"assetAddress"`
	PoolAddress  string     `json:"poolAddress"`
	LiquidityUSD float64    `json:"liquidityUsd"`
	Candles      []Candle   `json:"candles"`
	Source       string     `json:"source"` // provider name
	Tier         SourceTier `json:"tier"`
	FetchedAt    time.Time  `json:"fetchedAt"`
}

// DatasetProvenance is the audit record of a dataset without its candles.
type DatasetProvenance struct {
	Fingerprint  string     `json:"fingerprint"`
	TokenSymbol  string     `json:"tokenSymbol"`
	AssetAddress string     `json:"assetAddress"`
	PoolAddress  string     `json:"poolAddress"`
	Source       string     `json:"source"`
	Tier         SourceTier `json:"tier"`
	CandleCount  int        `json:"candleCount"`
	FirstCandle  time.Time  `json:"firstCandle"`
	LastCandle   time.Time  `json:"lastCandle"`
	FetchedAt    time.Time  `json:"fetchedAt"`
}
