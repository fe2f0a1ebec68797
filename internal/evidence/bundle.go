// Package evidence assembles the immutable audit record of a run and stores
// its artifacts in the injected KV store.
package evidence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/idhash"
)

// Provenance returns the audit record of d without its candles.
func Provenance(d domain.Dataset) domain.DatasetProvenance {
	p := domain.DatasetProvenance{
		Fingerprint:  idhash.DatasetFingerprint(d),
		TokenSymbol:  d.TokenSymbol,
		AssetAddress: d.AssetAddress,
		PoolAddress:  d.PoolAddress,
		Source:       d.Source,
		Tier:         d.Tier,
		CandleCount:  len(d.Candles),
		FetchedAt:    d.FetchedAt,
	}
	if n := len(d.Candles); n > 0 {
		p.FirstCandle = d.Candles[0].Timestamp
		p.LastCandle = d.Candles[n-1].Timestamp
	}
	return p
}

// Build assembles a bundle. Datasets are deduplicated by fingerprint and
// ordered by it; trades are ordered by entry time then trade id. Every slice
// is copied so later changes by the caller never reach the bundle.
func Build(runID string, now time.Time, datasets []domain.Dataset, trades []domain.Trade, summary []domain.SummaryRow, reportText string) *domain.EvidenceBundle {
	seen := make(map[string]struct{}, len(datasets))
	prov := make([]domain.DatasetProvenance, 0, len(datasets))
	fingerprints := make([]string, 0, len(datasets))
	for _, d := range datasets {
		p := Provenance(d)
		if _, dup := seen[p.Fingerprint]; dup {
			continue
		}
		seen[p.Fingerprint] = struct{}{}
		prov = append(prov, p)
		fingerprints = append(fingerprints, p.Fingerprint)
	}
	sort.Slice(prov, func(i, j int) bool { return prov[i].Fingerprint < prov[j].Fingerprint })

	ledger := append([]domain.Trade{}, trades...)
	sort.SliceStable(ledger, func(i, j int) bool {
		if !ledger[i].EntryTime.Equal(ledger[j].EntryTime) {
			return ledger[i].EntryTime.Before(ledger[j].EntryTime)
		}
		return ledger[i].TradeID < ledger[j].TradeID
	})

	return &domain.EvidenceBundle{
		RunID:          runID,
		GeneratedAt:    now.UTC(),
		Hash:           idhash.BundleHash(fingerprints),
		Datasets:       prov,
		Trades:         ledger,
		ResultsSummary: append([]domain.SummaryRow{}, summary...),
		ReportText:     reportText,
	}
}

// Ref is the short reference returned to callers.
func Ref(b *domain.EvidenceBundle) *domain.EvidenceRef {
	if b == nil {
		return nil
	}
	return &domain.EvidenceRef{
		RunID:        b.RunID,
		DatasetCount: len(b.Datasets),
		TradeCount:   len(b.Trades),
		Hash:         b.Hash,
	}
}

// ErrHashMismatch is returned when a bundle hash does not match its datasets.
var ErrHashMismatch = errors.New("evidence hash mismatch")

// Verify recomputes the bundle hash from its dataset fingerprints.
func Verify(b *domain.EvidenceBundle) error {
	fingerprints := make([]string, len(b.Datasets))
	for i, d := range b.Datasets {
		fingerprints[i] = d.Fingerprint
	}
	if got := idhash.BundleHash(fingerprints); got != b.Hash {
		return fmt.Errorf("%w: stored %s, computed %s", ErrHashMismatch, b.Hash, got)
	}
	return nil
}
