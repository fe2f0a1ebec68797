package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"solana-backtest-lab/internal/domain"
)

// DatasetFingerprint hashes a dataset's identity and candle content.
// Formula: SHA256(symbol|asset|pool|source|tier, then ts|o|h|l|c|v per candle)
// FetchedAt is excluded so refetching identical candles keeps the fingerprint.
func DatasetFingerprint(d domain.Dataset) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s\n", d.TokenSymbol, d.AssetAddress, d.PoolAddress, d.Source, d.Tier)
	for _, c := range d.Candles {
		io.WriteString(h, strconv.FormatInt(c.Timestamp.UnixMilli(), 10))
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			io.WriteString(h, "|")
			io.WriteString(h, strconv.FormatFloat(v, 'g', -1, 64))
		}
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BundleHash hashes a set of dataset fingerprints independent of their order.
// Formula: SHA256(sorted fingerprints joined by "|")
func BundleHash(fingerprints []string) string {
	sorted := append([]string(nil), fingerprints...)
	sort.Strings(sorted)
	hash := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(hash[:])
}

// ManifestKey is the cache key of a dataset manifest.
// Formula: "manifest:" + hex(SHA256(cohort|lookback_hours|scale|policy))[:32]
func ManifestKey(cohort string, lookbackHours int, scale, policy string) string {
	data := fmt.Sprintf("%s|%d|%s|%s", cohort, lookbackHours, scale, policy)
	hash := sha256.Sum256([]byte(data))
	return "manifest:" + hex.EncodeToString(hash[:])[:32]
}
