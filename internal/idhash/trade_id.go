package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(dataset_id|strategy_id|entry_time_ms|entry_index)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(
	datasetID string,
	strategyID string,
	entryTimeMs int64,
	entryIndex int,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d",
		datasetID,
		strategyID,
		entryTimeMs,
		entryIndex,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
