package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"solana-backtest-lab/internal/domain"
	"solana-backtest-lab/internal/reporting"
	"solana-backtest-lab/internal/storage"
)

// Kind names one downloadable artifact of a run.
type Kind string

// Artifact kinds
const (
	KindManifest Kind = "manifest.json"
	KindEvidence Kind = "evidence.json"
	KindReport   Kind = "report"
	KindCSV      Kind = "csv"
)

// Kinds lists every artifact kind in persist order.
var Kinds = []Kind{KindManifest, KindEvidence, KindReport, KindCSV}

// ErrUnknownKind is returned for an artifact kind outside Kinds.
var ErrUnknownKind = errors.New("unknown artifact kind")

// ParseKind validates an artifact kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// ContentType is the MIME type served for the kind.
func (k Kind) ContentType() string {
	switch k {
	case KindManifest, KindEvidence:
		return "application/json"
	case KindCSV:
		return "text/csv; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Key is the KV key of one artifact.
func Key(runID string, kind Kind) string {
	return "artifact:" + runID + ":" + string(kind)
}

// RunManifest lists what a run consumed and produced, without the ledger.
type RunManifest struct {
	RunID       string                     `json:"runId"`
	ManifestIDs []string                   `json:"manifestIds"` // dataset manifest per family
	Hash        string                     `json:"hash"`
	GeneratedAt time.Time                  `json:"generatedAt"`
	Datasets    []domain.DatasetProvenance `json:"datasets"`
	Results     []domain.SummaryRow        `json:"results"`
}

// Store writes and reads run artifacts.
type Store struct {
	kv  storage.KVStore
	ttl time.Duration
}

// NewStore creates an artifact store. A zero ttl keeps artifacts forever.
func NewStore(kv storage.KVStore, ttl time.Duration) *Store {
	return &Store{kv: kv, ttl: ttl}
}

// Persist writes the four artifacts of b. Artifacts are written one by one, so
// a failure part way leaves the earlier ones readable.
func (s *Store) Persist(ctx context.Context, b *domain.EvidenceBundle, manifestIDs []string) error {
	manifest, err := json.Marshal(RunManifest{
		RunID:       b.RunID,
		ManifestIDs: manifestIDs,
		Hash:        b.Hash,
		GeneratedAt: b.GeneratedAt,
		Datasets:    b.Datasets,
		Results:     b.ResultsSummary,
	})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	bundle, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode evidence: %w", err)
	}

	payloads := map[Kind][]byte{
		KindManifest: manifest,
		KindEvidence: bundle,
		KindReport:   []byte(b.ReportText),
		KindCSV:      []byte(reporting.RenderCSV(b.Trades)),
	}
	for _, k := range Kinds {
		if err := s.kv.Put(ctx, Key(b.RunID, k), payloads[k], s.ttl); err != nil {
			return fmt.Errorf("persist %s: %w", k, err)
		}
	}
	return nil
}

// Get returns one artifact. Returns storage.ErrNotFound if it was never written.
func (s *Store) Get(ctx context.Context, runID string, kind Kind) ([]byte, error) {
	return s.kv.Get(ctx, Key(runID, kind))
}

// Exists reports whether one artifact is available.
func (s *Store) Exists(ctx context.Context, runID string, kind Kind) (bool, error) {
	return s.kv.Exists(ctx, Key(runID, kind))
}

// Availability reports every artifact kind of a run.
func (s *Store) Availability(ctx context.Context, runID string) (map[Kind]bool, error) {
	out := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		ok, err := s.Exists(ctx, runID, k)
		if err != nil {
			return nil, err
		}
		out[k] = ok
	}
	return out, nil
}

// LoadBundle decodes the stored evidence bundle of runID.
func (s *Store) LoadBundle(ctx context.Context, runID string) (*domain.EvidenceBundle, error) {
	raw, err := s.Get(ctx, runID, KindEvidence)
	if err != nil {
		return nil, err
	}
	var b domain.EvidenceBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("decode evidence: %w", err)
	}
	return &b, nil
}
