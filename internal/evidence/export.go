package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"solana-backtest-lab/internal/storage"
)

// FileName is the on-disk name of an exported artifact.
func (k Kind) FileName() string {
	switch k {
	case KindReport:
		return "report.txt"
	case KindCSV:
		return "trades.csv"
	default:
		return string(k)
	}
}

// Export writes every stored artifact of runID into dir/runID and returns the
// written paths. Missing artifacts are skipped; storage.ErrNotFound is
// returned only when the run has none.
func (s *Store) Export(ctx context.Context, runID, dir string) ([]string, error) {
	outDir := filepath.Join(dir, runID)
	var written []string
	for _, k := range Kinds {
		data, err := s.Get(ctx, runID, k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return written, fmt.Errorf("read %s: %w", k, err)
		}
		if len(written) == 0 {
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return nil, fmt.Errorf("create output dir: %w", err)
			}
		}
		path := filepath.Join(outDir, k.FileName())
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", path, err)
		}
		written = append(written, path)
	}
	if len(written) == 0 {
		return nil, fmt.Errorf("artifacts of %s: %w", runID, storage.ErrNotFound)
	}
	return written, nil
}
