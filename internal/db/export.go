package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"prime-flipper/internal/engine"
)

const (
	exportFileName = "market_data_export.json"
	exportPageSize = 500
)

// Export is the full structured dump of the store.
type Export struct {
	GeneratedAt string      `json:"generated_at"`
	TotalRuns   int         `json:"total_runs"`
	Runs        []ExportRun `json:"runs"`
}

// ExportRun pairs a run summary with its decoded payload.
type ExportRun struct {
	RunSummary
	Analysis *engine.AnalysisResult `json:"analysis,omitempty"`
}

// ExportAll dumps every run, paging through the history so the dump
// stays complete regardless of store size. withPayload controls whether
// the decoded analysis payloads are included or only the summaries.
func (s *Store) ExportAll(ctx context.Context, withPayload bool) (*Export, error) {
	ex := &Export{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Runs:        make([]ExportRun, 0, exportPageSize),
	}

	for page := 1; ; page++ {
		summaries, total, err := s.ListRuns(ctx, page, exportPageSize)
		if err != nil {
			return nil, err
		}
		ex.TotalRuns = int(total)

		for _, sum := range summaries {
			r := ExportRun{RunSummary: sum}
			if withPayload {
				analysis, err := s.GetFullAnalysis(ctx, sum.RunID)
				if err != nil {
					return nil, fmt.Errorf("export run %d: %w", sum.RunID, err)
				}
				r.Analysis = analysis
			}
			ex.Runs = append(ex.Runs, r)
		}

		if len(summaries) < exportPageSize || len(ex.Runs) >= int(total) {
			return ex, nil
		}
	}
}

// SaveExportFile writes the full dump into dir, overwriting any previous
// export, and returns the file path.
func (s *Store) SaveExportFile(ctx context.Context, dir string) (string, error) {
	ex, err := s.ExportAll(ctx, true)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode export: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, exportFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}

	s.logger.Info("export-written", zap.String("path", path), zap.Int("runs", ex.TotalRuns))
	return path, nil
}
