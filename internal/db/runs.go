package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"prime-flipper/internal/engine"
)

// RunSummary is the compact history row for one run.
type RunSummary struct {
	RunID          int64   `json:"run_id"`
	Timestamp      string  `json:"timestamp"`
	DateString     string  `json:"date_string"`
	Strategy       string  `json:"strategy"`
	ExecutionMode  string  `json:"execution_mode"`
	TotalSets      int     `json:"total_sets"`
	ProfitableSets int     `json:"profitable_sets"`
	AvgProfit      float64 `json:"avg_profit"`
	MaxProfit      float64 `json:"max_profit"`
}

// SetProfit is one projected set row of a run.
type SetProfit struct {
	SetSlug      string  `json:"set_slug"`
	SetName      string  `json:"set_name"`
	ProfitMargin float64 `json:"profit_margin"`
	LowestPrice  float64 `json:"lowest_price"`
}

// RunDetail is a summary plus its per-set projection.
type RunDetail struct {
	RunSummary
	Sets []SetProfit `json:"sets"`
}

// HistoryPoint is one (run, set) observation for the per-set history view.
type HistoryPoint struct {
	RunID        int64   `json:"run_id"`
	Timestamp    string  `json:"timestamp"`
	ProfitMargin float64 `json:"profit_margin"`
	LowestPrice  float64 `json:"lowest_price"`
}

// SetInfo summarizes one distinct set across all runs.
type SetInfo struct {
	SetSlug     string `json:"set_slug"`
	SetName     string `json:"set_name"`
	Appearances int    `json:"appearances"`
	LastSeen    string `json:"last_seen"`
}

// Stats reports store-level counters.
type Stats struct {
	Runs      int64   `json:"total_runs"`
	SetRows   int64   `json:"total_set_rows"`
	SizeBytes int64   `json:"db_size_bytes"`
	FirstRun  string  `json:"first_run,omitempty"`
	LastRun   string  `json:"last_run,omitempty"`
	SpanDays  float64 `json:"time_span_days"`
}

// AppendRun stores the run atomically: the summary row, the payload blob,
// and the per-set projection all land in one transaction. Returns the
// newly assigned run id.
func (s *Store) AppendRun(ctx context.Context, res *engine.AnalysisResult) (int64, error) {
	payload, err := json.Marshal(res)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ts := res.Timestamp.UTC()
	r, err := tx.ExecContext(ctx, `
		INSERT INTO market_runs (timestamp, date_string, strategy, execution_mode, total_sets, profitable_sets, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts.Format(time.RFC3339), ts.Format("2006-01-02"),
		res.Strategy, string(res.ExecutionMode),
		res.TotalSets, res.ProfitableSets, payload,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO set_profits (run_id, set_slug, set_name, profit_margin, lowest_price)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare set rows: %w", err)
	}
	defer stmt.Close()

	for _, d := range res.Sets {
		if _, err := stmt.ExecContext(ctx, id, d.SetSlug, d.SetName, d.ProfitMargin, d.SetPrice); err != nil {
			return 0, fmt.Errorf("insert set %s: %w", d.SetSlug, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run: %w", err)
	}
	s.logger.Info("run-appended", zap.Int64("run_id", id), zap.Int("sets", res.TotalSets))
	return id, nil
}

const summaryColumns = `
	r.run_id, r.timestamp, r.date_string, r.strategy, r.execution_mode,
	r.total_sets, r.profitable_sets,
	COALESCE(AVG(p.profit_margin), 0), COALESCE(MAX(p.profit_margin), 0)`

// ListRuns returns summaries newest first. page is 1-based; the second
// return value is the total run count for pagination.
func (s *Store) ListRuns(ctx context.Context, page, pageSize int) ([]RunSummary, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	var total int64
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM market_runs").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := s.sql.QueryContext(ctx, `
		SELECT `+summaryColumns+`
		FROM market_runs r
		LEFT JOIN set_profits p ON p.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.run_id DESC
		LIMIT ? OFFSET ?`, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := make([]RunSummary, 0, pageSize)
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Timestamp, &r.DateString, &r.Strategy, &r.ExecutionMode,
			&r.TotalSets, &r.ProfitableSets, &r.AvgProfit, &r.MaxProfit); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// GetRun returns one run's summary with its per-set projection.
func (s *Store) GetRun(ctx context.Context, runID int64) (*RunDetail, error) {
	var d RunDetail
	err := s.sql.QueryRowContext(ctx, `
		SELECT `+summaryColumns+`
		FROM market_runs r
		LEFT JOIN set_profits p ON p.run_id = r.run_id
		WHERE r.run_id = ?
		GROUP BY r.run_id`, runID).
		Scan(&d.RunID, &d.Timestamp, &d.DateString, &d.Strategy, &d.ExecutionMode,
			&d.TotalSets, &d.ProfitableSets, &d.AvgProfit, &d.MaxProfit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", runID, err)
	}

	rows, err := s.sql.QueryContext(ctx, `
		SELECT set_slug, set_name, profit_margin, lowest_price
		FROM set_profits WHERE run_id = ?
		ORDER BY profit_margin DESC, set_slug ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("get run sets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p SetProfit
		if err := rows.Scan(&p.SetSlug, &p.SetName, &p.ProfitMargin, &p.LowestPrice); err != nil {
			return nil, fmt.Errorf("scan set row: %w", err)
		}
		d.Sets = append(d.Sets, p)
	}
	return &d, rows.Err()
}

// GetFullAnalysis decodes a run's stored payload for faithful replay.
func (s *Store) GetFullAnalysis(ctx context.Context, runID int64) (*engine.AnalysisResult, error) {
	var payload []byte
	err := s.sql.QueryRowContext(ctx,
		"SELECT payload FROM market_runs WHERE run_id = ?", runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payload %d: %w", runID, err)
	}

	var res engine.AnalysisResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode payload %d: %w", runID, err)
	}
	res.RunID = runID
	return &res, nil
}

// LatestAnalysis replays the most recent run.
func (s *Store) LatestAnalysis(ctx context.Context) (*engine.AnalysisResult, error) {
	var id int64
	err := s.sql.QueryRowContext(ctx,
		"SELECT run_id FROM market_runs ORDER BY run_id DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return s.GetFullAnalysis(ctx, id)
}

// SetHistory lists one set's observations across runs, newest first.
func (s *Store) SetHistory(ctx context.Context, slug string) ([]HistoryPoint, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT p.run_id, r.timestamp, p.profit_margin, p.lowest_price
		FROM set_profits p
		JOIN market_runs r ON r.run_id = p.run_id
		WHERE p.set_slug = ?
		ORDER BY p.run_id DESC`, slug)
	if err != nil {
		return nil, fmt.Errorf("set history %s: %w", slug, err)
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var h HistoryPoint
		if err := rows.Scan(&h.RunID, &h.Timestamp, &h.ProfitMargin, &h.LowestPrice); err != nil {
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, ErrRunNotFound
	}
	return out, rows.Err()
}

// AllSets lists the distinct sets observed across all runs.
func (s *Store) AllSets(ctx context.Context) ([]SetInfo, error) {
	rows, err := s.sql.QueryContext(ctx, `
		SELECT p.set_slug, MAX(p.set_name), COUNT(*), MAX(r.timestamp)
		FROM set_profits p
		JOIN market_runs r ON r.run_id = p.run_id
		GROUP BY p.set_slug
		ORDER BY p.set_slug ASC`)
	if err != nil {
		return nil, fmt.Errorf("all sets: %w", err)
	}
	defer rows.Close()

	var out []SetInfo
	for rows.Next() {
		var i SetInfo
		if err := rows.Scan(&i.SetSlug, &i.SetName, &i.Appearances, &i.LastSeen); err != nil {
			return nil, fmt.Errorf("scan set info: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// DBStats reports run/row counts, file size, and the covered time span.
func (s *Store) DBStats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM market_runs").Scan(&st.Runs); err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	if err := s.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM set_profits").Scan(&st.SetRows); err != nil {
		return nil, fmt.Errorf("count set rows: %w", err)
	}
	s.sql.QueryRowContext(ctx,
		"SELECT COALESCE(MIN(timestamp), ''), COALESCE(MAX(timestamp), '') FROM market_runs").
		Scan(&st.FirstRun, &st.LastRun)

	if st.FirstRun != "" && st.LastRun != "" {
		first, err1 := time.Parse(time.RFC3339, st.FirstRun)
		last, err2 := time.Parse(time.RFC3339, st.LastRun)
		if err1 == nil && err2 == nil {
			st.SpanDays = last.Sub(first).Hours() / 24
		}
	}

	var pageCount, pageSize int64
	s.sql.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	s.sql.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
	st.SizeBytes = pageCount * pageSize
	return &st, nil
}
