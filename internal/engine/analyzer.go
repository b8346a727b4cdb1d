package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"prime-flipper/internal/catalog"
	"prime-flipper/internal/market"
)

// Orchestrator states.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// testModeSetLimit caps the catalog in test mode runs.
const testModeSetLimit = 10

// RunStore persists completed runs and replays the latest one. Implemented
// by the sqlite-backed store.
type RunStore interface {
	AppendRun(ctx context.Context, res *AnalysisResult) (int64, error)
	LatestAnalysis(ctx context.Context) (*AnalysisResult, error)
}

// ConflictError is returned when a trigger races an in-flight run. RunID
// is the most recently persisted run, zero when none exists yet.
type ConflictError struct {
	RunID int64
}

func (e *ConflictError) Error() string {
	return "analysis already running"
}

// Params select what a run analyzes and how it is scored.
type Params struct {
	Strategy     string
	Mode         ExecutionMode
	ForceRefresh bool
	TestMode     bool
}

// Options configure the analyzer.
type Options struct {
	Workers         int
	Timeout         time.Duration
	DefaultStrategy string
}

// StatusSnapshot is a point-in-time view of the orchestrator.
type StatusSnapshot struct {
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	Message   string     `json:"message"`
	RunID     *int64     `json:"run_id"`
	Error     *string    `json:"error"`
	StartedAt *time.Time `json:"started_at"`
}

// Analyzer sequences catalog refresh, per-set fan-out, scoring, and
// persistence. At most one run occupies the running state at a time.
type Analyzer struct {
	catalog *catalog.Cache
	client  *market.Client
	store   RunStore
	logger  *zap.Logger

	workers         int
	timeout         time.Duration
	defaultStrategy string

	bc *broadcaster

	mu        sync.Mutex
	running   bool
	progress  int
	message   string
	runID     int64 // latest persisted run
	lastErr   string
	startedAt time.Time
}

func NewAnalyzer(cat *catalog.Cache, client *market.Client, store RunStore, opts Options, logger *zap.Logger) *Analyzer {
	if opts.Workers < 1 {
		opts.Workers = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = "balanced"
	}
	return &Analyzer{
		catalog:         cat,
		client:          client,
		store:           store,
		logger:          logger,
		workers:         opts.Workers,
		timeout:         opts.Timeout,
		defaultStrategy: opts.DefaultStrategy,
		bc:              newBroadcaster(),
	}
}

// Subscribe attaches a progress stream subscriber.
func (a *Analyzer) Subscribe() (<-chan Update, func()) {
	return a.bc.Subscribe()
}

// Status reports the current orchestrator state.
func (a *Analyzer) Status() StatusSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := StatusSnapshot{Status: StatusIdle, Progress: a.progress, Message: a.message}
	if a.running {
		s.Status = StatusRunning
		t := a.startedAt
		s.StartedAt = &t
	}
	if a.runID > 0 {
		id := a.runID
		s.RunID = &id
	}
	if a.lastErr != "" {
		e := a.lastErr
		s.Error = &e
	}
	return s
}

// Run executes one analysis synchronously, bounded by the configured
// timeout. Returns ConflictError when a run is already in flight.
func (a *Analyzer) Run(ctx context.Context, p Params) (*AnalysisResult, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.execute(ctx, p)
	if err != nil {
		a.fail(err)
		return nil, err
	}
	a.complete(res.RunID)
	return res, nil
}

// Trigger starts a background run. Returns ConflictError when one is
// already in flight.
func (a *Analyzer) Trigger(p Params) error {
	if err := a.begin(); err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		res, err := a.execute(ctx, p)
		if err != nil {
			a.fail(err)
			return
		}
		a.complete(res.RunID)
	}()
	return nil
}

// Poll triggers runs at the given interval until ctx is cancelled. An
// in-flight run makes the tick a no-op.
func (a *Analyzer) Poll(ctx context.Context, interval time.Duration, p Params) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.Trigger(p); err != nil {
				a.logger.Debug("poll-tick-skipped", zap.Error(err))
			}
		}
	}
}

// RescoreLatest replays the latest persisted run under a new strategy and
// execution mode without touching upstream.
func (a *Analyzer) RescoreLatest(ctx context.Context, strategy string, mode ExecutionMode) (*AnalysisResult, error) {
	strat, err := a.resolveStrategy(strategy)
	if err != nil {
		return nil, err
	}

	res, err := a.store.LatestAnalysis(ctx)
	if err != nil {
		return nil, err
	}

	sets, profitable := Rescore(res.Sets, strat, mode)
	res.Sets = sets
	res.Strategy = strat.Type
	res.ExecutionMode = mode
	res.ProfitableSets = profitable
	res.Cached = true
	return res, nil
}

// Latest returns the latest persisted run, rescored when the requested
// strategy or mode differs from the stored one.
func (a *Analyzer) Latest(ctx context.Context, strategy string, mode ExecutionMode) (*AnalysisResult, error) {
	res, err := a.store.LatestAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	strat, err := a.resolveStrategy(strategy)
	if err != nil {
		return nil, err
	}
	if res.Strategy != strat.Type || res.ExecutionMode != mode {
		return a.RescoreLatest(ctx, strat.Type, mode)
	}
	res.Cached = true
	return res, nil
}

func (a *Analyzer) resolveStrategy(strategy string) (Strategy, error) {
	if strategy == "" {
		strategy = a.defaultStrategy
	}
	return StrategyByType(strategy)
}

// begin claims the running slot.
func (a *Analyzer) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return &ConflictError{RunID: a.runID}
	}
	a.running = true
	a.progress = 0
	a.message = "starting"
	a.lastErr = ""
	a.startedAt = time.Now().UTC()

	p, msg := 0, "starting"
	a.bc.Publish(Update{Status: StatusRunning, Progress: &p, Message: &msg})
	return nil
}

// setProgress publishes a monotonic progress update; a lower percentage
// than the current one is clamped up.
func (a *Analyzer) setProgress(pct int, msg string) {
	a.mu.Lock()
	if pct < a.progress {
		pct = a.progress
	}
	if pct > 100 {
		pct = 100
	}
	a.progress = pct
	a.message = msg
	a.mu.Unlock()

	a.bc.Publish(Update{Status: StatusRunning, Progress: &pct, Message: &msg})
}

func (a *Analyzer) complete(runID int64) {
	a.mu.Lock()
	elapsed := time.Since(a.startedAt)
	a.running = false
	a.progress = 100
	a.message = "complete"
	a.runID = runID
	a.mu.Unlock()

	runsTotal.WithLabelValues("completed").Inc()
	runDurationSeconds.Observe(elapsed.Seconds())
	a.logger.Info("analysis-completed", zap.Int64("run_id", runID), zap.Duration("elapsed", elapsed))

	p, msg := 100, "complete"
	a.bc.Publish(Update{Status: StatusCompleted, Progress: &p, Message: &msg, RunID: &runID})
	a.bc.Publish(Update{Status: StatusIdle, RunID: &runID})
}

func (a *Analyzer) fail(err error) {
	a.mu.Lock()
	a.running = false
	a.lastErr = err.Error()
	id := a.runID
	a.mu.Unlock()

	runsTotal.WithLabelValues("failed").Inc()
	a.logger.Error("analysis-failed", zap.Error(err))

	e := err.Error()
	u := Update{Status: StatusError, Error: &e}
	if id > 0 {
		u.RunID = &id
	}
	a.bc.Publish(u)
	a.bc.Publish(Update{Status: StatusIdle})
}

// execute runs the fetch, score, persist pipeline. Progress percentages:
// 0 start, 5 catalog refresh begins, 10-40 catalog fetch phases, 40-90
// per-set analysis, 92 scoring, 96 persisting, 100 on completion.
func (a *Analyzer) execute(ctx context.Context, p Params) (*AnalysisResult, error) {
	strat, err := a.resolveStrategy(p.Strategy)
	if err != nil {
		return nil, err
	}
	mode := p.Mode
	if mode == "" {
		mode = ModeInstant
	}

	a.setProgress(5, "Refreshing set catalog")
	refresh, err := a.catalog.Refresh(ctx, p.ForceRefresh, a.catalogProgress)
	if err != nil {
		return nil, fmt.Errorf("catalog refresh: %w", err)
	}

	sets := refresh.Sets
	if p.TestMode && len(sets) > testModeSetLimit {
		sets = sets[:testModeSetLimit]
	}
	a.setProgress(40, fmt.Sprintf("Catalog ready: %d sets", len(sets)))

	data := make([]SetDatum, len(sets))
	var progressMu sync.Mutex
	completed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, s := range sets {
		i, s := i, s
		g.Go(func() error {
			d, err := a.analyzeSet(gctx, s, mode)
			if err != nil {
				return err
			}
			data[i] = d
			setsAnalyzed.Inc()

			progressMu.Lock()
			completed++
			pct := 40 + completed*50/len(sets)
			progressMu.Unlock()
			a.setProgress(pct, "Analyzing "+s.Slug)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	a.setProgress(92, "Scoring results")
	profitable := ScoreAll(data, strat)

	res := &AnalysisResult{
		Timestamp:      time.Now().UTC(),
		Strategy:       strat.Type,
		ExecutionMode:  mode,
		Sets:           data,
		TotalSets:      len(data),
		ProfitableSets: profitable,
		Cached:         refresh.Cached,
	}

	a.setProgress(96, "Saving run")
	id, err := a.store.AppendRun(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}
	res.RunID = id
	return res, nil
}

// catalogProgress maps the two catalog fetch phases into the 10-40 band.
func (a *Analyzer) catalogProgress(done, total int, message string) {
	if total <= 0 {
		return
	}
	lo, hi := 10, 25
	if strings.HasPrefix(message, "Fetching part") {
		lo, hi = 25, 40
	}
	a.setProgress(lo+done*(hi-lo)/total, message)
}

// analyzeSet builds the SetDatum for one set. Fetch failures zero the
// affected metrics and are noted on the datum; they never abort the run
// unless the context itself is done.
func (a *Analyzer) analyzeSet(ctx context.Context, s catalog.Set, mode ExecutionMode) (SetDatum, error) {
	d := SetDatum{SetSlug: s.Slug, SetName: s.Name}
	var fetchErrs []string

	setBook, err := a.client.TopOrders(ctx, s.Slug)
	if err != nil {
		if ctx.Err() != nil {
			return d, ctx.Err()
		}
		fetchErrs = append(fetchErrs, fmt.Sprintf("orders %s: %v", s.Slug, err))
	}

	stats, err := a.client.Statistics(ctx, s.Slug)
	if err != nil {
		if ctx.Err() != nil {
			return d, ctx.Err()
		}
		fetchErrs = append(fetchErrs, fmt.Sprintf("statistics %s: %v", s.Slug, err))
	}

	partBooks := make(map[string]*market.OrderBook, len(s.Parts))
	for _, part := range s.Parts {
		book, err := a.client.TopOrders(ctx, part.Slug)
		if err != nil {
			if ctx.Err() != nil {
				return d, ctx.Err()
			}
			fetchErrs = append(fetchErrs, fmt.Sprintf("orders %s: %v", part.Slug, err))
			continue
		}
		partBooks[part.Slug] = book
	}

	liq := AnalyzeLiquidity(setBook, stats, time.Now().UTC())
	d.Volume = liq.Volume
	d.BidAskRatio = liq.BidAskRatio
	d.SellSideCompetition = liq.Competition
	d.LiquidityVelocity = liq.Velocity
	d.LiquidityMultiplier = liq.Multiplier

	trend := AnalyzeTrend(trendSeries(stats))
	d.TrendSlope = trend.Slope
	d.TrendDirection = trend.Direction
	d.Volatility = trend.Volatility

	computeProfit(&d, s, setBook, partBooks, mode)

	if len(fetchErrs) > 0 {
		d.FetchError = strings.Join(fetchErrs, "; ")
	}
	return d, nil
}

// trendSeries picks the 90-day closed statistics when long enough,
// falling back to the 48-hour series.
func trendSeries(stats *market.Statistics) []market.StatEntry {
	if stats == nil {
		return nil
	}
	if len(stats.Days90) >= 2 {
		return stats.Days90
	}
	return stats.Hours48
}
