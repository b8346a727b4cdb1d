package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prime-flipper/internal/catalog"
	"prime-flipper/internal/market"
	"prime-flipper/internal/ratelimit"
)

// memStore is an in-memory RunStore for orchestrator tests.
type memStore struct {
	mu   sync.Mutex
	runs []*AnalysisResult
}

var errNoRuns = errors.New("no runs recorded")

func (m *memStore) AppendRun(_ context.Context, res *AnalysisResult) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.runs = append(m.runs, &cp)
	return int64(len(m.runs)), nil
}

func (m *memStore) LatestAnalysis(_ context.Context) (*AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return nil, errNoRuns
	}
	cp := *m.runs[len(m.runs)-1]
	cp.RunID = int64(len(m.runs))
	return &cp, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// marketStub serves one analyzable set: demo_prime_set assembled from
// demo_part_a (x1) and demo_part_b (x2).
type marketStub struct {
	*httptest.Server
	calls atomic.Int32
	delay atomic.Int64 // per-request delay in ms
}

func newMarketStub(t *testing.T) *marketStub {
	t.Helper()
	s := &marketStub{}

	orders := func(sellPlat, buyPlat float64) string {
		return fmt.Sprintf(`{"data":{
			"sell":[{"platinum":%g,"quantity":1,"user":{"status":"ingame"}}],
			"buy":[{"platinum":%g,"quantity":1,"user":{"status":"ingame"}}]}}`, sellPlat, buyPlat)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"id":"set1","slug":"demo_prime_set","i18n":{"en":{"name":"Demo Prime Set"}}}]}`))
	})
	mux.HandleFunc("/v2/item/", func(w http.ResponseWriter, r *http.Request) {
		switch path.Base(r.URL.Path) {
		case "demo_prime_set":
			w.Write([]byte(`{"data":{"id":"set1","slug":"demo_prime_set","i18n":{"en":{"name":"Demo Prime Set"}},"setParts":["set1","demo_part_a","demo_part_b"]}}`))
		case "demo_part_a":
			w.Write([]byte(`{"data":{"id":"p1","slug":"demo_part_a","i18n":{"en":{"name":"Demo Part A"}},"quantityInSet":1}}`))
		case "demo_part_b":
			w.Write([]byte(`{"data":{"id":"p2","slug":"demo_part_b","i18n":{"en":{"name":"Demo Part B"}},"quantityInSet":2}}`))
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	})
	mux.HandleFunc("/v2/orders/item/", func(w http.ResponseWriter, r *http.Request) {
		slug := path.Base(path.Dir(r.URL.Path))
		switch slug {
		case "demo_prime_set":
			w.Write([]byte(orders(150, 150)))
		case "demo_part_a":
			w.Write([]byte(orders(30, 30)))
		case "demo_part_b":
			w.Write([]byte(orders(20, 20)))
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	})
	mux.HandleFunc("/v1/items/", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		fmt.Fprintf(w, `{"payload":{"statistics_closed":{"48hours":[
			{"datetime":%q,"volume":50,"median":100},
			{"datetime":%q,"volume":50,"median":100}
		],"90days":[]}}}`,
			now.Add(-30*time.Hour).Format(time.RFC3339),
			now.Add(-2*time.Hour).Format(time.RFC3339))
	})

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if d := s.delay.Load(); d > 0 {
			time.Sleep(time.Duration(d) * time.Millisecond)
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Server.Close)
	return s
}

func newTestAnalyzer(t *testing.T, stub *marketStub, store RunStore, opts Options) *Analyzer {
	t.Helper()
	client := market.NewClient(market.Options{
		V1URL:   stub.URL + "/v1",
		V2URL:   stub.URL + "/v2",
		Timeout: 2 * time.Second,
	}, ratelimit.New(1000, time.Second), zap.NewNop())
	cat := catalog.New(t.TempDir(), client, 4, zap.NewNop())
	return NewAnalyzer(cat, client, store, opts, zap.NewNop())
}

func TestAnalyzerRunEndToEnd(t *testing.T) {
	stub := newMarketStub(t)
	store := &memStore{}
	a := newTestAnalyzer(t, stub, store, Options{Workers: 4, Timeout: 30 * time.Second})

	res, err := a.Run(context.Background(), Params{Strategy: "balanced", Mode: ModeInstant})
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.RunID)
	assert.Equal(t, "balanced", res.Strategy)
	assert.Equal(t, 1, res.TotalSets)
	assert.Equal(t, 1, res.ProfitableSets)
	require.Len(t, res.Sets, 1)

	d := res.Sets[0]
	assert.Equal(t, "demo_prime_set", d.SetSlug)
	assert.Equal(t, 150.0, d.SetPrice)
	assert.Equal(t, 70.0, d.PartCost)
	assert.Equal(t, 80.0, d.ProfitMargin)
	assert.InDelta(t, 114.3, d.ProfitPercentage, 0.05)
	assert.Greater(t, d.CompositeScore, 0.0)
	assert.Equal(t, "stable", d.TrendDirection)
	assert.Equal(t, "Low", d.RiskLevel)
	assert.Equal(t, 100, d.Volume)
	assert.Empty(t, d.FetchError)

	assert.Equal(t, 1, store.count())

	st := a.Status()
	assert.Equal(t, StatusIdle, st.Status)
	require.NotNil(t, st.RunID)
	assert.Equal(t, int64(1), *st.RunID)
}

func TestAnalyzerSingleFlight(t *testing.T) {
	stub := newMarketStub(t)
	stub.delay.Store(50)
	store := &memStore{}
	a := newTestAnalyzer(t, stub, store, Options{Workers: 2, Timeout: 30 * time.Second})

	require.NoError(t, a.Trigger(Params{Strategy: "balanced"}))

	_, err := a.Run(context.Background(), Params{Strategy: "balanced"})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// The in-flight run proceeds to completion unaffected.
	require.Eventually(t, func() bool { return store.count() == 1 }, 10*time.Second, 20*time.Millisecond)
}

func TestAnalyzerTimeoutPersistsNothing(t *testing.T) {
	stub := newMarketStub(t)
	stub.delay.Store(500)
	store := &memStore{}
	a := newTestAnalyzer(t, stub, store, Options{Workers: 2, Timeout: 100 * time.Millisecond})

	updates, cancel := a.Subscribe()
	defer cancel()

	_, err := a.Run(context.Background(), Params{Strategy: "balanced"})
	require.Error(t, err)
	assert.Equal(t, 0, store.count(), "cancelled runs leave no row behind")

	terminal := collectTerminal(t, updates)
	assert.Equal(t, StatusError, terminal.Status)
	require.NotNil(t, terminal.Error)
}

func TestAnalyzerProgressMonotonic(t *testing.T) {
	stub := newMarketStub(t)
	store := &memStore{}
	a := newTestAnalyzer(t, stub, store, Options{Workers: 4, Timeout: 30 * time.Second})

	updates, cancel := a.Subscribe()
	defer cancel()

	_, err := a.Run(context.Background(), Params{Strategy: "balanced"})
	require.NoError(t, err)

	last := -1
	for u := range updates {
		if u.Progress != nil {
			assert.GreaterOrEqual(t, *u.Progress, last)
			last = *u.Progress
		}
		if u.Terminal() {
			assert.Equal(t, StatusCompleted, u.Status)
			require.NotNil(t, u.RunID)
			assert.Equal(t, 100, *u.Progress)
			return
		}
	}
	t.Fatal("stream ended without a terminal update")
}

func TestRescoreLatestIssuesNoUpstreamCalls(t *testing.T) {
	stub := newMarketStub(t)
	store := &memStore{}
	a := newTestAnalyzer(t, stub, store, Options{Workers: 4, Timeout: 30 * time.Second})

	_, err := a.Run(context.Background(), Params{Strategy: "balanced", Mode: ModeInstant})
	require.NoError(t, err)

	before := stub.calls.Load()
	res, err := a.RescoreLatest(context.Background(), "aggressive", ModePatient)
	require.NoError(t, err)

	assert.Equal(t, before, stub.calls.Load(), "rescore must not touch upstream")
	assert.Equal(t, "aggressive", res.Strategy)
	assert.Equal(t, ModePatient, res.ExecutionMode)
	assert.True(t, res.Cached)
	require.Len(t, res.Sets, 1)
	assert.Equal(t, 76.0, res.Sets[0].ProfitMargin, "149 - (31 + 2*21)")
}

func TestRescoreLatestWithoutRuns(t *testing.T) {
	stub := newMarketStub(t)
	a := newTestAnalyzer(t, stub, &memStore{}, Options{})

	_, err := a.RescoreLatest(context.Background(), "balanced", ModeInstant)
	assert.ErrorIs(t, err, errNoRuns)
}

func TestAnalyzerUnknownStrategy(t *testing.T) {
	stub := newMarketStub(t)
	a := newTestAnalyzer(t, stub, &memStore{}, Options{})

	_, err := a.Run(context.Background(), Params{Strategy: "yolo"})
	require.ErrorIs(t, err, ErrUnknownStrategy)

	// The running slot is released after the failure.
	assert.Equal(t, StatusIdle, a.Status().Status)
}

func collectTerminal(t *testing.T, updates <-chan Update) Update {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				t.Fatal("stream closed without a terminal update")
			}
			if u.Terminal() {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for terminal update")
		}
	}
}
