package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"prime-flipper/internal/market"
	"prime-flipper/internal/ratelimit"
)

// fakeUpstream serves a minimal catalog: one set with two parts.
type fakeUpstream struct {
	*httptest.Server
	itemCalls   atomic.Int32
	detailCalls atomic.Int32

	// quantity reported for demo_part_b, mutable to simulate drift
	partBQty atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.partBQty.Store(2)

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/items", func(w http.ResponseWriter, r *http.Request) {
		f.itemCalls.Add(1)
		w.Write([]byte(`{"data":[
			{"id":"set1","slug":"demo_prime_set","i18n":{"en":{"name":"Demo Prime Set"}}},
			{"id":"x1","slug":"demo_prime_blueprint","i18n":{"en":{"name":"Demo Prime Blueprint"}}}
		]}`))
	})
	mux.HandleFunc("/v2/item/", func(w http.ResponseWriter, r *http.Request) {
		f.detailCalls.Add(1)
		switch filepath.Base(r.URL.Path) {
		case "demo_prime_set":
			w.Write([]byte(`{"data":{"id":"set1","slug":"demo_prime_set","i18n":{"en":{"name":"Demo Prime Set"}},"setParts":["set1","demo_part_a","demo_part_b"]}}`))
		case "demo_part_a":
			w.Write([]byte(`{"data":{"id":"p1","slug":"demo_part_a","i18n":{"en":{"name":"Demo Part A"}},"quantityInSet":1}}`))
		case "demo_part_b":
			fmt.Fprintf(w, `{"data":{"id":"p2","slug":"demo_part_b","i18n":{"en":{"name":"Demo Part B"}},"quantityInSet":%d}}`, f.partBQty.Load())
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func newTestCache(t *testing.T, f *fakeUpstream, dir string) *Cache {
	t.Helper()
	client := market.NewClient(market.Options{
		V1URL:   f.URL + "/v1",
		V2URL:   f.URL + "/v2",
		Timeout: 2 * time.Second,
	}, ratelimit.New(100, time.Second), zap.NewNop())
	return New(dir, client, 4, zap.NewNop())
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	f := newFakeUpstream(t)
	dir := t.TempDir()
	c := newTestCache(t, f, dir)

	res, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	require.Len(t, res.Sets, 1)

	set := res.Sets[0]
	assert.Equal(t, "demo_prime_set", set.Slug)
	assert.Equal(t, "Demo Prime Set", set.Name)
	require.Len(t, set.Parts, 2)
	assert.Equal(t, "demo_part_a", set.Parts[0].Slug)
	assert.Equal(t, 2, set.Parts[1].Quantity)

	// Snapshot persisted atomically.
	_, err = os.Stat(filepath.Join(dir, "catalog.json"))
	assert.NoError(t, err)
}

func TestRefreshReusesSnapshotOnHashMatch(t *testing.T) {
	f := newFakeUpstream(t)
	dir := t.TempDir()
	c := newTestCache(t, f, dir)

	_, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)
	before := f.detailCalls.Load()

	res, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)
	assert.True(t, res.Cached)
	// Only the canary fetches happened: one set detail plus its parts.
	assert.Equal(t, before+3, f.detailCalls.Load())
}

func TestCanaryMismatchForcesFullRefresh(t *testing.T) {
	f := newFakeUpstream(t)
	dir := t.TempDir()
	c := newTestCache(t, f, dir)
	c.pick = func(int) int { return 0 }

	_, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)

	// Upstream quantities drift without the index hash changing; the
	// canary comparison catches it and triggers a full refresh.
	f.partBQty.Store(3)
	res, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 3, res.Sets[0].Parts[1].Quantity)
}

func TestForceRefreshSkipsCache(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestCache(t, f, t.TempDir())

	_, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)

	res, err := c.Refresh(context.Background(), true, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestCorruptSnapshotTreatedAsAbsent(t *testing.T) {
	f := newFakeUpstream(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.json"), []byte("{broken"), 0o644))

	c := newTestCache(t, f, dir)
	assert.Nil(t, c.Sets())

	res, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Len(t, res.Sets, 1)
}

func TestSetBySlug(t *testing.T) {
	f := newFakeUpstream(t)
	c := newTestCache(t, f, t.TempDir())

	_, err := c.Refresh(context.Background(), false, nil)
	require.NoError(t, err)

	set, ok := c.SetBySlug("demo_prime_set")
	require.True(t, ok)
	assert.Equal(t, "Demo Prime Set", set.Name)

	_, ok = c.SetBySlug("missing_prime_set")
	assert.False(t, ok)
}
