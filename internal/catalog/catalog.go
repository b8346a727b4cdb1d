// Package catalog maintains the set catalog: which composite sets exist
// and how each decomposes into parts. The catalog is snapshotted to disk
// and invalidated purely by a content hash over the upstream index.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"prime-flipper/internal/market"
)

const setSuffix = "_prime_set"

// Part is one constituent of a set.
type Part struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Set is a composite item and its ordered part decomposition.
// Immutable per catalog generation.
type Set struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Parts []Part `json:"parts"`
}

type snapshot struct {
	Hash      string    `json:"catalog_hash"`
	Sets      []Set     `json:"sets"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RefreshResult reports the outcome of a refresh.
type RefreshResult struct {
	Sets   []Set
	Cached bool // true when the snapshot was reused
}

// ProgressFunc receives refresh progress. total may differ between the
// detail and part phases; messages identify the current work item.
type ProgressFunc func(done, total int, message string)

// Cache owns the file-backed catalog snapshot.
type Cache struct {
	path    string
	client  *market.Client
	logger  *zap.Logger
	workers int
	group   singleflight.Group

	mu   sync.RWMutex
	snap *snapshot

	// pick is swappable for deterministic canary tests.
	pick func(n int) int
}

// New creates a catalog cache backed by CACHE_DIR/catalog.json.
// A corrupt or missing snapshot file is treated as absent.
func New(cacheDir string, client *market.Client, workers int, logger *zap.Logger) *Cache {
	if workers < 1 {
		workers = 1
	}
	c := &Cache{
		path:    filepath.Join(cacheDir, "catalog.json"),
		client:  client,
		logger:  logger,
		workers: workers,
		pick:    rand.Intn,
	}
	c.load()
	return c
}

// Sets returns the current snapshot's sets (nil when no snapshot exists).
func (c *Cache) Sets() []Set {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil
	}
	return c.snap.Sets
}

// SetBySlug looks up a set in the current snapshot.
func (c *Cache) SetBySlug(slug string) (Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return Set{}, false
	}
	for _, s := range c.snap.Sets {
		if s.Slug == slug {
			return s, true
		}
	}
	return Set{}, false
}

// Refresh fetches the catalog index and rebuilds the snapshot when its
// content hash changed (or force is set). Concurrent calls are coalesced;
// the winner's progress callback is the one invoked.
func (c *Cache) Refresh(ctx context.Context, force bool, progress ProgressFunc) (*RefreshResult, error) {
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		return c.refresh(ctx, force, progress)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RefreshResult), nil
}

func (c *Cache) refresh(ctx context.Context, force bool, progress ProgressFunc) (*RefreshResult, error) {
	if progress == nil {
		progress = func(int, int, string) {}
	}

	items, err := c.client.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog index: %w", err)
	}

	index := make([]market.Item, 0, 256)
	for _, it := range items {
		if strings.HasSuffix(it.Slug, setSuffix) {
			index = append(index, it)
		}
	}
	sort.Slice(index, func(i, j int) bool { return index[i].Slug < index[j].Slug })
	hash := contentHash(index)

	c.mu.RLock()
	snap := c.snap
	c.mu.RUnlock()

	if !force && snap != nil && snap.Hash == hash && len(snap.Sets) > 0 {
		if c.canaryValid(ctx, snap.Sets) {
			c.logger.Info("catalog-cache-hit", zap.Int("sets", len(snap.Sets)))
			return &RefreshResult{Sets: snap.Sets, Cached: true}, nil
		}
		c.logger.Warn("catalog-canary-mismatch", zap.String("action", "full refresh"))
	}

	sets, err := c.fetchAll(ctx, index, progress)
	if err != nil {
		return nil, err
	}

	next := &snapshot{Hash: hash, Sets: sets, UpdatedAt: time.Now().UTC()}
	if err := c.persist(next); err != nil {
		return nil, fmt.Errorf("persist catalog snapshot: %w", err)
	}
	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.logger.Info("catalog-refreshed", zap.Int("sets", len(sets)), zap.String("hash", hash[:12]))
	return &RefreshResult{Sets: sets, Cached: false}, nil
}

// fetchAll builds the full decomposition for every indexed set. Per-set
// fetch failures degrade to an empty part list rather than aborting.
func (c *Cache) fetchAll(ctx context.Context, index []market.Item, progress ProgressFunc) ([]Set, error) {
	details := make([]*market.ItemDetail, len(index))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, it := range index {
		i, it := i, it
		g.Go(func() error {
			d, err := c.client.ItemDetail(gctx, it.Slug)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warn("catalog-detail-failed", zap.String("slug", it.Slug), zap.Error(err))
			}
			mu.Lock()
			details[i] = d
			done++
			progress(done, len(index), "Fetching details for "+it.Slug)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Part quantities are fetched once per unique part across all sets.
	partSlugs := make([]string, 0, len(index)*4)
	seen := make(map[string]bool)
	for i, d := range details {
		if d == nil {
			continue
		}
		for _, code := range d.SetParts {
			if code == "" || code == details[i].ID {
				continue
			}
			if !seen[code] {
				seen[code] = true
				partSlugs = append(partSlugs, code)
			}
		}
	}

	parts := make(map[string]Part, len(partSlugs))
	var partsMu sync.Mutex
	done = 0

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for _, slug := range partSlugs {
		slug := slug
		g.Go(func() error {
			p := Part{Slug: slug, Name: titleize(slug), Quantity: 1}
			if d, err := c.client.ItemDetail(gctx, slug); err == nil {
				p.Name = d.Name
				p.Quantity = d.QuantityInSet
			} else if gctx.Err() != nil {
				return gctx.Err()
			}
			partsMu.Lock()
			parts[slug] = p
			done++
			progress(done, len(partSlugs), "Fetching part "+slug)
			partsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sets := make([]Set, 0, len(index))
	for i, it := range index {
		s := Set{Slug: it.Slug, Name: it.Name}
		if d := details[i]; d != nil {
			s.ID = d.ID
			s.Name = d.Name
			for _, code := range d.SetParts {
				if code == "" || code == d.ID {
					continue
				}
				if p, ok := parts[code]; ok {
					s.Parts = append(s.Parts, p)
				} else {
					s.Parts = append(s.Parts, Part{Slug: code, Name: titleize(code), Quantity: 1})
				}
			}
		}
		sets = append(sets, s)
	}
	return sets, nil
}

// canaryValid re-fetches one random cached set and compares its
// decomposition. An upstream fetch failure trusts the cache.
func (c *Cache) canaryValid(ctx context.Context, sets []Set) bool {
	if len(sets) == 0 {
		return false
	}
	cached := sets[c.pick(len(sets))]

	fresh, err := c.client.ItemDetail(ctx, cached.Slug)
	if err != nil {
		c.logger.Warn("catalog-canary-fetch-failed", zap.String("slug", cached.Slug), zap.Error(err))
		return true
	}
	if fresh.Name != cached.Name {
		return false
	}

	freshParts := make([]string, 0, len(fresh.SetParts))
	for _, code := range fresh.SetParts {
		if code != "" && code != fresh.ID {
			freshParts = append(freshParts, code)
		}
	}
	if len(freshParts) != len(cached.Parts) {
		return false
	}
	cachedQty := make(map[string]int, len(cached.Parts))
	for _, p := range cached.Parts {
		cachedQty[p.Slug] = p.Quantity
	}
	for _, code := range freshParts {
		want, ok := cachedQty[code]
		if !ok {
			return false
		}
		d, err := c.client.ItemDetail(ctx, code)
		if err != nil {
			continue // trust cache for unreachable parts
		}
		if d.QuantityInSet != want {
			return false
		}
	}
	return true
}

func (c *Cache) load() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil || snap.Hash == "" {
		c.logger.Warn("catalog-snapshot-corrupt", zap.String("path", c.path))
		return
	}
	c.snap = &snap
}

// persist writes the snapshot via temp file + rename so readers never
// observe a partial write.
func (c *Cache) persist(snap *snapshot) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), "catalog-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

// contentHash computes a SHA-256 digest over the normalized index.
func contentHash(index []market.Item) string {
	h := sha256.New()
	for _, it := range index {
		fmt.Fprintf(h, "%s|%s|%s\n", it.ID, it.Slug, it.Name)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func titleize(slug string) string {
	words := strings.Split(strings.ReplaceAll(slug, "_", " "), " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
