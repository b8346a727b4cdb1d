// Package market implements a typed, rate-limited client for the
// player-marketplace HTTP API.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"prime-flipper/internal/ratelimit"
)

const (
	maxAttempts    = 3
	initialBackoff = time.Second
	userAgent      = "prime-flipper/1.0 (github.com)"
)

// Options configures a Client.
type Options struct {
	V1URL   string
	V2URL   string
	Timeout time.Duration // per-request timeout
}

// Client is a rate-limited upstream market API client. Every request
// first acquires a slot from the shared limiter, so the process-wide
// request cap holds regardless of worker concurrency.
type Client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	v1URL   string
	v2URL   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient creates a market API client sharing the given limiter.
func NewClient(opts Options, limiter *ratelimit.Limiter, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{},
		limiter: limiter,
		v1URL:   opts.V1URL,
		v2URL:   opts.V2URL,
		timeout: timeout,
		logger:  logger,
	}
}

// ListItems fetches the full catalog index.
func (c *Client) ListItems(ctx context.Context) ([]Item, error) {
	var resp itemListResponse
	if err := c.getJSON(ctx, c.v2URL+"/items", &resp); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(resp.Data))
	for _, w := range resp.Data {
		if w.Slug == "" {
			continue
		}
		items = append(items, Item{ID: w.ID, Slug: w.Slug, Name: w.displayName()})
	}
	return items, nil
}

// ItemDetail fetches the full record for one item.
func (c *Client) ItemDetail(ctx context.Context, slug string) (*ItemDetail, error) {
	var resp itemDetailResponse
	if err := c.getJSON(ctx, c.v2URL+"/item/"+slug, &resp); err != nil {
		return nil, err
	}
	w := resp.Data
	qty := w.QuantityInSet
	if qty < 1 {
		qty = 1
	}
	return &ItemDetail{
		ID:            w.ID,
		Slug:          slug,
		Name:          w.displayName(),
		SetParts:      w.SetParts,
		QuantityInSet: qty,
	}, nil
}

// TopOrders fetches the best-priced orders on both sides for one item.
// Sell orders are returned ascending by price, buy orders descending.
func (c *Client) TopOrders(ctx context.Context, slug string) (*OrderBook, error) {
	var resp ordersResponse
	if err := c.getJSON(ctx, c.v2URL+"/orders/item/"+slug+"/top", &resp); err != nil {
		return nil, err
	}
	book := &OrderBook{
		Sell: convertOrders(resp.Data.Sell),
		Buy:  convertOrders(resp.Data.Buy),
	}
	sort.Slice(book.Sell, func(i, j int) bool { return book.Sell[i].Platinum < book.Sell[j].Platinum })
	sort.Slice(book.Buy, func(i, j int) bool { return book.Buy[i].Platinum > book.Buy[j].Platinum })
	return book, nil
}

// Statistics fetches the closed-trade statistics series for one item.
// Entries are returned oldest first.
func (c *Client) Statistics(ctx context.Context, slug string) (*Statistics, error) {
	var resp statisticsResponse
	if err := c.getJSON(ctx, c.v1URL+"/items/"+slug+"/statistics", &resp); err != nil {
		return nil, err
	}
	stats := &Statistics{
		Hours48: convertStatEntries(resp.Payload.StatisticsClosed.Hours48),
		Days90:  convertStatEntries(resp.Payload.StatisticsClosed.Days90),
	}
	return stats, nil
}

func (w wireItem) displayName() string {
	if w.I18n.En.Name != "" {
		return w.I18n.En.Name
	}
	return w.Slug
}

func convertOrders(wire []wireOrder) []Order {
	orders := make([]Order, 0, len(wire))
	for _, w := range wire {
		if w.Platinum <= 0 {
			continue
		}
		qty := int(w.Quantity)
		if qty < 1 {
			qty = 1
		}
		orders = append(orders, Order{
			Platinum: w.Platinum,
			Quantity: qty,
			Online:   w.User.Status == "ingame" || w.User.Status == "online",
		})
	}
	return orders
}

func convertStatEntries(wire []wireStatEntry) []StatEntry {
	entries := make([]StatEntry, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.Datetime)
		if err != nil {
			continue
		}
		entries = append(entries, StatEntry{
			Timestamp: ts,
			Volume:    w.Volume,
			Median:    w.Median,
			AvgPrice:  w.AvgPrice,
			MinPrice:  w.MinPrice,
			MaxPrice:  w.MaxPrice,
			MovingAvg: w.MovingAvg,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })
	return entries
}

// getJSON fetches url and decodes the body into dst. Transient failures
// (connection errors, timeouts, 429, 5xx) are retried with exponential
// backoff; other 4xx fail immediately. The rate limiter is acquired
// before every attempt, including retries.
func (c *Client) getJSON(ctx context.Context, url string, dst interface{}) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			RetriesTotal.Inc()
			if err := sleepWithJitter(ctx, initialBackoff<<(attempt-2)); err != nil {
				return err
			}
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}

		done, err := c.attempt(ctx, url, dst)
		if done {
			return err
		}
		lastErr = err
		c.logger.Warn("upstream-request-retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return lastErr
}

// attempt performs one request. The bool result reports whether the
// outcome is final (success or a non-retryable failure).
func (c *Client) attempt(ctx context.Context, url string, dst interface{}) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return true, fmt.Errorf("build request %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	RequestDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			RequestsTotal.WithLabelValues("timeout").Inc()
			return true, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			RequestsTotal.WithLabelValues("timeout").Inc()
			return false, fmt.Errorf("GET %s: %w", url, ErrTimeout)
		}
		RequestsTotal.WithLabelValues("upstream_error").Inc()
		return false, fmt.Errorf("GET %s: %w: %v", url, ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			RequestsTotal.WithLabelValues("parse_error").Inc()
			return true, fmt.Errorf("decode %s: %w: %v", url, ErrParse, err)
		}
		RequestsTotal.WithLabelValues("ok").Inc()
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		RequestsTotal.WithLabelValues("not_found").Inc()
		return true, fmt.Errorf("GET %s: %w", url, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		RequestsTotal.WithLabelValues("rate_limited").Inc()
		return false, fmt.Errorf("GET %s: %w", url, ErrRateLimited)
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		RequestsTotal.WithLabelValues("upstream_error").Inc()
		return false, fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, ErrUpstream)
	default:
		io.Copy(io.Discard, resp.Body)
		RequestsTotal.WithLabelValues("upstream_error").Inc()
		return true, fmt.Errorf("GET %s: status %d: %w", url, resp.StatusCode, ErrUpstream)
	}
}

func sleepWithJitter(ctx context.Context, d time.Duration) error {
	d += time.Duration(rand.Int63n(int64(d / 2)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
