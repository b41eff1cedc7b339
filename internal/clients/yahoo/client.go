// Package yahoo provides a client for the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	defaultBaseURL  = "https://query1.finance.yahoo.com/v8/finance/chart"
	defaultCacheTTL = 5 * time.Minute
)

// ErrNoData means the API answered without a usable price series
var ErrNoData = errors.New("no chart data")

// PricePoint is one daily close
type PricePoint struct {
	Time  time.Time
	Close float64
}

// Chart is a daily close series for one symbol
type Chart struct {
	Symbol   string
	Currency string
	Points   []PricePoint
}

// chartResponse mirrors the subset of the chart API payload we read
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol   string `json:"symbol"`
				Currency string `json:"currency"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type cacheEntry struct {
	chart     *Chart
	expiresAt time.Time
}

// Client fetches daily price history. Concurrent requests for the same
// symbol and range share one upstream call; results are cached for a TTL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	now        func() time.Time
	log        zerolog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewClient creates a new Yahoo chart client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		ttl:   defaultCacheTTL,
		now:   time.Now,
		cache: make(map[string]cacheEntry),
		log:   log.With().Str("client", "yahoo").Logger(),
	}
}

// SetBaseURL points the client at another chart endpoint
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// GetDailyChart returns daily closes for symbol from start until now
func (c *Client) GetDailyChart(ctx context.Context, symbol string, start time.Time) (*Chart, error) {
	key := symbol + "|" + start.UTC().Format("2006-01-02")

	if chart, ok := c.getCached(key); ok {
		c.log.Debug().Str("symbol", symbol).Msg("Chart cache hit")
		return chart, nil
	}

	v, err, shared := c.group.Do(key, func() (interface{}, error) {
		if chart, ok := c.getCached(key); ok {
			return chart, nil
		}
		chart, err := c.fetch(ctx, symbol, start)
		if err != nil {
			return nil, err
		}
		c.setCached(key, chart)
		return chart, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug().Str("symbol", symbol).Msg("Chart request coalesced")
	}
	return v.(*Chart), nil
}

func (c *Client) fetch(ctx context.Context, symbol string, start time.Time) (*Chart, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	params.Set("period2", strconv.FormatInt(c.now().Unix(), 10))

	endpoint := c.baseURL + "/" + url.PathEscape(symbol) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("symbol", symbol).Msg("Fetching chart")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("yahoo chart API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if payload.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoData, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, ErrNoData
	}

	result := payload.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, ErrNoData
	}
	closes := result.Indicators.Quote[0].Close

	chart := &Chart{
		Symbol:   result.Meta.Symbol,
		Currency: result.Meta.Currency,
	}
	if chart.Symbol == "" {
		chart.Symbol = symbol
	}
	// Days without a close (halts, the current session) come back as null
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		chart.Points = append(chart.Points, PricePoint{
			Time:  time.Unix(ts, 0).UTC(),
			Close: *closes[i],
		})
	}
	if len(chart.Points) == 0 {
		return nil, ErrNoData
	}
	return chart, nil
}

func (c *Client) getCached(key string) (*Chart, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.cache, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.chart, true
}

func (c *Client) setCached(key string, chart *Chart) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[key] = cacheEntry{chart: chart, expiresAt: c.now().Add(c.ttl)}
}
