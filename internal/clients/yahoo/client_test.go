package yahoo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartJSON = `{
  "chart": {
    "result": [{
      "meta": {"symbol": "AAPL", "currency": "USD"},
      "timestamp": [1704205800, 1704292200, 1704378600],
      "indicators": {"quote": [{"close": [185.64, null, 181.91]}]}
    }],
    "error": null
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(zerolog.Nop())
	client.baseURL = server.URL
	return client
}

func TestGetDailyChart_Success(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/AAPL", r.URL.Path)
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "1704067200", r.URL.Query().Get("period1"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chartJSON))
	})

	chart, err := client.GetDailyChart(context.Background(), "AAPL", start)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", chart.Symbol)
	assert.Equal(t, "USD", chart.Currency)
	require.Len(t, chart.Points, 2)
	assert.Equal(t, 185.64, chart.Points[0].Close)
	assert.Equal(t, 181.91, chart.Points[1].Close)
	assert.Equal(t, "2024-01-04", chart.Points[1].Time.Format("2006-01-02"))
}

func TestGetDailyChart_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
	})

	_, err := client.GetDailyChart(context.Background(), "NOPE", time.Now().AddDate(0, -1, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestGetDailyChart_ErrorPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"delisted"}}}`))
	})

	_, err := client.GetDailyChart(context.Background(), "NOPE", time.Now().AddDate(0, -1, 0))
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestGetDailyChart_AllNullCloses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"X"},"timestamp":[1704205800],"indicators":{"quote":[{"close":[null]}]}}],"error":null}}`))
	})

	_, err := client.GetDailyChart(context.Background(), "X", time.Now().AddDate(0, -1, 0))
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestGetDailyChart_CachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(chartJSON))
	})

	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return now }
	start := now.AddDate(0, 0, -7)

	_, err := client.GetDailyChart(context.Background(), "AAPL", start)
	require.NoError(t, err)
	_, err = client.GetDailyChart(context.Background(), "AAPL", start)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(defaultCacheTTL + time.Second)
	_, err = client.GetDailyChart(context.Background(), "AAPL", start)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetDailyChart_CoalescesConcurrentRequests(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(chartJSON))
	})

	start := time.Now().AddDate(0, -1, 0)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.GetDailyChart(context.Background(), "AAPL", start)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
