// Package recommendation provides a client for the external recommendation service,
// which runs asynchronous stock-analysis jobs.
package recommendation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aristath/papertrader/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

// Client is the recommendation service client
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger
}

var _ domain.RecommendationService = (*Client)(nil)

// NewClient creates a new recommendation service client.
// rps bounds outbound requests per second; zero or less disables throttling.
func NewClient(baseURL string, rps float64, log zerolog.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
		log:     log.With().Str("client", "recommendation").Logger(),
	}
}

// StartJob asks the service to begin a new recommendation job and returns its id.
// Every failure is reported as domain.ErrServiceUnavailable.
func (c *Client) StartJob(ctx context.Context) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, c.baseURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("%w: start job returned HTTP %d", domain.ErrServiceUnavailable, status)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: failed to decode start response: %v", domain.ErrServiceUnavailable, err)
	}
	if !strings.EqualFold(env.Status, "success") {
		return "", fmt.Errorf("%w: %s", domain.ErrServiceUnavailable, strings.TrimSpace(env.Status+" "+env.Message))
	}

	var data startData
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("%w: failed to decode start data: %v", domain.ErrServiceUnavailable, err)
		}
	}
	if data.ProcessID == "" {
		return "", fmt.Errorf("%w: start response has no process id", domain.ErrServiceUnavailable)
	}

	c.log.Debug().Str("process_id", data.ProcessID).Msg("Recommendation job started")
	return data.ProcessID, nil
}

// CheckJob fetches the status of a job. A returned error is transient (transport,
// 5xx, undecodable body); a job the service reports as failed or unknown is Errored.
func (c *Client) CheckJob(ctx context.Context, jobID string) (domain.JobStatus, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(jobID))
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("%w: %v", domain.ErrServiceUnavailable, err)
	}

	switch {
	case status == http.StatusNotFound:
		return domain.Errored("recommendation job not found"), nil
	case status >= 500:
		return domain.JobStatus{}, fmt.Errorf("%w: check job returned HTTP %d", domain.ErrServiceUnavailable, status)
	case status >= 400:
		return domain.Errored(fmt.Sprintf("recommendation service rejected status check (HTTP %d)", status)), nil
	}

	jobStatus, err := decodeStatus(body)
	if err != nil {
		return domain.JobStatus{}, err
	}

	c.log.Debug().
		Str("process_id", jobID).
		Str("state", jobStatus.State.String()).
		Msg("Recommendation job checked")

	return jobStatus, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, body, nil
}
