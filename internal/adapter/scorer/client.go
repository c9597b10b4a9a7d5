// Package scorer calls an external amplitude anomaly model over HTTP.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/couchcryptid/me-compute/internal/observability"
)

// Scorer returns the anomaly score of a waveform's raw trace.
type Scorer interface {
	Score(ctx context.Context, in domain.WaveformInput) (float64, error)
}

// ErrNoTrace is returned when the input carries nothing to score.
var ErrNoTrace = errors.New("no trace to score")

// Client implements Scorer against a model endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a scoring client that posts to url.
func NewClient(url string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Score posts the first trace of in and returns the model's score. Failures
// are logged at warn; callers treat them as an absent score.
func (c *Client) Score(ctx context.Context, in domain.WaveformInput) (float64, error) {
	if len(in.Traces) == 0 {
		return 0, ErrNoTrace
	}
	start := time.Now()
	score, err := c.doRequest(ctx, in)
	c.metrics.ScorerAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ScorerRequests.WithLabelValues("error").Inc()
		c.logger.Warn("anomaly scoring failed",
			"error", err,
			"event_id", in.Event.ID,
			"channel", in.Station.ChannelID(),
		)
		return 0, err
	}
	c.metrics.ScorerRequests.WithLabelValues("success").Inc()
	return score, nil
}

func (c *Client) doRequest(ctx context.Context, in domain.WaveformInput) (float64, error) {
	tr := in.Traces[0]
	body, err := json.Marshal(request{
		Samples:      tr.Samples,
		SamplingRate: tr.SamplingRate,
		Sensitivity:  in.Response.Sensitivity,
	})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("scorer API error: status %d: %s", resp.StatusCode, msg)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("decode response: missing score")
	}
	return *out.Score, nil
}

type request struct {
	Samples      []float64 `json:"samples"`
	SamplingRate float64   `json:"sampling_rate"`
	Sensitivity  float64   `json:"sensitivity"`
}

type response struct {
	Score *float64 `json:"score"`
}
