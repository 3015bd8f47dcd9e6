package modelreg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lox/sensorfault/internal/httputil"
	"github.com/lox/sensorfault/internal/metrics"
	"github.com/lox/sensorfault/internal/schema"
)

const defaultMaxElapsed = 30 * time.Second

// HTTPModel calls a model server that accepts
// {"family": "...", "features": [...]} and answers {"label": "..."}.
// Rate limiting and 5xx responses are retried with exponential backoff.
type HTTPModel struct {
	family     schema.Family
	url        string
	client     *http.Client
	maxElapsed time.Duration
}

type predictRequest struct {
	Family   string    `json:"family"`
	Features []float64 `json:"features"`
	Columns  []string  `json:"columns"`
}

type predictResponse struct {
	Label string `json:"label"`
	Error string `json:"error,omitempty"`
}

func NewHTTPModel(family schema.Family, url string, timeout, maxElapsed time.Duration) *HTTPModel {
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	return &HTTPModel{
		family:     family,
		url:        url,
		client:     httputil.NewClient(timeout),
		maxElapsed: maxElapsed,
	}
}

func (m *HTTPModel) Predict(ctx context.Context, vec []float64) (string, error) {
	payload, err := json.Marshal(predictRequest{
		Family:   string(m.family),
		Features: vec,
		Columns:  schema.Expected(m.family),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := m.client.Do(req)
		if err != nil {
			metrics.ModelServerCalls.WithLabelValues(string(m.family), "error").Inc()
			return fmt.Errorf("call model server: %w", err)
		}
		defer resp.Body.Close()
		metrics.ModelServerCalls.WithLabelValues(string(m.family), fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("model server: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("model server: status %d: %s", resp.StatusCode, bytes.TrimSpace(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = m.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("model server: %s", out.Error)
	}
	if out.Label == "" {
		return "", fmt.Errorf("%w: empty label from %s", ErrUnknownLabel, m.url)
	}
	return out.Label, nil
}
