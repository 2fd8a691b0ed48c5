// Package analyzer talks to the prediction API that describes video
// chunks, and multiplexes requests over a pool of API keys.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Prediction is one analysis request on the remote service.
type Prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output string `json:"-"`
	Error  string `json:"error,omitempty"`
}

// Terminal prediction statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// PredictionClient creates and polls predictions. Tests substitute a
// scripted fake.
type PredictionClient interface {
	CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*Prediction, error)
	GetPrediction(ctx context.Context, id string) (*Prediction, error)
}

// HTTPClient is the production PredictionClient.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a client bound to one API token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// CreatePrediction starts an analysis run.
func (c *HTTPClient) CreatePrediction(ctx context.Context, model string, input map[string]interface{}) (*Prediction, error) {
	body, err := json.Marshal(map[string]interface{}{
		"version": model,
		"input":   input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode prediction request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

// GetPrediction fetches the current state of a prediction.
func (c *HTTPClient) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build prediction request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) (*Prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prediction request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read prediction response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("prediction API returned status %d: %s", resp.StatusCode, truncate(string(data), 300))
	}

	var pr predictionResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("failed to decode prediction response: %v", err)
	}

	return &Prediction{
		ID:     pr.ID,
		Status: pr.Status,
		Output: decodeOutput(pr.Output),
		Error:  pr.Error,
	}, nil
}

// decodeOutput joins the output field into one string. The service
// streams text as an array of fragments; a plain string also occurs.
func decodeOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err == nil {
		return strings.Join(parts, "")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
