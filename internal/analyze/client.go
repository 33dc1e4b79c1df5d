// Package analyze wraps the AI call-analysis collaborator API.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Metadata gives the analysis model call context beyond the transcript text.
type Metadata struct {
	Direction       string `json:"direction"`
	CallerNumber    string `json:"caller_number"`
	CalleeNumber    string `json:"callee_number"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Result is the structured insight payload. Raw carries the full vendor JSON
// for diagnostics; the typed fields are what the dashboard consumes.
type Result struct {
	Summary     string          `json:"summary"`
	Sentiment   string          `json:"sentiment"`
	Keywords    []string        `json:"keywords"`
	ActionItems []string        `json:"action_items"`
	Raw         json.RawMessage `json:"-"`
}

// Analyzer is the capability the pipeline depends on.
type Analyzer interface {
	Analyze(ctx context.Context, transcriptText string, meta Metadata, customKeywords []string) (Result, error)
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Analyze(ctx context.Context, transcriptText string, meta Metadata, customKeywords []string) (Result, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"transcript":      transcriptText,
		"metadata":        meta,
		"custom_keywords": customKeywords,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "analysis request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("analysis service returned HTTP %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, errors.Wrap(err, "failed to read analysis response")
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return Result{}, errors.Wrap(err, "failed to decode analysis result")
	}
	result.Raw = raw
	return result, nil
}
