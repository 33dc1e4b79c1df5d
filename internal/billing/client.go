// Package billing increments per-tenant usage counters. Calls are
// fire-and-forget side effects of the finalize step; failures are logged by
// the caller, never fatal to the pipeline.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Incrementer is the capability the pipeline depends on.
type Incrementer interface {
	IncrementCallCount(ctx context.Context, tenantID, periodKey string) error
}

// PeriodKey returns the billing period a call at t belongs to.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) IncrementCallCount(ctx context.Context, tenantID, periodKey string) error {
	payload, err := json.Marshal(map[string]string{
		"tenant_id":  tenantID,
		"period_key": periodKey,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/usage/calls", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("billing service returned HTTP %d", resp.StatusCode)
	}
	return nil
}
