package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/leadkit/automation/internal/action"
)

// Client talks to the lead API over HTTP: PATCH {base}/api/leads/{id} with a
// JSON body of field updates. Set-to-value semantics keep retries idempotent.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) UpdateLead(ctx context.Context, leadID int64, updates map[string]string) error {
	if c.baseURL == "" {
		return action.Permanentf("lead api: not configured")
	}

	body, err := json.Marshal(updates)
	if err != nil {
		return action.Permanentf("lead api: encode updates: %v", err)
	}

	url := fmt.Sprintf("%s/api/leads/%d", c.baseURL, leadID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return action.Permanentf("lead api: build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return action.Transientf("lead api: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return action.Transientf("lead api: lead %d returned %d", leadID, resp.StatusCode)
	default:
		return action.Permanentf("lead api: lead %d returned %d", leadID, resp.StatusCode)
	}
}
