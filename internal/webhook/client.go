// Package webhook performs the outbound HTTP delivery of composed payloads.
package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

type Client struct {
	HTTP *http.Client
}

// Deliver POSTs body to url with the given headers. It returns the response
// status, the full response body, and any transport-level error. Non-2xx
// statuses are not errors here; the dispatcher decides the outcome.
func (c *Client) Deliver(ctx context.Context, url string, headers map[string]string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}
