// Package storeclient calls the store service window endpoint on behalf of
// the gateway.
package storeclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ghalamif/thermoflow/internal/domain"
	"github.com/ghalamif/thermoflow/internal/ports"
)

const WindowPath = "/last-5-minutes"

// maxBody bounds how much of a window response is read into memory. A larger
// body is rejected rather than truncated.
var maxBody int64 = 32 << 20

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the store at baseURL. A nil hc uses a client
// without its own timeout; deadlines come from the caller's context.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// FetchWindow returns the raw body of a successful window response. Network
// errors and non-2xx statuses come back as *domain.TransientUpstreamError.
func (c *Client) FetchWindow(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+WindowPath, nil)
	if err != nil {
		return nil, fmt.Errorf("storeclient: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.TransientUpstreamError{Op: "fetch window", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, &domain.TransientUpstreamError{Op: "read window", Err: err}
	}
	if int64(len(body)) > maxBody {
		return nil, &domain.TransientUpstreamError{
			Op:  "read window",
			Err: fmt.Errorf("window response exceeds %d bytes", maxBody),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.TransientUpstreamError{
			Op:  "fetch window",
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	return body, nil
}

var _ ports.WindowSource = (*Client)(nil)
