// internal/common/http/client.go
package http

import (
	"net/http"
	"time"
)

// Client is a thin wrapper over http.Client shared by outbound callers.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client with a transport-level timeout. Pass 0 when
// the caller enforces its own deadline through the request context.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// WrapClient adapts an existing http.Client, e.g. httptest.Server.Client().
func WrapClient(c *http.Client) *Client {
	return &Client{httpClient: c}
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}
