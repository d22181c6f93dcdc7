// pkg/matchclient/client.go
package matchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	commonhttp "influencer-match/internal/common/http"
	"influencer-match/internal/models"
)

const (
	DefaultCooldown = 60 * time.Second
	DefaultTimeout  = 30 * time.Second
)

// CooldownError means the caller must wait before submitting again. It is
// returned both for the local window and for a server 429.
type CooldownError struct {
	RemainingSeconds int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %d seconds before submitting again", e.RemainingSeconds)
}

// APIError is any other non-200 answer from the match endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("match endpoint returned %d: %s", e.StatusCode, e.Message)
}

// Result mirrors the "data" object of a successful match.
type Result struct {
	Influencers []models.MatchedInfluencer `json:"influencers"`
	Message     string                     `json:"message"`
}

type Config struct {
	BaseURL  string
	Path     string
	ClientID string
	Cooldown time.Duration
}

// Client submits campaign briefs. The last-submission time is shared
// between goroutines without a lock; concurrent submits race and the last
// write wins.
type Client struct {
	config     Config
	httpClient *commonhttp.Client
	lastSubmit atomic.Int64
	now        func() time.Time
}

// New returns a client. A nil httpClient uses one with a 30s timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Path == "" {
		cfg.Path = "/match"
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	client := commonhttp.NewClient(DefaultTimeout)
	if httpClient != nil {
		client = commonhttp.WrapClient(httpClient)
	}
	return &Client{config: cfg, httpClient: client, now: time.Now}
}

// Remaining is how long until the next Submit is allowed, zero if now.
func (c *Client) Remaining() time.Duration {
	last := c.lastSubmit.Load()
	if last == 0 {
		return 0
	}
	remaining := c.config.Cooldown - c.now().Sub(time.UnixMilli(last))
	if remaining <= 0 {
		return 0
	}
	return remaining
}

// Submit sends req unless the local cooldown is still running, in which
// case no request is made.
func (c *Client) Submit(ctx context.Context, req models.CampaignRequest) (*Result, error) {
	if remaining := c.Remaining(); remaining > 0 {
		return nil, &CooldownError{RemainingSeconds: ceilSeconds(remaining)}
	}
	c.lastSubmit.Store(c.now().UnixMilli())

	req.Honeypot = ""
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.Path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.ClientID != "" {
		httpReq.Header.Set("X-Client-Id", c.config.ClientID)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var envelope struct {
			Data *Result `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Data == nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: "unexpected response body"}
		}
		if envelope.Data.Influencers == nil {
			envelope.Data.Influencers = []models.MatchedInfluencer{}
		}
		return envelope.Data, nil
	case http.StatusTooManyRequests:
		return nil, &CooldownError{RemainingSeconds: retryAfter(resp.Header.Get("Retry-After"), body)}
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}
}

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

// retryAfter prefers the body's retryAfter, then the header, then the
// default cooldown.
func retryAfter(header string, body []byte) int {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.RetryAfter > 0 {
		return eb.RetryAfter
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs > 0 {
		return secs
	}
	return int(DefaultCooldown.Seconds())
}

func errorMessage(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return http.StatusText(status)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
