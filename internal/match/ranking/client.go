// Package ranking asks an OpenAI-compatible chat model to rank a candidate
// pool and classifies every way that call can fail.
package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"influencer-match/internal/common/errors"
	commonhttp "influencer-match/internal/common/http"
	"influencer-match/internal/common/metrics"
	"influencer-match/internal/common/validation"
	"influencer-match/internal/match/prompt"
	"influencer-match/internal/models"
)

const (
	DefaultBaseURL = "https://api.x.ai/v1"
	DefaultModel   = "grok-4-fast-non-reasoning"
	DefaultTimeout = 25 * time.Second

	maxResponseBytes = 1 << 20
	maxErrorSnippet  = 512
)

// Ranker produces an ordered recommendation list for an instruction. The
// result is not checked against the pool.
type Ranker interface {
	Rank(ctx context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error)
}

// RankerFunc adapts a function to Ranker.
type RankerFunc func(ctx context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error)

func (f RankerFunc) Rank(ctx context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error) {
	return f(ctx, instruction)
}

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

type Client struct {
	config     Config
	httpClient *commonhttp.Client
	schema     *validation.Schema
	logger     Logger
	now        func() time.Time
}

// NewClient builds a ranking client. httpClient may be nil; the client
// relies on its own deadline rather than a transport timeout.
func NewClient(cfg Config, httpClient *commonhttp.Client, log Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = commonhttp.NewClient(0)
	}
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		schema:     validation.MustCompile(validation.RankingOutputSchema),
		logger:     log,
		now:        time.Now,
	}
}

type outcome struct {
	result models.RankingResult
	err    error
}

// Rank races the upstream call against the timeout. Whichever settles first
// wins; on timeout the in-flight request is cancelled and its late result
// lands in the buffered channel unread.
func (c *Client) Rank(ctx context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := c.now()
	done := make(chan outcome, 1)
	go func() {
		res, err := c.call(ctx, instruction)
		done <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = c.contextError(ctx)
	}

	elapsed := c.now().Sub(start)
	status := "ok"
	if out.err != nil {
		status = strings.ToLower(string(errors.CodeOf(out.err)))
		c.logger.Warn("ranking call failed", map[string]interface{}{
			"errorCode":  string(errors.CodeOf(out.err)),
			"error":      out.err,
			"durationMs": elapsed.Milliseconds(),
		})
	} else {
		c.logger.Info("ranking call completed", map[string]interface{}{
			"recommendations": len(out.result),
			"durationMs":      elapsed.Milliseconds(),
		})
	}
	metrics.RankingDuration.WithLabelValues(status).Observe(elapsed.Seconds())

	return out.result, out.err
}

func (c *Client) contextError(ctx context.Context) error {
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewUpstreamTimeoutError(c.config.Timeout)
	}
	return errors.NewUpstreamUnavailableError(fmt.Errorf("ranking call cancelled: %w", ctx.Err()))
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) call(ctx context.Context, instruction prompt.RankingInstruction) (models.RankingResult, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction.SystemPrompt()},
			{Role: "user", Content: instruction.Prompt()},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    c.config.Temperature,
		MaxTokens:      c.config.MaxTokens,
	})
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("encode ranking request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("build ranking request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.contextError(ctx)
		}
		return nil, errors.NewUpstreamUnavailableError(err)
	}
	defer resp.Body.Close()

	if err := c.classifyStatus(resp); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, c.contextError(ctx)
		}
		return nil, errors.NewUpstreamUnavailableError(fmt.Errorf("read ranking response: %w", err))
	}

	return c.parse(raw)
}

func (c *Client) classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippet))
	details := fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.NewUpstreamAuthError(details)
	case http.StatusTooManyRequests:
		return errors.NewThrottledError(details, ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()))
	default:
		return errors.NewUpstreamUnavailableError(stderrors.New(details))
	}
}

type rawEntry struct {
	ID         json.RawMessage `json:"id"`
	MatchScore float64         `json:"match_score"`
	Reasoning  string          `json:"reasoning"`
}

func (c *Client) parse(raw []byte) (models.RankingResult, error) {
	var envelope chatResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, errors.NewMalformedOutputError(fmt.Sprintf("envelope: %v", err))
	}
	if len(envelope.Choices) == 0 {
		return nil, errors.NewMalformedOutputError("envelope has no choices")
	}

	content := stripCodeFence(envelope.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.NewMalformedOutputError("empty completion content")
	}

	check, err := c.schema.ValidateBytes([]byte(content))
	if err != nil {
		return nil, errors.NewMalformedOutputError(fmt.Sprintf("content is not JSON: %v", err))
	}
	if !check.Valid {
		return nil, errors.NewMalformedOutputError("content failed schema: " + check.Summary())
	}

	var payload struct {
		Recommendations []rawEntry `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, errors.NewMalformedOutputError(fmt.Sprintf("decode recommendations: %v", err))
	}

	result := make(models.RankingResult, 0, len(payload.Recommendations))
	for _, e := range payload.Recommendations {
		result = append(result, models.RankedEntry{
			CandidateID: normalizeID(e.ID),
			MatchScore:  int(math.Round(e.MatchScore)),
			Reasoning:   strings.TrimSpace(e.Reasoning),
		})
	}
	return result, nil
}

// normalizeID accepts "42" and 42 alike; ids are compared as strings.
func normalizeID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

// stripCodeFence removes a ```json ... ``` wrapper some models add despite
// json_object mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseRetryAfter reads a Retry-After header in delta-seconds or HTTP-date
// form. Missing, unparseable or past values yield errors.DefaultRetryAfter.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.DefaultRetryAfter
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return errors.DefaultRetryAfter
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return errors.DefaultRetryAfter
}
