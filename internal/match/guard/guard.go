// Package guard screens match requests before any datastore or model work:
// preflight, malformed payloads, honeypot bots, and per-client cooldown.
package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"influencer-match/internal/common/errors"
	"influencer-match/internal/common/metrics"
	"influencer-match/internal/common/validation"
	"influencer-match/internal/models"
)

const (
	DefaultMaxBodyBytes = 64 << 10
	DefaultCooldown     = 60 * time.Second

	HeaderClientID = "X-Client-Id"
)

type Outcome int

const (
	Allow Outcome = iota
	Preflight
	RejectBadRequest
	RejectBot
	RejectThrottled
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Preflight:
		return "preflight"
	case RejectBadRequest:
		return "bad_request"
	case RejectBot:
		return "bot"
	case RejectThrottled:
		return "throttled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Verdict is the guard's decision. Request is populated only for Allow.
type Verdict struct {
	Outcome       Outcome
	Request       models.CampaignRequest
	ClientID      string
	MissingFields []string
	RetryAfter    time.Duration
	// Reason is for logs only.
	Reason string
}

// Err converts a rejection into the classified error the HTTP layer writes.
func (v Verdict) Err() error {
	switch v.Outcome {
	case RejectBadRequest:
		return errors.NewBadRequestError("Invalid request payload", v.Reason)
	case RejectBot:
		return errors.NewBotDetectedError()
	case RejectThrottled:
		return errors.NewThrottledError(v.Reason, v.RetryAfter)
	}
	return nil
}

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Config struct {
	Cooldown         time.Duration
	MaxBodyBytes     int64
	StrictValidation bool
}

type Guard struct {
	config Config
	store  CooldownStore
	schema *validation.Schema
	logger Logger
	now    func() time.Time
}

// New builds a guard. A zero Cooldown disables throttling; a nil store
// falls back to an in-memory one.
func New(cfg Config, store CooldownStore, log Logger) *Guard {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if store == nil {
		store = NewMemoryCooldownStore()
	}
	return &Guard{
		config: cfg,
		store:  store,
		schema: validation.MustCompile(validation.CampaignRequestSchema),
		logger: log,
		now:    time.Now,
	}
}

// Inspect runs the checks in a fixed order and stops at the first rejection.
// It consumes r.Body.
func (g *Guard) Inspect(r *http.Request) Verdict {
	if r.Method == http.MethodOptions {
		return Verdict{Outcome: Preflight}
	}

	clientID := ClientID(r)

	body, err := g.readBody(r)
	if err != nil {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: err.Error()})
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: "Invalid JSON in request body"})
	}

	if isFilled(raw["_honeypot"]) {
		return g.reject(Verdict{Outcome: RejectBot, ClientID: clientID, Reason: "honeypot field filled"})
	}

	if normalizeBudget(raw) {
		if body, err = json.Marshal(raw); err != nil {
			return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: err.Error()})
		}
	}

	check, err := g.schema.ValidateGo(raw)
	if err != nil {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: err.Error()})
	}
	if !check.Valid {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: check.Summary()})
	}

	var req models.CampaignRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: err.Error()})
	}
	req.Honeypot = ""

	if req.Budget != nil && *req.Budget <= 0 {
		return g.reject(Verdict{Outcome: RejectBadRequest, ClientID: clientID, Reason: "budget must be a positive number"})
	}

	missing := req.MissingFields()
	if len(missing) > 0 {
		g.logger.Info("campaign brief incomplete", map[string]interface{}{
			"clientId":      clientID,
			"missingFields": missing,
			"strict":        g.config.StrictValidation,
		})
		if g.config.StrictValidation {
			return g.reject(Verdict{
				Outcome:       RejectBadRequest,
				ClientID:      clientID,
				MissingFields: missing,
				Reason:        "missing required fields: " + strings.Join(missing, ", "),
			})
		}
	}

	if retryAfter, throttled := g.checkCooldown(r.Context(), clientID); throttled {
		return g.reject(Verdict{
			Outcome:    RejectThrottled,
			ClientID:   clientID,
			RetryAfter: retryAfter,
			Reason:     fmt.Sprintf("client inside %s cooldown", g.config.Cooldown),
		})
	}

	return Verdict{
		Outcome:       Allow,
		Request:       req,
		ClientID:      clientID,
		MissingFields: missing,
	}
}

// normalizeBudget treats a blank or null budget as absent and turns a
// numeric string into a number. Other strings are left for the schema to
// reject. It reports whether raw changed.
func normalizeBudget(raw map[string]interface{}) bool {
	v, ok := raw["budget"]
	if !ok {
		return false
	}
	switch b := v.(type) {
	case nil:
		delete(raw, "budget")
		return true
	case string:
		trimmed := strings.TrimSpace(b)
		if trimmed == "" {
			delete(raw, "budget")
			return true
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		raw["budget"] = f
		return true
	}
	return false
}

func (g *Guard) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, fmt.Errorf("empty request body")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > g.config.MaxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", g.config.MaxBodyBytes)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty request body")
	}
	return body, nil
}

// checkCooldown stamps the client when it is outside the window. Store
// failures let the request through.
func (g *Guard) checkCooldown(ctx context.Context, clientID string) (time.Duration, bool) {
	if g.config.Cooldown <= 0 {
		return 0, false
	}
	now := g.now()

	last, ok, err := g.store.LastAccepted(ctx, clientID)
	if err != nil {
		g.logger.Warn("cooldown lookup failed, allowing request", map[string]interface{}{
			"clientId": clientID,
			"error":    err,
		})
		return 0, false
	}
	if ok {
		if elapsed := now.Sub(last); elapsed >= 0 && elapsed < g.config.Cooldown {
			return RemainingCooldown(g.config.Cooldown, elapsed), true
		}
	}

	if err := g.store.Stamp(ctx, clientID, now, g.config.Cooldown); err != nil {
		g.logger.Warn("cooldown stamp failed", map[string]interface{}{
			"clientId": clientID,
			"error":    err,
		})
	}
	return 0, false
}

func (g *Guard) reject(v Verdict) Verdict {
	metrics.GuardRejections.WithLabelValues(v.Outcome.String()).Inc()
	g.logger.Warn("request rejected by guard", map[string]interface{}{
		"outcome":  v.Outcome.String(),
		"clientId": v.ClientID,
		"reason":   v.Reason,
	})
	return v
}

// RemainingCooldown is cooldown-elapsed rounded up to whole seconds.
func RemainingCooldown(cooldown, elapsed time.Duration) time.Duration {
	remaining := cooldown - elapsed
	if remaining <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(remaining.Seconds())) * time.Second
}

// ClientID identifies the caller for cooldown purposes: an explicit
// X-Client-Id, else the first X-Forwarded-For hop, else the peer address.
func ClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(HeaderClientID)); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// CORSHeaders sets the headers every match response carries.
func CORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+HeaderClientID)
}

func isFilled(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case float64:
		return val != 0
	default:
		return true
	}
}
