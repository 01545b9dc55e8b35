// Package brokerapi is the REST gateway to the order broker: routed JSON
// endpoints over HTTPS, a TOTP session login, and bounded retry on
// throttling. It satisfies model.BrokerClient; a returned error is
// definitive (retries already happened inside).
package brokerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
)

// Sentinel errors callers branch on. ErrBrokerUnavailable means retries were
// exhausted on throttling or transport failures and the order's local state
// is still authoritative; ErrOrderRejected means the broker definitively
// refused the request.
var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrOrderRejected     = errors.New("order rejected")
)

var routes = map[string]string{
	"auth.login":      "/api/v1/auth/login",
	"order.bracket":   "/api/v1/orders/bracket",
	"order.cancel":    "/api/v1/orders/cancel",
	"order.list":      "/api/v1/orders",
	"position.open":   "/api/v1/positions/open",
	"position.closed": "/api/v1/positions/closed",
	"fill.list":       "/api/v1/fills",
}

// Config carries endpoint, credentials and retry tuning. APIKey and
// TOTPSecret are injected from the environment, never from the config file.
type Config struct {
	BaseURL    string `yaml:"base_url" default:"https://broker.invalid" validate:"required"`
	ClientCode string `yaml:"client_code"`
	APIKey     string `yaml:"-"`
	TOTPSecret string `yaml:"-"`

	// Timeout bounds each attempt; the retry schedule adds to it.
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	RetryBase   time.Duration `yaml:"retry_base" default:"1s"`
	MaxAttempts int           `yaml:"max_attempts" default:"5" validate:"gte=1"`
	// MinInterval is the floor between consecutive HTTP attempts, a
	// client-side guard against tripping the broker's rate limit.
	MinInterval time.Duration `yaml:"min_interval" default:"250ms"`
}

func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://broker.invalid",
		Timeout:     10 * time.Second,
		RetryBase:   time.Second,
		MaxAttempts: 5,
		MinInterval: 250 * time.Millisecond,
	}
}

// Client talks to the broker REST API. Safe for concurrent use; the token
// and the rate-limit slot are the only shared state.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
	prom *metrics.Metrics

	mu      sync.Mutex
	token   string
	lastReq time.Time
}

func New(cfg Config, prom *metrics.Metrics, log zerolog.Logger) *Client {
	if prom == nil {
		prom = metrics.New(nil)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
		prom: prom,
	}
}

// apiError is a non-2xx response. Retryability depends on the code.
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("broker http %d: %s", e.Code, e.Message)
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func (c *Client) buildURL(route string) (string, error) {
	uri, ok := routes[route]
	if !ok {
		return "", fmt.Errorf("unknown route: %s", route)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + uri, nil
}

func (c *Client) headers(authed bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-API-Key", c.cfg.APIKey)
	if authed {
		c.mu.Lock()
		tok := c.token
		c.mu.Unlock()
		if tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

// pace enforces the MinInterval floor between attempts.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.MinInterval <= 0 {
		return nil
	}
	c.mu.Lock()
	now := time.Now()
	next := c.lastReq.Add(c.cfg.MinInterval)
	if !next.After(now) {
		c.lastReq = now
		c.mu.Unlock()
		return nil
	}
	c.lastReq = next
	c.mu.Unlock()

	t := time.NewTimer(next.Sub(now))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.cfg.RetryBase << (attempt - 1) // 1s, 2s, 4s, 8s with the default base
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doJSON runs one logical request: up to MaxAttempts HTTP attempts with
// exponential backoff on 429/503 and transport errors, one transparent
// re-login on 401, definitive stop on anything else. out, when non-nil,
// receives the decoded 2xx body.
func (c *Client) doJSON(ctx context.Context, method, route string, payload, out interface{}, authed bool) error {
	url, err := c.buildURL(route)
	if err != nil {
		return err
	}

	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("encode %s: %w", route, err)
		}
	}

	var lastErr error
	reloggedIn := false
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			c.prom.BrokerRetries.Inc()
			if err := c.backoff(ctx, attempt-1); err != nil {
				return err
			}
		}
		if err := c.pace(ctx); err != nil {
			return err
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, rd)
		if err != nil {
			return err
		}
		req.Header = c.headers(authed)

		c.prom.BrokerRequests.Inc()
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("route", route).Int("attempt", attempt).Msg("broker request failed")
			continue
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out != nil && len(raw) > 0 {
				if err := json.Unmarshal(raw, out); err != nil {
					return fmt.Errorf("decode %s: %w", route, err)
				}
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized && authed && !reloggedIn:
			reloggedIn = true
			c.log.Info().Str("route", route).Msg("session expired, logging in again")
			if err := c.login(ctx); err != nil {
				return err
			}
			attempt-- // the relogin retry does not consume an attempt
			continue

		case retryable(resp.StatusCode):
			lastErr = &apiError{Code: resp.StatusCode, Message: apiMessage(raw)}
			c.log.Warn().Int("code", resp.StatusCode).Str("route", route).
				Int("attempt", attempt).Msg("broker throttling, backing off")
			continue

		default:
			c.prom.BrokerErrors.Inc()
			return &apiError{Code: resp.StatusCode, Message: apiMessage(raw)}
		}
	}

	c.prom.BrokerErrors.Inc()
	return fmt.Errorf("%w: %s failed after %d attempts: %v",
		ErrBrokerUnavailable, route, c.cfg.MaxAttempts, lastErr)
}

// apiMessage extracts the broker's error message body, falling back to the
// raw text.
func apiMessage(raw []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(raw))
}

// Login opens a session: a fresh TOTP code for the client code, traded for
// a bearer token.
func (c *Client) Login(ctx context.Context) error {
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) error {
	code := ""
	if c.cfg.TOTPSecret != "" {
		var err error
		if code, err = totp.GenerateCode(c.cfg.TOTPSecret, time.Now()); err != nil {
			return fmt.Errorf("totp generation: %w", err)
		}
	}
	var resp struct {
		Token string `json:"token"`
	}
	err := c.doJSON(ctx, http.MethodPost, "auth.login", map[string]string{
		"client_code": c.cfg.ClientCode,
		"totp":        code,
	}, &resp, false)
	if err != nil {
		return fmt.Errorf("broker login: %w", err)
	}
	if resp.Token == "" {
		return errors.New("broker login: empty token")
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	c.log.Info().Str("client", c.cfg.ClientCode).Msg("broker session established")
	return nil
}

func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok != "" {
		return nil
	}
	return c.login(ctx)
}

// PlaceBracket submits the entry with its linked stop and target legs.
// Returns the broker's order id.
func (c *Client) PlaceBracket(ctx context.Context, ord model.BracketOrder) (string, error) {
	if err := c.ensureToken(ctx); err != nil {
		return "", err
	}
	var resp struct {
		BrokerID string `json:"broker_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "order.bracket", ord, &resp, true); err != nil {
		var ae *apiError
		if errors.As(err, &ae) {
			return "", fmt.Errorf("%w: %s", ErrOrderRejected, ae.Message)
		}
		return "", err
	}
	if resp.BrokerID == "" {
		return "", fmt.Errorf("%w: response carried no broker id", ErrOrderRejected)
	}
	return resp.BrokerID, nil
}

// CancelOrder cancels a working order by broker id.
func (c *Client) CancelOrder(ctx context.Context, brokerID string) error {
	if err := c.ensureToken(ctx); err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodPost, "order.cancel",
		map[string]string{"broker_id": brokerID}, nil, true)
}

// Orders lists the broker's view of our orders.
func (c *Client) Orders(ctx context.Context) ([]model.BrokerOrder, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Orders []model.BrokerOrder `json:"orders"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "order.list", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Orders, nil
}

// OpenPositions lists positions still working at the broker.
func (c *Client) OpenPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	return c.positions(ctx, "position.open")
}

// ClosedPositions lists positions the broker has already flattened.
func (c *Client) ClosedPositions(ctx context.Context) ([]model.BrokerPosition, error) {
	return c.positions(ctx, "position.closed")
}

func (c *Client) positions(ctx context.Context, route string) ([]model.BrokerPosition, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Positions []model.BrokerPosition `json:"positions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, route, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Positions, nil
}

// Fills lists execution reports.
func (c *Client) Fills(ctx context.Context) ([]model.BrokerFill, error) {
	if err := c.ensureToken(ctx); err != nil {
		return nil, err
	}
	var resp struct {
		Fills []model.BrokerFill `json:"fills"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "fill.list", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Fills, nil
}
