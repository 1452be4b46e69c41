// Package identifierclient wraps the remote identifier authority: minting,
// remote validation, and status polling, with retry, circuit breaking, and
// per-host rate limiting layered on top of domain/identifier's pure gating
// logic.
package identifierclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/evidentia/syncplatform/domain/identifier"
	"github.com/evidentia/syncplatform/infrastructure/errors"
	"github.com/evidentia/syncplatform/infrastructure/ratelimit"
	"github.com/evidentia/syncplatform/infrastructure/resilience"
)

// maxFallbackHops bounds the validate() retry loop so a persistently failing
// remote authority cannot recurse indefinitely; this replaces the
// self-recursive retry the distilled source implied.
const maxFallbackHops = 3

// Config configures a Client.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	Retry       resilience.RetryConfig
	Breaker     resilience.Config
	RateLimit   ratelimit.RateLimitConfig
	HealthTimeout time.Duration
}

// DefaultConfig returns sensible defaults: 10 retry attempts at 1s base
// delay capped at 30s, a 5s timeout on health/status calls.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Retry: resilience.RetryConfig{
			MaxAttempts:  10,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       0.2,
		},
		Breaker:       resilience.DefaultConfig(),
		RateLimit:     ratelimit.DefaultConfig(),
		HealthTimeout: 5 * time.Second,
	}
}

// Client mints and validates identifiers against the remote authority.
type Client struct {
	cfg     Config
	http    *ratelimit.RateLimitedClient
	breaker *resilience.CircuitBreaker
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    ratelimit.NewRateLimitedClient(cfg.HTTPClient, cfg.RateLimit),
		breaker: resilience.New(cfg.Breaker),
	}
}

type mintRequest struct {
	Kind  string            `json:"kind"`
	Attrs map[string]string `json:"attrs"`
}

type mintResponse struct {
	ID string `json:"id"`
}

// Mint requests a new identifier from the remote authority and re-validates
// it before returning, per P1 (identifier purity).
func (c *Client) Mint(ctx context.Context, kind string, attrs map[string]string) (identifier.ID, error) {
	body, err := json.Marshal(mintRequest{Kind: kind, Attrs: attrs})
	if err != nil {
		return "", fmt.Errorf("identifierclient: marshal mint request: %w", err)
	}

	var resp mintResponse
	err = c.withResilience(ctx, func() error {
		return c.postJSON(ctx, "/mint", body, &resp)
	})
	if err != nil {
		return "", errors.ObjectStoreError("mint", err)
	}

	if state, gateErr := identifier.FormatGate(resp.ID); gateErr != nil || state == identifier.StateInvalid {
		return "", fmt.Errorf("identifierclient: minted id failed format gate: %w", gateErr)
	}

	valid, err := c.Validate(ctx, identifier.ID(resp.ID))
	if err != nil {
		return "", err
	}
	if !valid {
		return "", fmt.Errorf("identifierclient: minted id %q failed remote validation", resp.ID)
	}
	return identifier.ID(resp.ID), nil
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

// Validate performs the full decode->gate->remote chain described in
// domain/identifier, falling back to /status on remote failure, bounded to
// maxFallbackHops attempts.
func (c *Client) Validate(ctx context.Context, id identifier.ID) (bool, error) {
	raw := string(id)

	if fb, ok := identifier.DecodeFallback(raw); ok {
		return false, fmt.Errorf("identifierclient: fallback sentinel %s: %s", fb.Name, fb.Message)
	}

	state, err := identifier.FormatGate(raw)
	if err != nil {
		return false, nil
	}
	if state == identifier.StateReserved {
		return false, nil
	}

	var lastErr error
	for hop := 0; hop < maxFallbackHops; hop++ {
		var resp validateResponse
		err := c.withResilience(ctx, func() error {
			return c.postJSON(ctx, "/validate", []byte(fmt.Sprintf(`{"id":%q}`, raw)), &resp)
		})
		if err == nil {
			return resp.Valid, nil
		}
		lastErr = err

		// Remote /validate failed: consult /status for a definitive answer
		// before giving up this hop.
		statusCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
		var statusResp validateResponse
		statusErr := c.getJSON(statusCtx, "/status?id="+raw, &statusResp)
		cancel()
		if statusErr == nil {
			return statusResp.Valid, nil
		}
	}
	return false, errors.ObjectStoreError("validate", lastErr)
}

func (c *Client) withResilience(ctx context.Context, fn func() error) error {
	return c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, c.cfg.Retry, fn)
	})
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("identifierclient: remote returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
