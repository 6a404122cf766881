// Package homeassistant sends service calls to the Home Assistant REST API.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hassbridge/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 64 << 10
)

// Client implements domain.ServiceInvoker against one Home Assistant
// instance. Every request carries the bearer token and is bounded by the
// per-call timeout.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

var _ domain.ServiceInvoker = (*Client)(nil)

type ClientConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration // per call; defaults to 10s
	HTTPClient *http.Client  // optional: see NewHTTPClient
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
}

// Call POSTs one service call. Transport errors and non-200 responses are
// returned in CallResult.Err; an incomplete call fails with
// domain.ErrInvalidCall before any request is made.
func (c *Client) Call(ctx context.Context, call domain.ServiceCall) domain.CallResult {
	res := domain.CallResult{Call: call}
	if err := call.Validate(); err != nil {
		res.Err = err
		return res
	}

	payload, err := json.Marshal(call.Body())
	if err != nil {
		res.Err = fmt.Errorf("marshal %s body: %w", call.Domain+"."+call.Service, err)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/api/services/" + url.PathEscape(call.Domain) + "/" + url.PathEscape(call.Service)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		res.Err = fmt.Errorf("new request: %w", err)
		return res
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = fmt.Errorf("%s.%s: %w", call.Domain, call.Service, err)
		return res
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	res.StatusCode = resp.StatusCode
	res.Body = string(body)

	if resp.StatusCode != http.StatusOK {
		res.Err = &StatusError{StatusCode: resp.StatusCode, Body: res.Body}
	}

	c.logger.Debug("home assistant call",
		"service", call.Domain+"."+call.Service,
		"entity_id", call.EntityID,
		"status", resp.StatusCode,
		"duration", res.Duration,
	)
	return res
}

// TurnSwitch calls switch.turn_on or switch.turn_off.
func (c *Client) TurnSwitch(ctx context.Context, entityID string, action domain.SwitchAction) domain.CallResult {
	return c.Call(ctx, domain.SwitchCall(entityID, action))
}

// SetClimateModeAndTemperature sets the HVAC mode and, when temperature is
// non-nil, the target temperature. The second call runs even if the first
// one failed.
func (c *Client) SetClimateModeAndTemperature(ctx context.Context, entityID, mode string, temperature *float64) []domain.CallResult {
	results := []domain.CallResult{c.Call(ctx, domain.HVACModeCall(entityID, mode))}
	if temperature != nil {
		results = append(results, c.Call(ctx, domain.TemperatureCall(entityID, *temperature)))
	}
	return results
}

// CallService invokes an arbitrary domain.service on one entity.
func (c *Client) CallService(ctx context.Context, domainName, service, entityID string) domain.CallResult {
	return c.Call(ctx, domain.ServiceCall{Domain: domainName, Service: service, EntityID: entityID})
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/", nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("home assistant not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}
