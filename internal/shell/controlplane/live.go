package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Config holds configuration for the live control plane client.
type Config struct {
	Token   string
	Timeout time.Duration
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
	}
}

// HTTPClient drives each region's admin endpoint over HTTP.
type HTTPClient struct {
	resolver   Resolver
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a live control plane client.
func NewHTTPClient(resolver Resolver, cfg Config) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPClient{
		resolver: resolver,
		token:    cfg.Token,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type deployRequest struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

type validationRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Timeout string `json:"timeout,omitempty"`
}

type trafficRequest struct {
	Percent float64 `json:"percent"`
}

// Deploy installs the version into the green environment.
func (c *HTTPClient) Deploy(ctx context.Context, region, version string) error {
	return c.do(ctx, region, http.MethodPost, "/v1/deployments", deployRequest{Version: version, Environment: "green"})
}

// Validate asks the region to run a validation step.
func (c *HTTPClient) Validate(ctx context.Context, region string, step domain.ValidationStep) error {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout.Std())
		defer cancel()
	}
	body := validationRequest{Name: step.Name, Type: step.Type}
	if step.Timeout > 0 {
		body.Timeout = step.Timeout.String()
	}
	return c.do(ctx, region, http.MethodPost, "/v1/validations", body)
}

// SetTraffic moves the region's traffic split.
func (c *HTTPClient) SetTraffic(ctx context.Context, region string, percent float64) error {
	return c.do(ctx, region, http.MethodPut, "/v1/traffic", trafficRequest{Percent: percent})
}

// Decommission tears down an environment.
func (c *HTTPClient) Decommission(ctx context.Context, region, environment string) error {
	return c.do(ctx, region, http.MethodDelete, "/v1/environments/"+url.PathEscape(environment), nil)
}

func (c *HTTPClient) do(ctx context.Context, regionID, method, path string, payload any) error {
	region, err := c.resolver.Get(regionID)
	if err != nil {
		return err
	}
	if region.Endpoints.Admin == "" {
		return fmt.Errorf("%w: region %s has no admin endpoint", ErrRejected, regionID)
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	target := strings.TrimRight(region.Endpoints.Admin, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(respBody))
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return fmt.Errorf("%w: %s %s returned %d: %s", ErrRejected, method, path, resp.StatusCode, msg)
		}
		return fmt.Errorf("%s %s returned %d: %s", method, path, resp.StatusCode, msg)
	}
	return nil
}
