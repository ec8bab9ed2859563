// Package binding requests domain bindings (reverse proxy routes and TLS
// certificates) from an external provisioner.
package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrBindingFailed is returned when the provisioner rejects a request.
var ErrBindingFailed = errors.New("domain binding failed")

// Provisioner routes a domain to a local port.
type Provisioner interface {
	RequestBinding(ctx context.Context, domain string, port int) error
	ReleaseBinding(ctx context.Context, domain string) error
}

// Config holds provisioner client configuration.
type Config struct {
	BaseURL string // e.g. "http://localhost:9000"
	APIKey  string
	Timeout time.Duration
}

// New returns an HTTP provisioner when BaseURL is set and a no-op one
// otherwise.
func New(cfg Config, logger *slog.Logger) Provisioner {
	if cfg.BaseURL == "" {
		return NewNoopProvisioner(logger)
	}
	return NewHTTPProvisioner(cfg, logger)
}

// =============================================================================
// HTTP Provisioner
// =============================================================================

// HTTPProvisioner talks to a provisioning service over HTTP.
type HTTPProvisioner struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPProvisioner creates a new HTTP provisioner client.
func NewHTTPProvisioner(cfg Config, logger *slog.Logger) *HTTPProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvisioner{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "binding_provisioner"),
	}
}

// bindingRequest is the body of POST /bindings.
type bindingRequest struct {
	Domain string `json:"domain"`
	Port   int    `json:"port"`
}

// RequestBinding asks the provisioner to route domain to port. Re-requesting
// an existing domain moves it to the new port.
func (p *HTTPProvisioner) RequestBinding(ctx context.Context, domain string, port int) error {
	body, err := json.Marshal(bindingRequest{Domain: domain, Port: port})
	if err != nil {
		return fmt.Errorf("marshal binding: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/bindings", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(req)

	if err := p.do(req, http.StatusOK, http.StatusCreated); err != nil {
		return err
	}

	p.logger.Info("binding requested", "domain", domain, "port", port)
	return nil
}

// ReleaseBinding removes the route for domain. Unknown domains are not an error.
func (p *HTTPProvisioner) ReleaseBinding(ctx context.Context, domain string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/bindings/"+url.PathEscape(domain), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(req)

	if err := p.do(req, http.StatusOK, http.StatusNoContent, http.StatusNotFound); err != nil {
		return err
	}

	p.logger.Info("binding released", "domain", domain)
	return nil
}

func (p *HTTPProvisioner) do(req *http.Request, accept ...int) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range accept {
		if resp.StatusCode == code {
			io.Copy(io.Discard, resp.Body)
			return nil
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("%w: unexpected status %d: %s", ErrBindingFailed, resp.StatusCode, strings.TrimSpace(string(body)))
}

func (p *HTTPProvisioner) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// =============================================================================
// No-op Provisioner
// =============================================================================

// NoopProvisioner accepts every request without doing anything. It is used
// when no provisioner is configured.
type NoopProvisioner struct {
	logger *slog.Logger
}

// NewNoopProvisioner creates a NoopProvisioner.
func NewNoopProvisioner(logger *slog.Logger) *NoopProvisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopProvisioner{logger: logger.With("component", "binding_provisioner")}
}

func (p *NoopProvisioner) RequestBinding(_ context.Context, domain string, port int) error {
	p.logger.Debug("no provisioner configured, binding skipped", "domain", domain, "port", port)
	return nil
}

func (p *NoopProvisioner) ReleaseBinding(_ context.Context, domain string) error {
	p.logger.Debug("no provisioner configured, release skipped", "domain", domain)
	return nil
}
