package proxycheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Scorer rates how likely an IP is to be a proxy or VPN, from 0 to 1.
// Negative scores are service-side errors.
type Scorer interface {
	Score(ctx context.Context, ip string) (float64, error)
}

// GetIPIntel queries check.getipintel.net.
type GetIPIntel struct {
	endpoint string
	contact  string
	http     *http.Client
}

func NewGetIPIntel(endpoint, contact string, timeout time.Duration) *GetIPIntel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GetIPIntel{
		endpoint: endpoint,
		contact:  contact,
		http:     &http.Client{Timeout: timeout},
	}
}

func (g *GetIPIntel) Score(ctx context.Context, ip string) (float64, error) {
	u, err := url.Parse(g.endpoint)
	if err != nil {
		return 0, fmt.Errorf("proxy check endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ip", ip)
	q.Set("format", "json")
	q.Set("contact", g.contact)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("proxy check: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status  string      `json:"status"`
		Result  json.Number `json:"result"`
		Message string      `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&result); err != nil {
		return 0, fmt.Errorf("proxy check: decode response (status %d): %w", resp.StatusCode, err)
	}
	score, err := result.Result.Float64()
	if err != nil {
		return 0, fmt.Errorf("proxy check: result %q: %w", result.Result, err)
	}
	if result.Status == "error" && score >= 0 {
		return -1, fmt.Errorf("proxy check: %s", result.Message)
	}
	return score, nil
}

// Disabled always scores zero.
type Disabled struct{}

func (Disabled) Score(context.Context, string) (float64, error) { return 0, nil }
