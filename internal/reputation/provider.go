package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Report is the raw provider response for one IP.
type Report struct {
	VPN        bool `json:"vpn"`
	Proxy      bool `json:"proxy"`
	Tor        bool `json:"tor"`
	Datacenter bool `json:"datacenter"`
	FraudScore int  `json:"fraud_score"`
}

// Provider performs the external reputation lookup.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*Report, error)
}

// HTTPProvider queries a JSON reputation API of the form
// GET {baseURL}/{ip}?key={apiKey}.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given endpoint.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*Report, error) {
	u := fmt.Sprintf("%s/%s", p.baseURL, url.PathEscape(ip))
	if p.apiKey != "" {
		u += "?key=" + url.QueryEscape(p.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation provider returned status %d", resp.StatusCode)
	}

	var report Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode reputation response: %w", err)
	}
	return &report, nil
}
