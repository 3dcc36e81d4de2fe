package mineapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DonationAddressProvider supplies the address used for interleaved
// donation work items. Implementations may fail at any time; the work
// queue builder then simply emits no donation items.
type DonationAddressProvider interface {
	DonationAddress(ctx context.Context) (string, error)
}

// HTTPDonationProvider fetches the donation address from a configured
// endpoint returning either a bare string body or {"address": "..."}.
type HTTPDonationProvider struct {
	endpoint string
	http     *http.Client
}

// NewHTTPDonationProvider creates a provider for the given endpoint URL.
func NewHTTPDonationProvider(endpoint string) *HTTPDonationProvider {
	return &HTTPDonationProvider{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPDonationProvider) DonationAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("donation endpoint returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var wrapped struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Address != "" {
		return wrapped.Address, nil
	}

	addr := strings.TrimSpace(strings.Trim(string(body), "\"\n"))
	if addr == "" {
		return "", fmt.Errorf("donation endpoint returned empty address")
	}
	return addr, nil
}

// StaticDonationProvider always returns the same address, for tests and
// for operators pinning a destination.
type StaticDonationProvider string

func (s StaticDonationProvider) DonationAddress(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no donation address configured")
	}
	return string(s), nil
}
