package mineapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nightcloud/nightfleet/pkg/log"
	"github.com/nightcloud/nightfleet/pkg/metrics"
)

// getRetries bounds transient retries on idempotent GETs. POSTs are never
// retried internally; the caller decides what a transient outcome means.
const getRetries = 3

// Client talks to the Mine API. All calls are rate-limited client-side so
// a large fleet does not hammer the challenge endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient creates a Mine API client. rps bounds outgoing requests per
// second; zero or negative disables limiting.
func NewClient(baseURL string, rps float64) *Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		logger:  log.WithComponent("mineapi"),
	}
}

// GetChallenge fetches the current challenge state.
func (c *Client) GetChallenge(ctx context.Context) (*ChallengeResponse, error) {
	var resp ChallengeResponse
	err := c.getJSON(ctx, "/challenge", &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitSolution POSTs a mined nonce. The outcome is enumerated: 2xx is
// Accepted, 409 is Duplicate (the API already has a solution for this
// pair), 5xx and transport errors are TransientError, other 4xx are Fatal.
func (c *Client) SubmitSolution(ctx context.Context, address, challengeID, nonce string) (SubmitOutcome, *SolutionReceipt, error) {
	path := fmt.Sprintf("/solution/%s/%s/%s",
		url.PathEscape(address), url.PathEscape(challengeID), url.PathEscape(nonce))

	status, body, err := c.post(ctx, path)
	if err != nil {
		return SubmitTransientError, nil, err
	}

	switch {
	case status >= 200 && status < 300:
		var receipt SolutionReceipt
		if err := json.Unmarshal(body, &receipt); err != nil {
			// An unparseable receipt does not undo an accepted solution.
			c.logger.Warn().Err(err).Msg("could not decode solution receipt")
		}
		return SubmitAccepted, &receipt, nil
	case status == http.StatusConflict:
		return SubmitDuplicate, nil, nil
	case status >= 500:
		return SubmitTransientError, nil, fmt.Errorf("solution endpoint returned %d", status)
	default:
		return SubmitFatal, nil, fmt.Errorf("solution endpoint returned %d: %s", status, truncate(body))
	}
}

// GetTerms fetches the terms-and-conditions document whose message field
// must be signed before registration.
func (c *Client) GetTerms(ctx context.Context, version string) (*Terms, error) {
	var terms Terms
	if err := c.getJSON(ctx, "/TandC/"+url.PathEscape(version), &terms); err != nil {
		return nil, err
	}
	return &terms, nil
}

// Register registers an address with its signed terms message.
func (c *Client) Register(ctx context.Context, address, signature, pubkey string) (*RegistrationReceipt, error) {
	path := fmt.Sprintf("/register/%s/%s/%s",
		url.PathEscape(address), url.PathEscape(signature), url.PathEscape(pubkey))
	status, body, err := c.post(ctx, path)
	if err != nil {
		return nil, err
	}
	if status == http.StatusConflict {
		// Already registered: idempotent success.
		return &RegistrationReceipt{Address: address, Message: "already registered"}, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("register returned %d: %s", status, truncate(body))
	}
	var receipt RegistrationReceipt
	if err := json.Unmarshal(body, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode registration receipt: %w", err)
	}
	return &receipt, nil
}

// WorkToStarRate fetches the daily reward-per-solution history. The last
// element is the current rate.
func (c *Client) WorkToStarRate(ctx context.Context) ([]float64, error) {
	var rates []float64
	if err := c.getJSON(ctx, "/work_to_star_rate", &rates); err != nil {
		return nil, err
	}
	return rates, nil
}

// DonateTo redirects an address's rewards to a destination address.
func (c *Client) DonateTo(ctx context.Context, destination, original, signature string) (DonateOutcome, *DonationReceipt, error) {
	path := fmt.Sprintf("/donate_to/%s/%s/%s",
		url.PathEscape(destination), url.PathEscape(original), url.PathEscape(signature))
	status, body, err := c.post(ctx, path)
	if err != nil {
		return DonateTransientError, nil, err
	}
	switch {
	case status >= 200 && status < 300:
		var receipt DonationReceipt
		if err := json.Unmarshal(body, &receipt); err != nil {
			return DonateAccepted, nil, nil
		}
		return DonateAccepted, &receipt, nil
	case status == http.StatusForbidden:
		return DonateWindowClosed, nil, nil
	case status == http.StatusConflict:
		return DonateDuplicate, nil, nil
	default:
		return DonateTransientError, nil, fmt.Errorf("donate_to returned %d: %s", status, truncate(body))
	}
}

// getJSON performs a GET with bounded transient retries.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.MineAPIRequestDuration, "GET "+path)

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%s returned %d", path, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body)))
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode %s response: %w", path, err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), getRetries), ctx)
	return backoff.Retry(operation, bo)
}

// post performs a single POST attempt and returns the raw status and body.
func (c *Client) post(ctx context.Context, path string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func truncate(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
