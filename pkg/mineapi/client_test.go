package mineapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetChallengeActive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/challenge", r.URL.Path)
		json.NewEncoder(w).Encode(ChallengeResponse{
			Code: CodeActive,
			Challenge: &APIChallenge{
				ChallengeID:      "C1",
				ChallengeNumber:  7,
				Day:              2,
				Difficulty:       "000007FF",
				NoPreMine:        "ab12",
				LatestSubmission: "2026-03-01T15:00:00Z",
				NoPreMineHour:    "14",
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	resp, err := c.GetChallenge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CodeActive, resp.Code)
	require.NotNil(t, resp.Challenge)

	qc, err := resp.Challenge.ToQueued(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "C1", qc.ChallengeID)
	assert.Equal(t, time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC), qc.LatestSubmission)
}

func TestGetChallengeBefore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ChallengeResponse{Code: CodeBefore, NextChallengeStartsAt: "2026-03-02T00:00:00Z"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, 0).GetChallenge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CodeBefore, resp.Code)
	assert.Nil(t, resp.Challenge)
}

func TestGetChallengeRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(ChallengeResponse{Code: CodeAfter})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL, 0).GetChallenge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CodeAfter, resp.Code)
	assert.Equal(t, 3, calls)
}

func TestSubmitSolutionOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome SubmitOutcome
	}{
		{"accepted", http.StatusOK, `{"crypto_receipt":"r1"}`, SubmitAccepted},
		{"duplicate", http.StatusConflict, `{"error":"already exists"}`, SubmitDuplicate},
		{"server error", http.StatusInternalServerError, ``, SubmitTransientError},
		{"rejected", http.StatusBadRequest, `{"error":"bad nonce"}`, SubmitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/solution/addr1/C1/deadbeef", r.URL.Path)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			outcome, receipt, _ := NewClient(srv.URL, 0).SubmitSolution(context.Background(), "addr1", "C1", "deadbeef")
			assert.Equal(t, tt.outcome, outcome)
			if tt.outcome == SubmitAccepted {
				require.NotNil(t, receipt)
				assert.Equal(t, "r1", receipt.CryptoReceipt)
			}
		})
	}
}

func TestSubmitSolutionNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 0)
	outcome, _, err := c.SubmitSolution(context.Background(), "a", "c", "n")
	assert.Equal(t, SubmitTransientError, outcome)
	assert.Error(t, err)
}

func TestRegisterFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/TandC/v2":
			json.NewEncoder(w).Encode(Terms{Version: "v2", Content: "...", Message: "sign me"})
		case r.URL.Path == "/register/addr1/sig1/pub1":
			json.NewEncoder(w).Encode(RegistrationReceipt{Address: "addr1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	terms, err := c.GetTerms(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, "sign me", terms.Message)

	receipt, err := c.Register(context.Background(), "addr1", "sig1", "pub1")
	require.NoError(t, err)
	assert.Equal(t, "addr1", receipt.Address)
}

func TestWorkToStarRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1.5, 1.2, 0.9]`))
	}))
	defer srv.Close()

	rates, err := NewClient(srv.URL, 0).WorkToStarRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 1.2, 0.9}, rates)
}

func TestDonateOutcomes(t *testing.T) {
	tests := []struct {
		status  int
		outcome DonateOutcome
	}{
		{http.StatusOK, DonateAccepted},
		{http.StatusForbidden, DonateWindowClosed},
		{http.StatusConflict, DonateDuplicate},
		{http.StatusInternalServerError, DonateTransientError},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{}`))
		}))
		outcome, _, _ := NewClient(srv.URL, 0).DonateTo(context.Background(), "dest", "orig", "sig")
		assert.Equal(t, tt.outcome, outcome)
		srv.Close()
	}
}

func TestDonationProviderFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json object", `{"address":"addr_dn1"}`, "addr_dn1"},
		{"bare string", `addr_dn2`, "addr_dn2"},
		{"quoted string", `"addr_dn3"`, "addr_dn3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			addr, err := NewHTTPDonationProvider(srv.URL).DonationAddress(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
		})
	}
}
