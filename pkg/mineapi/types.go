package mineapi

import (
	"fmt"
	"time"

	"github.com/nightcloud/nightfleet/pkg/types"
)

// Challenge status codes returned by GET /challenge.
const (
	CodeActive = "active"
	CodeBefore = "before"
	CodeAfter  = "after"
)

// ChallengeResponse is the wire form of GET /challenge.
type ChallengeResponse struct {
	Code                  string        `json:"code"`
	Challenge             *APIChallenge `json:"challenge,omitempty"`
	MiningPeriodEnds      string        `json:"mining_period_ends,omitempty"`
	MaxDay                int           `json:"max_day,omitempty"`
	TotalChallenges       int           `json:"total_challenges,omitempty"`
	CurrentDay            int           `json:"current_day,omitempty"`
	NextChallengeStartsAt string        `json:"next_challenge_starts_at,omitempty"`
}

// APIChallenge is the wire form of an active challenge.
type APIChallenge struct {
	ChallengeID      string `json:"challenge_id"`
	ChallengeNumber  int    `json:"challenge_number"`
	Day              int    `json:"day"`
	IssuedAt         string `json:"issued_at"`
	Difficulty       string `json:"difficulty"`
	NoPreMine        string `json:"no_pre_mine"`
	LatestSubmission string `json:"latest_submission"`
	NoPreMineHour    string `json:"no_pre_mine_hour"`
}

// ToQueued converts the wire challenge into the fleet's cached form.
func (c *APIChallenge) ToQueued(now time.Time) (types.QueuedChallenge, error) {
	latest, err := time.Parse(time.RFC3339, c.LatestSubmission)
	if err != nil {
		return types.QueuedChallenge{}, fmt.Errorf("bad latest_submission %q: %w", c.LatestSubmission, err)
	}
	return types.QueuedChallenge{
		ChallengeID:      c.ChallengeID,
		ChallengeNumber:  c.ChallengeNumber,
		Day:              c.Day,
		Difficulty:       c.Difficulty,
		NoPreMine:        c.NoPreMine,
		NoPreMineHour:    c.NoPreMineHour,
		LatestSubmission: latest,
		AvailableAt:      now,
	}, nil
}

// SolutionReceipt is returned by a successful solution POST. All fields
// are optional on the wire.
type SolutionReceipt struct {
	Address       string `json:"address,omitempty"`
	ChallengeID   string `json:"challenge_id,omitempty"`
	Nonce         string `json:"nonce,omitempty"`
	CryptoReceipt string `json:"crypto_receipt,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"`
}

// Terms is the wire form of GET /TandC/{version}. Message must be signed
// verbatim by an address before registration.
type Terms struct {
	Version string `json:"version"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// RegistrationReceipt is returned by POST /register.
type RegistrationReceipt struct {
	Address   string `json:"address,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// DonationReceipt is returned by POST /donate_to.
type DonationReceipt struct {
	Destination string `json:"destination,omitempty"`
	Original    string `json:"original,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// SubmitOutcome enumerates submission results. Duplicates are a normal
// outcome, not an error: the Mine API is the fleet's deduplication
// authority.
type SubmitOutcome int

const (
	SubmitAccepted SubmitOutcome = iota
	SubmitDuplicate
	SubmitTransientError
	SubmitFatal
)

func (o SubmitOutcome) String() string {
	switch o {
	case SubmitAccepted:
		return "accepted"
	case SubmitDuplicate:
		return "duplicate"
	case SubmitTransientError:
		return "transient-error"
	case SubmitFatal:
		return "fatal"
	}
	return fmt.Sprintf("submit-outcome(%d)", int(o))
}

// DonateOutcome enumerates donation results.
type DonateOutcome int

const (
	DonateAccepted DonateOutcome = iota
	// DonateWindowClosed means the donation window has not opened (403).
	DonateWindowClosed
	DonateDuplicate
	DonateTransientError
)

func (o DonateOutcome) String() string {
	switch o {
	case DonateAccepted:
		return "accepted"
	case DonateWindowClosed:
		return "window-closed"
	case DonateDuplicate:
		return "duplicate"
	case DonateTransientError:
		return "transient-error"
	}
	return fmt.Sprintf("donate-outcome(%d)", int(o))
}
