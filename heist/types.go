package heist

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ZeroAddress marks an open bounty: anyone but the creator may join.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Status is the lifecycle state of a heist. Transitions are one-directional
// except ESCROW -> DISPUTED, and both of those resolve to SETTLED exactly once.
type Status string

const (
	// StatusCreated is an open bounty waiting for any joiner.
	StatusCreated Status = "CREATED"
	// StatusWaiting is a targeted heist whose designated opponent has not
	// posted their stake yet. Kept distinct from CREATED so proof and bets
	// cannot sneak in before funds are actually locked.
	StatusWaiting Status = "WAITING"
	// StatusActive means both sides are funded and the dare clock is running.
	StatusActive Status = "ACTIVE"
	// StatusJudging means proof was recorded and a verdict is pending. No
	// further bets or proofs are accepted.
	StatusJudging Status = "JUDGING"
	// StatusEscrow holds funds locked after a low-confidence verdict,
	// pending the review window.
	StatusEscrow Status = "ESCROW"
	// StatusDisputed means a principal contested the verdict during the
	// review window.
	StatusDisputed Status = "DISPUTED"
	// StatusSettled is terminal: funds attributed, claims open.
	StatusSettled Status = "SETTLED"
	// StatusTimedOut is terminal: the dare window lapsed without proof and
	// all escrow was refunded.
	StatusTimedOut Status = "TIMEDOUT"
)

// Terminal reports whether no further transition may occur.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusTimedOut
}

type Mood string

const (
	MoodBrutal       Mood = "brutal"
	MoodImpressed    Mood = "impressed"
	MoodNeutral      Mood = "neutral"
	MoodDisappointed Mood = "disappointed"
)

// Heist is the central wager record. The Ledger is its only writer.
type Heist struct {
	ID       uint64 `json:"id"`
	Creator  string `json:"creator"`
	Opponent string `json:"opponent"` // ZeroAddress until an open bounty is joined
	Dare     string `json:"dare"`
	Category string `json:"category"`

	Bounty   decimal.Decimal `json:"bounty"`    // ETH, escrowed at creation
	StakeRep int64           `json:"stake_rep"` // reputation points the joiner must post

	IsVow    bool          `json:"is_vow"`
	Status   Status        `json:"status"`
	ProofURL string        `json:"proof_url,omitempty"`
	Verdict  *Verdict      `json:"verdict,omitempty"`
	Winner   string        `json:"winner,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	BetPoolP1 decimal.Decimal `json:"bet_pool_p1"`
	BetPoolP2 decimal.Decimal `json:"bet_pool_p2"`

	CreatedAt      time.Time `json:"created_at"`
	StartTime      time.Time `json:"start_time,omitempty"`
	ReviewDeadline time.Time `json:"review_deadline,omitempty"`
}

// Clone returns a copy safe to hand to readers while the Ledger keeps
// mutating the original under its lock.
func (h *Heist) Clone() *Heist {
	c := *h
	if h.Verdict != nil {
		v := *h.Verdict
		c.Verdict = &v
	}
	return &c
}

// Bet is a spectator stake on one side of a heist. Immutable once placed and
// redeemable exactly once after settlement.
type Bet struct {
	ID         uuid.UUID       `json:"id"`
	HeistID    uint64          `json:"heist_id"`
	Bettor     string          `json:"bettor"`
	SupportsP1 bool            `json:"supports_p1"`
	Amount     decimal.Decimal `json:"amount"`
	PlacedAt   time.Time       `json:"placed_at"`
}

// Verdict is the judge output merged with the forensic signal computed for
// the same submission.
type Verdict struct {
	ScoreBalls     int    `json:"score_balls"`
	ScoreExecution int    `json:"score_execution"`
	ScoreChaos     int    `json:"score_chaos"`
	Confidence     int    `json:"confidence_score"`
	Text           string `json:"verdict_text"`
	Mood           Mood   `json:"mood"`
	WinnerIsP1     bool   `json:"winner_is_p1"`

	// Fallback is set when the external judge could not produce a usable
	// verdict and the deterministic default was substituted. Fallback
	// verdicts always route to escrow, never to automatic settlement.
	Fallback bool `json:"fallback,omitempty"`

	IntegrityScore     int   `json:"integrity_score"`
	TrivialDare        bool  `json:"is_trivial_dare"`
	CollusionSuspected bool  `json:"collusion_suspected"`
	InteractionCount   int   `json:"interaction_count"`
	XPReward           int64 `json:"xp_reward"`
	XPSlash            int64 `json:"xp_slash"`
}

// FallbackVerdict is the deterministic substitute used when the judging
// oracle fails: mid scores and confidence pinned under the settle threshold
// so the heist lands in manual review instead of silently paying out.
func FallbackVerdict() Verdict {
	return Verdict{
		ScoreBalls:     5,
		ScoreExecution: 5,
		ScoreChaos:     5,
		Confidence:     50,
		Text:           "AI Overload. You got lucky this time, mortal (or maybe not).",
		Mood:           MoodNeutral,
		WinnerIsP1:     true,
		Fallback:       true,
	}
}

// JudgeRequest is what the Ledger hands the judging oracle per submission.
type JudgeRequest struct {
	HeistID  uint64
	Dare     string
	ProofURL string
	IsVow    bool
	P1       string
	P2       string
}

// NormalizeAddress lowercases an address and validates its shape.
func NormalizeAddress(addr string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(addr))
	if len(a) != 42 || !strings.HasPrefix(a, "0x") {
		return "", fmt.Errorf("%w: malformed address %q", ErrInvalidInput, addr)
	}
	for _, r := range a[2:] {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", fmt.Errorf("%w: malformed address %q", ErrInvalidInput, addr)
		}
	}
	return a, nil
}
