// Package forensic computes the collusion/triviality risk of a heist pairing
// and the XP schedule that settlement applies. It is a pure function of its
// inputs plus an injected sliding-window interaction store; it never touches
// the network.
package forensic

import (
	"strings"
	"time"
)

const (
	// ZeroAddress is exempt from the self-interaction (vow) special case.
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// Window is the collusion lookback per address pair.
	Window = 7 * 24 * time.Hour
	// CollusionThreshold flags a pair once interactions within the window
	// exceed it.
	CollusionThreshold = 2

	// MinDareLength marks anything shorter as trivial.
	MinDareLength = 5

	baseWinXP   = 50
	baseSlashXP = 400 // 8:1 against the reward, so farming wins is loss-making
	chaosTaxPct = 5   // burned from every reward

	trivialPenalty   = 60
	collusionPenalty = 50
	vowFloor         = 80
)

var trivialDares = map[string]struct{}{
	"say hi":        {},
	"post a dot":    {},
	"gm":            {},
	"hello":         {},
	"test":          {},
	".":             {},
	"a":             {},
	"anything":      {},
	"post anything": {},
	"just post":     {},
	"say anything":  {},
}

// Result is recomputed per judging attempt, never persisted as primary state.
type Result struct {
	IntegrityScore     int    `json:"integrity_score"`
	TrivialDare        bool   `json:"is_trivial_dare"`
	CollusionSuspected bool   `json:"collusion_suspected"`
	InteractionCount   int    `json:"interaction_count"`
	XPReward           int64  `json:"xp_reward"`
	XPSlash            int64  `json:"xp_slash"`
	Reason             string `json:"reason"`
}

// Evaluator owns the interaction window state. Construct one per process and
// inject it where needed; the store is explicit so tests control time.
type Evaluator struct {
	store InteractionStore
	now   func() time.Time
}

// NewEvaluator builds an evaluator. store may be nil for a fresh in-memory
// store, now may be nil for wall-clock time.
func NewEvaluator(store InteractionStore, now func() time.Time) *Evaluator {
	if store == nil {
		store = NewMemStore()
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{store: store, now: now}
}

// EvictStale drops pair windows that have lapsed and reports how many.
func (e *Evaluator) EvictStale() int {
	return e.store.EvictStale(e.now())
}

// Evaluate scores one pairing for one dare. Every call counts as a potential
// collusion signal and bumps the pair's window counter.
func (e *Evaluator) Evaluate(p1, p2, dare string) Result {
	norm := strings.ToLower(strings.TrimSpace(dare))
	_, listed := trivialDares[norm]
	trivial := listed || len(norm) < MinDareLength

	count := e.store.Bump(PairKey(p1, p2), e.now())
	collusion := count > CollusionThreshold

	score := 100
	reason := "Clean heist"
	if trivial {
		score -= trivialPenalty
		reason = "Trivial dare detected - XP reward minimized"
	}
	if collusion {
		score -= collusionPenalty
		reason = "Collusion pattern detected"
	}

	p1l, p2l := strings.ToLower(p1), strings.ToLower(p2)
	if p1l == p2l && p1l != ZeroAddress {
		// Self-challenge is a vow, not collusion: floor the score
		// instead of stacking penalties.
		if score < vowFloor {
			score = vowFloor
		}
		reason = "The Vow - Self-commitment detected"
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	reward := int64(baseWinXP)
	slash := int64(baseSlashXP)
	if trivial {
		reward = 0
		slash = baseSlashXP * 2
	}
	if collusion {
		reward = reward / 10
		slash = baseSlashXP * 3 / 2
	}
	reward = reward * (100 - chaosTaxPct) / 100

	return Result{
		IntegrityScore:     score,
		TrivialDare:        trivial,
		CollusionSuspected: collusion,
		InteractionCount:   count,
		XPReward:           reward,
		XPSlash:            slash,
		Reason:             reason,
	}
}

// PairKey canonicalizes an unordered address pair so (A,B) and (B,A) share a
// window counter.
func PairKey(a, b string) string {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	if bl < al {
		al, bl = bl, al
	}
	return al + "-" + bl
}
