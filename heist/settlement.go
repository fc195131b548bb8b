package heist

import (
	"context"

	"github.com/shopspring/decimal"
)

// Defaults applied when a verdict reaches settlement without forensic
// context (manual resolution through the API). Base reward already carries
// the 5% chaos tax.
const (
	defaultXPReward = int64(47)
	defaultXPSlash  = int64(400)
)

var oneHundred = decimal.NewFromInt(100)

// settleLocked distributes the bounty, splits the side-bet pools and applies
// the reputation reward/slash. Callers hold st.mu and have already verified
// the state transition is legal; this runs at most once per heist because
// every path into it leaves the status terminal.
func (l *Ledger) settleLocked(ctx context.Context, st *heistState, winnerIsP1 bool, text string) {
	h := st.h

	winner, loser := h.Creator, h.Opponent
	if !winnerIsP1 {
		winner, loser = h.Opponent, h.Creator
	}

	payouts := make(map[string]decimal.Decimal)
	add := func(addr string, amt decimal.Decimal) {
		payouts[addr] = payouts[addr].Add(amt)
	}

	// Bounty. In a vow, winnerIsP1 means the dare failed; there is no
	// counterparty to pay, so the forfeited bounty goes to the house.
	if h.IsVow && winnerIsP1 {
		l.creditHouse(h.Bounty)
		st.escrow = st.escrow.Sub(h.Bounty)
	} else {
		add(winner, h.Bounty)
	}

	// Side bets. The house fee comes out of the losing pool only; the
	// bounty is never touched. With nobody on the winning side every bet
	// is refunded instead, fee-free.
	winPool, losePool := h.BetPoolP1, h.BetPoolP2
	if !winnerIsP1 {
		winPool, losePool = h.BetPoolP2, h.BetPoolP1
	}
	if winPool.IsZero() {
		for _, b := range st.bets {
			add(b.Bettor, b.Amount)
		}
	} else {
		fee := losePool.Mul(decimal.NewFromInt(l.cfg.HouseFeePct)).Div(oneHundred)
		distributable := losePool.Sub(fee)
		for _, b := range st.bets {
			if b.SupportsP1 != winnerIsP1 {
				continue
			}
			share := distributable.Mul(b.Amount).DivRound(winPool, 18)
			add(b.Bettor, b.Amount.Add(share))
		}
		l.creditHouse(fee)
		st.escrow = st.escrow.Sub(fee)
	}

	// Reputation. The winner's locked stake comes back with the reward on
	// top; the loser's stays forfeited and the slash digs further.
	reward, slash := defaultXPReward, defaultXPSlash
	if h.Verdict != nil && (h.Verdict.XPReward != 0 || h.Verdict.XPSlash != 0 || h.Verdict.TrivialDare) {
		reward, slash = h.Verdict.XPReward, h.Verdict.XPSlash
	}
	if h.IsVow {
		if winnerIsP1 {
			l.rep.Debit(h.Creator, slash)
		} else {
			l.rep.Credit(h.Creator, st.stakedRep[h.Creator]+reward)
		}
	} else {
		l.rep.Credit(winner, st.stakedRep[winner]+reward)
		l.rep.Debit(loser, slash)
	}

	h.Status = StatusSettled
	if h.IsVow && winnerIsP1 {
		h.Winner = "" // broken vow: nobody wins
	} else {
		h.Winner = winner
	}
	if h.Verdict != nil && text != "" {
		h.Verdict.Text = text
	}
	st.payouts = payouts

	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist settlement: %v", h.ID, err)
	}
	l.log.Infof("heist %d settled: winner=%s bounty=%s pools=%s/%s",
		h.ID, winner, h.Bounty.String(), h.BetPoolP1.String(), h.BetPoolP2.String())
}

// expireLocked unwinds an ACTIVE heist whose dare window lapsed: bounty back
// to the creator, locked stakes back to their owners, every bet refunded.
// Callers hold st.mu.
func (l *Ledger) expireLocked(ctx context.Context, st *heistState) {
	h := st.h

	payouts := make(map[string]decimal.Decimal)
	payouts[h.Creator] = h.Bounty
	for _, b := range st.bets {
		payouts[b.Bettor] = payouts[b.Bettor].Add(b.Amount)
	}
	for addr, pts := range st.stakedRep {
		if pts > 0 {
			l.rep.Credit(addr, pts)
		}
	}

	h.Status = StatusTimedOut
	st.payouts = payouts

	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist timeout: %v", h.ID, err)
	}
	l.log.Infof("heist %d timed out after %s; escrow refunded", h.ID, h.Duration)
}
