package heist

// ResumeFrom advances the id counter past ids already on disk so restarted
// ledgers keep ids monotonic.
func (l *Ledger) ResumeFrom(maxID uint64) {
	l.mu.Lock()
	if maxID > l.nextID {
		l.nextID = maxID
	}
	l.mu.Unlock()
}

// Restore rehydrates one heist from durable storage at startup. Non-terminal
// heists resume their full escrow accounting and continue through the state
// machine. Terminal heists come back read-only: payout attribution is not
// persisted, so unredeemed claims do not survive a restart rather than risk
// paying twice.
func (l *Ledger) Restore(h *Heist, bets []*Bet) {
	st := &heistState{
		h:         h.Clone(),
		bets:      append([]*Bet(nil), bets...),
		claimed:   make(map[string]bool),
		stakedRep: make(map[string]int64),
	}
	if !h.Status.Terminal() {
		st.escrow = h.Bounty.Add(h.BetPoolP1).Add(h.BetPoolP2)
		if h.Status == StatusActive || h.Status == StatusJudging ||
			h.Status == StatusEscrow || h.Status == StatusDisputed {
			st.stakedRep[h.Opponent] = h.StakeRep
		}
		// A restart can strand a heist in JUDGING if the process died
		// mid-oracle-call. Park it in escrow for manual review so it
		// still moves forward.
		if h.Status == StatusJudging {
			st.h.Status = StatusEscrow
			st.h.ReviewDeadline = l.now().Add(l.cfg.ReviewWindow)
			if st.h.Verdict == nil {
				v := FallbackVerdict()
				st.h.Verdict = &v
			}
			l.log.Warnf("heist %d restored mid-judging; parked in escrow for review", h.ID)
		}
	}

	l.mu.Lock()
	l.heists[h.ID] = st
	if h.ID > l.nextID {
		l.nextID = h.ID
	}
	l.mu.Unlock()
}
