package heist

import (
	"context"
	"errors"
	"testing"
)

func TestRestoreActiveHeistContinues(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 95, Text: "done", Mood: MoodImpressed,
		WinnerIsP1: false, ScoreBalls: 8, ScoreExecution: 8, ScoreChaos: 6}}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	l.Restore(&Heist{
		ID: 5, Creator: addrA, Opponent: addrB,
		Dare: "restored mid-flight", Bounty: eth("1"),
		Status: StatusActive, StakeRep: 100,
		BetPoolP1: eth("0"), BetPoolP2: eth("0"),
	}, nil)
	l.ResumeFrom(5)

	// The restored heist walks the rest of the machine normally.
	if err := l.SubmitProof(ctx, 5, addrB, "ipfs://late"); err != nil {
		t.Fatalf("submit on restored: %v", err)
	}
	h, _ := l.Get(5)
	if h.Status != StatusSettled {
		t.Fatalf("status = %s, want %s", h.Status, StatusSettled)
	}

	// New ids continue past the restored ones.
	id, err := l.Create(ctx, addrC, "", "fresh dare after restart", "", eth("1"), 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 6 {
		t.Fatalf("id = %d, want 6", id)
	}
}

func TestRestoreJudgingParksInEscrow(t *testing.T) {
	l, clock := newTestLedger(t, nil)

	l.Restore(&Heist{
		ID: 3, Creator: addrA, Opponent: addrB,
		Dare: "died mid judging", Bounty: eth("1"),
		Status:    StatusJudging,
		BetPoolP1: eth("0"), BetPoolP2: eth("0"),
	}, nil)

	h, err := l.Get(3)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Status != StatusEscrow {
		t.Fatalf("status = %s, want %s", h.Status, StatusEscrow)
	}
	if h.Verdict == nil || !h.Verdict.Fallback {
		t.Fatalf("no fallback verdict attached: %+v", h.Verdict)
	}
	if !h.ReviewDeadline.After(clock.now()) {
		t.Fatalf("no fresh review deadline")
	}
}

func TestRestoreTerminalHasNoClaims(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	l.Restore(&Heist{
		ID: 2, Creator: addrA, Opponent: addrB, Winner: addrB,
		Dare: "already settled", Bounty: eth("1"),
		Status:    StatusSettled,
		BetPoolP1: eth("0"), BetPoolP2: eth("0"),
	}, nil)

	// Payout attribution is not persisted, so nothing is redeemable.
	if _, err := l.ClaimWinnings(ctx, 2, addrB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim on restored terminal: %v, want ErrNotFound", err)
	}
	h, _ := l.Get(2)
	if h.Status != StatusSettled || h.Winner != addrB {
		t.Fatalf("terminal restore mangled record: %+v", h)
	}
}
