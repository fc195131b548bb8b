package heist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/shopspring/decimal"
)

var (
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	addrC = "0xcccccccccccccccccccccccccccccccccccccccc"
	addrD = "0xdddddddddddddddddddddddddddddddddddddddd"
)

// stubJudge returns a fixed verdict or error.
type stubJudge struct {
	v     Verdict
	err   error
	calls int
	mu    sync.Mutex
}

func (j *stubJudge) Judge(ctx context.Context, req JudgeRequest) (Verdict, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	return j.v, j.err
}

// stubStore counts saves and never fails.
type stubStore struct {
	mu    sync.Mutex
	saves int
}

func (s *stubStore) SaveHeist(ctx context.Context, h *Heist) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *stubStore) SaveBet(ctx context.Context, b *Bet) error { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T, judge Judge) (*Ledger, *fakeClock) {
	t.Helper()
	if judge == nil {
		judge = &stubJudge{v: FallbackVerdict()}
	}
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(Config{}, judge, &stubStore{}, NewRepBook(), slog.Disabled, clock.now)
	return l, clock
}

func eth(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestCreateOpenBounty(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, err := l.Create(ctx, addrA, "", "eat a ghost pepper on camera", "spicy", eth("0.5"), 100, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h, err := l.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Status != StatusCreated {
		t.Fatalf("status = %s, want %s", h.Status, StatusCreated)
	}
	if h.Opponent != ZeroAddress {
		t.Fatalf("opponent = %s, want zero address", h.Opponent)
	}
}

func TestCreateTargetedStartsWaiting(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, err := l.Create(ctx, addrA, addrB, "sing in the subway", "", eth("1"), 50, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h, _ := l.Get(id)
	if h.Status != StatusWaiting {
		t.Fatalf("status = %s, want %s", h.Status, StatusWaiting)
	}

	// The reserved slot rejects everyone but the designated opponent.
	if err := l.Join(ctx, id, addrC); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("join by stranger: %v, want ErrNotJoinable", err)
	}
	if err := l.Join(ctx, id, addrB); err != nil {
		t.Fatalf("join by opponent: %v", err)
	}
	h, _ = l.Get(id)
	if h.Status != StatusActive {
		t.Fatalf("status = %s, want %s", h.Status, StatusActive)
	}
	if h.StartTime.IsZero() {
		t.Fatalf("start time not set on join")
	}
}

func TestCreateValidation(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	cases := []struct {
		name     string
		creator  string
		dare     string
		bounty   decimal.Decimal
		stakeRep int64
	}{
		{"bad address", "nobody", "do it", eth("1"), 0},
		{"zero creator", ZeroAddress, "do it", eth("1"), 0},
		{"empty dare", addrA, "", eth("1"), 0},
		{"zero bounty", addrA, "do it", decimal.Zero, 0},
		{"negative bounty", addrA, "do it", eth("-1"), 0},
		{"negative stake", addrA, "do it", eth("1"), -5},
	}
	for _, tc := range cases {
		_, err := l.Create(ctx, tc.creator, "", tc.dare, "", tc.bounty, tc.stakeRep, 0)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestCreateRollbackOnStoreFailure(t *testing.T) {
	l := NewLedger(Config{}, &stubJudge{}, alwaysFailStore{}, NewRepBook(), slog.Disabled, nil)

	// A vow stakes rep up front; the rollback must refund it.
	rep := l.Rep()
	rep.Seed(addrA, 1000)
	_, err := l.Create(context.Background(), addrA, addrA, "wake at 5am all week", "", eth("1"), 200, time.Hour)
	if err == nil {
		t.Fatalf("create succeeded with failing store")
	}
	if got := rep.Balance(addrA); got != 1000 {
		t.Fatalf("stake not refunded after rollback: balance = %d, want 1000", got)
	}
	if heists := l.List(""); len(heists) != 0 {
		t.Fatalf("orphan record survived rollback: %d heists", len(heists))
	}
}

type alwaysFailStore struct{}

func (alwaysFailStore) SaveHeist(ctx context.Context, h *Heist) error {
	return errors.New("disk on fire")
}
func (alwaysFailStore) SaveBet(ctx context.Context, b *Bet) error {
	return errors.New("disk on fire")
}

func TestVowCreateGoesActive(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()
	l.Rep().Seed(addrA, 500)

	id, err := l.Create(ctx, addrA, addrA, "no sugar for a month", "", eth("0.1"), 300, 0)
	if err != nil {
		t.Fatalf("create vow: %v", err)
	}
	h, _ := l.Get(id)
	if !h.IsVow {
		t.Fatalf("IsVow = false")
	}
	if h.Status != StatusActive {
		t.Fatalf("status = %s, want %s", h.Status, StatusActive)
	}
	if got := l.Rep().Balance(addrA); got != 200 {
		t.Fatalf("stake not locked: balance = %d, want 200", got)
	}
}

func TestVowInsufficientRep(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	l.Rep().Seed(addrA, 100)
	_, err := l.Create(context.Background(), addrA, addrA, "run a marathon", "", eth("0.1"), 300, 0)
	if !errors.Is(err, ErrInsufficientRep) {
		t.Fatalf("err = %v, want ErrInsufficientRep", err)
	}
}

func TestJoinRaceSingleWinner(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, err := l.Create(ctx, addrA, "", "handstand for a minute", "", eth("1"), 0, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const contenders = 16
	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			joiner := fmt.Sprintf("0x%040x", i+1)
			errs[i] = l.Join(ctx, id, joiner)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrAlreadyJoined) {
			t.Fatalf("loser got %v, want ErrAlreadyJoined", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d joins succeeded, want exactly 1", wins)
	}
	h, _ := l.Get(id)
	if h.Status != StatusActive {
		t.Fatalf("status = %s, want %s", h.Status, StatusActive)
	}
}

func TestJoinRejectsCreatorAndTerminal(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "learn to juggle", "", eth("1"), 0, 0)
	if err := l.Join(ctx, id, addrA); !errors.Is(err, ErrNotJoinable) {
		t.Fatalf("creator self-join: %v, want ErrNotJoinable", err)
	}
	if err := l.Join(ctx, 999, addrB); !errors.Is(err, ErrNotFound) {
		t.Fatalf("join missing heist: %v, want ErrNotFound", err)
	}
}

func TestBetsOnlyWhileActive(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "busk for an hour", "", eth("1"), 0, 0)
	if _, err := l.PlaceBet(ctx, id, addrC, true, eth("0.1")); !errors.Is(err, ErrNotBettable) {
		t.Fatalf("bet before join: %v, want ErrNotBettable", err)
	}
	if err := l.Join(ctx, id, addrB); err != nil {
		t.Fatalf("join: %v", err)
	}

	b, err := l.PlaceBet(ctx, id, addrC, true, eth("0.2"))
	if err != nil {
		t.Fatalf("bet: %v", err)
	}
	if b.ID.String() == "" {
		t.Fatalf("bet id empty")
	}
	if _, err := l.PlaceBet(ctx, id, addrD, false, eth("-1")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("negative bet: %v, want ErrInvalidInput", err)
	}

	h, _ := l.Get(id)
	if !h.BetPoolP1.Equal(eth("0.2")) {
		t.Fatalf("pool p1 = %s, want 0.2", h.BetPoolP1)
	}
	bets, err := l.Bets(id)
	if err != nil || len(bets) != 1 {
		t.Fatalf("bets = %d (%v), want 1", len(bets), err)
	}
}

func TestSubmitProofHighConfidenceSettles(t *testing.T) {
	judge := &stubJudge{v: Verdict{
		ScoreBalls: 9, ScoreExecution: 8, ScoreChaos: 7,
		Confidence: 95, Text: "flawless", Mood: MoodImpressed,
		WinnerIsP1: false,
	}}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "karaoke a power ballad", "", eth("1"), 0, 0)
	if err := l.Join(ctx, id, addrB); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Only the daredevil may submit.
	if err := l.SubmitProof(ctx, id, addrA, "ipfs://proof"); !errors.Is(err, ErrNotSubmittable) {
		t.Fatalf("creator submit: %v, want ErrNotSubmittable", err)
	}
	if err := l.SubmitProof(ctx, id, addrB, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty url: %v, want ErrInvalidInput", err)
	}
	if err := l.SubmitProof(ctx, id, addrB, "ipfs://proof"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if judge.calls != 1 {
		t.Fatalf("judge called %d times, want 1", judge.calls)
	}

	h, _ := l.Get(id)
	if h.Status != StatusSettled {
		t.Fatalf("status = %s, want %s", h.Status, StatusSettled)
	}
	if h.Winner != addrB {
		t.Fatalf("winner = %s, want %s", h.Winner, addrB)
	}
	if h.Verdict == nil || h.Verdict.Confidence != 95 {
		t.Fatalf("verdict not recorded: %+v", h.Verdict)
	}

	// Second proof after settlement must not re-judge.
	if err := l.SubmitProof(ctx, id, addrB, "ipfs://again"); !errors.Is(err, ErrNotSubmittable) {
		t.Fatalf("resubmit: %v, want ErrNotSubmittable", err)
	}
	if judge.calls != 1 {
		t.Fatalf("judge re-invoked after settlement")
	}
}

func TestLowConfidenceRoutesToEscrow(t *testing.T) {
	judge := &stubJudge{v: Verdict{
		ScoreBalls: 5, ScoreExecution: 5, ScoreChaos: 5,
		Confidence: 50, Text: "hard to tell", Mood: MoodNeutral,
		WinnerIsP1: false,
	}}
	l, clock := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "parallel park blindfolded... kidding, eyes open", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	if err := l.SubmitProof(ctx, id, addrB, "ipfs://blurry"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h, _ := l.Get(id)
	if h.Status != StatusEscrow {
		t.Fatalf("status = %s, want %s", h.Status, StatusEscrow)
	}
	if !h.ReviewDeadline.After(clock.now()) {
		t.Fatalf("review deadline not in the future")
	}

	// Nothing settled: no claimable payouts yet.
	if _, err := l.ClaimWinnings(ctx, id, addrB); !errors.Is(err, ErrNotSettled) {
		t.Fatalf("claim from escrow: %v, want ErrNotSettled", err)
	}
}

func TestJudgeErrorFallsBackToEscrow(t *testing.T) {
	judge := &stubJudge{err: errors.New("oracle down")}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "recite pi to 50 digits", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	if err := l.SubmitProof(ctx, id, addrB, "ipfs://video"); err != nil {
		t.Fatalf("submit should absorb judge failure: %v", err)
	}

	h, _ := l.Get(id)
	if h.Status != StatusEscrow {
		t.Fatalf("status = %s, want %s", h.Status, StatusEscrow)
	}
	if h.Verdict == nil || !h.Verdict.Fallback {
		t.Fatalf("fallback verdict not recorded: %+v", h.Verdict)
	}
}

func TestFallbackVerdictForcesEscrowEvenWithHighConfidence(t *testing.T) {
	v := FallbackVerdict()
	v.Confidence = 99
	judge := &stubJudge{v: v}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "free solo the garden fence", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	if err := l.SubmitProof(ctx, id, addrB, "ipfs://v"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h, _ := l.Get(id)
	if h.Status != StatusEscrow {
		t.Fatalf("fallback with high confidence settled; status = %s", h.Status)
	}
}

func TestDisputeFlow(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 40, Text: "meh", Mood: MoodNeutral, WinnerIsP1: true,
		ScoreBalls: 4, ScoreExecution: 4, ScoreChaos: 4}}
	l, clock := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "moonwalk through the office", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	l.SubmitProof(ctx, id, addrB, "ipfs://moon")

	// Only principals may dispute.
	if err := l.Dispute(ctx, id, addrC); !errors.Is(err, ErrNotDisputable) {
		t.Fatalf("stranger dispute: %v, want ErrNotDisputable", err)
	}
	if err := l.Dispute(ctx, id, addrB); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	h, _ := l.Get(id)
	if h.Status != StatusDisputed {
		t.Fatalf("status = %s, want %s", h.Status, StatusDisputed)
	}

	// Disputed heists are immune to the deadline sweep.
	clock.advance(48 * time.Hour)
	if n := l.ResolveDue(ctx); n != 0 {
		t.Fatalf("sweep settled a disputed heist")
	}

	if err := l.ResolveDispute(ctx, id, false, "overturned on review"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	h, _ = l.Get(id)
	if h.Status != StatusSettled {
		t.Fatalf("status = %s, want %s", h.Status, StatusSettled)
	}
	if h.Winner != addrB {
		t.Fatalf("winner = %s, want %s", h.Winner, addrB)
	}
	if h.Verdict.Text != "overturned on review" {
		t.Fatalf("verdict text = %q", h.Verdict.Text)
	}

	// Exactly once.
	if err := l.ResolveDispute(ctx, id, true, ""); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("double resolve: %v, want ErrAlreadySettled", err)
	}
}

func TestDisputeWindowCloses(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 40, Text: "meh", Mood: MoodNeutral,
		ScoreBalls: 4, ScoreExecution: 4, ScoreChaos: 4}}
	l, clock := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "ice bath for five minutes", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	l.SubmitProof(ctx, id, addrB, "ipfs://brr")

	clock.advance(25 * time.Hour)
	if err := l.Dispute(ctx, id, addrB); !errors.Is(err, ErrNotDisputable) {
		t.Fatalf("late dispute: %v, want ErrNotDisputable", err)
	}
}

func TestResolveDueAppliesVerdictAsRendered(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 60, Text: "probably fine", Mood: MoodNeutral,
		WinnerIsP1: false, ScoreBalls: 6, ScoreExecution: 6, ScoreChaos: 6}}
	l, clock := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "cold call your childhood hero", "", eth("2"), 0, 0)
	l.Join(ctx, id, addrB)
	l.SubmitProof(ctx, id, addrB, "ipfs://call")

	if n := l.ResolveDue(ctx); n != 0 {
		t.Fatalf("sweep fired before deadline: %d", n)
	}
	clock.advance(25 * time.Hour)
	if n := l.ResolveDue(ctx); n != 1 {
		t.Fatalf("sweep resolved %d, want 1", n)
	}
	h, _ := l.Get(id)
	if h.Status != StatusSettled || h.Winner != addrB {
		t.Fatalf("status=%s winner=%s, want SETTLED/%s", h.Status, h.Winner, addrB)
	}
}

func TestExpireDueRefundsEverything(t *testing.T) {
	l, clock := newTestLedger(t, nil)
	ctx := context.Background()
	l.Rep().Seed(addrB, 1000)

	id, _ := l.Create(ctx, addrA, "", "30 day plank streak", "", eth("1"), 250, 24*time.Hour)
	l.Join(ctx, id, addrB)
	if got := l.Rep().Balance(addrB); got != 750 {
		t.Fatalf("stake not locked: %d", got)
	}
	if _, err := l.PlaceBet(ctx, id, addrC, true, eth("0.3")); err != nil {
		t.Fatalf("bet: %v", err)
	}

	clock.advance(12 * time.Hour)
	if n := l.ExpireDue(ctx); n != 0 {
		t.Fatalf("expired early: %d", n)
	}
	clock.advance(13 * time.Hour)
	if n := l.ExpireDue(ctx); n != 1 {
		t.Fatalf("expired %d, want 1", n)
	}

	h, _ := l.Get(id)
	if h.Status != StatusTimedOut {
		t.Fatalf("status = %s, want %s", h.Status, StatusTimedOut)
	}
	if got := l.Rep().Balance(addrB); got != 1000 {
		t.Fatalf("stake not returned: %d", got)
	}

	// Creator reclaims the bounty, the bettor their stake.
	amt, err := l.ClaimWinnings(ctx, id, addrA)
	if err != nil || !amt.Equal(eth("1")) {
		t.Fatalf("creator claim = %s (%v), want 1", amt, err)
	}
	amt, err = l.ClaimWinnings(ctx, id, addrC)
	if err != nil || !amt.Equal(eth("0.3")) {
		t.Fatalf("bettor claim = %s (%v), want 0.3", amt, err)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 95, Text: "done", Mood: MoodImpressed,
		WinnerIsP1: false, ScoreBalls: 8, ScoreExecution: 8, ScoreChaos: 8}}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "swim across the lake", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	l.SubmitProof(ctx, id, addrB, "ipfs://swim")

	amt, err := l.ClaimWinnings(ctx, id, addrB)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !amt.Equal(eth("1")) {
		t.Fatalf("claim = %s, want 1", amt)
	}
	if _, err := l.ClaimWinnings(ctx, id, addrB); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("double claim: %v, want ErrAlreadyClaimed", err)
	}
	// The loser has nothing.
	if _, err := l.ClaimWinnings(ctx, id, addrA); !errors.Is(err, ErrNotFound) {
		t.Fatalf("loser claim: %v, want ErrNotFound", err)
	}
}

func TestConcurrentClaimSinglePayout(t *testing.T) {
	judge := &stubJudge{v: Verdict{Confidence: 95, Text: "done", Mood: MoodImpressed,
		WinnerIsP1: false, ScoreBalls: 8, ScoreExecution: 8, ScoreChaos: 8}}
	l, _ := newTestLedger(t, judge)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "bike up the hill nonstop", "", eth("1"), 0, 0)
	l.Join(ctx, id, addrB)
	l.SubmitProof(ctx, id, addrB, "ipfs://bike")

	const claimers = 8
	var wg sync.WaitGroup
	paid := make([]bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.ClaimWinnings(ctx, id, addrB); err == nil {
				paid[i] = true
			}
		}(i)
	}
	wg.Wait()

	n := 0
	for _, ok := range paid {
		if ok {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("%d claims paid, want exactly 1", n)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id1, _ := l.Create(ctx, addrA, "", "first dare here", "", eth("1"), 0, 0)
	l.Create(ctx, addrA, "", "second dare here", "", eth("1"), 0, 0)
	l.Join(ctx, id1, addrB)

	if got := len(l.List("")); got != 2 {
		t.Fatalf("all = %d, want 2", got)
	}
	if got := len(l.List(StatusActive)); got != 1 {
		t.Fatalf("active = %d, want 1", got)
	}
	if got := len(l.List(StatusCreated)); got != 1 {
		t.Fatalf("created = %d, want 1", got)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	l, _ := newTestLedger(t, nil)
	ctx := context.Background()

	id, _ := l.Create(ctx, addrA, "", "read a poem aloud", "", eth("1"), 0, 0)
	h1, _ := l.Get(id)
	h1.Status = StatusSettled
	h1.Dare = "tampered"
	h2, _ := l.Get(id)
	if h2.Status != StatusCreated || h2.Dare != "read a poem aloud" {
		t.Fatalf("ledger state mutated through a returned copy")
	}
}
