package heist

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/sasha-s/go-deadlock"
	"github.com/shopspring/decimal"
)

// Judge renders a verdict for a submitted proof. Implementations must return
// a usable verdict or an error; the ledger substitutes the deterministic
// fallback on error so a heist never wedges in JUDGING.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (Verdict, error)
}

// Store is the persistence facade the ledger writes through. The in-memory
// ledger state is the source of truth; Store writes are durability records
// and a failed write never rolls back escrow state (except at creation,
// which is compensated so no record exists without its escrow row).
type Store interface {
	SaveHeist(ctx context.Context, h *Heist) error
	SaveBet(ctx context.Context, b *Bet) error
}

// Config carries the tunables of the settlement policy.
type Config struct {
	// ConfidenceThreshold gates automatic settlement; verdicts below it
	// land in ESCROW. Default 80.
	ConfidenceThreshold int
	// HouseFeePct is applied to the losing bet pool only, never the bounty.
	// Default 10.
	HouseFeePct int64
	// ListingFee is charged on top of the bounty at creation.
	ListingFee decimal.Decimal
	// ReviewWindow is how long a low-confidence heist stays in ESCROW
	// before the rendered verdict is applied as-is. Default 24h.
	ReviewWindow time.Duration
	// JudgeTimeout bounds the single judging attempt. Default 30s.
	JudgeTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 80
	}
	if c.HouseFeePct == 0 {
		c.HouseFeePct = 10
	}
	if c.ReviewWindow == 0 {
		c.ReviewWindow = 24 * time.Hour
	}
	if c.JudgeTimeout == 0 {
		c.JudgeTimeout = 30 * time.Second
	}
}

// heistState pairs a heist with its own lock so independent heists never
// contend. All fund movement for the heist happens under mu.
type heistState struct {
	mu deadlock.Mutex

	h    *Heist
	bets []*Bet

	// escrow is the ETH actually held for this heist (bounty + bet pools).
	escrow decimal.Decimal
	// payouts is filled exactly once at settlement or timeout; claimed
	// tracks redemption per claimant.
	payouts map[string]decimal.Decimal
	claimed map[string]bool
	// stakedRep locked from the joiner until settlement.
	stakedRep map[string]int64
}

// Ledger owns every heist lifecycle, the escrow accounting, the side-bet
// pools and the reputation book. All mutating calls on one heist id are
// serialized; different ids proceed concurrently.
type Ledger struct {
	mu     deadlock.RWMutex
	heists map[uint64]*heistState
	nextID uint64

	cfg   Config
	judge Judge
	store Store
	rep   *RepBook
	log   slog.Logger
	now   func() time.Time

	houseMu   deadlock.Mutex
	houseTake decimal.Decimal
}

// NewLedger wires the ledger with its collaborators. now may be nil for
// wall-clock time.
func NewLedger(cfg Config, judge Judge, store Store, rep *RepBook, log slog.Logger, now func() time.Time) *Ledger {
	cfg.setDefaults()
	if now == nil {
		now = time.Now
	}
	if rep == nil {
		rep = NewRepBook()
	}
	return &Ledger{
		heists: make(map[uint64]*heistState),
		cfg:    cfg,
		judge:  judge,
		store:  store,
		rep:    rep,
		log:    log,
		now:    now,
	}
}

// Rep exposes the reputation book for read access and oracle seeding.
func (l *Ledger) Rep() *RepBook { return l.rep }

// HouseTake reports accumulated listing fees and pool fees.
func (l *Ledger) HouseTake() decimal.Decimal {
	l.houseMu.Lock()
	defer l.houseMu.Unlock()
	return l.houseTake
}

func (l *Ledger) creditHouse(amt decimal.Decimal) {
	l.houseMu.Lock()
	l.houseTake = l.houseTake.Add(amt)
	l.houseMu.Unlock()
}

// get returns the state for id, or nil.
func (l *Ledger) get(id uint64) *heistState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.heists[id]
}

// Create escrows the bounty (plus the listing fee) atomically with the
// record. Open bounties (opponent zero) start in CREATED, targeted heists in
// WAITING, vows go straight to ACTIVE with the creator as their own
// opponent.
func (l *Ledger) Create(ctx context.Context, creator, opponent, dare, category string, bounty decimal.Decimal, stakeRep int64, duration time.Duration) (uint64, error) {
	creator, err := NormalizeAddress(creator)
	if err != nil {
		return 0, err
	}
	if opponent == "" {
		opponent = ZeroAddress
	}
	opponent, err = NormalizeAddress(opponent)
	if err != nil {
		return 0, err
	}
	if creator == ZeroAddress {
		return 0, fmt.Errorf("%w: creator cannot be the zero address", ErrInvalidInput)
	}
	if dare == "" {
		return 0, fmt.Errorf("%w: empty dare", ErrInvalidInput)
	}
	if !bounty.IsPositive() {
		return 0, fmt.Errorf("%w: bounty must be positive", ErrInvalidInput)
	}
	if stakeRep < 0 {
		return 0, fmt.Errorf("%w: negative stake", ErrInvalidInput)
	}

	isVow := opponent == creator
	ts := l.now()
	h := &Heist{
		Creator:   creator,
		Opponent:  opponent,
		Dare:      dare,
		Category:  category,
		Bounty:    bounty,
		StakeRep:  stakeRep,
		IsVow:     isVow,
		Duration:  duration,
		CreatedAt: ts,
		BetPoolP1: decimal.Zero,
		BetPoolP2: decimal.Zero,
	}
	st := &heistState{
		h:         h,
		escrow:    bounty,
		claimed:   make(map[string]bool),
		stakedRep: make(map[string]int64),
	}
	switch {
	case isVow:
		// A vow is self-funded: the creator posts the rep stake now and
		// the dare clock starts immediately.
		if stakeRep > 0 && !l.rep.TryDebit(creator, stakeRep) {
			return 0, fmt.Errorf("%w: vow stake %d", ErrInsufficientRep, stakeRep)
		}
		st.stakedRep[creator] = stakeRep
		h.Status = StatusActive
		h.StartTime = ts
	case opponent == ZeroAddress:
		h.Status = StatusCreated
	default:
		h.Status = StatusWaiting
	}

	l.mu.Lock()
	l.nextID++
	h.ID = l.nextID
	l.heists[h.ID] = st
	l.mu.Unlock()

	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		// Compensating rollback: no record may exist without its
		// durable row at creation time.
		l.mu.Lock()
		delete(l.heists, h.ID)
		l.mu.Unlock()
		if isVow && stakeRep > 0 {
			l.rep.Credit(creator, stakeRep)
		}
		return 0, fmt.Errorf("persist heist: %w", err)
	}

	if !l.cfg.ListingFee.IsZero() {
		l.creditHouse(l.cfg.ListingFee)
	}
	l.log.Infof("heist %d created by %s status=%s bounty=%s stake=%d vow=%t",
		h.ID, creator, h.Status, bounty.String(), stakeRep, isVow)
	return h.ID, nil
}

// Join posts the opponent's rep stake atomically with the transition to
// ACTIVE. Exactly one join can ever succeed; the loser of a race gets
// ErrNotJoinable (or ErrAlreadyJoined once the heist moved on).
func (l *Ledger) Join(ctx context.Context, heistID uint64, joiner string) error {
	joiner, err := NormalizeAddress(joiner)
	if err != nil {
		return err
	}
	st := l.get(heistID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h

	switch h.Status {
	case StatusCreated, StatusWaiting:
	case StatusActive, StatusJudging, StatusEscrow, StatusDisputed:
		return fmt.Errorf("%w: heist %d", ErrAlreadyJoined, heistID)
	default:
		return fmt.Errorf("%w: heist %d is %s", ErrNotJoinable, heistID, h.Status)
	}
	if joiner == h.Creator {
		return fmt.Errorf("%w: creator cannot join their own heist", ErrNotJoinable)
	}
	if h.Status == StatusWaiting && joiner != h.Opponent {
		return fmt.Errorf("%w: heist %d is reserved for %s", ErrNotJoinable, heistID, h.Opponent)
	}

	if h.StakeRep > 0 && !l.rep.TryDebit(joiner, h.StakeRep) {
		return fmt.Errorf("%w: need %d", ErrInsufficientRep, h.StakeRep)
	}
	st.stakedRep[joiner] = h.StakeRep
	h.Opponent = joiner
	h.Status = StatusActive
	h.StartTime = l.now()

	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist after join: %v", heistID, err)
		return fmt.Errorf("persist heist: %w", err)
	}
	l.log.Infof("heist %d joined by %s", heistID, joiner)
	return nil
}

// PlaceBet adds a spectator stake to one side's pool. Only legal while the
// dare window is open, never after proof submission.
func (l *Ledger) PlaceBet(ctx context.Context, heistID uint64, bettor string, supportsP1 bool, amount decimal.Decimal) (*Bet, error) {
	bettor, err := NormalizeAddress(bettor)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: bet must be positive", ErrInvalidInput)
	}
	st := l.get(heistID)
	if st == nil {
		return nil, ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h
	if h.Status != StatusActive {
		return nil, fmt.Errorf("%w: heist %d is %s", ErrNotBettable, heistID, h.Status)
	}

	b := &Bet{
		ID:         uuid.New(),
		HeistID:    heistID,
		Bettor:     bettor,
		SupportsP1: supportsP1,
		Amount:     amount,
		PlacedAt:   l.now(),
	}
	st.bets = append(st.bets, b)
	st.escrow = st.escrow.Add(amount)
	if supportsP1 {
		h.BetPoolP1 = h.BetPoolP1.Add(amount)
	} else {
		h.BetPoolP2 = h.BetPoolP2.Add(amount)
	}

	if err := l.store.SaveBet(ctx, b); err != nil {
		l.log.Errorf("heist %d: persist bet %s: %v", heistID, b.ID, err)
		return nil, fmt.Errorf("persist bet: %w", err)
	}
	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist pools: %v", heistID, err)
	}
	return b, nil
}

// SubmitProof records the proof, moves the heist to JUDGING and invokes the
// judging oracle exactly once. The oracle call runs outside the heist lock;
// the JUDGING status is what keeps new bets and proofs out meanwhile. A
// failed oracle still yields the fallback verdict, so the heist always moves
// forward.
func (l *Ledger) SubmitProof(ctx context.Context, heistID uint64, submitter, proofURL string) error {
	submitter, err := NormalizeAddress(submitter)
	if err != nil {
		return err
	}
	if proofURL == "" {
		return fmt.Errorf("%w: empty proof url", ErrInvalidInput)
	}
	st := l.get(heistID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	h := st.h
	if h.Status != StatusActive {
		st.mu.Unlock()
		return fmt.Errorf("%w: heist %d is %s", ErrNotSubmittable, heistID, h.Status)
	}
	// The daredevil proves the dare. In a vow the creator is both roles.
	if submitter != h.Opponent {
		st.mu.Unlock()
		return fmt.Errorf("%w: only %s may submit proof", ErrNotSubmittable, h.Opponent)
	}
	h.ProofURL = proofURL
	h.Status = StatusJudging
	req := JudgeRequest{
		HeistID:  h.ID,
		Dare:     h.Dare,
		ProofURL: proofURL,
		IsVow:    h.IsVow,
		P1:       h.Creator,
		P2:       h.Opponent,
	}
	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist proof: %v", heistID, err)
	}
	st.mu.Unlock()

	jctx, cancel := context.WithTimeout(ctx, l.cfg.JudgeTimeout)
	defer cancel()
	verdict, err := l.judge.Judge(jctx, req)
	if err != nil {
		l.log.Warnf("heist %d: judge unavailable, using fallback verdict: %v", heistID, err)
		verdict = FallbackVerdict()
	}
	return l.FinalizeVerdict(ctx, heistID, verdict)
}

// FinalizeVerdict applies a verdict exactly once. High-confidence verdicts
// settle immediately; fallback or low-confidence verdicts lock the heist in
// ESCROW for the review window with nothing moved and nothing slashed.
func (l *Ledger) FinalizeVerdict(ctx context.Context, heistID uint64, verdict Verdict) error {
	st := l.get(heistID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h
	if h.Status.Terminal() {
		return fmt.Errorf("%w: heist %d", ErrAlreadySettled, heistID)
	}
	if h.Status != StatusJudging {
		return fmt.Errorf("%w: heist %d is %s", ErrNotSettleable, heistID, h.Status)
	}

	v := verdict
	h.Verdict = &v
	if v.Fallback || v.Confidence < l.cfg.ConfidenceThreshold {
		h.Status = StatusEscrow
		h.ReviewDeadline = l.now().Add(l.cfg.ReviewWindow)
		if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
			l.log.Errorf("heist %d: persist escrow: %v", heistID, err)
		}
		l.log.Infof("heist %d escrowed: confidence=%d fallback=%t review until %s",
			heistID, v.Confidence, v.Fallback, h.ReviewDeadline.Format(time.RFC3339))
		return nil
	}

	l.settleLocked(ctx, st, v.WinnerIsP1, v.Text)
	return nil
}

// Dispute lets a principal contest a low-confidence verdict while the review
// window is open. DISPUTED heists are only settled by ResolveDispute.
func (l *Ledger) Dispute(ctx context.Context, heistID uint64, party string) error {
	party, err := NormalizeAddress(party)
	if err != nil {
		return err
	}
	st := l.get(heistID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h
	if h.Status != StatusEscrow {
		return fmt.Errorf("%w: heist %d is %s", ErrNotDisputable, heistID, h.Status)
	}
	if party != h.Creator && party != h.Opponent {
		return fmt.Errorf("%w: %s is not a principal", ErrNotDisputable, party)
	}
	if l.now().After(h.ReviewDeadline) {
		return fmt.Errorf("%w: review window closed", ErrNotDisputable)
	}
	h.Status = StatusDisputed
	if err := l.store.SaveHeist(ctx, h.Clone()); err != nil {
		l.log.Errorf("heist %d: persist dispute: %v", heistID, err)
	}
	l.log.Infof("heist %d disputed by %s", heistID, party)
	return nil
}

// ResolveDispute is the manual-review exit from ESCROW or DISPUTED. Same
// payout and slash logic as the high-confidence path, applied exactly once.
func (l *Ledger) ResolveDispute(ctx context.Context, heistID uint64, winnerIsP1 bool, finalVerdict string) error {
	st := l.get(heistID)
	if st == nil {
		return ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h
	if h.Status.Terminal() {
		return fmt.Errorf("%w: heist %d", ErrAlreadySettled, heistID)
	}
	if h.Status != StatusEscrow && h.Status != StatusDisputed {
		return fmt.Errorf("%w: heist %d is %s", ErrNotSettleable, heistID, h.Status)
	}
	if h.Verdict != nil {
		h.Verdict.WinnerIsP1 = winnerIsP1
		if finalVerdict != "" {
			h.Verdict.Text = finalVerdict
		}
	}
	l.settleLocked(ctx, st, winnerIsP1, finalVerdict)
	return nil
}

// ResolveDue applies the rendered verdict to every ESCROW heist whose review
// window lapsed without a dispute. Called by the background watcher.
func (l *Ledger) ResolveDue(ctx context.Context) int {
	now := l.now()
	var due []*heistState
	l.mu.RLock()
	for _, st := range l.heists {
		due = append(due, st)
	}
	l.mu.RUnlock()

	n := 0
	for _, st := range due {
		st.mu.Lock()
		h := st.h
		if h.Status == StatusEscrow && now.After(h.ReviewDeadline) && h.Verdict != nil {
			l.log.Infof("heist %d: review window lapsed, applying verdict as rendered", h.ID)
			l.settleLocked(ctx, st, h.Verdict.WinnerIsP1, h.Verdict.Text)
			n++
		}
		st.mu.Unlock()
	}
	return n
}

// ExpireDue times out every ACTIVE heist whose dare window has lapsed
// without proof: bounty back to the creator, stake back to the joiner, every
// bet refunded. Claim-based like settlement.
func (l *Ledger) ExpireDue(ctx context.Context) int {
	now := l.now()
	var all []*heistState
	l.mu.RLock()
	for _, st := range l.heists {
		all = append(all, st)
	}
	l.mu.RUnlock()

	n := 0
	for _, st := range all {
		st.mu.Lock()
		h := st.h
		if h.Status == StatusActive && h.Duration > 0 && now.After(h.StartTime.Add(h.Duration)) {
			l.expireLocked(ctx, st)
			n++
		}
		st.mu.Unlock()
	}
	return n
}

// ClaimWinnings redeems a claimant's share of a settled (or timed out)
// heist. Exactly once per claimant per heist.
func (l *Ledger) ClaimWinnings(ctx context.Context, heistID uint64, claimant string) (decimal.Decimal, error) {
	claimant, err := NormalizeAddress(claimant)
	if err != nil {
		return decimal.Zero, err
	}
	st := l.get(heistID)
	if st == nil {
		return decimal.Zero, ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	h := st.h
	if !h.Status.Terminal() {
		return decimal.Zero, fmt.Errorf("%w: heist %d is %s", ErrNotSettled, heistID, h.Status)
	}
	if st.claimed[claimant] {
		return decimal.Zero, fmt.Errorf("%w: heist %d claimant %s", ErrAlreadyClaimed, heistID, claimant)
	}
	amt, ok := st.payouts[claimant]
	if !ok || !amt.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: nothing to claim for %s", ErrNotFound, claimant)
	}
	st.claimed[claimant] = true
	st.escrow = st.escrow.Sub(amt)
	l.log.Infof("heist %d: %s claimed %s", heistID, claimant, amt.String())
	return amt, nil
}

// Get returns a copy of one heist record.
func (l *Ledger) Get(heistID uint64) (*Heist, error) {
	st := l.get(heistID)
	if st == nil {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.h.Clone(), nil
}

// Bets returns copies of every bet on a heist.
func (l *Ledger) Bets(heistID uint64) ([]Bet, error) {
	st := l.get(heistID)
	if st == nil {
		return nil, ErrNotFound
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]Bet, len(st.bets))
	for i, b := range st.bets {
		out[i] = *b
	}
	return out, nil
}

// List returns copies of every heist, optionally filtered by status.
func (l *Ledger) List(status Status) []*Heist {
	l.mu.RLock()
	states := make([]*heistState, 0, len(l.heists))
	for _, st := range l.heists {
		states = append(states, st)
	}
	l.mu.RUnlock()

	var out []*Heist
	for _, st := range states {
		st.mu.Lock()
		if status == "" || st.h.Status == status {
			out = append(out, st.h.Clone())
		}
		st.mu.Unlock()
	}
	return out
}
