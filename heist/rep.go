package heist

import "github.com/sasha-s/go-deadlock"

// BaselineRep is the neutral score a never-seen address starts with,
// matching the identity oracle's baseline for new users.
const BaselineRep = int64(1200)

// RepBook tracks reputation balances for every address the ledger has
// touched. Balances never go below zero.
type RepBook struct {
	mu       deadlock.RWMutex
	balances map[string]int64
}

func NewRepBook() *RepBook {
	return &RepBook{balances: make(map[string]int64)}
}

// Seed sets an address balance explicitly, e.g. from an identity oracle
// score. It only applies to addresses the book has not seen yet.
func (r *RepBook) Seed(addr string, score int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.balances[addr]; !ok {
		r.balances[addr] = score
	}
}

func (r *RepBook) Balance(addr string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touch(addr)
}

// Credit adds points to an address.
func (r *RepBook) Credit(addr string, pts int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.touch(addr) + pts
	r.balances[addr] = b
	return b
}

// Debit removes points, clamping at zero. It returns the amount actually
// removed, which may be less than requested.
func (r *RepBook) Debit(addr string, pts int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.touch(addr)
	if pts > b {
		pts = b
	}
	r.balances[addr] = b - pts
	return pts
}

// TryDebit removes exactly pts or nothing, reporting success.
func (r *RepBook) TryDebit(addr string, pts int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.touch(addr)
	if pts > b {
		return false
	}
	r.balances[addr] = b - pts
	return true
}

// Snapshot returns a copy of every balance, for leaderboard reads.
func (r *RepBook) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.balances))
	for a, b := range r.balances {
		out[a] = b
	}
	return out
}

// touch initializes an unseen address at the baseline. Callers hold mu.
func (r *RepBook) touch(addr string) int64 {
	b, ok := r.balances[addr]
	if !ok {
		b = BaselineRep
		r.balances[addr] = b
	}
	return b
}
