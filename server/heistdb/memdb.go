package heistdb

import (
	"context"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"github.com/Jaden-Nix/reputation-heist/heist"
)

// MemDB is the in-memory HeistDB used for tests and local development. It is
// an explicit backend chosen at startup, not a silent fallback.
type MemDB struct {
	mu     deadlock.RWMutex
	heists map[uint64]*heist.Heist
	bets   map[uint64][]*heist.Bet
}

func NewMemDB() *MemDB {
	return &MemDB{
		heists: make(map[uint64]*heist.Heist),
		bets:   make(map[uint64][]*heist.Bet),
	}
}

func (m *MemDB) SaveHeist(_ context.Context, h *heist.Heist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heists[h.ID] = h.Clone()
	return nil
}

func (m *MemDB) GetHeist(_ context.Context, id uint64) (*heist.Heist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.heists[id]
	if !ok {
		return nil, ErrHeistNotFound
	}
	return h.Clone(), nil
}

func (m *MemDB) ListHeists(_ context.Context, f Filter) ([]*heist.Heist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*heist.Heist
	for _, h := range m.heists {
		if f.matches(h) {
			out = append(out, h.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemDB) MaxHeistID(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var max uint64
	for id := range m.heists {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (m *MemDB) SaveBet(_ context.Context, b *heist.Bet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bets[b.HeistID] = append(m.bets[b.HeistID], &cp)
	return nil
}

func (m *MemDB) ListBets(_ context.Context, heistID uint64) ([]*heist.Bet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bets := m.bets[heistID]
	out := make([]*heist.Bet, len(bets))
	for i, b := range bets {
		cp := *b
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (m *MemDB) Close() error { return nil }
