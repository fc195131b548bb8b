package heistdb

import (
	"context"
	"errors"

	"github.com/Jaden-Nix/reputation-heist/heist"
)

var (
	ErrHeistNotFound      = errors.New("heist record not found")
	ErrMainBucketNotFound = errors.New("main bucket not found")
	ErrBetBucketNotFound  = errors.New("bet bucket not found")
)

// Filter narrows ListHeists. Zero value matches everything.
type Filter struct {
	Status   heist.Status
	Creator  string
	Opponent string
}

func (f Filter) matches(h *heist.Heist) bool {
	if f.Status != "" && h.Status != f.Status {
		return false
	}
	if f.Creator != "" && h.Creator != f.Creator {
		return false
	}
	if f.Opponent != "" && h.Opponent != f.Opponent {
		return false
	}
	return true
}

// HeistDB is the durable store behind the ledger. It is responsible for
// durability only; business invariants live in the ledger. Implementations
// are selected at startup, never detected at runtime.
type HeistDB interface {
	SaveHeist(ctx context.Context, h *heist.Heist) error
	GetHeist(ctx context.Context, id uint64) (*heist.Heist, error)
	ListHeists(ctx context.Context, f Filter) ([]*heist.Heist, error)
	MaxHeistID(ctx context.Context) (uint64, error)

	SaveBet(ctx context.Context, b *heist.Bet) error
	ListBets(ctx context.Context, heistID uint64) ([]*heist.Bet, error)

	Close() error
}
