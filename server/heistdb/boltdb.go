package heistdb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/Jaden-Nix/reputation-heist/heist"
)

var (
	heistsBucket = []byte("heists")
	betsBucket   = []byte("bets")
)

// BoltDB is the durable HeistDB backed by a single bbolt file.
type BoltDB struct {
	db *bolt.DB
}

func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(heistsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(betsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func heistKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func (b *BoltDB) SaveHeist(_ context.Context, h *heist.Heist) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal heist %d: %w", h.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(heistsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.Put(heistKey(h.ID), data)
	})
}

func (b *BoltDB) GetHeist(_ context.Context, id uint64) (*heist.Heist, error) {
	var h *heist.Heist
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(heistsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		data := bkt.Get(heistKey(id))
		if data == nil {
			return ErrHeistNotFound
		}
		h = &heist.Heist{}
		return json.Unmarshal(data, h)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (b *BoltDB) ListHeists(_ context.Context, f Filter) ([]*heist.Heist, error) {
	var out []*heist.Heist
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(heistsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		return bkt.ForEach(func(_, v []byte) error {
			var h heist.Heist
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			if f.matches(&h) {
				out = append(out, &h)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MaxHeistID returns the highest stored id, so the ledger can resume its
// monotonic counter after a restart.
func (b *BoltDB) MaxHeistID(_ context.Context) (uint64, error) {
	var max uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(heistsBucket)
		if bkt == nil {
			return ErrMainBucketNotFound
		}
		k, _ := bkt.Cursor().Last()
		if k != nil {
			max = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return max, err
}

// Bets are keyed heistID|betID inside a single bucket so one cursor scan
// covers one heist.
func betKey(heistID uint64, betID [16]byte) []byte {
	k := make([]byte, 8+16)
	binary.BigEndian.PutUint64(k[:8], heistID)
	copy(k[8:], betID[:])
	return k
}

func (b *BoltDB) SaveBet(_ context.Context, bet *heist.Bet) error {
	data, err := json.Marshal(bet)
	if err != nil {
		return fmt.Errorf("marshal bet %s: %w", bet.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(betsBucket)
		if bkt == nil {
			return ErrBetBucketNotFound
		}
		return bkt.Put(betKey(bet.HeistID, bet.ID), data)
	})
}

func (b *BoltDB) ListBets(_ context.Context, heistID uint64) ([]*heist.Bet, error) {
	var out []*heist.Bet
	prefix := heistKey(heistID)
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(betsBucket)
		if bkt == nil {
			return ErrBetBucketNotFound
		}
		c := bkt.Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && binary.BigEndian.Uint64(k[:8]) == heistID; k, v = c.Next() {
			var bet heist.Bet
			if err := json.Unmarshal(v, &bet); err != nil {
				return err
			}
			out = append(out, &bet)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	return out, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}
