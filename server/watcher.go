package server

import (
	"context"
	"time"

	"github.com/decred/slog"

	"github.com/Jaden-Nix/reputation-heist/forensic"
	"github.com/Jaden-Nix/reputation-heist/heist"
)

// sweeper drives the wall-clock deadlines: dare expiry, lapsed review
// windows, and forensic window eviction. One ticker, no per-heist state.
type sweeper struct {
	log       slog.Logger
	ledger    *heist.Ledger
	forensics *forensic.Evaluator
	interval  time.Duration

	quit chan struct{}
}

func newSweeper(log slog.Logger, ledger *heist.Ledger, forensics *forensic.Evaluator, interval time.Duration) *sweeper {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &sweeper{
		log:       log,
		ledger:    ledger,
		forensics: forensics,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

func (sw *sweeper) stop() { close(sw.quit) }

func (sw *sweeper) run(ctx context.Context) {
	sw.log.Infof("sweeper: started")
	t := time.NewTicker(sw.interval)
	defer t.Stop()
	defer sw.log.Infof("sweeper: stopped")
	for {
		select {
		case <-ctx.Done():
			return
		case <-sw.quit:
			return
		case <-t.C:
			sw.sweepOnce(ctx)
		}
	}
}

func (sw *sweeper) sweepOnce(ctx context.Context) {
	if n := sw.ledger.ExpireDue(ctx); n > 0 {
		sw.log.Infof("sweeper: timed out %d heists", n)
	}
	if n := sw.ledger.ResolveDue(ctx); n > 0 {
		sw.log.Infof("sweeper: auto-resolved %d escrowed heists", n)
	}
	if n := sw.forensics.EvictStale(); n > 0 {
		sw.log.Debugf("sweeper: evicted %d stale interaction windows", n)
	}
}
