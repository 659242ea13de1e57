package swapindex

import (
	"github.com/radiant-core/swapindex/swapdb"
)

// pruneLoop periodically deletes history entries that have fallen below the
// retention horizon. It runs until InterruptPrune or Stop and is safe to
// run concurrently with block events: it only ever deletes history-prefixed
// keys, so racing with a reorg that restores an entry to open at worst
// no-ops.
func (idx *Index) pruneLoop() {
	defer idx.wg.Done()

	log.Debugf("Swap index prune loop started")
	defer log.Debugf("Swap index prune loop stopped")

	for {
		select {
		case <-idx.clock.TickAfter(idx.cfg.PruneInterval):

		case <-idx.pruneQuit:
			return
		}

		idx.pruneCycle()
	}
}

// pruneCycle runs one prune cycle against the current chain tip.
func (idx *Index) pruneCycle() {
	if idx.cfg.HistoryBlocks <= 0 {
		return
	}

	tipHeight := idx.chain.BestHeight()
	if tipHeight <= 0 {
		return
	}

	cutoff := tipHeight - idx.cfg.HistoryBlocks
	if cutoff <= 0 {
		return
	}

	pruned, err := swapdb.DeleteHistoryBefore(idx.store, cutoff)
	if err != nil {
		// Transient store failures leave stale history behind; the
		// next cycle retries.
		log.Errorf("Swap index prune failed: %v", err)
		return
	}

	if pruned > 0 {
		log.Infof("Pruned %d swap history entries below height %d",
			pruned, cutoff)
	}
}
