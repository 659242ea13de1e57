package swapindex

import (
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/radiant-core/swapindex/swapdb"
)

// Index is the swap advertisement index. It follows the active chain
// through ConnectBlock and DisconnectBlock, classifies every advertised
// offer as open or history depending on whether the offered outpoint is
// still unspent, and serves paginated lookups by offered and wanted token.
//
// A single writer (the chain follower) drives the block events in order.
// Queries and the background pruner run concurrently against store
// snapshots; every mutation for one block event commits as a single atomic
// batch, so readers never observe a half-applied event.
type Index struct {
	cfg   Config
	store swapdb.Store
	chain ChainSource
	clock clock.Clock

	pruneQuit chan struct{}
	pruneStop sync.Once
	wg        sync.WaitGroup
}

// Option customizes an Index.
type Option func(*Index)

// WithClock makes the pruner use the given clock. Tests use it to trigger
// prune cycles without real sleeps.
func WithClock(c clock.Clock) Option {
	return func(idx *Index) {
		idx.clock = c
	}
}

// New assembles an index over the given store and chain view. Call Init
// before use and Stop on shutdown.
func New(cfg Config, store swapdb.Store, chain ChainSource,
	opts ...Option) *Index {

	idx := &Index{
		cfg:       cfg,
		store:     store,
		chain:     chain,
		clock:     clock.NewDefaultClock(),
		pruneQuit: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Init brings the store schema up to the current version and starts the
// background pruner. If migration fails the pruner is not started and the
// index must not be used.
func (idx *Index) Init() error {
	if idx.cfg.Wipe {
		log.Infof("Wiping swap index")
		if err := swapdb.Wipe(idx.store); err != nil {
			return fmt.Errorf("wipe swap index: %w", err)
		}
	}

	if err := swapdb.SyncVersions(idx.store); err != nil {
		return swapdb.NewMigrationError(err)
	}

	idx.wg.Add(1)
	go idx.pruneLoop()

	log.Infof("Swap index enabled: history_blocks=%d, prune_interval=%v",
		idx.cfg.HistoryBlocks, idx.cfg.PruneInterval)

	return nil
}

// InterruptPrune signals the background pruner to exit. It does not wait
// for it to do so.
func (idx *Index) InterruptPrune() {
	idx.pruneStop.Do(func() {
		close(idx.pruneQuit)
	})
}

// Stop interrupts the pruner, waits for it to exit and closes the store.
func (idx *Index) Stop() {
	idx.InterruptPrune()
	idx.wg.Wait()

	if err := idx.store.Close(); err != nil {
		log.Errorf("Unable to close swap index store: %v", err)
	}

	log.Infof("Swap index stopped")
}

// ConnectBlock applies a block connected to the active chain. Open offers
// whose offered outpoint the block spends move to history, then the
// block's own advertisements are indexed; an advertisement whose outpoint
// is consumed within the same block lands directly in history, so the open
// family only ever reflects live outpoints. All effects commit as one
// atomic batch.
func (idx *Index) ConnectBlock(block *btcutil.Block) error {
	height := block.Height()
	spent := spentOutpoints(block)
	offers := blockOffers(block, height)

	err := idx.store.Update(func(tx swapdb.WriteTx) error {
		if len(spent) > 0 {
			var toHistory []*swapdb.SwapOffer
			err := swapdb.ForEachOffer(
				tx, swapdb.PrefixOpen,
				func(_ []byte, o *swapdb.SwapOffer) error {
					if _, ok := spent[o.OutPoint()]; ok {
						toHistory = append(toHistory, o)
					}
					return nil
				},
			)
			if err != nil {
				return err
			}

			for _, offer := range toHistory {
				// Record the height the offer was spent at.
				offer.BlockHeight = height
				err := swapdb.MoveToHistory(tx, offer)
				if err != nil {
					return err
				}
			}
		}

		for _, offer := range offers {
			target := swapdb.PrefixOpen
			if _, ok := spent[offer.OutPoint()]; ok {
				target = swapdb.PrefixHistory
			}

			// An identity can only ever live in one family. When
			// a re-advertisement brings one back to open, any
			// history entry it left behind is superseded.
			if target == swapdb.PrefixOpen {
				histKey := swapdb.OfferKey(
					swapdb.PrefixHistory, offer,
				)
				if old := tx.Get(histKey); old != nil {
					oldOffer, err := swapdb.DeserializeOffer(old)
					if err == nil {
						err = swapdb.DeleteOffer(
							tx,
							swapdb.PrefixHistory,
							oldOffer,
						)
					}
					if err != nil {
						return err
					}
				}
			}

			if err := swapdb.PutOffer(tx, target, offer); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("swap index connect block %v: %w",
			block.Hash(), err)
	}

	if len(offers) > 0 {
		log.Debugf("Indexed %d swap advertisements at height %d",
			len(offers), height)
	}

	return nil
}

// DisconnectBlock undoes a block removed from the active chain: offers
// retired by spends this block carried move back to open, and the
// advertisements the block itself introduced are removed from the open
// family. The offer value is not rewritten on restore, so its height keeps
// reflecting the now-undone spend rather than the original advertisement.
func (idx *Index) DisconnectBlock(block *btcutil.Block) error {
	restored := spentOutpoints(block)

	// There is no stored back-pointer from an offer to the block that
	// advertised it, so the block's own advertisements are identified by
	// re-parsing its outputs. Identities collide by design, which makes
	// a single removal per match sufficient even if an earlier block
	// carried the same advertisement.
	type adIdentity struct {
		tokenID  chainhash.Hash
		utxoHash chainhash.Hash
	}
	ads := make(map[adIdentity]struct{})
	for _, offer := range blockOffers(block, 0) {
		ads[adIdentity{offer.TokenID, offer.OfferedUTXOHash}] = struct{}{}
	}

	var restoredCount, removedCount int
	err := idx.store.Update(func(tx swapdb.WriteTx) error {
		if len(restored) > 0 {
			var toOpen []*swapdb.SwapOffer
			err := swapdb.ForEachOffer(
				tx, swapdb.PrefixHistory,
				func(_ []byte, o *swapdb.SwapOffer) error {
					if _, ok := restored[o.OutPoint()]; ok {
						toOpen = append(toOpen, o)
					}
					return nil
				},
			)
			if err != nil {
				return err
			}

			for _, offer := range toOpen {
				if err := swapdb.MoveToOpen(tx, offer); err != nil {
					return err
				}
			}
			restoredCount = len(toOpen)
		}

		if len(ads) > 0 {
			var toRemove []*swapdb.SwapOffer
			err := swapdb.ForEachOffer(
				tx, swapdb.PrefixOpen,
				func(_ []byte, o *swapdb.SwapOffer) error {
					id := adIdentity{
						o.TokenID, o.OfferedUTXOHash,
					}
					if _, ok := ads[id]; ok {
						toRemove = append(toRemove, o)
					}
					return nil
				},
			)
			if err != nil {
				return err
			}

			for _, offer := range toRemove {
				err := swapdb.DeleteOffer(
					tx, swapdb.PrefixOpen, offer,
				)
				if err != nil {
					return err
				}
			}
			removedCount = len(toRemove)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("swap index disconnect block %v: %w",
			block.Hash(), err)
	}

	log.Debugf("Disconnected block %v from swap index: restored %d "+
		"orders, removed %d advertisements", block.Hash(),
		restoredCount, removedCount)

	return nil
}

// OpenOrders returns open offers for the offered token, paginated.
func (idx *Index) OpenOrders(tokenID *chainhash.Hash, limit,
	offset int) ([]swapdb.SwapOffer, error) {

	return idx.readOrders(swapdb.PrefixOpen, tokenID, limit, offset)
}

// HistoryOrders returns historical offers for the offered token, paginated.
func (idx *Index) HistoryOrders(tokenID *chainhash.Hash, limit,
	offset int) ([]swapdb.SwapOffer, error) {

	return idx.readOrders(swapdb.PrefixHistory, tokenID, limit, offset)
}

// OpenOrdersByWant returns open offers that want the given token,
// paginated.
func (idx *Index) OpenOrdersByWant(wantTokenID *chainhash.Hash, limit,
	offset int) ([]swapdb.SwapOffer, error) {

	return idx.readOrders(swapdb.PrefixOpenWant, wantTokenID, limit, offset)
}

// HistoryOrdersByWant returns historical offers that wanted the given
// token, paginated.
func (idx *Index) HistoryOrdersByWant(wantTokenID *chainhash.Hash, limit,
	offset int) ([]swapdb.SwapOffer, error) {

	return idx.readOrders(
		swapdb.PrefixHistoryWant, wantTokenID, limit, offset,
	)
}

// OrderCounts returns the number of open and history entries for the
// offered token. Counts are bounded scans: they may under-report past
// swapdb.MaxCountIterations but never over-report.
func (idx *Index) OrderCounts(tokenID *chainhash.Hash) (swapdb.OrderCounts,
	error) {

	return idx.readCounts(swapdb.PrefixOpen, swapdb.PrefixHistory, tokenID)
}

// OrderCountsByWant returns the number of open and history entries wanting
// the given token.
func (idx *Index) OrderCountsByWant(
	wantTokenID *chainhash.Hash) (swapdb.OrderCounts, error) {

	return idx.readCounts(
		swapdb.PrefixOpenWant, swapdb.PrefixHistoryWant, wantTokenID,
	)
}

func (idx *Index) readOrders(p swapdb.Prefix, tokenID *chainhash.Hash,
	limit, offset int) ([]swapdb.SwapOffer, error) {

	limit, offset = clampQuery(limit, offset)

	offers, err := swapdb.ReadOffers(idx.store, p, tokenID, limit, offset)
	if err != nil {
		log.Errorf("Unable to read swap orders for %v: %v", tokenID,
			err)
		return nil, err
	}
	return offers, nil
}

func (idx *Index) readCounts(openPrefix, historyPrefix swapdb.Prefix,
	tokenID *chainhash.Hash) (swapdb.OrderCounts, error) {

	var counts swapdb.OrderCounts

	openCount, err := swapdb.CountOffers(idx.store, openPrefix, tokenID)
	if err != nil {
		return counts, err
	}
	historyCount, err := swapdb.CountOffers(
		idx.store, historyPrefix, tokenID,
	)
	if err != nil {
		return counts, err
	}

	counts.OpenCount = openCount
	counts.HistoryCount = historyCount
	return counts, nil
}

// clampQuery applies the default page size and the hard limit.
func clampQuery(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = DefaultQueryLimit

	case limit > MaxQueryLimit:
		limit = MaxQueryLimit
	}

	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// spentOutpoints collects every outpoint consumed by the block's
// non-coinbase transactions.
func spentOutpoints(block *btcutil.Block) map[wire.OutPoint]struct{} {
	spent := make(map[wire.OutPoint]struct{})
	for _, tx := range block.Transactions() {
		msgTx := tx.MsgTx()
		if blockchain.IsCoinBaseTx(msgTx) {
			continue
		}
		for _, txIn := range msgTx.TxIn {
			spent[txIn.PreviousOutPoint] = struct{}{}
		}
	}
	return spent
}

// blockOffers parses every output of the block and returns the swap
// advertisements it carries. Outputs that fail to parse are dropped
// individually; a bad advertisement never affects its neighbors.
func blockOffers(block *btcutil.Block, height int32) []*swapdb.SwapOffer {
	var offers []*swapdb.SwapOffer
	for _, tx := range block.Transactions() {
		for vout, txOut := range tx.MsgTx().TxOut {
			offer, err := ParseOfferScript(txOut.PkScript, height)
			if err != nil {
				if errors.Is(err, errMalformedSwapAd) {
					log.Debugf("Ignoring malformed swap "+
						"advertisement in %v:%d",
						tx.Hash(), vout)
				}
				continue
			}

			offers = append(offers, offer)
		}
	}
	return offers
}
