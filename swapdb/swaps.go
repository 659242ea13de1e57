package swapdb

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxCountIterations bounds a single count scan so that a degenerate token
// run cannot pin a reader.
const MaxCountIterations = 1_000_000

// PutOffer stages the offer under the given primary prefix, plus the
// matching want entry when the offer names a wanted token.
func PutOffer(tx WriteTx, p Prefix, offer *SwapOffer) error {
	value, err := offer.Bytes()
	if err != nil {
		return err
	}

	if err := tx.Put(OfferKey(p, offer), value); err != nil {
		return err
	}

	if offer.HasWant() {
		wantPrefix := PrefixOpenWant
		if p == PrefixHistory {
			wantPrefix = PrefixHistoryWant
		}
		if err := tx.Put(WantKey(wantPrefix, offer), value); err != nil {
			return err
		}
	}

	return nil
}

// DeleteOffer stages deletion of the offer's primary entry under the given
// prefix, plus the matching want entry when applicable.
func DeleteOffer(tx WriteTx, p Prefix, offer *SwapOffer) error {
	if err := tx.Delete(OfferKey(p, offer)); err != nil {
		return err
	}

	if offer.HasWant() {
		wantPrefix := PrefixOpenWant
		if p == PrefixHistory {
			wantPrefix = PrefixHistoryWant
		}
		if err := tx.Delete(WantKey(wantPrefix, offer)); err != nil {
			return err
		}
	}

	return nil
}

// MoveToHistory stages the transition of an open offer to history in the
// enclosing transaction: the open entries are deleted and history entries
// written, so the identity is never in both families nor in neither.
func MoveToHistory(tx WriteTx, offer *SwapOffer) error {
	if err := DeleteOffer(tx, PrefixOpen, offer); err != nil {
		return err
	}
	return PutOffer(tx, PrefixHistory, offer)
}

// MoveToOpen stages the reverse transition, used when a reorg undoes the
// spend that retired the offer.
func MoveToOpen(tx WriteTx, offer *SwapOffer) error {
	if err := DeleteOffer(tx, PrefixHistory, offer); err != nil {
		return err
	}
	return PutOffer(tx, PrefixOpen, offer)
}

// ForEachOffer iterates every decodable offer of one key family in key
// order. Values that fail to decode are skipped; fn may return
// ErrStopIteration to end the scan early.
func ForEachOffer(tx ReadTx, p Prefix,
	fn func(key []byte, offer *SwapOffer) error) error {

	prefixByte := []byte{byte(p)}
	return tx.ForEachFrom(TypeSeekKey(p), func(key, value []byte) error {
		if !bytes.HasPrefix(key, prefixByte) {
			return ErrStopIteration
		}

		offer, err := DeserializeOffer(value)
		if err != nil {
			log.Warnf("Skipping undecodable swap entry %x: %v",
				key, err)
			return nil
		}
		return fn(key, offer)
	})
}

// ReadOffers returns up to limit offers for the token under the given
// prefix, skipping offset entries first. The key order of the family is the
// pagination order, so repeated calls with increasing offsets walk the run
// without gaps or duplicates as long as no writes intervene.
func ReadOffers(store Store, p Prefix, tokenID *chainhash.Hash,
	limit, offset int) ([]SwapOffer, error) {

	match := MatchPrefix(p, tokenID)
	seek := SeekKey(p, tokenID)

	offers := make([]SwapOffer, 0, limit)
	err := store.View(func(tx ReadTx) error {
		skipped := 0
		return tx.ForEachFrom(seek, func(key, value []byte) error {
			if !bytes.HasPrefix(key, match) {
				return ErrStopIteration
			}

			if skipped < offset {
				skipped++
				return nil
			}

			offer, err := DeserializeOffer(value)
			if err != nil {
				log.Warnf("Skipping undecodable swap entry "+
					"%x: %v", key, err)
				return nil
			}

			offers = append(offers, *offer)
			if len(offers) >= limit {
				return ErrStopIteration
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return offers, nil
}

// CountOffers returns the number of entries for the token under the given
// prefix, up to MaxCountIterations.
func CountOffers(store Store, p Prefix, tokenID *chainhash.Hash) (int, error) {
	match := MatchPrefix(p, tokenID)
	seek := SeekKey(p, tokenID)

	count := 0
	err := store.View(func(tx ReadTx) error {
		return tx.ForEachFrom(seek, func(key, _ []byte) error {
			if !bytes.HasPrefix(key, match) {
				return ErrStopIteration
			}

			count++
			if count >= MaxCountIterations {
				return ErrStopIteration
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteHistoryBefore deletes every history and history-want entry whose
// block height is below cutoff, in one atomic batch. It returns the number
// of keys deleted. Entries restored to open concurrently are untouched
// since only history-prefixed keys are collected.
func DeleteHistoryBefore(store Store, cutoff int32) (int, error) {
	deleted := 0
	err := store.Update(func(tx WriteTx) error {
		var stale [][]byte
		for _, p := range []Prefix{PrefixHistory, PrefixHistoryWant} {
			err := ForEachOffer(
				tx, p, func(key []byte, o *SwapOffer) error {
					if o.BlockHeight < cutoff {
						keyCopy := make(
							[]byte, len(key),
						)
						copy(keyCopy, key)
						stale = append(stale, keyCopy)
					}
					return nil
				},
			)
			if err != nil {
				return err
			}
		}

		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}

		deleted = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Wipe removes every key of the index, version cell included. The next
// SyncVersions stamps the store as a fresh database.
func Wipe(store Store) error {
	return store.Update(func(tx WriteTx) error {
		var keys [][]byte
		err := tx.ForEachFrom(nil, func(key, _ []byte) error {
			keyCopy := make([]byte, len(key))
			copy(keyCopy, key)
			keys = append(keys, keyCopy)
			return nil
		})
		if err != nil {
			return err
		}

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
