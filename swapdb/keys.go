package swapdb

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Prefix identifies one of the key families of the swap index. Each key in
// the store starts with a single prefix byte, so a cursor seek on the prefix
// walks exactly one family.
type Prefix byte

const (
	// PrefixOpen holds offers whose offered outpoint is unspent, keyed by
	// the offered token.
	//
	// maps: 'o' || tokenID || utxoHash || utxoIndex -> SwapOffer
	PrefixOpen Prefix = 'o'

	// PrefixHistory holds offers whose offered outpoint has been spent or
	// reorganized out, keyed by the offered token.
	//
	// maps: 'h' || tokenID || utxoHash || utxoIndex -> SwapOffer
	PrefixHistory Prefix = 'h'

	// PrefixOpenWant mirrors PrefixOpen for offers that name a wanted
	// token, keyed by that token.
	//
	// maps: 'p' || wantTokenID || tokenID || utxoHash || utxoIndex
	PrefixOpenWant Prefix = 'p'

	// PrefixHistoryWant mirrors PrefixHistory, keyed by the wanted token.
	//
	// maps: 'q' || wantTokenID || tokenID || utxoHash || utxoIndex
	PrefixHistoryWant Prefix = 'q'

	// PrefixVersion is the single-byte schema version cell.
	PrefixVersion Prefix = 'V'

	// PrefixLegacy is the pre-migration location of open offers. It is
	// only read by the startup migration and never written.
	PrefixLegacy Prefix = 's'
)

// keyLen returns the full key length for a prefix.
func keyLen(p Prefix) int {
	switch p {
	case PrefixOpenWant, PrefixHistoryWant:
		return 1 + chainhash.HashSize*3 + 4

	case PrefixVersion:
		return 1

	default:
		return 1 + chainhash.HashSize*2 + 4
	}
}

// appendUint32BE appends v big-endian. Big-endian on purpose: lexicographic
// key order then matches numeric vout order within a run, which is what makes
// offset pagination stable.
func appendUint32BE(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// OfferKey returns the primary key for an offer under the given prefix.
func OfferKey(p Prefix, offer *SwapOffer) []byte {
	key := make([]byte, 0, keyLen(p))
	key = append(key, byte(p))
	key = append(key, offer.TokenID[:]...)
	key = append(key, offer.OfferedUTXOHash[:]...)
	return appendUint32BE(key, offer.OfferedUTXOIndex)
}

// WantKey returns the secondary key for an offer under the given want
// prefix. The wanted token leads so that a seek on it selects the run.
func WantKey(p Prefix, offer *SwapOffer) []byte {
	key := make([]byte, 0, keyLen(p))
	key = append(key, byte(p))
	key = append(key, offer.WantTokenID[:]...)
	key = append(key, offer.TokenID[:]...)
	key = append(key, offer.OfferedUTXOHash[:]...)
	return appendUint32BE(key, offer.OfferedUTXOIndex)
}

// MatchPrefix returns the shortest key prefix that identifies the run of
// entries for a token under the given prefix. Iteration must stop at the
// first key that does not start with it.
func MatchPrefix(p Prefix, tokenID *chainhash.Hash) []byte {
	match := make([]byte, 0, 1+chainhash.HashSize)
	match = append(match, byte(p))
	return append(match, tokenID[:]...)
}

// SeekKey returns the full-length key a cursor seeks to in order to land on
// the first entry for a token: the match prefix padded with zeros.
func SeekKey(p Prefix, tokenID *chainhash.Hash) []byte {
	key := make([]byte, keyLen(p))
	key[0] = byte(p)
	copy(key[1:], tokenID[:])
	return key
}

// TypeSeekKey returns the first possible key of a whole family: the prefix
// byte followed by zeros.
func TypeSeekKey(p Prefix) []byte {
	key := make([]byte, keyLen(p))
	key[0] = byte(p)
	return key
}

// VersionKey returns the key of the schema version cell.
func VersionKey() []byte {
	return []byte{byte(PrefixVersion)}
}
