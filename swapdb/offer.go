package swapdb

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	byteOrder = binary.BigEndian

	zeroHash chainhash.Hash
)

// FlagHasWant marks an offer that names the token the maker wants in
// return. Offers without it have a zero WantTokenID and no entries under the
// want prefixes.
const FlagHasWant uint8 = 0x01

// SwapOffer is a swap advertisement as stored in the index. An offer is
// identified by (TokenID, OfferedUTXOHash, OfferedUTXOIndex); re-indexing the
// same identity overwrites.
type SwapOffer struct {
	// Version is the advertisement version byte from the script.
	Version uint8

	// Flags holds the v2 flag bits. See FlagHasWant.
	Flags uint8

	// OfferedType and TermsType describe the offered asset and the price
	// terms encoding. The index stores them opaquely.
	OfferedType uint8
	TermsType   uint8

	// TokenID is the token being offered.
	TokenID chainhash.Hash

	// WantTokenID is the token wanted in return. All zeros when the offer
	// does not name one.
	WantTokenID chainhash.Hash

	// OfferedUTXOHash and OfferedUTXOIndex point at the outpoint that
	// carries the offered tokens. The offer is open for as long as that
	// outpoint is unspent.
	OfferedUTXOHash  chainhash.Hash
	OfferedUTXOIndex uint32

	// PriceTerms is the opaque price terms payload.
	PriceTerms []byte

	// Signature is the maker's signature over the advertisement. The
	// index does not validate it.
	Signature []byte

	// BlockHeight is the height at which the offer was last indexed, or
	// the height of the spending block once it has moved to history.
	BlockHeight int32
}

// HasWant reports whether the offer names a wanted token and therefore
// carries entries under the want prefixes.
func (o *SwapOffer) HasWant() bool {
	return o.WantTokenID != zeroHash
}

// OutPoint returns the offered outpoint.
func (o *SwapOffer) OutPoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  o.OfferedUTXOHash,
		Index: o.OfferedUTXOIndex,
	}
}

// Serialize writes the storage encoding of the offer.
func (o *SwapOffer) Serialize(w io.Writer) error {
	fixed := []interface{}{
		o.Version, o.Flags, o.OfferedType, o.TermsType,
	}
	for _, field := range fixed {
		if err := binary.Write(w, byteOrder, field); err != nil {
			return err
		}
	}

	if _, err := w.Write(o.TokenID[:]); err != nil {
		return err
	}
	if _, err := w.Write(o.OfferedUTXOHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, o.OfferedUTXOIndex); err != nil {
		return err
	}

	if err := wire.WriteVarBytes(w, 0, o.PriceTerms); err != nil {
		return err
	}

	if _, err := w.Write(o.WantTokenID[:]); err != nil {
		return err
	}

	if err := wire.WriteVarBytes(w, 0, o.Signature); err != nil {
		return err
	}

	return binary.Write(w, byteOrder, o.BlockHeight)
}

// Deserialize reads the storage encoding of the offer.
func (o *SwapOffer) Deserialize(r io.Reader) error {
	fixed := []interface{}{
		&o.Version, &o.Flags, &o.OfferedType, &o.TermsType,
	}
	for _, field := range fixed {
		if err := binary.Read(r, byteOrder, field); err != nil {
			return err
		}
	}

	if _, err := io.ReadFull(r, o.TokenID[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, o.OfferedUTXOHash[:]); err != nil {
		return err
	}
	if err := binary.Read(r, byteOrder, &o.OfferedUTXOIndex); err != nil {
		return err
	}

	priceTerms, err := wire.ReadVarBytes(r, 0, maxVarBytesLen, "priceTerms")
	if err != nil {
		return err
	}
	o.PriceTerms = priceTerms

	if _, err := io.ReadFull(r, o.WantTokenID[:]); err != nil {
		return err
	}

	signature, err := wire.ReadVarBytes(r, 0, maxVarBytesLen, "signature")
	if err != nil {
		return err
	}
	o.Signature = signature

	return binary.Read(r, byteOrder, &o.BlockHeight)
}

// Bytes returns the storage encoding of the offer as a byte slice.
func (o *SwapOffer) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := o.Serialize(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// DeserializeOffer decodes an offer from its storage encoding.
func DeserializeOffer(value []byte) (*SwapOffer, error) {
	var offer SwapOffer
	if err := offer.Deserialize(bytes.NewReader(value)); err != nil {
		return nil, err
	}
	return &offer, nil
}

// maxVarBytesLen bounds the variable-length fields when decoding. Price
// terms and signatures come out of a single script, so anything beyond a
// block-sized payload is corrupt.
const maxVarBytesLen = 1 << 20

// offerV1 is the legacy record layout, read only during migration. It has no
// flags, asset types or wanted token.
type offerV1 struct {
	Version          uint8
	Type             uint8
	TokenID          chainhash.Hash
	OfferedUTXOHash  chainhash.Hash
	OfferedUTXOIndex uint32
	PriceTerms       []byte
	Signature        []byte
	BlockHeight      int32
}

func (o *offerV1) serialize(w io.Writer) error {
	if err := binary.Write(w, byteOrder, o.Version); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, o.Type); err != nil {
		return err
	}
	if _, err := w.Write(o.TokenID[:]); err != nil {
		return err
	}
	if _, err := w.Write(o.OfferedUTXOHash[:]); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, o.OfferedUTXOIndex); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.PriceTerms); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, o.Signature); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, o.BlockHeight)
}

func (o *offerV1) deserialize(r io.Reader) error {
	if err := binary.Read(r, byteOrder, &o.Version); err != nil {
		return err
	}
	if err := binary.Read(r, byteOrder, &o.Type); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, o.TokenID[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, o.OfferedUTXOHash[:]); err != nil {
		return err
	}
	if err := binary.Read(r, byteOrder, &o.OfferedUTXOIndex); err != nil {
		return err
	}

	priceTerms, err := wire.ReadVarBytes(r, 0, maxVarBytesLen, "priceTerms")
	if err != nil {
		return err
	}
	o.PriceTerms = priceTerms

	signature, err := wire.ReadVarBytes(r, 0, maxVarBytesLen, "signature")
	if err != nil {
		return err
	}
	o.Signature = signature

	return binary.Read(r, byteOrder, &o.BlockHeight)
}

// widen converts a legacy record to the current layout. The v2-only fields
// are zero, which also means no want-index entries. The legacy type byte is
// dropped rather than mapped; v1 predates the offered/terms type split.
func (o *offerV1) widen() *SwapOffer {
	return &SwapOffer{
		Version:          o.Version,
		TokenID:          o.TokenID,
		OfferedUTXOHash:  o.OfferedUTXOHash,
		OfferedUTXOIndex: o.OfferedUTXOIndex,
		PriceTerms:       o.PriceTerms,
		Signature:        o.Signature,
		BlockHeight:      o.BlockHeight,
	}
}

// OrderCounts holds the number of open and history entries for one token.
type OrderCounts struct {
	OpenCount    int
	HistoryCount int
}
