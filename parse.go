package swapindex

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/radiant-core/swapindex/swapdb"
)

var (
	// protocolTag is the four byte push that marks an OP_RETURN output as
	// a swap advertisement.
	protocolTag = []byte("RSWP")

	// errNotSwapAd is returned for outputs that are not swap
	// advertisements at all: no OP_RETURN or no protocol tag.
	errNotSwapAd = errors.New("not a swap advertisement")

	// errMalformedSwapAd is returned for outputs that carry the protocol
	// tag but do not parse as an advertisement. Such outputs are dropped
	// individually, they never fail the block.
	errMalformedSwapAd = errors.New("malformed swap advertisement")
)

// ParseOfferScript parses a transaction output script as a swap
// advertisement and returns the offer with BlockHeight set to height.
//
// The expected script is OP_RETURN followed by push-steps:
//
//	"RSWP" version [flags offeredType termsType] tokenID [wantTokenID]
//	utxoHash utxoIndex priceTerms... signature
//
// where the bracketed fields are v2-only and wantTokenID is present only
// when the flags carry FlagHasWant. Every push before the final signature
// that follows utxoIndex is concatenated into the price terms. Version
// bytes other than 2 are parsed with the legacy v1 layout: a single type
// byte instead of the flag and type fields, no wanted token, and exactly
// one price terms push.
func ParseOfferScript(script []byte, height int32) (*swapdb.SwapOffer, error) {
	if len(script) == 0 || script[0] != txscript.OP_RETURN {
		return nil, errNotSwapAd
	}

	tokenizer := txscript.MakeScriptTokenizer(0, script)

	// Skip the OP_RETURN itself.
	if !tokenizer.Next() {
		return nil, errNotSwapAd
	}

	// Protocol tag.
	if !tokenizer.Next() || !bytes.Equal(tokenizer.Data(), protocolTag) {
		return nil, errNotSwapAd
	}

	version, err := readByte(&tokenizer)
	if err != nil {
		return nil, err
	}

	offer := &swapdb.SwapOffer{
		Version:     version,
		BlockHeight: height,
	}

	if version == 2 {
		if err := parseOfferV2(&tokenizer, offer); err != nil {
			return nil, err
		}
	} else {
		if err := parseOfferV1(&tokenizer, offer); err != nil {
			return nil, err
		}
	}

	return offer, nil
}

// parseOfferV2 consumes the v2 advertisement fields following the version
// push.
func parseOfferV2(tokenizer *txscript.ScriptTokenizer,
	offer *swapdb.SwapOffer) error {

	var err error
	if offer.Flags, err = readByte(tokenizer); err != nil {
		return err
	}
	if offer.OfferedType, err = readByte(tokenizer); err != nil {
		return err
	}
	if offer.TermsType, err = readByte(tokenizer); err != nil {
		return err
	}

	if err := readHash(tokenizer, &offer.TokenID); err != nil {
		return err
	}

	if offer.Flags&swapdb.FlagHasWant != 0 {
		if err := readHash(tokenizer, &offer.WantTokenID); err != nil {
			return err
		}
	}

	if err := readHash(tokenizer, &offer.OfferedUTXOHash); err != nil {
		return err
	}

	if offer.OfferedUTXOIndex, err = readIndex(tokenizer); err != nil {
		return err
	}

	// The remaining pushes are the price terms followed by the
	// signature. Anything other than a plain data push here voids the
	// advertisement.
	var tail [][]byte
	for tokenizer.Next() {
		if tokenizer.Opcode() > txscript.OP_PUSHDATA4 {
			return errMalformedSwapAd
		}
		data := make([]byte, len(tokenizer.Data()))
		copy(data, tokenizer.Data())
		tail = append(tail, data)
	}
	if tokenizer.Err() != nil || len(tail) < 2 {
		return errMalformedSwapAd
	}

	for _, push := range tail[:len(tail)-1] {
		offer.PriceTerms = append(offer.PriceTerms, push...)
	}
	offer.Signature = tail[len(tail)-1]

	return nil
}

// parseOfferV1 consumes the legacy advertisement fields following the
// version push.
func parseOfferV1(tokenizer *txscript.ScriptTokenizer,
	offer *swapdb.SwapOffer) error {

	// The single legacy type byte predates the offered/terms type split
	// and is not carried into the record.
	if _, err := readByte(tokenizer); err != nil {
		return err
	}

	if err := readHash(tokenizer, &offer.TokenID); err != nil {
		return err
	}
	if err := readHash(tokenizer, &offer.OfferedUTXOHash); err != nil {
		return err
	}

	var err error
	if offer.OfferedUTXOIndex, err = readIndex(tokenizer); err != nil {
		return err
	}

	if !tokenizer.Next() {
		return errMalformedSwapAd
	}
	offer.PriceTerms = make([]byte, len(tokenizer.Data()))
	copy(offer.PriceTerms, tokenizer.Data())

	if !tokenizer.Next() {
		return errMalformedSwapAd
	}
	offer.Signature = make([]byte, len(tokenizer.Data()))
	copy(offer.Signature, tokenizer.Data())

	return nil
}

// readByte consumes a push-step and requires a single data byte.
func readByte(tokenizer *txscript.ScriptTokenizer) (byte, error) {
	if !tokenizer.Next() || len(tokenizer.Data()) != 1 {
		return 0, errMalformedSwapAd
	}
	return tokenizer.Data()[0], nil
}

// readHash consumes a push-step and requires a 32 byte hash.
func readHash(tokenizer *txscript.ScriptTokenizer,
	hash *chainhash.Hash) error {

	if !tokenizer.Next() ||
		len(tokenizer.Data()) != chainhash.HashSize {

		return errMalformedSwapAd
	}
	copy(hash[:], tokenizer.Data())
	return nil
}

// readIndex consumes the offered output index, encoded either as a small
// int opcode or as a script number of up to four bytes.
func readIndex(tokenizer *txscript.ScriptTokenizer) (uint32, error) {
	if !tokenizer.Next() {
		return 0, errMalformedSwapAd
	}

	if txscript.IsSmallInt(tokenizer.Opcode()) {
		return uint32(txscript.AsSmallInt(tokenizer.Opcode())), nil
	}

	num, err := decodeScriptNum(tokenizer.Data())
	if err != nil {
		return 0, err
	}
	return uint32(num), nil
}

// decodeScriptNum interprets data as the script number encoding: little
// endian, sign bit in the high bit of the last byte, at most four bytes.
func decodeScriptNum(data []byte) (int32, error) {
	if len(data) > 4 {
		return 0, errMalformedSwapAd
	}
	if len(data) == 0 {
		return 0, nil
	}

	var result int64
	for i, b := range data {
		result |= int64(b) << (8 * i)
	}

	if data[len(data)-1]&0x80 != 0 {
		result &^= int64(0x80) << (8 * (len(data) - 1))
		result = -result
	}

	return int32(result), nil
}
