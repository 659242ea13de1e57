package swapindex

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/radiant-core/swapindex/swapdb"
	"github.com/stretchr/testify/require"
)

// TestConnectBlockAdvertise covers the simple advertise scenario: one
// block, one advertisement, nothing spent.
func TestConnectBlockAdvertise(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xaa)

	adTx := makeTx(nil, adScriptV2(
		token, nil, utxoHash, 3, []byte{0x01}, []byte{0x02},
	))
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, adTx)))

	open := ctx.openOrders(token)
	require.Len(t, open, 1)
	require.Equal(t, token, open[0].TokenID)
	require.Equal(t, utxoHash, open[0].OfferedUTXOHash)
	require.Equal(t, uint32(3), open[0].OfferedUTXOIndex)
	require.Equal(t, int32(100), open[0].BlockHeight)

	require.Empty(t, ctx.historyOrders(token))

	counts, err := ctx.idx.OrderCounts(&token)
	require.NoError(t, err)
	require.Equal(t, swapdb.OrderCounts{OpenCount: 1}, counts)
}

// TestConnectBlockSpend covers the spend scenario: a later block consumes
// the offered outpoint and the offer moves to history at the spend height.
func TestConnectBlockSpend(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xaa)

	adTx := makeTx(nil, adScriptV2(
		token, nil, utxoHash, 3, []byte{0x01}, []byte{0x02},
	))
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, adTx)))

	spendTx := makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 3}})
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(101, spendTx)))

	require.Empty(t, ctx.openOrders(token))

	history := ctx.historyOrders(token)
	require.Len(t, history, 1)
	require.Equal(t, uint32(3), history[0].OfferedUTXOIndex)
	require.Equal(t, int32(101), history[0].BlockHeight)

	counts, err := ctx.idx.OrderCounts(&token)
	require.NoError(t, err)
	require.Equal(t, swapdb.OrderCounts{HistoryCount: 1}, counts)

	// A spend of an unrelated outpoint moves nothing.
	otherSpend := makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 9}})
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(102, otherSpend)))
	require.Len(t, ctx.historyOrders(token), 1)
}

// TestDisconnectRestoresSpend covers the reorg scenario: disconnecting the
// spending block moves the offer back to open. The record keeps the spend
// height; the original advertisement height is not restored.
func TestDisconnectRestoresSpend(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xaa)

	adTx := makeTx(nil, adScriptV2(
		token, nil, utxoHash, 3, []byte{0x01}, []byte{0x02},
	))
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, adTx)))

	spendBlock := makeBlock(
		101, makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 3}}),
	)
	require.NoError(t, ctx.idx.ConnectBlock(spendBlock))
	require.NoError(t, ctx.idx.DisconnectBlock(spendBlock))

	open := ctx.openOrders(token)
	require.Len(t, open, 1)
	require.Equal(t, int32(101), open[0].BlockHeight)
	require.Empty(t, ctx.historyOrders(token))
}

// TestDisconnectRemovesAd covers the other reorg direction: disconnecting
// the block that carried the advertisement removes it entirely.
func TestDisconnectRemovesAd(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xaa)

	adBlock := makeBlock(100, makeTx(nil, adScriptV2(
		token, nil, utxoHash, 3, []byte{0x01}, []byte{0x02},
	)))
	require.NoError(t, ctx.idx.ConnectBlock(adBlock))
	require.NoError(t, ctx.idx.DisconnectBlock(adBlock))

	require.Empty(t, ctx.openOrders(token))
	require.Empty(t, ctx.historyOrders(token))
}

// TestConnectDisconnectRoundTrip checks that connecting and immediately
// disconnecting a block leaves no trace across all four families.
func TestConnectDisconnectRoundTrip(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	want := hashFromByte(0x22)

	block := makeBlock(
		100,
		makeTx(nil, adScriptV2(
			token, &want, hashFromByte(0xaa), 0, []byte{1},
			[]byte{2},
		)),
		makeTx(nil, adScriptV2(
			token, nil, hashFromByte(0xbb), 1, []byte{3},
			[]byte{4},
		)),
	)
	require.NoError(t, ctx.idx.ConnectBlock(block))
	require.NoError(t, ctx.idx.DisconnectBlock(block))

	require.Empty(t, ctx.openOrders(token))
	require.Empty(t, ctx.historyOrders(token))

	openWant, err := ctx.idx.OpenOrdersByWant(&want, 0, 0)
	require.NoError(t, err)
	require.Empty(t, openWant)

	histWant, err := ctx.idx.HistoryOrdersByWant(&want, 0, 0)
	require.NoError(t, err)
	require.Empty(t, histWant)
}

// TestWantIndexParity covers the want-index scenario: the secondary index
// follows the offer through open and history.
func TestWantIndexParity(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	want := hashFromByte(0x22)
	utxoHash := hashFromByte(0xaa)

	adTx := makeTx(nil, adScriptV2(
		token, &want, utxoHash, 3, []byte{0x01}, []byte{0x02},
	))
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, adTx)))

	openWant, err := ctx.idx.OpenOrdersByWant(&want, 0, 0)
	require.NoError(t, err)
	require.Len(t, openWant, 1)
	require.Equal(t, token, openWant[0].TokenID)

	// The primary and secondary entries carry equal values.
	open := ctx.openOrders(token)
	require.Len(t, open, 1)
	require.Equal(t, open[0], openWant[0])

	counts, err := ctx.idx.OrderCountsByWant(&want)
	require.NoError(t, err)
	require.Equal(t, swapdb.OrderCounts{OpenCount: 1}, counts)

	spendTx := makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 3}})
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(101, spendTx)))

	openWant, err = ctx.idx.OpenOrdersByWant(&want, 0, 0)
	require.NoError(t, err)
	require.Empty(t, openWant)

	histWant, err := ctx.idx.HistoryOrdersByWant(&want, 0, 0)
	require.NoError(t, err)
	require.Len(t, histWant, 1)
	require.Equal(t, int32(101), histWant[0].BlockHeight)
}

// TestSameBlockAdvertiseAndSpend checks that an advertisement whose
// offered outpoint is consumed within the same block ends up in history
// only: the open family reflects live outpoints.
func TestSameBlockAdvertiseAndSpend(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xcc)

	adTx := makeTx(nil, adScriptV2(
		token, nil, utxoHash, 0, []byte{0x01}, []byte{0x02},
	))
	spendTx := makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 0}})

	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, adTx, spendTx)))

	require.Empty(t, ctx.openOrders(token))

	history := ctx.historyOrders(token)
	require.Len(t, history, 1)
	require.Equal(t, int32(100), history[0].BlockHeight)
}

// TestQueryPagination checks limit clamping and offset paging through the
// index surface.
func TestQueryPagination(t *testing.T) {
	ctx := newTestContext(t)

	token := hashFromByte(0x11)

	var txs []*wire.MsgTx
	const numOffers = 5
	for i := byte(0); i < numOffers; i++ {
		txs = append(txs, makeTx(nil, adScriptV2(
			token, nil, hashFromByte(0xa0+i), 0, []byte{1},
			[]byte{2},
		)))
	}
	require.NoError(t, ctx.idx.ConnectBlock(makeBlock(100, txs...)))

	// Zero limit falls back to the default page size.
	all, err := ctx.idx.OpenOrders(&token, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, numOffers)

	// Pages concatenate to the full scan with no gaps or duplicates.
	var paged []swapdb.SwapOffer
	for offset := 0; offset < numOffers; offset += 2 {
		page, err := ctx.idx.OpenOrders(&token, 2, offset)
		require.NoError(t, err)
		paged = append(paged, page...)
	}
	require.Equal(t, all, paged)

	// An oversized limit is clamped rather than rejected.
	clamped, err := ctx.idx.OpenOrders(&token, MaxQueryLimit+1, 0)
	require.NoError(t, err)
	require.Len(t, clamped, numOffers)
}

// TestConnectBlockBolt runs the advertise/spend flow against the bolt
// backed store to keep the two store implementations honest.
func TestConnectBlockBolt(t *testing.T) {
	store, err := swapdb.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig(t.TempDir())
	idx := New(cfg, store, &testChain{})
	require.NoError(t, idx.Init())
	defer idx.Stop()

	token := hashFromByte(0x11)
	utxoHash := hashFromByte(0xaa)

	adTx := makeTx(nil, adScriptV2(
		token, nil, utxoHash, 3, []byte{0x01}, []byte{0x02},
	))
	require.NoError(t, idx.ConnectBlock(makeBlock(100, adTx)))

	spendTx := makeTx([]wire.OutPoint{{Hash: utxoHash, Index: 3}})
	require.NoError(t, idx.ConnectBlock(makeBlock(101, spendTx)))

	open, err := idx.OpenOrders(&token, 0, 0)
	require.NoError(t, err)
	require.Empty(t, open)

	history, err := idx.HistoryOrders(&token, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, int32(101), history[0].BlockHeight)
}

// TestInitWipe checks that the wipe configuration drops existing index
// data during Init.
func TestInitWipe(t *testing.T) {
	store := swapdb.NewMemStore()

	cfg := DefaultConfig(t.TempDir())
	idx := New(cfg, store, &testChain{})
	require.NoError(t, idx.Init())

	token := hashFromByte(0x11)
	adTx := makeTx(nil, adScriptV2(
		token, nil, hashFromByte(0xaa), 0, []byte{1}, []byte{2},
	))
	require.NoError(t, idx.ConnectBlock(makeBlock(100, adTx)))
	idx.InterruptPrune()

	cfg.Wipe = true
	idx2 := New(cfg, store, &testChain{})
	require.NoError(t, idx2.Init())
	defer idx2.Stop()

	open, err := idx2.OpenOrders(&token, 0, 0)
	require.NoError(t, err)
	require.Empty(t, open)
}
