package swapindex

import (
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/radiant-core/swapindex/swapdb"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func hashFromByte(b byte) chainhash.Hash {
	var hash chainhash.Hash
	for i := range hash {
		hash[i] = b
	}
	return hash
}

// pushScript assembles OP_RETURN followed by one direct data push per item.
// The direct encoding is used on purpose: the on-chain format pushes single
// bytes as one-byte data pushes, not as small int opcodes.
func pushScript(items ...[]byte) []byte {
	script := []byte{txscript.OP_RETURN}
	for _, item := range items {
		script = append(script, byte(len(item)))
		script = append(script, item...)
	}
	return script
}

// adScriptV2 builds a well-formed v2 advertisement script. want may be nil
// for an offer that names no wanted token.
func adScriptV2(token chainhash.Hash, want *chainhash.Hash,
	utxoHash chainhash.Hash, index byte, priceTerms,
	signature []byte) []byte {

	flags := byte(0)
	if want != nil {
		flags = byte(swapdb.FlagHasWant)
	}

	items := [][]byte{
		[]byte("RSWP"), {2}, {flags}, {0}, {0}, token[:],
	}
	if want != nil {
		items = append(items, want[:])
	}
	items = append(
		items, utxoHash[:], []byte{index}, priceTerms, signature,
	)
	return pushScript(items...)
}

// makeTx returns a transaction spending the given outpoints and carrying
// the given output scripts. Inputs default to a dummy outpoint so the
// transaction never looks like a coinbase.
func makeTx(spends []wire.OutPoint, scripts ...[]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)

	if len(spends) == 0 {
		dummy := hashFromByte(0x99)
		spends = []wire.OutPoint{{Hash: dummy, Index: 0}}
	}
	for _, prevOut := range spends {
		prevOut := prevOut
		tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	}

	for _, script := range scripts {
		tx.AddTxOut(wire.NewTxOut(0, script))
	}
	if len(scripts) == 0 {
		tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_TRUE}))
	}

	return tx
}

// makeBlock wraps transactions into a block at the given height. The nonce
// keeps block hashes distinct across test blocks.
var testNonce uint32

func makeBlock(height int32, txs ...*wire.MsgTx) *btcutil.Block {
	testNonce++

	var prevHash, merkleRoot chainhash.Hash
	header := wire.NewBlockHeader(1, &prevHash, &merkleRoot, 0, testNonce)

	msgBlock := wire.NewMsgBlock(header)
	for _, tx := range txs {
		_ = msgBlock.AddTransaction(tx)
	}

	block := btcutil.NewBlock(msgBlock)
	block.SetHeight(height)
	return block
}

// testChain is a settable chain tip.
type testChain struct {
	mtx    sync.Mutex
	height int32
}

func (c *testChain) BestHeight() int32 {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.height
}

func (c *testChain) setHeight(height int32) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.height = height
}

// testContext bundles an initialized index over an in-memory store with a
// test clock driving the pruner.
type testContext struct {
	t     *testing.T
	idx   *Index
	store swapdb.Store
	chain *testChain
	clock *clock.TestClock
}

func newTestContext(t *testing.T) *testContext {
	store := swapdb.NewMemStore()
	chain := &testChain{}
	testClock := clock.NewTestClock(testTime)

	cfg := DefaultConfig(t.TempDir())
	cfg.HistoryBlocks = 1000

	idx := New(cfg, store, chain, WithClock(testClock))
	require.NoError(t, idx.Init())
	t.Cleanup(idx.Stop)

	return &testContext{
		t:     t,
		idx:   idx,
		store: store,
		chain: chain,
		clock: testClock,
	}
}

// openOrders fetches a full page of open orders and fails the test on
// error.
func (ctx *testContext) openOrders(token chainhash.Hash) []swapdb.SwapOffer {
	ctx.t.Helper()

	offers, err := ctx.idx.OpenOrders(&token, 0, 0)
	require.NoError(ctx.t, err)
	return offers
}

func (ctx *testContext) historyOrders(
	token chainhash.Hash) []swapdb.SwapOffer {

	ctx.t.Helper()

	offers, err := ctx.idx.HistoryOrders(&token, 0, 0)
	require.NoError(ctx.t, err)
	return offers
}
