package swapindex

// ChainSource is the view of the chain the index needs beyond the block
// events themselves. The chain follower that feeds ConnectBlock and
// DisconnectBlock implements it on the host node.
type ChainSource interface {
	// BestHeight returns the height of the current chain tip.
	BestHeight() int32
}
