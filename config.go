package swapindex

import (
	"path/filepath"
	"time"
)

const (
	// DefaultHistoryBlocks is the default number of blocks of history
	// kept below the chain tip before the pruner deletes entries. Around
	// 35 days at 5 minute blocks.
	DefaultHistoryBlocks = 10000

	// DefaultPruneInterval is the default time between prune cycles.
	DefaultPruneInterval = 60 * time.Second

	// DefaultQueryLimit is the page size used when a query does not
	// specify one.
	DefaultQueryLimit = 100

	// MaxQueryLimit is the hard ceiling a query page is clamped to.
	MaxQueryLimit = 1000

	// dbDirName is the location of the index database below the node
	// data directory.
	dbDirName = "indexes/swapindex"
)

// Config holds the swap index configuration. The struct tags let the host
// node binary splice these options into its own flag parser.
type Config struct {
	// DBDir is the directory holding the index database.
	DBDir string `long:"dbdir" description:"Directory of the swap index database"`

	// HistoryBlocks is the retention horizon: history entries more than
	// this many blocks below the tip are pruned. Zero disables pruning.
	HistoryBlocks int32 `long:"historyblocks" description:"Blocks of swap history to retain below the chain tip"`

	// PruneInterval is the time between prune cycles.
	PruneInterval time.Duration `long:"pruneinterval" description:"Interval between swap history prune cycles"`

	// Wipe drops all index data before initialization. The index then
	// rebuilds from the block stream.
	Wipe bool `long:"wipe" description:"Drop and rebuild the swap index on startup"`
}

// DefaultConfig returns the configuration the index runs with when the host
// overrides nothing.
func DefaultConfig(dataDir string) Config {
	return Config{
		DBDir:         filepath.Join(dataDir, dbDirName),
		HistoryBlocks: DefaultHistoryBlocks,
		PruneInterval: DefaultPruneInterval,
	}
}
