package workers

import (
	"context"
	"encoding/hex"
	"strconv"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/syncdriver"
)

func hashKey(h codec.Hash256) string { return hex.EncodeToString(h.Bytes()) }

// CacheWarmer is the cache-warmer worker stage: on every committed
// block it files the block's dump and each of its transactions into
// bounded attribute-indexed caches, keyed by the originating block
// number, and evicts the window's trailing edge.
type CacheWarmer struct {
	stage

	blockWindow int
	txWindow    int

	blocks *attrCache[[]byte]
	txs    *attrCache[codec.TransactionInfo]
}

// NewCacheWarmer builds a cache warmer. maxCountBlockCache/maxCountTxsCache
// are the sliding window sizes (in blocks) the block-dump and
// transaction caches are kept over; 0 disables the respective cache, a
// negative value means unbounded (no eviction is ever issued).
func NewCacheWarmer(maxCountBlockCache, maxCountTxsCache int, log *zap.Logger) *CacheWarmer {
	return &CacheWarmer{
		stage:       newStage("cache-warmer", log),
		blockWindow: maxCountBlockCache,
		txWindow:    maxCountTxsCache,
		blocks:      newAttrCache[[]byte](maxCountBlockCache),
		txs:         newAttrCache[codec.TransactionInfo](maxCountTxsCache),
	}
}

func (w *CacheWarmer) Start(ctx context.Context) {
	w.run(ctx, w.process)
}

func (w *CacheWarmer) process(_ context.Context, item syncdriver.WorkItem) error {
	attribute := strconv.FormatUint(item.Header.BlockNumber, 10)

	w.blocks.Add(hashKey(item.Header.Hash), attribute, item.Dump)
	for _, tx := range item.Header.Txs {
		w.txs.Add(hashKey(tx.Hash), attribute, tx)
	}

	if w.blockWindow > 0 && item.Header.BlockNumber >= uint64(w.blockWindow) {
		w.blocks.Evict(strconv.FormatUint(item.Header.BlockNumber-uint64(w.blockWindow), 10))
	}
	if w.txWindow > 0 && item.Header.BlockNumber >= uint64(w.txWindow) {
		w.txs.Evict(strconv.FormatUint(item.Header.BlockNumber-uint64(w.txWindow), 10))
	}
	return nil
}

// GetDump returns a cached block dump by its hash.
func (w *CacheWarmer) GetDump(hash codec.Hash256) ([]byte, bool) {
	return w.blocks.Get(hashKey(hash))
}

// GetTx returns a cached transaction by its hash.
func (w *CacheWarmer) GetTx(hash codec.Hash256) (codec.TransactionInfo, bool) {
	return w.txs.Get(hashKey(hash))
}
