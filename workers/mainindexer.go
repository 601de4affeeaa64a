package workers

import (
	"context"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/syncdriver"
	"torrentnode.dev/indexer/xerr"
)

// MainIndexer is the main-indexer worker stage: it stamps the ms_
// canonical-chain pointer forward one block at a time, refusing a
// block whose prev_hash doesn't match the pointer it would extend.
type MainIndexer struct {
	stage

	store *kvstore.Store

	lastHash  codec.Hash256
	lastKnown bool
	countVal  uint64
}

// NewMainIndexer builds a main indexer, loading the chain pointer
// already persisted at startup (if any) so the prev-hash check and
// countVal carry-forward are correct from the very first block.
func NewMainIndexer(store *kvstore.Store, startBlock uint64, startHash codec.Hash256, haveStart bool, startCountVal uint64, log *zap.Logger) *MainIndexer {
	m := &MainIndexer{stage: newStage("main-indexer", log), store: store, lastHash: startHash, lastKnown: haveStart, countVal: startCountVal}
	if haveStart {
		m.commit(startBlock)
	}
	return m
}

func (m *MainIndexer) Start(ctx context.Context) {
	m.run(ctx, m.process)
}

func (m *MainIndexer) process(_ context.Context, item syncdriver.WorkItem) error {
	n, ok := m.InitBlockNumber()
	if ok && item.Header.BlockNumber <= n {
		return nil
	}
	if m.lastKnown && !m.lastHash.Zero() && m.lastHash != item.Header.PrevHash {
		return xerr.New(xerr.Integrity, "workers: main indexer: prev_hash does not extend the canonical chain")
	}

	info := codec.MainBlockInfo{BlockNumber: item.Header.BlockNumber, BlockHash: item.Header.Hash, CountVal: m.countVal}
	if err := m.store.WriteBatch(func(b *kvstore.Batch) error {
		return b.PutMainBlockInfo(info)
	}); err != nil {
		return err
	}

	m.lastHash, m.lastKnown = item.Header.Hash, true
	return nil
}
