// Package blocksource defines the contract the sync driver pulls blocks
// through, implemented once against a sequential archive file
// (blocksource/filesrc) and once against a remote peer's query surface
// (blocksource/peersrc).
package blocksource

import (
	"context"

	"torrentnode.dev/indexer/codec"
)

// Source is a pluggable origin of blocks: the file reader during
// catch-up, the peer fetcher once the node is near the head.
type Source interface {
	// Initialize prepares the source (opening files, priming caches) and
	// must be called once before DoProcess/Next.
	Initialize(ctx context.Context) error

	// DoProcess tells the source the resolver's current tip so it can
	// decide whether more blocks are available, returning the head block
	// number it knows about. countBlocks/lastHash describe the resolver's
	// state; more reports whether a subsequent Next call will yield a
	// block.
	DoProcess(ctx context.Context, countBlocks uint64, lastHash codec.Hash256) (more bool, head uint64, err error)

	// KnownBlock reports the highest block number the source is aware of,
	// without making a new request.
	KnownBlock() uint64

	// Next yields the next block in source order, or ok == false once the
	// source is exhausted for this DoProcess round.
	Next(ctx context.Context) (header codec.BlockHeader, dump []byte, ok bool, err error)

	// GetExistingBlock re-reads a single already-known block (by its
	// stored file position), used for validate-mode lookback and ad-hoc
	// dump queries.
	GetExistingBlock(ctx context.Context, h codec.BlockHeader) (codec.BlockHeader, []byte, error)
}
