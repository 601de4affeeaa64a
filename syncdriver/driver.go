// Package syncdriver owns the node's single write path: pinning module
// and schema versions at startup, restoring the in-memory resolver from
// the key-value store, replaying any blocks workers fell behind on, and
// then running the steady ingest loop that pulls blocks from a source
// and fans each one out to every worker.
package syncdriver

import (
	"context"
	"time"

	"go.uber.org/zap"

	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/chain"
	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/kvstore"
	"torrentnode.dev/indexer/xerr"
)

// minIterationSleep is the floor the steady loop never iterates faster
// than, even when a source has more blocks immediately available.
const minIterationSleep = 500 * time.Millisecond

// WorkItem is one block handed from the driver to every worker, in
// strictly increasing block-number order.
type WorkItem struct {
	Header codec.BlockHeader
	Dump   []byte
}

// Worker is the contract a worker stage (cache warmer, main indexer,
// node-test updater) presents to the driver: a bounded, FIFO, one-thread
// consumer of WorkItems that tracks its own recovery checkpoint.
type Worker interface {
	Name() string
	// Enqueue hands item to the worker's queue, blocking if it is full
	// until ctx is done or a slot frees up.
	Enqueue(ctx context.Context, item WorkItem) error
	// Start launches the worker's dedicated consumer goroutine; it
	// returns once ctx is cancelled and the queue has drained.
	Start(ctx context.Context)
	// InitBlockNumber is the last block number this worker has fully
	// committed, or ok == false if it has never committed one.
	InitBlockNumber() (uint64, bool)
}

// Config is the fixed set of parameters a Driver is built from.
type Config struct {
	ModuleBits uint64
	DBVersion  uint64

	// Validate buffers one block ahead, only accepting a block once the
	// following block's sign-block transactions confirm its hash.
	Validate bool

	// SaveBlockToFiles, when true, persists a block fetched from the
	// peer source into a local archive file before indexing it.
	SaveBlockToFiles bool
	ArchiveDir       string

	// UsersModuleOn gates filterTransactionsToSave's watch-list check. When
	// false every transaction is persisted regardless of Watched.
	UsersModuleOn bool
	// Watched is the set of addresses (by hex string) a transaction must
	// touch, as sender or recipient, to be persisted when UsersModuleOn is
	// set. A sign-block transaction is always persisted.
	Watched map[string]bool
}

// Driver wires together the resolver, a primary ingest source (typically
// the peer source), an optional recovery source (the local file
// archive), the kv store, and the worker pool, and runs the sync
// protocol described by the steady/recovery loops.
type Driver struct {
	cfg      Config
	store    *kvstore.Store
	resolver *chain.Resolver
	source   blocksource.Source
	recovery blocksource.Source // typically the file source; nil disables recovery replay
	workers  []Worker
	log      *zap.Logger

	archive *archiveWriter
}

// NewDriver builds a Driver. source is the primary ingest path (usually
// peersrc.Source); recovery, if non-nil, is consulted first during
// startup replay (usually filesrc.Source, since local reads are cheap).
func NewDriver(cfg Config, store *kvstore.Store, resolver *chain.Resolver, source, recovery blocksource.Source, workers []Worker, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Driver{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		source:   source,
		recovery: recovery,
		workers:  workers,
		log:      log,
	}
	if cfg.SaveBlockToFiles {
		d.archive = newArchiveWriter(cfg.ArchiveDir)
	}
	return d
}

// Start runs the full startup sequence (pinning, resolver restore,
// worker threads, recovery replay) and then blocks running the steady
// loop until ctx is cancelled.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.enforcePinning(); err != nil {
		return err
	}
	if err := d.restoreResolver(); err != nil {
		return err
	}
	for _, w := range d.workers {
		go w.Start(ctx)
	}
	if err := d.recoveryLoop(ctx); err != nil {
		return err
	}
	return d.steadyLoop(ctx)
}

// enforcePinning fails startup if the module set or schema version
// already stamped in the store differs from the configured one. A
// never-stamped store adopts the configured values.
func (d *Driver) enforcePinning() error {
	bits, err := d.store.GetModules()
	if err != nil {
		return err
	}
	if bits == 0 {
		if err := d.store.PutModules(d.cfg.ModuleBits); err != nil {
			return err
		}
	} else if bits != d.cfg.ModuleBits {
		return xerr.New(xerr.User, "syncdriver: configured module set does not match the one this database was created with")
	}

	version, err := d.store.GetDBVersion()
	if err != nil {
		return err
	}
	if version == 0 {
		return d.store.SetDBVersion(d.cfg.DBVersion)
	}
	if version != d.cfg.DBVersion {
		return xerr.New(xerr.User, "syncdriver: database schema version does not match the running binary")
	}
	return nil
}

// restoreResolver replays every header the store has ever seen into the
// in-memory resolver, then tries to extend the canonical chain through
// each of them — a header is numbered the moment the walk from it
// reaches an already-numbered ancestor, so the order they're replayed in
// doesn't matter.
func (d *Driver) restoreResolver() error {
	headers, err := d.store.ScanBlocks(nil, nil, 0, 0)
	if err != nil {
		return err
	}
	for _, h := range headers {
		d.resolver.AddWithoutCalc(h)
	}
	for _, h := range headers {
		d.resolver.CalcBlockchain(h.Hash)
	}
	d.log.Info("syncdriver: resolver restored", zap.Int("headers", len(headers)), zap.Uint64("tip", d.resolver.CountBlocks()))
	return nil
}

// recoveryLoop re-feeds every block between the most-behind worker's
// checkpoint and the resolver's current tip, preferring the recovery
// source (cheap local reads) and falling back to the primary source per
// block when recovery can't supply it.
func (d *Driver) recoveryLoop(ctx context.Context) error {
	min, ok := d.minWorkerCheckpoint()
	if !ok {
		return nil
	}
	tip := d.resolver.CountBlocks()
	if min >= tip {
		return nil
	}

	d.log.Info("syncdriver: replaying blocks for lagging workers", zap.Uint64("from", min+1), zap.Uint64("to", tip))
	for n := min + 1; n <= tip; n++ {
		select {
		case <-ctx.Done():
			return xerr.Wrap(xerr.Cancelled, "syncdriver: recovery interrupted", ctx.Err())
		default:
		}
		hash, ok := d.resolver.GetHashByNumber(n)
		if !ok {
			continue
		}
		header, err := d.store.GetBlockByHash(hash)
		if err != nil {
			return err
		}
		item, err := d.recoverBlock(ctx, header)
		if err != nil {
			return err
		}
		if err := d.dispatchToLaggingWorkers(ctx, item, n); err != nil {
			return err
		}
	}
	return nil
}

// recoverBlock re-fetches a block's dump, trying the recovery source
// first and the primary source on failure.
func (d *Driver) recoverBlock(ctx context.Context, header codec.BlockHeader) (WorkItem, error) {
	if d.recovery != nil {
		if h, dump, err := d.recovery.GetExistingBlock(ctx, header); err == nil {
			return WorkItem{Header: h, Dump: dump}, nil
		}
	}
	h, dump, err := d.source.GetExistingBlock(ctx, header)
	if err != nil {
		return WorkItem{}, err
	}
	return WorkItem{Header: h, Dump: dump}, nil
}

// dispatchToLaggingWorkers enqueues item only to the workers whose own
// checkpoint is still behind blockNumber.
func (d *Driver) dispatchToLaggingWorkers(ctx context.Context, item WorkItem, blockNumber uint64) error {
	for _, w := range d.workers {
		checkpoint, ok := w.InitBlockNumber()
		if ok && checkpoint >= blockNumber {
			continue
		}
		if err := w.Enqueue(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

// minWorkerCheckpoint is the smallest InitBlockNumber across every
// worker, or ok == false if there are no workers or none has committed
// anything yet.
func (d *Driver) minWorkerCheckpoint() (uint64, bool) {
	var (
		min   uint64
		found bool
	)
	for _, w := range d.workers {
		n, ok := w.InitBlockNumber()
		if !ok {
			return 0, false
		}
		if !found || n < min {
			min = n
			found = true
		}
	}
	return min, found
}

// steadyLoop pulls new blocks from the primary source at least every
// minIterationSleep, indexing each one and fanning it out to the
// workers, until ctx is cancelled.
func (d *Driver) steadyLoop(ctx context.Context) error {
	var pending *pendingBlock
	if d.cfg.Validate {
		pending = &pendingBlock{}
	}

	for {
		start := time.Now()
		select {
		case <-ctx.Done():
			return xerr.Wrap(xerr.Cancelled, "syncdriver: steady loop stopped", ctx.Err())
		default:
		}

		more, _, err := d.source.DoProcess(ctx, d.resolver.CountBlocks(), d.resolver.GetLastHash())
		if err != nil {
			d.log.Warn("syncdriver: head discovery failed, will retry next iteration", zap.Error(err))
		}

		for more {
			header, dump, ok, err := d.source.Next(ctx)
			if err != nil {
				d.log.Warn("syncdriver: source.Next failed mid-iteration", zap.Error(err))
				break
			}
			if !ok {
				break
			}
			if err := d.ingest(ctx, header, dump, pending); err != nil {
				d.log.Warn("syncdriver: ingest failed, refusing block and continuing", zap.Error(err))
			}
			more, _, err = d.source.DoProcess(ctx, d.resolver.CountBlocks(), d.resolver.GetLastHash())
			if err != nil {
				break
			}
		}

		if elapsed := time.Since(start); elapsed < minIterationSleep {
			select {
			case <-ctx.Done():
				return xerr.Wrap(xerr.Cancelled, "syncdriver: steady loop stopped", ctx.Err())
			case <-time.After(minIterationSleep - elapsed):
			}
		}
	}
}

// pendingBlock holds the one block validate mode buffers while it waits
// for the next block's sign-block transactions to confirm its hash.
type pendingBlock struct {
	header codec.BlockHeader
	dump   []byte
	have   bool
}

// ingest runs one block through the full steady-loop pipeline: transaction
// filtering, sign-block collection, optional local persistence, resolver
// admission, worker fan-out, and the kv-store write. In validate mode the
// block is held back one iteration until its successor's block_signatures
// confirm it.
func (d *Driver) ingest(ctx context.Context, header codec.BlockHeader, dump []byte, pending *pendingBlock) error {
	filterTransactionsToSave(&header, d.cfg.UsersModuleOn, d.cfg.Watched)
	collectSignBlockTxs(&header)

	if pending != nil {
		if pending.have {
			if !confirms(pending.header.Hash, header) {
				d.resolver.RemoveBlock(pending.header.Hash)
				pending.have = false
				return xerr.New(xerr.Integrity, "syncdriver: next block's signatures do not confirm the previous block's hash")
			}
			if err := d.commit(ctx, pending.header, pending.dump); err != nil {
				return err
			}
		}
		pending.header, pending.dump, pending.have = header, dump, true
		return nil
	}

	return d.commit(ctx, header, dump)
}

// commit persists and admits a single already-validated block.
func (d *Driver) commit(ctx context.Context, header codec.BlockHeader, dump []byte) error {
	if d.archive != nil {
		pos, err := d.archive.write(dump)
		if err != nil {
			return err
		}
		rewriteFilePositions(&header, pos)
	}

	n, err := d.resolver.AddBlock(header)
	if err != nil {
		return err
	}
	header.BlockNumber = n
	for i := range header.Txs {
		header.Txs[i].BlockNumber = n
	}

	for _, w := range d.workers {
		if err := w.Enqueue(ctx, WorkItem{Header: header, Dump: dump}); err != nil {
			return err
		}
	}

	if err := d.store.PutBlockMeta(header.Metadata()); err != nil {
		return err
	}
	return d.store.PutBlock(header)
}

// confirms reports whether candidate's block_signatures include
// prevHash, the check validate mode performs one block ahead.
func confirms(prevHash codec.Hash256, candidate codec.BlockHeader) bool {
	want := prevHash.Bytes()
	for _, sig := range candidate.BlockSignatures {
		if bytesEqual(sig, want) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
