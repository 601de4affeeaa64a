// Package chain resolves the blockchain DAG into a single canonical
// number-ordered chain: every header ever seen is kept, but only one
// chain of ancestry is numbered.
package chain

import (
	"sync"

	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

// genesisHash is the all-zero sentinel hash that seeds an empty chain at
// block number 0.
var genesisHash codec.Hash256

// Resolver holds every known header in memory and assigns block numbers
// lazily by walking prev_hash chains back to a numbered ancestor.
type Resolver struct {
	mu sync.RWMutex

	// blocks maps a block hash to the full header the chain has accepted
	// for it, including a block number once one has been assigned.
	blocks map[codec.Hash256]blockEntry

	// hashes holds the canonical chain in ascending block-number order;
	// hashes[i] is the hash of block number i.
	hashes []codec.Hash256
}

type blockEntry struct {
	header   codec.BlockHeader
	numbered bool
}

// NewResolver returns a Resolver seeded with the genesis block at number 0.
func NewResolver() *Resolver {
	r := &Resolver{blocks: make(map[codec.Hash256]blockEntry)}
	r.blocks[genesisHash] = blockEntry{
		header:   codec.BlockHeader{Hash: genesisHash, BlockNumber: 0},
		numbered: true,
	}
	r.hashes = []codec.Hash256{genesisHash}
	return r
}

// AddWithoutCalc records a header without attempting to assign it a
// block number. A header already known is left untouched: the first
// header recorded for a hash wins, since ParseBlock always derives the
// same hash from the same bytes.
func (r *Resolver) AddWithoutCalc(h codec.BlockHeader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocks[h.Hash]; ok {
		return
	}
	r.blocks[h.Hash] = blockEntry{header: h}
}

// CalcBlockchain tries to assign block numbers to every unnumbered header
// on the ancestry path ending at lastHash, walking prev_hash pointers
// until it reaches an already-numbered ancestor. It returns the highest
// block number reached, or 0 if the walk hits a hash this resolver has
// never seen (a dangling parent) or a same-height fork it loses: nothing
// is numbered in either case.
func (r *Resolver) CalcBlockchain(lastHash codec.Hash256) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	number, _ := r.calcBlockchainLocked(lastHash)
	return number
}

// calcBlockchainLocked walks pending ancestors back to a numbered one and
// numbers them forward. A pending hash that would take a slot already
// held by a different, already-numbered hash is a same-height fork
// collision: winsLocked's smaller-hash tie-break decides whether it
// displaces the current occupant (demoting the occupant, and anything
// numbered on top of it, back to Pending) or stays Pending itself. The
// second return value reports whether lastHash itself ended up numbered.
func (r *Resolver) calcBlockchainLocked(lastHash codec.Hash256) (uint64, bool) {
	var pending []codec.Hash256
	cur := lastHash
	for {
		entry, ok := r.blocks[cur]
		if !ok {
			return 0, false // dangling parent: nothing gets numbered
		}
		if entry.numbered {
			break
		}
		pending = append(pending, cur)
		cur = entry.header.PrevHash
	}

	baseEntry := r.blocks[cur]
	number := baseEntry.header.BlockNumber

	for i := len(pending) - 1; i >= 0; i-- {
		number++
		hash := pending[i]
		entry := r.blocks[hash]
		entry.header.BlockNumber = number

		if uint64(len(r.hashes)) > number {
			if !r.winsLocked(entry.header.Metadata()) {
				return 0, false
			}
			r.demoteFromLocked(number)
		}

		entry.numbered = true
		r.blocks[hash] = entry
		r.hashes = append(r.hashes, hash)
	}
	return number, true
}

// demoteFromLocked un-numbers every hash occupying number and beyond,
// used when a winning fork candidate displaces the current occupant of
// its slot.
func (r *Resolver) demoteFromLocked(number uint64) {
	for i := uint64(len(r.hashes)); i > number; i-- {
		h := r.hashes[i-1]
		entry := r.blocks[h]
		entry.numbered = false
		r.blocks[h] = entry
	}
	r.hashes = r.hashes[:number]
}

// AddBlock records h and attempts to extend the numbered chain through
// it. A dangling parent rolls h back entirely so a later retry starts
// clean. A header that loses a same-height fork tie-break is kept in
// blocks as Pending rather than rolled back, so a later RemoveBlock of
// the winner (e.g. a validate-mode rejection) can still recover it.
func (r *Resolver) AddBlock(h codec.BlockHeader) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.blocks[h.Hash]; ok && entry.numbered {
		return entry.header.BlockNumber, nil
	}
	if _, ok := r.blocks[h.Hash]; !ok {
		r.blocks[h.Hash] = blockEntry{header: h}
	}
	number, numbered := r.calcBlockchainLocked(h.Hash)
	if !numbered {
		if _, known := r.blocks[h.PrevHash]; !known {
			r.removeBlockLocked(h.Hash)
			return 0, xerr.New(xerr.NotFound, "chain: parent not yet known")
		}
		return 0, xerr.New(xerr.NotFound, "chain: a competing header already holds this block number; left pending")
	}
	return number, nil
}

// RemoveBlock discards a header entirely, used to roll back a block that
// failed validation after being tentatively added.
func (r *Resolver) RemoveBlock(hash codec.Hash256) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeBlockLocked(hash)
}

func (r *Resolver) removeBlockLocked(hash codec.Hash256) {
	entry, ok := r.blocks[hash]
	if !ok {
		return
	}
	if entry.numbered {
		if int(entry.header.BlockNumber) < len(r.hashes) && r.hashes[entry.header.BlockNumber] == hash {
			r.hashes = r.hashes[:entry.header.BlockNumber]
		}
	}
	delete(r.blocks, hash)
}

// GetBlockMetaByHash fetches the metadata recorded for hash, ok == false
// if unknown.
func (r *Resolver) GetBlockMetaByHash(hash codec.Hash256) (codec.BlocksMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.blocks[hash]
	return entry.header.Metadata(), ok
}

// GetBlockByHash fetches the full header recorded for hash, regardless of
// whether it has been numbered onto the canonical chain.
func (r *Resolver) GetBlockByHash(hash codec.Hash256) (codec.BlockHeader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.blocks[hash]
	return entry.header, ok
}

// GetBlockByNumber fetches the canonical header at a block number.
func (r *Resolver) GetBlockByNumber(number uint64) (codec.BlockHeader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if number >= uint64(len(r.hashes)) {
		return codec.BlockHeader{}, false
	}
	entry, ok := r.blocks[r.hashes[number]]
	return entry.header, ok
}

// GetLastBlock fetches the canonical chain's tip header.
func (r *Resolver) GetLastBlock() (codec.BlockHeader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.blocks[r.hashes[len(r.hashes)-1]]
	return entry.header, ok
}

// GetHashByNumber fetches the canonical hash at a block number.
func (r *Resolver) GetHashByNumber(number uint64) (codec.Hash256, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if number >= uint64(len(r.hashes)) {
		return codec.Hash256{}, false
	}
	return r.hashes[number], true
}

// GetLastHash returns the canonical chain's tip hash.
func (r *Resolver) GetLastHash() codec.Hash256 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hashes[len(r.hashes)-1]
}

// CountBlocks returns the number of blocks in the canonical chain, not
// counting the genesis sentinel.
func (r *Resolver) CountBlocks() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.hashes) - 1)
}

// Wins reports whether candidate should replace the currently-canonical
// header at its block number. This is the same smaller-hash tie-break
// calcBlockchainLocked applies automatically when two headers contend
// for the same slot inside AddBlock; it is exported so a caller can ask
// the same question about a header it hasn't (or won't) add.
func (r *Resolver) Wins(candidate codec.BlocksMetadata) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.winsLocked(candidate)
}

func (r *Resolver) winsLocked(candidate codec.BlocksMetadata) bool {
	if candidate.BlockNumber >= uint64(len(r.hashes)) {
		return true
	}
	current, ok := r.blocks[r.hashes[candidate.BlockNumber]]
	if !ok {
		return true
	}
	return candidate.Wins(current.header.Metadata())
}
