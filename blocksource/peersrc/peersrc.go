// Package peersrc implements blocksource.Source against a set of remote
// peers reachable over the same HTTP query surface this node itself
// serves: head discovery by broadcast, batched header prefetch, and
// dump fetch with a ranged-fetch fallback for oversized blocks.
package peersrc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"
	"go.uber.org/zap"

	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/fanout"
	"torrentnode.dev/indexer/sig"
	"torrentnode.dev/indexer/xerr"
)

// Tuning constants mirrored from the original advanced-prefetch engine.
const (
	maxAdvanced         = 64
	batchSize           = 16
	rangedFetchMinBytes = 100_000
	rangedMinSegment    = 1000
	countAdvancedBlocks = 8
)

// Source implements blocksource.Source against a pool of peer nodes.
type Source struct {
	peers   []fanout.Peer
	engine  *fanout.Engine
	log     *zap.Logger

	knownHead uint64
	nextBlock uint64

	// preferredPeers is the set of peers that reported the winning
	// count_blocks in the most recent head-discovery broadcast, kept so
	// dump fetches can favor peers known to actually hold the head.
	preferredPeers []string

	cachedHeaders map[uint64]codec.BlockHeader
	cachedDumps   map[codec.Hash256][]byte
}

// New builds a Source over peer base URLs (name -> HTTP root), e.g.
// {"peer-a": "http://10.0.0.1:8080"}.
func New(peerURLs map[string]string, maxRetries int, log *zap.Logger) *Source {
	peers := make([]fanout.Peer, 0, len(peerURLs))
	names := make([]string, 0, len(peerURLs))
	for name := range peerURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		peers = append(peers, newHTTPPeer(name, peerURLs[name]))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Source{
		peers:         peers,
		engine:        fanout.NewEngine(peers, maxRetries, log),
		log:           log,
		cachedHeaders: make(map[uint64]codec.BlockHeader),
		cachedDumps:   make(map[codec.Hash256][]byte),
	}
}

func (s *Source) Initialize(ctx context.Context) error {
	if len(s.peers) == 0 {
		return xerr.New(xerr.Protocol, "peersrc: no peers configured")
	}
	return nil
}

// DoProcess broadcasts get-count-blocks to every peer, keeps the
// highest reported count, and sets up the cursor for the next fetch.
func (s *Source) DoProcess(ctx context.Context, countBlocks uint64, lastHash codec.Hash256) (bool, uint64, error) {
	responses := s.engine.Broadcast(ctx, "get-count-blocks", nil, 10_000_000_000)
	var best uint64
	var winners []string
	for _, r := range responses {
		if r.Err != nil {
			continue
		}
		var parsed blocksource.CountBlocksResponse
		if err := json.Unmarshal(r.Data, &parsed); err != nil {
			continue
		}
		switch {
		case parsed.CountBlocks > best:
			best = parsed.CountBlocks
			winners = []string{r.Peer}
		case parsed.CountBlocks == best && best > 0:
			winners = append(winners, r.Peer)
		}
	}
	if best == 0 {
		return false, countBlocks, xerr.New(xerr.Protocol, "peersrc: no peer answered get-count-blocks")
	}

	s.preferredPeers = winners
	s.knownHead = best
	if s.nextBlock == 0 {
		s.nextBlock = countBlocks + 1
	}
	more := s.nextBlock <= best
	s.log.Debug("peersrc: head discovery",
		zap.Uint64("head", best), zap.Strings("winners", winners))
	return more, best, nil
}

func (s *Source) KnownBlock() uint64 {
	return s.knownHead
}

// Next returns the next block in ascending order, refilling the
// advanced-header cache in batches and fetching each dump individually.
func (s *Source) Next(ctx context.Context) (codec.BlockHeader, []byte, bool, error) {
	if s.nextBlock == 0 || s.nextBlock > s.knownHead {
		return codec.BlockHeader{}, nil, false, nil
	}

	header, err := s.headerForBlock(ctx, s.nextBlock)
	if err != nil {
		return codec.BlockHeader{}, nil, false, err
	}

	dump, err := s.dumpForBlock(ctx, header)
	if err != nil {
		return codec.BlockHeader{}, nil, false, err
	}

	s.nextBlock++
	return header, dump, true, nil
}

// headerForBlock returns the header for n, refilling the advanced cache
// from peers in batches of batchSize if n isn't already cached.
func (s *Source) headerForBlock(ctx context.Context, n uint64) (codec.BlockHeader, error) {
	if h, ok := s.cachedHeaders[n]; ok {
		delete(s.cachedHeaders, n)
		return h, nil
	}

	k := s.knownHead - n + 1
	if k > maxAdvanced {
		k = maxAdvanced
	}
	if k == 0 {
		return codec.BlockHeader{}, xerr.New(xerr.NotFound, "peersrc: no more blocks known")
	}

	for begin := n; begin < n+k; begin += batchSize {
		count := batchSize
		if remaining := n + k - begin; uint64(count) > remaining {
			count = int(remaining)
		}
		headers, err := s.fetchHeaderBatch(ctx, begin, uint64(count))
		if err != nil {
			return codec.BlockHeader{}, err
		}
		for i, h := range headers {
			expected := begin + uint64(i)
			if h.BlockNumber != expected {
				return codec.BlockHeader{}, xerr.New(xerr.Protocol, fmt.Sprintf("peersrc: batch returned block %d at index expecting %d", h.BlockNumber, expected))
			}
			s.cachedHeaders[expected] = h
		}
	}

	h, ok := s.cachedHeaders[n]
	if !ok {
		return codec.BlockHeader{}, xerr.New(xerr.Protocol, "peersrc: prefetch did not populate requested block")
	}
	delete(s.cachedHeaders, n)
	return h, nil
}

// fetchHeaderBatch issues a single get-blocks (count>1) or
// get-block-by-number (count==1) request as a one-segment fan-out fetch:
// one peer answers it, and a failed request is re-queued for another peer.
func (s *Source) fetchHeaderBatch(ctx context.Context, begin, count uint64) ([]codec.BlockHeader, error) {
	if count == 1 {
		body, _ := json.Marshal(blocksource.BlockByNumberRequest{Number: begin, Type: "simple"})
		raw, err := s.engine.FetchSegments(ctx, 1, func(fanout.Segment) (string, []byte) {
			return "get-block-by-number", body
		})
		if err != nil {
			return nil, err
		}
		var wire HeaderWireResponse
		if err := json.Unmarshal(raw[0].Data, &wire); err != nil {
			return nil, xerr.Wrap(xerr.Protocol, "peersrc: decode get-block-by-number", err)
		}
		h, err := decodeHeaderWire(wire.Header)
		if err != nil {
			return nil, err
		}
		return []codec.BlockHeader{h}, nil
	}

	body, _ := json.Marshal(blocksource.BlocksRangeRequest{BeginBlock: begin, CountBlocks: count, Direction: "forward", Type: "simple"})
	raw, err := s.engine.FetchSegments(ctx, 1, func(fanout.Segment) (string, []byte) {
		return "get-blocks", body
	})
	if err != nil {
		return nil, err
	}
	var resp blocksource.BlocksRangeResponse
	if err := json.Unmarshal(raw[0].Data, &resp); err != nil {
		return nil, xerr.Wrap(xerr.Protocol, "peersrc: decode get-blocks", err)
	}
	out := make([]codec.BlockHeader, 0, len(resp.Headers))
	for _, w := range resp.Headers {
		h, err := decodeHeaderWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// HeaderWireResponse wraps a single-header response envelope.
type HeaderWireResponse struct {
	Header blocksource.HeaderWire `json:"header"`
}

func decodeHeaderWire(w blocksource.HeaderWire) (codec.BlockHeader, error) {
	hashRaw, err := hex.DecodeString(w.Hash)
	if err != nil || len(hashRaw) != 32 {
		return codec.BlockHeader{}, xerr.New(xerr.Protocol, "peersrc: malformed header hash")
	}
	prevRaw, err := hex.DecodeString(w.PrevHash)
	if err != nil || len(prevRaw) != 32 {
		return codec.BlockHeader{}, xerr.New(xerr.Protocol, "peersrc: malformed header prevHash")
	}
	var hash, prev codec.Hash256
	copy(hash[:], hashRaw)
	copy(prev[:], prevRaw)
	return codec.BlockHeader{
		BlockNumber: w.Number,
		Hash:        hash,
		PrevHash:    prev,
		Timestamp:   w.Timestamp,
		BlockSize:   w.BlockSize,
		BlockType:   codec.BlockType(w.BlockType),
		FilePos:     codec.FilePosition{FileName: w.FileName, Offset: w.FileOff},
	}, nil
}

// dumpForBlock returns the dump bytes for header, consulting and
// populating cachedDumps, using a ranged fetch for oversized blocks and
// a batched fetch otherwise, then verifying a signed envelope if one
// comes back.
func (s *Source) dumpForBlock(ctx context.Context, header codec.BlockHeader) ([]byte, error) {
	if dump, ok := s.cachedDumps[header.Hash]; ok {
		delete(s.cachedDumps, header.Hash)
		return dump, nil
	}

	var raw []byte
	var err error
	if header.BlockSize > rangedFetchMinBytes {
		raw, err = s.fetchDumpRanged(ctx, header)
	} else {
		raw, err = s.fetchDumpBatch(ctx, header)
	}
	if err != nil {
		return nil, err
	}

	blockBytes, err := s.verifyIfSigned(raw)
	if err != nil {
		return nil, err
	}

	header.FilePos.FileName = filepath.Base(header.FilePos.FileName)
	return blockBytes, nil
}

// fetchDumpRanged fetches an oversized block's dump as byte-range
// segments via the fan-out engine, each segment addressed with
// fromByte/toByte and never smaller than rangedMinSegment bytes.
func (s *Source) fetchDumpRanged(ctx context.Context, header codec.BlockHeader) ([]byte, error) {
	parts := len(s.peers)
	if max := int(header.BlockSize / rangedMinSegment); max < parts {
		if max < 1 {
			max = 1
		}
		parts = max
	}

	hashHex := hex.EncodeToString(header.Hash[:])
	results, err := s.engine.FetchSegmentsN(ctx, header.BlockSize, parts, func(seg fanout.Segment) (string, []byte) {
		body, _ := json.Marshal(blocksource.DumpRequest{Hash: hashHex, FromByte: seg.FromByte, ToByte: seg.ToByte})
		return "get-dump-block-by-hash", body
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Segment.FromByte < results[j].Segment.FromByte })
	out := make([]byte, 0, header.BlockSize)
	for _, r := range results {
		out = append(out, r.Data...)
	}
	return out, nil
}

// fetchDumpBatch fetches header's dump together with as many of the
// already-cached, still-small, immediately-following headers as fit in
// one get-dumps-blocks-by-hash request, stashing the look-ahead dumps
// in cachedDumps so their later Next() calls are free.
func (s *Source) fetchDumpBatch(ctx context.Context, header codec.BlockHeader) ([]byte, error) {
	hashes := []codec.Hash256{header.Hash}
	for n := header.BlockNumber + 1; len(hashes) < batchSize; n++ {
		next, ok := s.cachedHeaders[n]
		if !ok || next.BlockSize > rangedFetchMinBytes {
			break
		}
		hashes = append(hashes, next.Hash)
	}

	hexHashes := make([]string, len(hashes))
	for i, h := range hashes {
		hexHashes[i] = hex.EncodeToString(h[:])
	}
	body, _ := json.Marshal(blocksource.DumpsRequest{Hashes: hexHashes, Compress: true})
	raw, err := s.engine.FetchSegments(ctx, 1, func(fanout.Segment) (string, []byte) {
		return "get-dumps-blocks-by-hash", body
	})
	if err != nil {
		return nil, err
	}

	payload, err := decompressIfNeeded(raw[0].Data)
	if err != nil {
		return nil, err
	}
	parts, err := codec.ReadBigEndianStrings(payload)
	if err != nil {
		return nil, xerr.Wrap(xerr.Protocol, "peersrc: decode get-dumps-blocks-by-hash", err)
	}
	if len(parts) != len(hashes) {
		return nil, xerr.New(xerr.Protocol, "peersrc: get-dumps-blocks-by-hash returned a different count than requested")
	}

	for i := 1; i < len(parts); i++ {
		s.cachedDumps[hashes[i]] = parts[i]
	}
	return parts[0], nil
}

// decompressIfNeeded inflates a DEFLATE-compressed dump payload; a
// payload that doesn't decompress cleanly is assumed to already be raw.
func decompressIfNeeded(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return data, nil
	}
	return out, nil
}

// verifyIfSigned checks whether raw is a SignedDumpEnvelope and, if so,
// verifies the embedded signature before returning the plain block
// bytes; a non-envelope payload passes through untouched.
func (s *Source) verifyIfSigned(raw []byte) ([]byte, error) {
	env, err := codec.ParseSignedDumpEnvelope(raw)
	if err != nil {
		return raw, nil
	}
	hash := codec.SingleSHA256(env.BlockBytes)
	if err := sig.VerifyHash(hash, env.Sign, env.PubKey); err != nil {
		return nil, err
	}
	claimed := sig.AddressFromPubKey(env.PubKey)
	if hex.EncodeToString(claimed.Bytes()) != hex.EncodeToString(env.Address) {
		return nil, xerr.New(xerr.Integrity, "peersrc: signed dump address does not match pubkey")
	}
	return env.BlockBytes, nil
}

// GetExistingBlock re-fetches a single already-known block by hash,
// bypassing the sequential cursor. A dump still held in cachedDumps is
// served from there (and dropped from it) instead of being re-fetched.
func (s *Source) GetExistingBlock(ctx context.Context, h codec.BlockHeader) (codec.BlockHeader, []byte, error) {
	dump, err := s.dumpForBlock(ctx, h)
	if err != nil {
		return codec.BlockHeader{}, nil, err
	}
	off := 0
	header, err := codec.ParseBlock(dump, &off, h.FilePos)
	if err != nil {
		return codec.BlockHeader{}, nil, err
	}
	header.BlockNumber = h.BlockNumber
	return header, dump, nil
}

// VerifyAdvanced runs countAdvancedBlocks concurrent verify slots over
// headers, verifying each transaction's signature and the block's own
// sender signature. Errors are captured per slot and returned in the
// same order the headers were given, preserving ordering the way the
// original engine's slot-based verifier does.
func VerifyAdvanced(headers []codec.BlockHeader) []error {
	errs := make([]error, len(headers))
	sem := make(chan struct{}, countAdvancedBlocks)
	done := make(chan struct{}, len(headers))
	for i, h := range headers {
		sem <- struct{}{}
		go func(i int, h codec.BlockHeader) {
			defer func() { <-sem; done <- struct{}{} }()
			errs[i] = verifyOne(h)
		}(i, h)
	}
	for range headers {
		<-done
	}
	return errs
}

func verifyOne(h codec.BlockHeader) error {
	if err := sig.VerifyBlockSender(h); err != nil {
		return err
	}
	for _, tx := range h.Txs {
		if err := sig.VerifyTransaction(tx); err != nil {
			return err
		}
	}
	return nil
}
