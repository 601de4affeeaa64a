package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/klauspost/compress/flate"

	"torrentnode.dev/indexer/blocksource"
	"torrentnode.dev/indexer/codec"
	"torrentnode.dev/indexer/xerr"
)

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, xerr.Wrap(xerr.User, "api: read request body", err)
	}
	return body, nil
}

// decodeEnvelope reads the id/version/pretty fields a body may carry
// alongside its endpoint-specific params. Malformed envelope fields are
// tolerated rather than rejected; they never gate the real params decode.
func decodeEnvelope(body []byte) envelope {
	var env envelope
	_ = json.Unmarshal(body, &env)
	return env
}

func parseHashHex(s string) (codec.Hash256, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return codec.Hash256{}, xerr.New(xerr.User, "api: malformed hash")
	}
	var h codec.Hash256
	copy(h[:], raw)
	return h, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	writeJSON(w, http.StatusOK, statusResult{Result: "ok", Version: s.version, GitHash: s.gitHash}, env.Pretty)
}

func (s *Server) handleCountBlocks(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	count := s.resolver.CountBlocks()
	if env.Version == "v2" {
		writeJSON(w, http.StatusOK, map[string]string{"count_blocks": formatUint(count)}, env.Pretty)
		return
	}
	writeJSON(w, http.StatusOK, blocksource.CountBlocksResponse{CountBlocks: count}, env.Pretty)
}

func (s *Server) handleBlockByHash(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	var req blockByHashRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed get-block-by-hash request", err))
		return
	}
	hash, err := parseHashHex(req.Hash)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}
	if req.Type == "" {
		req.Type = typeSimple
	}

	if s.headers != nil {
		if w2, ok := s.headers.byHash.Get(hash); ok {
			writeJSON(w, http.StatusOK, headerResponse{Header: w2}, env.Pretty)
			return
		}
	}

	header, ok := s.resolver.GetBlockByHash(hash)
	if !ok {
		var err error
		header, err = s.store.GetBlockByHash(hash)
		if err != nil {
			writeError(w, env.ID, err)
			return
		}
	}
	wire := projectHeader(header, req.Type)
	if s.headers != nil {
		s.headers.byHash.Add(hash, wire)
	}
	writeJSON(w, http.StatusOK, headerResponse{Header: wire}, env.Pretty)
}

func (s *Server) handleBlockByNumber(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	var req blocksource.BlockByNumberRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed get-block-by-number request", err))
		return
	}
	if req.Type == "" {
		req.Type = typeSimple
	}

	if s.headers != nil {
		if wire, ok := s.headers.byNumber.Get(req.Number); ok {
			writeJSON(w, http.StatusOK, headerResponse{Header: wire}, env.Pretty)
			return
		}
	}

	header, err := s.headerByNumber(req.Number)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}
	wire := projectHeader(header, req.Type)
	if s.headers != nil {
		s.headers.byNumber.Add(req.Number, wire)
	}
	writeJSON(w, http.StatusOK, headerResponse{Header: wire}, env.Pretty)
}

// headerResponse wraps a single projected header, the shape
// blocksource/peersrc already decodes get-block-by-number responses as.
type headerResponse struct {
	Header blocksource.HeaderWire `json:"header"`
}

// headerByNumber resolves a block number through the resolver, which
// holds the full header for every block it has ever numbered in memory
// — no gap between a block being numbered and its header becoming
// queryable. The kv store is only consulted as a startup-window
// fallback, before restoreResolver has replayed the store's headers in.
func (s *Server) headerByNumber(number uint64) (codec.BlockHeader, error) {
	if header, ok := s.resolver.GetBlockByNumber(number); ok {
		return header, nil
	}
	hash, ok := s.resolver.GetHashByNumber(number)
	if !ok {
		return codec.BlockHeader{}, xerr.New(xerr.NotFound, "api: no block at that number")
	}
	return s.store.GetBlockByHash(hash)
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	var req blocksource.BlocksRangeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed get-blocks request", err))
		return
	}
	if req.Type == "" {
		req.Type = typeSimple
	}
	if req.CountBlocks == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	numbers := blockRange(req.BeginBlock, req.CountBlocks, req.Direction)
	wires := make([]blocksource.HeaderWire, 0, len(numbers))
	for _, n := range numbers {
		header, err := s.headerByNumber(n)
		if err != nil {
			continue
		}
		wires = append(wires, projectHeader(header, req.Type))
	}

	if len(wires) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, blocksource.BlocksRangeResponse{Headers: wires}, env.Pretty)
}

// blockRange expands a beginBlock/countBlocks/direction request into the
// concrete block numbers to fetch, in the order they should be returned.
// backward never underflows past block 1.
func blockRange(begin, count uint64, direction string) []uint64 {
	out := make([]uint64, 0, count)
	if direction == "backward" {
		for i := uint64(0); i < count && begin > i; i++ {
			out = append(out, begin-i)
		}
		return out
	}
	for i := uint64(0); i < count; i++ {
		out = append(out, begin+i)
	}
	return out
}

func (s *Server) handleDumpByHash(w http.ResponseWriter, r *http.Request) {
	s.handleDump(w, r, func(req blocksource.DumpRequest) (codec.BlockHeader, error) {
		hash, err := parseHashHex(req.Hash)
		if err != nil {
			return codec.BlockHeader{}, err
		}
		return s.store.GetBlockByHash(hash)
	})
}

func (s *Server) handleDumpByNumber(w http.ResponseWriter, r *http.Request) {
	s.handleDump(w, r, func(req blocksource.DumpRequest) (codec.BlockHeader, error) {
		return s.headerByNumber(req.Number)
	})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request, resolve func(blocksource.DumpRequest) (codec.BlockHeader, error)) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	var req blocksource.DumpRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed dump request", err))
		return
	}

	header, err := resolve(req)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}
	payload, err := s.buildDumpPayload(r.Context(), header, req)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}

	if req.IsHex {
		writeJSON(w, http.StatusOK, hexDumpResult{Dump: hex.EncodeToString(payload)}, env.Pretty)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// buildDumpPayload fetches header's raw dump and applies the requested
// ranging, signing, and compression. A ranged request always returns
// exactly toByte-fromByte bytes, so it skips signing/compression (which
// would change the length); isSign and compress apply only to whole-dump
// requests, matching the only combinations blocksource/peersrc ever issues.
func (s *Server) buildDumpPayload(ctx context.Context, header codec.BlockHeader, req blocksource.DumpRequest) ([]byte, error) {
	raw, err := s.fetchDump(ctx, header)
	if err != nil {
		return nil, err
	}

	if req.ToByte > req.FromByte {
		if req.ToByte > uint64(len(raw)) {
			return nil, xerr.New(xerr.User, "api: dump range exceeds block size")
		}
		return raw[req.FromByte:req.ToByte], nil
	}

	if req.IsSign {
		raw, err = s.signDump(raw)
		if err != nil {
			return nil, err
		}
	}
	if req.Compress {
		raw = deflateBytes(raw)
	}
	return raw, nil
}

// fetchDump consults the cache warmer (if configured) before falling
// back to the archive source's recorded file position; a server with
// neither configured answers NotFound.
func (s *Server) fetchDump(ctx context.Context, header codec.BlockHeader) ([]byte, error) {
	if s.dumps != nil {
		if dump, ok := s.dumps.GetDump(header.Hash); ok {
			return dump, nil
		}
	}
	if s.archive != nil {
		_, dump, err := s.archive.GetExistingBlock(ctx, header)
		if err != nil {
			return nil, err
		}
		return dump, nil
	}
	return nil, xerr.New(xerr.NotFound, "api: no dump source configured for this block")
}

func (s *Server) signDump(raw []byte) ([]byte, error) {
	hash := codec.SingleSHA256(raw)
	env := codec.SignedDumpEnvelope{
		BlockBytes: raw,
		Sign:       s.signer.SignHash(hash),
		PubKey:     s.signer.PubKeyBytes(),
		Address:    s.signer.Address().Bytes(),
	}
	return env.Serialize(), nil
}

func deflateBytes(raw []byte) []byte {
	var buf bytes.Buffer
	fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
	_, _ = fw.Write(raw)
	_ = fw.Close()
	return buf.Bytes()
}

func (s *Server) handleDumpsByHash(w http.ResponseWriter, r *http.Request) {
	s.handleDumps(w, r, func(req blocksource.DumpsRequest) ([]codec.BlockHeader, error) {
		headers := make([]codec.BlockHeader, 0, len(req.Hashes))
		for _, hx := range req.Hashes {
			hash, err := parseHashHex(hx)
			if err != nil {
				return nil, err
			}
			h, err := s.store.GetBlockByHash(hash)
			if err != nil {
				return nil, err
			}
			headers = append(headers, h)
		}
		return headers, nil
	})
}

func (s *Server) handleDumpsByNumber(w http.ResponseWriter, r *http.Request) {
	s.handleDumps(w, r, func(req blocksource.DumpsRequest) ([]codec.BlockHeader, error) {
		headers := make([]codec.BlockHeader, 0, len(req.Numbers))
		for _, n := range req.Numbers {
			h, err := s.headerByNumber(n)
			if err != nil {
				return nil, err
			}
			headers = append(headers, h)
		}
		return headers, nil
	})
}

func (s *Server) handleDumps(w http.ResponseWriter, r *http.Request, resolve func(blocksource.DumpsRequest) ([]codec.BlockHeader, error)) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)
	var req blocksource.DumpsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed dumps request", err))
		return
	}

	headers, err := resolve(req)
	if err != nil {
		writeError(w, env.ID, err)
		return
	}

	parts := make([][]byte, 0, len(headers))
	for _, h := range headers {
		raw, err := s.fetchDump(r.Context(), h)
		if err != nil {
			writeError(w, env.ID, err)
			return
		}
		if req.IsSign {
			raw, err = s.signDump(raw)
			if err != nil {
				writeError(w, env.ID, err)
				return
			}
		}
		parts = append(parts, raw)
	}

	payload := codec.WriteBigEndianStrings(parts)
	if req.Compress {
		payload = deflateBytes(payload)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleSignTestString(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, nil, err)
		return
	}
	env := decodeEnvelope(body)

	var req signTestStringRequest
	data := body
	if err := json.Unmarshal(body, &req); err == nil && req.Data != "" {
		raw, err := hex.DecodeString(req.Data)
		if err != nil {
			writeError(w, env.ID, xerr.Wrap(xerr.User, "api: malformed sign-test-string data", err))
			return
		}
		data = raw
	}

	sign := s.signer.SignString(string(data))
	writeJSON(w, http.StatusOK, signTestStringResult{
		Sign:    hex.EncodeToString(sign),
		PubKey:  hex.EncodeToString(s.signer.PubKeyBytes()),
		Address: s.signer.Address().Hex(),
	}, env.Pretty)
}

func formatUint(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
