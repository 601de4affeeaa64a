package kvstore

import (
	"path/filepath"
	"testing"

	"torrentnode.dev/indexer/codec"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBlock(number uint64, seed string) codec.BlockHeader {
	to, _ := codec.NewAddressFromBytes(make([]byte, codec.AddressSize), false)
	return codec.BlockHeader{
		Timestamp:   1,
		BlockType:   codec.BlockTypeSimple,
		Hash:        codec.DoubleSHA256([]byte(seed)),
		PrevHash:    codec.DoubleSHA256([]byte(seed + "-prev")),
		BlockNumber: number,
		Txs: []codec.TransactionInfo{
			{Hash: codec.DoubleSHA256([]byte(seed + "-tx")), ToAddress: to, Value: 5},
		},
	}
}

func TestPutAndGetBlockByHash(t *testing.T) {
	s := openTestStore(t)
	blk := sampleBlock(1, "blk-a")
	if err := s.PutBlock(blk); err != nil {
		t.Fatalf("PutBlock: %v", err)
	}
	got, err := s.GetBlockByHash(blk.Hash)
	if err != nil {
		t.Fatalf("GetBlockByHash: %v", err)
	}
	if got.BlockNumber != blk.BlockNumber || len(got.Txs) != 1 {
		t.Fatalf("unexpected block: %+v", got)
	}
}

func TestGetBlockByHashNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetBlockByHash(codec.DoubleSHA256([]byte("missing")))
	if err == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestBlockMetaForkCandidates(t *testing.T) {
	s := openTestStore(t)
	a := sampleBlock(10, "a").Metadata()
	b := sampleBlock(10, "b").Metadata()
	if err := s.PutBlockMeta(a); err != nil {
		t.Fatalf("PutBlockMeta: %v", err)
	}
	if err := s.PutBlockMeta(b); err != nil {
		t.Fatalf("PutBlockMeta: %v", err)
	}
	list, err := s.ListBlockMeta(10)
	if err != nil {
		t.Fatalf("ListBlockMeta: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(list))
	}
}

func TestMainBlockInfoRoundTrip(t *testing.T) {
	s := openTestStore(t)
	m := codec.MainBlockInfo{BlockNumber: 3, BlockHash: codec.DoubleSHA256([]byte("m")), CountVal: 1}
	if err := s.PutMainBlockInfo(m); err != nil {
		t.Fatalf("PutMainBlockInfo: %v", err)
	}
	got, err := s.GetMainBlockInfo(3)
	if err != nil {
		t.Fatalf("GetMainBlockInfo: %v", err)
	}
	if got != m {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, m)
	}
	n, ok, err := s.LastMainBlockNumber()
	if err != nil || !ok || n != 3 {
		t.Fatalf("LastMainBlockNumber: n=%d ok=%v err=%v", n, ok, err)
	}
}

func TestFileInfoRoundTrip(t *testing.T) {
	s := openTestStore(t)
	info := codec.FileInfo{FilePos: codec.FilePosition{FileName: "blk1.dat", Offset: 77}}
	if err := s.PutFileInfo("blk1.dat", info); err != nil {
		t.Fatalf("PutFileInfo: %v", err)
	}
	got, ok, err := s.GetFileInfo("blk1.dat")
	if err != nil || !ok {
		t.Fatalf("GetFileInfo: ok=%v err=%v", ok, err)
	}
	if got.FilePos.Offset != 77 {
		t.Fatalf("offset mismatch: %+v", got)
	}
	if _, ok, err := s.GetFileInfo("missing.dat"); ok || err != nil {
		t.Fatalf("expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func TestNodeDirectory(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetNodeName("10.0.0.1:9090", "alpha"); err != nil {
		t.Fatalf("SetNodeName: %v", err)
	}
	if err := s.SetNodeName("10.0.0.2:9090", "beta"); err != nil {
		t.Fatalf("SetNodeName: %v", err)
	}
	nodes, err := s.AllNodes()
	if err != nil {
		t.Fatalf("AllNodes: %v", err)
	}
	if nodes.Entries["10.0.0.1:9090"] != "alpha" || nodes.Entries["10.0.0.2:9090"] != "beta" {
		t.Fatalf("unexpected directory: %+v", nodes.Entries)
	}
}

func TestStateAndModulesAndVersion(t *testing.T) {
	s := openTestStore(t)
	if err := s.PutState("checkpoint", []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutState: %v", err)
	}
	v, ok, err := s.GetState("checkpoint")
	if err != nil || !ok || string(v) != "\x01\x02\x03" {
		t.Fatalf("GetState: v=%v ok=%v err=%v", v, ok, err)
	}

	if err := s.PutModules(0b101); err != nil {
		t.Fatalf("PutModules: %v", err)
	}
	bits, err := s.GetModules()
	if err != nil || bits != 0b101 {
		t.Fatalf("GetModules: bits=%d err=%v", bits, err)
	}

	if err := s.SetDBVersion(2); err != nil {
		t.Fatalf("SetDBVersion: %v", err)
	}
	dv, err := s.GetDBVersion()
	if err != nil || dv != 2 {
		t.Fatalf("GetDBVersion: dv=%d err=%v", dv, err)
	}
}

func TestScanBlocksOrderingAndPagination(t *testing.T) {
	s := openTestStore(t)
	for _, seed := range []string{"a", "b", "c", "d"} {
		if err := s.PutBlock(sampleBlock(1, seed)); err != nil {
			t.Fatalf("PutBlock(%s): %v", seed, err)
		}
	}
	all, err := s.ScanBlocks(nil, nil, 0, 0)
	if err != nil {
		t.Fatalf("ScanBlocks: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if bytesCompare(all[i-1].Hash.Bytes(), all[i].Hash.Bytes()) > 0 {
			t.Fatalf("scan not in key order at index %d", i)
		}
	}
	page, err := s.ScanBlocks(nil, nil, 1, 2)
	if err != nil {
		t.Fatalf("ScanBlocks with pagination: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	if page[0].Hash != all[1].Hash {
		t.Fatalf("pagination skip offset mismatch")
	}
}

func TestWriteBatchIsAtomic(t *testing.T) {
	s := openTestStore(t)
	blk := sampleBlock(5, "batch")
	meta := blk.Metadata()
	main := codec.MainBlockInfo{BlockNumber: blk.BlockNumber, BlockHash: blk.Hash, CountVal: 1}

	err := s.WriteBatch(func(b *Batch) error {
		if err := b.PutBlock(blk); err != nil {
			return err
		}
		if err := b.PutBlockMeta(meta); err != nil {
			return err
		}
		return b.PutMainBlockInfo(main)
	})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	if _, err := s.GetBlockByHash(blk.Hash); err != nil {
		t.Fatalf("GetBlockByHash after batch: %v", err)
	}
	if list, err := s.ListBlockMeta(blk.BlockNumber); err != nil || len(list) != 1 {
		t.Fatalf("ListBlockMeta after batch: %v %v", list, err)
	}
	if got, err := s.GetMainBlockInfo(blk.BlockNumber); err != nil || got != main {
		t.Fatalf("GetMainBlockInfo after batch: %+v %v", got, err)
	}
}
